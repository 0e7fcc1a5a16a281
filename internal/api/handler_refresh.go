package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"lsr-dashboard-backend/internal/coordinator"
)

// PostRefresh handles POST /api/refresh. The optional mode query
// parameter selects a full refresh (default) or a sensors-only one that
// skips camera and pass lookups.
func (h *Handler) PostRefresh(c *gin.Context) {
	mode := coordinator.ModeFull
	switch c.Query("mode") {
	case "", "full":
	case "sensors":
		mode = coordinator.ModeSensorsOnly
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "mode must be 'full' or 'sensors'"})
		return
	}

	if err := h.coord.Refresh(c.Request.Context(), mode); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, coordinator.ErrAuthFailed) {
			status = http.StatusUnauthorized
		}
		c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"accounts": len(h.coord.Snapshot())})
}
