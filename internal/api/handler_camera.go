package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetCameraPreview handles GET /api/accounts/:account_id/cameras/:camera_id/preview.
// The image is fetched through the coordinator-owned upstream session.
func (h *Handler) GetCameraPreview(c *gin.Context) {
	body, contentType, err := h.coord.FetchCameraPreview(
		c.Request.Context(),
		c.Param("account_id"),
		c.Param("camera_id"),
	)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if contentType == "" {
		contentType = "image/jpeg"
	}
	c.Data(http.StatusOK, contentType, body)
}
