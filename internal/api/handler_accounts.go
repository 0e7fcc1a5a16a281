package api

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"lsr-dashboard-backend/internal/snapshot"
)

// accountSummary is the flattened per-account structure for the list
// endpoint: counters and status fields a dashboard tile needs.
type accountSummary struct {
	ID                    string                 `json:"id"`
	PersonalAccountNumber string                 `json:"personalAccountNumber"`
	Address               string                 `json:"address"`
	PaymentStatus         string                 `json:"paymentStatus"`
	NotificationCount     int                    `json:"notificationCount"`
	MeterCount            int                    `json:"meterCount"`
	CameraCount           int                    `json:"cameraCount"`
	PaymentDue            float64                `json:"paymentDue"`
	Requests              snapshot.RequestCounts `json:"requests"`
}

// GetAccounts handles the GET /api/accounts request.
func (h *Handler) GetAccounts(c *gin.Context) {
	snap := h.coord.Snapshot()

	summaries := make([]accountSummary, 0, len(snap))
	for id, account := range snap {
		summary := accountSummary{
			ID:                    id,
			PersonalAccountNumber: account.PersonalAccountNumber,
			Address:               account.Address,
			PaymentStatus:         account.PaymentStatus,
			NotificationCount:     account.NotificationCount,
			MeterCount:            len(account.Meters),
			CameraCount:           len(account.Cameras),
			Requests:              account.CountRequests(),
		}
		if len(account.Accruals) > 0 {
			summary.PaymentDue = account.Accruals[0].Amount
		}
		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })
	c.JSON(http.StatusOK, summaries)
}

// GetAccount handles the GET /api/accounts/:account_id request. A
// missing account means "entity unavailable", not an error.
func (h *Handler) GetAccount(c *gin.Context) {
	account, ok := h.coord.Snapshot()[c.Param("account_id")]
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "account unavailable"})
		return
	}
	c.JSON(http.StatusOK, account)
}

// GetAccountMeters handles the GET /api/accounts/:account_id/meters request.
func (h *Handler) GetAccountMeters(c *gin.Context) {
	account, ok := h.coord.Snapshot()[c.Param("account_id")]
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "account unavailable"})
		return
	}
	c.JSON(http.StatusOK, account.Meters)
}
