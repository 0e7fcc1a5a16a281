package model

import "time"

// DeviceProfile is the single persisted row holding the stable
// per-install app instance ID and the cached token pair. Tokens are a
// cache only; they are re-derived via authentication when stale.
type DeviceProfile struct {
	ID            uint   `gorm:"primaryKey"`
	AppInstanceID string `gorm:"size:32;not null"`
	AccessToken   string
	RefreshToken  string
	UpdatedAt     time.Time
}
