package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"lsr-dashboard-backend/internal/model"
)

func newTestStore(t *testing.T) (Store, *gorm.DB) {
	testDB, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := testDB.DB()
		sqlDB.Close()
	})

	err = testDB.AutoMigrate(&model.DeviceProfile{}, &model.AccountRef{}, &model.PushSubscription{})
	require.NoError(t, err)

	return NewGormStore(testDB), testDB
}

func TestDeviceProfile(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	profile, err := s.DeviceProfile(ctx)
	require.NoError(t, err)
	assert.Len(t, profile.AppInstanceID, 16, "app instance ID must be 16 hex characters")

	// A second load must return the same identity, not mint a new one.
	again, err := s.DeviceProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, profile.AppInstanceID, again.AppInstanceID)
}

func TestSaveTokens(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.DeviceProfile(ctx)
	require.NoError(t, err)

	require.NoError(t, s.SaveTokens(ctx, "access-1", "refresh-1"))

	profile, err := s.DeviceProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-1", profile.AccessToken)
	assert.Equal(t, "refresh-1", profile.RefreshToken)
}

func TestUpsertAccounts(t *testing.T) {
	s, testDB := newTestStore(t)
	ctx := context.Background()

	refs := []model.AccountRef{
		{ID: "acc-1", PersonalAccountNumber: "123456", Address: "Морская наб., д. 1"},
		{ID: "acc-2", PersonalAccountNumber: "654321", Address: "Морская наб., д. 2"},
	}
	require.NoError(t, s.UpsertAccounts(ctx, refs))

	// Re-upserting with changed fields must update in place, not duplicate.
	refs[0].Address = "Морская наб., д. 1, корп. 2"
	require.NoError(t, s.UpsertAccounts(ctx, refs))

	var count int64
	testDB.Model(&model.AccountRef{}).Count(&count)
	assert.Equal(t, int64(2), count)

	ref, err := s.AccountRef(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, "Морская наб., д. 1, корп. 2", ref.Address)

	assert.NoError(t, s.UpsertAccounts(ctx, nil), "empty upsert is a no-op")
}

func TestSubscriptionsForAccount(t *testing.T) {
	s, testDB := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertAccounts(ctx, []model.AccountRef{
		{ID: "acc-1", PersonalAccountNumber: "123456"},
		{ID: "acc-2", PersonalAccountNumber: "654321"},
	}))

	ref1, err := s.AccountRef(ctx, "acc-1")
	require.NoError(t, err)

	sub := model.PushSubscription{
		Endpoint: "https://push.example.com/sub-1",
		P256DH:   "p256dh-key",
		Auth:     "auth-secret",
		Accounts: []*model.AccountRef{&ref1},
	}
	require.NoError(t, testDB.Create(&sub).Error)

	subs, err := s.SubscriptionsForAccount(ctx, "acc-1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "https://push.example.com/sub-1", subs[0].Endpoint)

	subs, err = s.SubscriptionsForAccount(ctx, "acc-2")
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestDeleteSubscription(t *testing.T) {
	s, testDB := newTestStore(t)
	ctx := context.Background()

	sub := model.PushSubscription{
		Endpoint: "https://push.example.com/sub-gone",
		P256DH:   "p256dh-key",
		Auth:     "auth-secret",
	}
	require.NoError(t, testDB.Create(&sub).Error)

	require.NoError(t, s.DeleteSubscription(ctx, sub.Endpoint))

	var count int64
	testDB.Model(&model.PushSubscription{}).Count(&count)
	assert.Equal(t, int64(0), count)
}
