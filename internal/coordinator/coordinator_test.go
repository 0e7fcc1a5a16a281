package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"lsr-dashboard-backend/config"
	"lsr-dashboard-backend/internal/lsr"
	"lsr-dashboard-backend/internal/model"
	"lsr-dashboard-backend/internal/normalize"
	"lsr-dashboard-backend/internal/notification"
	"lsr-dashboard-backend/internal/store"
)

// mockUpstream simulates the RPC endpoint. It records per-operation call
// counts and lets tests inject failures and change returned data between
// refresh cycles.
type mockUpstream struct {
	mu            sync.Mutex
	calls         map[string]int
	fail          map[string]bool
	authFailures  int
	paymentStatus string
	accrualCount  int

	server *httptest.Server
}

func newMockUpstream() *mockUpstream {
	m := &mockUpstream{
		calls:         make(map[string]int),
		fail:          make(map[string]bool),
		paymentStatus: "Оплачено",
		accrualCount:  1,
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

func (m *mockUpstream) callCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[key]
}

func (m *mockUpstream) setFail(key string, fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[key] = fail
}

func (m *mockUpstream) setPaymentStatus(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paymentStatus = status
}

func writeEnvelope(w http.ResponseWriter, statusCode int, message string, data any) {
	json.NewEncoder(w).Encode(map[string]any{
		"statusCode": statusCode,
		"message":    message,
		"data":       data,
	})
}

func (m *mockUpstream) handle(w http.ResponseWriter, r *http.Request) {
	// Camera video URLs resolve against the same host via GET.
	if r.Method == http.MethodGet {
		json.NewEncoder(w).Encode(map[string]string{"url": "https://stream.example.com/hls.m3u8"})
		return
	}

	var req struct {
		Method string `json:"method"`
		Data   struct {
			Type string `json:"type"`
		} `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, 400, "bad request", nil)
		return
	}

	key := req.Method
	if req.Method == "GetObjectList" {
		key = req.Data.Type
	}

	m.mu.Lock()
	m.calls[key]++
	failed := m.fail[key]
	paymentStatus := m.paymentStatus
	accrualCount := m.accrualCount
	if key == "Authorize" && m.authFailures > 0 {
		m.authFailures--
		failed = true
	}
	m.mu.Unlock()

	if failed {
		writeEnvelope(w, 500, "injected failure", nil)
		return
	}

	switch key {
	case "Authorize":
		writeEnvelope(w, 200, "", map[string]string{
			"accessToken":  "access-1",
			"refreshToken": "refresh-1",
		})

	case "CommunalAccount":
		writeEnvelope(w, 200, "", map[string]any{
			"items": []map[string]any{{
				"objectId":          map[string]string{"id": "acc-1", "title": "Л/с №123456"},
				"notificationCount": 2,
				"customFields": map[string]any{
					"rows": []map[string]any{{
						"isVisible": true,
						"cells":     []map[string]string{{"value": "<span>Морская наб., д. 1, кв. 2</span>"}},
					}},
				},
			}},
		})

	case "CommunalAccountAccrual":
		items := make([]map[string]any, 0, accrualCount)
		for i := 0; i < accrualCount; i++ {
			items = append(items, map[string]any{
				"objectId":        map[string]string{"id": "accr-1"},
				"communalAccount": map[string]string{"id": "acc-1", "title": "Л/с №123456"},
				"listFields": map[string]any{
					"rows": []map[string]any{{
						"isVisible": true,
						"cells": []map[string]string{
							{"value": "<span>Январь 2024</span>"},
							{"value": "<span>Начислено 1234,56</span>"},
						},
					}},
				},
			})
		}
		writeEnvelope(w, 200, "", map[string]any{
			"items": items,
			"optionalObject": map[string]any{
				"rows": []map[string]any{{
					"isVisible": true,
					"cells":     []map[string]string{{"value": "<span>" + paymentStatus + "</span>"}},
				}},
			},
			"notificationCount": 2,
		})

	case "Meter":
		writeEnvelope(w, 200, "", map[string]any{
			"items": []map[string]any{{
				"objectId":       map[string]string{"id": "m-1", "title": "Счётчик ГВС"},
				"type":           map[string]string{"id": "HotWater", "title": "Горячая вода"},
				"lastMeterValue": map[string]string{"listValue": "12,0", "dateList": "01.02.2024"},
				"dataTitleCustomFields": map[string]any{
					"rows": []map[string]any{{
						"cells": []map[string]string{{"value": "Дата поверки: 01.06.2027."}},
					}},
				},
			}},
		})

	case "MeterValue":
		writeEnvelope(w, 200, "", map[string]any{
			"items": []map[string]any{
				{"value1": map[string]string{"value": "10,5"}, "dateList": "01.01.2024"},
				{"value1": map[string]string{"value": "11,9"}, "dateList": "01.02.2024"},
			},
		})

	case "CommunalRequest":
		writeEnvelope(w, 200, "", map[string]any{
			"items": []map[string]any{
				{"objectId": map[string]string{"id": "r-1", "title": "Протечка"}, "status": map[string]string{"id": "Done", "title": "Выполнена"}},
				{"objectId": map[string]string{"id": "r-2", "title": "Шум"}, "status": map[string]string{"id": "AtWork", "title": "В работе"}},
			},
		})

	case "StreamCameraList":
		writeEnvelope(w, 200, "", map[string]any{
			"cameras": []map[string]string{{
				"id":       "cam-1",
				"title":    "Двор",
				"preview":  m.server.URL + "/preview.jpg?sig=expiring",
				"videoUrl": m.server.URL + "/video",
			}},
		})

	case "GetMainPassData":
		writeEnvelope(w, 200, "", map[string]string{
			"pin": "1234", "qr": "https://qr.example.com/main", "text": "Пропуск",
		})

	case "GuestPass":
		writeEnvelope(w, 200, "", map[string]any{
			"count": 1,
			"items": []map[string]any{{
				"strategy": map[string]string{"id": "s-1", "title": "Разовый"},
				"dateFrom": 1704067200,
				"dateTo":   1704153600,
				"pin":      "9999",
				"qr":       "https://qr.example.com/guest",
			}},
		})

	default:
		writeEnvelope(w, 404, "unknown method "+key, nil)
	}
}

func newTestStore(t *testing.T) store.Store {
	testDB, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := testDB.DB()
		sqlDB.Close()
	})

	err = testDB.AutoMigrate(&model.DeviceProfile{}, &model.AccountRef{}, &model.PushSubscription{})
	require.NoError(t, err)

	return store.NewGormStore(testDB)
}

func newTestCoordinator(t *testing.T, upstream *mockUpstream, pool *notification.WorkerPool) (*Coordinator, store.Store) {
	cfg := &config.Config{}
	cfg.LSR.APIURL = upstream.server.URL
	cfg.LSR.Login = "+79991234567"
	cfg.LSR.Password = "secret"
	cfg.LSR.ScanInterval = time.Hour

	s := newTestStore(t)
	coord, err := New(context.Background(), cfg, lsr.NewClient(upstream.server.URL), s, pool)
	require.NoError(t, err)
	coord.sleep = func(time.Duration) {} // retry tests must not wait for real
	return coord, s
}

func TestRefreshFullBuildsSnapshot(t *testing.T) {
	upstream := newMockUpstream()
	defer upstream.server.Close()

	coord, s := newTestCoordinator(t, upstream, nil)

	require.NoError(t, coord.Refresh(context.Background(), ModeFull))

	snap := coord.Snapshot()
	require.Len(t, snap, 1)
	account := snap["acc-1"]

	assert.Equal(t, "123456", account.PersonalAccountNumber)
	assert.Equal(t, "Морская наб., д. 1, кв. 2", account.Address)
	assert.Equal(t, "Оплачено", account.PaymentStatus)
	assert.Equal(t, 2, account.NotificationCount)

	require.Len(t, account.Accruals, 1)
	assert.Equal(t, "Январь 2024", account.Accruals[0].Date)
	assert.Equal(t, 1234.56, account.Accruals[0].Amount)

	counts := account.CountRequests()
	assert.Equal(t, 2, counts.Total)
	assert.Equal(t, 1, counts.Done)
	assert.Equal(t, 1, counts.AtWork)

	require.Contains(t, account.Meters, "m-1")
	meter := account.Meters["m-1"]
	assert.Equal(t, "m³", meter.Unit)
	assert.Equal(t, "01.06.2027", meter.CalibrationDate)
	require.Len(t, meter.History, 2)
	assert.Equal(t, "01.01.2024", meter.History[0].Date)
	// The last known reading overrides the history entry on 01.02.2024.
	current, ok := meter.CurrentValue()
	require.True(t, ok)
	assert.Equal(t, 12.0, current.Value)

	require.Len(t, account.Cameras, 1)
	assert.Equal(t, upstream.server.URL+"/preview.jpg", account.Cameras[0].PreviewURL)
	assert.Equal(t, "https://stream.example.com/hls.m3u8", account.Cameras[0].StreamURL)

	require.NotNil(t, account.MainPass)
	assert.Equal(t, "1234", account.MainPass.PIN)

	require.Len(t, account.GuestPasses, 1)
	assert.Equal(t, "Разовый", account.GuestPasses[0].StrategyTitle)
	assert.Equal(t, time.Unix(1704067200, 0).Format(normalize.DateLayout), account.GuestPasses[0].ValidFrom)

	// Tokens and account references are persisted as a side effect.
	profile, err := s.DeviceProfile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", profile.AccessToken)

	ref, err := s.AccountRef(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Equal(t, "123456", ref.PersonalAccountNumber)
}

func TestRefreshSensorsOnlyCarriesCamerasForward(t *testing.T) {
	upstream := newMockUpstream()
	defer upstream.server.Close()

	coord, _ := newTestCoordinator(t, upstream, nil)
	ctx := context.Background()

	require.NoError(t, coord.Refresh(ctx, ModeFull))
	camerasAfterFull := upstream.callCount("StreamCameraList")
	passesAfterFull := upstream.callCount("GetMainPassData")
	guestAfterFull := upstream.callCount("GuestPass")

	upstream.setPaymentStatus("Задолженность")
	require.NoError(t, coord.Refresh(ctx, ModeSensorsOnly))

	// No camera or pass lookups in sensors-only mode.
	assert.Equal(t, camerasAfterFull, upstream.callCount("StreamCameraList"))
	assert.Equal(t, passesAfterFull, upstream.callCount("GetMainPassData"))
	assert.Equal(t, guestAfterFull, upstream.callCount("GuestPass"))

	account := coord.Snapshot()["acc-1"]
	assert.Equal(t, "Задолженность", account.PaymentStatus, "sensor data must still update")
	assert.Len(t, account.Cameras, 1, "cameras carried forward from the full cycle")
	assert.NotNil(t, account.MainPass)
	assert.Len(t, account.GuestPasses, 1)
}

func TestRefreshFailureKeepsPreviousSnapshot(t *testing.T) {
	upstream := newMockUpstream()
	defer upstream.server.Close()

	coord, _ := newTestCoordinator(t, upstream, nil)
	ctx := context.Background()

	require.NoError(t, coord.Refresh(ctx, ModeFull))
	before := coord.Snapshot()

	upstream.setPaymentStatus("Задолженность")
	upstream.setFail("Meter", true)

	err := coord.Refresh(ctx, ModeFull)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpdateFailed))

	after := coord.Snapshot()
	assert.Equal(t, "Оплачено", after["acc-1"].PaymentStatus, "failed cycle must not publish partial data")
	assert.Equal(t, len(before), len(after))
}

func TestAuthenticateRetries(t *testing.T) {
	t.Run("recovers after transient failures", func(t *testing.T) {
		upstream := newMockUpstream()
		defer upstream.server.Close()

		coord, _ := newTestCoordinator(t, upstream, nil)

		var sleeps []time.Duration
		coord.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }

		upstream.mu.Lock()
		upstream.authFailures = 2
		upstream.mu.Unlock()

		require.NoError(t, coord.Refresh(context.Background(), ModeFull))
		assert.Equal(t, 3, upstream.callCount("Authorize"))
		assert.Equal(t, []time.Duration{15 * time.Second, 15 * time.Second}, sleeps)
	})

	t.Run("gives up after five attempts", func(t *testing.T) {
		upstream := newMockUpstream()
		defer upstream.server.Close()

		coord, _ := newTestCoordinator(t, upstream, nil)

		var sleeps []time.Duration
		coord.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }

		upstream.mu.Lock()
		upstream.authFailures = 100
		upstream.mu.Unlock()

		err := coord.Refresh(context.Background(), ModeFull)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrAuthFailed))
		assert.Equal(t, 5, upstream.callCount("Authorize"))
		assert.Len(t, sleeps, 4, "no sleep after the final attempt")
	})
}

func TestNotifyChangesDispatchesOnStatusChange(t *testing.T) {
	upstream := newMockUpstream()
	defer upstream.server.Close()

	s := newTestStore(t)
	pool := notification.NewWorkerPool(1, s, nil)

	cfg := &config.Config{}
	cfg.LSR.APIURL = upstream.server.URL
	cfg.LSR.Login = "79991234567"
	cfg.LSR.Password = "secret"
	cfg.LSR.ScanInterval = time.Hour

	coord, err := New(context.Background(), cfg, lsr.NewClient(upstream.server.URL), s, pool)
	require.NoError(t, err)
	coord.sleep = func(time.Duration) {}

	ctx := context.Background()

	// First cycle sees a brand new account: no notification.
	require.NoError(t, coord.Refresh(ctx, ModeFull))
	select {
	case id := <-pool.Jobs():
		t.Fatalf("unexpected notification for new account %s", id)
	default:
	}

	// Second cycle with unchanged data: still no notification.
	require.NoError(t, coord.Refresh(ctx, ModeSensorsOnly))
	select {
	case id := <-pool.Jobs():
		t.Fatalf("unexpected notification for unchanged account %s", id)
	default:
	}

	// A payment status flip triggers a dispatch.
	upstream.setPaymentStatus("Задолженность")
	require.NoError(t, coord.Refresh(ctx, ModeSensorsOnly))
	select {
	case id := <-pool.Jobs():
		assert.Equal(t, "acc-1", id)
	case <-time.After(time.Second):
		t.Fatal("expected a notification job after payment status change")
	}
}

func TestFetchCameraPreview(t *testing.T) {
	upstream := newMockUpstream()
	defer upstream.server.Close()

	coord, _ := newTestCoordinator(t, upstream, nil)
	ctx := context.Background()
	require.NoError(t, coord.Refresh(ctx, ModeFull))

	_, _, err := coord.FetchCameraPreview(ctx, "acc-missing", "cam-1")
	assert.Error(t, err)

	_, _, err = coord.FetchCameraPreview(ctx, "acc-1", "cam-missing")
	assert.Error(t, err)
}
