package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"lsr-dashboard-backend/config"
	"lsr-dashboard-backend/internal/lsr"
	"lsr-dashboard-backend/internal/model"
	"lsr-dashboard-backend/internal/normalize"
	"lsr-dashboard-backend/internal/notification"
	"lsr-dashboard-backend/internal/snapshot"
	"lsr-dashboard-backend/internal/store"
)

// Mode selects which sub-resources a refresh fetches per account.
type Mode int

const (
	// ModeFull fetches everything: detail, requests, meters, cameras
	// with stream resolution, main pass and guest passes.
	ModeFull Mode = iota
	// ModeSensorsOnly skips camera and pass lookups; camera and pass
	// data from the previous snapshot is carried forward unchanged.
	ModeSensorsOnly
)

var (
	// ErrAuthFailed is the fatal condition raised after exhausting
	// authentication retries; the credential owner must re-authenticate.
	ErrAuthFailed = errors.New("re-authentication required")
	// ErrUpdateFailed is the recoverable condition for a failed fetch
	// pass; the previously published snapshot stays intact.
	ErrUpdateFailed = errors.New("update failed")
)

const (
	authMaxAttempts = 5
	authRetryDelay  = 15 * time.Second
)

// Coordinator owns the credentials and the current snapshot. Refresh
// cycles are serialized; the snapshot is replaced wholesale only at the
// end of a successful cycle.
type Coordinator struct {
	cfg    *config.Config
	client *lsr.Client
	store  store.Store
	pool   *notification.WorkerPool
	sleep  func(time.Duration) // injected so retry tests run without real delays

	login         string
	password      string
	appInstanceID string

	refreshMu sync.Mutex // serializes whole refresh cycles

	stateMu      sync.RWMutex // guards snapshot and tokens
	snap         snapshot.Snapshot
	accessToken  string
	refreshToken string
}

// New builds a coordinator, loading (or creating) the persisted device
// profile and restoring any cached tokens.
func New(ctx context.Context, cfg *config.Config, client *lsr.Client, st store.Store, pool *notification.WorkerPool) (*Coordinator, error) {
	profile, err := st.DeviceProfile(ctx)
	if err != nil {
		return nil, err
	}

	return &Coordinator{
		cfg:           cfg,
		client:        client,
		store:         st,
		pool:          pool,
		sleep:         time.Sleep,
		login:         strings.TrimPrefix(cfg.LSR.Login, "+"),
		password:      cfg.LSR.Password,
		appInstanceID: profile.AppInstanceID,
		snap:          snapshot.Snapshot{},
		accessToken:   profile.AccessToken,
		refreshToken:  profile.RefreshToken,
	}, nil
}

// Run executes an initial full refresh and then refreshes on the
// configured interval until the context is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	log.Println("Starting refresh coordinator...")

	if err := c.Refresh(ctx, ModeFull); err != nil {
		log.Printf("Initial refresh failed: %v", err)
	}

	timer := time.NewTimer(c.cfg.LSR.ScanInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Refresh coordinator shutting down.")
			return
		case <-timer.C:
			if err := c.Refresh(ctx, ModeFull); err != nil {
				log.Printf("Scheduled refresh failed: %v", err)
			}
			timer.Reset(c.cfg.LSR.ScanInterval)
		}
	}
}

// Snapshot returns the currently published snapshot. Callers must not
// mutate it.
func (c *Coordinator) Snapshot() snapshot.Snapshot {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.snap
}

// Refresh runs one full cycle: authenticate (with bounded retry), fetch
// every account and its sub-resources, then publish the new snapshot.
// A failure anywhere in the strict path leaves the previous snapshot
// untouched and returns ErrUpdateFailed; exhausted authentication
// returns ErrAuthFailed.
func (c *Coordinator) Refresh(ctx context.Context, mode Mode) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	log.Printf("Executing refresh cycle (mode=%s)...", mode)

	if err := c.authenticate(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	accounts, err := c.client.GetAccounts(ctx, c.token())
	if err != nil {
		return fmt.Errorf("%w: fetching accounts: %v", ErrUpdateFailed, err)
	}

	prev := c.Snapshot()
	next := make(snapshot.Snapshot, len(accounts))

	for _, account := range accounts {
		id := account.ObjectID.ID
		record, err := c.fetchAccount(ctx, id, mode)
		if err != nil {
			return fmt.Errorf("%w: account %s: %v", ErrUpdateFailed, id, err)
		}

		record.Address = normalize.Address(account.CustomFields)
		record.PersonalAccountNumber = normalize.PersonalAccountNumber(account.ObjectID.Title)
		record.NotificationCount = account.NotificationCount

		if mode == ModeSensorsOnly {
			if old, ok := prev[id]; ok {
				record.Cameras = old.Cameras
				record.MainPass = old.MainPass
				record.GuestPasses = old.GuestPasses
			}
		}
		next[id] = record
	}

	c.publish(next)
	c.persistRefs(ctx, next)
	c.notifyChanges(prev, next)

	log.Printf("Refresh cycle finished: %d accounts.", len(next))
	return nil
}

// FetchCameraPreview proxies a camera preview image through the
// coordinator-owned session. Presentation adapters never talk to the
// upstream directly.
func (c *Coordinator) FetchCameraPreview(ctx context.Context, accountID, cameraID string) ([]byte, string, error) {
	account, ok := c.Snapshot()[accountID]
	if !ok {
		return nil, "", fmt.Errorf("unknown account %s", accountID)
	}
	for _, camera := range account.Cameras {
		if camera.ID == cameraID && camera.PreviewURL != "" {
			return c.client.FetchImage(ctx, c.token(), camera.PreviewURL)
		}
	}
	return nil, "", fmt.Errorf("unknown camera %s for account %s", cameraID, accountID)
}

// authenticate acquires a fresh token pair, retrying up to 5 times with
// a fixed 15-second pause between attempts.
func (c *Coordinator) authenticate(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		auth, err := c.client.Authenticate(ctx, c.login, c.password, c.appInstanceID)
		if err == nil {
			c.stateMu.Lock()
			c.accessToken = auth.AccessToken
			c.refreshToken = auth.RefreshToken
			c.stateMu.Unlock()
			if saveErr := c.store.SaveTokens(ctx, auth.AccessToken, auth.RefreshToken); saveErr != nil {
				log.Printf("Warning: could not cache tokens: %v", saveErr)
			}
			return nil
		}

		log.Printf("Authentication error: %v", err)
		if attempt == authMaxAttempts {
			return fmt.Errorf("authentication failed after %d attempts: %w", authMaxAttempts, err)
		}
		log.Printf("Retrying authentication (attempt %d of %d) in %s...", attempt, authMaxAttempts, authRetryDelay)
		c.sleep(authRetryDelay)
	}
}

// fetchAccount assembles one account record. Detail, requests and meter
// fetches are strict: any failure aborts the whole cycle. Camera and
// pass lookups are best-effort and degrade to absent values.
func (c *Coordinator) fetchAccount(ctx context.Context, accountID string, mode Mode) (snapshot.Account, error) {
	token := c.token()

	detail, err := c.client.GetAccountData(ctx, token, accountID)
	if err != nil {
		return snapshot.Account{}, err
	}
	requests, err := c.client.GetCommunalRequests(ctx, token, accountID)
	if err != nil {
		return snapshot.Account{}, err
	}
	meters, err := c.client.GetMeters(ctx, token, accountID)
	if err != nil {
		return snapshot.Account{}, err
	}

	record := snapshot.Account{
		ID:            accountID,
		PaymentStatus: normalize.PaymentStatus(detail.OptionalObject),
		Accruals:      extractAccruals(detail.Items),
		Meters:        make(map[string]snapshot.MeterRecord, len(meters)),
	}

	record.CommunalRequests = make([]snapshot.CommunalRequest, 0, len(requests))
	for _, req := range requests {
		record.CommunalRequests = append(record.CommunalRequests, snapshot.CommunalRequest{
			ID:         req.ObjectID.ID,
			Title:      req.ObjectID.Title,
			StatusCode: req.Status.ID,
		})
	}

	for _, meter := range meters {
		meterID := meter.ObjectID.ID
		if meterID == "" {
			log.Printf("Meter without ID skipped for account %s", accountID)
			continue
		}

		history, err := c.client.GetMeterHistory(ctx, token, meterID)
		if err != nil {
			return snapshot.Account{}, err
		}
		readings, err := normalize.MergeMeterHistory(history, meter.LastMeterValue)
		if err != nil {
			return snapshot.Account{}, fmt.Errorf("meter %s: %w", meterID, err)
		}

		record.Meters[meterID] = snapshot.MeterRecord{
			Title:           meter.ObjectID.Title,
			TypeCode:        meter.Type.ID,
			TypeTitle:       meter.Type.Title,
			Unit:            normalize.MeterUnit(meter.Type.ID),
			CalibrationDate: normalize.CalibrationDate(meter.DataTitleCustomFields),
			History:         readings,
		}
	}

	if mode == ModeFull {
		record.Cameras = c.fetchCameras(ctx, token, accountID)
		record.MainPass = c.fetchMainPass(ctx, token, accountID)
		record.GuestPasses = c.fetchGuestPasses(ctx, token, accountID)
	}

	return record, nil
}

// fetchCameras lists the account's cameras and resolves their stream
// URLs concurrently. Every failure here is isolated: a failed list
// yields no cameras, a failed resolution an empty stream URL.
func (c *Coordinator) fetchCameras(ctx context.Context, token, accountID string) []snapshot.CameraRecord {
	cameras, err := c.client.GetCameras(ctx, token, accountID)
	if err != nil {
		log.Printf("Camera list unavailable for account %s: %v", accountID, err)
		return nil
	}

	records := make([]snapshot.CameraRecord, len(cameras))
	var wg sync.WaitGroup
	for i, camera := range cameras {
		records[i] = snapshot.CameraRecord{
			ID:         camera.ID,
			Title:      camera.Title,
			PreviewURL: camera.Preview,
		}
		wg.Add(1)
		go func(i int, camera lsr.CameraItem) {
			defer wg.Done()
			records[i].StreamURL = c.client.ResolveCameraStreamURL(ctx, token, camera)
		}(i, camera)
	}
	wg.Wait()
	return records
}

func (c *Coordinator) fetchMainPass(ctx context.Context, token, accountID string) *snapshot.MainPass {
	pass, err := c.client.GetMainPassData(ctx, token, accountID)
	if err != nil {
		log.Printf("Main pass unavailable for account %s: %v", accountID, err)
		return nil
	}
	if pass.PIN == "" && pass.QR == "" && pass.Text == "" {
		return nil
	}
	return &snapshot.MainPass{PIN: pass.PIN, QRURL: pass.QR, Text: pass.Text}
}

func (c *Coordinator) fetchGuestPasses(ctx context.Context, token, accountID string) []snapshot.GuestPass {
	data, err := c.client.GetGuestPasses(ctx, token, accountID)
	if err != nil {
		log.Printf("Guest passes unavailable for account %s: %v", accountID, err)
		return nil
	}

	passes := make([]snapshot.GuestPass, 0, len(data.Items))
	for _, item := range data.Items {
		passes = append(passes, snapshot.GuestPass{
			StrategyTitle: item.Strategy.Title,
			ValidFrom:     time.Unix(item.DateFrom, 0).Format(normalize.DateLayout),
			ValidTo:       time.Unix(item.DateTo, 0).Format(normalize.DateLayout),
			PIN:           item.PIN,
			QRURL:         item.QR,
		})
	}
	return passes
}

// extractAccruals converts raw accrual items, keeping only those with a
// resolvable account title, matching the upstream list rendering.
func extractAccruals(items []lsr.AccrualItem) []snapshot.Accrual {
	accruals := make([]snapshot.Accrual, 0, len(items))
	for _, item := range items {
		if item.CommunalAccount.Title == "" {
			continue
		}
		accrual := snapshot.Accrual{ID: item.ObjectID.ID}
		if len(item.ListFields.Rows) > 0 {
			cells := item.ListFields.Rows[0].Cells
			if len(cells) > 0 {
				accrual.Date = normalize.AccrualDate(cells[0].Value)
			}
			if len(cells) > 1 {
				if amount, ok := normalize.AccrualAmount(cells[1].Value); ok {
					accrual.Amount = amount
				}
			}
		}
		accruals = append(accruals, accrual)
	}
	return accruals
}

func (c *Coordinator) token() string {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.accessToken
}

func (c *Coordinator) publish(next snapshot.Snapshot) {
	c.stateMu.Lock()
	c.snap = next
	c.stateMu.Unlock()
}

// persistRefs records the accounts seen this cycle so push
// subscriptions can reference them. Persistence failures never fail the
// refresh.
func (c *Coordinator) persistRefs(ctx context.Context, snap snapshot.Snapshot) {
	refs := make([]model.AccountRef, 0, len(snap))
	for id, account := range snap {
		refs = append(refs, model.AccountRef{
			ID:                    id,
			PersonalAccountNumber: account.PersonalAccountNumber,
			Address:               account.Address,
		})
	}
	if err := c.store.UpsertAccounts(ctx, refs); err != nil {
		log.Printf("Warning: could not persist account references: %v", err)
	}
}

// notifyChanges dispatches notification jobs for accounts whose payment
// status changed or which gained accruals since the previous snapshot.
func (c *Coordinator) notifyChanges(prev, next snapshot.Snapshot) {
	if c.pool == nil {
		return
	}
	for id, account := range next {
		old, ok := prev[id]
		if !ok {
			continue
		}
		if account.PaymentStatus != old.PaymentStatus || len(account.Accruals) > len(old.Accruals) {
			c.pool.Dispatch(id)
		}
	}
}

func (m Mode) String() string {
	if m == ModeSensorsOnly {
		return "sensors-only"
	}
	return "full"
}
