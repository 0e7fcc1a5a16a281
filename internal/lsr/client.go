package lsr

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Namespace is the RPC namespace every request envelope carries.
const Namespace = "http://www.lsr.ru/estate/headlessCMS"

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36"

const (
	primaryTimeout   = 30 * time.Second
	secondaryTimeout = 10 * time.Second
)

// Client issues stateless request/response calls against the single
// LSR RPC endpoint. Primary data calls use a 30s timeout, secondary
// lookups (stream resolution, passes, images) a 10s one.
type Client struct {
	apiURL    string
	primary   *resty.Client
	secondary *resty.Client
}

// NewClient creates a client for the given RPC endpoint URL.
func NewClient(apiURL string) *Client {
	newHTTP := func(timeout time.Duration) *resty.Client {
		r := resty.New()
		r.SetTimeout(timeout)
		r.SetHeader("Accept", "application/json")
		r.SetHeader("Content-Type", "application/json")
		r.SetHeader("User-Agent", userAgent)
		return r
	}
	return &Client{
		apiURL:    apiURL,
		primary:   newHTTP(primaryTimeout),
		secondary: newHTTP(secondaryTimeout),
	}
}

// call posts one RPC envelope and returns the data payload. The bearer
// token travels both in parameters.Authorization and the Authorization
// header, matching what the upstream expects per operation.
func (c *Client) call(ctx context.Context, rc *resty.Client, op, method string, data any, token string) (json.RawMessage, error) {
	params := map[string]string{}
	req := rc.R().SetContext(ctx)
	if token != "" {
		bearer := "Bearer " + token
		params["Authorization"] = bearer
		req.SetHeader("Authorization", bearer)
	}

	body := rpcRequest{
		Data:       data,
		Method:     method,
		Namespace:  Namespace,
		Operation:  "REQUEST",
		Parameters: params,
	}

	resp, err := req.SetBody(body).Post(c.apiURL)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &ProtocolError{Op: op, StatusCode: resp.StatusCode()}
	}

	var env rpcEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, &ProtocolError{Op: op, StatusCode: resp.StatusCode(), Message: fmt.Sprintf("malformed envelope: %v", err)}
	}
	if env.StatusCode != http.StatusOK {
		return nil, &ProtocolError{Op: op, StatusCode: env.StatusCode, Message: env.Message}
	}
	return env.Data, nil
}

func decode[T any](op string, raw json.RawMessage) (T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, &ProtocolError{Op: op, StatusCode: http.StatusOK, Message: fmt.Sprintf("malformed data payload: %v", err)}
	}
	return out, nil
}

// Authenticate exchanges SHA-256 hashed credentials and the stable
// per-install app instance ID for an access/refresh token pair.
func (c *Client) Authenticate(ctx context.Context, login, password, appInstanceID string) (AuthResult, error) {
	loginHash := sha256.Sum256([]byte(login))
	passwordHash := sha256.Sum256([]byte(password))

	data := map[string]any{
		"credentials": map[string]string{
			"loginSha256": hex.EncodeToString(loginHash[:]),
			"password":    hex.EncodeToString(passwordHash[:]),
		},
		"device": map[string]any{
			"appInstanceId": appInstanceID,
			"platform":      "ANDROID",
			"timeOffset":    10800,
			"appType":       "CLIENT",
			"model":         "sdk_gphone64_arm64",
		},
		"userType": "CLIENT",
	}

	raw, err := c.call(ctx, c.primary, "authenticate", "Authorize", data, "")
	if err != nil {
		return AuthResult{}, err
	}
	return decode[AuthResult]("authenticate", raw)
}

// GetAccounts lists the communal accounts visible to the session.
func (c *Client) GetAccounts(ctx context.Context, token string) ([]AccountItem, error) {
	query := objectQuery{
		Type:  "CommunalAccount",
		Query: queryBlock{Conditions: []condition{}, Sort: []any{}},
	}
	raw, err := c.call(ctx, c.primary, "get accounts", "GetObjectList", query, token)
	if err != nil {
		return nil, err
	}
	payload, err := decode[itemsPayload[AccountItem]]("get accounts", raw)
	if err != nil {
		return nil, err
	}
	return payload.Items, nil
}

// GetAccountData fetches the account's accruals together with the
// optional custom-field block that carries the payment status.
func (c *Client) GetAccountData(ctx context.Context, token, accountID string) (AccountData, error) {
	raw, err := c.call(ctx, c.primary, "get account data", "GetObjectList", byAccountID("CommunalAccountAccrual", accountID), token)
	if err != nil {
		return AccountData{}, err
	}
	return decode[AccountData]("get account data", raw)
}

// GetMeters lists the account's utility meters.
func (c *Client) GetMeters(ctx context.Context, token, accountID string) ([]MeterItem, error) {
	raw, err := c.call(ctx, c.primary, "get meters", "GetObjectList", byAccountID("Meter", accountID), token)
	if err != nil {
		return nil, err
	}
	payload, err := decode[itemsPayload[MeterItem]]("get meters", raw)
	if err != nil {
		return nil, err
	}
	return payload.Items, nil
}

// GetMeterHistory fetches the reading history for one meter.
func (c *Client) GetMeterHistory(ctx context.Context, token, meterID string) ([]MeterValueItem, error) {
	query := objectQuery{
		Type: "MeterValue",
		Query: queryBlock{
			Conditions: []condition{{
				Property:           "meterId",
				Value:              []any{meterID},
				ComparisonOperator: "=",
			}},
			Sort: []any{},
		},
	}
	raw, err := c.call(ctx, c.primary, "get meter history", "GetObjectList", query, token)
	if err != nil {
		return nil, err
	}
	payload, err := decode[itemsPayload[MeterValueItem]]("get meter history", raw)
	if err != nil {
		return nil, err
	}
	return payload.Items, nil
}

// GetCommunalRequests lists the account's service tickets.
func (c *Client) GetCommunalRequests(ctx context.Context, token, accountID string) ([]RequestItem, error) {
	raw, err := c.call(ctx, c.primary, "get communal requests", "GetObjectList", byAccountID("CommunalRequest", accountID), token)
	if err != nil {
		return nil, err
	}
	payload, err := decode[itemsPayload[RequestItem]]("get communal requests", raw)
	if err != nil {
		return nil, err
	}
	return payload.Items, nil
}

// GetCameras lists the account's cameras. Preview URLs are returned
// with their query string stripped, since the signed part expires.
func (c *Client) GetCameras(ctx context.Context, token, accountID string) ([]CameraItem, error) {
	data := map[string]any{"communalAccountId": accountID}
	raw, err := c.call(ctx, c.primary, "get cameras", "StreamCameraList", data, token)
	if err != nil {
		return nil, err
	}
	payload, err := decode[camerasPayload]("get cameras", raw)
	if err != nil {
		return nil, err
	}
	for i := range payload.Cameras {
		if idx := strings.Index(payload.Cameras[i].Preview, "?"); idx >= 0 {
			payload.Cameras[i].Preview = payload.Cameras[i].Preview[:idx]
		}
	}
	return payload.Cameras, nil
}

// ResolveCameraStreamURL resolves a camera's videoUrl into a playable
// stream URL. Best-effort: any failure degrades to an empty string so a
// single flaky camera never blocks the account snapshot.
func (c *Client) ResolveCameraStreamURL(ctx context.Context, token string, camera CameraItem) string {
	if camera.VideoURL == "" {
		return ""
	}

	resp, err := c.secondary.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+token).
		Get(camera.VideoURL)
	if err != nil {
		log.Printf("Failed to resolve stream URL for camera %s: %v", camera.ID, err)
		return ""
	}
	if resp.StatusCode() != http.StatusOK {
		log.Printf("Failed to resolve stream URL for camera %s: HTTP %d", camera.ID, resp.StatusCode())
		return ""
	}

	var payload struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		log.Printf("Failed to parse stream URL response for camera %s: %v", camera.ID, err)
		return ""
	}
	return payload.URL
}

// GetMainPassData fetches the resident's access-control credential.
func (c *Client) GetMainPassData(ctx context.Context, token, accountID string) (MainPassData, error) {
	data := map[string]any{"communalAccountId": accountID}
	raw, err := c.call(ctx, c.secondary, "get main pass", "GetMainPassData", data, token)
	if err != nil {
		return MainPassData{}, err
	}
	return decode[MainPassData]("get main pass", raw)
}

// GetGuestPasses lists the account's temporary guest passes.
func (c *Client) GetGuestPasses(ctx context.Context, token, accountID string) (GuestPassData, error) {
	raw, err := c.call(ctx, c.secondary, "get guest passes", "GetObjectList", byAccountID("GuestPass", accountID), token)
	if err != nil {
		return GuestPassData{}, err
	}
	return decode[GuestPassData]("get guest passes", raw)
}

// FetchImage retrieves raw image bytes (camera previews) through the
// authenticated session. Returns the body and its content type.
func (c *Client) FetchImage(ctx context.Context, token, url string) ([]byte, string, error) {
	resp, err := c.secondary.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+token).
		Get(url)
	if err != nil {
		return nil, "", &TransportError{Op: "fetch image", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, "", &ProtocolError{Op: "fetch image", StatusCode: resp.StatusCode()}
	}
	return resp.Body(), resp.Header().Get("Content-Type"), nil
}
