package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/marcus-crane/marquee/models"
)

const (
	restPrefix = "/rest/v1"

	storesEndpoint           = restPrefix + "/stores"
	storePlaylistsEndpoint   = restPrefix + "/rpc/get_store_playlists"
	devicePlaylistsEndpoint  = restPrefix + "/rpc/get_device_playlists"
	playlistContentEndpoint  = restPrefix + "/store_playlist_content_view"
	createActivationEndpoint = restPrefix + "/rpc/create_activation_code"
	activationCodesEndpoint  = restPrefix + "/activation_codes"
	devicesEndpoint          = restPrefix + "/devices"
	heartbeatsEndpoint       = restPrefix + "/device_heartbeats"

	// Used when an image row arrives without a usable duration
	DefaultImageDuration = 10 * time.Second
)

var ErrUnexpectedStatus = errors.New("unexpected status from backend")

type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	now     func() time.Time
}

func New(baseURL, apiKey string, client *http.Client) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
		now:     time.Now,
	}
}

type playlistRow struct {
	ID int64 `json:"id"`
}

type playlistItemRow struct {
	PlaylistID int64           `json:"playlist_id"`
	ContentID  json.RawMessage `json:"content_id"`
	URL        string          `json:"url"`
	IsVideo    bool            `json:"is_video"`
	Duration   int             `json:"duration"`
	Order      int             `json:"order"`
}

type activationRow struct {
	UserID *string `json:"user_id"`
}

type deviceRow struct {
	ID   string  `json:"id"`
	Name *string `json:"name"`
}

func (c *Client) ListStores(ctx context.Context) ([]models.StoreRef, error) {
	query := url.Values{}
	query.Set("select", "id,name")
	query.Set("order", "name.asc")

	stores := []models.StoreRef{}
	if err := c.do(ctx, http.MethodGet, storesEndpoint, query, nil, nil, &stores); err != nil {
		return []models.StoreRef{}, fmt.Errorf("failed to list stores: %w", err)
	}
	return stores, nil
}

// ResolvePlaylistID returns the most recent playlist owned by scope. The
// backend orders the rows newest first so only the first one matters.
func (c *Client) ResolvePlaylistID(ctx context.Context, scope models.Scope) (int64, bool, error) {
	var (
		endpoint string
		params   map[string]any
	)
	switch scope.Kind {
	case models.ScopeStore:
		storeID, err := strconv.ParseInt(scope.ID, 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("invalid store id %q: %w", scope.ID, err)
		}
		endpoint = storePlaylistsEndpoint
		params = map[string]any{"store_id_param": storeID}
	case models.ScopeDevice:
		endpoint = devicePlaylistsEndpoint
		params = map[string]any{"device_id_param": scope.ID}
	default:
		return 0, false, fmt.Errorf("cannot resolve playlist for scope %s", scope)
	}

	var rows []playlistRow
	if err := c.do(ctx, http.MethodPost, endpoint, nil, params, nil, &rows); err != nil {
		return 0, false, fmt.Errorf("failed to resolve playlist id: %w", err)
	}
	if len(rows) == 0 {
		return 0, false, nil
	}
	return rows[0].ID, true, nil
}

func (c *Client) FetchPlaylistItems(ctx context.Context, playlistID int64) ([]models.PlaylistItem, error) {
	query := url.Values{}
	query.Set("playlist_id", fmt.Sprintf("eq.%d", playlistID))
	query.Set("order", "order.asc")

	var rows []playlistItemRow
	if err := c.do(ctx, http.MethodGet, playlistContentEndpoint, query, nil, nil, &rows); err != nil {
		return []models.PlaylistItem{}, fmt.Errorf("failed to fetch playlist items: %w", err)
	}

	items := make([]models.PlaylistItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toItem())
	}
	return items, nil
}

func (row playlistItemRow) toItem() models.PlaylistItem {
	item := models.PlaylistItem{
		ContentID: strings.Trim(string(row.ContentID), `"`),
		URL:       row.URL,
		Order:     row.Order,
	}
	if row.IsVideo {
		item.Media = models.Video{}
		return item
	}
	duration := time.Duration(row.Duration) * time.Second
	if duration <= 0 {
		duration = DefaultImageDuration
	}
	item.Media = models.Image{Duration: duration}
	return item
}

func (c *Client) IssuePairingCode(ctx context.Context, deviceID string) (string, error) {
	var code string
	params := map[string]string{"_device_id": deviceID}
	if err := c.do(ctx, http.MethodPost, createActivationEndpoint, nil, params, nil, &code); err != nil {
		return "", fmt.Errorf("failed to issue pairing code: %w", err)
	}
	if code == "" {
		return "", fmt.Errorf("backend returned an empty pairing code")
	}
	return code, nil
}

// PollPairingClaim reports the owner of code once someone has claimed it.
func (c *Client) PollPairingClaim(ctx context.Context, code string) (string, bool, error) {
	query := url.Values{}
	query.Set("code", "eq."+code)
	query.Set("select", "user_id")
	query.Set("limit", "1")

	var rows []activationRow
	if err := c.do(ctx, http.MethodGet, activationCodesEndpoint, query, nil, nil, &rows); err != nil {
		return "", false, fmt.Errorf("failed to poll pairing claim: %w", err)
	}
	if len(rows) == 0 || rows[0].UserID == nil || *rows[0].UserID == "" {
		return "", false, nil
	}
	return *rows[0].UserID, true, nil
}

// VerifyDevice reports whether the device row still exists. An error means
// existence could not be determined, not that the device is gone.
func (c *Client) VerifyDevice(ctx context.Context, deviceID string) (bool, string, error) {
	query := url.Values{}
	query.Set("id", "eq."+deviceID)
	query.Set("select", "id,name")

	var rows []deviceRow
	if err := c.do(ctx, http.MethodGet, devicesEndpoint, query, nil, nil, &rows); err != nil {
		return false, "", fmt.Errorf("failed to verify device: %w", err)
	}
	if len(rows) == 0 {
		return false, "", nil
	}
	name := ""
	if rows[0].Name != nil {
		name = *rows[0].Name
	}
	return true, name, nil
}

func (c *Client) SendHeartbeat(ctx context.Context, deviceID string) (models.HeartbeatRecord, error) {
	record := models.HeartbeatRecord{
		DeviceID: deviceID,
		SentAt:   c.now().UTC(),
	}
	headers := http.Header{}
	headers.Set("Prefer", "resolution=merge-duplicates")
	if err := c.do(ctx, http.MethodPost, heartbeatsEndpoint, nil, record, headers, nil); err != nil {
		return record, fmt.Errorf("failed to send heartbeat: %w", err)
	}
	return record, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, headers http.Header, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, values := range headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	res, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("%w: %s %s returned %d: %s", ErrUnexpectedStatus, method, path, res.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}

	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resBody, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
