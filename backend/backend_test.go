package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/h2non/gock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcus-crane/marquee/models"
)

func TestResolvePlaylistID_Store(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/rpc/get_store_playlists", r.URL.Path)
		assert.Equal(t, "anon", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer anon", r.Header.Get("Authorization"))
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		w.Write([]byte(`[{"id": 42}, {"id": 7}]`))
	}))
	defer srv.Close()

	c := New(srv.URL, "anon", srv.Client())
	id, ok, err := c.ResolvePlaylistID(context.Background(), models.StoreScope(3))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, float64(3), gotBody["store_id_param"])
}

func TestResolvePlaylistID_DeviceNone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/rpc/get_device_playlists", r.URL.Path)
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := New(srv.URL, "anon", srv.Client())
	_, ok, err := c.ResolvePlaylistID(context.Background(), models.DeviceScope("dev-1"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolvePlaylistID_UnsetScope(t *testing.T) {
	c := New("http://unused.invalid", "anon", nil)
	_, _, err := c.ResolvePlaylistID(context.Background(), models.Scope{})
	assert.Error(t, err)
}

func TestFetchPlaylistItems_ConvertsMedia(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "eq.42", r.URL.Query().Get("playlist_id"))
		assert.Equal(t, "order.asc", r.URL.Query().Get("order"))
		w.Write([]byte(`[
			{"playlist_id": 42, "content_id": 1, "url": "https://cdn.example/a.jpg", "is_video": false, "duration": 3, "order": 0},
			{"playlist_id": 42, "content_id": "b", "url": "https://cdn.example/b.mp4", "is_video": true, "duration": 99, "order": 1},
			{"playlist_id": 42, "content_id": 3, "url": "https://cdn.example/c.png", "is_video": false, "duration": 0, "order": 2}
		]`))
	}))
	defer srv.Close()

	c := New(srv.URL, "anon", srv.Client())
	got, err := c.FetchPlaylistItems(context.Background(), 42)
	require.NoError(t, err)

	want := []models.PlaylistItem{
		{ContentID: "1", URL: "https://cdn.example/a.jpg", Media: models.Image{Duration: 3 * time.Second}, Order: 0},
		{ContentID: "b", URL: "https://cdn.example/b.mp4", Media: models.Video{}, Order: 1},
		{ContentID: "3", URL: "https://cdn.example/c.png", Media: models.Image{Duration: DefaultImageDuration}, Order: 2},
	}
	if !cmp.Equal(want, got) {
		t.Error(cmp.Diff(want, got))
	}
}

func TestFetchPlaylistItems_BadStatusCode(t *testing.T) {
	defer gock.Off()

	gock.New("http://backend.example").
		Get("/rest/v1/store_playlist_content_view").
		Reply(500).
		BodyString("boom")

	c := New("http://backend.example", "anon", &http.Client{})
	_, err := c.FetchPlaylistItems(context.Background(), 1)
	assert.True(t, errors.Is(err, ErrUnexpectedStatus))
	assert.True(t, gock.IsDone())
}

func TestFetchPlaylistItems_BadBody(t *testing.T) {
	defer gock.Off()

	gock.New("http://backend.example").
		Get("/rest/v1/store_playlist_content_view").
		Reply(200).
		BodyString("{not json")

	c := New("http://backend.example", "anon", &http.Client{})
	_, err := c.FetchPlaylistItems(context.Background(), 1)
	assert.Error(t, err)
}

func TestIssuePairingCode(t *testing.T) {
	defer gock.Off()

	gock.New("http://backend.example").
		Post("/rest/v1/rpc/create_activation_code").
		MatchType("json").
		JSON(map[string]string{"_device_id": "dev-1"}).
		Reply(200).
		BodyString(`"ABC123"`)

	c := New("http://backend.example", "anon", &http.Client{})
	code, err := c.IssuePairingCode(context.Background(), "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "ABC123", code)
}

func TestPollPairingClaim(t *testing.T) {
	cases := map[string]struct {
		body    string
		owner   string
		claimed bool
	}{
		"no rows":       {body: `[]`},
		"null owner":    {body: `[{"user_id": null}]`},
		"claimed owner": {body: `[{"user_id": "user-9"}]`, owner: "user-9", claimed: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "eq.ABC123", r.URL.Query().Get("code"))
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			owner, claimed, err := New(srv.URL, "anon", srv.Client()).PollPairingClaim(context.Background(), "ABC123")
			require.NoError(t, err)
			assert.Equal(t, tc.claimed, claimed)
			assert.Equal(t, tc.owner, owner)
		})
	}
}

func TestVerifyDevice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") == "eq.known" {
			w.Write([]byte(`[{"id": "known", "name": "Lobby"}]`))
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()
	c := New(srv.URL, "anon", srv.Client())

	exists, name, err := c.VerifyDevice(context.Background(), "known")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, "Lobby", name)

	exists, _, err = c.VerifyDevice(context.Background(), "gone")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSendHeartbeat_Upserts(t *testing.T) {
	var got models.HeartbeatRecord
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "resolution=merge-duplicates", r.Header.Get("Prefer"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := New(srv.URL, "anon", srv.Client())
	fixed := time.Date(2024, 10, 17, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	record, err := c.SendHeartbeat(context.Background(), "dev-1")
	require.NoError(t, err)
	assert.Equal(t, models.HeartbeatRecord{DeviceID: "dev-1", SentAt: fixed}, record)
	assert.Equal(t, record, got)
}

func TestListStores(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "name.asc", r.URL.Query().Get("order"))
		w.Write([]byte(`[{"id": 1, "name": "Auckland"}, {"id": 2, "name": "Wellington"}]`))
	}))
	defer srv.Close()

	stores, err := New(srv.URL, "anon", srv.Client()).ListStores(context.Background())
	require.NoError(t, err)
	want := []models.StoreRef{{ID: 1, Name: "Auckland"}, {ID: 2, Name: "Wellington"}}
	if !cmp.Equal(want, stores) {
		t.Error(cmp.Diff(want, stores))
	}
}
