package models

import "time"

// NowShowing is what the status API and event stream report about the
// screen. An empty URL means the no content fallback is up.
type NowShowing struct {
	Index           int       `json:"index"`
	ContentID       string    `json:"content_id,omitempty"`
	URL             string    `json:"url,omitempty"`
	Kind            MediaKind `json:"kind,omitempty"`
	PlaylistID      int64     `json:"playlist_id"`
	PlaylistLength  int       `json:"playlist_length"`
	StartedAt       time.Time `json:"started_at"`
	DominantColours []string  `json:"dominant_colours,omitempty"`
}

type ResponseHTTP struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

// Status is the snapshot served by the status API.
type Status struct {
	Device            Device           `json:"device"`
	Scope             Scope            `json:"scope"`
	SelectedStore     *StoreRef        `json:"selected_store,omitempty"`
	NowShowing        NowShowing       `json:"now_showing"`
	LastHeartbeat     *HeartbeatRecord `json:"last_heartbeat,omitempty"`
	CacheBytes        int64            `json:"cache_bytes"`
	CacheCapacity     int64            `json:"cache_capacity"`
	ChangeFeedLive    bool             `json:"change_feed_connected"`
	ChangeFeedEvents  int64            `json:"change_feed_events"`
	EventSessionsSeen int64            `json:"event_sessions_seen"`
	EventSessionsLive int64            `json:"event_sessions_active"`
}
