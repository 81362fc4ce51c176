package shared

const (
	STREAM_PAIRING  = "pairing"
	STREAM_PLAYBACK = "playback"

	FAULT_CACHE    = "cache"
	FAULT_PLAYBACK = "playback"

	UserAgent = "Marquee/1.0 <github.com/marcus-crane/marquee>"
)
