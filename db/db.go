package db

import (
	"errors"

	"github.com/marcus-crane/marquee/models"
)

const (
	KeyDeviceID      = "device_id"
	KeyDeviceName    = "device_name"
	KeySelectedStore = "selected_store"
)

var ErrNotFound = errors.New("no value stored for key")

// Preferences is the small string key-value store that survives restarts.
// Absence of a key means "unset", there is no schema beyond that.
type Preferences interface {
	GetPreference(key string) (string, error)
	SetPreference(key, value string) error
	DeletePreference(keys ...string) error
}

// CacheIndex persists media cache bookkeeping so cached files survive a
// restart.
type CacheIndex interface {
	LoadCacheEntries() ([]models.CacheEntry, error)
	UpsertCacheEntry(entry models.CacheEntry) error
	DeleteCacheEntry(url string) error
}

type Store interface {
	Preferences
	CacheIndex
	Close() error
}
