package db

import (
	"sort"
	"sync"

	"github.com/marcus-crane/marquee/models"
)

// MemoryStore keeps everything in maps. Used when the database can't be
// opened and by tests in other packages.
type MemoryStore struct {
	m       *sync.Mutex
	prefs   map[string]string
	entries map[string]models.CacheEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:       new(sync.Mutex),
		prefs:   map[string]string{},
		entries: map[string]models.CacheEntry{},
	}
}

func (ms *MemoryStore) GetPreference(key string) (string, error) {
	ms.m.Lock()
	defer ms.m.Unlock()
	value, ok := ms.prefs[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (ms *MemoryStore) SetPreference(key, value string) error {
	ms.m.Lock()
	defer ms.m.Unlock()
	ms.prefs[key] = value
	return nil
}

func (ms *MemoryStore) DeletePreference(keys ...string) error {
	ms.m.Lock()
	defer ms.m.Unlock()
	for _, key := range keys {
		delete(ms.prefs, key)
	}
	return nil
}

func (ms *MemoryStore) LoadCacheEntries() ([]models.CacheEntry, error) {
	ms.m.Lock()
	defer ms.m.Unlock()
	entries := make([]models.CacheEntry, 0, len(ms.entries))
	for _, entry := range ms.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].LastAccess.Equal(entries[j].LastAccess) {
			return entries[i].Seq < entries[j].Seq
		}
		return entries[i].LastAccess.Before(entries[j].LastAccess)
	})
	return entries, nil
}

func (ms *MemoryStore) UpsertCacheEntry(entry models.CacheEntry) error {
	ms.m.Lock()
	defer ms.m.Unlock()
	entry.Pins = 0
	ms.entries[entry.URL] = entry
	return nil
}

func (ms *MemoryStore) DeleteCacheEntry(url string) error {
	ms.m.Lock()
	defer ms.m.Unlock()
	delete(ms.entries, url)
	return nil
}

func (ms *MemoryStore) Close() error {
	return nil
}
