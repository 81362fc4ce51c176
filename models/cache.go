package models

import "time"

// CacheEntry is the bookkeeping row for one cached media file. Pins are not
// persisted, they only live for the current presentation.
type CacheEntry struct {
	URL        string    `db:"url" json:"url"`
	FileName   string    `db:"file_name" json:"file_name"`
	Size       int64     `db:"size" json:"size"`
	LastAccess time.Time `db:"last_access" json:"last_access"`
	Seq        uint64    `db:"seq" json:"seq"`
	Pins       int       `db:"-" json:"pins"`
}

func (c CacheEntry) Pinned() bool {
	return c.Pins > 0
}
