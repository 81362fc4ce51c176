package resolver

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/marcus-crane/marquee/models"
)

const storesKey = "stores"

type StoreLister interface {
	ListStores(ctx context.Context) ([]models.StoreRef, error)
}

// Directory is the list of stores a device can be attached to. It rarely
// changes so it is kept for a while between lookups.
type Directory struct {
	lister StoreLister
	cache  *cache.Cache
}

func NewDirectory(lister StoreLister, ttl time.Duration) *Directory {
	return &Directory{
		lister: lister,
		cache:  cache.New(ttl, 2*ttl),
	}
}

func (d *Directory) Stores(ctx context.Context) ([]models.StoreRef, error) {
	if cached, found := d.cache.Get(storesKey); found {
		return cached.([]models.StoreRef), nil
	}
	stores, err := d.lister.ListStores(ctx)
	if err != nil {
		return []models.StoreRef{}, err
	}
	d.cache.SetDefault(storesKey, stores)
	return stores, nil
}

func (d *Directory) Lookup(ctx context.Context, id int64) (models.StoreRef, bool, error) {
	stores, err := d.Stores(ctx)
	if err != nil {
		return models.StoreRef{}, false, err
	}
	for _, store := range stores {
		if store.ID == id {
			return store, true, nil
		}
	}
	return models.StoreRef{}, false, nil
}

func (d *Directory) Invalidate() {
	d.cache.Delete(storesKey)
}
