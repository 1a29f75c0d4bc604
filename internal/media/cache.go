package media

import (
	"sync"

	"github.com/patrickmn/go-cache"

	"github.com/tphakala/cmsbridge/internal/errors"
	"github.com/tphakala/cmsbridge/internal/mapstore"
)

// ImageCache maps source file ids to target file ids. Entries never
// expire; every Put rewrites the backing file so a crash loses at most the
// transfer in flight.
type ImageCache struct {
	path  string
	items *cache.Cache

	// saveMu serializes snapshot and rename.
	saveMu sync.Mutex
}

// Open loads the cache at path. A missing file starts an empty cache.
func Open(path string) (*ImageCache, error) {
	m, _, err := mapstore.LoadOrEmpty(path)
	if err != nil {
		return nil, errors.New(err).
			Component("media").
			Category(errors.CategoryMediaCache).
			Context("path", path).
			Build()
	}

	items := make(map[string]cache.Item, len(m))
	for k, v := range m {
		items[k] = cache.Item{Object: v}
	}
	return &ImageCache{
		path:  path,
		items: cache.NewFrom(cache.NoExpiration, 0, items),
	}, nil
}

// Get returns the target file id for sourceFileID.
func (c *ImageCache) Get(sourceFileID string) (string, bool) {
	v, ok := c.items.Get(sourceFileID)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

// Put records a transfer and persists the whole cache.
func (c *ImageCache) Put(sourceFileID, targetFileID string) error {
	c.items.Set(sourceFileID, targetFileID, cache.NoExpiration)
	return c.save()
}

// Len returns the number of cached transfers.
func (c *ImageCache) Len() int {
	return c.items.ItemCount()
}

// Path returns the backing file.
func (c *ImageCache) Path() string {
	return c.path
}

// Close persists the cache one last time.
func (c *ImageCache) Close() error {
	return c.save()
}

func (c *ImageCache) save() error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	snapshot := c.items.Items()
	m := make(map[string]string, len(snapshot))
	for k, it := range snapshot {
		if id, ok := it.Object.(string); ok {
			m[k] = id
		}
	}
	if err := mapstore.Save(c.path, m); err != nil {
		return errors.New(err).
			Component("media").
			Category(errors.CategoryMediaCache).
			Context("path", c.path).
			Build()
	}
	return nil
}
