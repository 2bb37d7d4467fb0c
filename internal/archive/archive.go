// Package archive defines the content-archive port the engine requires from
// its host (§6.3) and a lump cache built on top of it.
package archive

import (
	"errors"
	"fmt"
	"sync"
)

// ErrMissing is returned by LookupLumpByName when a name is not present in
// the archive.
var ErrMissing = errors.New("archive: lump not found")

// LumpSource is the narrow port the engine requires from its host, exactly
// as specified in §6.3 "Archive accessor (required from the host)". The
// framebuffer presenter, input translator, platform bootstrap, filesystem
// lookup, and the concrete archive reader are all out of scope; only this
// interface crosses the boundary.
type LumpSource interface {
	// LookupLumpByName resolves a name to a numeric id, or ErrMissing.
	LookupLumpByName(name string) (id int, err error)
	// CacheLump returns a stable byte slice for id. The returned slice must
	// remain valid for the life of the process or until an explicit release
	// by the host.
	CacheLump(id int) ([]byte, error)
	// LumpLength returns the byte length of id without necessarily caching it.
	LumpLength(id int) (int, error)
}

// Cache wraps a LumpSource with an id-keyed read-through cache. A sync.Map
// is used rather than a mutex-guarded map because the access pattern is
// read-mostly (lumps are fetched once per song/SFX and reused for the life
// of the process, per §3 "Ownership").
type Cache struct {
	source LumpSource
	lumps  sync.Map // id -> []byte
}

// NewCache wraps source.
func NewCache(source LumpSource) *Cache {
	return &Cache{source: source}
}

// Lookup resolves name to an id via the underlying source.
func (c *Cache) Lookup(name string) (int, error) {
	return c.source.LookupLumpByName(name)
}

// Get returns the cached bytes for id, fetching and caching them on first
// access.
func (c *Cache) Get(id int) ([]byte, error) {
	if v, ok := c.lumps.Load(id); ok {
		return v.([]byte), nil
	}
	data, err := c.source.CacheLump(id)
	if err != nil {
		return nil, fmt.Errorf("archive: cache lump %d: %w", id, err)
	}
	c.lumps.Store(id, data)
	return data, nil
}

// GetByName looks up name then fetches its bytes.
func (c *Cache) GetByName(name string) ([]byte, error) {
	id, err := c.Lookup(name)
	if err != nil {
		return nil, err
	}
	return c.Get(id)
}

// SFXLumpName builds the archive's `ds<SOUND>` naming convention (§4.1).
func SFXLumpName(sound string) string {
	return "ds" + sound
}
