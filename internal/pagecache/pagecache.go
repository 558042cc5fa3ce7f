// Package pagecache is a short-lived cache of page-aligned reads used by the
// live raw-byte view.
package pagecache

import (
	"log/slog"
	"sync"
	"time"

	"procview/internal/target"
)

const (
	DefaultPageSize = 0x1000
	DefaultTTL      = 250 * time.Millisecond
	DefaultMaxPages = 256
)

type page struct {
	data       []byte // may be shorter than the page size near a mapping end
	capturedAt time.Time
}

// Cache serves reads from whole pages no older than the TTL. At most one
// real read happens per page per TTL window.
type Cache struct {
	reader   target.Reader
	pageSize uint64
	ttl      time.Duration
	maxPages int
	now      func() time.Time

	mu    sync.Mutex
	pages map[uint64]page
	reads int
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New returns a cache over r. Non-positive arguments select the defaults;
// pageSize must be a power of two.
func New(r target.Reader, pageSize int, ttl time.Duration, maxPages int, opts ...Option) *Cache {
	if pageSize <= 0 || pageSize&(pageSize-1) != 0 {
		pageSize = DefaultPageSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	c := &Cache{
		reader:   r,
		pageSize: uint64(pageSize),
		ttl:      ttl,
		maxPages: maxPages,
		now:      time.Now,
		pages:    make(map[uint64]page),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Read returns size bytes at addr. The result is nil when a page read fails
// or the range runs past the bytes available.
func (c *Cache) Read(addr uint64, size int) []byte {
	if size <= 0 {
		return nil
	}
	out := make([]byte, 0, size)
	cur := addr
	for len(out) < size {
		base := cur &^ (c.pageSize - 1)
		data, ok := c.page(base)
		if !ok {
			return nil
		}
		off := cur - base
		if off >= uint64(len(data)) {
			return nil
		}
		n := min(uint64(len(data))-off, uint64(size-len(out)))
		out = append(out, data[off:off+n]...)
		cur += n
		if uint64(len(data)) < c.pageSize && len(out) < size {
			// Short page: nothing is readable past it.
			return nil
		}
	}
	return out
}

func (c *Cache) page(base uint64) ([]byte, bool) {
	c.mu.Lock()
	p, ok := c.pages[base]
	now := c.now()
	if ok && now.Sub(p.capturedAt) <= c.ttl {
		c.mu.Unlock()
		return p.data, true
	}
	r := c.reader
	c.mu.Unlock()

	// No lock is held across the collaborator read.
	data, ok := r.ReadBytes(base, int(c.pageSize))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	if !ok || len(data) == 0 {
		delete(c.pages, base)
		return nil, false
	}
	c.pages[base] = page{data: data, capturedAt: now}
	if len(c.pages) > c.maxPages {
		c.evict(now)
	}
	return data, true
}

// evict drops pages older than twice the TTL and, if the cache is still
// over its bound, everything. Called with mu held.
func (c *Cache) evict(now time.Time) {
	for base, p := range c.pages {
		if now.Sub(p.capturedAt) > 2*c.ttl {
			delete(c.pages, base)
		}
	}
	if len(c.pages) > c.maxPages {
		slog.Debug("page cache over bound, dropping all", "pages", len(c.pages))
		clear(c.pages)
	}
}

// Invalidate drops every page overlapping [addr, addr+size).
func (c *Cache) Invalidate(addr uint64, size int) {
	if size <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	last := (addr + uint64(size) - 1) &^ (c.pageSize - 1)
	for base := addr &^ (c.pageSize - 1); base <= last; base += c.pageSize {
		delete(c.pages, base)
		if base+c.pageSize < base {
			break
		}
	}
}

// Reset drops every page.
func (c *Cache) Reset() {
	c.mu.Lock()
	clear(c.pages)
	c.mu.Unlock()
}

// SetReader swaps the reader and drops every page.
func (c *Cache) SetReader(r target.Reader) {
	c.mu.Lock()
	c.reader = r
	clear(c.pages)
	c.mu.Unlock()
}

// Len returns the number of cached pages.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pages)
}

// Reads returns how many real reads the cache has issued.
func (c *Cache) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}
