// Package labels turns raw addresses into "image+offset" display strings and
// memoizes them for one attachment.
package labels

import (
	"fmt"
	"sync"

	"procview/internal/target"
)

// DefaultRegionSize is the granularity of the owning-image memo. Images are
// page aligned, so a page never straddles two images. It is also the
// largest region accepted.
const DefaultRegionSize = 0x1000

type regionEntry struct {
	image target.Image
	ok    bool // false marks a region with no owning image
}

// Cache memoizes labels per exact address and owning images per
// region-aligned key. Reset must be called whenever the attachment changes.
type Cache struct {
	resolver target.Resolver
	mask     uint64

	mu      sync.RWMutex
	exact   map[uint64]string
	regions map[uint64]regionEntry
}

// New creates a label cache over resolver. regionSize must be a power of two
// no larger than DefaultRegionSize; anything else selects DefaultRegionSize.
func New(resolver target.Resolver, regionSize uint64) *Cache {
	if regionSize == 0 || regionSize&(regionSize-1) != 0 || regionSize > DefaultRegionSize {
		regionSize = DefaultRegionSize
	}
	return &Cache{
		resolver: resolver,
		mask:     ^(regionSize - 1),
		exact:    make(map[uint64]string),
		regions:  make(map[uint64]regionEntry),
	}
}

// Resolve returns the display label for addr.
func (c *Cache) Resolve(addr uint64) string {
	c.mu.RLock()
	if s, ok := c.exact[addr]; ok {
		c.mu.RUnlock()
		return s
	}
	entry, known := c.regions[addr&c.mask]
	c.mu.RUnlock()

	if !known {
		// No lock is held across the collaborator call.
		im, ok := c.resolver.ResolveOwningImage(addr)
		entry = regionEntry{image: im, ok: ok}
	}

	s := format(addr, entry)

	c.mu.Lock()
	if !known {
		c.regions[addr&c.mask] = entry
	}
	c.exact[addr] = s
	c.mu.Unlock()
	return s
}

// Image returns the memoized owning image for addr, resolving it if needed.
func (c *Cache) Image(addr uint64) (target.Image, bool) {
	c.mu.RLock()
	entry, known := c.regions[addr&c.mask]
	c.mu.RUnlock()
	if known {
		return entry.image, entry.ok
	}
	im, ok := c.resolver.ResolveOwningImage(addr)
	c.mu.Lock()
	c.regions[addr&c.mask] = regionEntry{image: im, ok: ok}
	c.mu.Unlock()
	return im, ok
}

func format(addr uint64, e regionEntry) string {
	if !e.ok || addr < e.image.Base {
		return fmt.Sprintf("%X", addr)
	}
	return fmt.Sprintf("%s+%X", e.image.Name, addr-e.image.Base)
}

// Reset drops every memoized label and image.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.exact = make(map[uint64]string)
	c.regions = make(map[uint64]regionEntry)
	c.mu.Unlock()
}

// SetResolver swaps the resolver and clears the cache; labels are only
// meaningful within one attachment's address space.
func (c *Cache) SetResolver(r target.Resolver) {
	c.mu.Lock()
	c.resolver = r
	c.exact = make(map[uint64]string)
	c.regions = make(map[uint64]regionEntry)
	c.mu.Unlock()
}

// Len returns the number of exact-address labels held.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.exact)
}
