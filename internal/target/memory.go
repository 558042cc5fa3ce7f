package target

import (
	"fmt"
	"sort"
	"sync"
)

// PageSize is the protection granularity of Memory.
const PageSize = 0x1000

// Region is one mapped range of a Memory address space.
type Region struct {
	Base  uint64
	Data  []byte
	Image string // owning image name, empty for anonymous mappings

	prot []Protection // one entry per page
}

// End returns the first address past the region.
func (r *Region) End() uint64 { return r.Base + uint64(len(r.Data)) }

func (r *Region) contains(addr uint64) bool {
	return addr >= r.Base && addr < r.End()
}

func (r *Region) protAt(addr uint64) Protection {
	return r.prot[(addr-r.Base)/PageSize]
}

// Memory is a sparse in-memory address space. It backs the ELF snapshot
// target and stands in for a live process in tests.
type Memory struct {
	mu      sync.RWMutex
	regions []*Region // sorted by Base, non-overlapping
	bypass  bool

	flushes int
}

// NewMemory creates an empty address space.
func NewMemory() *Memory {
	return &Memory{}
}

// SetBypass makes writes ignore page protection.
func (m *Memory) SetBypass(bypass bool) {
	m.mu.Lock()
	m.bypass = bypass
	m.mu.Unlock()
}

// BypassesProtection implements Bypasser.
func (m *Memory) BypassesProtection() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bypass
}

// Map adds a region. base must be page aligned; data is copied.
func (m *Memory) Map(base uint64, data []byte, prot Protection, image string) (*Region, error) {
	if base%PageSize != 0 {
		return nil, fmt.Errorf("map %#x: base not page aligned", base)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("map %#x: empty region", base)
	}
	r := &Region{
		Base:  base,
		Data:  append([]byte(nil), data...),
		Image: image,
	}
	pages := (len(data) + PageSize - 1) / PageSize
	r.prot = make([]Protection, pages)
	for i := range r.prot {
		r.prot[i] = prot
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.regions {
		if base < other.End() && other.Base < r.End() {
			return nil, fmt.Errorf("map %#x: overlaps region at %#x", base, other.Base)
		}
	}
	m.regions = append(m.regions, r)
	sort.Slice(m.regions, func(i, j int) bool {
		return m.regions[i].Base < m.regions[j].Base
	})
	return r, nil
}

// Regions returns the mapped regions in address order.
func (m *Memory) Regions() []*Region {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Region(nil), m.regions...)
}

func (m *Memory) regionAt(addr uint64) *Region {
	i := sort.Search(len(m.regions), func(i int) bool {
		return m.regions[i].End() > addr
	})
	if i < len(m.regions) && m.regions[i].contains(addr) {
		return m.regions[i]
	}
	return nil
}

// ReadBytes reads up to size bytes and stops at the first unmapped or
// unreadable page.
func (m *Memory) ReadBytes(addr uint64, size int) ([]byte, bool) {
	if size <= 0 {
		return nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]byte, 0, size)
	cur := addr
	for len(out) < size {
		r := m.regionAt(cur)
		if r == nil || r.protAt(cur)&ProtRead == 0 {
			break
		}
		pageEnd := (cur/PageSize + 1) * PageSize
		if pageEnd > r.End() {
			pageEnd = r.End()
		}
		n := int(pageEnd - cur)
		if rest := size - len(out); n > rest {
			n = rest
		}
		off := cur - r.Base
		out = append(out, r.Data[off:off+uint64(n)]...)
		cur += uint64(n)
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// WriteBytes writes data. The write is all-or-nothing: every touched page
// must be mapped and writable unless protection is bypassed.
func (m *Memory) WriteBytes(addr uint64, data []byte) bool {
	if len(data) == 0 {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	end := addr + uint64(len(data))
	for cur := addr; cur < end; {
		r := m.regionAt(cur)
		if r == nil {
			return false
		}
		if !m.bypass && r.protAt(cur)&ProtWrite == 0 {
			return false
		}
		next := (cur/PageSize + 1) * PageSize
		if next > r.End() {
			next = r.End()
		}
		cur = next
	}
	for i, b := range data {
		cur := addr + uint64(i)
		r := m.regionAt(cur)
		r.Data[cur-r.Base] = b
	}
	return true
}

// ChangeProtection sets prot on every page of the range and returns the
// previous protection of the first page.
func (m *Memory) ChangeProtection(addr uint64, size int, prot Protection) (Protection, error) {
	if size <= 0 {
		return ProtNone, fmt.Errorf("change protection %#x: empty range", addr)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	first := m.regionAt(addr)
	if first == nil {
		return ProtNone, fmt.Errorf("change protection %#x: %w", addr, ErrUnmapped)
	}
	old := first.protAt(addr)

	end := addr + uint64(size)
	start := addr &^ (PageSize - 1)
	for cur := start; cur < end; cur += PageSize {
		page := cur
		if page < addr {
			page = addr
		}
		if m.regionAt(page) == nil {
			return ProtNone, fmt.Errorf("change protection %#x: %w", page, ErrUnmapped)
		}
	}
	for cur := start; cur < end; cur += PageSize {
		page := cur
		if page < addr {
			page = addr
		}
		r := m.regionAt(page)
		r.prot[(page-r.Base)/PageSize] = prot
	}
	return old, nil
}

// Protection returns the protection of the page containing addr.
func (m *Memory) Protection(addr uint64) (Protection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r := m.regionAt(addr)
	if r == nil {
		return ProtNone, false
	}
	return r.protAt(addr), true
}

// FlushExecutionCache counts flush requests; memory has no instruction cache.
func (m *Memory) FlushExecutionCache(addr uint64, size int) bool {
	m.mu.Lock()
	m.flushes++
	m.mu.Unlock()
	return true
}

// Flushes returns the number of flush requests seen.
func (m *Memory) Flushes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flushes
}

// ResolveOwningImage returns the image of the region containing addr. The
// base is the lowest region base carrying the same image name.
func (m *Memory) ResolveOwningImage(addr uint64) (Image, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r := m.regionAt(addr)
	if r == nil || r.Image == "" {
		return Image{}, false
	}
	base := r.Base
	for _, other := range m.regions {
		if other.Image == r.Image && other.Base < base {
			base = other.Base
		}
	}
	return Image{Name: r.Image, Base: base}, true
}

var _ Target = (*Memory)(nil)
