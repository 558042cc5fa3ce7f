package target

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
)

// Mapping is one line of a /proc/<pid>/maps listing.
type Mapping struct {
	Start, End uint64
	Perm       Protection
	Shared     bool
	Offset     uint64
	Dev        string
	Inode      uint64
	Path       string
}

// IsImage reports whether the mapping is backed by a file.
func (m Mapping) IsImage() bool {
	return m.Path != "" && !strings.HasPrefix(m.Path, "[")
}

// ParseMaps parses the /proc/<pid>/maps format.
func ParseMaps(r io.Reader) ([]Mapping, error) {
	var out []Mapping
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		m, err := parseMapsLine(line)
		if err != nil {
			return nil, fmt.Errorf("maps line %d: %w", lineNo, err)
		}
		out = append(out, m)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read maps: %w", err)
	}
	return out, nil
}

func parseMapsLine(line string) (Mapping, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return Mapping{}, fmt.Errorf("short line %q", line)
	}
	lo, hi, ok := strings.Cut(fields[0], "-")
	if !ok {
		return Mapping{}, fmt.Errorf("bad range %q", fields[0])
	}
	var m Mapping
	var err error
	if m.Start, err = strconv.ParseUint(lo, 16, 64); err != nil {
		return Mapping{}, fmt.Errorf("bad start %q: %w", lo, err)
	}
	if m.End, err = strconv.ParseUint(hi, 16, 64); err != nil {
		return Mapping{}, fmt.Errorf("bad end %q: %w", hi, err)
	}

	perms := fields[1]
	if len(perms) != 4 {
		return Mapping{}, fmt.Errorf("bad perms %q", perms)
	}
	if perms[0] == 'r' {
		m.Perm |= ProtRead
	}
	if perms[1] == 'w' {
		m.Perm |= ProtWrite
	}
	if perms[2] == 'x' {
		m.Perm |= ProtExec
	}
	m.Shared = perms[3] == 's'

	if m.Offset, err = strconv.ParseUint(fields[2], 16, 64); err != nil {
		return Mapping{}, fmt.Errorf("bad offset %q: %w", fields[2], err)
	}
	m.Dev = fields[3]
	if m.Inode, err = strconv.ParseUint(fields[4], 10, 64); err != nil {
		return Mapping{}, fmt.Errorf("bad inode %q: %w", fields[4], err)
	}
	if len(fields) > 5 {
		m.Path = strings.Join(fields[5:], " ")
	}
	return m, nil
}

// ImageOf resolves addr against a maps listing. The image base is the
// lowest start address of any mapping of the same file.
func ImageOf(maps []Mapping, addr uint64) (Image, bool) {
	var owner *Mapping
	for i := range maps {
		if addr >= maps[i].Start && addr < maps[i].End {
			owner = &maps[i]
			break
		}
	}
	if owner == nil || !owner.IsImage() {
		return Image{}, false
	}
	base := owner.Start
	for _, m := range maps {
		if m.Path == owner.Path && m.Start < base {
			base = m.Start
		}
	}
	return Image{Name: filepath.Base(owner.Path), Base: base}, true
}
