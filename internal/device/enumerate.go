package device

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// GlobEnumerator lists character devices matching a glob such as /dev/video*.
type GlobEnumerator struct {
	Pattern string
}

// NewGlobEnumerator returns an enumerator for pattern.
func NewGlobEnumerator(pattern string) *GlobEnumerator {
	return &GlobEnumerator{Pattern: pattern}
}

// Enumerate returns matching device nodes ordered by their numeric suffix.
func (e *GlobEnumerator) Enumerate(ctx context.Context) ([]ID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(e.Pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: glob %q: %v", ErrEnumerate, e.Pattern, err)
	}
	ids := make([]ID, 0, len(matches))
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.Mode()&os.ModeCharDevice == 0 {
			continue
		}
		ids = append(ids, ID(path))
	}
	SortIDs(ids)
	return ids, nil
}

// SortIDs orders ids ascending, comparing trailing numbers numerically so
// /dev/video2 sorts before /dev/video10.
func SortIDs(ids []ID) {
	sort.Slice(ids, func(i, j int) bool {
		return lessByIndex(string(ids[i]), string(ids[j]))
	})
}

// Info describes one enumerated device for operator output.
type Info struct {
	ID         ID
	Accessible bool
	Problem    string
}

// Describe reports whether the current process can open each device node
// read/write.
func Describe(ids []ID) []Info {
	out := make([]Info, 0, len(ids))
	for _, id := range ids {
		info := Info{ID: id, Accessible: true}
		if err := unix.Access(string(id), unix.R_OK|unix.W_OK); err != nil {
			info.Accessible = false
			info.Problem = err.Error()
		}
		out = append(out, info)
	}
	return out
}

func lessByIndex(a, b string) bool {
	ap, an, aok := splitIndex(a)
	bp, bn, bok := splitIndex(b)
	if aok && bok && ap == bp && an != bn {
		return an < bn
	}
	return a < b
}

func splitIndex(path string) (string, int, bool) {
	trimmed := strings.TrimRightFunc(path, func(r rune) bool { return r >= '0' && r <= '9' })
	if trimmed == path {
		return path, 0, false
	}
	n, err := strconv.Atoi(path[len(trimmed):])
	if err != nil {
		return path, 0, false
	}
	return trimmed, n, true
}
