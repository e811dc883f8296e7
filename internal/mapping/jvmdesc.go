package mapping

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultRemapCacheSize bounds the descriptor memo used during a merge.
const DefaultRemapCacheSize = 8192

// MapDescriptor rewrites every class name in a JVM field or method
// descriptor through mapName. Primitive and array markers are kept.
// A truncated object type is copied through unchanged.
func MapDescriptor(desc string, mapName func(string) string) string {
	if strings.IndexByte(desc, 'L') < 0 {
		return desc
	}
	var b strings.Builder
	b.Grow(len(desc))
	for i := 0; i < len(desc); {
		c := desc[i]
		if c != 'L' {
			b.WriteByte(c)
			i++
			continue
		}
		end := strings.IndexByte(desc[i:], ';')
		if end < 0 {
			b.WriteString(desc[i:])
			break
		}
		b.WriteByte('L')
		b.WriteString(mapName(desc[i+1 : i+end]))
		b.WriteByte(';')
		i += end + 1
	}
	return b.String()
}

// Remapper translates class names with a lookup, passing unknown names
// through, and memoizes whole descriptors.
type Remapper struct {
	lookup func(string) (string, bool)
	cache  *lru.Cache[string, string]
}

// NewRemapper returns a Remapper over lookup holding up to size descriptors.
func NewRemapper(lookup func(string) (string, bool), size int) (*Remapper, error) {
	if size <= 0 {
		size = DefaultRemapCacheSize
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("creating descriptor cache: %w", err)
	}
	return &Remapper{lookup: lookup, cache: cache}, nil
}

// Class maps one internal class name.
func (r *Remapper) Class(name string) string {
	if mapped, ok := r.lookup(name); ok {
		return mapped
	}
	return name
}

// Descriptor maps every class name inside desc.
func (r *Remapper) Descriptor(desc string) string {
	if mapped, ok := r.cache.Get(desc); ok {
		return mapped
	}
	mapped := MapDescriptor(desc, r.Class)
	r.cache.Add(desc, mapped)
	return mapped
}
