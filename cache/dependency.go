package cache

import (
	"slices"

	"github.com/vmihailenco/msgpack/v5"
)

// dependencyIndex maps a cache key to the entity types its value embeds.
// Sets only grow; a key leaves the index when it is invalidated.
type dependencyIndex map[string][]string

// merge adds deps to key and reports whether anything changed.
func (d dependencyIndex) merge(key string, deps []string) bool {
	current, exists := d[key]
	changed := !exists
	for _, dep := range deps {
		if !slices.Contains(current, dep) {
			current = append(current, dep)
			changed = true
		}
	}
	if changed {
		slices.Sort(current)
		d[key] = current
	}
	return changed
}

func (d dependencyIndex) union(other dependencyIndex) {
	for key, deps := range other {
		d.merge(key, deps)
	}
}

func (d dependencyIndex) dependsOnAny(key string, types map[string]struct{}) bool {
	for _, dep := range d[key] {
		if _, ok := types[dep]; ok {
			return true
		}
	}
	return false
}

func (d dependencyIndex) encode() ([]byte, error) {
	return msgpack.Marshal(map[string][]string(d))
}

func decodeDependencyIndex(data []byte) (dependencyIndex, error) {
	var raw map[string][]string
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = make(map[string][]string)
	}
	return dependencyIndex(raw), nil
}
