package config

// BufferDiff lists preset buffers that differ between two configs. Names
// are sorted.
type BufferDiff struct {
	Added   []string
	Changed []string
	Removed []string
}

// Empty reports whether the diff has no entries.
func (d BufferDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Changed) == 0 && len(d.Removed) == 0
}

// Diff compares the preset buffers of prev and next. A buffer whose channels,
// capacity, or strict flag changed is listed as Changed.
func Diff(prev, next *Config) BufferDiff {
	var d BufferDiff
	for _, name := range sortedKeys(next.Buffers) {
		was, ok := prev.Buffers[name]
		switch {
		case !ok:
			d.Added = append(d.Added, name)
		case was != next.Buffers[name]:
			d.Changed = append(d.Changed, name)
		}
	}
	for _, name := range sortedKeys(prev.Buffers) {
		if _, ok := next.Buffers[name]; !ok {
			d.Removed = append(d.Removed, name)
		}
	}
	return d
}
