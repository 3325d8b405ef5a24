package sheet

// StyleTable is one of the six append-only style stores (fonts, colors,
// border styles, layouts, cell formats, value formats). Entries are
// 1-based; index 0 is reserved for "use default" and never stored. Live
// tables only grow, so indices held by cells stay valid during editing;
// compaction happens on a canonicalized copy at save time.
type StyleTable struct {
	entries []string
	lookup  map[string]int
}

func newStyleTable() *StyleTable {
	return &StyleTable{lookup: make(map[string]int)}
}

// Index returns the index for value, appending a new entry on first use.
// The empty value is always index 0.
func (t *StyleTable) Index(value string) int {
	if value == "" {
		return 0
	}
	if i, ok := t.lookup[value]; ok {
		return i
	}
	t.entries = append(t.entries, value)
	i := len(t.entries)
	t.lookup[value] = i
	return i
}

// Value returns the entry at index i, or "" for 0 and out-of-range.
func (t *StyleTable) Value(i int) string {
	if i < 1 || i > len(t.entries) {
		return ""
	}
	return t.entries[i-1]
}

// Len is the number of live entries (highest valid index).
func (t *StyleTable) Len() int { return len(t.entries) }

// setAt places value at index i, growing the table as needed. Used by the
// save loader, which must reproduce indices exactly.
func (t *StyleTable) setAt(i int, value string) {
	if i < 1 {
		return
	}
	for len(t.entries) < i {
		t.entries = append(t.entries, "")
	}
	t.entries[i-1] = value
	t.lookup[value] = i
}
