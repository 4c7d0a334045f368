package aggregate

import "sort"

// Entry is one labeled count in a ranking.
type Entry struct {
	Label string
	Count int
}

// TopK maintains the k highest counts over a set of labels. The ranked
// slice is adjusted incrementally on the common path; a full rebuild from
// the counts map happens only when a demotion means an unranked label
// could overtake the current minimum-in-top.
type TopK struct {
	k      int
	counts map[string]int
	top    []Entry // sorted desc by count, ties ascending by label
}

// NewTopK creates a ranking bounded to k entries.
func NewTopK(k int) *TopK {
	if k <= 0 {
		k = 1
	}
	return &TopK{
		k:      k,
		counts: make(map[string]int),
	}
}

// ranks reports whether entry a sorts ahead of entry b.
func ranks(a, b Entry) bool {
	if a.Count != b.Count {
		return a.Count > b.Count
	}
	return a.Label < b.Label
}

// Inc increments the count for label.
func (t *TopK) Inc(label string) {
	t.counts[label]++
	n := t.counts[label]

	if i := t.index(label); i >= 0 {
		t.top[i].Count = n
		t.bubbleUp(i)
		return
	}

	e := Entry{Label: label, Count: n}
	if len(t.top) < t.k {
		t.top = append(t.top, e)
		t.bubbleUp(len(t.top) - 1)
		return
	}

	// Only enters the ranking by beating the current minimum.
	last := len(t.top) - 1
	if ranks(e, t.top[last]) {
		t.top[last] = e
		t.bubbleUp(last)
	}
}

// Dec decrements the count for label, removing it at zero.
func (t *TopK) Dec(label string) {
	n, ok := t.counts[label]
	if !ok {
		return
	}
	n--
	if n <= 0 {
		delete(t.counts, label)
	} else {
		t.counts[label] = n
	}

	i := t.index(label)
	if i < 0 {
		return
	}

	if n <= 0 {
		t.top = append(t.top[:i], t.top[i+1:]...)
	} else {
		t.top[i].Count = n
		t.bubbleDown(i)
	}

	// A demoted entry may have fallen behind an unranked label.
	t.rebuildIfOvertaken()
}

// Count returns the current count for label.
func (t *TopK) Count(label string) int {
	return t.counts[label]
}

// Distinct returns the number of labels with a non-zero count.
func (t *TopK) Distinct() int {
	return len(t.counts)
}

// Top returns a copy of the ranked entries, descending by count with ties
// broken ascending by label. Repeated calls with no intervening updates
// return identical results.
func (t *TopK) Top() []Entry {
	out := make([]Entry, len(t.top))
	copy(out, t.top)
	return out
}

func (t *TopK) index(label string) int {
	for i, e := range t.top {
		if e.Label == label {
			return i
		}
	}
	return -1
}

func (t *TopK) bubbleUp(i int) {
	for i > 0 && ranks(t.top[i], t.top[i-1]) {
		t.top[i], t.top[i-1] = t.top[i-1], t.top[i]
		i--
	}
}

func (t *TopK) bubbleDown(i int) {
	for i < len(t.top)-1 && ranks(t.top[i+1], t.top[i]) {
		t.top[i], t.top[i+1] = t.top[i+1], t.top[i]
		i++
	}
}

// rebuildIfOvertaken re-sorts from the counts map when the ranking is no
// longer full-by-necessity or its minimum could be beaten by an unranked
// label.
func (t *TopK) rebuildIfOvertaken() {
	if len(t.top) == len(t.counts) {
		return // every label is ranked
	}
	if len(t.top) == 0 {
		t.rebuild()
		return
	}

	min := t.top[len(t.top)-1]
	for label, n := range t.counts {
		if t.index(label) >= 0 {
			continue
		}
		if ranks(Entry{Label: label, Count: n}, min) {
			t.rebuild()
			return
		}
	}

	if len(t.top) < t.k {
		t.rebuild()
	}
}

func (t *TopK) rebuild() {
	all := make([]Entry, 0, len(t.counts))
	for label, n := range t.counts {
		all = append(all, Entry{Label: label, Count: n})
	}
	sort.Slice(all, func(i, j int) bool { return ranks(all[i], all[j]) })

	if len(all) > t.k {
		all = all[:t.k]
	}
	t.top = all
}
