package aggregate

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"
)

func entries(pairs ...any) []Entry {
	out := make([]Entry, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, Entry{Label: pairs[i].(string), Count: pairs[i+1].(int)})
	}
	return out
}

func assertTop(t *testing.T, got, want []Entry) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d entries %v, want %d %v", len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d = %+v, want %+v (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestTopKRanking(t *testing.T) {
	tk := NewTopK(3)

	for i := 0; i < 5; i++ {
		tk.Inc("SQL Injection")
	}
	for i := 0; i < 3; i++ {
		tk.Inc("Port Scan")
	}
	tk.Inc("XSS")

	assertTop(t, tk.Top(), entries("SQL Injection", 5, "Port Scan", 3, "XSS", 1))
}

func TestTopKBounded(t *testing.T) {
	tk := NewTopK(2)
	tk.Inc("a")
	tk.Inc("b")
	tk.Inc("c")

	if len(tk.Top()) != 2 {
		t.Errorf("got %d entries, want 2", len(tk.Top()))
	}
	if tk.Distinct() != 3 {
		t.Errorf("Distinct() = %d, want 3", tk.Distinct())
	}
}

func TestTopKTiesBreakByLabel(t *testing.T) {
	tk := NewTopK(3)
	tk.Inc("zebra")
	tk.Inc("apple")
	tk.Inc("mango")

	assertTop(t, tk.Top(), entries("apple", 1, "mango", 1, "zebra", 1))
}

func TestTopKUnrankedLabelEntersOnOvertake(t *testing.T) {
	tk := NewTopK(2)
	for i := 0; i < 3; i++ {
		tk.Inc("a")
	}
	for i := 0; i < 2; i++ {
		tk.Inc("b")
	}
	tk.Inc("c") // unranked at 1

	assertTop(t, tk.Top(), entries("a", 3, "b", 2))

	tk.Inc("c")
	tk.Inc("c") // c reaches 3, ties a, beats b
	assertTop(t, tk.Top(), entries("a", 3, "c", 3))
}

func TestTopKDec(t *testing.T) {
	tk := NewTopK(2)
	for i := 0; i < 3; i++ {
		tk.Inc("a")
	}
	for i := 0; i < 2; i++ {
		tk.Inc("b")
	}
	tk.Inc("c")

	t.Run("demotion promotes unranked label", func(t *testing.T) {
		// a drops to 1; c at 1 ties it but "a" < "c", so a keeps the slot.
		tk.Dec("a")
		tk.Dec("a")
		assertTop(t, tk.Top(), entries("b", 2, "a", 1))
	})

	t.Run("removal at zero backfills", func(t *testing.T) {
		tk.Dec("a")
		if tk.Count("a") != 0 {
			t.Errorf("Count(a) = %d, want 0", tk.Count("a"))
		}
		assertTop(t, tk.Top(), entries("b", 2, "c", 1))
	})

	t.Run("dec unknown label", func(t *testing.T) {
		tk.Dec("never-seen")
		assertTop(t, tk.Top(), entries("b", 2, "c", 1))
	})
}

func TestTopKZeroK(t *testing.T) {
	tk := NewTopK(0)
	tk.Inc("a")
	if len(tk.Top()) != 1 {
		t.Errorf("got %d entries, want 1", len(tk.Top()))
	}
}

func TestTopKMatchesFullSort(t *testing.T) {
	// Random Inc/Dec sequence; the incremental ranking must always agree
	// with a sort of the full counts map.
	rng := rand.New(rand.NewSource(7))
	tk := NewTopK(4)
	counts := map[string]int{}
	labels := []string{"a", "b", "c", "d", "e", "f", "g"}

	for step := 0; step < 2000; step++ {
		label := labels[rng.Intn(len(labels))]
		if rng.Intn(3) == 0 && counts[label] > 0 {
			tk.Dec(label)
			counts[label]--
			if counts[label] == 0 {
				delete(counts, label)
			}
		} else {
			tk.Inc(label)
			counts[label]++
		}

		want := make([]Entry, 0, len(counts))
		for l, n := range counts {
			want = append(want, Entry{Label: l, Count: n})
		}
		sort.Slice(want, func(i, j int) bool { return ranks(want[i], want[j]) })
		if len(want) > 4 {
			want = want[:4]
		}

		got := tk.Top()
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Fatalf("step %d: ranking %v diverged from reference %v (counts %v)", step, got, want, counts)
		}
	}
}
