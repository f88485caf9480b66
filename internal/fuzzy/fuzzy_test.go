package fuzzy

import (
	"math"
	"testing"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestClean(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"John Smith", "John Smith"},
		{"John 😀😀 Smith!!", "John Smith"},
		{"  spaced   out  ", "spaced out"},
		{"O'Brien-Jones", "O'Brien-Jones"},
		{"⭐️✨💫", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Clean(tt.input); got != tt.want {
			t.Errorf("Clean(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestRatio(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"", "", 1.0},
		{"abc", "abc", 1.0},
		{"abc", "abd", 2.0 * 2 / 6},
		{"john", "john smith", 2.0 * 4 / 14},
		{"abc", "xyz", 0},
	}
	for _, tt := range tests {
		if got := Ratio(tt.a, tt.b); !approx(got, tt.want) {
			t.Errorf("Ratio(%q, %q) = %g, want %g", tt.a, tt.b, got, tt.want)
		}
	}

	// Symmetric-ish total: order of arguments must not flip the score
	// for these inputs.
	if a, b := Ratio("kitten", "sitting"), Ratio("sitting", "kitten"); !approx(a, b) {
		t.Errorf("asymmetric ratio: %g vs %g", a, b)
	}
}

func TestRatioDeterministic(t *testing.T) {
	first := Ratio("jonathan smythe", "john smith")
	for i := 0; i < 100; i++ {
		if got := Ratio("jonathan smythe", "john smith"); got != first {
			t.Fatalf("iteration %d: ratio drifted from %g to %g", i, first, got)
		}
	}
}

func TestScore(t *testing.T) {
	// Exact match ignores case and emoji noise.
	if got := Score("John Smith", "john 🎉 smith", 0.6); got != 1.0 {
		t.Errorf("exact score = %g, want 1.0", got)
	}

	// Substring heuristic when it clears threshold.
	if got := Score("john", "johnny depp", 0.3); !approx(got, 4.0/11.0*0.9) {
		t.Errorf("substring score = %g, want %g", got, 4.0/11.0*0.9)
	}

	// Substring below threshold: ratio decides.
	if got := Score("john", "johnny depp", 0.4); !approx(got, 2.0*4/15) {
		t.Errorf("fallback score = %g, want %g", got, 2.0*4/15)
	}

	if got := Score("zzz", "john smith", 0.6); got >= 0.6 {
		t.Errorf("unrelated score = %g, should be low", got)
	}
}

func TestRank(t *testing.T) {
	candidates := []string{"John Smith", "Johnny Appleseed", "Jane Doe"}

	matches := Rank("John", candidates, 0.4)
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2: %+v", len(matches), matches)
	}
	if matches[0].Index != 0 {
		t.Errorf("best match should be John Smith, got index %d", matches[0].Index)
	}
	if matches[1].Index != 1 {
		t.Errorf("second match should be Johnny Appleseed, got index %d", matches[1].Index)
	}
	if matches[0].Score <= matches[1].Score {
		t.Errorf("scores not descending: %g then %g", matches[0].Score, matches[1].Score)
	}

	// Higher threshold narrows the field.
	matches = Rank("John", candidates, 0.5)
	if len(matches) != 1 || matches[0].Index != 0 {
		t.Errorf("threshold 0.5: got %+v, want only John Smith", matches)
	}

	if matches := Rank("John", nil, 0.4); len(matches) != 0 {
		t.Errorf("nil candidates gave %+v", matches)
	}
}

func TestRankStable(t *testing.T) {
	// Identical candidates score identically; order must hold.
	candidates := []string{"Sam Jones", "Sam Jones", "Sam Jones"}
	matches := Rank("Sam Jones", candidates, 0.6)
	if len(matches) != 3 {
		t.Fatalf("got %d matches, want 3", len(matches))
	}
	for i, m := range matches {
		if m.Index != i {
			t.Errorf("match %d has index %d, stability broken", i, m.Index)
		}
	}
}
