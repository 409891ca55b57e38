package segments

import (
	"math"
	"math/rand"
	"testing"
)

func segsEqual(a, b List) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i].Start-b[i].Start) > 1e-9 || math.Abs(a[i].End-b[i].End) > 1e-9 {
			return false
		}
	}
	return true
}

func TestCoalesce(t *testing.T) {
	tests := []struct {
		name string
		in   []Segment
		want List
	}{
		{
			name: "empty",
			in:   nil,
			want: nil,
		},
		{
			name: "disjoint unchanged",
			in:   []Segment{{0, 1}, {2, 3}},
			want: List{{0, 1}, {2, 3}},
		},
		{
			name: "overlapping merged",
			in:   []Segment{{9.97, 10.07}, {9.99, 10.09}},
			want: List{{9.97, 10.09}},
		},
		{
			name: "touching merged",
			in:   []Segment{{0, 1}, {1, 2}},
			want: List{{0, 2}},
		},
		{
			name: "unsorted input",
			in:   []Segment{{5, 6}, {0, 1}, {5.5, 7}},
			want: List{{0, 1}, {5, 7}},
		},
		{
			name: "contained swallowed",
			in:   []Segment{{0, 10}, {2, 3}},
			want: List{{0, 10}},
		},
		{
			name: "zero length dropped",
			in:   []Segment{{3, 3}, {0, 1}},
			want: List{{0, 1}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Coalesce(tt.in)
			if !segsEqual(got, tt.want) {
				t.Errorf("Coalesce() = %v, want %v", got, tt.want)
			}
			if err := got.Validate(); err != nil {
				t.Errorf("Coalesce() violated list invariant: %v", err)
			}
		})
	}
}

func TestCoalesceDisjointInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 20; trial++ {
		segs := make([]Segment, 200)
		for i := range segs {
			start := rng.Float64() * 1000
			segs[i] = Segment{Start: start, End: start + rng.Float64()*10}
		}
		out := Coalesce(segs)
		if err := out.Validate(); err != nil {
			t.Fatalf("trial %d: %v", trial, err)
		}
		// Every input point must survive.
		for _, s := range segs {
			if !out.Contains(s.Start) {
				t.Fatalf("trial %d: coalesced list lost point %f", trial, s.Start)
			}
		}
	}
}

func TestSubtract(t *testing.T) {
	tests := []struct {
		name string
		a, b List
		want List
	}{
		{
			name: "hole punched",
			a:    List{{0, 10}},
			b:    List{{4, 6}},
			want: List{{0, 4}, {6, 10}},
		},
		{
			name: "nothing removed",
			a:    List{{0, 10}},
			b:    List{{20, 30}},
			want: List{{0, 10}},
		},
		{
			name: "full overlap",
			a:    List{{2, 4}},
			b:    List{{0, 10}},
			want: nil,
		},
		{
			name: "left clip",
			a:    List{{0, 10}},
			b:    List{{-5, 3}},
			want: List{{3, 10}},
		},
		{
			name: "right clip",
			a:    List{{0, 10}},
			b:    List{{8, 20}},
			want: List{{0, 8}},
		},
		{
			name: "multiple holes across segments",
			a:    List{{0, 10}, {20, 30}},
			b:    List{{5, 6}, {25, 35}},
			want: List{{0, 5}, {6, 10}, {20, 25}},
		},
		{
			name: "empty subtrahend",
			a:    List{{0, 10}},
			b:    nil,
			want: List{{0, 10}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Subtract(tt.a, tt.b)
			if !segsEqual(got, tt.want) {
				t.Errorf("Subtract() = %v, want %v", got, tt.want)
			}
			if err := got.Validate(); err != nil {
				t.Errorf("Subtract() violated list invariant: %v", err)
			}
		})
	}
}

func TestSubtractRemovesAllOfB(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 20; trial++ {
		var raw []Segment
		for i := 0; i < 50; i++ {
			start := rng.Float64() * 500
			raw = append(raw, Segment{Start: start, End: start + rng.Float64()*5})
		}
		a := Coalesce(raw[:30])
		b := Coalesce(raw[30:])
		diff := Subtract(a, b)
		if err := diff.Validate(); err != nil {
			t.Fatalf("trial %d: %v", trial, err)
		}
		for _, s := range b {
			mid := (s.Start + s.End) / 2
			if diff.Contains(mid) {
				t.Fatalf("trial %d: difference still contains %f from subtrahend", trial, mid)
			}
		}
	}
}

func TestUnion(t *testing.T) {
	got := Union(List{{0, 2}, {10, 12}}, List{{1, 5}})
	want := List{{0, 5}, {10, 12}}
	if !segsEqual(got, want) {
		t.Errorf("Union() = %v, want %v", got, want)
	}
}

func TestListContains(t *testing.T) {
	l := List{{0, 1}, {5, 7}}
	tests := []struct {
		t    float64
		want bool
	}{
		{-1, false},
		{0, true}, // start is inclusive
		{0.5, true},
		{1, false}, // end is exclusive
		{3, false},
		{5, true},
		{6.999, true},
		{7, false},
	}
	for _, tt := range tests {
		if got := l.Contains(tt.t); got != tt.want {
			t.Errorf("Contains(%f) = %v, want %v", tt.t, got, tt.want)
		}
	}
}

func TestListDuration(t *testing.T) {
	l := List{{0, 1.5}, {10, 12}}
	if got := l.Duration(); math.Abs(got-3.5) > 1e-12 {
		t.Errorf("Duration() = %f, want 3.5", got)
	}
	var empty List
	if got := empty.Duration(); got != 0 {
		t.Errorf("empty Duration() = %f, want 0", got)
	}
}

func TestListValidate(t *testing.T) {
	if err := (List{{0, 1}, {0.5, 2}}).Validate(); err == nil {
		t.Error("expected error for overlapping list")
	}
	if err := (List{{1, 0}}).Validate(); err == nil {
		t.Error("expected error for inverted segment")
	}
	if err := (List{{0, 1}, {1, 2}}).Validate(); err != nil {
		t.Errorf("touching segments should be valid: %v", err)
	}
}
