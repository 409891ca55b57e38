// Package segments implements half-open GPS time intervals and the interval
// algebra the veto engine is built on: coalescing, union, difference, and
// membership tests over disjoint, time-sorted lists.
package segments

import (
	"fmt"
	"sort"
)

// Segment is a half-open time interval [Start, End).
type Segment struct {
	Start float64
	End   float64
}

// Duration returns the length of the segment in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Contains reports whether t lies inside the segment.
func (s Segment) Contains(t float64) bool {
	return t >= s.Start && t < s.End
}

// Validate checks that the segment is well-formed.
func (s Segment) Validate() error {
	if s.End < s.Start {
		return fmt.Errorf("segment end %f before start %f", s.End, s.Start)
	}
	return nil
}

// List is a set of disjoint segments sorted by start time. The zero value is
// an empty list. Lists produced by Coalesce, Union, and Subtract always
// satisfy the disjoint-and-sorted invariant.
type List []Segment

// Coalesce sorts the segments and merges every overlapping or touching pair,
// returning a disjoint sorted list. Zero-length segments are dropped.
func Coalesce(segs []Segment) List {
	if len(segs) == 0 {
		return nil
	}
	sorted := make([]Segment, len(segs))
	copy(sorted, segs)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})

	out := make(List, 0, len(sorted))
	cur := sorted[0]
	for _, s := range sorted[1:] {
		if s.Start <= cur.End {
			if s.End > cur.End {
				cur.End = s.End
			}
			continue
		}
		if cur.Duration() > 0 {
			out = append(out, cur)
		}
		cur = s
	}
	if cur.Duration() > 0 {
		out = append(out, cur)
	}
	return out
}

// Union returns the coalesced union of two lists.
func Union(a, b List) List {
	merged := make([]Segment, 0, len(a)+len(b))
	merged = append(merged, a...)
	merged = append(merged, b...)
	return Coalesce(merged)
}

// Subtract returns a minus b. Both inputs must be disjoint and sorted; the
// result is too.
func Subtract(a, b List) List {
	if len(a) == 0 || len(b) == 0 {
		return a
	}
	var out List
	j := 0
	for _, seg := range a {
		start := seg.Start
		for j < len(b) && b[j].End <= start {
			j++
		}
		k := j
		for k < len(b) && b[k].Start < seg.End {
			if b[k].Start > start {
				out = append(out, Segment{Start: start, End: b[k].Start})
			}
			if b[k].End > start {
				start = b[k].End
			}
			k++
		}
		if start < seg.End {
			out = append(out, Segment{Start: start, End: seg.End})
		}
	}
	return out
}

// Contains reports whether t falls inside any segment of the list.
func (l List) Contains(t float64) bool {
	i := sort.Search(len(l), func(i int) bool { return l[i].End > t })
	return i < len(l) && l[i].Contains(t)
}

// Duration returns the total livetime covered by the list in seconds.
func (l List) Duration() float64 {
	var total float64
	for _, s := range l {
		total += s.Duration()
	}
	return total
}

// Validate checks the disjoint-and-sorted invariant.
func (l List) Validate() error {
	for i, s := range l {
		if err := s.Validate(); err != nil {
			return err
		}
		if i > 0 && s.Start < l[i-1].End {
			return fmt.Errorf("segment %d [%f, %f) overlaps previous [%f, %f)",
				i, s.Start, s.End, l[i-1].Start, l[i-1].End)
		}
	}
	return nil
}
