// Package models defines the core domain entities: triggers, trigger tables,
// winners, rounds, and analysis runs.
package models

import (
	"errors"
	"sort"
)

// Trigger is one transient event in a channel's data.
type Trigger struct {
	Time      float64 `json:"time"`
	SNR       float64 `json:"snr"`
	Frequency float64 `json:"frequency"`
}

// TriggerTable holds the time-ordered triggers of exactly one channel.
// Duplicate times are allowed. Fingerprint is an xxh3 content hash set by the
// loader and carried through for input provenance.
type TriggerTable struct {
	Channel     string
	Triggers    []Trigger
	Fingerprint uint64
}

// Len returns the number of triggers in the table.
func (t TriggerTable) Len() int {
	return len(t.Triggers)
}

// Times returns the trigger times in table order.
func (t TriggerTable) Times() []float64 {
	times := make([]float64, len(t.Triggers))
	for i, trig := range t.Triggers {
		times[i] = trig.Time
	}
	return times
}

// AboveSNR returns a new table holding only triggers with SNR at or above the
// threshold, preserving order. The receiver is not modified.
func (t TriggerTable) AboveSNR(threshold float64) TriggerTable {
	out := TriggerTable{Channel: t.Channel, Fingerprint: t.Fingerprint}
	for _, trig := range t.Triggers {
		if trig.SNR >= threshold {
			out.Triggers = append(out.Triggers, trig)
		}
	}
	return out
}

// SortByTime sorts the triggers in place by time.
func (t *TriggerTable) SortByTime() {
	sort.Slice(t.Triggers, func(i, j int) bool {
		return t.Triggers[i].Time < t.Triggers[j].Time
	})
}

// Validate checks table field constraints.
func (t TriggerTable) Validate() error {
	if t.Channel == "" {
		return errors.New("trigger table channel must not be empty")
	}
	for i, trig := range t.Triggers {
		if trig.SNR < 0 {
			return errors.New("trigger SNR must not be negative")
		}
		if i > 0 && trig.Time < t.Triggers[i-1].Time {
			return errors.New("trigger table must be sorted by time")
		}
	}
	return nil
}
