// Package uptime accounts maker-eligible time per clock-hour.
//
// The exchange's maker program counts seconds during which both a bid and an
// ask rest on the book at a tight spread. The tracker partitions active time
// into two bands: "maker" (configured spread at or under MakerMaxSpreadBps)
// and "mm" (both sides resting but wider). Each engine tick reports whether
// both sides were resting and at what configured spread; the tracker
// accumulates elapsed wall time into the current hour's record.
package uptime

import (
	"log/slog"
	"sync"
	"time"
)

// MakerMaxSpreadBps is the widest configured spread that still counts
// toward the maker band.
const MakerMaxSpreadBps = 5.0

// maxTickGap caps the elapsed time credited per tick. Host sleeps and
// process stalls otherwise credit a whole gap of fake uptime.
const maxTickGap = 10 * time.Second

// historySize is how many archived hourly records are kept (FIFO).
const historySize = 24

// HourRecord accumulates one clock-hour of activity, in seconds.
// MakerActive + MMActive <= TotalElapsed <= 3600 always holds.
type HourRecord struct {
	HourStart     time.Time `json:"hour_start"`
	MakerActive   float64   `json:"maker_active_seconds"`
	MMActive      float64   `json:"mm_active_seconds"`
	TotalElapsed  float64   `json:"total_elapsed_seconds"`
	TargetSeconds float64   `json:"target_seconds"`
}

// TargetMet reports whether the maker band reached the hourly target.
func (r HourRecord) TargetMet() bool {
	return r.MakerActive >= r.TargetSeconds
}

// MakerPct returns the maker band as a percentage of the hour, capped at 100.
func (r HourRecord) MakerPct() float64 {
	pct := r.MakerActive / 3600.0 * 100.0
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Stats is the dashboard view of the tracker.
type Stats struct {
	Current        HourRecord   `json:"current"`
	MakerPct       float64      `json:"maker_uptime_pct"`
	TargetMet      bool         `json:"target_met"`
	RemainingSecs  float64      `json:"remaining_seconds"` // maker seconds still needed this hour
	History        []HourRecord `json:"history"`
	HoursMet       int          `json:"hours_target_met"`
	AvgMakerActive float64      `json:"avg_maker_active_seconds"`
	AvgMMActive    float64      `json:"avg_mm_active_seconds"`
}

// Tracker owns the current hourly record and the 24-hour archive. All
// methods are safe for concurrent use; only the engine tick mutates, the
// dashboard reads.
type Tracker struct {
	mu       sync.Mutex
	target   float64 // seconds per hour
	current  HourRecord
	history  []HourRecord
	lastTick time.Time
	logger   *slog.Logger
}

// NewTracker creates a tracker targeting the given number of maker-band
// seconds per hour.
func NewTracker(target time.Duration, logger *slog.Logger) *Tracker {
	now := time.Now()
	return &Tracker{
		target:   target.Seconds(),
		current:  newRecord(now, target.Seconds()),
		lastTick: now,
		logger:   logger.With("component", "uptime"),
	}
}

// Tick records one engine tick: whether both sides were resting and the
// configured spread they were quoted at.
func (t *Tracker) Tick(hasBothSides bool, spreadBps float64) {
	t.tickAt(time.Now(), hasBothSides, spreadBps)
}

func (t *Tracker) tickAt(now time.Time, hasBothSides bool, spreadBps float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := now.Sub(t.lastTick)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > maxTickGap {
		elapsed = maxTickGap
	}
	t.lastTick = now

	if hourOf(now) != t.current.HourStart {
		t.logger.Info("hour rollover",
			"maker_active", t.current.MakerActive,
			"mm_active", t.current.MMActive,
			"target_met", t.current.TargetMet(),
		)
		t.history = append(t.history, t.current)
		if len(t.history) > historySize {
			t.history = t.history[len(t.history)-historySize:]
		}
		t.current = newRecord(now, t.target)
	}

	secs := elapsed.Seconds()
	t.current.TotalElapsed += secs
	if t.current.TotalElapsed > 3600 {
		t.current.TotalElapsed = 3600
	}

	if hasBothSides {
		if spreadBps <= MakerMaxSpreadBps {
			t.current.MakerActive += secs
		} else {
			t.current.MMActive += secs
		}
	}
}

// Reset wipes the current record and the archive. Called on symbol switch:
// uptime earned on one symbol says nothing about the next.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.current = newRecord(now, t.target)
	t.history = nil
	t.lastTick = now
	t.logger.Info("uptime tracker reset")
}

// Current returns a copy of the in-progress hourly record.
func (t *Tracker) Current() HourRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Stats returns the dashboard snapshot: current record, history and
// 24-hour aggregates.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Stats{
		Current:   t.current,
		MakerPct:  t.current.MakerPct(),
		TargetMet: t.current.TargetMet(),
		History:   append([]HourRecord(nil), t.history...),
	}
	if rem := t.target - t.current.MakerActive; rem > 0 {
		s.RemainingSecs = rem
	}
	for _, r := range t.history {
		if r.TargetMet() {
			s.HoursMet++
		}
		s.AvgMakerActive += r.MakerActive
		s.AvgMMActive += r.MMActive
	}
	if n := float64(len(t.history)); n > 0 {
		s.AvgMakerActive /= n
		s.AvgMMActive /= n
	}
	return s
}

func newRecord(now time.Time, target float64) HourRecord {
	return HourRecord{HourStart: hourOf(now), TargetSeconds: target}
}

func hourOf(t time.Time) time.Time {
	return t.Truncate(time.Hour)
}
