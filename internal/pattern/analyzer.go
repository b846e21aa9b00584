// Package pattern derives typical feeding and sleep hours from recent caregiving events.
//
// Analysis is advisory: a failing event source yields an empty Data, never an error.
package pattern

import (
	"context"
	"math"
	"time"

	"carecue/internal/caregiving"
	logx "carecue/pkg/logx"
)

// DefaultWindow is how far back Analyze looks.
const DefaultWindow = 7 * 24 * time.Hour

// EventSource is the read side of the event store.
// Returned events may be in any order.
type EventSource interface {
	QueryEvents(ctx context.Context, childID string, since time.Time) ([]caregiving.Event, error)
}

// Data is the aggregate computed over one window.
// Averages are nil iff the corresponding hour list is empty.
type Data struct {
	FeedingHours   []int `json:"feeding_hours"`
	SleepHours     []int `json:"sleep_hours"`
	AvgFeedingHour *int  `json:"avg_feeding_hour,omitempty"`
	AvgSleepHour   *int  `json:"avg_sleep_hour,omitempty"`
	FeedingCount   int   `json:"feeding_count"`
	SleepCount     int   `json:"sleep_count"`
}

type Config struct {
	Window   time.Duration
	Location *time.Location
}

type Analyzer struct {
	src EventSource
	log logx.Logger
	cfg Config
}

func NewAnalyzer(src EventSource, cfg Config, log logx.Logger) *Analyzer {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Analyzer{src: src, log: log, cfg: cfg}
}

// Analyze computes Data over [ref-window, ref].
func (a *Analyzer) Analyze(ctx context.Context, childID string, ref time.Time) Data {
	if a.src == nil {
		return Data{}
	}
	since := ref.Add(-a.cfg.Window)
	events, err := a.src.QueryEvents(ctx, childID, since)
	if err != nil {
		a.log.Warn("event query failed; pattern unavailable",
			logx.String("child", childID), logx.Time("since", since), logx.Err(err))
		return Data{}
	}

	var d Data
	skipped := 0
	for _, e := range events {
		if e.Type != caregiving.EventFeeding && e.Type != caregiving.EventSleep {
			continue
		}
		if e.At.IsZero() || e.At.Before(since) || e.At.After(ref) {
			skipped++
			continue
		}
		h := e.At.In(a.cfg.Location).Hour()
		switch e.Type {
		case caregiving.EventFeeding:
			d.FeedingHours = append(d.FeedingHours, h)
			d.FeedingCount++
		case caregiving.EventSleep:
			d.SleepHours = append(d.SleepHours, h)
			d.SleepCount++
		}
	}
	d.AvgFeedingHour = averageHour(d.FeedingHours)
	d.AvgSleepHour = averageHour(d.SleepHours)

	a.log.Debug("pattern analyzed",
		logx.String("child", childID),
		logx.Int("feedings", d.FeedingCount),
		logx.Int("sleeps", d.SleepCount),
		logx.Int("skipped", skipped),
	)
	return d
}

// averageHour rounds half up. Hours are non-negative so Floor(x+0.5) is exact.
func averageHour(hours []int) *int {
	if len(hours) == 0 {
		return nil
	}
	sum := 0
	for _, h := range hours {
		sum += h
	}
	avg := int(math.Floor(float64(sum)/float64(len(hours)) + 0.5))
	return &avg
}
