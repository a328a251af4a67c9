package poller

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type SpecKind int

const (
	SpecInterval SpecKind = iota
	SpecCron
)

// Schedule is a parsed subscription cadence: either a fixed interval
// ("30m", "interval:45s") or a standard 5-field cron spec ("cron:0 * * * *",
// "*/10 * * * *").
type Schedule struct {
	Kind  SpecKind
	Every time.Duration
	Cron  cron.Schedule

	raw string
}

func (s Schedule) String() string { return s.raw }

// Next returns the tick following after. Interval schedules keep a fixed
// cadence anchored at the previous tick, not at cycle completion.
func (s Schedule) Next(after time.Time) time.Time {
	if s.Kind == SpecCron {
		return s.Cron.Next(after)
	}
	return after.Add(s.Every)
}

// BaseInterval approximates one period, used as the starting point for
// failure backoff. For cron specs it measures the gap between the next two
// occurrences.
func (s Schedule) BaseInterval() time.Duration {
	if s.Kind == SpecInterval {
		return s.Every
	}
	now := time.Now()
	first := s.Cron.Next(now)
	return s.Cron.Next(first).Sub(first)
}

func ParseSchedule(raw string) (Schedule, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Schedule{}, fmt.Errorf("empty schedule")
	}

	if rest, ok := strings.CutPrefix(trimmed, "cron:"); ok {
		return parseCron(trimmed, rest)
	}
	if rest, ok := strings.CutPrefix(trimmed, "interval:"); ok {
		return parseInterval(trimmed, rest)
	}
	if strings.ContainsAny(trimmed, " \t") {
		return parseCron(trimmed, trimmed)
	}
	return parseInterval(trimmed, trimmed)
}

func parseCron(raw, spec string) (Schedule, error) {
	sched, err := cron.ParseStandard(strings.TrimSpace(spec))
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid cron spec %q: %w", raw, err)
	}
	return Schedule{Kind: SpecCron, Cron: sched, raw: raw}, nil
}

func parseInterval(raw, spec string) (Schedule, error) {
	d, err := time.ParseDuration(strings.TrimSpace(spec))
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid schedule %q: %w", raw, err)
	}
	if d < time.Second {
		return Schedule{}, fmt.Errorf("schedule %q is below 1s", raw)
	}
	return Schedule{Kind: SpecInterval, Every: d, raw: raw}, nil
}
