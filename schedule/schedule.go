// Package schedule parses mailbox polling schedules.
//
// A schedule is a preset name ("hourly", "twice_daily"), a free-form
// "every N minutes" phrase, or a five-field cron expression. Everything
// normalizes to cron; run times come from the standard cron parser.
package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// MinInterval is the shortest allowed gap between two runs. Polling a
// mailbox more often than this hammers the upstream IMAP server.
const MinInterval = 15 * time.Minute

// ErrInvalidSchedule is returned when an expression is neither a
// preset, an "every N minutes" phrase, nor a parseable cron string.
var ErrInvalidSchedule = errors.New("schedule: invalid expression")

// ErrIntervalTooShort is returned when a schedule would run more often
// than MinInterval allows.
var ErrIntervalTooShort = errors.New("schedule: interval below minimum")

var presets = map[string]string{
	"hourly":           "0 * * * *",
	"every_15_minutes": "*/15 * * * *",
	"every_30_minutes": "*/30 * * * *",
	"daily":            "0 9 * * *",
	"weekday":          "0 9 * * 1-5",
	"twice_daily":      "0 9,17 * * *",
}

var presetDescriptions = map[string]string{
	"hourly":           "Every hour",
	"every_15_minutes": "Every 15 minutes",
	"every_30_minutes": "Every 30 minutes",
	"daily":            "Daily at 9:00 AM",
	"weekday":          "Weekdays at 9:00 AM",
	"twice_daily":      "Twice daily at 9:00 AM and 5:00 PM",
}

var everyPattern = regexp.MustCompile(`^every\s+(\d+)\s+minutes?$`)

// Normalize resolves expr to a five-field cron string. Presets and
// "every N minutes" phrases are case-insensitive; anything else must
// already be valid cron and passes through unchanged.
func Normalize(expr string) (string, error) {
	trimmed := strings.TrimSpace(expr)
	lowered := strings.ToLower(trimmed)

	if spec, ok := presets[lowered]; ok {
		return spec, nil
	}

	if m := everyPattern.FindStringSubmatch(lowered); m != nil {
		minutes, err := strconv.Atoi(m[1])
		if err != nil {
			return "", fmt.Errorf("%w: %q", ErrInvalidSchedule, expr)
		}

		if time.Duration(minutes)*time.Minute < MinInterval {
			return "", fmt.Errorf("%w: every %d minutes", ErrIntervalTooShort, minutes)
		}

		return fmt.Sprintf("*/%d * * * *", minutes), nil
	}

	if _, err := cron.ParseStandard(trimmed); err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrInvalidSchedule, expr, err)
	}

	return trimmed, nil
}

// Next returns the next n run times strictly after from.
func Next(expr string, from time.Time, n int) ([]time.Time, error) {
	spec, err := Normalize(expr)
	if err != nil {
		return nil, err
	}

	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidSchedule, spec, err)
	}

	runs := make([]time.Time, 0, n)

	t := from
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}

		runs = append(runs, t)
	}

	return runs, nil
}

// Validate checks that expr parses and respects MinInterval. Presets
// and "every N minutes" phrases are checked during normalization; raw
// cron is checked by sampling the gap between the next two runs.
func Validate(expr string) error {
	runs, err := Next(expr, time.Now().UTC(), 2)
	if err != nil {
		return err
	}

	if len(runs) < 2 {
		return nil
	}

	if gap := runs[1].Sub(runs[0]); gap < MinInterval {
		return fmt.Errorf("%w: runs %s apart", ErrIntervalTooShort, gap)
	}

	return nil
}

// Describe returns a human-readable description of expr. Unrecognized
// but valid expressions come back unchanged; so do invalid ones, since
// a describe call is not the place to fail.
func Describe(expr string) string {
	trimmed := strings.TrimSpace(expr)
	lowered := strings.ToLower(trimmed)

	if desc, ok := presetDescriptions[lowered]; ok {
		return desc
	}

	for name, spec := range presets {
		if trimmed == spec {
			return presetDescriptions[name]
		}
	}

	if m := everyPattern.FindStringSubmatch(lowered); m != nil {
		return fmt.Sprintf("Every %s minutes", m[1])
	}

	if desc, ok := describeCron(trimmed); ok {
		return desc
	}

	return trimmed
}

// describeCron covers the handful of cron shapes the presets and the
// "every N minutes" phrase produce, so lightly edited variants of them
// still describe well.
func describeCron(spec string) (string, bool) {
	parts := strings.Fields(spec)
	if len(parts) != 5 {
		return "", false
	}

	minute, hour, dow := parts[0], parts[1], parts[4]

	switch {
	case minute == "0" && hour == "*":
		return "Every hour", true
	case strings.HasPrefix(minute, "*/"):
		return fmt.Sprintf("Every %s minutes", minute[2:]), true
	case minute == "0" && dow == "1-5" && isDigits(hour):
		return fmt.Sprintf("Weekdays at %s:00", hour), true
	case minute == "0" && isDigits(hour):
		h, err := strconv.Atoi(hour)
		if err != nil {
			return "", false
		}

		return fmt.Sprintf("Daily at %02d:00", h), true
	}

	return "", false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}

	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}
