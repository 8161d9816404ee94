package archive

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// cronSchedule is a compiled five-field cron expression:
//
//	minute hour day-of-month month day-of-week
//
// Fields accept "*", single values, ranges ("1-5"), steps ("*/15",
// "10-50/20") and comma lists of those. Day-of-week runs Sunday=0 through
// Saturday=6. Each field compiles to a bitmask over its legal range, so
// matching a candidate time is five bit tests.
type cronSchedule struct {
	minute uint64
	hour   uint64
	dom    uint64
	month  uint64
	dow    uint64
}

var cronFieldSpecs = [5]struct {
	name     string
	min, max int
}{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// parseCron compiles a five-field cron expression.
func parseCron(expr string) (cronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return cronSchedule{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}

	var masks [5]uint64
	for i, field := range fields {
		spec := cronFieldSpecs[i]
		mask, err := parseCronField(field, spec.min, spec.max)
		if err != nil {
			return cronSchedule{}, fmt.Errorf("parsing %s field: %w", spec.name, err)
		}
		masks[i] = mask
	}

	return cronSchedule{
		minute: masks[0],
		hour:   masks[1],
		dom:    masks[2],
		month:  masks[3],
		dow:    masks[4],
	}, nil
}

// parseCronField compiles one field into a bitmask over [min, max].
func parseCronField(field string, min, max int) (uint64, error) {
	var mask uint64
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)

		step := 1
		if base, stepStr, ok := strings.Cut(part, "/"); ok {
			n, err := strconv.Atoi(stepStr)
			if err != nil || n <= 0 {
				return 0, fmt.Errorf("invalid cron step in %q", part)
			}
			part, step = base, n
		}

		lo, hi := min, max
		switch {
		case part == "*":
			// full range
		case strings.Contains(part, "-"):
			loStr, hiStr, _ := strings.Cut(part, "-")
			var err error
			if lo, err = strconv.Atoi(loStr); err != nil {
				return 0, fmt.Errorf("invalid cron field value %q: %w", part, err)
			}
			if hi, err = strconv.Atoi(hiStr); err != nil {
				return 0, fmt.Errorf("invalid cron field value %q: %w", part, err)
			}
		default:
			v, err := strconv.Atoi(part)
			if err != nil {
				return 0, fmt.Errorf("invalid cron field value %q: %w", part, err)
			}
			lo, hi = v, v
		}

		if lo < min || hi > max || lo > hi {
			return 0, fmt.Errorf("cron field value %q out of range %d-%d", part, min, max)
		}
		for v := lo; v <= hi; v += step {
			mask |= 1 << uint(v)
		}
	}
	return mask, nil
}

func bitSet(mask uint64, v int) bool {
	return mask&(1<<uint(v)) != 0
}

// matches reports whether t satisfies every field of the schedule.
func (s cronSchedule) matches(t time.Time) bool {
	return bitSet(s.minute, t.Minute()) &&
		bitSet(s.hour, t.Hour()) &&
		bitSet(s.dom, t.Day()) &&
		bitSet(s.month, int(t.Month())) &&
		bitSet(s.dow, int(t.Weekday()))
}

// next finds the first matching time after 'after', scanning minute by
// minute up to a year out. The year cap guards against expressions like
// "0 0 31 2 *" that can never fire.
func (s cronSchedule) next(after time.Time) (time.Time, error) {
	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)

	for candidate.Before(limit) {
		if s.matches(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("schedule matches no time within a year")
}
