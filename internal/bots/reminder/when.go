package reminder

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseWhen turns a human "when" phrase into a concrete time, relative to
// now. Supported forms:
//
//	in N minutes|hours|days
//	in 20m / 2h / 3d   (the "in" is optional for the compact form)
//	tomorrow [HH:MM]
//	monday..sunday [HH:MM]
//	HH:MM or 3pm       (next occurrence)
//	2006-01-02 15:04
//
// Bare days default to 09:00.
func ParseWhen(raw string, now time.Time) (time.Time, error) {
	phrase := strings.ToLower(strings.TrimSpace(raw))
	if phrase == "" {
		return time.Time{}, fmt.Errorf("when is empty")
	}
	fields := strings.Fields(phrase)

	if fields[0] == "in" && len(fields) >= 3 {
		return parseRelative(fields[1], fields[2], now)
	}
	if fields[0] == "in" && len(fields) == 2 {
		if d, ok := parseCompact(fields[1]); ok {
			return now.Add(d), nil
		}
	}
	if len(fields) == 1 {
		if d, ok := parseCompact(fields[0]); ok {
			return now.Add(d), nil
		}
	}

	if fields[0] == "tomorrow" {
		at := defaultHour(now.AddDate(0, 0, 1))
		if len(fields) > 1 {
			return atTime(now.AddDate(0, 0, 1), fields[1])
		}
		return at, nil
	}

	if wd, ok := weekdays[fields[0]]; ok {
		day := nextWeekday(now, wd)
		if len(fields) > 1 {
			return atTime(day, fields[1])
		}
		return defaultHour(day), nil
	}

	if t, err := time.ParseInLocation("2006-01-02 15:04", phrase, now.Location()); err == nil {
		return t, nil
	}

	if hh, mm, ok := parseClock(fields[0]); ok && len(fields) == 1 {
		t := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, now.Location())
		if !t.After(now) {
			t = t.AddDate(0, 0, 1)
		}
		return t, nil
	}

	return time.Time{}, fmt.Errorf("couldn't understand %q", raw)
}

var weekdays = map[string]time.Weekday{
	"monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
	"sunday": time.Sunday,
}

func parseRelative(amount, unit string, now time.Time) (time.Time, error) {
	n, err := strconv.Atoi(amount)
	if err != nil || n < 1 {
		return time.Time{}, fmt.Errorf("couldn't read %q as a count", amount)
	}
	switch strings.TrimSuffix(unit, "s") {
	case "minute", "min":
		return now.Add(time.Duration(n) * time.Minute), nil
	case "hour", "hr":
		return now.Add(time.Duration(n) * time.Hour), nil
	case "day":
		return now.AddDate(0, 0, n), nil
	}
	return time.Time{}, fmt.Errorf("unknown unit %q", unit)
}

// parseCompact reads the shorthand "20m", "2h" or "3d".
func parseCompact(token string) (time.Duration, bool) {
	if len(token) < 2 {
		return 0, false
	}
	n, err := strconv.Atoi(token[:len(token)-1])
	if err != nil || n < 1 {
		return 0, false
	}
	switch token[len(token)-1] {
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h':
		return time.Duration(n) * time.Hour, true
	case 'd':
		return time.Duration(n) * 24 * time.Hour, true
	}
	return 0, false
}

// nextWeekday returns the next strictly future occurrence of wd. Naming
// today's weekday means next week, matching how people speak on the day.
func nextWeekday(now time.Time, wd time.Weekday) time.Time {
	days := (int(wd) - int(now.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	return now.AddDate(0, 0, days)
}

func atTime(day time.Time, clock string) (time.Time, error) {
	hh, mm, ok := parseClock(clock)
	if !ok {
		return time.Time{}, fmt.Errorf("couldn't read %q as a time", clock)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hh, mm, 0, 0, day.Location()), nil
}

func parseClock(s string) (hh, mm int, ok bool) {
	meridiem := 0
	switch {
	case strings.HasSuffix(s, "am"):
		s, meridiem = strings.TrimSuffix(s, "am"), -1
	case strings.HasSuffix(s, "pm"):
		s, meridiem = strings.TrimSuffix(s, "pm"), +1
	}

	parts := strings.Split(s, ":")
	switch len(parts) {
	case 1:
		// A bare hour only makes sense with am/pm, "16" alone is ambiguous.
		if meridiem == 0 {
			return 0, 0, false
		}
		parts = append(parts, "0")
	case 2:
	default:
		return 0, 0, false
	}

	hh, err1 := strconv.Atoi(parts[0])
	mm, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || mm < 0 || mm > 59 {
		return 0, 0, false
	}
	if meridiem != 0 {
		if hh < 1 || hh > 12 {
			return 0, 0, false
		}
		hh %= 12
		if meridiem > 0 {
			hh += 12
		}
		return hh, mm, true
	}
	if hh < 0 || hh > 23 {
		return 0, 0, false
	}
	return hh, mm, true
}

func defaultHour(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 9, 0, 0, 0, day.Location())
}
