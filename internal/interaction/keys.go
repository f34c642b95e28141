package interaction

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Callback keys understood by the time prompt, after the plugin prefix:
//
//	+/<n>/<unit>   move the candidate forward (unit: min, hr, day)
//	-/<n>/<unit>   move it back
//	at/HH:MM       today at a clock time
//	at+/HH:MM      tomorrow at a clock time
//	sun/rise       next sunrise
//	sun/set        next sunset
//	reset          back to the base time
//	commit         accept the candidate
const (
	KeyCommit = "commit"
	KeyReset  = "reset"
)

type keyKind int

const (
	keyDelta keyKind = iota + 1
	keyAt
	keyAtTomorrow
	keySun
	keyReset
	keyCommit
)

type parsedKey struct {
	kind  keyKind
	delta time.Duration
	hour  int
	min   int
	sun   string
}

var units = map[string]time.Duration{
	"min": time.Minute,
	"hr":  time.Hour,
	"day": 24 * time.Hour,
}

func deltaKey(n int, unit string) string {
	if n < 0 {
		return fmt.Sprintf("-/%d/%s", -n, unit)
	}
	return fmt.Sprintf("+/%d/%s", n, unit)
}

func parseKey(key string) (parsedKey, error) {
	switch key {
	case KeyCommit:
		return parsedKey{kind: keyCommit}, nil
	case KeyReset:
		return parsedKey{kind: keyReset}, nil
	}

	parts := strings.Split(key, "/")
	switch parts[0] {
	case "+", "-":
		if len(parts) != 3 {
			return parsedKey{}, fmt.Errorf("malformed delta key %q", key)
		}
		n, err := strconv.Atoi(parts[1])
		if err != nil || n <= 0 {
			return parsedKey{}, fmt.Errorf("malformed delta amount in %q", key)
		}
		unit, ok := units[parts[2]]
		if !ok {
			return parsedKey{}, fmt.Errorf("unknown unit in %q", key)
		}
		d := time.Duration(n) * unit
		if parts[0] == "-" {
			d = -d
		}
		return parsedKey{kind: keyDelta, delta: d}, nil

	case "at", "at+":
		if len(parts) != 2 {
			return parsedKey{}, fmt.Errorf("malformed clock key %q", key)
		}
		h, m, err := parseClock(parts[1])
		if err != nil {
			return parsedKey{}, err
		}
		kind := keyAt
		if parts[0] == "at+" {
			kind = keyAtTomorrow
		}
		return parsedKey{kind: kind, hour: h, min: m}, nil

	case "sun":
		if len(parts) != 2 || (parts[1] != "rise" && parts[1] != "set") {
			return parsedKey{}, fmt.Errorf("malformed sun key %q", key)
		}
		return parsedKey{kind: keySun, sun: parts[1]}, nil
	}
	return parsedKey{}, fmt.Errorf("unknown key %q", key)
}

// parseClock parses "HH:MM" in 24 hour form.
func parseClock(s string) (hour, minute int, err error) {
	hs, ms, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("malformed clock time %q", s)
	}
	hour, err = strconv.Atoi(hs)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("malformed hour in %q", s)
	}
	minute, err = strconv.Atoi(ms)
	if err != nil || minute < 0 || minute > 59 || len(ms) != 2 {
		return 0, 0, fmt.Errorf("malformed minute in %q", s)
	}
	return hour, minute, nil
}

// atClock returns the given clock time on the calendar day of day.
func atClock(day time.Time, hour, minute int) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, hour, minute, 0, 0, day.Location())
}

// parseReplyTime interprets a typed reply in the time stage: a Go duration
// ("90m", "1h30m") counted from now, or a clock time ("18:30") meaning its
// next occurrence.
func parseReplyTime(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if d, err := time.ParseDuration(text); err == nil {
		if d <= 0 {
			return time.Time{}, fmt.Errorf("duration must be positive")
		}
		return now.Add(d), nil
	}
	h, m, err := parseClock(text)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected a duration like 90m or a time like 18:30")
	}
	t := atClock(now, h, m)
	if !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t, nil
}
