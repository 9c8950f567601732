package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseISODuration parses an ISO-8601 duration of the form used by the
// management plane for interval schedules: an optional day component and
// a time component, e.g. "PT1H", "PT30M", "P1D", "P1DT12H", "PT90S".
// Fractional components and year/month designators are not supported;
// schedules at that granularity are not meaningful here.
func ParseISODuration(s string) (time.Duration, error) {
	orig := s
	s = strings.ToUpper(strings.TrimSpace(s))
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q", orig)
	}
	s = s[1:]

	datePart := s
	timePart := ""
	if i := strings.IndexByte(s, 'T'); i >= 0 {
		datePart, timePart = s[:i], s[i+1:]
	}
	if datePart == "" && timePart == "" {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q", orig)
	}

	var total time.Duration

	n, rest, err := takeComponent(datePart, 'D')
	if err != nil {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q", orig)
	}
	total += time.Duration(n) * 24 * time.Hour
	if rest != "" {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q", orig)
	}

	for _, c := range []struct {
		unit byte
		mul  time.Duration
	}{
		{'H', time.Hour},
		{'M', time.Minute},
		{'S', time.Second},
	} {
		n, timePart, err = takeComponent(timePart, c.unit)
		if err != nil {
			return 0, fmt.Errorf("invalid ISO-8601 duration %q", orig)
		}
		total += time.Duration(n) * c.mul
	}
	if timePart != "" {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q", orig)
	}
	if total <= 0 {
		return 0, fmt.Errorf("non-positive ISO-8601 duration %q", orig)
	}
	return total, nil
}

// takeComponent consumes a leading "<digits><unit>" component when the
// given unit is next in s. It returns the parsed value and the remainder.
func takeComponent(s string, unit byte) (int64, string, error) {
	if s == "" {
		return 0, "", nil
	}
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 || i >= len(s) {
		return 0, s, fmt.Errorf("malformed component in %q", s)
	}
	if s[i] != unit {
		// Component belongs to a later unit
		return 0, s, nil
	}
	n, err := strconv.ParseInt(s[:i], 10, 64)
	if err != nil {
		return 0, s, err
	}
	return n, s[i+1:], nil
}
