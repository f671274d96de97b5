package match

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

// Clock is a match clock reading in milliseconds.
type Clock int64

var clockRe = regexp.MustCompile(`^(\d{1,3}):([0-5]\d)(?:\.(\d{3}))?$`)

// ParseClock parses "mm:ss.mmm" (or "mm:ss"). Minutes may exceed 59.
func ParseClock(s string) (Clock, error) {
	m := clockRe.FindStringSubmatch(s)
	if m == nil {
		return 0, &ValidationError{Field: "match_clock", Msg: fmt.Sprintf("malformed clock %q, want mm:ss.mmm", s)}
	}
	mins, _ := strconv.Atoi(m[1])
	secs, _ := strconv.Atoi(m[2])
	ms := 0
	if m[3] != "" {
		ms, _ = strconv.Atoi(m[3])
	}
	return Clock(int64(mins)*60_000 + int64(secs)*1000 + int64(ms)), nil
}

func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

// ClockFromSeconds converts a seconds reading (e.g. MatchTimeSeconds).
func ClockFromSeconds(sec float64) Clock { return Clock(sec * 1000) }

func (c Clock) Seconds() float64 { return float64(c) / 1000 }

func (c Clock) String() string {
	if c < 0 {
		return "-" + (-c).String()
	}
	ms := int64(c)
	return fmt.Sprintf("%02d:%02d.%03d", ms/60_000, (ms/1000)%60, ms%1000)
}

func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Clock) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("match clock: %w", err)
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// FormatMinutes renders whole seconds as mm:ss, e.g. 2700 -> "45:00".
func FormatMinutes(seconds float64) string {
	s := int64(seconds)
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}
