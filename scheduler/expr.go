// Package scheduler implements the Scheduler (C12): `rate(...)` and
// AWS 6-field `cron(...)` expressions driving a min-heap of next-fire
// times, publishing "Scheduled Event" envelopes into the fan-out engine
// (spec.md §4.12).
package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Expression is a parsed schedule expression: either a fixed Rate or a
// Cron spec, never both.
type Expression struct {
	Rate *RateExpr
	Cron *CronExpr
}

type RateExpr struct {
	N    int
	Unit time.Duration
}

var rateRe = regexp.MustCompile(`^rate\((\d+)\s+(minute|minutes|hour|hours|day|days)\)$`)

func (e *Expression) Next(after time.Time) time.Time {
	if e.Rate != nil {
		return after.Add(time.Duration(e.Rate.N) * e.Rate.Unit)
	}
	return e.Cron.Next(after)
}

// Parse parses either a `rate(N unit)` or `cron(...)` expression
// (spec.md §4.12).
func Parse(expr string) (*Expression, error) {
	expr = strings.TrimSpace(expr)
	if m := rateRe.FindStringSubmatch(expr); m != nil {
		n, _ := strconv.Atoi(m[1])
		return &Expression{Rate: &RateExpr{N: n, Unit: rateUnit(m[2])}}, nil
	}
	if strings.HasPrefix(expr, "cron(") && strings.HasSuffix(expr, ")") {
		cron, err := parseCron(expr[len("cron(") : len(expr)-1])
		if err != nil {
			return nil, err
		}
		return &Expression{Cron: cron}, nil
	}
	return nil, fmt.Errorf("unrecognized schedule expression %q", expr)
}

func rateUnit(unit string) time.Duration {
	switch unit {
	case "minute", "minutes":
		return time.Minute
	case "hour", "hours":
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

// CronExpr is the parsed AWS 6-field cron(min hour dom mon dow year)
// expression; `?` in dom or dow means "no constraint from this field",
// AWS's convention for avoiding an over-constrained day match.
type CronExpr struct {
	minutes, hours, doms, months, dows, years fieldSet
	domWild, dowWild                          bool
}

const searchHorizon = 5 * 365 * 24 * time.Hour

// Next returns the first minute-aligned instant strictly after `after`
// that satisfies every field, searching minute-by-minute up to a 5-year
// horizon (simple and correct for a single-node dev scheduler; this is
// not a high-frequency path).
func (c *CronExpr) Next(after time.Time) time.Time {
	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(searchHorizon)
	for t.Before(limit) {
		if c.matches(t) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return limit
}

func (c *CronExpr) matches(t time.Time) bool {
	if !c.minutes.has(t.Minute()) || !c.hours.has(t.Hour()) || !c.months.has(int(t.Month())) || !c.years.has(t.Year()) {
		return false
	}
	domOK := c.domWild || c.doms.has(t.Day())
	dowOK := c.dowWild || c.dows.has(cronWeekday(t))
	switch {
	case c.domWild && c.dowWild:
		return true
	case c.domWild:
		return dowOK
	case c.dowWild:
		return domOK
	default:
		// AWS cron: when neither is "?", a match on either field fires.
		return domOK || dowOK
	}
}

// cronWeekday maps time.Weekday (Sunday=0) to AWS cron's 1-7 (Sunday=1).
func cronWeekday(t time.Time) int { return int(t.Weekday()) + 1 }

type fieldSet map[int]bool

func (f fieldSet) has(v int) bool { return f[v] }

var monthNames = map[string]int{
	"JAN": 1, "FEB": 2, "MAR": 3, "APR": 4, "MAY": 5, "JUN": 6,
	"JUL": 7, "AUG": 8, "SEP": 9, "OCT": 10, "NOV": 11, "DEC": 12,
}

var dowNames = map[string]int{
	"SUN": 1, "MON": 2, "TUE": 3, "WED": 4, "THU": 5, "FRI": 6, "SAT": 7,
}

func parseCron(body string) (*CronExpr, error) {
	fields := strings.Fields(body)
	if len(fields) != 6 {
		return nil, fmt.Errorf("cron expression requires 6 fields, got %d", len(fields))
	}
	var c CronExpr
	var err error
	if c.minutes, _, err = parseField(fields[0], 0, 59, nil); err != nil {
		return nil, fmt.Errorf("minutes: %w", err)
	}
	if c.hours, _, err = parseField(fields[1], 0, 23, nil); err != nil {
		return nil, fmt.Errorf("hours: %w", err)
	}
	if c.doms, c.domWild, err = parseField(fields[2], 1, 31, nil); err != nil {
		return nil, fmt.Errorf("day-of-month: %w", err)
	}
	if c.months, _, err = parseField(fields[3], 1, 12, monthNames); err != nil {
		return nil, fmt.Errorf("month: %w", err)
	}
	if c.dows, c.dowWild, err = parseField(fields[4], 1, 7, dowNames); err != nil {
		return nil, fmt.Errorf("day-of-week: %w", err)
	}
	if c.years, _, err = parseField(fields[5], 1970, 2199, nil); err != nil {
		return nil, fmt.Errorf("year: %w", err)
	}
	return &c, nil
}

// parseField parses one comma-separated cron field of `*`, `?`,
// `a`, `a-b`, `*/n`, or `a-b/n` entries, optionally substituting names
// (month/day-of-week abbreviations) for numeric values.
func parseField(raw string, min, max int, names map[string]int) (fieldSet, bool, error) {
	if raw == "?" {
		return fieldSet{}, true, nil
	}
	set := make(fieldSet)
	for _, part := range strings.Split(raw, ",") {
		lo, hi, step, err := parseRange(part, min, max, names)
		if err != nil {
			return nil, false, err
		}
		for v := lo; v <= hi; v += step {
			set[v] = true
		}
	}
	return set, false, nil
}

func parseRange(part string, min, max int, names map[string]int) (lo, hi, step int, err error) {
	step = 1
	body := part
	if idx := strings.Index(part, "/"); idx >= 0 {
		body = part[:idx]
		if step, err = strconv.Atoi(part[idx+1:]); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid step in %q", part)
		}
	}
	switch {
	case body == "*":
		lo, hi = min, max
	case strings.Contains(body, "-"):
		bounds := strings.SplitN(body, "-", 2)
		if lo, err = parseValue(bounds[0], names); err != nil {
			return 0, 0, 0, err
		}
		if hi, err = parseValue(bounds[1], names); err != nil {
			return 0, 0, 0, err
		}
	default:
		if lo, err = parseValue(body, names); err != nil {
			return 0, 0, 0, err
		}
		hi = lo
	}
	return lo, hi, step, nil
}

func parseValue(s string, names map[string]int) (int, error) {
	if names != nil {
		if v, ok := names[strings.ToUpper(s)]; ok {
			return v, nil
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	return v, nil
}
