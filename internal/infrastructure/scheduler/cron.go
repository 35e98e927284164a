package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronExpression is a parsed 5-field cron expression:
// minute hour day-of-month month day-of-week.
// Examples:
//   - "*/5 * * * *"  - every 5 minutes
//   - "0 3 * * *"    - every day at 03:00
//   - "30 3 * * 1-5" - weekdays at 03:30
//
// Each field accepts *, n, n-m, */s, n-m/s and comma separated lists of
// those. Day-of-week 7 is Sunday, like 0. When both day fields are
// restricted a time matches if either does, as in classic cron.
type CronExpression struct {
	raw      string
	minutes  fieldSet
	hours    fieldSet
	days     fieldSet
	months   fieldSet
	weekdays fieldSet

	daysAny     bool
	weekdaysAny bool
}

// fieldSet is a bitmap of allowed values; all cron ranges fit in 64 bits.
type fieldSet uint64

func (f fieldSet) has(v int) bool { return f&(1<<uint(v)) != 0 }

type fieldBounds struct {
	name     string
	min, max int
}

var (
	minuteBounds  = fieldBounds{"minute", 0, 59}
	hourBounds    = fieldBounds{"hour", 0, 23}
	dayBounds     = fieldBounds{"day-of-month", 1, 31}
	monthBounds   = fieldBounds{"month", 1, 12}
	weekdayBounds = fieldBounds{"day-of-week", 0, 7}
)

// ParseCronExpression parses a cron expression string.
func ParseCronExpression(expr string) (*CronExpression, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("invalid cron expression %q: expected 5 fields, got %d", expr, len(fields))
	}

	ce := &CronExpression{
		raw:         expr,
		daysAny:     fields[2] == "*",
		weekdaysAny: fields[4] == "*",
	}

	targets := []struct {
		set    *fieldSet
		bounds fieldBounds
	}{
		{&ce.minutes, minuteBounds},
		{&ce.hours, hourBounds},
		{&ce.days, dayBounds},
		{&ce.months, monthBounds},
		{&ce.weekdays, weekdayBounds},
	}
	for i, t := range targets {
		set, err := parseField(fields[i], t.bounds)
		if err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
		}
		*t.set = set
	}

	if ce.weekdays.has(7) {
		ce.weekdays |= 1
	}
	return ce, nil
}

// MustParseCronExpression parses a cron expression or panics.
// Use only for compile-time constants.
func MustParseCronExpression(expr string) *CronExpression {
	ce, err := ParseCronExpression(expr)
	if err != nil {
		panic(err)
	}
	return ce
}

func parseField(field string, b fieldBounds) (fieldSet, error) {
	var set fieldSet
	for _, term := range strings.Split(field, ",") {
		s, err := parseTerm(term, b)
		if err != nil {
			return 0, fmt.Errorf("%s field: %w", b.name, err)
		}
		set |= s
	}
	return set, nil
}

func parseTerm(term string, b fieldBounds) (fieldSet, error) {
	if term == "" {
		return 0, fmt.Errorf("empty term")
	}

	rangePart, step := term, 1
	if i := strings.IndexByte(term, '/'); i >= 0 {
		n, err := strconv.Atoi(term[i+1:])
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid step in %q", term)
		}
		rangePart, step = term[:i], n
	}

	lo, hi := b.min, b.max
	switch {
	case rangePart == "*":
	case strings.Contains(rangePart, "-"):
		from, to, _ := strings.Cut(rangePart, "-")
		var err error
		if lo, err = atoiInRange(from, b); err != nil {
			return 0, err
		}
		if hi, err = atoiInRange(to, b); err != nil {
			return 0, err
		}
		if lo > hi {
			return 0, fmt.Errorf("range %q is reversed", rangePart)
		}
	default:
		v, err := atoiInRange(rangePart, b)
		if err != nil {
			return 0, err
		}
		lo = v
		if step == 1 {
			hi = v
		}
	}

	var set fieldSet
	for v := lo; v <= hi; v += step {
		set |= 1 << uint(v)
	}
	return set, nil
}

func atoiInRange(s string, b fieldBounds) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	if v < b.min || v > b.max {
		return 0, fmt.Errorf("value %d out of range [%d-%d]", v, b.min, b.max)
	}
	return v, nil
}

// String returns the original cron expression.
func (ce *CronExpression) String() string {
	return ce.raw
}

// Next returns the first matching minute strictly after t, in t's location.
// It returns the zero time when nothing matches within four years.
func (ce *CronExpression) Next(t time.Time) time.Time {
	next := t.Truncate(time.Minute).Add(time.Minute)
	limit := next.AddDate(4, 0, 0)

	for next.Before(limit) {
		if !ce.months.has(int(next.Month())) {
			next = time.Date(next.Year(), next.Month()+1, 1, 0, 0, 0, 0, next.Location())
			continue
		}
		if !ce.dayMatches(next) {
			next = time.Date(next.Year(), next.Month(), next.Day()+1, 0, 0, 0, 0, next.Location())
			continue
		}
		if !ce.hours.has(next.Hour()) {
			next = time.Date(next.Year(), next.Month(), next.Day(), next.Hour()+1, 0, 0, 0, next.Location())
			continue
		}
		if !ce.minutes.has(next.Minute()) {
			next = next.Add(time.Minute)
			continue
		}
		return next
	}
	return time.Time{}
}

func (ce *CronExpression) dayMatches(t time.Time) bool {
	dom := ce.days.has(t.Day())
	dow := ce.weekdays.has(int(t.Weekday()))
	switch {
	case ce.daysAny && ce.weekdaysAny:
		return true
	case ce.daysAny:
		return dow
	case ce.weekdaysAny:
		return dom
	default:
		return dom || dow
	}
}

// Common cron expression presets.
const (
	EveryMinute      = "* * * * *"
	Every5Minutes    = "*/5 * * * *"
	EveryHour        = "0 * * * *"
	EveryDayMidnight = "0 0 * * *"
	EveryDay3AM      = "0 3 * * *"
	EveryDay330AM    = "30 3 * * *"
)
