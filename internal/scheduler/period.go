package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Period generates the firing slots of a periodic schedule. Slots are
// derived from the first slot, never chained from the previous one, so
// calendar periods keep their day of month.
type Period interface {
	// First returns the first slot at or after start.
	First(start time.Time) time.Time

	// Floor returns the latest slot of the sequence beginning at first that
	// is at or before t. t must not be before first.
	Floor(first, t time.Time) time.Time

	// After returns the earliest slot of the sequence beginning at first
	// that is after t.
	After(first, t time.Time) time.Time

	String() string
}

// ISODuration is an ISO 8601 duration. Years, months and days are applied on
// the calendar, the time part as a fixed duration.
type ISODuration struct {
	Years, Months, Days int
	Time                time.Duration
	text                string
}

var isoDuration = regexp.MustCompile(`^P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// ParseISODuration parses durations like PT5M, PT1H30M, P1D, P1W or P1M.
func ParseISODuration(s string) (ISODuration, error) {
	m := isoDuration.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(s)))
	if m == nil || m[0] == "P" || strings.HasSuffix(m[0], "T") {
		return ISODuration{}, fmt.Errorf("invalid ISO 8601 duration %q", s)
	}
	n := make([]int, len(m))
	for i := 1; i < len(m); i++ {
		if m[i] == "" {
			continue
		}
		v, err := strconv.Atoi(m[i])
		if err != nil {
			return ISODuration{}, fmt.Errorf("invalid ISO 8601 duration %q: %w", s, err)
		}
		n[i] = v
	}
	d := ISODuration{
		Years:  n[1],
		Months: n[2],
		Days:   n[3]*7 + n[4],
		Time:   time.Duration(n[5])*time.Hour + time.Duration(n[6])*time.Minute + time.Duration(n[7])*time.Second,
		text:   m[0],
	}
	if d.IsZero() {
		return ISODuration{}, fmt.Errorf("ISO 8601 duration %q is zero", s)
	}
	return d, nil
}

// IsZero reports whether the duration is empty.
func (d ISODuration) IsZero() bool {
	return d.Years == 0 && d.Months == 0 && d.Days == 0 && d.Time == 0
}

func (d ISODuration) First(start time.Time) time.Time { return start }

// Slot returns slot n of the sequence beginning at first. Months and years
// are counted from first and the day is clamped to the end of the target
// month, so P1M from January 31 gives February 28 (or 29), then March 31.
func (d ISODuration) Slot(first time.Time, n int) time.Time {
	t := first
	if months := n * (d.Years*12 + d.Months); months != 0 {
		t = addMonths(first, months)
	}
	if d.Days != 0 {
		t = t.AddDate(0, 0, n*d.Days)
	}
	return t.Add(time.Duration(n) * d.Time)
}

// Next returns the slot following t when t is itself the first slot.
func (d ISODuration) Next(t time.Time) time.Time { return d.Slot(t, 1) }

func (d ISODuration) Floor(first, t time.Time) time.Time {
	return d.Slot(first, d.index(first, t))
}

func (d ISODuration) After(first, t time.Time) time.Time {
	if t.Before(first) {
		return first
	}
	return d.Slot(first, d.index(first, t)+1)
}

// index returns the largest n whose slot is at or before t. The estimate
// from the average length is exact for pure time durations and off by at
// most a few slots for calendar ones.
func (d ISODuration) index(first, t time.Time) int {
	if !t.After(first) {
		return 0
	}
	n := int(t.Sub(first) / d.approx())
	for n > 0 && d.Slot(first, n).After(t) {
		n--
	}
	for !d.Slot(first, n+1).After(t) {
		n++
	}
	return n
}

func (d ISODuration) approx() time.Duration {
	const (
		day   = 24 * time.Hour
		month = 2629746 * time.Second // 365.2425 / 12 days
	)
	return time.Duration(d.Years)*12*month + time.Duration(d.Months)*month + time.Duration(d.Days)*day + d.Time
}

func addMonths(t time.Time, months int) time.Time {
	y, m, day := t.Date()
	target := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	if last := daysIn(target.Year(), target.Month(), t.Location()); day > last {
		day = last
	}
	return time.Date(target.Year(), target.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

func (d ISODuration) String() string { return d.text }

type cronPeriod struct {
	schedule cron.Schedule
	spec     string
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func (c cronPeriod) First(start time.Time) time.Time {
	if _, ok := c.schedule.(cron.ConstantDelaySchedule); ok {
		return start
	}
	return c.schedule.Next(start.Add(-time.Second))
}

// Floor walks forward from a look-back window before t. The window doubles
// until it holds a slot or reaches first.
func (c cronPeriod) Floor(first, t time.Time) time.Time {
	if delay, ok := c.schedule.(cron.ConstantDelaySchedule); ok {
		return first.Add(t.Sub(first) / delay.Delay * delay.Delay)
	}
	for window := time.Hour; ; window *= 2 {
		anchor := t.Add(-window)
		if !anchor.After(first) {
			return c.walk(first, t)
		}
		if next := c.schedule.Next(anchor); !next.IsZero() && !next.After(t) {
			return c.walk(next, t)
		}
	}
}

// walk returns the last slot at or before t, starting at slot from.
func (c cronPeriod) walk(from, t time.Time) time.Time {
	slot := from
	for i := 0; i < maxSlots; i++ {
		next := c.schedule.Next(slot)
		if next.After(t) || next.IsZero() {
			return slot
		}
		slot = next
	}
	return slot
}

func (c cronPeriod) After(first, t time.Time) time.Time {
	if t.Before(first) {
		return first
	}
	if delay, ok := c.schedule.(cron.ConstantDelaySchedule); ok {
		return c.Floor(first, t).Add(delay.Delay)
	}
	return c.schedule.Next(t)
}

func (c cronPeriod) String() string { return c.spec }

// ParsePeriod parses a schedule period: an ISO 8601 duration, a five field
// cron expression or a descriptor such as @daily or @every 1h.
func ParsePeriod(s string) (Period, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty period")
	}
	if strings.HasPrefix(strings.ToUpper(s), "P") {
		return ParseISODuration(s)
	}
	sched, err := cronParser.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", s, err)
	}
	return cronPeriod{schedule: sched, spec: s}, nil
}
