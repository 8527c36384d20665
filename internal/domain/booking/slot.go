package booking

import (
	"sort"
	"strings"
	"time"

	"github.com/docslot/docslot/pkg/apperr"
)

// Canonical slot key layouts. Every ledger row and appointment stores these
// exact strings, so equality on the text is equality on the slot.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "03:04 PM"
)

var (
	dateInputs = []string{DateLayout, "2_1_2006"}
	timeInputs = []string{TimeLayout, "3:04 PM", "03:04PM", "3:04PM", "15:04"}
)

// SlotKey is a normalized (date, time) pair.
type SlotKey struct {
	Date string `json:"slot_date"`
	Time string `json:"slot_time"`
}

// ParseSlot normalizes a client supplied date and time. Accepted dates are
// 2024-05-01 and 1_5_2024 (day_month_year); times are 12-hour with or
// without a leading zero or space before AM/PM, or 24-hour.
func ParseSlot(date, clock string) (SlotKey, error) {
	d, err := parseDate(date)
	if err != nil {
		return SlotKey{}, err
	}
	t, err := parseClock(clock)
	if err != nil {
		return SlotKey{}, err
	}
	return SlotKey{Date: d.Format(DateLayout), Time: t.Format(TimeLayout)}, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateInputs {
		if d, err := time.Parse(layout, s); err == nil {
			return d, nil
		}
	}
	return time.Time{}, apperr.Invalid("slot date %q is not a valid date (want YYYY-MM-DD)", s)
}

func parseClock(s string) (time.Time, error) {
	s = strings.Join(strings.Fields(strings.ToUpper(s)), " ")
	for _, layout := range timeInputs {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, apperr.Invalid("slot time %q is not a valid time (want hh:mm AM/PM)", s)
}

// Start is the instant the slot begins in loc.
func (k SlotKey) Start(loc *time.Location) time.Time {
	d, _ := time.Parse(DateLayout, k.Date)
	t, _ := time.Parse(TimeLayout, k.Time)
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), 0, 0, loc)
}

func (k SlotKey) String() string {
	return k.Date + " " + k.Time
}

// SortTimes orders canonical time keys chronologically (12:00 AM first).
func SortTimes(times []string) {
	sort.Slice(times, func(i, j int) bool {
		return minuteOfDay(times[i]) < minuteOfDay(times[j])
	})
}

func minuteOfDay(key string) int {
	t, err := time.Parse(TimeLayout, key)
	if err != nil {
		return -1
	}
	return t.Hour()*60 + t.Minute()
}
