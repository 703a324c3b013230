package scheduler

import (
	"fmt"
	"time"
)

// WorkingHours is the daily window in which periodic jobs may run.
// Monday to Saturday share one window; Sunday has its own. End is exclusive.
type WorkingHours struct {
	Location     *time.Location
	WeekdayStart int
	WeekdayEnd   int
	SundayStart  int
	SundayEnd    int
}

// DefaultWorkingHours returns 08:00-20:00 Monday to Saturday and 10:00-18:00
// on Sunday in Vietnam time
func DefaultWorkingHours() WorkingHours {
	loc, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	if err != nil {
		loc = time.FixedZone("ICT", 7*60*60)
	}
	return WorkingHours{
		Location:     loc,
		WeekdayStart: 8,
		WeekdayEnd:   20,
		SundayStart:  10,
		SundayEnd:    18,
	}
}

// NewWorkingHours builds a window in the named timezone
func NewWorkingHours(timezone string, weekdayStart, weekdayEnd, sundayStart, sundayEnd int) (WorkingHours, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return WorkingHours{}, fmt.Errorf("%w: timezone %q: %v", ErrInvalidConfig, timezone, err)
	}
	h := WorkingHours{
		Location:     loc,
		WeekdayStart: weekdayStart,
		WeekdayEnd:   weekdayEnd,
		SundayStart:  sundayStart,
		SundayEnd:    sundayEnd,
	}
	return h, h.Validate()
}

// Validate checks hours are within a day and each window is not inverted
func (h WorkingHours) Validate() error {
	for _, hr := range []int{h.WeekdayStart, h.WeekdayEnd, h.SundayStart, h.SundayEnd} {
		if hr < 0 || hr > 24 {
			return fmt.Errorf("%w: hour %d out of range", ErrInvalidConfig, hr)
		}
	}
	if h.WeekdayStart > h.WeekdayEnd || h.SundayStart > h.SundayEnd {
		return fmt.Errorf("%w: window ends before it starts", ErrInvalidConfig)
	}
	return nil
}

// Contains reports whether t falls inside the window
func (h WorkingHours) Contains(t time.Time) bool {
	if h.Location != nil {
		t = t.In(h.Location)
	}
	start, end := h.WeekdayStart, h.WeekdayEnd
	if t.Weekday() == time.Sunday {
		start, end = h.SundayStart, h.SundayEnd
	}
	hour := t.Hour()
	return hour >= start && hour < end
}
