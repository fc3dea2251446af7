package schedule

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Window is a fixed UTC time-of-day segment holding a share of the daily
// request budget. A window may wrap past midnight (EndHour <= StartHour).
type Window struct {
	StartHour int     `mapstructure:"start_hour"`
	EndHour   int     `mapstructure:"end_hour"`
	Weight    float64 `mapstructure:"weight"`
}

// DefaultWindows bias the budget toward the EU+US overlap hours.
var DefaultWindows = []Window{
	{StartHour: 7, EndHour: 12, Weight: 0.1875},
	{StartHour: 12, EndHour: 16, Weight: 0.5},
	{StartHour: 16, EndHour: 20, Weight: 0.1875},
	{StartHour: 20, EndHour: 24, Weight: 0.0625},
	{StartHour: 0, EndHour: 7, Weight: 0.0625},
}

// Slot is one concrete call time within a day, expressed as a wall-clock
// offset from local midnight in the schedule's location.
type Slot struct {
	Offset      time.Duration
	WindowIndex int
}

// DailySchedule is the derived, immutable per-day call plan. A new budget
// produces a new schedule; instances are never mutated after Generate.
type DailySchedule struct {
	DailyRequests int
	MonthlyUsed   int
	Residual      int
	Slots         []Slot
	Location      *time.Location
}

const weightTolerance = 1e-9

// Validate checks that the windows partition the full day and that their
// weights sum to one.
func Validate(windows []Window) error {
	if len(windows) == 0 {
		return fmt.Errorf("schedule: at least one window required")
	}

	totalMinutes := 0
	weightSum := 0.0
	for i, w := range windows {
		if w.StartHour < 0 || w.StartHour > 23 || w.EndHour < 0 || w.EndHour > 24 {
			return fmt.Errorf("schedule: window %d has hours outside [0,24]", i)
		}
		if w.Weight < 0 {
			return fmt.Errorf("schedule: window %d has negative weight", i)
		}
		next := windows[(i+1)%len(windows)]
		if w.EndHour%24 != next.StartHour%24 {
			return fmt.Errorf("schedule: window %d ends at %d but window %d starts at %d", i, w.EndHour, (i+1)%len(windows), next.StartHour)
		}
		totalMinutes += minutesInWindow(w)
		weightSum += w.Weight
	}
	if totalMinutes != 24*60 {
		return fmt.Errorf("schedule: windows cover %d minutes, want %d", totalMinutes, 24*60)
	}
	if math.Abs(weightSum-1.0) > weightTolerance {
		return fmt.Errorf("schedule: window weights sum to %v, want 1.0", weightSum)
	}
	return nil
}

// Generate turns a monthly request budget into the day's call slots.
//
// The remainder of monthlyBudget that does not divide evenly across the
// month is reported in Residual and deliberately never spent: staying under
// quota beats exhausting it.
func Generate(monthlyBudget, daysInMonth int, windows []Window, loc *time.Location) (DailySchedule, error) {
	if daysInMonth <= 0 {
		return DailySchedule{}, fmt.Errorf("schedule: days in month must be positive, got %d", daysInMonth)
	}
	if monthlyBudget < 0 {
		return DailySchedule{}, fmt.Errorf("schedule: monthly budget cannot be negative, got %d", monthlyBudget)
	}
	if err := Validate(windows); err != nil {
		return DailySchedule{}, err
	}
	if loc == nil {
		loc = time.UTC
	}

	daily := monthlyBudget / daysInMonth
	used := daily * daysInMonth

	counts := apportion(windows, daily)

	// Build slot times on an arbitrary reference day in UTC, then read the
	// wall clock back in the output location. Only the time of day survives.
	ref := time.Now().UTC()
	midnightUTC := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, time.UTC)

	slots := make([]Slot, 0, daily)
	for i, w := range windows {
		n := counts[i]
		if n <= 0 {
			continue
		}
		windowStart := midnightUTC.Add(time.Duration(w.StartHour) * time.Hour)
		interval := time.Duration(minutesInWindow(w)) * time.Minute / time.Duration(n)
		// Offset the first slot by half an interval so no slot lands on a
		// window boundary.
		for k := 0; k < n; k++ {
			at := windowStart.Add(interval/2 + time.Duration(k)*interval)
			slots = append(slots, Slot{Offset: localOffset(at, loc), WindowIndex: i})
		}
	}

	sort.Slice(slots, func(a, b int) bool { return slots[a].Offset < slots[b].Offset })

	return DailySchedule{
		DailyRequests: daily,
		MonthlyUsed:   used,
		Residual:      monthlyBudget - used,
		Slots:         slots,
		Location:      loc,
	}, nil
}

// apportion splits the daily budget across windows by weight using
// largest-remainder (Hamilton) apportionment, ties broken by window index.
func apportion(windows []Window, daily int) []int {
	counts := make([]int, len(windows))
	type remainder struct {
		frac  float64
		index int
	}
	remainders := make([]remainder, len(windows))

	allocated := 0
	for i, w := range windows {
		raw := w.Weight * float64(daily)
		counts[i] = int(math.Floor(raw))
		allocated += counts[i]
		remainders[i] = remainder{frac: raw - float64(counts[i]), index: i}
	}

	sort.Slice(remainders, func(a, b int) bool {
		if remainders[a].frac != remainders[b].frac {
			return remainders[a].frac > remainders[b].frac
		}
		return remainders[a].index < remainders[b].index
	})

	for _, r := range remainders[:daily-allocated] {
		counts[r.index]++
	}
	return counts
}

func minutesInWindow(w Window) int {
	end := w.EndHour
	if end <= w.StartHour {
		end += 24
	}
	return (end - w.StartHour) * 60
}

func localOffset(t time.Time, loc *time.Location) time.Duration {
	local := t.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return local.Sub(midnight)
}
