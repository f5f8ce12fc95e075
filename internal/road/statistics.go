package road

import (
	"fmt"
	"math"

	"golang.org/x/exp/constraints"

	"github.com/talgya/mini-roads/internal/grid"
)

// Category is a kind of traffic statistic.
type Category uint8

const (
	CategoryGoods    Category = iota // Cargo units carried across the tile
	CategoryVehicles                 // Vehicles crossing the tile
)

// CategoryCount is the number of statistic categories.
const CategoryCount = 2

// DefaultStatMonths is the length of the statistics ring.
const DefaultStatMonths = 12

func (c Category) String() string {
	switch c {
	case CategoryGoods:
		return "goods"
	case CategoryVehicles:
		return "vehicles"
	default:
		return "unknown"
	}
}

// PriorSetting overrides the derived right-of-way axis. The ordinal is persisted.
type PriorSetting uint8

const (
	PriorAutomatic  PriorSetting = 0 // Derived from traffic statistics
	PriorNorthSouth PriorSetting = 1 // North-south traffic has priority
	PriorEastWest   PriorSetting = 2 // East-west traffic has priority
)

// Valid reports whether s is a known setting.
func (s PriorSetting) Valid() bool {
	return s <= PriorEastWest
}

func (s PriorSetting) String() string {
	switch s {
	case PriorAutomatic:
		return "automatic"
	case PriorNorthSouth:
		return "north-south"
	case PriorEastWest:
		return "east-west"
	default:
		return fmt.Sprintf("prior(%d)", uint8(s))
	}
}

// ParsePriorSetting parses a setting name as produced by String.
func ParsePriorSetting(s string) (PriorSetting, error) {
	for _, p := range []PriorSetting{PriorAutomatic, PriorNorthSouth, PriorEastWest} {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown prior direction setting %q", s)
}

// MonthStats holds one month of counters indexed by category and axis.
type MonthStats [CategoryCount][grid.AxisCount]int32

// Statistics is a rolling ring of monthly directional traffic counters.
// Month 0 is the current month. Counters never go negative and saturate
// instead of overflowing.
type Statistics struct {
	months []MonthStats
}

// NewStatistics creates zeroed statistics keeping the given number of months.
func NewStatistics(months int) Statistics {
	if months < 1 {
		months = DefaultStatMonths
	}
	return Statistics{months: make([]MonthStats, months)}
}

func saturatingAdd[T constraints.Signed](a, b, limit T) T {
	if b > limit-a {
		return limit
	}
	return a + b
}

// Book adds amount to the current month's counter. Negative amounts are ignored.
func (s *Statistics) Book(amount int, c Category, a grid.Axis) {
	if amount <= 0 || len(s.months) == 0 || int(c) >= CategoryCount || int(a) >= grid.AxisCount {
		return
	}
	add := int32(math.MaxInt32)
	if amount < math.MaxInt32 {
		add = int32(amount)
	}
	cell := &s.months[0][c][a]
	*cell = saturatingAdd(*cell, add, math.MaxInt32)
}

// BookDirection books amount on every axis dir touches.
func (s *Statistics) BookDirection(amount int, c Category, dir grid.Ribi) {
	for _, a := range dir.Axes() {
		s.Book(amount, c, a)
	}
}

// AdvanceMonth shifts every month back one slot, discards the oldest and
// starts a zeroed current month.
func (s *Statistics) AdvanceMonth() {
	if len(s.months) == 0 {
		return
	}
	copy(s.months[1:], s.months[:len(s.months)-1])
	s.months[0] = MonthStats{}
}

// Reset zeroes every month.
func (s *Statistics) Reset() {
	clear(s.months)
}

// Get returns one counter. Out-of-range indexes read as zero.
func (s *Statistics) Get(month int, c Category, a grid.Axis) int32 {
	if month < 0 || month >= len(s.months) || int(c) >= CategoryCount || int(a) >= grid.AxisCount {
		return 0
	}
	return s.months[month][c][a]
}

// Months returns the ring length.
func (s *Statistics) Months() int {
	return len(s.months)
}

// IsZero reports whether every counter is zero.
func (s *Statistics) IsZero() bool {
	for _, m := range s.months {
		if m != (MonthStats{}) {
			return false
		}
	}
	return true
}

// Values returns a copy of the ring for persistence.
func (s *Statistics) Values() []MonthStats {
	out := make([]MonthStats, len(s.months))
	copy(out, s.months)
	return out
}

// SetValues replaces the ring. Negative counters are clamped to zero.
func (s *Statistics) SetValues(months []MonthStats) {
	if len(months) == 0 {
		*s = NewStatistics(DefaultStatMonths)
		return
	}
	s.months = make([]MonthStats, len(months))
	copy(s.months, months)
	for i := range s.months {
		for c := range s.months[i] {
			for a := range s.months[i][c] {
				if s.months[i][c][a] < 0 {
					s.months[i][c][a] = 0
				}
			}
		}
	}
}

// swapAxes exchanges the north-south and east-west counters.
func (s *Statistics) swapAxes() {
	for i := range s.months {
		for c := range s.months[i] {
			m := &s.months[i][c]
			m[grid.AxisNorthSouth], m[grid.AxisEastWest] = m[grid.AxisEastWest], m[grid.AxisNorthSouth]
		}
	}
}

// Weighted returns the vehicle count on axis a, weighting month i by
// (months - i) so recent traffic counts most.
func (s *Statistics) Weighted(a grid.Axis) int64 {
	n := len(s.months)
	var total int64
	for i, m := range s.months {
		total += int64(n-i) * int64(m[CategoryVehicles][a])
	}
	return total
}

// PriorityAxis returns the axis with right of way. A manual setting wins;
// otherwise the busier axis by Weighted. Ties go to north-south.
func (s *Statistics) PriorityAxis(setting PriorSetting) grid.Axis {
	switch setting {
	case PriorNorthSouth:
		return grid.AxisNorthSouth
	case PriorEastWest:
		return grid.AxisEastWest
	}
	if s.Weighted(grid.AxisEastWest) > s.Weighted(grid.AxisNorthSouth) {
		return grid.AxisEastWest
	}
	return grid.AxisNorthSouth
}
