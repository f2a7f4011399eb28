package semantic

// Grain is a time-dimension granularity, ordered finest to coarsest.
type Grain string

const (
	GrainSecond  Grain = "second"
	GrainMinute  Grain = "minute"
	GrainHour    Grain = "hour"
	GrainDay     Grain = "day"
	GrainWeek    Grain = "week"
	GrainMonth   Grain = "month"
	GrainQuarter Grain = "quarter"
	GrainYear    Grain = "year"
)

// grainOrder maps each grain to its position, finest first.
var grainOrder = map[Grain]int{
	GrainSecond:  0,
	GrainMinute:  1,
	GrainHour:    2,
	GrainDay:     3,
	GrainWeek:    4,
	GrainMonth:   5,
	GrainQuarter: 6,
	GrainYear:    7,
}

// ParseGrain validates a grain literal.
func ParseGrain(s string) (Grain, error) {
	g := Grain(s)
	if _, ok := grainOrder[g]; !ok {
		return "", ErrInvalidTimeGrain("unrecognized time grain %q", s)
	}
	return g, nil
}

// FinerThan reports whether g is strictly finer than other.
func (g Grain) FinerThan(other Grain) bool {
	return grainOrder[g] < grainOrder[other]
}
