package coord

import "github.com/pkg/errors"

// Schedule decides how many dispatch and gather rounds each worker takes
// per iteration.
type Schedule int

const (
	// ScheduleUniform gives every worker one round per iteration.
	ScheduleUniform Schedule = iota
	// ScheduleRank gives worker w exactly w rounds per iteration.
	ScheduleRank
)

// ParseSchedule accepts "uniform" or "rank".
func ParseSchedule(s string) (Schedule, error) {
	switch s {
	case "", "uniform":
		return ScheduleUniform, nil
	case "rank":
		return ScheduleRank, nil
	}
	return ScheduleUniform, errors.Errorf("unknown schedule %q", s)
}

func (s Schedule) String() string {
	if s == ScheduleRank {
		return "rank"
	}
	return "uniform"
}

// Rounds returns the number of rounds of worker w in a group of size.
func (s Schedule) Rounds(w int) int {
	if s == ScheduleRank {
		return w
	}
	return 1
}

// MaxRounds is the number of rounds one iteration runs.
func (s Schedule) MaxRounds(size int) int {
	if s == ScheduleRank {
		return size - 1
	}
	return 1
}

// Aggregation decides how the root folds the residuals of one round into
// the global parameters.
type Aggregation int

const (
	// AggregateSequential applies each residual as it arrives, in rank order.
	AggregateSequential Aggregation = iota
	// AggregateSum adds up every residual of the round and applies the sum once.
	AggregateSum
)

// ParseAggregation accepts "sequential" or "sum".
func ParseAggregation(s string) (Aggregation, error) {
	switch s {
	case "", "sequential":
		return AggregateSequential, nil
	case "sum":
		return AggregateSum, nil
	}
	return AggregateSequential, errors.Errorf("unknown aggregation %q", s)
}

func (a Aggregation) String() string {
	if a == AggregateSum {
		return "sum"
	}
	return "sequential"
}
