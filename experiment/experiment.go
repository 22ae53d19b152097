// Package experiment implements the epoch/experiment tracker: stable run
// identity, the IDEA->CREATION->BACKTEST->DEMO->LIVE promotion chain, and
// grouping of multiple runs under a shared experiment_id.
package experiment

import (
	"github.com/chidi150c/perpbacktest/errs"
	"github.com/google/uuid"
)

// Epoch is a lifecycle label for one run.
type Epoch string

const (
	EpochIdea     Epoch = "IDEA"
	EpochCreation Epoch = "CREATION"
	EpochBacktest Epoch = "BACKTEST"
	EpochDemo     Epoch = "DEMO"
	EpochLive     Epoch = "LIVE"
)

var order = map[Epoch]int{
	EpochIdea:     0,
	EpochCreation: 1,
	EpochBacktest: 2,
	EpochDemo:     3,
	EpochLive:     4,
}

// ExperimentType classifies what a group of runs under one experiment_id
// is exploring, so a tracker UI or report can group/label them without
// inspecting each run's Play.
type ExperimentType string

const (
	// ExperimentTimeframeMix groups runs of the same strategy across
	// different role-to-TF mappings.
	ExperimentTimeframeMix ExperimentType = "timeframe_mix"
	// ExperimentMultiStrategy groups runs of different strategies over
	// the same symbol/window, compared against one another.
	ExperimentMultiStrategy ExperimentType = "multi_strategy"
	// ExperimentParameterSweep groups runs of one strategy varied only by
	// its StrategyParams.
	ExperimentParameterSweep ExperimentType = "parameter_sweep"
)

func (e Epoch) next() (Epoch, bool) {
	switch e {
	case EpochIdea:
		return EpochCreation, true
	case EpochCreation:
		return EpochBacktest, true
	case EpochBacktest:
		return EpochDemo, true
	case EpochDemo:
		return EpochLive, true
	default:
		return "", false
	}
}

// Run wraps one backtest execution with a stable identity and its
// current epoch.
type Run struct {
	RunID          string
	ExperimentID   string
	ExperimentType ExperimentType
	Epoch          Epoch
}

// NewRun creates a Run in the IDEA epoch with a fresh run_id, grouped
// under experimentID (a caller-supplied or freshly generated id shared
// across a parameter sweep) and labeled with its experiment type.
func NewRun(experimentID string, experimentType ExperimentType) *Run {
	return &Run{RunID: uuid.New().String(), ExperimentID: experimentID, ExperimentType: experimentType, Epoch: EpochIdea}
}

// NewExperimentID generates a fresh experiment identifier to group a
// related set of runs (a timeframe mix, a parameter sweep, etc.).
func NewExperimentID() string { return uuid.New().String() }

// MetricsPredicate decides whether a run's metrics clear the bar for
// promotion to the next epoch.
type MetricsPredicate func() bool

// Promote advances r to the next epoch if predicate() returns true.
// A rejected promotion leaves r in its current epoch and is not an
// error — it's an expected outcome of the gate.
func (r *Run) Promote(predicate MetricsPredicate) (promoted bool, err error) {
	next, ok := r.Epoch.next()
	if !ok {
		return false, errs.Newf(errs.KindInvalidPolicy, "run %s is already at the terminal epoch %s", r.RunID, r.Epoch)
	}
	if !predicate() {
		return false, nil
	}
	r.Epoch = next
	return true, nil
}

// AtLeast reports whether r's current epoch is at or past target in the
// promotion chain.
func (r *Run) AtLeast(target Epoch) bool {
	return order[r.Epoch] >= order[target]
}

// Tracker groups runs by experiment_id.
type Tracker struct {
	runs map[string][]*Run
}

func NewTracker() *Tracker {
	return &Tracker{runs: map[string][]*Run{}}
}

// Add registers a run under its experiment_id.
func (t *Tracker) Add(r *Run) {
	t.runs[r.ExperimentID] = append(t.runs[r.ExperimentID], r)
}

// Runs returns every run registered under experimentID, in insertion
// order.
func (t *Tracker) Runs(experimentID string) []*Run {
	return t.runs[experimentID]
}

// AtLeastCount reports how many of experimentID's runs have reached at
// least target epoch, used by a parameter sweep to decide if enough
// candidates cleared BACKTEST to justify promoting the batch further.
func (t *Tracker) AtLeastCount(experimentID string, target Epoch) int {
	n := 0
	for _, r := range t.runs[experimentID] {
		if r.AtLeast(target) {
			n++
		}
	}
	return n
}
