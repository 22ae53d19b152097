package experiment_test

import (
	"testing"

	"github.com/chidi150c/perpbacktest/errs"
	"github.com/chidi150c/perpbacktest/experiment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRun_StartsAtIdeaEpoch(t *testing.T) {
	r := experiment.NewRun("exp-1", experiment.ExperimentParameterSweep)
	assert.Equal(t, experiment.EpochIdea, r.Epoch)
	assert.Equal(t, "exp-1", r.ExperimentID)
	assert.Equal(t, experiment.ExperimentParameterSweep, r.ExperimentType)
	assert.NotEmpty(t, r.RunID)
}

func TestPromote_AdvancesOnTruePredicate(t *testing.T) {
	r := experiment.NewRun("exp-1", experiment.ExperimentTimeframeMix)
	promoted, err := r.Promote(func() bool { return true })
	require.NoError(t, err)
	assert.True(t, promoted)
	assert.Equal(t, experiment.EpochCreation, r.Epoch)
}

func TestPromote_RejectedPredicateLeavesEpochUnchanged(t *testing.T) {
	r := experiment.NewRun("exp-1", experiment.ExperimentTimeframeMix)
	promoted, err := r.Promote(func() bool { return false })
	require.NoError(t, err)
	assert.False(t, promoted)
	assert.Equal(t, experiment.EpochIdea, r.Epoch)
}

func TestPromote_TerminalEpochErrors(t *testing.T) {
	r := experiment.NewRun("exp-1", experiment.ExperimentTimeframeMix)
	for i := 0; i < 4; i++ {
		_, err := r.Promote(func() bool { return true })
		require.NoError(t, err)
	}
	assert.Equal(t, experiment.EpochLive, r.Epoch)

	_, err := r.Promote(func() bool { return true })
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindInvalidPolicy))
}

func TestAtLeast_ComparesPromotionOrder(t *testing.T) {
	r := experiment.NewRun("exp-1", experiment.ExperimentMultiStrategy)
	assert.True(t, r.AtLeast(experiment.EpochIdea))
	assert.False(t, r.AtLeast(experiment.EpochBacktest))

	r.Promote(func() bool { return true })
	r.Promote(func() bool { return true })
	assert.True(t, r.AtLeast(experiment.EpochBacktest))
	assert.False(t, r.AtLeast(experiment.EpochDemo))
}

func TestTracker_AddAndRunsGroupByExperimentID(t *testing.T) {
	tr := experiment.NewTracker()
	r1 := experiment.NewRun("exp-1", experiment.ExperimentParameterSweep)
	r2 := experiment.NewRun("exp-1", experiment.ExperimentParameterSweep)
	r3 := experiment.NewRun("exp-2", experiment.ExperimentParameterSweep)
	tr.Add(r1)
	tr.Add(r2)
	tr.Add(r3)

	assert.ElementsMatch(t, []*experiment.Run{r1, r2}, tr.Runs("exp-1"))
	assert.Len(t, tr.Runs("exp-2"), 1)
	assert.Empty(t, tr.Runs("exp-3"))
}

func TestTracker_AtLeastCount(t *testing.T) {
	tr := experiment.NewTracker()
	r1 := experiment.NewRun("exp-1", experiment.ExperimentParameterSweep)
	r2 := experiment.NewRun("exp-1", experiment.ExperimentParameterSweep)
	r2.Promote(func() bool { return true })
	r2.Promote(func() bool { return true })
	tr.Add(r1)
	tr.Add(r2)

	assert.Equal(t, 1, tr.AtLeastCount("exp-1", experiment.EpochBacktest))
	assert.Equal(t, 2, tr.AtLeastCount("exp-1", experiment.EpochIdea))
}
