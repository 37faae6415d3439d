package lane_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctrlplane/kernel/lane"
)

func TestCreateAutoActivatesWhenNoneActive(t *testing.T) {
	s := lane.New(0, 0)
	l, err := s.Create("writing", "draft chapter", lane.Execution, time.Hour, lane.Policy{}, lane.Budgets{}, true)
	require.NoError(t, err)
	assert.Equal(t, lane.Active, l.Status)

	active, ok := s.GetActive()
	require.True(t, ok)
	assert.Equal(t, l.ID, active.ID)
}

func TestCreateSecondLaneStartsPausedWhileOneActive(t *testing.T) {
	s := lane.New(0, 0)
	_, err := s.Create("writing", "draft", lane.Execution, time.Hour, lane.Policy{}, lane.Budgets{}, true)
	require.NoError(t, err)

	second, err := s.Create("research", "look things up", lane.Execution, time.Hour, lane.Policy{}, lane.Budgets{}, true)
	require.NoError(t, err)
	assert.Equal(t, lane.Paused, second.Status)
}

func TestActivateRequiresCurrentPausedFirst(t *testing.T) {
	s := lane.New(0, 0)
	first, _ := s.Create("writing", "draft", lane.Execution, time.Hour, lane.Policy{}, lane.Budgets{}, true)
	second, _ := s.Create("research", "look things up", lane.Execution, time.Hour, lane.Policy{}, lane.Budgets{}, true)

	_, err := s.Activate(second.ID)
	require.Error(t, err)

	_, err = s.Pause(first.ID, "stopped mid-paragraph", nil, nil)
	require.NoError(t, err)

	activated, err := s.Activate(second.ID)
	require.NoError(t, err)
	assert.Equal(t, lane.Active, activated.Status)
}

func TestPauseRequiresNonEmptyBookmark(t *testing.T) {
	s := lane.New(0, 0)
	l, _ := s.Create("writing", "draft", lane.Execution, time.Hour, lane.Policy{}, lane.Budgets{}, true)
	_, err := s.Pause(l.ID, "", nil, nil)
	assert.Error(t, err)
}

func TestResumeRequiresNoOtherActiveLane(t *testing.T) {
	s := lane.New(0, 0)
	first, _ := s.Create("writing", "draft", lane.Execution, time.Hour, lane.Policy{}, lane.Budgets{}, true)
	_, _ = s.Pause(first.ID, "stopped here", []string{"continue draft"}, nil)
	second, _ := s.Create("research", "look things up", lane.Execution, time.Hour, lane.Policy{}, lane.Budgets{}, true)

	_, err := s.Resume(first.ID)
	require.Error(t, err)

	_, err = s.Pause(second.ID, "paused research", nil, nil)
	require.NoError(t, err)

	resumed, err := s.Resume(first.ID)
	require.NoError(t, err)
	assert.Equal(t, "stopped here", resumed.Snapshot.Bookmark)
	assert.Equal(t, []string{"continue draft"}, resumed.Snapshot.NextSteps)
}

func TestPausedLaneCapBlocksCreate(t *testing.T) {
	s := lane.New(1, 0)
	_, _ = s.Create("a", "goal", lane.Execution, time.Hour, lane.Policy{}, lane.Budgets{}, true)

	_, err := s.Create("b", "goal", lane.Execution, time.Hour, lane.Policy{}, lane.Budgets{}, true)
	require.NoError(t, err)

	_, err = s.Create("c", "goal", lane.Execution, time.Hour, lane.Policy{}, lane.Budgets{}, true)
	assert.Error(t, err)
}

func TestRemoveOnlyCompletedLanes(t *testing.T) {
	s := lane.New(0, 0)
	l, _ := s.Create("a", "goal", lane.Execution, time.Hour, lane.Policy{}, lane.Budgets{}, true)
	assert.False(t, s.Remove(l.ID))

	_, err := s.Complete(l.ID, "done")
	require.NoError(t, err)
	assert.True(t, s.Remove(l.ID))
}

func TestCheckExpiredLeasesDoesNotAutoExpire(t *testing.T) {
	s := lane.New(0, 0)
	l, _ := s.Create("a", "goal", lane.Execution, time.Millisecond, lane.Policy{}, lane.Budgets{}, true)
	time.Sleep(5 * time.Millisecond)

	expired := s.CheckExpiredLeases()
	require.Len(t, expired, 1)
	assert.Equal(t, l.ID, expired[0].ID)

	got, ok := s.Get(l.ID)
	require.True(t, ok)
	assert.Equal(t, lane.Active, got.Status)
}
