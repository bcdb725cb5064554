package backupset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestTransition walks the happy path and rejects shortcuts.
func TestTransition(t *testing.T) {
	t.Parallel()

	set := &BackupSet{State: StateEmpty}

	require.ErrorIs(t, set.Transition(StateCanonical), ErrInvalidTransition)
	require.NoError(t, set.Transition(StateStaged))
	require.ErrorIs(t, set.Transition(StateCanonical), ErrInvalidTransition)
	require.NoError(t, set.Transition(StateVerified))
	require.NoError(t, set.Transition(StateCanonical))
	require.NoError(t, set.Transition(StateArchived))

	for _, to := range []State{StateEmpty, StateStaged, StateVerified, StateCanonical} {
		require.False(t, CanTransition(StateArchived, to), "archived is terminal")
	}
}

// TestStagedAbortsToEmpty verifies that a failed verification can discard a staged set.
func TestStagedAbortsToEmpty(t *testing.T) {
	t.Parallel()

	require.True(t, CanTransition(StateStaged, StateEmpty))
	require.True(t, CanTransition(StateVerified, StateEmpty))
}

// TestClone verifies that Clone deep-copies the actor.
func TestClone(t *testing.T) {
	t.Parallel()

	require.Nil(t, (*Actor)(nil).Clone())

	set := &BackupSet{
		Name:      "backups",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		CreatedBy: &Actor{Hostname: "pixel", Username: "root"},
		State:     StateCanonical,
		Valid:     true,
	}

	c := set.Clone()
	require.Equal(t, set.CreatedBy, c.CreatedBy)
	require.NotSame(t, set.CreatedBy, c.CreatedBy)
	require.Equal(t, set.State, c.State)
}
