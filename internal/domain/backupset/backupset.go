package backupset

import (
	"errors"
	"fmt"
	"time"

	"github.com/oshokin/avb-guard/internal/domain/partition"
)

// State is a lifecycle state of a backup set.
type State string

const (
	// StateEmpty means nothing has been captured.
	StateEmpty State = "empty"
	// StateStaged means the six partitions were dumped without safety checks.
	StateStaged State = "staged"
	// StateVerified means change detection and the signature chain passed.
	StateVerified State = "verified"
	// StateCanonical marks the single trusted baseline.
	StateCanonical State = "canonical"
	// StateArchived is terminal and read-only.
	StateArchived State = "archived"
)

// ErrInvalidTransition is returned for transitions the lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid backup set state transition")

// transitions lists the allowed target states per source state.
//
//nolint:gochecknoglobals // Static lookup table.
var transitions = map[State][]State{
	StateEmpty:     {StateStaged},
	StateStaged:    {StateVerified, StateEmpty},
	StateVerified:  {StateCanonical, StateEmpty},
	StateCanonical: {StateArchived},
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to State) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}

	return false
}

// Actor identifies who captured a backup set.
type Actor struct {
	// Hostname is the machine name where the backup was taken.
	Hostname string
	// Username is the system user who ran the tool.
	Username string
}

// Clone returns a deep copy of the actor.
func (a *Actor) Clone() *Actor {
	if a == nil {
		return nil
	}

	cloned := *a

	return &cloned
}

// BackupSet is a named, timestamped collection of partition images.
type BackupSet struct {
	// Name is the directory name of the set.
	Name string
	// CreatedAt is when the images were captured.
	CreatedAt time.Time
	// CreatedBy records the host and user that captured the set.
	CreatedBy *Actor
	// State is the current lifecycle state.
	State State
	// Valid records whether signature-chain verification passed at capture time.
	Valid bool
	// Images holds the captured partition images.
	Images *partition.Set
}

// Transition moves the set to the next state or returns ErrInvalidTransition.
func (b *BackupSet) Transition(to State) error {
	if !CanTransition(b.State, to) {
		return fmt.Errorf("%s → %s: %w", b.State, to, ErrInvalidTransition)
	}

	b.State = to

	return nil
}

// Clone returns a copy of the set metadata. Images are shared because they are immutable.
func (b *BackupSet) Clone() *BackupSet {
	return &BackupSet{
		Name:      b.Name,
		CreatedAt: b.CreatedAt,
		CreatedBy: b.CreatedBy.Clone(),
		State:     b.State,
		Valid:     b.Valid,
		Images:    b.Images,
	}
}
