package partition

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the partition class of a boot-chain image.
type Kind string

const (
	// KindBoot is the kernel/ramdisk boot partition.
	KindBoot Kind = "boot"
	// KindInitBoot is the generic ramdisk partition introduced with GKI.
	KindInitBoot Kind = "init_boot"
	// KindVbmeta is the top-level verified boot metadata partition.
	KindVbmeta Kind = "vbmeta"
)

// Slot is one of the two A/B copies of the boot chain.
type Slot string

const (
	// SlotA is the "_a" slot.
	SlotA Slot = "a"
	// SlotB is the "_b" slot.
	SlotB Slot = "b"
)

var (
	// ErrUnknownKind is returned for partition names outside the managed set.
	ErrUnknownKind = errors.New("unknown partition kind")
	// ErrUnknownSlot is returned for slot values other than a/b.
	ErrUnknownSlot = errors.New("unknown slot")
)

// Kinds returns the managed partition kinds in canonical order.
func Kinds() []Kind {
	return []Kind{KindBoot, KindInitBoot, KindVbmeta}
}

// Slots returns both slots in canonical order.
func Slots() []Slot {
	return []Slot{SlotA, SlotB}
}

// ParseKind validates a partition kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.TrimSpace(s)); k {
	case KindBoot, KindInitBoot, KindVbmeta:
		return k, nil
	default:
		return "", fmt.Errorf("%q: %w", s, ErrUnknownKind)
	}
}

// IsInitBootClass reports whether the partition participates in trust only
// through the parent chain. The distinction is made by name alone.
func (k Kind) IsInitBootClass() bool {
	return k == KindInitBoot
}

// ParseSlot accepts "a", "_a", "A" and the numeric bootctl forms "0"/"1".
func ParseSlot(s string) (Slot, error) {
	v := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "_"))

	switch v {
	case "a", "0":
		return SlotA, nil
	case "b", "1":
		return SlotB, nil
	default:
		return "", fmt.Errorf("%q: %w", s, ErrUnknownSlot)
	}
}

// Other returns the opposite slot.
func (s Slot) Other() Slot {
	if s == SlotA {
		return SlotB
	}

	return SlotA
}

// Suffix returns the slot suffix used in partition names, e.g. "_a".
func (s Slot) Suffix() string {
	return "_" + string(s)
}

// ID identifies a single partition on a single slot.
type ID struct {
	Kind Kind
	Slot Slot
}

// AllIDs returns the six managed partition IDs in canonical order.
func AllIDs() []ID {
	ids := make([]ID, 0, len(Kinds())*len(Slots()))

	for _, k := range Kinds() {
		for _, s := range Slots() {
			ids = append(ids, ID{Kind: k, Slot: s})
		}
	}

	return ids
}

// IDsForSlot returns the three managed partition IDs of one slot.
func IDsForSlot(s Slot) []ID {
	ids := make([]ID, 0, len(Kinds()))
	for _, k := range Kinds() {
		ids = append(ids, ID{Kind: k, Slot: s})
	}

	return ids
}

// ParseID parses names such as "boot_a" or "init_boot_b".
func ParseID(name string) (ID, error) {
	name = strings.TrimSuffix(strings.TrimSpace(name), ".img")

	idx := strings.LastIndex(name, "_")
	if idx <= 0 {
		return ID{}, fmt.Errorf("%q: %w", name, ErrUnknownSlot)
	}

	kind, err := ParseKind(name[:idx])
	if err != nil {
		return ID{}, err
	}

	slot, err := ParseSlot(name[idx+1:])
	if err != nil {
		return ID{}, err
	}

	return ID{Kind: kind, Slot: slot}, nil
}

// String returns the on-device partition name, e.g. "boot_a".
func (id ID) String() string {
	return string(id.Kind) + id.Slot.Suffix()
}

// Filename returns the file name used for the image in a backup directory.
func (id ID) Filename() string {
	return id.String() + ".img"
}
