package partition

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/oshokin/avb-guard/internal/digest"
)

var (
	// ErrDuplicateImage is returned when a set receives the same ID twice.
	ErrDuplicateImage = errors.New("duplicate partition image")
	// ErrIncompleteSet is returned when a set does not hold all six images.
	ErrIncompleteSet = errors.New("incomplete partition set")
	// errLengthOutOfRange is returned when a payload length exceeds the captured bytes.
	errLengthOutOfRange = errors.New("payload length out of range")
)

// Image is an immutable partition image captured from a device or a file.
// Length is authoritative over the size of data, which may include padding.
type Image struct {
	id     ID
	data   []byte
	length int64
	digest digest.Digest
}

// NewImage captures data as the payload of the partition. The digest is
// computed once here; data must not be modified by the caller afterwards.
func NewImage(id ID, data []byte, length int64) (*Image, error) {
	if length < 0 || length > int64(len(data)) {
		return nil, fmt.Errorf("%s: length %d, size %d: %w", id, length, len(data), errLengthOutOfRange)
	}

	d, err := digest.Sum(data, length)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}

	return &Image{
		id:     id,
		data:   data,
		length: length,
		digest: d,
	}, nil
}

// ID returns the partition and slot the image belongs to.
func (i *Image) ID() ID {
	return i.id
}

// Bytes returns the full captured bytes, including any trailing padding.
func (i *Image) Bytes() []byte {
	return i.data
}

// Payload returns the bytes covered by the declared length.
func (i *Image) Payload() []byte {
	return i.data[:i.length]
}

// Length returns the declared payload length.
func (i *Image) Length() int64 {
	return i.length
}

// Size returns the number of captured bytes.
func (i *Image) Size() int64 {
	return int64(len(i.data))
}

// Digest returns the content digest of the payload.
func (i *Image) Digest() digest.Digest {
	return i.digest
}

// Digests maps partition IDs to content digests.
type Digests map[ID]digest.Digest

// Set is a collection of images keyed by partition ID.
type Set struct {
	images map[ID]*Image
}

// NewSet builds a set from the provided images. IDs must be unique.
func NewSet(images ...*Image) (*Set, error) {
	set := &Set{
		images: make(map[ID]*Image, len(images)),
	}

	for _, img := range images {
		if _, dup := set.images[img.ID()]; dup {
			return nil, fmt.Errorf("%s: %w", img.ID(), ErrDuplicateImage)
		}

		set.images[img.ID()] = img
	}

	return set, nil
}

// Get returns the image for the ID, if present.
func (s *Set) Get(id ID) (*Image, bool) {
	img, ok := s.images[id]
	return img, ok
}

// Len returns the number of images in the set.
func (s *Set) Len() int {
	return len(s.images)
}

// IDs returns the IDs present in the set in canonical order.
func (s *Set) IDs() []ID {
	ids := make([]ID, 0, len(s.images))

	for _, id := range AllIDs() {
		if _, ok := s.images[id]; ok {
			ids = append(ids, id)
		}
	}

	return ids
}

// Images returns the images in canonical order.
func (s *Set) Images() []*Image {
	images := make([]*Image, 0, len(s.images))
	for _, id := range s.IDs() {
		images = append(images, s.images[id])
	}

	return images
}

// Complete returns an error listing the missing IDs unless all six are present.
func (s *Set) Complete() error {
	var missing []string

	for _, id := range AllIDs() {
		if _, ok := s.images[id]; !ok {
			missing = append(missing, id.String())
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing %v: %w", missing, ErrIncompleteSet)
	}

	return nil
}

// Digests returns the content digest of every image in the set.
func (s *Set) Digests() Digests {
	result := make(Digests, len(s.images))
	for id, img := range s.images {
		result[id] = img.Digest()
	}

	return result
}

// Sorted returns the keys of d in canonical order.
func (d Digests) Sorted() []ID {
	order := make(map[ID]int, len(AllIDs()))
	for i, id := range AllIDs() {
		order[id] = i
	}

	return slices.SortedFunc(maps.Keys(d), func(a, b ID) int {
		return order[a] - order[b]
	})
}

// SlotState holds the running slot and the slot being updated.
// It is derived at start-up and never persisted.
type SlotState struct {
	Current Slot
	Target  Slot
}

// NewSlotState derives the target slot from the current one.
func NewSlotState(current Slot) SlotState {
	return SlotState{
		Current: current,
		Target:  current.Other(),
	}
}
