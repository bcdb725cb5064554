package avb

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/oshokin/avb-guard/internal/outcome"
)

// ErrPartitionSize is returned when a requested partition size is not block aligned.
var ErrPartitionSize = errors.New("avb: partition size not a multiple of the block size")

// Image is a partition image split into its payload and AVB metadata.
type Image struct {
	// Payload is the content without any footer or vbmeta appended by avbtool.
	// For a bare vbmeta partition it is the vbmeta blob itself.
	Payload []byte
	// Footer is nil when the image carries no footer.
	Footer *Footer
	// Vbmeta is nil for raw images.
	Vbmeta *Vbmeta
}

// Bare reports whether the image is a vbmeta partition rather than a footed leaf.
func (i *Image) Bare() bool {
	return i.Footer == nil && i.Vbmeta != nil
}

// SelfSigned reports whether the image carries its own signed vbmeta footer.
func (i *Image) SelfSigned() bool {
	return i.Footer != nil && i.Vbmeta != nil && i.Vbmeta.Algorithm != AlgorithmNone
}

// ParseImage splits b into payload, footer and vbmeta. Images without AVB
// metadata are returned as a bare payload. A footer or vbmeta that is present
// but cannot be decoded is an error.
func ParseImage(b []byte) (*Image, error) {
	footer, err := ParseFooter(b)

	switch {
	case err == nil:
		vb, err := ParseVbmeta(b[footer.VbmetaOffset : footer.VbmetaOffset+footer.VbmetaSize])
		if err != nil {
			return nil, fmt.Errorf("footer vbmeta: %w", err)
		}

		return &Image{
			Payload: b[:footer.OriginalImageSize],
			Footer:  footer,
			Vbmeta:  vb,
		}, nil
	case !errors.Is(err, ErrNoFooter):
		return nil, err
	}

	if len(b) >= len(vbmetaMagic) && bytes.Equal(b[:len(vbmetaMagic)], vbmetaMagic) {
		vb, err := ParseVbmeta(b)
		if err != nil {
			return nil, err
		}

		size, _ := BlobSize(b)

		return &Image{
			Payload: b[:size],
			Vbmeta:  vb,
		}, nil
	}

	return &Image{Payload: b}, nil
}

// StripFooter returns the original content of a footed image, or b unchanged.
func StripFooter(b []byte) ([]byte, error) {
	footer, err := ParseFooter(b)
	if errors.Is(err, ErrNoFooter) {
		return b, nil
	}

	if err != nil {
		return nil, err
	}

	return b[:footer.OriginalImageSize], nil
}

// PayloadLength returns the number of meaningful bytes in a dumped partition.
// For a footed image this ends at the embedded vbmeta blob, for a bare
// vbmeta partition it is the blob size. Raw images count in full.
// Trailing padding up to the partition size is never included.
func PayloadLength(b []byte) (int64, error) {
	footer, err := ParseFooter(b)

	switch {
	case err == nil:
		return int64(footer.VbmetaOffset + footer.VbmetaSize), nil
	case !errors.Is(err, ErrNoFooter):
		return 0, err
	}

	if len(b) >= HeaderSize && bytes.Equal(b[:len(vbmetaMagic)], vbmetaMagic) {
		size, err := BlobSize(b)
		if err != nil {
			return 0, err
		}

		if size > uint64(len(b)) {
			return 0, fmt.Errorf("vbmeta blob: %w", ErrTruncated)
		}

		return int64(size), nil
	}

	return int64(len(b)), nil
}

// AppendFooter lays out payload, blob and a footer the way avbtool
// add_hash_footer does: the payload is zero padded to a block boundary, the
// blob follows padded to a block boundary, and the footer sits at the end of
// the last block of the partition. A zero partitionSize produces the smallest
// image that can hold everything. Payload bytes are never altered.
func AppendFooter(payload, blob []byte, partitionSize uint64) ([]byte, error) {
	var (
		vbmetaOffset = alignUp(uint64(len(payload)), BlockSize)
		vbmetaEnd    = vbmetaOffset + alignUp(uint64(len(blob)), BlockSize)
		required     = vbmetaEnd + BlockSize
	)

	if partitionSize == 0 {
		partitionSize = required
	}

	if partitionSize%BlockSize != 0 {
		return nil, fmt.Errorf("%d bytes: %w", partitionSize, ErrPartitionSize)
	}

	if required > partitionSize {
		return nil, fmt.Errorf("need %d bytes, partition holds %d: %w", required, partitionSize, outcome.ErrCapacityOverflow)
	}

	out := make([]byte, partitionSize)
	copy(out, payload)
	copy(out[vbmetaOffset:], blob)

	footer := Footer{
		VersionMajor:      FooterVersionMajor,
		VersionMinor:      FooterVersionMinor,
		OriginalImageSize: uint64(len(payload)),
		VbmetaOffset:      vbmetaOffset,
		VbmetaSize:        uint64(len(blob)),
	}

	copy(out[partitionSize-FooterSize:], footer.marshal())

	return out, nil
}

// padBlob zero pads a top-level vbmeta blob to a multiple of size.
func padBlob(blob []byte, size uint64) []byte {
	padded := make([]byte, alignUp(uint64(len(blob)), size))
	copy(padded, blob)

	return padded
}
