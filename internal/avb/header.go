package avb

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Sizes and alignment used by the vbmeta and footer layouts.
const (
	// HeaderSize is the size of the vbmeta header.
	HeaderSize = 256
	// FooterSize is the size of the footer stored at the end of a partition.
	FooterSize = 64
	// BlockSize is the alignment of the vbmeta blob inside a partition image.
	BlockSize = 4096
	// blobAlignment is the alignment of the authentication and auxiliary blocks.
	blobAlignment = 64
	// releaseStringSize is the size of the NUL-padded release string field.
	releaseStringSize = 48
	// MaxVbmetaSize is the largest vbmeta blob libavb accepts.
	MaxVbmetaSize = 64 * 1024

	// LibavbVersionMajor is the only major version this package understands.
	LibavbVersionMajor = 1
	// FooterVersionMajor is the footer format major version.
	FooterVersionMajor = 1
	// FooterVersionMinor is the footer format minor version written on rebuild.
	FooterVersionMinor = 0
)

//nolint:gochecknoglobals // Format magics.
var (
	vbmetaMagic = []byte("AVB0")
	footerMagic = []byte("AVBf")
)

// DefaultReleaseString is written into vbmeta headers produced by this package.
const DefaultReleaseString = "avbtool 1.3.0"

// Header is the fixed-size preamble of a vbmeta blob.
//
//	Offset  Size  Description
//	------  ----  ------------------------------------------
//	 0x000   4    'A' 'V' 'B' '0'
//	 0x004   4    Required libavb major version
//	 0x008   4    Required libavb minor version
//	 0x00C   8    Authentication data block size
//	 0x014   8    Auxiliary data block size
//	 0x01C   4    Algorithm type
//	 0x020   8    Hash offset (in authentication block)
//	 0x028   8    Hash size
//	 0x030   8    Signature offset (in authentication block)
//	 0x038   8    Signature size
//	 0x040   8    Public key offset (in auxiliary block)
//	 0x048   8    Public key size
//	 0x050   8    Public key metadata offset (in auxiliary block)
//	 0x058   8    Public key metadata size
//	 0x060   8    Descriptors offset (in auxiliary block)
//	 0x068   8    Descriptors size
//	 0x070   8    Rollback index
//	 0x078   4    Flags
//	 0x07C   4    Rollback index location
//	 0x080  48    Release string, NUL padded
//	 0x0B0  80    Reserved
type Header struct {
	RequiredLibavbMajor     uint32
	RequiredLibavbMinor     uint32
	AuthBlockSize           uint64
	AuxBlockSize            uint64
	Algorithm               Algorithm
	HashOffset              uint64
	HashSize                uint64
	SignatureOffset         uint64
	SignatureSize           uint64
	PublicKeyOffset         uint64
	PublicKeySize           uint64
	PublicKeyMetadataOffset uint64
	PublicKeyMetadataSize   uint64
	DescriptorsOffset       uint64
	DescriptorsSize         uint64
	RollbackIndex           uint64
	Flags                   uint32
	RollbackIndexLocation   uint32
	ReleaseString           string
}

// parseHeader validates the magic and decodes the header fields.
func parseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("vbmeta header: %w", ErrTruncated)
	}

	if !bytes.Equal(b[:len(vbmetaMagic)], vbmetaMagic) {
		return Header{}, fmt.Errorf("vbmeta header: %w", ErrBadMagic)
	}

	be := binary.BigEndian
	release := b[0x80 : 0x80+releaseStringSize]

	if i := bytes.IndexByte(release, 0); i >= 0 {
		release = release[:i]
	}

	return Header{
		RequiredLibavbMajor:     be.Uint32(b[0x04:]),
		RequiredLibavbMinor:     be.Uint32(b[0x08:]),
		AuthBlockSize:           be.Uint64(b[0x0C:]),
		AuxBlockSize:            be.Uint64(b[0x14:]),
		Algorithm:               Algorithm(be.Uint32(b[0x1C:])),
		HashOffset:              be.Uint64(b[0x20:]),
		HashSize:                be.Uint64(b[0x28:]),
		SignatureOffset:         be.Uint64(b[0x30:]),
		SignatureSize:           be.Uint64(b[0x38:]),
		PublicKeyOffset:         be.Uint64(b[0x40:]),
		PublicKeySize:           be.Uint64(b[0x48:]),
		PublicKeyMetadataOffset: be.Uint64(b[0x50:]),
		PublicKeyMetadataSize:   be.Uint64(b[0x58:]),
		DescriptorsOffset:       be.Uint64(b[0x60:]),
		DescriptorsSize:         be.Uint64(b[0x68:]),
		RollbackIndex:           be.Uint64(b[0x70:]),
		Flags:                   be.Uint32(b[0x78:]),
		RollbackIndexLocation:   be.Uint32(b[0x7C:]),
		ReleaseString:           string(release),
	}, nil
}

// marshal encodes the header into HeaderSize bytes.
func (h *Header) marshal() []byte {
	b := make([]byte, HeaderSize)
	be := binary.BigEndian

	copy(b, vbmetaMagic)
	be.PutUint32(b[0x04:], h.RequiredLibavbMajor)
	be.PutUint32(b[0x08:], h.RequiredLibavbMinor)
	be.PutUint64(b[0x0C:], h.AuthBlockSize)
	be.PutUint64(b[0x14:], h.AuxBlockSize)
	be.PutUint32(b[0x1C:], uint32(h.Algorithm))
	be.PutUint64(b[0x20:], h.HashOffset)
	be.PutUint64(b[0x28:], h.HashSize)
	be.PutUint64(b[0x30:], h.SignatureOffset)
	be.PutUint64(b[0x38:], h.SignatureSize)
	be.PutUint64(b[0x40:], h.PublicKeyOffset)
	be.PutUint64(b[0x48:], h.PublicKeySize)
	be.PutUint64(b[0x50:], h.PublicKeyMetadataOffset)
	be.PutUint64(b[0x58:], h.PublicKeyMetadataSize)
	be.PutUint64(b[0x60:], h.DescriptorsOffset)
	be.PutUint64(b[0x68:], h.DescriptorsSize)
	be.PutUint64(b[0x70:], h.RollbackIndex)
	be.PutUint32(b[0x78:], h.Flags)
	be.PutUint32(b[0x7C:], h.RollbackIndexLocation)

	// The last byte of the release string is always NUL.
	copy(b[0x80:0x80+releaseStringSize-1], h.ReleaseString)

	return b
}

// blobSize returns the total size of header, authentication and auxiliary blocks.
// Callers run checkSize first so the sum cannot wrap.
func (h *Header) blobSize() uint64 {
	return HeaderSize + h.AuthBlockSize + h.AuxBlockSize
}

// within reports whether [offset, offset+size) fits in a block of the given length.
func within(offset, size, length uint64) bool {
	return offset <= length && size <= length-offset
}

// checkSize bounds each block before they are summed.
func (h *Header) checkSize() error {
	const limit = MaxVbmetaSize - HeaderSize

	if h.AuthBlockSize > limit || h.AuxBlockSize > limit || h.AuthBlockSize+h.AuxBlockSize > limit {
		return fmt.Errorf("blocks of %d and %d bytes exceed %d: %w",
			h.AuthBlockSize, h.AuxBlockSize, MaxVbmetaSize, ErrMalformed)
	}

	return nil
}

// validate checks that every region referenced by the header lies inside its block.
func (h *Header) validate() error {
	if h.RequiredLibavbMajor != LibavbVersionMajor {
		return fmt.Errorf("libavb version %d.%d: %w", h.RequiredLibavbMajor, h.RequiredLibavbMinor, ErrUnsupported)
	}

	if !h.Algorithm.Valid() {
		return fmt.Errorf("algorithm %d: %w", uint32(h.Algorithm), ErrUnsupported)
	}

	if err := h.checkSize(); err != nil {
		return err
	}

	if h.AuthBlockSize%blobAlignment != 0 || h.AuxBlockSize%blobAlignment != 0 {
		return fmt.Errorf("block sizes not %d-byte aligned: %w", blobAlignment, ErrMalformed)
	}

	checks := []struct {
		name         string
		offset, size uint64
		block        uint64
	}{
		{"hash", h.HashOffset, h.HashSize, h.AuthBlockSize},
		{"signature", h.SignatureOffset, h.SignatureSize, h.AuthBlockSize},
		{"public key", h.PublicKeyOffset, h.PublicKeySize, h.AuxBlockSize},
		{"public key metadata", h.PublicKeyMetadataOffset, h.PublicKeyMetadataSize, h.AuxBlockSize},
		{"descriptors", h.DescriptorsOffset, h.DescriptorsSize, h.AuxBlockSize},
	}

	for _, c := range checks {
		if !within(c.offset, c.size, c.block) {
			return fmt.Errorf("%s region out of bounds: %w", c.name, ErrMalformed)
		}
	}

	if h.Algorithm != AlgorithmNone {
		if h.HashSize != uint64(h.Algorithm.HashSize()) || h.SignatureSize != uint64(h.Algorithm.SignatureSize()) {
			return fmt.Errorf("hash/signature size does not match %s: %w", h.Algorithm, ErrMalformed)
		}
	}

	return nil
}

// alignUp rounds n up to a multiple of alignment.
func alignUp(n, alignment uint64) uint64 {
	if rem := n % alignment; rem != 0 {
		return n + alignment - rem
	}

	return n
}
