package avb

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Footer is stored in the last FooterSize bytes of a partition image and
// locates the embedded vbmeta blob.
//
//	Offset  Size  Description
//	------  ----  ------------------------------
//	 0x00    4    'A' 'V' 'B' 'f'
//	 0x04    4    Footer version major
//	 0x08    4    Footer version minor
//	 0x0C    8    Original image size
//	 0x14    8    Vbmeta offset
//	 0x1C    8    Vbmeta size
//	 0x24   28    Reserved
type Footer struct {
	VersionMajor      uint32
	VersionMinor      uint32
	OriginalImageSize uint64
	VbmetaOffset      uint64
	VbmetaSize        uint64
}

// ParseFooter decodes the footer at the end of image.
// ErrNoFooter is returned when the image carries none.
func ParseFooter(image []byte) (*Footer, error) {
	if len(image) < FooterSize {
		return nil, ErrNoFooter
	}

	b := image[len(image)-FooterSize:]
	if !bytes.Equal(b[:len(footerMagic)], footerMagic) {
		return nil, ErrNoFooter
	}

	be := binary.BigEndian
	f := &Footer{
		VersionMajor:      be.Uint32(b[0x04:]),
		VersionMinor:      be.Uint32(b[0x08:]),
		OriginalImageSize: be.Uint64(b[0x0C:]),
		VbmetaOffset:      be.Uint64(b[0x14:]),
		VbmetaSize:        be.Uint64(b[0x1C:]),
	}

	if f.VersionMajor != FooterVersionMajor {
		return nil, fmt.Errorf("footer version %d.%d: %w", f.VersionMajor, f.VersionMinor, ErrUnsupported)
	}

	limit := uint64(len(image) - FooterSize)
	if f.OriginalImageSize > f.VbmetaOffset || !within(f.VbmetaOffset, f.VbmetaSize, limit) {
		return nil, fmt.Errorf("footer regions out of bounds: %w", ErrMalformed)
	}

	return f, nil
}

// marshal encodes the footer into FooterSize bytes.
func (f *Footer) marshal() []byte {
	b := make([]byte, FooterSize)
	be := binary.BigEndian

	copy(b, footerMagic)
	be.PutUint32(b[0x04:], f.VersionMajor)
	be.PutUint32(b[0x08:], f.VersionMinor)
	be.PutUint64(b[0x0C:], f.OriginalImageSize)
	be.PutUint64(b[0x14:], f.VbmetaOffset)
	be.PutUint64(b[0x1C:], f.VbmetaSize)

	return b
}
