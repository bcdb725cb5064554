package avb

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Descriptor tags.
const (
	TagProperty       uint64 = 0
	TagHashtree       uint64 = 1
	TagHash           uint64 = 2
	TagKernelCmdline  uint64 = 3
	TagChainPartition uint64 = 4
)

// Fixed sizes of each descriptor, including the 16-byte tag/length prefix.
const (
	descriptorPrefixSize     = 16
	propertyFixedSize        = 32
	hashtreeFixedSize        = 180
	hashFixedSize            = 132
	chainPartitionFixedSize  = 92
	descriptorAlignment      = 8
	descriptorHashNameLength = 32
)

// Descriptor is one entry of the vbmeta descriptor list.
type Descriptor interface {
	// Tag returns the AVB descriptor tag.
	Tag() uint64
	// Partition returns the bound partition name, or "" if the descriptor binds none.
	Partition() string
	// body encodes everything after the 16-byte prefix, without trailing padding.
	body() []byte
}

// PropertyDescriptor carries a key/value pair.
type PropertyDescriptor struct {
	Key   string
	Value string
}

// HashDescriptor binds a partition to the salted digest of its first ImageSize bytes.
type HashDescriptor struct {
	ImageSize     uint64
	HashAlgorithm string
	PartitionName string
	Salt          []byte
	Digest        []byte
	Flags         uint32
}

// HashtreeDescriptor binds a partition to the root of a dm-verity hash tree.
type HashtreeDescriptor struct {
	DMVerityVersion uint32
	ImageSize       uint64
	TreeOffset      uint64
	TreeSize        uint64
	DataBlockSize   uint32
	HashBlockSize   uint32
	FECNumRoots     uint32
	FECOffset       uint64
	FECSize         uint64
	HashAlgorithm   string
	PartitionName   string
	Salt            []byte
	RootDigest      []byte
	Flags           uint32
}

// ChainPartitionDescriptor delegates trust to the vbmeta embedded in another
// partition, pinning the public key that partition must be signed with.
type ChainPartitionDescriptor struct {
	RollbackIndexLocation uint32
	PartitionName         string
	PublicKey             []byte
	Flags                 uint32
}

// RawDescriptor preserves descriptors this package does not interpret,
// such as kernel command lines.
type RawDescriptor struct {
	RawTag uint64
	Body   []byte
}

// Tag implements Descriptor.
func (*PropertyDescriptor) Tag() uint64 { return TagProperty }

// Partition implements Descriptor.
func (*PropertyDescriptor) Partition() string { return "" }

func (d *PropertyDescriptor) body() []byte {
	b := make([]byte, propertyFixedSize-descriptorPrefixSize, propertyFixedSize-descriptorPrefixSize+len(d.Key)+len(d.Value)+2)
	binary.BigEndian.PutUint64(b[0:], uint64(len(d.Key)))
	binary.BigEndian.PutUint64(b[8:], uint64(len(d.Value)))
	b = append(b, d.Key...)
	b = append(b, 0)
	b = append(b, d.Value...)

	return append(b, 0)
}

// Tag implements Descriptor.
func (*HashDescriptor) Tag() uint64 { return TagHash }

// Partition implements Descriptor.
func (d *HashDescriptor) Partition() string { return d.PartitionName }

func (d *HashDescriptor) body() []byte {
	b := make([]byte, hashFixedSize-descriptorPrefixSize)
	be := binary.BigEndian

	be.PutUint64(b[0:], d.ImageSize)
	copy(b[8:8+descriptorHashNameLength], d.HashAlgorithm)
	be.PutUint32(b[40:], uint32(len(d.PartitionName)))
	be.PutUint32(b[44:], uint32(len(d.Salt)))
	be.PutUint32(b[48:], uint32(len(d.Digest)))
	be.PutUint32(b[52:], d.Flags)

	b = append(b, d.PartitionName...)
	b = append(b, d.Salt...)

	return append(b, d.Digest...)
}

// Tag implements Descriptor.
func (*HashtreeDescriptor) Tag() uint64 { return TagHashtree }

// Partition implements Descriptor.
func (d *HashtreeDescriptor) Partition() string { return d.PartitionName }

func (d *HashtreeDescriptor) body() []byte {
	b := make([]byte, hashtreeFixedSize-descriptorPrefixSize)
	be := binary.BigEndian

	be.PutUint32(b[0:], d.DMVerityVersion)
	be.PutUint64(b[4:], d.ImageSize)
	be.PutUint64(b[12:], d.TreeOffset)
	be.PutUint64(b[20:], d.TreeSize)
	be.PutUint32(b[28:], d.DataBlockSize)
	be.PutUint32(b[32:], d.HashBlockSize)
	be.PutUint32(b[36:], d.FECNumRoots)
	be.PutUint64(b[40:], d.FECOffset)
	be.PutUint64(b[48:], d.FECSize)
	copy(b[56:56+descriptorHashNameLength], d.HashAlgorithm)
	be.PutUint32(b[88:], uint32(len(d.PartitionName)))
	be.PutUint32(b[92:], uint32(len(d.Salt)))
	be.PutUint32(b[96:], uint32(len(d.RootDigest)))
	be.PutUint32(b[100:], d.Flags)

	b = append(b, d.PartitionName...)
	b = append(b, d.Salt...)

	return append(b, d.RootDigest...)
}

// Tag implements Descriptor.
func (*ChainPartitionDescriptor) Tag() uint64 { return TagChainPartition }

// Partition implements Descriptor.
func (d *ChainPartitionDescriptor) Partition() string { return d.PartitionName }

func (d *ChainPartitionDescriptor) body() []byte {
	b := make([]byte, chainPartitionFixedSize-descriptorPrefixSize)
	be := binary.BigEndian

	be.PutUint32(b[0:], d.RollbackIndexLocation)
	be.PutUint32(b[4:], uint32(len(d.PartitionName)))
	be.PutUint32(b[8:], uint32(len(d.PublicKey)))
	be.PutUint32(b[12:], d.Flags)

	b = append(b, d.PartitionName...)

	return append(b, d.PublicKey...)
}

// Tag implements Descriptor.
func (d *RawDescriptor) Tag() uint64 { return d.RawTag }

// Partition implements Descriptor.
func (*RawDescriptor) Partition() string { return "" }

func (d *RawDescriptor) body() []byte {
	return d.Body
}

// encodeDescriptors serialises descriptors, padding each to 8 bytes.
func encodeDescriptors(descriptors []Descriptor) []byte {
	var out bytes.Buffer

	for _, d := range descriptors {
		body := d.body()
		padded := alignUp(uint64(len(body)), descriptorAlignment)

		var prefix [descriptorPrefixSize]byte

		binary.BigEndian.PutUint64(prefix[0:], d.Tag())
		binary.BigEndian.PutUint64(prefix[8:], padded)

		out.Write(prefix[:])
		out.Write(body)
		out.Write(make([]byte, padded-uint64(len(body))))
	}

	return out.Bytes()
}

// parseDescriptors decodes a descriptor block.
func parseDescriptors(b []byte) ([]Descriptor, error) {
	var result []Descriptor

	for offset := uint64(0); offset < uint64(len(b)); {
		if uint64(len(b))-offset < descriptorPrefixSize {
			return nil, fmt.Errorf("descriptor at %d: %w", offset, ErrTruncated)
		}

		tag := binary.BigEndian.Uint64(b[offset:])
		following := binary.BigEndian.Uint64(b[offset+8:])

		if following%descriptorAlignment != 0 || following > uint64(len(b))-offset-descriptorPrefixSize {
			return nil, fmt.Errorf("descriptor at %d: length %d: %w", offset, following, ErrMalformed)
		}

		body := b[offset+descriptorPrefixSize : offset+descriptorPrefixSize+following]

		d, err := parseDescriptor(tag, body)
		if err != nil {
			return nil, fmt.Errorf("descriptor %d at %d: %w", len(result), offset, err)
		}

		result = append(result, d)
		offset += descriptorPrefixSize + following
	}

	return result, nil
}

func parseDescriptor(tag uint64, body []byte) (Descriptor, error) {
	switch tag {
	case TagProperty:
		return parsePropertyDescriptor(body)
	case TagHash:
		return parseHashDescriptor(body)
	case TagHashtree:
		return parseHashtreeDescriptor(body)
	case TagChainPartition:
		return parseChainPartitionDescriptor(body)
	default:
		return &RawDescriptor{RawTag: tag, Body: bytes.Clone(body)}, nil
	}
}

// variable slices n consecutive fields of the given lengths starting at offset.
func variable(body []byte, offset uint64, lengths ...uint32) ([][]byte, error) {
	fields := make([][]byte, 0, len(lengths))

	for _, l := range lengths {
		if !within(offset, uint64(l), uint64(len(body))) {
			return nil, ErrTruncated
		}

		fields = append(fields, bytes.Clone(body[offset:offset+uint64(l)]))
		offset += uint64(l)
	}

	return fields, nil
}

// cString trims a fixed-size NUL-padded field.
func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}

	return string(b)
}

func parsePropertyDescriptor(body []byte) (*PropertyDescriptor, error) {
	const fixed = propertyFixedSize - descriptorPrefixSize

	if len(body) < fixed {
		return nil, fmt.Errorf("property descriptor: %w", ErrTruncated)
	}

	keyLen := binary.BigEndian.Uint64(body[0:])
	valueLen := binary.BigEndian.Uint64(body[8:])

	// Key and value are each followed by a NUL terminator.
	if !within(fixed, keyLen, uint64(len(body))) ||
		!within(fixed+keyLen+1, valueLen, uint64(len(body))) {
		return nil, fmt.Errorf("property descriptor: %w", ErrTruncated)
	}

	valueStart := fixed + keyLen + 1

	return &PropertyDescriptor{
		Key:   string(body[fixed : fixed+keyLen]),
		Value: string(body[valueStart : valueStart+valueLen]),
	}, nil
}

func parseHashDescriptor(body []byte) (*HashDescriptor, error) {
	const fixed = hashFixedSize - descriptorPrefixSize

	if len(body) < fixed {
		return nil, fmt.Errorf("hash descriptor: %w", ErrTruncated)
	}

	be := binary.BigEndian

	fields, err := variable(body, fixed, be.Uint32(body[40:]), be.Uint32(body[44:]), be.Uint32(body[48:]))
	if err != nil {
		return nil, fmt.Errorf("hash descriptor: %w", err)
	}

	return &HashDescriptor{
		ImageSize:     be.Uint64(body[0:]),
		HashAlgorithm: cString(body[8 : 8+descriptorHashNameLength]),
		PartitionName: string(fields[0]),
		Salt:          fields[1],
		Digest:        fields[2],
		Flags:         be.Uint32(body[52:]),
	}, nil
}

func parseHashtreeDescriptor(body []byte) (*HashtreeDescriptor, error) {
	const fixed = hashtreeFixedSize - descriptorPrefixSize

	if len(body) < fixed {
		return nil, fmt.Errorf("hashtree descriptor: %w", ErrTruncated)
	}

	be := binary.BigEndian

	fields, err := variable(body, fixed, be.Uint32(body[88:]), be.Uint32(body[92:]), be.Uint32(body[96:]))
	if err != nil {
		return nil, fmt.Errorf("hashtree descriptor: %w", err)
	}

	return &HashtreeDescriptor{
		DMVerityVersion: be.Uint32(body[0:]),
		ImageSize:       be.Uint64(body[4:]),
		TreeOffset:      be.Uint64(body[12:]),
		TreeSize:        be.Uint64(body[20:]),
		DataBlockSize:   be.Uint32(body[28:]),
		HashBlockSize:   be.Uint32(body[32:]),
		FECNumRoots:     be.Uint32(body[36:]),
		FECOffset:       be.Uint64(body[40:]),
		FECSize:         be.Uint64(body[48:]),
		HashAlgorithm:   cString(body[56 : 56+descriptorHashNameLength]),
		PartitionName:   string(fields[0]),
		Salt:            fields[1],
		RootDigest:      fields[2],
		Flags:           be.Uint32(body[100:]),
	}, nil
}

func parseChainPartitionDescriptor(body []byte) (*ChainPartitionDescriptor, error) {
	const fixed = chainPartitionFixedSize - descriptorPrefixSize

	if len(body) < fixed {
		return nil, fmt.Errorf("chain partition descriptor: %w", ErrTruncated)
	}

	be := binary.BigEndian

	fields, err := variable(body, fixed, be.Uint32(body[4:]), be.Uint32(body[8:]))
	if err != nil {
		return nil, fmt.Errorf("chain partition descriptor: %w", err)
	}

	return &ChainPartitionDescriptor{
		RollbackIndexLocation: be.Uint32(body[0:]),
		PartitionName:         string(fields[0]),
		PublicKey:             fields[1],
		Flags:                 be.Uint32(body[12:]),
	}, nil
}
