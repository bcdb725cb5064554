// Package avbtest builds signed partition images for tests.
package avbtest

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/avb-guard/internal/avb"
	"github.com/oshokin/avb-guard/internal/digest"
	"github.com/oshokin/avb-guard/internal/domain/partition"
)

// Sizes used by the fixtures.
const (
	// PartitionSize is the size of every leaf partition built here.
	PartitionSize = 64 * 1024
	// PayloadSize is the default raw payload length.
	PayloadSize = 10000
	// KeyBits is the size of the fixture keys.
	KeyBits = 2048
)

// OSVersionProperty is attached to every leaf footer.
const OSVersionProperty = "com.android.build.boot.os_version"

//nolint:gochecknoglobals // Key generation is slow, share it across tests.
var (
	keys    [2]*rsa.PrivateKey
	keyErrs [2]error
	once    [2]sync.Once
)

func cachedKey(tb testing.TB, i int) *rsa.PrivateKey {
	tb.Helper()

	once[i].Do(func() {
		keys[i], keyErrs[i] = rsa.GenerateKey(rand.Reader, KeyBits)
	})

	require.NoError(tb, keyErrs[i])

	return keys[i]
}

// Key returns the fixture signing key.
func Key(tb testing.TB) *rsa.PrivateKey {
	tb.Helper()

	return cachedKey(tb, 0)
}

// OtherKey returns a second key, distinct from Key.
func OtherKey(tb testing.TB) *rsa.PrivateKey {
	tb.Helper()

	return cachedKey(tb, 1)
}

// TrustRoot returns a signing trust root for key.
func TrustRoot(tb testing.TB, key *rsa.PrivateKey) *avb.TrustRoot {
	tb.Helper()

	root, err := avb.NewTrustRoot(key)
	require.NoError(tb, err)

	return root
}

// WriteKey stores key as a PKCS#1 PEM file in dir and returns its path.
func WriteKey(tb testing.TB, dir string, key *rsa.PrivateKey) string {
	tb.Helper()

	path := filepath.Join(dir, "trust_key.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	require.NoError(tb, os.WriteFile(path, data, 0o600))

	return path
}

// Payload returns size deterministic bytes derived from seed.
func Payload(seed byte, size int) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = seed ^ byte(i*31+i>>8)
	}

	return b
}

// Salt returns a fixed salt derived from seed.
func Salt(seed byte) []byte {
	return Payload(seed^0x5a, 32)
}

// HashDescriptor computes a sha256 hash descriptor for payload.
func HashDescriptor(tb testing.TB, name string, payload []byte, salt []byte) *avb.HashDescriptor {
	tb.Helper()

	sum, err := digest.Salted(crypto.SHA256, salt, payload)
	require.NoError(tb, err)

	return &avb.HashDescriptor{
		ImageSize:     uint64(len(payload)),
		HashAlgorithm: "sha256",
		PartitionName: name,
		Salt:          salt,
		Digest:        sum,
	}
}

// Footed appends a footer to payload. A nil key produces an unsigned footer
// bound only through a parent vbmeta.
func Footed(tb testing.TB, name string, payload []byte, salt []byte, key *rsa.PrivateKey) []byte {
	tb.Helper()

	vb := &avb.Vbmeta{
		Algorithm: avb.AlgorithmNone,
		Descriptors: []avb.Descriptor{
			&avb.PropertyDescriptor{Key: OSVersionProperty, Value: "14.0.0"},
			HashDescriptor(tb, name, payload, salt),
		},
	}

	if key != nil {
		vb.Algorithm = avb.AlgorithmSHA256RSA2048
		vb.RollbackIndex = 3
		vb.RollbackIndexLocation = 2
	}

	blob, err := vb.Encode(key)
	require.NoError(tb, err)

	image, err := avb.AppendFooter(payload, blob, PartitionSize)
	require.NoError(tb, err)

	return image
}

// Vbmeta signs a top-level vbmeta holding descriptors, padded to a block.
func Vbmeta(tb testing.TB, key *rsa.PrivateKey, descriptors ...avb.Descriptor) []byte {
	tb.Helper()

	vb := &avb.Vbmeta{
		Algorithm:     avb.AlgorithmSHA256RSA2048,
		RollbackIndex: 1700000000,
		Descriptors:   descriptors,
	}

	blob, err := vb.Encode(key)
	require.NoError(tb, err)

	padded := make([]byte, (len(blob)+avb.BlockSize-1)/avb.BlockSize*avb.BlockSize)
	copy(padded, blob)

	return padded
}

// Device is a six-image dump with the payloads the images were built from.
type Device struct {
	Images   map[partition.ID][]byte
	Payloads map[partition.ID][]byte
}

// Clone returns a deep copy of the images so tests can mutate them.
func (d *Device) Clone() map[partition.ID][]byte {
	out := make(map[partition.ID][]byte, len(d.Images))
	for id, img := range d.Images {
		out[id] = append([]byte(nil), img...)
	}

	return out
}

// NewDevice builds a consistent dump for both slots. boot and init_boot carry
// unsigned footers and are bound by hash descriptors in each slot's vbmeta,
// which is signed with key.
func NewDevice(tb testing.TB, key *rsa.PrivateKey, seed byte) *Device {
	tb.Helper()

	device := &Device{
		Images:   make(map[partition.ID][]byte, len(partition.AllIDs())),
		Payloads: make(map[partition.ID][]byte, len(partition.AllIDs())),
	}

	for i, slot := range partition.Slots() {
		var descriptors []avb.Descriptor

		for j, kind := range []partition.Kind{partition.KindBoot, partition.KindInitBoot} {
			var (
				id      = partition.ID{Kind: kind, Slot: slot}
				s       = seed + byte(i*2+j)
				payload = Payload(s, PayloadSize+j*1000)
				salt    = Salt(s)
			)

			device.Payloads[id] = payload
			device.Images[id] = Footed(tb, string(kind), payload, salt, nil)
			descriptors = append(descriptors, HashDescriptor(tb, string(kind), payload, salt))
		}

		device.Images[partition.ID{Kind: partition.KindVbmeta, Slot: slot}] = Vbmeta(tb, key, descriptors...)
	}

	return device
}
