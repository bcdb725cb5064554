package avb_test

import (
	"encoding/binary"
	"errors"
	"math"
	"math/big"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/avb-guard/internal/avb"
	"github.com/oshokin/avb-guard/internal/avb/avbtest"
	"github.com/oshokin/avb-guard/internal/outcome"
)

// TestPublicKeyEncoding checks the AVB key blob layout, including the Montgomery constant.
func TestPublicKeyEncoding(t *testing.T) {
	t.Parallel()

	key := avbtest.Key(t)

	blob, err := avb.EncodePublicKey(&key.PublicKey)
	require.NoError(t, err)
	require.Len(t, blob, 8+2*avbtest.KeyBits/8)

	decoded, err := avb.DecodePublicKey(blob)
	require.NoError(t, err)
	require.Zero(t, decoded.N.Cmp(key.N))
	require.Equal(t, key.E, decoded.E)

	// n0inv * n == -1 (mod 2^32)
	var (
		mod   = new(big.Int).Lsh(big.NewInt(1), 32)
		n0inv = new(big.Int).SetBytes(blob[4:8])
		prod  = new(big.Int).Mul(n0inv, key.N)
	)

	prod.Mod(prod, mod)
	require.Equal(t, new(big.Int).Sub(mod, big.NewInt(1)).String(), prod.String())

	_, err = avb.DecodePublicKey(blob[:100])
	require.ErrorIs(t, err, avb.ErrTruncated)
}

// TestVbmetaEncodeParse signs a vbmeta and reads every field back.
func TestVbmetaEncodeParse(t *testing.T) {
	t.Parallel()

	key := avbtest.Key(t)
	descriptors := []avb.Descriptor{
		&avb.PropertyDescriptor{Key: "com.android.build.vendor_boot.fingerprint", Value: "abc/def:14"},
		avbtest.HashDescriptor(t, "boot", avbtest.Payload(1, 5000), avbtest.Salt(1)),
		&avb.ChainPartitionDescriptor{RollbackIndexLocation: 1, PartitionName: "vbmeta_system", PublicKey: []byte{1, 2, 3}},
		&avb.HashtreeDescriptor{
			DMVerityVersion: 1,
			ImageSize:       8192,
			DataBlockSize:   4096,
			HashBlockSize:   4096,
			HashAlgorithm:   "sha1",
			PartitionName:   "system",
			Salt:            []byte{9, 9},
			RootDigest:      make([]byte, 20),
		},
		&avb.RawDescriptor{RawTag: avb.TagKernelCmdline, Body: []byte("\x00\x00\x00\x00\x00\x00\x00\x04quietxxx")},
	}

	vb := &avb.Vbmeta{
		Algorithm:             avb.AlgorithmSHA256RSA2048,
		RollbackIndex:         42,
		RollbackIndexLocation: 0,
		Flags:                 2,
		Descriptors:           descriptors,
		PublicKeyMetadata:     []byte("meta"),
	}

	blob, err := vb.Encode(key)
	require.NoError(t, err)
	require.Zero(t, (len(blob)-avb.HeaderSize)%64)

	parsed, err := avb.ParseVbmeta(blob)
	require.NoError(t, err)
	require.Equal(t, avb.AlgorithmSHA256RSA2048, parsed.Algorithm)
	require.Equal(t, uint64(42), parsed.RollbackIndex)
	require.Equal(t, uint32(2), parsed.Flags)
	require.Equal(t, avb.DefaultReleaseString, parsed.ReleaseString)
	require.Equal(t, []byte("meta"), parsed.PublicKeyMetadata)
	require.Len(t, parsed.Signature, avbtest.KeyBits/8)

	if diff := cmp.Diff(descriptors, parsed.Descriptors); diff != "" {
		t.Fatalf("descriptors differ (-want +got):\n%s", diff)
	}

	size, err := avb.BlobSize(blob)
	require.NoError(t, err)
	require.Equal(t, uint64(len(blob)), size)

	_, err = avb.ParseVbmeta(blob[:len(blob)-1])
	require.ErrorIs(t, err, avb.ErrTruncated)

	corrupt := append([]byte(nil), blob...)
	corrupt[0] = 'X'
	_, err = avb.ParseVbmeta(corrupt)
	require.ErrorIs(t, err, avb.ErrBadMagic)
}

// TestVbmetaRejectsWrongKeySize ensures the algorithm and key size must agree.
func TestVbmetaRejectsWrongKeySize(t *testing.T) {
	t.Parallel()

	vb := &avb.Vbmeta{Algorithm: avb.AlgorithmSHA256RSA4096}

	_, err := vb.Encode(avbtest.Key(t))
	require.ErrorIs(t, err, avb.ErrUnsupported)

	vb.Algorithm = avb.AlgorithmSHA256RSA2048
	_, err = vb.Encode(nil)
	require.ErrorIs(t, err, avb.ErrUnsupported)
}

// TestAppendFooterLayout verifies payload placement, footer fields and the payload length.
func TestAppendFooterLayout(t *testing.T) {
	t.Parallel()

	payload := avbtest.Payload(7, 5000)
	image := avbtest.Footed(t, "boot", payload, avbtest.Salt(7), nil)
	require.Len(t, image, avbtest.PartitionSize)
	require.Equal(t, payload, image[:len(payload)])

	footer, err := avb.ParseFooter(image)
	require.NoError(t, err)
	require.Equal(t, uint64(len(payload)), footer.OriginalImageSize)
	require.Equal(t, uint64(2*avb.BlockSize), footer.VbmetaOffset)

	length, err := avb.PayloadLength(image)
	require.NoError(t, err)
	require.Equal(t, int64(footer.VbmetaOffset+footer.VbmetaSize), length)

	stripped, err := avb.StripFooter(image)
	require.NoError(t, err)
	require.Equal(t, payload, stripped)

	parsed, err := avb.ParseImage(image)
	require.NoError(t, err)
	require.False(t, parsed.SelfSigned())
	require.False(t, parsed.Bare())
	require.Len(t, parsed.Vbmeta.Properties(), 1)

	raw := avbtest.Payload(8, 300)
	length, err = avb.PayloadLength(raw)
	require.NoError(t, err)
	require.Equal(t, int64(300), length)
}

// TestAppendFooterCapacity checks the overflow and alignment errors.
func TestAppendFooterCapacity(t *testing.T) {
	t.Parallel()

	blob := make([]byte, 1000)

	_, err := avb.AppendFooter(make([]byte, 3*avb.BlockSize), blob, 4*avb.BlockSize)
	require.ErrorIs(t, err, outcome.ErrCapacityOverflow)

	_, err = avb.AppendFooter(make([]byte, 10), blob, 4*avb.BlockSize+1)
	require.ErrorIs(t, err, avb.ErrPartitionSize)

	image, err := avb.AppendFooter(make([]byte, 10), blob, 0)
	require.NoError(t, err)
	require.Len(t, image, 3*avb.BlockSize)
}

// TestAlgorithmLookup covers name parsing and hash/key-size matching.
func TestAlgorithmLookup(t *testing.T) {
	t.Parallel()

	alg, err := avb.ParseAlgorithm("sha512_rsa4096")
	require.NoError(t, err)
	require.Equal(t, avb.AlgorithmSHA512RSA4096, alg)
	require.Equal(t, 512, alg.SignatureSize())

	alg, err = avb.AlgorithmFor(avb.AlgorithmSHA256RSA4096.Hash(), 2048)
	require.NoError(t, err)
	require.Equal(t, avb.AlgorithmSHA256RSA2048, alg)

	_, err = avb.AlgorithmFor(avb.AlgorithmSHA256RSA4096.Hash(), 3072)
	require.ErrorIs(t, err, avb.ErrUnsupported)
	require.Equal(t, "UNKNOWN(99)", avb.Algorithm(99).String())
}

// TestParseVbmetaHostileHeader feeds headers whose sizes and offsets sit near
// 2^64 and expects every one to be rejected without a panic.
func TestParseVbmetaHostileHeader(t *testing.T) {
	t.Parallel()

	var (
		key  = avbtest.Key(t)
		root = avbtest.TrustRoot(t, key)
		good = avbtest.Vbmeta(t, key, avbtest.HashDescriptor(t, "boot", avbtest.Payload(2, 3000), avbtest.Salt(2)))
	)

	type field struct {
		offset int
		value  uint64
	}

	cases := map[string][]field{
		"auth block wraps the blob size": {{0x0C, math.MaxUint64 - 63}, {0x14, 64}},
		"aux block wraps the blob size":  {{0x14, math.MaxUint64 - 63}},
		"auth block past the size limit": {{0x0C, 1 << 20}},
		"unaligned auth block":           {{0x0C, 65}},
		"hash offset near 2^64":          {{0x20, math.MaxUint64}},
		"signature size near 2^64":       {{0x38, math.MaxUint64 - 1}},
		"public key region wraps":        {{0x40, 8}, {0x48, math.MaxUint64 - 7}},
		"descriptors offset near 2^64":   {{0x60, math.MaxUint64 - 15}, {0x68, 16}},
	}

	for name, fields := range cases {
		blob := append([]byte(nil), good...)
		for _, f := range fields {
			binary.BigEndian.PutUint64(blob[f.offset:], f.value)
		}

		require.NotPanics(t, func() {
			_, err := avb.ParseVbmeta(blob)
			require.ErrorIs(t, err, avb.ErrMalformed, name)

			_, err = avb.ParseImage(blob)
			require.ErrorIs(t, err, avb.ErrMalformed, name)

			_, err = avb.VerifyStandalone(blob, root)
			require.ErrorIs(t, err, outcome.ErrSignatureInvalid, name)
		}, name)
	}

	// The wrapped size must not leak out as a payload length either.
	blob := append([]byte(nil), good...)
	binary.BigEndian.PutUint64(blob[0x0C:], math.MaxUint64-63)
	binary.BigEndian.PutUint64(blob[0x14:], 64)

	_, err := avb.BlobSize(blob)
	require.ErrorIs(t, err, avb.ErrMalformed)

	_, err = avb.PayloadLength(blob)
	require.ErrorIs(t, err, avb.ErrMalformed)
}

// FuzzVerifyStandalone checks that arbitrary partition contents are either
// accepted or classified, never a crash.
func FuzzVerifyStandalone(f *testing.F) {
	var (
		key     = avbtest.Key(f)
		root    = avbtest.TrustRoot(f, key)
		payload = avbtest.Payload(3, 2000)
		vbmeta  = avbtest.Vbmeta(f, key, avbtest.HashDescriptor(f, "boot", payload, avbtest.Salt(3)))
	)

	f.Add(vbmeta)
	f.Add(vbmeta[:avb.HeaderSize])
	f.Add(avbtest.Footed(f, "boot", payload, avbtest.Salt(3), key))
	f.Add(avbtest.Footed(f, "init_boot", payload, avbtest.Salt(4), nil))
	f.Add([]byte("AVB0"))

	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = avb.ParseImage(data)

		_, err := avb.VerifyStandalone(data, root)
		if err != nil && !errors.Is(err, outcome.ErrSignatureInvalid) && !errors.Is(err, outcome.ErrUnknownTrustKey) {
			t.Fatalf("unclassified error: %v", err)
		}
	})
}
