package avb

import (
	"crypto/rsa"
	"encoding/binary"
	"fmt"
	"math/big"
)

// publicKeyExponent is the only RSA public exponent libavb accepts.
const publicKeyExponent = 65537

// EncodePublicKey encodes an RSA public key in the AVB format:
//
//	Offset  Size   Description
//	------  -----  -----------------------------------
//	 0x00    4     Key size in bits
//	 0x04    4     n0inv = -1/n[0] mod 2^32
//	 0x08    n/8   Modulus, big-endian
//	 ...     n/8   rr = (2^n)^2 mod modulus, big-endian
func EncodePublicKey(pub *rsa.PublicKey) ([]byte, error) {
	if pub.E != publicKeyExponent {
		return nil, fmt.Errorf("public exponent %d: %w", pub.E, ErrUnsupported)
	}

	bits := pub.N.BitLen()
	if bits%8 != 0 {
		return nil, fmt.Errorf("key size %d bits: %w", bits, ErrUnsupported)
	}

	size := bits / 8
	b32 := new(big.Int).Lsh(big.NewInt(1), 32)

	n0inv := new(big.Int).Mod(pub.N, b32)
	n0inv.ModInverse(n0inv, b32)
	n0inv.Sub(b32, n0inv)

	rr := new(big.Int).Lsh(big.NewInt(1), uint(2*bits))
	rr.Mod(rr, pub.N)

	out := make([]byte, 8+2*size)
	binary.BigEndian.PutUint32(out[0:], uint32(bits))
	binary.BigEndian.PutUint32(out[4:], uint32(n0inv.Uint64()))
	pub.N.FillBytes(out[8 : 8+size])
	rr.FillBytes(out[8+size:])

	return out, nil
}

// DecodePublicKey parses an AVB-encoded RSA public key.
func DecodePublicKey(b []byte) (*rsa.PublicKey, error) {
	if len(b) < 8 {
		return nil, fmt.Errorf("public key: %w", ErrTruncated)
	}

	bits := binary.BigEndian.Uint32(b[0:])
	if bits == 0 || bits%8 != 0 || bits > 8192 {
		return nil, fmt.Errorf("public key size %d bits: %w", bits, ErrUnsupported)
	}

	size := int(bits / 8)
	if len(b) < 8+2*size {
		return nil, fmt.Errorf("public key: %w", ErrTruncated)
	}

	n := new(big.Int).SetBytes(b[8 : 8+size])
	if n.BitLen() != int(bits) {
		return nil, fmt.Errorf("public key modulus: %w", ErrMalformed)
	}

	return &rsa.PublicKey{N: n, E: publicKeyExponent}, nil
}
