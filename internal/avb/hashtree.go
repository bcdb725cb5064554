package avb

import (
	"crypto"
	"fmt"
	"math/bits"

	"github.com/oshokin/avb-guard/internal/digest"
)

// maxTreeBlockSize bounds dm-verity block sizes read from descriptors.
const maxTreeBlockSize = 1 << 16

// hashtreeRoot computes the dm-verity root digest of data the way avbtool
// generate_hash_tree does. Each level hashes salt||block for every block of
// the level below, digests are padded to the next power of two, and every
// level is zero padded to a whole block. The loop stops when a level fits in
// exactly one block.
func hashtreeRoot(h crypto.Hash, salt, data []byte, dataBlockSize, hashBlockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("hashtree over empty image: %w", ErrMalformed)
	}

	var (
		digestSize = h.Size()
		padded     = nextPow2(digestSize)
	)

	// A hash block holding a single digest would never fold to one block.
	if !validTreeBlock(dataBlockSize, 1) || !validTreeBlock(hashBlockSize, 2*padded) {
		return nil, fmt.Errorf("hashtree block sizes %d/%d: %w", dataBlockSize, hashBlockSize, ErrMalformed)
	}

	var (
		padding   = make([]byte, padded-digestSize)
		level     = data
		blockSize = dataBlockSize
	)

	for {
		var next []byte

		for offset := 0; offset < len(level); offset += blockSize {
			block := make([]byte, blockSize)
			copy(block, level[offset:min(offset+blockSize, len(level))])

			sum, err := digest.Salted(h, salt, block)
			if err != nil {
				return nil, err
			}

			next = append(next, sum...)
			next = append(next, padding...)
		}

		next = padBlob(next, uint64(hashBlockSize))

		level = next
		blockSize = hashBlockSize

		if len(level) == hashBlockSize {
			break
		}
	}

	return digest.Salted(h, salt, level)
}

// validTreeBlock reports whether size is a power of two in [minimum, maxTreeBlockSize].
func validTreeBlock(size, minimum int) bool {
	return size >= minimum && size <= maxTreeBlockSize && size&(size-1) == 0
}

// nextPow2 returns the smallest power of two not less than n.
func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}

	return 1 << bits.Len(uint(n-1))
}
