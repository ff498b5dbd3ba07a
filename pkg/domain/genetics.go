package domain

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// Combine mixes two parent codes under a selector mask. Each selector bit
// picks the corresponding bit from a (set) or b (clear).
func Combine(a, b, selector GeneticCode) GeneticCode {
	var out GeneticCode
	for i := range out {
		out[i] = (selector[i] & a[i]) | (^selector[i] & b[i])
	}
	return out
}

// RandomValue condenses a runtime seed, the caller and the per-call
// extrinsic counter into a 16-byte value with BLAKE2b-128. The result is
// used directly as a fresh genetic code or as a breeding selector.
func RandomValue(seed []byte, account AccountID, extrinsic uint32) GeneticCode {
	h, err := blake2b.New(GeneticCodeSize, nil)
	if err != nil {
		// only reachable with an invalid size or key
		panic(err)
	}
	var buf [12]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(account))
	binary.LittleEndian.PutUint32(buf[8:], extrinsic)
	_, _ = h.Write(seed)
	_, _ = h.Write(buf[:])
	var out GeneticCode
	copy(out[:], h.Sum(nil))
	return out
}
