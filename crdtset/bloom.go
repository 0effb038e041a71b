package crdtset

import (
	"github.com/gholt/brimutil"
	"github.com/spaolacci/murmur3"
)

// BloomFilter is a fixed-size probabilistic set of keys, used by the
// anti-entropy poller to tell a peer "skip these, I already have them"
// without shipping the full key list. False positives are possible (a
// key wrongly reported present); false negatives are not. Callers must
// never treat a BloomFilter as authoritative — it is a bandwidth
// optimization, not a correctness mechanism.
type BloomFilter struct {
	bits []uint64
	mask uint64
	k    int
	salt uint32
}

// defaultBitsPerKey and defaultK follow the standard trade-off for a
// false-positive rate around 1%: roughly 10 bits per key and 7 probes.
const (
	defaultBitsPerKey = 10
	defaultK          = 7
)

// NewBloomFilter returns an empty filter sized for n keys. salt varies
// the hash seed across poll cycles so that a filter built on stale
// information from one cycle can't be mistaken for another's.
func NewBloomFilter(n int, salt uint32) *BloomFilter {
	if n < 1 {
		n = 1
	}
	want := uint64(n * defaultBitsPerKey)
	size := brimutil.PowerOfTwoNeeded(want)
	if size < 64 {
		size = 64
	}
	return &BloomFilter{
		bits: make([]uint64, size/64),
		mask: size - 1,
		k:    defaultK,
		salt: salt,
	}
}

// Add records key in the filter.
func (f *BloomFilter) Add(key uint64) {
	h1, h2 := f.hashes(key)
	for i := 0; i < f.k; i++ {
		f.set(f.index(h1, h2, i))
	}
}

// MayContain reports whether key might be in the filter. A false
// result is a guarantee of absence; a true result is not a guarantee
// of presence.
func (f *BloomFilter) MayContain(key uint64) bool {
	h1, h2 := f.hashes(key)
	for i := 0; i < f.k; i++ {
		if !f.get(f.index(h1, h2, i)) {
			return false
		}
	}
	return true
}

// hashes derives the two independent hashes used for Kirsch-Mitzenmacher
// double hashing: index(i) = h1 + i*h2.
func (f *BloomFilter) hashes(key uint64) (uint64, uint64) {
	var kb [12]byte
	kb[0] = byte(key)
	kb[1] = byte(key >> 8)
	kb[2] = byte(key >> 16)
	kb[3] = byte(key >> 24)
	kb[4] = byte(key >> 32)
	kb[5] = byte(key >> 40)
	kb[6] = byte(key >> 48)
	kb[7] = byte(key >> 56)
	kb[8] = byte(f.salt)
	kb[9] = byte(f.salt >> 8)
	kb[10] = byte(f.salt >> 16)
	kb[11] = byte(f.salt >> 24)
	h1, h2 := murmur3.Sum128(kb[:])
	return h1, h2
}

func (f *BloomFilter) index(h1, h2 uint64, i int) uint64 {
	return (h1 + uint64(i)*h2) & f.mask
}

func (f *BloomFilter) set(bit uint64) {
	f.bits[bit/64] |= 1 << (bit % 64)
}

func (f *BloomFilter) get(bit uint64) bool {
	return f.bits[bit/64]&(1<<(bit%64)) != 0
}
