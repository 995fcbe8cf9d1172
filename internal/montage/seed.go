package montage

import "math/rand"

// Streams separate the random draws of different planning stages so that
// changing one policy does not shift the numbers another one sees.
const (
	StreamJitter   uint64 = 0x6a69747465720001
	StreamTieBreak uint64 = 0x7469656272656b02
	StreamTrimOff  uint64 = 0x7472696d6f666603
)

// DeriveSeed mixes the run seed, a stream id and a slot index into an
// independent per-slot seed (splitmix64 finalizer).
func DeriveSeed(seed int64, stream uint64, index int) int64 {
	z := uint64(seed) ^ stream
	z += uint64(index+1) * 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	z ^= z >> 31
	return int64(z)
}

// SlotRand returns a generator seeded for one slot of one stream.
func SlotRand(seed int64, stream uint64, index int) *rand.Rand {
	return rand.New(rand.NewSource(DeriveSeed(seed, stream, index)))
}
