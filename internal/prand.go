package internal

// Prand32 advances a 32-bit xorshift generator one step (Marsaglia,
// "Xorshift RNGs", p.4). It underlies the Fisher-Yates shuffle in
// tcp.TestReassemblyPermutations, which needs a seeded, repeatable sequence
// of orderings rather than crypto/rand's non-reproducible output — a failing
// permutation should be reproducible from its seed in a bug report.
func Prand32[T ~uint32](seed T) T {
	seed ^= seed << 13
	seed ^= seed >> 17
	seed ^= seed << 5
	return seed
}
