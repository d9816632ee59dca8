package bpe

// initialSymbols splits a byte-mapped word into one symbol per character.
func initialSymbols(word string) []string {
	symbols := make([]string, 0, len(word))
	start := -1
	for i := range word {
		if start >= 0 {
			symbols = append(symbols, word[start:i])
		}
		start = i
	}
	if start >= 0 {
		symbols = append(symbols, word[start:])
	}
	return symbols
}

// mergeSymbols applies the merge rules to symbols until none applies, and returns the final symbols and the
// number of merge iterations performed.
//
// At each iteration the adjacent pair with the lowest rank is selected (the rank decides, not the position),
// and every non-overlapping occurrence of that pair is merged, left to right. Each iteration shrinks the
// sequence by at least one symbol, so there are at most len(symbols)-1 iterations.
//
// The input slice is reused: callers must not use it afterwards.
func mergeSymbols(symbols []string, merges *MergeTable) ([]string, int) {
	iterations := 0
	for len(symbols) > 1 {
		bestRank := -1
		var best MergeRule
		for i := 0; i < len(symbols)-1; i++ {
			rank, ok := merges.RankOf(symbols[i], symbols[i+1])
			if ok && (bestRank < 0 || rank < bestRank) {
				bestRank = rank
				best = MergeRule{Left: symbols[i], Right: symbols[i+1]}
			}
		}
		if bestRank < 0 {
			break
		}

		// Merge in place: the write index never passes the read index.
		merged := best.Left + best.Right
		n := 0
		for i := 0; i < len(symbols); {
			if i < len(symbols)-1 && symbols[i] == best.Left && symbols[i+1] == best.Right {
				symbols[n] = merged
				i += 2
			} else {
				symbols[n] = symbols[i]
				i++
			}
			n++
		}
		symbols = symbols[:n]
		iterations++
	}
	return symbols, iterations
}
