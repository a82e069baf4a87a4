package lstm

// SequenceScore counts the sequences whose first lengths[i] predicted labels
// all equal the true ones. Positions past a sequence's length are ignored.
func SequenceScore(predicted, truth [][]int, lengths []int) int {
	score := 0
	for i, length := range lengths {
		if i >= len(predicted) || i >= len(truth) {
			break
		}
		if matchPrefix(predicted[i], truth[i], length) {
			score++
		}
	}
	return score
}

func matchPrefix(a, b []int, n int) bool {
	if len(a) < n || len(b) < n {
		return false
	}
	for j := range n {
		if a[j] != b[j] {
			return false
		}
	}
	return true
}
