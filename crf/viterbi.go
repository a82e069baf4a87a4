package crf

import "math"

// Viterbi returns the highest scoring label path and its score.
func Viterbi(stateScores, transScores [][]float64) ([]int, float64) {
	T := len(stateScores)
	if T == 0 {
		return nil, math.Inf(-1)
	}
	L := len(stateScores[0])

	// delta[y] is the best score of a path ending in y at the current
	// position; back[t][y] is its previous label.
	delta := append([]float64(nil), stateScores[0]...)
	next := make([]float64, L)
	back := make([][]int, T)
	for t := 1; t < T; t++ {
		back[t] = make([]int, L)
		for y := range L {
			best, arg := math.Inf(-1), 0
			for yp := range L {
				if s := delta[yp] + transScores[yp][y]; s > best {
					best, arg = s, yp
				}
			}
			next[y] = best + stateScores[t][y]
			back[t][y] = arg
		}
		delta, next = next, delta
	}

	best, last := math.Inf(-1), 0
	for y, s := range delta {
		if s > best {
			best, last = s, y
		}
	}
	path := make([]int, T)
	path[T-1] = last
	for t := T - 1; t > 0; t-- {
		path[t-1] = back[t][path[t]]
	}
	return path, best
}

// Decode returns the best label sequence of an attribute sequence.
func (m *Model) Decode(attrs []map[string]float64) []string {
	path, _ := Viterbi(m.Scores(attrs))
	labels := make([]string, len(path))
	for i, id := range path {
		labels[i], _ = m.Labels.Token(id)
	}
	return labels
}

// Marginals returns the probability of every label at every position.
func (m *Model) Marginals(attrs []map[string]float64) []map[string]float64 {
	state, trans := m.Scores(attrs)
	probs := ForwardBackward(state, trans).Marginals()
	out := make([]map[string]float64, len(probs))
	for t, row := range probs {
		out[t] = make(map[string]float64, len(row))
		for y, p := range row {
			label, _ := m.Labels.Token(y)
			out[t][label] = p
		}
	}
	return out
}
