package crf

import "math"

// Lattice holds the log-space forward and backward variables of a sequence.
type Lattice struct {
	LogZ  float64     // log partition function
	Alpha [][]float64 // [T][L] log forward scores
	Beta  [][]float64 // [T][L] log backward scores
}

// ForwardBackward runs the forward-backward algorithm in log space.
// stateScores is [T][L], transScores is [L][L].
func ForwardBackward(stateScores, transScores [][]float64) Lattice {
	T := len(stateScores)
	if T == 0 {
		return Lattice{}
	}
	L := len(stateScores[0])
	buf := make([]float64, L)

	alpha := make([][]float64, T)
	alpha[0] = append([]float64(nil), stateScores[0]...)
	for t := 1; t < T; t++ {
		alpha[t] = make([]float64, L)
		for y := range L {
			for yp := range L {
				buf[yp] = alpha[t-1][yp] + transScores[yp][y]
			}
			alpha[t][y] = logSumExp(buf) + stateScores[t][y]
		}
	}

	beta := make([][]float64, T)
	beta[T-1] = make([]float64, L)
	for t := T - 2; t >= 0; t-- {
		beta[t] = make([]float64, L)
		for y := range L {
			for yn := range L {
				buf[yn] = transScores[y][yn] + stateScores[t+1][yn] + beta[t+1][yn]
			}
			beta[t][y] = logSumExp(buf)
		}
	}

	return Lattice{LogZ: logSumExp(alpha[T-1]), Alpha: alpha, Beta: beta}
}

// Marginal returns P(y_t = y | x).
func (l Lattice) Marginal(t, y int) float64 {
	return math.Exp(l.Alpha[t][y] + l.Beta[t][y] - l.LogZ)
}

// TransitionMarginal returns P(y_t = i, y_{t+1} = j | x).
func (l Lattice) TransitionMarginal(t, i, j int, stateScores, transScores [][]float64) float64 {
	return math.Exp(l.Alpha[t][i] + transScores[i][j] + stateScores[t+1][j] + l.Beta[t+1][j] - l.LogZ)
}

// Marginals returns the [T][L] position marginals.
func (l Lattice) Marginals() [][]float64 {
	out := make([][]float64, len(l.Alpha))
	for t := range l.Alpha {
		out[t] = make([]float64, len(l.Alpha[t]))
		for y := range out[t] {
			out[t][y] = l.Marginal(t, y)
		}
	}
	return out
}

func logSumExp(xs []float64) float64 {
	best := math.Inf(-1)
	for _, x := range xs {
		best = max(best, x)
	}
	if math.IsInf(best, -1) {
		return best
	}
	var s float64
	for _, x := range xs {
		s += math.Exp(x - best)
	}
	return best + math.Log(s)
}
