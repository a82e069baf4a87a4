package crf

import (
	"log/slog"
	"math"
)

// TrainerConfig holds CRF training hyperparameters.
type TrainerConfig struct {
	C1            float64 `json:"c1"` // L1 regularization
	C2            float64 `json:"c2"` // L2 regularization
	MaxIterations int     `json:"max_iterations"`
	Epsilon       float64 `json:"epsilon"` // convergence threshold
	// Memory is the number of L-BFGS correction pairs kept.
	Memory int `json:"memory"`
}

// DefaultTrainerConfig returns the default training configuration.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		C1:            0.1,
		C2:            0.01,
		MaxIterations: 100,
		Epsilon:       1e-5,
		Memory:        10,
	}
}

// problem is the regularized negative log-likelihood of a training set.
type problem struct {
	seqs        [][][]entry
	labels      [][]int
	numLabels   int
	transOffset int
	c2          float64
}

// objective returns the smooth part of the objective at w (likelihood and
// L2 term). If grad is not nil it receives the gradient.
func (p *problem) objective(w, grad []float64) float64 {
	L := p.numLabels
	if grad != nil {
		clear(grad)
	}
	nll := 0.0
	for n, seq := range p.seqs {
		T := len(seq)
		if T == 0 {
			continue
		}
		gold := p.labels[n]
		state, trans := scores(w, seq, L, p.transOffset)
		lat := ForwardBackward(state, trans)

		score := 0.0
		for t := range T {
			score += state[t][gold[t]]
			if t > 0 {
				score += trans[gold[t-1]][gold[t]]
			}
		}
		nll += lat.LogZ - score
		if grad == nil {
			continue
		}

		// Expected minus observed feature counts.
		for t, position := range seq {
			for _, e := range position {
				base := e.attrID * L
				grad[base+gold[t]] -= e.value
				for y := range L {
					grad[base+y] += lat.Marginal(t, y) * e.value
				}
			}
		}
		for t := range T - 1 {
			grad[p.transOffset+gold[t]*L+gold[t+1]] -= 1
			for i := range L {
				for j := range L {
					grad[p.transOffset+i*L+j] += lat.TransitionMarginal(t, i, j, state, trans)
				}
			}
		}
	}
	if p.c2 > 0 {
		for i, v := range w {
			nll += 0.5 * p.c2 * v * v
			if grad != nil {
				grad[i] += p.c2 * v
			}
		}
	}
	return nll
}

// Train fits a CRF on the given sequences with OWL-QN.
func Train(sequences []TrainingSequence, config TrainerConfig) *Model {
	model := NewModel()
	for _, seq := range sequences {
		for _, position := range seq.Attributes {
			for name := range position {
				model.Attributes.Add(name)
			}
		}
		for _, label := range seq.Labels {
			model.Labels.Add(label)
		}
	}
	model.Attributes.Freeze()
	model.Labels.Freeze()
	model.NumLabels = model.Labels.Size()

	p := &problem{
		numLabels:   model.NumLabels,
		transOffset: model.TransOffset(),
		c2:          config.C2,
	}
	for _, seq := range sequences {
		attrs := seq.Attributes[:min(len(seq.Attributes), len(seq.Labels))]
		p.seqs = append(p.seqs, model.entries(attrs))
		ids := make([]int, len(attrs))
		for t := range ids {
			ids[t] = model.Labels.Index(seq.Labels[t])
		}
		p.labels = append(p.labels, ids)
	}

	model.Weights = owlqn(p, model.NumWeights(), config)
	return model
}

// owlqn minimizes p.objective plus C1*|w| and returns the weights.
func owlqn(p *problem, n int, config TrainerConfig) []float64 {
	c1 := config.C1
	objective := func(w, grad []float64) float64 {
		f := p.objective(w, grad)
		for _, v := range w {
			f += c1 * math.Abs(v)
		}
		return f
	}

	memory := config.Memory
	if memory <= 0 {
		memory = 10
	}
	hist := newLBFGS(n, memory)
	w := make([]float64, n)
	grad := make([]float64, n)
	f := objective(w, grad)
	pg := pseudoGradient(w, grad, c1)

	for iter := range config.MaxIterations {
		dir := hist.direction(pg)
		for i := range dir {
			if dir[i]*pg[i] > 0 {
				dir[i] = 0
			}
		}

		wNew, fNew, ok := lineSearch(w, dir, f, pg, c1, objective)
		if !ok {
			slog.Warn("CRF line search failed, stopping", "iteration", iter+1)
			break
		}
		slog.Debug("CRF training iteration", "iteration", iter+1, "objective", fNew)

		newGrad := make([]float64, n)
		objective(wNew, newGrad)
		newPG := pseudoGradient(wNew, newGrad, c1)

		s := make([]float64, n)
		y := make([]float64, n)
		for i := range n {
			s[i] = wNew[i] - w[i]
			y[i] = newGrad[i] - grad[i]
		}
		hist.update(s, y)
		w, grad, pg, f = wNew, newGrad, newPG, fNew

		maxGrad := 0.0
		for _, g := range pg {
			maxGrad = max(maxGrad, math.Abs(g))
		}
		if maxGrad < config.Epsilon {
			slog.Debug("CRF converged", "iteration", iter+1, "max_gradient", maxGrad)
			break
		}
	}
	return w
}

// pseudoGradient is the OWL-QN subgradient of the L1-regularized objective.
func pseudoGradient(w, grad []float64, c1 float64) []float64 {
	pg := make([]float64, len(w))
	for i := range w {
		switch {
		case w[i] > 0:
			pg[i] = grad[i] + c1
		case w[i] < 0:
			pg[i] = grad[i] - c1
		case grad[i]+c1 < 0:
			pg[i] = grad[i] + c1
		case grad[i]-c1 > 0:
			pg[i] = grad[i] - c1
		}
	}
	return pg
}

// lineSearch backtracks along dir until the Armijo condition holds. Trial
// points are projected onto the orthant of w, or of -pg where w is zero.
func lineSearch(w, dir []float64, f float64, pg []float64, c1 float64, objective func(w, grad []float64) float64) ([]float64, float64, bool) {
	deriv := dot(dir, pg)
	if deriv >= 0 {
		return nil, 0, false
	}
	const armijo = 1e-4
	wNew := make([]float64, len(w))
	step := 1.0
	for range 20 {
		for i := range w {
			wNew[i] = w[i] + step*dir[i]
			orthant := w[i]
			if orthant == 0 {
				orthant = -pg[i]
			}
			if c1 > 0 && wNew[i]*orthant < 0 {
				wNew[i] = 0
			}
		}
		if fNew := objective(wNew, nil); fNew <= f+armijo*step*deriv {
			return wNew, fNew, true
		}
		step *= 0.5
	}
	return nil, 0, false
}

// lbfgs keeps the last correction pairs of L-BFGS.
type lbfgs struct {
	n, m int
	s, y [][]float64
	rho  []float64
}

func newLBFGS(n, m int) *lbfgs {
	return &lbfgs{n: n, m: m}
}

func (l *lbfgs) update(s, y []float64) {
	sy := dot(s, y)
	if sy <= 0 {
		return
	}
	if len(l.s) == l.m {
		l.s, l.y, l.rho = l.s[1:], l.y[1:], l.rho[1:]
	}
	l.s = append(l.s, s)
	l.y = append(l.y, y)
	l.rho = append(l.rho, 1/sy)
}

// direction runs the two-loop recursion and returns a descent direction.
func (l *lbfgs) direction(pg []float64) []float64 {
	q := append([]float64(nil), pg...)
	k := len(l.s)
	alpha := make([]float64, k)
	for i := k - 1; i >= 0; i-- {
		alpha[i] = l.rho[i] * dot(l.s[i], q)
		axpy(-alpha[i], l.y[i], q)
	}
	if k > 0 {
		if yy := dot(l.y[k-1], l.y[k-1]); yy > 0 {
			gamma := dot(l.s[k-1], l.y[k-1]) / yy
			for i := range q {
				q[i] *= gamma
			}
		}
	}
	for i := range k {
		beta := l.rho[i] * dot(l.y[i], q)
		axpy(alpha[i]-beta, l.s[i], q)
	}
	for i := range q {
		q[i] = -q[i]
	}
	return q
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// axpy sets y += a*x.
func axpy(a float64, x, y []float64) {
	for i := range x {
		y[i] += a * x[i]
	}
}
