package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

// LSTMParams configures recurrent network training.
type LSTMParams struct {
	Layers       []int   `json:"layers"` // hidden units per recurrent layer, input side first
	Dense        int     `json:"dense"`
	Dropout      float64 `json:"dropout"` // after every recurrent layer, training only
	LearningRate float64 `json:"learning_rate"`
	BatchSize    int     `json:"batch_size"`
	Epochs       int     `json:"epochs"`
	Patience     int     `json:"patience"` // epochs without validation improvement; 0 disables
	Seed         uint64  `json:"seed"`
}

// DefaultLSTMParams returns the production training parameters.
func DefaultLSTMParams() LSTMParams {
	return LSTMParams{
		Layers:       []int{64, 32},
		Dense:        16,
		Dropout:      0.2,
		LearningRate: 0.001,
		BatchSize:    32,
		Epochs:       50,
		Patience:     5,
		Seed:         42,
	}
}

func (p LSTMParams) validate() error {
	var errs []error
	if len(p.Layers) == 0 || p.Dense <= 0 {
		errs = append(errs, errors.New("at least one recurrent layer and a dense layer are required"))
	}
	for _, h := range p.Layers {
		if h <= 0 {
			errs = append(errs, errors.New("layer sizes must be positive"))
			break
		}
	}
	if p.Dropout < 0 || p.Dropout >= 1 {
		errs = append(errs, errors.New("dropout must be in [0, 1)"))
	}
	if p.LearningRate <= 0 {
		errs = append(errs, errors.New("learning rate must be positive"))
	}
	if p.BatchSize <= 0 || p.Epochs <= 0 {
		errs = append(errs, errors.New("batch size and epochs must be positive"))
	}
	return errors.Join(errs...)
}

// LSTM is a stack of LSTM layers, each feeding its full output sequence to
// the next, followed by a ReLU dense layer on the last hidden state and a
// sigmoid output. Gate blocks are ordered input, forget, cell, output.
//
// Params is a flat vector laid out as, per recurrent layer, W (4H×D),
// U (4H×H), B (4H); then W1 (K×H), B1 (K), W2 (K), B2 (1) on top.
type LSTM struct {
	Inputs int       `json:"inputs"`
	Layers []int     `json:"layers"`
	Dense  int       `json:"dense"`
	Params []float64 `json:"params"`
}

// cellLayout locates one recurrent layer inside Params.
type cellLayout struct {
	in, hidden int
	w, u, b    int
}

type lstmLayout struct {
	cells                []cellLayout
	top                  int // width of the last hidden state
	w1, b1, w2, b2, size int
}

func (m *LSTM) layout() lstmLayout {
	var l lstmLayout
	off, in := 0, m.Inputs
	for _, h := range m.Layers {
		c := cellLayout{in: in, hidden: h, w: off}
		c.u = c.w + 4*h*in
		c.b = c.u + 4*h*h
		off = c.b + 4*h
		l.cells = append(l.cells, c)
		in = h
	}
	k := m.Dense
	l.top = in
	l.w1 = off
	l.b1 = l.w1 + k*in
	l.w2 = l.b1 + k
	l.b2 = l.w2 + k
	l.size = l.b2 + 1
	return l
}

func (m *LSTM) checkShape(width int) error {
	if m.Inputs != width {
		return fmt.Errorf("%w: lstm takes %d inputs, want %d", ErrMalformedArtifact, m.Inputs, width)
	}
	if len(m.Layers) == 0 || m.Dense <= 0 {
		return fmt.Errorf("%w: lstm has no layers", ErrMalformedArtifact)
	}
	for _, h := range m.Layers {
		if h <= 0 {
			return fmt.Errorf("%w: lstm layer of size %d", ErrMalformedArtifact, h)
		}
	}
	if want := m.layout().size; len(m.Params) != want {
		return fmt.Errorf("%w: lstm has %d params, want %d", ErrMalformedArtifact, len(m.Params), want)
	}
	return nil
}

// NewLSTM initializes a network with Glorot-uniform weights, zero biases and
// forget-gate biases of 1.
func NewLSTM(inputs int, p LSTMParams) *LSTM {
	m := &LSTM{Inputs: inputs, Layers: append([]int(nil), p.Layers...), Dense: p.Dense}
	l := m.layout()
	m.Params = make([]float64, l.size)
	rng := rand.New(rand.NewPCG(p.Seed, p.Seed+1))

	glorot := func(off, n, fanIn, fanOut int) {
		limit := math.Sqrt(6 / float64(fanIn+fanOut))
		for i := 0; i < n; i++ {
			m.Params[off+i] = (rng.Float64()*2 - 1) * limit
		}
	}
	for _, c := range l.cells {
		h, d := c.hidden, c.in
		glorot(c.w, 4*h*d, d, 4*h)
		glorot(c.u, 4*h*h, h, 4*h)
		for j := h; j < 2*h; j++ {
			m.Params[c.b+j] = 1
		}
	}
	k := p.Dense
	glorot(l.w1, k*l.top, l.top, k)
	glorot(l.w2, k, k, 1)
	return m
}

// PredictProba implements [Classifier] for a single-timestep sequence.
func (m *LSTM) PredictProba(x []float64) (float64, error) {
	return m.PredictSequence([][]float64{x})
}

// PredictSequence scores a sequence of feature vectors.
func (m *LSTM) PredictSequence(seq [][]float64) (float64, error) {
	if len(seq) == 0 {
		return 0, errors.New("lstm: empty sequence")
	}
	if err := m.checkShape(m.Inputs); err != nil {
		return 0, err
	}
	for _, x := range seq {
		if err := checkWidth(x, m.Inputs); err != nil {
			return 0, err
		}
	}
	return m.forward(seq, nil).p, nil
}

type lstmStep struct {
	x, hPrev, cPrev []float64
	i, f, g, o      []float64
	c, h            []float64
}

// dropout draws inverted-dropout masks: each unit is zeroed with
// probability rate and the survivors are scaled by 1/(1-rate).
type dropout struct {
	rate float64
	rng  *rand.Rand
}

func (d *dropout) mask(n int) []float64 {
	keep := 1 / (1 - d.rate)
	m := make([]float64, n)
	for i := range m {
		if d.rng.Float64() >= d.rate {
			m[i] = keep
		}
	}
	return m
}

type lstmForward struct {
	layers [][]lstmStep
	masks  [][][]float64 // per layer and step; nil without dropout
	top    []float64     // input of the dense layer
	aPre   []float64
	a      []float64
	p      float64
}

// run feeds xs through one recurrent layer from a zero state.
func (c cellLayout) run(P []float64, xs [][]float64) []lstmStep {
	H, D := c.hidden, c.in
	h := make([]float64, H)
	cs := make([]float64, H)
	steps := make([]lstmStep, 0, len(xs))

	for _, x := range xs {
		s := lstmStep{
			x: x, hPrev: h, cPrev: cs,
			i: make([]float64, H), f: make([]float64, H),
			g: make([]float64, H), o: make([]float64, H),
			c: make([]float64, H), h: make([]float64, H),
		}
		for gate := 0; gate < 4; gate++ {
			for j := 0; j < H; j++ {
				row := gate*H + j
				z := P[c.b+row]
				wr := P[c.w+row*D : c.w+(row+1)*D]
				for k, v := range x {
					z += wr[k] * v
				}
				ur := P[c.u+row*H : c.u+(row+1)*H]
				for k, v := range h {
					z += ur[k] * v
				}
				switch gate {
				case 0:
					s.i[j] = sigmoid(z)
				case 1:
					s.f[j] = sigmoid(z)
				case 2:
					s.g[j] = math.Tanh(z)
				case 3:
					s.o[j] = sigmoid(z)
				}
			}
		}
		for j := 0; j < H; j++ {
			s.c[j] = s.f[j]*cs[j] + s.i[j]*s.g[j]
			s.h[j] = s.o[j] * math.Tanh(s.c[j])
		}
		h, cs = s.h, s.c
		steps = append(steps, s)
	}
	return steps
}

// backprop accumulates the parameter gradients of one layer given the loss
// gradient on each step's output (nil where none flows) and returns the
// gradient on each step's input.
func (c cellLayout) backprop(P []float64, steps []lstmStep, dOut [][]float64, grad []float64) [][]float64 {
	H, D := c.hidden, c.in
	dx := make([][]float64, len(steps))
	dh := make([]float64, H)
	dc := make([]float64, H)
	dz := make([]float64, 4*H)

	for t := len(steps) - 1; t >= 0; t-- {
		s := steps[t]
		if d := dOut[t]; d != nil {
			for j := range dh {
				dh[j] += d[j]
			}
		}
		for j := 0; j < H; j++ {
			tc := math.Tanh(s.c[j])
			do := dh[j] * tc
			dc[j] += dh[j] * s.o[j] * (1 - tc*tc)
			di := dc[j] * s.g[j]
			dg := dc[j] * s.i[j]
			df := dc[j] * s.cPrev[j]
			dz[j] = di * s.i[j] * (1 - s.i[j])
			dz[H+j] = df * s.f[j] * (1 - s.f[j])
			dz[2*H+j] = dg * (1 - s.g[j]*s.g[j])
			dz[3*H+j] = do * s.o[j] * (1 - s.o[j])
			dc[j] *= s.f[j]
		}

		dhPrev := make([]float64, H)
		dxt := make([]float64, D)
		for row := 0; row < 4*H; row++ {
			d := dz[row]
			if d == 0 {
				continue
			}
			grad[c.b+row] += d
			for k, v := range s.x {
				grad[c.w+row*D+k] += d * v
				dxt[k] += d * P[c.w+row*D+k]
			}
			for k, v := range s.hPrev {
				grad[c.u+row*H+k] += d * v
				dhPrev[k] += d * P[c.u+row*H+k]
			}
		}
		dx[t] = dxt
		dh = dhPrev
	}
	return dx
}

// forward runs the network. With a non-nil drop every recurrent layer's
// outputs are masked before reaching the next layer.
func (m *LSTM) forward(seq [][]float64, drop *dropout) lstmForward {
	l := m.layout()
	K := m.Dense
	P := m.Params

	var out lstmForward
	xs := seq
	for _, c := range l.cells {
		steps := c.run(P, xs)
		next := make([][]float64, len(steps))
		var masks [][]float64
		for t, s := range steps {
			next[t] = s.h
			if drop == nil {
				continue
			}
			mk := drop.mask(len(s.h))
			hd := make([]float64, len(s.h))
			for j, v := range s.h {
				hd[j] = v * mk[j]
			}
			masks = append(masks, mk)
			next[t] = hd
		}
		out.layers = append(out.layers, steps)
		out.masks = append(out.masks, masks)
		xs = next
	}
	out.top = xs[len(xs)-1]

	out.aPre = make([]float64, K)
	out.a = make([]float64, K)
	logit := P[l.b2]
	for k := 0; k < K; k++ {
		z := P[l.b1+k]
		wr := P[l.w1+k*l.top : l.w1+(k+1)*l.top]
		for j, v := range out.top {
			z += wr[j] * v
		}
		out.aPre[k] = z
		out.a[k] = math.Max(z, 0)
		logit += P[l.w2+k] * out.a[k]
	}
	out.p = sigmoid(logit)
	return out
}

// backward accumulates scale·∂BCE/∂params into grad.
func (m *LSTM) backward(f lstmForward, y, scale float64, grad []float64) {
	l := m.layout()
	K := m.Dense
	P := m.Params

	dlogit := (f.p - y) * scale
	grad[l.b2] += dlogit

	dTop := make([]float64, l.top)
	for k := 0; k < K; k++ {
		grad[l.w2+k] += dlogit * f.a[k]
		if f.aPre[k] <= 0 {
			continue
		}
		da := dlogit * P[l.w2+k]
		grad[l.b1+k] += da
		for j := 0; j < l.top; j++ {
			grad[l.w1+k*l.top+j] += da * f.top[j]
			dTop[j] += da * P[l.w1+k*l.top+j]
		}
	}

	last := len(l.cells) - 1
	dOut := make([][]float64, len(f.layers[last]))
	dOut[len(dOut)-1] = dTop
	for i := last; i >= 0; i-- {
		if masks := f.masks[i]; masks != nil {
			for t, d := range dOut {
				for j := range d {
					d[j] *= masks[t][j]
				}
			}
		}
		dOut = l.cells[i].backprop(P, f.layers[i], dOut, grad)
	}
}

// LSTMHistory records per-epoch losses.
type LSTMHistory struct {
	TrainLoss      []float64
	ValidationLoss []float64
	BestEpoch      int // 1-based
}

// TrainLSTM fits a network on single-timestep samples with Adam and dropout,
// restoring the weights of the best validation epoch. Without a validation set the
// training loss is monitored instead.
func TrainLSTM(ctx context.Context, x [][]float64, y []float64, xv [][]float64, yv []float64, p LSTMParams) (*LSTM, LSTMHistory, error) {
	var hist LSTMHistory
	if err := p.validate(); err != nil {
		return nil, hist, fmt.Errorf("lstm params: %w", err)
	}
	if len(x) == 0 || len(x) != len(y) {
		return nil, hist, fmt.Errorf("lstm: %d samples with %d labels", len(x), len(y))
	}

	m := NewLSTM(len(x[0]), p)
	opt := newAdam(len(m.Params), p.LearningRate)
	grad := make([]float64, len(m.Params))
	rng := rand.New(rand.NewPCG(p.Seed, p.Seed+2))
	var drop *dropout
	if p.Dropout > 0 {
		drop = &dropout{rate: p.Dropout, rng: rand.New(rand.NewPCG(p.Seed, p.Seed+4))}
	}

	order := make([]int, len(x))
	for i := range order {
		order[i] = i
	}

	bestParams := append([]float64(nil), m.Params...)
	bestLoss, stale := math.Inf(1), 0

	for epoch := 1; epoch <= p.Epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var trainLoss float64
		for start := 0; start < len(order); start += p.BatchSize {
			if err := ctx.Err(); err != nil {
				return nil, hist, err
			}
			end := min(start+p.BatchSize, len(order))
			clear(grad)
			scale := 1 / float64(end-start)
			for _, i := range order[start:end] {
				f := m.forward([][]float64{x[i]}, drop)
				trainLoss += bceLoss(f.p, y[i])
				m.backward(f, y[i], scale, grad)
			}
			opt.step(m.Params, grad)
		}
		trainLoss /= float64(len(x))
		hist.TrainLoss = append(hist.TrainLoss, trainLoss)

		monitored := trainLoss
		if len(xv) > 0 {
			monitored = m.loss(xv, yv)
			hist.ValidationLoss = append(hist.ValidationLoss, monitored)
		}

		if monitored < bestLoss-1e-6 {
			bestLoss, stale = monitored, 0
			hist.BestEpoch = epoch
			copy(bestParams, m.Params)
			continue
		}
		stale++
		if p.Patience > 0 && stale >= p.Patience {
			break
		}
	}

	copy(m.Params, bestParams)
	return m, hist, nil
}

func (m *LSTM) loss(x [][]float64, y []float64) float64 {
	var total float64
	for i := range x {
		total += bceLoss(m.forward([][]float64{x[i]}, nil).p, y[i])
	}
	return total / float64(len(x))
}

type adam struct {
	lr, beta1, beta2, eps float64
	m, v                  []float64
	t                     int
}

func newAdam(n int, lr float64) *adam {
	return &adam{lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-7, m: make([]float64, n), v: make([]float64, n)}
}

func (a *adam) step(params, grad []float64) {
	a.t++
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))
	for i, g := range grad {
		a.m[i] = a.beta1*a.m[i] + (1-a.beta1)*g
		a.v[i] = a.beta2*a.v[i] + (1-a.beta2)*g*g
		params[i] -= a.lr * (a.m[i] / c1) / (math.Sqrt(a.v[i]/c2) + a.eps)
	}
}
