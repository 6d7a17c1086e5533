package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
)

// GBDTParams configures gradient-boosted tree training.
type GBDTParams struct {
	Rounds         int     `json:"rounds"`
	LearningRate   float64 `json:"learning_rate"`
	MaxLeaves      int     `json:"max_leaves"`
	MaxDepth       int     `json:"max_depth"`
	MinSamplesLeaf int     `json:"min_samples_leaf"`
	Bins           int     `json:"bins"`
	Lambda         float64 `json:"lambda"`
	EarlyStopping  int     `json:"early_stopping"` // rounds without validation improvement; 0 disables

	// FeatureFraction of the columns is drawn for every tree.
	FeatureFraction float64 `json:"feature_fraction"`
	// BaggingFraction of the rows is redrawn every BaggingFreq rounds and
	// used to grow the trees in between. A zero BaggingFreq disables bagging.
	BaggingFraction float64 `json:"bagging_fraction"`
	BaggingFreq     int     `json:"bagging_freq"`
	Seed            uint64  `json:"seed"`
}

// DefaultGBDTParams returns the production training parameters.
func DefaultGBDTParams() GBDTParams {
	return GBDTParams{
		Rounds:         100,
		LearningRate:   0.05,
		MaxLeaves:      31,
		MaxDepth:       5,
		MinSamplesLeaf: 20,
		Bins:           64,
		Lambda:         1,
		EarlyStopping:  10,

		FeatureFraction: 0.9,
		BaggingFraction: 0.8,
		BaggingFreq:     5,
		Seed:            42,
	}
}

func (p GBDTParams) validate() error {
	var errs []error
	if p.Rounds <= 0 {
		errs = append(errs, errors.New("rounds must be positive"))
	}
	if p.LearningRate <= 0 {
		errs = append(errs, errors.New("learning rate must be positive"))
	}
	if p.MaxLeaves < 2 {
		errs = append(errs, errors.New("max leaves must be at least 2"))
	}
	if p.Bins < 2 || p.Bins > 256 {
		errs = append(errs, errors.New("bins must be in [2, 256]"))
	}
	if p.FeatureFraction <= 0 || p.FeatureFraction > 1 {
		errs = append(errs, errors.New("feature fraction must be in (0, 1]"))
	}
	if p.BaggingFraction <= 0 || p.BaggingFraction > 1 {
		errs = append(errs, errors.New("bagging fraction must be in (0, 1]"))
	}
	if p.BaggingFreq < 0 {
		errs = append(errs, errors.New("bagging frequency must not be negative"))
	}
	return errors.Join(errs...)
}

// Node is one node of a regression tree. Leaves carry the already
// learning-rate-scaled output.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Leaf      bool    `json:"leaf"`
	Value     float64 `json:"value"`
}

// Tree is a flat binary regression tree rooted at Nodes[0].
type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t Tree) predict(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// GBDT is a boosted ensemble of regression trees under logistic loss.
type GBDT struct {
	NumFeatures int     `json:"num_features"`
	BaseScore   float64 `json:"base_score"` // log-odds
	Trees       []Tree  `json:"trees"`
}

// PredictProba implements [Classifier].
func (m *GBDT) PredictProba(x []float64) (float64, error) {
	if err := checkWidth(x, m.NumFeatures); err != nil {
		return 0, err
	}
	return sigmoid(m.margin(x)), nil
}

func (m *GBDT) margin(x []float64) float64 {
	s := m.BaseScore
	for _, t := range m.Trees {
		s += t.predict(x)
	}
	return s
}

func (m *GBDT) checkShape(width int) error {
	if m.NumFeatures != width {
		return fmt.Errorf("%w: gbdt trained on %d features, want %d", ErrMalformedArtifact, m.NumFeatures, width)
	}
	for ti, t := range m.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("%w: gbdt tree %d is empty", ErrMalformedArtifact, ti)
		}
		for i, n := range t.Nodes {
			if n.Leaf {
				continue
			}
			// Children always follow their parent, so a walk from the root
			// terminates.
			if n.Feature < 0 || n.Feature >= width ||
				n.Left <= i || n.Left >= len(t.Nodes) ||
				n.Right <= i || n.Right >= len(t.Nodes) {
				return fmt.Errorf("%w: gbdt tree %d node %d is out of range", ErrMalformedArtifact, ti, i)
			}
		}
	}
	return nil
}

// GBDTHistory records the per-round validation loss.
type GBDTHistory struct {
	ValidationLoss []float64
	BestRound      int // 1-based
}

// TrainGBDT fits a GBDT on (x, y) with early stopping on (xv, yv). When no
// validation set is given, every round is kept.
func TrainGBDT(ctx context.Context, x [][]float64, y []float64, xv [][]float64, yv []float64, p GBDTParams) (*GBDT, GBDTHistory, error) {
	var hist GBDTHistory
	if err := p.validate(); err != nil {
		return nil, hist, fmt.Errorf("gbdt params: %w", err)
	}
	if len(x) == 0 || len(x) != len(y) {
		return nil, hist, fmt.Errorf("gbdt: %d samples with %d labels", len(x), len(y))
	}

	width := len(x[0])
	edges := binEdges(x, p.Bins)
	binned := binMatrix(x, edges)

	m := &GBDT{NumFeatures: width, BaseScore: baseScore(y)}
	margin := make([]float64, len(x))
	for i := range margin {
		margin[i] = m.BaseScore
	}
	vmargin := make([]float64, len(xv))
	for i := range vmargin {
		vmargin[i] = m.BaseScore
	}

	grad := make([]float64, len(x))
	hess := make([]float64, len(x))
	best, bestLoss, stale := 0, math.Inf(1), 0

	rng := rand.New(rand.NewPCG(p.Seed, p.Seed+3))
	rows := sampleIndices(rng, len(x), 1)
	g := treeGrower{binned: binned, edges: edges, grad: grad, hess: hess, p: p}

	for round := 1; round <= p.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, hist, err
		}
		for i := range x {
			pr := sigmoid(margin[i])
			grad[i] = pr - y[i]
			hess[i] = math.Max(pr*(1-pr), 1e-16)
		}

		if p.BaggingFreq > 0 && p.BaggingFraction < 1 && (round-1)%p.BaggingFreq == 0 {
			rows = sampleIndices(rng, len(x), p.BaggingFraction)
		}
		g.features = sampleIndices(rng, width, p.FeatureFraction)

		tree := g.grow(rows)
		m.Trees = append(m.Trees, tree)
		for i := range x {
			margin[i] += tree.predict(x[i])
		}

		if len(xv) == 0 {
			best = round
			continue
		}
		for i := range xv {
			vmargin[i] += tree.predict(xv[i])
		}
		loss := logLossMargins(vmargin, yv)
		hist.ValidationLoss = append(hist.ValidationLoss, loss)
		if loss < bestLoss-1e-12 {
			best, bestLoss, stale = round, loss, 0
			continue
		}
		stale++
		if p.EarlyStopping > 0 && stale >= p.EarlyStopping {
			break
		}
	}

	m.Trees = m.Trees[:best]
	hist.BestRound = best
	return m, hist, nil
}

func baseScore(y []float64) float64 {
	var pos float64
	for _, v := range y {
		pos += v
	}
	mean := clampProb(pos / float64(len(y)))
	return math.Log(mean / (1 - mean))
}

// binEdges returns, per feature, ascending split candidates. A value x falls
// in bin b when edges[b-1] < x <= edges[b].
func binEdges(x [][]float64, bins int) [][]float64 {
	width := len(x[0])
	edges := make([][]float64, width)
	col := make([]float64, len(x))
	for f := 0; f < width; f++ {
		for i, row := range x {
			col[i] = row[f]
		}
		sort.Float64s(col)

		var uniq []float64
		for i, v := range col {
			if i == 0 || v != col[i-1] {
				uniq = append(uniq, v)
			}
		}

		var e []float64
		if len(uniq) <= bins {
			for i := 0; i+1 < len(uniq); i++ {
				e = append(e, (uniq[i]+uniq[i+1])/2)
			}
		} else {
			for k := 1; k < bins; k++ {
				v := col[k*len(col)/bins]
				if len(e) == 0 || v > e[len(e)-1] {
					e = append(e, v)
				}
			}
			if e[len(e)-1] >= col[len(col)-1] {
				e = e[:len(e)-1]
			}
		}
		edges[f] = e
	}
	return edges
}

func binMatrix(x [][]float64, edges [][]float64) [][]uint8 {
	out := make([][]uint8, len(x))
	for i, row := range x {
		b := make([]uint8, len(row))
		for f, v := range row {
			b[f] = uint8(sort.SearchFloat64s(edges[f], v))
		}
		out[i] = b
	}
	return out
}

type split struct {
	feature int
	bin     int
	gain    float64
}

type leafState struct {
	node    int
	depth   int
	samples []int
	g, h    float64
	best    split
}

// sampleIndices draws round(fraction*n) distinct indices in [0, n), at least
// one, in ascending order.
func sampleIndices(rng *rand.Rand, n int, fraction float64) []int {
	k := max(1, int(math.Round(fraction*float64(n))))
	if k >= n {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return all
	}
	out := rng.Perm(n)[:k]
	sort.Ints(out)
	return out
}

// treeGrower holds the per-round inputs of one tree.
type treeGrower struct {
	binned     [][]uint8
	edges      [][]float64
	grad, hess []float64
	features   []int
	p          GBDTParams
}

// grow grows a tree on rows leaf-wise, always splitting the leaf with the
// largest gain, until MaxLeaves is reached or no split improves the loss.
func (tg *treeGrower) grow(rows []int) Tree {
	t := Tree{Nodes: []Node{{Leaf: true}}}
	open := []*leafState{tg.newLeaf(0, 0, rows)}
	leaves := 1

	for leaves < tg.p.MaxLeaves {
		pick := -1
		for i, l := range open {
			if l.best.gain > 0 && (pick < 0 || l.best.gain > open[pick].best.gain) {
				pick = i
			}
		}
		if pick < 0 {
			break
		}
		l := open[pick]
		open = append(open[:pick], open[pick+1:]...)

		var left, right []int
		for _, i := range l.samples {
			if int(tg.binned[i][l.best.feature]) <= l.best.bin {
				left = append(left, i)
			} else {
				right = append(right, i)
			}
		}

		li, ri := len(t.Nodes), len(t.Nodes)+1
		t.Nodes = append(t.Nodes, Node{Leaf: true}, Node{Leaf: true})
		t.Nodes[l.node] = Node{
			Feature:   l.best.feature,
			Threshold: tg.edges[l.best.feature][l.best.bin],
			Left:      li,
			Right:     ri,
		}
		open = append(open,
			tg.newLeaf(li, l.depth+1, left),
			tg.newLeaf(ri, l.depth+1, right),
		)
		leaves++
	}

	for _, l := range open {
		t.Nodes[l.node] = Node{Leaf: true, Value: -l.g / (l.h + tg.p.Lambda) * tg.p.LearningRate}
	}
	return t
}

func (tg *treeGrower) newLeaf(node, depth int, samples []int) *leafState {
	l := &leafState{node: node, depth: depth, samples: samples}
	for _, i := range samples {
		l.g += tg.grad[i]
		l.h += tg.hess[i]
	}
	if (tg.p.MaxDepth > 0 && depth >= tg.p.MaxDepth) || len(samples) < 2*tg.p.MinSamplesLeaf {
		return l
	}
	l.best = tg.bestSplit(samples, l.g, l.h)
	return l
}

func (tg *treeGrower) bestSplit(samples []int, g, h float64) split {
	p := tg.p
	best := split{gain: 0}
	parent := g * g / (h + p.Lambda)

	for _, f := range tg.features {
		nb := len(tg.edges[f]) + 1
		if nb < 2 {
			continue
		}
		hg := make([]float64, nb)
		hh := make([]float64, nb)
		hc := make([]int, nb)
		for _, i := range samples {
			b := tg.binned[i][f]
			hg[b] += tg.grad[i]
			hh[b] += tg.hess[i]
			hc[b]++
		}

		var gl, hl float64
		var cl int
		for b := 0; b < nb-1; b++ {
			gl += hg[b]
			hl += hh[b]
			cl += hc[b]
			cr := len(samples) - cl
			if cl < p.MinSamplesLeaf {
				continue
			}
			if cr < p.MinSamplesLeaf {
				break
			}
			gr, hr := g-gl, h-hl
			gain := gl*gl/(hl+p.Lambda) + gr*gr/(hr+p.Lambda) - parent
			if gain > best.gain {
				best = split{feature: f, bin: b, gain: gain}
			}
		}
	}
	return best
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func clampProb(p float64) float64 {
	const eps = 1e-15
	return math.Min(math.Max(p, eps), 1-eps)
}

func logLossMargins(margins, y []float64) float64 {
	var loss float64
	for i, m := range margins {
		loss += bceLoss(sigmoid(m), y[i])
	}
	return loss / float64(len(margins))
}

func bceLoss(p, y float64) float64 {
	p = clampProb(p)
	return -(y*math.Log(p) + (1-y)*math.Log(1-p))
}
