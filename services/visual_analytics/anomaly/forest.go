// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package anomaly

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

const eulerGamma = 0.5772156649

// DefaultMaxSamples caps the sub-sample each tree is grown on.
const DefaultMaxSamples = 256

// ForestConfig controls FitForest.
type ForestConfig struct {
	// Estimators is the number of trees. Default: 200
	Estimators int
	// MaxSamples is the per-tree sub-sample size, capped at the row
	// count. Default: 256
	MaxSamples int
	// Contamination is the expected anomaly fraction and sets the
	// decision threshold. Default: 0.03
	Contamination float64
	// Seed makes the forest reproducible. Tree i uses Seed+i. Default: 42
	Seed uint64
	// Workers bounds parallel tree construction. Default: GOMAXPROCS
	Workers int
}

func (c ForestConfig) withDefaults() ForestConfig {
	if c.Estimators == 0 {
		c.Estimators = 200
	}
	if c.MaxSamples == 0 {
		c.MaxSamples = DefaultMaxSamples
	}
	if c.Contamination == 0 {
		c.Contamination = 0.03
	}
	if c.Seed == 0 {
		c.Seed = 42
	}
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	return c
}

// IsolationForest is a fitted ensemble of random isolation trees.
//
// # Description
//
// Each tree is grown on a sub-sample drawn without replacement, splitting
// on a random non-constant feature at a uniform threshold between the
// node's min and max, down to ceil(log2(samples)) levels. A point's score
// is -2^(-E[h(x)]/c(samples)), so values near -1 are anomalous and values
// near -0.5 are not. Offset is the contamination percentile of the
// training scores.
//
// # Thread Safety
//
// Immutable after FitForest; safe for concurrent scoring.
type IsolationForest struct {
	trees      []*isoTree
	maxSamples int
	offset     float64
}

// FitForest grows the forest on x and calibrates its offset.
func FitForest(ctx context.Context, x *mat.Dense, cfg ForestConfig) (*IsolationForest, error) {
	cfg = cfg.withDefaults()
	n, _ := x.Dims()
	if n == 0 {
		return nil, fmt.Errorf("cannot fit isolation forest on empty data")
	}
	if cfg.Contamination <= 0 || cfg.Contamination > 0.5 {
		return nil, fmt.Errorf("contamination must be in (0, 0.5], got %v", cfg.Contamination)
	}

	psi := min(cfg.MaxSamples, n)
	maxDepth := int(math.Ceil(math.Log2(float64(max(psi, 2)))))

	f := &IsolationForest{
		trees:      make([]*isoTree, cfg.Estimators),
		maxSamples: psi,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i := range f.trees {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			seed := cfg.Seed + uint64(i)
			rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
			f.trees[i] = growTree(rng, x, sampleWithoutReplacement(rng, n, psi), maxDepth)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("grow isolation trees: %w", err)
	}

	scores := f.ScoreSamples(x)
	f.offset = Percentile(scores, 100*cfg.Contamination)
	return f, nil
}

// Offset is the decision threshold on ScoreSamples.
func (f *IsolationForest) Offset() float64 {
	return f.offset
}

// ScoreSamples returns the raw score of every row. Lower is more anomalous.
func (f *IsolationForest) ScoreSamples(x *mat.Dense) []float64 {
	n, _ := x.Dims()
	out := make([]float64, n)
	for i := range out {
		out[i] = f.Score(x.RawRowView(i))
	}
	return out
}

// Score returns the raw score of one row.
func (f *IsolationForest) Score(row []float64) float64 {
	var depth float64
	for _, t := range f.trees {
		depth += t.pathLength(row)
	}
	mean := depth / float64(len(f.trees))
	return -math.Pow(2, -mean/averagePathLength(f.maxSamples))
}

// DecisionFunction returns Score(row) - Offset. Negative values are
// anomalies.
func (f *IsolationForest) DecisionFunction(row []float64) float64 {
	return f.Score(row) - f.offset
}

// Predict returns -1 for anomalies and 1 otherwise.
func (f *IsolationForest) Predict(row []float64) int {
	if f.DecisionFunction(row) < 0 {
		return -1
	}
	return 1
}

// averagePathLength is c(n), the mean unsuccessful search depth in a
// binary search tree of n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

// Percentile returns the p-th percentile of v with linear interpolation
// between closest ranks.
func Percentile(v []float64, p float64) float64 {
	if len(v) == 0 {
		return math.NaN()
	}
	sorted := slices.Clone(v)
	slices.Sort(sorted)
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	if lo < 0 {
		return sorted[0]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// sampleWithoutReplacement returns k distinct indices in [0, n) via a
// partial Fisher-Yates shuffle.
func sampleWithoutReplacement(rng *rand.Rand, n, k int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	for i := 0; i < k; i++ {
		j := i + rng.IntN(n-i)
		idx[i], idx[j] = idx[j], idx[i]
	}
	return idx[:k]
}

// =============================================================================
// Isolation tree
// =============================================================================

type isoNode struct {
	feature     int
	threshold   float64
	left, right int
	// size is the sample count at a leaf; -1 marks an internal node.
	size int
}

type isoTree struct {
	nodes []isoNode
}

func growTree(rng *rand.Rand, x *mat.Dense, rows []int, maxDepth int) *isoTree {
	_, width := x.Dims()
	t := &isoTree{nodes: make([]isoNode, 0, 2*len(rows))}
	lo := make([]float64, width)
	hi := make([]float64, width)
	candidates := make([]int, 0, width)

	var build func(rows []int, depth int) int
	build = func(rows []int, depth int) int {
		id := len(t.nodes)
		t.nodes = append(t.nodes, isoNode{size: len(rows)})
		if depth >= maxDepth || len(rows) <= 1 {
			return id
		}

		for j := 0; j < width; j++ {
			lo[j], hi[j] = math.Inf(1), math.Inf(-1)
		}
		for _, r := range rows {
			for j, v := range x.RawRowView(r) {
				lo[j] = min(lo[j], v)
				hi[j] = max(hi[j], v)
			}
		}
		candidates = candidates[:0]
		for j := 0; j < width; j++ {
			if hi[j] > lo[j] {
				candidates = append(candidates, j)
			}
		}
		if len(candidates) == 0 {
			return id
		}

		feature := candidates[rng.IntN(len(candidates))]
		threshold := lo[feature] + rng.Float64()*(hi[feature]-lo[feature])
		if threshold >= hi[feature] {
			threshold = lo[feature]
		}

		// Partition in place: rows <= threshold first.
		split := 0
		for i, r := range rows {
			if x.At(r, feature) <= threshold {
				rows[i], rows[split] = rows[split], rows[i]
				split++
			}
		}

		left := build(rows[:split], depth+1)
		right := build(rows[split:], depth+1)
		t.nodes[id] = isoNode{feature: feature, threshold: threshold, left: left, right: right, size: -1}
		return id
	}
	build(rows, 0)
	return t
}

func (t *isoTree) pathLength(row []float64) float64 {
	depth := 0
	i := 0
	for {
		n := t.nodes[i]
		if n.size >= 0 {
			return float64(depth) + averagePathLength(n.size)
		}
		if row[n.feature] <= n.threshold {
			i = n.left
		} else {
			i = n.right
		}
		depth++
	}
}
