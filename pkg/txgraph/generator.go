// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package txgraph

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"

	"gonum.org/v1/gonum/graph/network"
	"gonum.org/v1/gonum/graph/simple"
)

// GeneratorConfig controls synthetic graph generation.
type GeneratorConfig struct {
	// Users is the number of accounts. Default: 2000
	Users int
	// AttachEdges is the Barabási–Albert m parameter. Default: 2
	AttachEdges int
	// Rings is the number of injected mule rings. Default: 50
	Rings int
	// FanInMin and FanInMax bound victims drawn per ring. Default: 10, 20
	FanInMin int
	FanInMax int
	// Seed makes generation reproducible. Default: 42
	Seed uint64
}

// DefaultGeneratorConfig returns the demo population settings.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Users:       2000,
		AttachEdges: 2,
		Rings:       50,
		FanInMin:    10,
		FanInMax:    20,
		Seed:        42,
	}
}

func (c GeneratorConfig) withDefaults() GeneratorConfig {
	d := DefaultGeneratorConfig()
	if c.Users == 0 {
		c.Users = d.Users
	}
	if c.AttachEdges == 0 {
		c.AttachEdges = d.AttachEdges
	}
	if c.FanInMin == 0 && c.FanInMax == 0 {
		c.FanInMin, c.FanInMax = d.FanInMin, d.FanInMax
	}
	return c
}

// Summary describes a generated dataset.
type Summary struct {
	Nodes      int `json:"nodes"`
	Edges      int `json:"edges"`
	FraudNodes int `json:"fraud_nodes"`
	Rings      int `json:"rings"`
}

// Amount ranges, inclusive.
const (
	baseAmountMin   = 100
	baseAmountMax   = 5000
	muleAmountMin   = 50000
	muleAmountMax   = 100000
	victimAmountMin = 500
	victimAmountMax = 2000
	minAccountAge   = 30
	maxAccountAge   = 3650
	pageRankDamping = 0.85
	pageRankTol     = 1e-6
)

// Generate builds a scale-free transfer graph and injects mule rings.
//
// # Description
//
//  1. Barabási–Albert preferential attachment over Users nodes.
//  2. Each undirected edge is given a random direction.
//  3. Each ring marks a mule and a distinct criminal as fraud, adds a
//     large mule->criminal transfer, and adds a fan-in of small
//     victim->mule transfers from non-fraud accounts.
//  4. PageRank is computed over the directed graph and the remaining
//     attributes are drawn.
//
// A repeated (source, target) pair overwrites the earlier amount, so the
// result has at most one edge per ordered pair.
//
// # Limitations
//
//   - Users must exceed AttachEdges; rings need at least two users.
func Generate(cfg GeneratorConfig) (*Dataset, Summary, error) {
	cfg = cfg.withDefaults()
	if cfg.AttachEdges < 1 || cfg.Users <= cfg.AttachEdges {
		return nil, Summary{}, fmt.Errorf("invalid graph size: users=%d attach_edges=%d", cfg.Users, cfg.AttachEdges)
	}
	if cfg.Rings < 0 || cfg.FanInMin < 0 || cfg.FanInMax < cfg.FanInMin {
		return nil, Summary{}, fmt.Errorf("invalid ring settings: rings=%d fan_in=[%d,%d]", cfg.Rings, cfg.FanInMin, cfg.FanInMax)
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	n := cfg.Users

	undirected := barabasiAlbert(rng, n, cfg.AttachEdges)

	b := newEdgeBuilder()
	for _, e := range undirected {
		u, v := e[0], e[1]
		if rng.Float64() > 0.5 {
			u, v = v, u
		}
		b.set(u, v, float64(randInt(rng, baseAmountMin, baseAmountMax)))
	}

	fraud := make([]int, n)
	age := make([]int, n)
	for i := range age {
		age[i] = randInt(rng, minAccountAge, maxAccountAge)
	}

	for r := 0; r < cfg.Rings; r++ {
		mule := rng.IntN(n)
		criminal := rng.IntN(n)
		for criminal == mule {
			criminal = rng.IntN(n)
		}
		fraud[mule] = 1
		fraud[criminal] = 1
		b.set(mule, criminal, float64(randInt(rng, muleAmountMin, muleAmountMax)))

		victims := randInt(rng, cfg.FanInMin, cfg.FanInMax)
		for v := 0; v < victims; v++ {
			victim := rng.IntN(n)
			if fraud[victim] == 0 {
				b.set(victim, mule, float64(randInt(rng, victimAmountMin, victimAmountMax)))
			}
		}
	}

	pr := pageRank(n, b)

	ds := &Dataset{
		Nodes: make([]Node, n),
		Edges: make([]Edge, 0, len(b.edges)),
	}
	for i := 0; i < n; i++ {
		ds.Nodes[i] = Node{
			ID:             strconv.Itoa(i),
			AccountAgeDays: age[i],
			Balance:        round2(uniform(rng, 100, 50000)),
			InOutRatio:     round2(uniform(rng, 0.1, 2.0)),
			PageRank:       pr[i],
			TxVelocity:     randInt(rng, 0, 100),
			IsFraud:        fraud[i],
		}
	}
	for _, e := range b.edges {
		ds.Edges = append(ds.Edges, Edge{
			Source: strconv.Itoa(e.src),
			Target: strconv.Itoa(e.dst),
			Amount: e.amount,
		})
	}

	return ds, Summary{
		Nodes:      n,
		Edges:      len(ds.Edges),
		FraudNodes: ds.FraudCount(),
		Rings:      cfg.Rings,
	}, nil
}

// barabasiAlbert returns the undirected edge list of a preferential
// attachment graph. It starts from a star on m+1 nodes; each new node
// attaches to m distinct targets drawn proportionally to degree.
func barabasiAlbert(rng *rand.Rand, n, m int) [][2]int {
	edges := make([][2]int, 0, (n-m)*m)
	repeated := make([]int, 0, 2*(n-m)*m)
	for i := 1; i <= m; i++ {
		edges = append(edges, [2]int{0, i})
		repeated = append(repeated, 0, i)
	}

	chosen := make(map[int]struct{}, m)
	targets := make([]int, 0, m)
	for source := m + 1; source < n; source++ {
		clear(chosen)
		targets = targets[:0]
		for len(targets) < m {
			t := repeated[rng.IntN(len(repeated))]
			if _, dup := chosen[t]; dup {
				continue
			}
			chosen[t] = struct{}{}
			targets = append(targets, t)
		}
		for _, t := range targets {
			edges = append(edges, [2]int{source, t})
			repeated = append(repeated, t, source)
		}
	}
	return edges
}

type builtEdge struct {
	src, dst int
	amount   float64
}

// edgeBuilder keeps insertion order and overwrites repeated pairs.
type edgeBuilder struct {
	edges []builtEdge
	pos   map[[2]int]int
}

func newEdgeBuilder() *edgeBuilder {
	return &edgeBuilder{pos: make(map[[2]int]int)}
}

func (b *edgeBuilder) set(src, dst int, amount float64) {
	key := [2]int{src, dst}
	if i, ok := b.pos[key]; ok {
		b.edges[i].amount = amount
		return
	}
	b.pos[key] = len(b.edges)
	b.edges = append(b.edges, builtEdge{src: src, dst: dst, amount: amount})
}

func pageRank(n int, b *edgeBuilder) []float64 {
	g := simple.NewDirectedGraph()
	for i := 0; i < n; i++ {
		g.AddNode(simple.Node(int64(i)))
	}
	for _, e := range b.edges {
		if e.src == e.dst {
			continue
		}
		g.SetEdge(g.NewEdge(simple.Node(int64(e.src)), simple.Node(int64(e.dst))))
	}
	ranks := network.PageRankSparse(g, pageRankDamping, pageRankTol)
	out := make([]float64, n)
	var sum float64
	for id, r := range ranks {
		out[id] = r
		sum += r
	}
	// Ranks are reported as a probability distribution.
	if sum > 0 {
		for i := range out {
			out[i] /= sum
		}
	}
	return out
}

func randInt(rng *rand.Rand, lo, hi int) int {
	return lo + rng.IntN(hi-lo+1)
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
