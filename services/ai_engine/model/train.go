// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// =============================================================================
// Feature scaling
// =============================================================================

// Scaler standardises feature columns with statistics from training data.
type Scaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// FitScaler computes per-column mean and population standard deviation.
// Constant columns get a unit std so they scale to zero.
func FitScaler(rows [][]float64) (*Scaler, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("cannot fit scaler on empty data")
	}
	width := len(rows[0])
	s := &Scaler{Mean: make([]float64, width), Std: make([]float64, width)}
	col := make([]float64, len(rows))
	n := float64(len(rows))
	for j := 0; j < width; j++ {
		for i, r := range rows {
			if len(r) != width {
				return nil, fmt.Errorf("row %d has %d features, want %d", i, len(r), width)
			}
			col[i] = r[j]
		}
		mean, variance := stat.MeanVariance(col, nil)
		// stat.MeanVariance is the unbiased estimator; convert to population.
		if len(rows) > 1 {
			variance *= (n - 1) / n
		} else {
			variance = 0
		}
		std := math.Sqrt(variance)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		s.Mean[j] = mean
		s.Std[j] = std
	}
	return s, nil
}

// TransformRow returns a standardised copy of row.
func (s *Scaler) TransformRow(row []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = (v - s.Mean[j]) / s.Std[j]
	}
	return out
}

// Transform returns a standardised n x width matrix.
func (s *Scaler) Transform(rows [][]float64) *mat.Dense {
	width := len(s.Mean)
	data := make([]float64, 0, len(rows)*width)
	for _, r := range rows {
		data = append(data, s.TransformRow(r)...)
	}
	return mat.NewDense(len(rows), width, data)
}

// =============================================================================
// Training
// =============================================================================

// TrainConfig controls Train.
type TrainConfig struct {
	// Hidden is the hidden layer width. Default: 16
	Hidden int
	// Epochs is the number of full-batch steps. Default: 100
	Epochs int
	// LearningRate is the Adam step size. Default: 0.01
	LearningRate float64
	// Seed initialises weights. Default: 42
	Seed uint64
	// Logger receives per-epoch progress at debug level.
	Logger *slog.Logger
}

func (c TrainConfig) withDefaults() TrainConfig {
	if c.Hidden == 0 {
		c.Hidden = 16
	}
	if c.Epochs == 0 {
		c.Epochs = 100
	}
	if c.LearningRate == 0 {
		c.LearningRate = 0.01
	}
	if c.Seed == 0 {
		c.Seed = 42
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// TrainReport summarises a training run.
type TrainReport struct {
	Epochs        int           `json:"epochs"`
	InitialLoss   float64       `json:"initial_loss"`
	FinalLoss     float64       `json:"final_loss"`
	TrainAccuracy float64       `json:"train_accuracy"`
	Nodes         int           `json:"nodes"`
	FraudNodes    int           `json:"fraud_nodes"`
	Duration      time.Duration `json:"duration_ns"`
}

// Train fits a new model on raw feature rows with binary labels.
//
// # Description
//
// Features are standardised with a Scaler fitted here and stored in the
// returned Model. Optimisation is full-batch Adam on mean NLL loss.
//
// # Outputs
//
//   - *Model: Trained network and scaler
//   - TrainReport: Loss and accuracy summary
//   - error: Invalid shapes, or ctx cancellation between epochs
func Train(ctx context.Context, rows [][]float64, adj *Adjacency, y []int, cfg TrainConfig) (*Model, TrainReport, error) {
	cfg = cfg.withDefaults()
	start := time.Now()

	if len(rows) != adj.N() {
		return nil, TrainReport{}, fmt.Errorf("feature rows %d != graph nodes %d", len(rows), adj.N())
	}
	scaler, err := FitScaler(rows)
	if err != nil {
		return nil, TrainReport{}, err
	}
	x := scaler.Transform(rows)

	net := NewMuleSAGE(len(scaler.Mean), cfg.Hidden, 2, cfg.Seed)
	opt := newAdam(net.params(), cfg.LearningRate)

	report := TrainReport{Epochs: cfg.Epochs, Nodes: len(rows)}
	for _, label := range y {
		report.FraudNodes += label
	}

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, report, fmt.Errorf("training cancelled at epoch %d: %w", epoch, err)
		}
		loss, grads, _, err := net.lossAndGrad(x, adj, y)
		if err != nil {
			return nil, report, err
		}
		if epoch == 0 {
			report.InitialLoss = loss
		}
		opt.step(net.params(), grads.flat())
		report.FinalLoss = loss

		if epoch%10 == 0 || epoch == cfg.Epochs-1 {
			cfg.Logger.Debug("training epoch", "epoch", epoch, "loss", loss)
		}
	}

	// Accuracy uses the weights after the final update.
	logp, err := net.Forward(x, adj)
	if err != nil {
		return nil, report, err
	}
	report.TrainAccuracy = accuracy(logp, y)
	report.Duration = time.Since(start)

	return &Model{
		Net:    net,
		Scaler: scaler,
		Meta: Metadata{
			TrainedAt:     time.Now().UTC(),
			Epochs:        cfg.Epochs,
			FinalLoss:     report.FinalLoss,
			TrainAccuracy: report.TrainAccuracy,
		},
	}, report, nil
}

func accuracy(logp *mat.Dense, y []int) float64 {
	n, _ := logp.Dims()
	if n == 0 {
		return 0
	}
	correct := 0
	for i := 0; i < n; i++ {
		if argmax(logp.RawRowView(i)) == y[i] {
			correct++
		}
	}
	return float64(correct) / float64(n)
}

func argmax(v []float64) int {
	best := 0
	for i := range v {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

// =============================================================================
// Adam
// =============================================================================

// adam implements the Adam optimiser with betas 0.9 and 0.999.
type adam struct {
	lr, beta1, beta2, eps float64
	t                     int
	m, v                  [][]float64
}

func newAdam(params [][]float64, lr float64) *adam {
	a := &adam{lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-8}
	a.m = make([][]float64, len(params))
	a.v = make([][]float64, len(params))
	for i, p := range params {
		a.m[i] = make([]float64, len(p))
		a.v[i] = make([]float64, len(p))
	}
	return a
}

func (a *adam) step(params, grads [][]float64) {
	a.t++
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))
	for p := range params {
		m, v, g, w := a.m[p], a.v[p], grads[p], params[p]
		for i := range w {
			m[i] = a.beta1*m[i] + (1-a.beta1)*g[i]
			v[i] = a.beta2*v[i] + (1-a.beta2)*g[i]*g[i]
			mHat := m[i] / c1
			vHat := v[i] / c2
			w[i] -= a.lr * mHat / (math.Sqrt(vHat) + a.eps)
		}
	}
}
