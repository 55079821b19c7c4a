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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"time"

	"github.com/AleutianAI/MuleHunter/pkg/datatypes"
	"github.com/AleutianAI/MuleHunter/pkg/txgraph"
	"gonum.org/v1/gonum/mat"
)

// ErrIncompatibleArtifact means the artifact was trained on a different
// feature layout than this build serves.
var ErrIncompatibleArtifact = errors.New("incompatible model artifact")

// Metadata describes how a model was produced.
type Metadata struct {
	TrainedAt     time.Time `json:"trained_at"`
	Epochs        int       `json:"epochs"`
	FinalLoss     float64   `json:"final_loss"`
	TrainAccuracy float64   `json:"train_accuracy"`
}

// Model bundles the network with the scaler its inputs need.
type Model struct {
	Net    *MuleSAGE
	Scaler *Scaler
	Meta   Metadata
}

// Probabilities returns P(mule) for every node given standardised
// features x.
func (m *Model) Probabilities(x *mat.Dense, adj *Adjacency) ([]float64, error) {
	logp, err := m.Net.Forward(x, adj)
	if err != nil {
		return nil, err
	}
	n, _ := logp.Dims()
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Exp(logp.At(i, 1))
	}
	return out, nil
}

// =============================================================================
// Artifact encoding
// =============================================================================

type layerJSON struct {
	In     int       `json:"in"`
	Out    int       `json:"out"`
	WNeigh []float64 `json:"w_neigh"`
	WRoot  []float64 `json:"w_root"`
	Bias   []float64 `json:"bias"`
}

type artifactJSON struct {
	Version        string    `json:"version"`
	FeatureColumns []string  `json:"feature_columns"`
	Scaler         *Scaler   `json:"scaler"`
	Conv1          layerJSON `json:"conv1"`
	Conv2          layerJSON `json:"conv2"`
	Meta           Metadata  `json:"meta"`
}

func encodeLayer(l *SAGEConv) layerJSON {
	in, out := l.dims()
	return layerJSON{
		In:     in,
		Out:    out,
		WNeigh: slices.Clone(l.WNeigh.RawMatrix().Data),
		WRoot:  slices.Clone(l.WRoot.RawMatrix().Data),
		Bias:   slices.Clone(l.Bias),
	}
}

func decodeLayer(name string, j layerJSON) (*SAGEConv, error) {
	size := j.In * j.Out
	if j.In <= 0 || j.Out <= 0 || len(j.WNeigh) != size || len(j.WRoot) != size || len(j.Bias) != j.Out {
		return nil, fmt.Errorf("%w: layer %s has inconsistent shape", ErrIncompatibleArtifact, name)
	}
	return &SAGEConv{
		WNeigh: mat.NewDense(j.In, j.Out, j.WNeigh),
		WRoot:  mat.NewDense(j.In, j.Out, j.WRoot),
		Bias:   j.Bias,
	}, nil
}

// Encode writes the model as JSON.
func (m *Model) Encode(w io.Writer) error {
	a := artifactJSON{
		Version:        datatypes.ModelVersion,
		FeatureColumns: txgraph.FeatureColumns,
		Scaler:         m.Scaler,
		Conv1:          encodeLayer(m.Net.Conv1),
		Conv2:          encodeLayer(m.Net.Conv2),
		Meta:           m.Meta,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(a)
}

// Decode reads a model written by Encode and checks it against the
// served feature layout.
func Decode(r io.Reader) (*Model, error) {
	var a artifactJSON
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return nil, fmt.Errorf("decode model artifact: %w", err)
	}
	if !slices.Equal(a.FeatureColumns, txgraph.FeatureColumns) {
		return nil, fmt.Errorf("%w: feature columns %v", ErrIncompatibleArtifact, a.FeatureColumns)
	}
	if a.Scaler == nil || len(a.Scaler.Mean) != txgraph.NumFeatures || len(a.Scaler.Std) != txgraph.NumFeatures {
		return nil, fmt.Errorf("%w: scaler missing or wrong width", ErrIncompatibleArtifact)
	}
	conv1, err := decodeLayer("conv1", a.Conv1)
	if err != nil {
		return nil, err
	}
	conv2, err := decodeLayer("conv2", a.Conv2)
	if err != nil {
		return nil, err
	}
	if a.Conv1.In != txgraph.NumFeatures || a.Conv1.Out != a.Conv2.In || a.Conv2.Out != 2 {
		return nil, fmt.Errorf("%w: layer dimensions %dx%d -> %dx%d",
			ErrIncompatibleArtifact, a.Conv1.In, a.Conv1.Out, a.Conv2.In, a.Conv2.Out)
	}
	return &Model{
		Net:    &MuleSAGE{Conv1: conv1, Conv2: conv2},
		Scaler: a.Scaler,
		Meta:   a.Meta,
	}, nil
}

// Save writes the artifact to path atomically.
func (m *Model) Save(path string) error {
	return txgraph.WriteFileAtomic(path, m.Encode)
}

// Load reads an artifact from path.
func Load(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}
