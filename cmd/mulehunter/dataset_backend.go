// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"

	"github.com/AleutianAI/MuleHunter/pkg/datatypes"
	"github.com/AleutianAI/MuleHunter/pkg/txgraph"
)

// datasetBackend feeds the analytics pipeline from a dataset on disk and
// discards what the pipeline posts back; the results reach the user through
// the run artifacts instead.
type datasetBackend struct {
	nodes []datatypes.EnrichedNode
}

func newDatasetBackend(ds *txgraph.Dataset) *datasetBackend {
	return &datasetBackend{nodes: txgraph.Enrich(ds)}
}

func (b *datasetBackend) EnrichedNodes(context.Context) ([]datatypes.EnrichedNode, error) {
	return b.nodes, nil
}

func (b *datasetBackend) PostAnomalyScores(context.Context, []datatypes.AnomalyScore) error {
	return nil
}

func (b *datasetBackend) PostShapExplanations(context.Context, []datatypes.ShapExplanation) error {
	return nil
}

func (b *datasetBackend) PostFraudExplanations(context.Context, []datatypes.FraudExplanation) error {
	return nil
}
