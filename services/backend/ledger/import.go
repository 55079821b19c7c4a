// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ledger

import (
	"context"
	"fmt"

	"github.com/AleutianAI/MuleHunter/pkg/config"
	"github.com/AleutianAI/MuleHunter/pkg/txgraph"
)

// GraphImporter replaces the stored account graph. *store.Store implements it.
type GraphImporter interface {
	ReplaceGraph(ctx context.Context, ds *txgraph.Dataset) (nodes, transfers int, err error)
}

// ImportResult reports what an import wrote.
type ImportResult struct {
	Nodes     int `json:"nodes"`
	Transfers int `json:"transfers"`
}

// ImportGraph loads nodes.csv and transactions.csv from the shared data
// directory into repo.
func ImportGraph(ctx context.Context, repo GraphImporter, paths config.Paths) (ImportResult, error) {
	ds, err := txgraph.LoadDataset(paths.Nodes, paths.Edges)
	if err != nil {
		return ImportResult{}, fmt.Errorf("load shared dataset: %w", err)
	}
	nodes, transfers, err := repo.ReplaceGraph(ctx, ds)
	if err != nil {
		return ImportResult{}, fmt.Errorf("store graph: %w", err)
	}
	return ImportResult{Nodes: nodes, Transfers: transfers}, nil
}
