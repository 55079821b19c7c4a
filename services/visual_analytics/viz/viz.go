// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package viz shapes scored nodes for the 3D graph view.
package viz

import (
	"math"

	"github.com/AleutianAI/MuleHunter/pkg/datatypes"
)

// Node colours.
const (
	ColorAnomalous = "red"
	ColorNormal    = "green"
)

// HeightScale converts an anomaly score to a bar height.
const HeightScale = 10

// PrepareViz returns one render record per node. Nodes with a positive
// anomaly score are red; size grows with the square root of total flow.
func PrepareViz(nodes []datatypes.ScoredNode) []datatypes.VizNode {
	out := make([]datatypes.VizNode, len(nodes))
	for i, n := range nodes {
		color := ColorNormal
		if n.AnomalyScore > 0 {
			color = ColorAnomalous
		}
		out[i] = datatypes.VizNode{
			NodeID:      n.NodeID,
			Color:       color,
			Size:        math.Sqrt(max(n.TotalIncoming+n.TotalOutgoing, 0)),
			Height:      n.AnomalyScore * HeightScale,
			IsAnomalous: n.IsAnomalous,
		}
	}
	return out
}
