// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/AleutianAI/MuleHunter/pkg/datatypes"
	"github.com/AleutianAI/MuleHunter/services/backend/store"
	"github.com/gin-gonic/gin"
)

// GetGraph returns the control tower view: every account coloured by its
// latest anomaly verdict, and the transfers between known accounts.
func GetGraph(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "GetGraph.Handler")
		defer span.End()

		nodes, err := st.Nodes(ctx)
		if err != nil {
			graphError(c, err)
			return
		}
		transfers, err := st.Transfers(ctx)
		if err != nil {
			graphError(c, err)
			return
		}
		scores, err := st.AnomalyScores(ctx)
		if err != nil {
			graphError(c, err)
			return
		}

		view := datatypes.GraphView{
			Nodes: make([]datatypes.GraphNode, 0, len(nodes)),
			Links: make([]datatypes.GraphLink, 0, len(transfers)),
		}
		known := make(map[int64]struct{}, len(nodes))
		for _, n := range nodes {
			known[n.NodeID] = struct{}{}
			score := scores[n.NodeID]
			color := datatypes.ColorNormal
			if score.IsAnomalous {
				color = datatypes.ColorAnomalous
			}
			view.Nodes = append(view.Nodes, datatypes.GraphNode{
				ID:           n.NodeID,
				Color:        color,
				IsAnomalous:  score.IsAnomalous,
				AnomalyScore: score.AnomalyScore,
				IsFraud:      n.IsFraud,
			})
		}
		for _, t := range transfers {
			_, okS := known[t.Source]
			_, okT := known[t.Target]
			if okS && okT {
				view.Links = append(view.Links, datatypes.GraphLink{Source: t.Source, Target: t.Target, Amount: t.Amount})
			}
		}
		c.JSON(http.StatusOK, view)
	}
}

// GetNode returns one account merged with its flow aggregates, anomaly
// score and human-readable reasons.
func GetNode(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Node not found"})
			return
		}

		node, err := st.Node(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Node not found"})
			return
		}
		if err != nil {
			graphError(c, err)
			return
		}

		detail := datatypes.NodeDetail{AccountNode: node, Reasons: []string{}}

		enriched, err := st.EnrichedNodes(ctx)
		if err != nil {
			graphError(c, err)
			return
		}
		for _, e := range enriched {
			if e.NodeID == id {
				detail.InDegree = e.InDegree
				detail.OutDegree = e.OutDegree
				detail.RiskRatio = datatypes.Round(e.RiskRatio, 4)
				break
			}
		}

		if score, err := st.AnomalyScore(ctx, id); err == nil {
			detail.AnomalyScore = score.AnomalyScore
			detail.IsAnomalous = score.IsAnomalous
		} else if !errors.Is(err, store.ErrNotFound) {
			graphError(c, err)
			return
		}
		if exp, err := st.FraudExplanation(ctx, id); err == nil {
			detail.Reasons = exp.Reasons
		} else if !errors.Is(err, store.ErrNotFound) {
			graphError(c, err)
			return
		}

		c.JSON(http.StatusOK, detail)
	}
}

func graphError(c *gin.Context, err error) {
	slog.Error("Graph store read failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read graph"})
}
