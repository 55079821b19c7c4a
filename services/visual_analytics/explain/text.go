// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package explain

import (
	"slices"

	"github.com/AleutianAI/MuleHunter/pkg/datatypes"
)

// MaxReasons is the number of reasons reported per node.
const MaxReasons = 3

// GenericReason is used when no feature pushes the score up.
const GenericReason = "Anomalous combination of transaction features"

var featureReasons = map[string]string{
	"in_degree":      "Unusually many incoming transfers (possible fan-in collection)",
	"out_degree":     "Unusually many outgoing transfers (possible fan-out dispersal)",
	"total_incoming": "Large volume of incoming funds",
	"total_outgoing": "Large volume of outgoing funds",
	"risk_ratio":     "Money leaves the account much faster than it arrives",
}

// GenerateHumanExplanations converts SHAP explanations to reasons: the
// sentences for the top positive contributors, largest first.
func GenerateHumanExplanations(exps []datatypes.ShapExplanation) []datatypes.FraudExplanation {
	out := make([]datatypes.FraudExplanation, 0, len(exps))
	for _, e := range exps {
		out = append(out, datatypes.FraudExplanation{NodeID: e.NodeID, Reasons: reasons(e.Contributions)})
	}
	return out
}

func reasons(contribs []datatypes.FeatureContribution) []string {
	positive := make([]datatypes.FeatureContribution, 0, len(contribs))
	for _, c := range contribs {
		if _, ok := featureReasons[c.Feature]; ok && c.ShapValue > 0 {
			positive = append(positive, c)
		}
	}
	slices.SortStableFunc(positive, func(a, b datatypes.FeatureContribution) int {
		switch {
		case a.ShapValue > b.ShapValue:
			return -1
		case a.ShapValue < b.ShapValue:
			return 1
		}
		return 0
	})
	if len(positive) == 0 {
		return []string{GenericReason}
	}
	out := make([]string, 0, MaxReasons)
	for _, c := range positive[:min(MaxReasons, len(positive))] {
		out = append(out, featureReasons[c.Feature])
	}
	return out
}
