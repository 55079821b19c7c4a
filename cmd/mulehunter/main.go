// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command mulehunter is the offline toolbox for the MuleHunter demo: it
// generates the synthetic dataset, trains and queries the risk model, runs
// the anomaly pipeline against the files on disk, and exports the graph to
// Neo4j.
//
// Configuration comes from mulehunter.yaml (see init-config) with
// MULEHUNTER_* environment overrides.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
