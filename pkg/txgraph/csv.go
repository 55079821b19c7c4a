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
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// NodeColumns is the nodes.csv header.
var NodeColumns = []string{
	"node_id",
	"account_age_days",
	"balance",
	"in_out_ratio",
	"pagerank",
	"tx_velocity",
	"is_fraud",
}

// EdgeColumns is the transactions.csv header.
var EdgeColumns = []string{"source", "target", "amount"}

// WriteNodesCSV writes nodes in NodeColumns order.
func WriteNodesCSV(w io.Writer, nodes []Node) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(NodeColumns); err != nil {
		return err
	}
	for _, n := range nodes {
		rec := []string{
			n.ID,
			strconv.Itoa(n.AccountAgeDays),
			formatFloat(n.Balance),
			formatFloat(n.InOutRatio),
			formatFloat(n.PageRank),
			strconv.Itoa(n.TxVelocity),
			strconv.Itoa(n.IsFraud),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteEdgesCSV writes edges in EdgeColumns order.
func WriteEdgesCSV(w io.Writer, edges []Edge) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(EdgeColumns); err != nil {
		return err
	}
	for _, e := range edges {
		if err := cw.Write([]string{e.Source, e.Target, formatFloat(e.Amount)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadNodesCSV parses nodes.csv. Columns are matched by header name so the
// file may carry extra columns in any order; node_id is required and a
// missing attribute column reads as zero.
func ReadNodesCSV(r io.Reader) ([]Node, error) {
	header, rows, err := readAll(r)
	if err != nil {
		return nil, err
	}
	col, err := columnIndex(header, "node_id")
	if err != nil {
		return nil, err
	}

	nodes := make([]Node, 0, len(rows))
	for i, rec := range rows {
		line := i + 2
		n := Node{ID: strings.TrimSpace(rec[col["node_id"]])}
		if n.AccountAgeDays, err = intField(rec, col, "account_age_days"); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if n.Balance, err = floatField(rec, col, "balance"); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if n.InOutRatio, err = floatField(rec, col, "in_out_ratio"); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if n.PageRank, err = floatField(rec, col, "pagerank"); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if n.TxVelocity, err = intField(rec, col, "tx_velocity"); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if n.IsFraud, err = intField(rec, col, "is_fraud"); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// ReadEdgesCSV parses transactions.csv. A missing amount column reads as 0.
func ReadEdgesCSV(r io.Reader) ([]Edge, error) {
	header, rows, err := readAll(r)
	if err != nil {
		return nil, err
	}
	col, err := columnIndex(header, "source", "target")
	if err != nil {
		return nil, err
	}

	edges := make([]Edge, 0, len(rows))
	for i, rec := range rows {
		e := Edge{
			Source: strings.TrimSpace(rec[col["source"]]),
			Target: strings.TrimSpace(rec[col["target"]]),
		}
		if e.Amount, err = floatField(rec, col, "amount"); err != nil {
			return nil, fmt.Errorf("line %d: %w", i+2, err)
		}
		edges = append(edges, e)
	}
	return edges, nil
}

// SaveDataset writes nodes and edges to the given paths, creating parent
// directories. Files are written to a temp name and renamed into place so
// a concurrent reader never sees a partial file.
func SaveDataset(ds *Dataset, nodesPath, edgesPath string) error {
	if err := writeFileAtomic(nodesPath, func(w io.Writer) error {
		return WriteNodesCSV(w, ds.Nodes)
	}); err != nil {
		return fmt.Errorf("write nodes: %w", err)
	}
	if err := writeFileAtomic(edgesPath, func(w io.Writer) error {
		return WriteEdgesCSV(w, ds.Edges)
	}); err != nil {
		return fmt.Errorf("write edges: %w", err)
	}
	return nil
}

// LoadDataset reads nodes and edges from the given paths.
func LoadDataset(nodesPath, edgesPath string) (*Dataset, error) {
	nf, err := os.Open(nodesPath)
	if err != nil {
		return nil, fmt.Errorf("open nodes: %w", err)
	}
	defer nf.Close()
	nodes, err := ReadNodesCSV(nf)
	if err != nil {
		return nil, fmt.Errorf("read nodes %s: %w", nodesPath, err)
	}

	ef, err := os.Open(edgesPath)
	if err != nil {
		return nil, fmt.Errorf("open edges: %w", err)
	}
	defer ef.Close()
	edges, err := ReadEdgesCSV(ef)
	if err != nil {
		return nil, fmt.Errorf("read edges %s: %w", edgesPath, err)
	}

	ds := &Dataset{Nodes: nodes, Edges: edges}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

// WriteFileAtomic writes through fn to a temp file beside path and renames
// it over path.
func WriteFileAtomic(path string, fn func(io.Writer) error) error {
	return writeFileAtomic(path, fn)
}

func writeFileAtomic(path string, fn func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := fn(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func readAll(r io.Reader) ([]string, [][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return nil, nil, errors.New("empty csv: missing header")
	}
	header := records[0]
	rows := records[1:]
	for i, rec := range rows {
		if len(rec) != len(header) {
			return nil, nil, fmt.Errorf("line %d: expected %d fields, got %d", i+2, len(header), len(rec))
		}
	}
	return header, rows, nil
}

func columnIndex(header []string, required ...string) (map[string]int, error) {
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, name := range required {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("missing required column %q", name)
		}
	}
	return col, nil
}

func floatField(rec []string, col map[string]int, name string) (float64, error) {
	i, ok := col[name]
	if !ok {
		return 0, nil
	}
	s := strings.TrimSpace(rec[i])
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("column %s: %w", name, err)
	}
	return v, nil
}

// intField accepts "12" and pandas-style "12.0".
func intField(rec []string, col map[string]int, name string) (int, error) {
	v, err := floatField(rec, col, name)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
