// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/AleutianAI/MuleHunter/pkg/datatypes"
	"github.com/AleutianAI/MuleHunter/pkg/txgraph"
	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("store: not found")

// Key prefixes. Numeric parts are zero padded so lexical order matches
// numeric order.
const (
	prefixTx      = "tx:"
	prefixNode    = "node:"
	prefixEdge    = "edge:"
	prefixAnomaly = "anomaly:"
	prefixShap    = "shap:"
	prefixReason  = "reason:"
)

func txKey(t datatypes.Transaction) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixTx, t.CreatedAt.UnixNano(), t.ID))
}

func nodeKey(prefix string, id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefix, id))
}

func edgeKey(seq int) []byte {
	return []byte(fmt.Sprintf("%s%010d", prefixEdge, seq))
}

// Store is the backend's persistence layer.
//
// # Description
//
// Holds the transaction ledger, the imported account graph and the latest
// analytics results posted by the visual analytics pipeline. Analytics
// writes replace the previous run wholesale.
//
// # Thread Safety
//
// Safe for concurrent use; badger provides serialisable transactions.
type Store struct {
	db       *badger.DB
	inMemory bool
	gcStop   chan struct{}
	gcDone   chan struct{}
}

// Open opens or creates a store.
func Open(opts Options) (*Store, error) {
	db, err := openBadger(opts)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, inMemory: opts.InMemory}

	if opts.GCInterval > 0 && !opts.InMemory {
		ratio := opts.GCDiscardRatio
		if ratio <= 0 || ratio > 1 {
			ratio = 0.5
		}
		logger := opts.Logger
		if logger == nil {
			logger = slog.Default()
		}
		s.gcStop = make(chan struct{})
		s.gcDone = make(chan struct{})
		go gcLoop(db, opts.GCInterval, ratio, logger, s.gcStop, s.gcDone)
	}
	return s, nil
}

// OpenInMemory opens an ephemeral store.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryOptions())
}

// Close stops GC and closes the database.
func (s *Store) Close() error {
	if s.gcStop != nil {
		close(s.gcStop)
		<-s.gcDone
		s.gcStop = nil
	}
	return s.db.Close()
}

// =============================================================================
// Ledger
// =============================================================================

// SaveTransaction appends a ledger entry.
func (s *Store) SaveTransaction(ctx context.Context, t datatypes.Transaction) error {
	if t.ID == "" {
		return errors.New("store: transaction id is required")
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	return update(ctx, s.db, func(txn *badger.Txn) error {
		return setJSON(txn, txKey(t), t)
	})
}

// ListTransactions returns up to limit entries, newest first. limit <= 0
// returns everything.
func (s *Store) ListTransactions(ctx context.Context, limit int) ([]datatypes.Transaction, error) {
	return scan[datatypes.Transaction](ctx, s.db, prefixTx, true, limit)
}

// =============================================================================
// Account graph
// =============================================================================

// ReplaceGraph swaps the stored accounts and transfers for those in ds.
// Nodes with non-numeric IDs are skipped. Returns the counts written.
func (s *Store) ReplaceGraph(ctx context.Context, ds *txgraph.Dataset) (nodes, transfers int, err error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	if err := deletePrefix(ctx, s.db, wb, prefixNode); err != nil {
		return 0, 0, fmt.Errorf("clear nodes: %w", err)
	}
	if err := deletePrefix(ctx, s.db, wb, prefixEdge); err != nil {
		return 0, 0, fmt.Errorf("clear transfers: %w", err)
	}

	for _, n := range ds.Nodes {
		id, perr := strconv.ParseInt(n.ID, 10, 64)
		if perr != nil {
			slog.Warn("Skipping node with non-numeric id", "node_id", n.ID)
			continue
		}
		acct := datatypes.AccountNode{
			NodeID:         id,
			AccountAgeDays: n.AccountAgeDays,
			Balance:        n.Balance,
			InOutRatio:     n.InOutRatio,
			PageRank:       n.PageRank,
			TxVelocity:     n.TxVelocity,
			IsFraud:        n.IsFraud,
		}
		if err := batchJSON(wb, nodeKey(prefixNode, id), acct); err != nil {
			return 0, 0, err
		}
		nodes++
	}

	for _, e := range ds.Edges {
		src, serr := strconv.ParseInt(e.Source, 10, 64)
		dst, derr := strconv.ParseInt(e.Target, 10, 64)
		if serr != nil || derr != nil {
			continue
		}
		tr := datatypes.Transfer{Source: src, Target: dst, Amount: e.Amount}
		if err := batchJSON(wb, edgeKey(transfers), tr); err != nil {
			return 0, 0, err
		}
		transfers++
	}

	if err := wb.Flush(); err != nil {
		return 0, 0, fmt.Errorf("write graph: %w", err)
	}
	return nodes, transfers, nil
}

// Nodes returns every stored account ordered by id.
func (s *Store) Nodes(ctx context.Context) ([]datatypes.AccountNode, error) {
	return scan[datatypes.AccountNode](ctx, s.db, prefixNode, false, 0)
}

// Transfers returns every stored transfer in import order.
func (s *Store) Transfers(ctx context.Context) ([]datatypes.Transfer, error) {
	return scan[datatypes.Transfer](ctx, s.db, prefixEdge, false, 0)
}

// Node returns one account or ErrNotFound.
func (s *Store) Node(ctx context.Context, id int64) (datatypes.AccountNode, error) {
	var n datatypes.AccountNode
	err := view(ctx, s.db, func(txn *badger.Txn) error {
		return getJSON(txn, nodeKey(prefixNode, id), &n)
	})
	return n, err
}

// Dataset rebuilds a txgraph.Dataset from the stored graph.
func (s *Store) Dataset(ctx context.Context) (*txgraph.Dataset, error) {
	nodes, err := s.Nodes(ctx)
	if err != nil {
		return nil, err
	}
	transfers, err := s.Transfers(ctx)
	if err != nil {
		return nil, err
	}

	ds := &txgraph.Dataset{
		Nodes: make([]txgraph.Node, len(nodes)),
		Edges: make([]txgraph.Edge, len(transfers)),
	}
	for i, n := range nodes {
		ds.Nodes[i] = txgraph.Node{
			ID:             strconv.FormatInt(n.NodeID, 10),
			AccountAgeDays: n.AccountAgeDays,
			Balance:        n.Balance,
			InOutRatio:     n.InOutRatio,
			PageRank:       n.PageRank,
			TxVelocity:     n.TxVelocity,
			IsFraud:        n.IsFraud,
		}
	}
	for i, t := range transfers {
		ds.Edges[i] = txgraph.Edge{
			Source: strconv.FormatInt(t.Source, 10),
			Target: strconv.FormatInt(t.Target, 10),
			Amount: t.Amount,
		}
	}
	return ds, nil
}

// EnrichedNodes computes flow aggregates over the stored graph.
func (s *Store) EnrichedNodes(ctx context.Context) ([]datatypes.EnrichedNode, error) {
	ds, err := s.Dataset(ctx)
	if err != nil {
		return nil, err
	}
	return txgraph.Enrich(ds), nil
}

// =============================================================================
// Analytics results
// =============================================================================

// ReplaceAnomalyScores stores the latest pipeline scores.
func (s *Store) ReplaceAnomalyScores(ctx context.Context, scores []datatypes.AnomalyScore) error {
	return replaceAll(ctx, s.db, prefixAnomaly, scores, func(a datatypes.AnomalyScore) int64 { return a.NodeID })
}

// AnomalyScores returns the latest scores keyed by node id.
func (s *Store) AnomalyScores(ctx context.Context) (map[int64]datatypes.AnomalyScore, error) {
	list, err := scan[datatypes.AnomalyScore](ctx, s.db, prefixAnomaly, false, 0)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]datatypes.AnomalyScore, len(list))
	for _, a := range list {
		out[a.NodeID] = a
	}
	return out, nil
}

// AnomalyScore returns one node's score or ErrNotFound.
func (s *Store) AnomalyScore(ctx context.Context, id int64) (datatypes.AnomalyScore, error) {
	var a datatypes.AnomalyScore
	err := view(ctx, s.db, func(txn *badger.Txn) error {
		return getJSON(txn, nodeKey(prefixAnomaly, id), &a)
	})
	return a, err
}

// ReplaceShapExplanations stores the latest SHAP attributions.
func (s *Store) ReplaceShapExplanations(ctx context.Context, exps []datatypes.ShapExplanation) error {
	return replaceAll(ctx, s.db, prefixShap, exps, func(e datatypes.ShapExplanation) int64 { return e.NodeID })
}

// ShapExplanations returns the stored SHAP attributions ordered by node.
func (s *Store) ShapExplanations(ctx context.Context) ([]datatypes.ShapExplanation, error) {
	return scan[datatypes.ShapExplanation](ctx, s.db, prefixShap, false, 0)
}

// ReplaceFraudExplanations stores the latest human-readable reasons.
func (s *Store) ReplaceFraudExplanations(ctx context.Context, exps []datatypes.FraudExplanation) error {
	return replaceAll(ctx, s.db, prefixReason, exps, func(e datatypes.FraudExplanation) int64 { return e.NodeID })
}

// FraudExplanation returns one node's reasons or ErrNotFound.
func (s *Store) FraudExplanation(ctx context.Context, id int64) (datatypes.FraudExplanation, error) {
	var e datatypes.FraudExplanation
	err := view(ctx, s.db, func(txn *badger.Txn) error {
		return getJSON(txn, nodeKey(prefixReason, id), &e)
	})
	return e, err
}

// =============================================================================
// Helpers
// =============================================================================

func setJSON(txn *badger.Txn, key []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set(key, b)
}

func batchJSON(wb *badger.WriteBatch, key []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return wb.Set(key, b)
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

// scan decodes every value under prefix. reverse walks newest keys first.
func scan[T any](ctx context.Context, db *badger.DB, prefix string, reverse bool, limit int) ([]T, error) {
	out := make([]T, 0)
	err := view(ctx, db, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = reverse
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := []byte(prefix)
		if reverse {
			seek = append([]byte(prefix), 0xff)
		}
		for it.Seek(seek); it.ValidForPrefix([]byte(prefix)); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var v T
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &v)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, v)
		}
		return nil
	})
	return out, err
}

// deletePrefix queues deletes for every key under prefix. Later Sets on
// the same batch win.
func deletePrefix(ctx context.Context, db *badger.DB, wb *badger.WriteBatch, prefix string) error {
	var keys [][]byte
	err := view(ctx, db, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// replaceAll drops prefix and writes items keyed by id.
func replaceAll[T any](ctx context.Context, db *badger.DB, prefix string, items []T, id func(T) int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wb := db.NewWriteBatch()
	defer wb.Cancel()
	if err := deletePrefix(ctx, db, wb, prefix); err != nil {
		return fmt.Errorf("clear %s: %w", prefix, err)
	}
	for _, item := range items {
		if err := batchJSON(wb, nodeKey(prefix, id(item)), item); err != nil {
			return err
		}
	}
	return wb.Flush()
}
