// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package artifactstore publishes the shared data directory to Google
// Cloud Storage so a dataset, model and analytics run can be shared
// between demo environments.
package artifactstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/AleutianAI/MuleHunter/pkg/config"
	"github.com/AleutianAI/MuleHunter/pkg/validation"
	"google.golang.org/api/option"
)

// Uploader stores one object.
type Uploader interface {
	Upload(ctx context.Context, object, contentType string, r io.Reader) error
}

// GCSConfig locates the bucket. An empty CredentialsFile uses application
// default credentials.
type GCSConfig struct {
	Bucket          string
	CredentialsFile string
}

// GCS uploads to a single bucket.
type GCS struct {
	client *storage.Client
	bucket string
}

// NewGCS creates a storage client for cfg.Bucket.
func NewGCS(ctx context.Context, cfg GCSConfig) (*GCS, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	if err := validation.ValidateBucketName(cfg.Bucket); err != nil {
		return nil, err
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("service account key not found at path: %s: %w", cfg.CredentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCS{client: client, bucket: cfg.Bucket}, nil
}

// Upload streams r into the object.
func (g *GCS) Upload(ctx context.Context, object, contentType string, r io.Reader) error {
	w := g.client.Bucket(g.bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "no-cache, no-store, must-revalidate"
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to copy to GCS object %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", object, err)
	}
	return nil
}

// Close releases the client.
func (g *GCS) Close() error {
	return g.client.Close()
}

// Result lists what Publish uploaded and skipped.
type Result struct {
	Uploaded []string `json:"uploaded"`
	Missing  []string `json:"missing"`
}

// Publish uploads every artifact of paths that exists on disk under
// prefix, which must pass validation.SanitizeObjectPrefix. Missing files are reported, not treated as errors; the first
// failed upload stops the run.
func Publish(ctx context.Context, up Uploader, paths config.Paths, prefix string, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var res Result
	prefix, err := validation.SanitizeObjectPrefix(prefix)
	if err != nil {
		return res, err
	}
	for _, local := range artifactFiles(paths) {
		name := filepath.Base(local)
		f, err := os.Open(local)
		if errors.Is(err, fs.ErrNotExist) {
			res.Missing = append(res.Missing, name)
			continue
		}
		if err != nil {
			return res, err
		}
		object := path.Join(prefix, name)
		err = up.Upload(ctx, object, contentType(name), f)
		f.Close()
		if err != nil {
			return res, err
		}
		logger.Info("Uploaded artifact", "file", local, "object", object)
		res.Uploaded = append(res.Uploaded, object)
	}
	return res, nil
}

func artifactFiles(p config.Paths) []string {
	return []string{
		p.Nodes,
		p.Edges,
		p.Model,
		p.AnomalyScores,
		p.NodesScored,
		p.Viz,
		p.ShapExplanations,
		p.FraudExplanations,
	}
}

func contentType(name string) string {
	switch filepath.Ext(name) {
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
