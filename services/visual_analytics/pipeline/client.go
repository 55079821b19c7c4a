// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline runs the visual analytics pass against the backend:
// fetch enriched nodes, detect anomalies, explain them, and publish the
// results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/MuleHunter/pkg/datatypes"
	"github.com/AleutianAI/MuleHunter/pkg/extensions"
	"github.com/go-resty/resty/v2"
)

// DefaultBackendTimeout bounds each backend call.
const DefaultBackendTimeout = 30 * time.Second

// ErrBackend wraps transport failures and non-2xx backend responses.
var ErrBackend = errors.New("backend request failed")

// Backend is the part of the backend API the pipeline uses.
// *BackendClient implements it.
type Backend interface {
	EnrichedNodes(ctx context.Context) ([]datatypes.EnrichedNode, error)
	PostAnomalyScores(ctx context.Context, scores []datatypes.AnomalyScore) error
	PostShapExplanations(ctx context.Context, exps []datatypes.ShapExplanation) error
	PostFraudExplanations(ctx context.Context, exps []datatypes.FraudExplanation) error
}

// BackendClientConfig configures NewBackendClient.
type BackendClientConfig struct {
	// BaseURL is the backend root, e.g. "http://backend:8080".
	BaseURL string
	// InternalAPIKey is sent in the X-Internal-API-Key header.
	InternalAPIKey string
	// Timeout bounds each call. Default: DefaultBackendTimeout
	Timeout time.Duration
	// Retries is the number of retries on transport errors. Default: 0
	Retries int
}

// BackendClient calls the backend's internal endpoints.
//
// # Thread Safety
//
// Safe for concurrent use.
type BackendClient struct {
	http *resty.Client
}

// NewBackendClient creates a client that authenticates every request with
// the internal API key.
func NewBackendClient(cfg BackendClientConfig) *BackendClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultBackendTimeout
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader(extensions.InternalAPIKeyHeader, cfg.InternalAPIKey)
	if cfg.Retries > 0 {
		c.SetRetryCount(cfg.Retries).
			SetRetryWaitTime(250 * time.Millisecond).
			SetRetryMaxWaitTime(2 * time.Second)
	}
	return &BackendClient{http: c}
}

// HTTPClient exposes the transport, mainly so tests can mock it.
func (c *BackendClient) HTTPClient() *http.Client {
	return c.http.GetClient()
}

// EnrichedNodes fetches the flow aggregates of every account.
func (c *BackendClient) EnrichedNodes(ctx context.Context) ([]datatypes.EnrichedNode, error) {
	var nodes []datatypes.EnrichedNode
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&nodes).
		ForceContentType("application/json").
		Get("/api/nodes/enriched")
	if err := check(resp, err, "fetch enriched nodes"); err != nil {
		return nil, err
	}
	return nodes, nil
}

// PostAnomalyScores replaces the backend's anomaly scores.
func (c *BackendClient) PostAnomalyScores(ctx context.Context, scores []datatypes.AnomalyScore) error {
	return c.post(ctx, "/api/visual/anomaly-scores", scores)
}

// PostShapExplanations replaces the backend's SHAP explanations.
func (c *BackendClient) PostShapExplanations(ctx context.Context, exps []datatypes.ShapExplanation) error {
	return c.post(ctx, "/api/visual/shap-explanations", exps)
}

// PostFraudExplanations replaces the backend's human-readable reasons.
func (c *BackendClient) PostFraudExplanations(ctx context.Context, exps []datatypes.FraudExplanation) error {
	return c.post(ctx, "/api/visual/fraud-explanations", exps)
}

func (c *BackendClient) post(ctx context.Context, path string, body any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(path)
	return check(resp, err, "post "+path)
}

func check(resp *resty.Response, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBackend, op, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: %s returned %d", ErrBackend, op, resp.StatusCode())
	}
	return nil
}
