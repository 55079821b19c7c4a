// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package client calls the AI engine from the backend.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/MuleHunter/pkg/datatypes"
	"github.com/go-resty/resty/v2"
)

// DefaultTimeout bounds every AI engine call.
const DefaultTimeout = 2 * time.Second

// ErrAIUnavailable wraps every failure to get a usable answer from the
// AI engine: transport errors, timeouts and non-2xx responses.
var ErrAIUnavailable = errors.New("ai engine unavailable")

// FraudClient queries the AI engine's cached node risk.
//
// # Thread Safety
//
// Safe for concurrent use; resty clients are.
type FraudClient struct {
	http *resty.Client
}

// NewFraudClient creates a client for the AI engine at baseURL. A zero
// timeout uses DefaultTimeout.
func NewFraudClient(baseURL string, timeout time.Duration) *FraudClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &FraudClient{http: c}
}

// HTTPClient exposes the transport, mainly so tests can mock it.
func (c *FraudClient) HTTPClient() *http.Client {
	return c.http.GetClient()
}

// CheckFraud fetches the cached risk of nodeID.
func (c *FraudClient) CheckFraud(ctx context.Context, nodeID int64) (datatypes.Prediction, error) {
	var p datatypes.Prediction
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&p).
		ForceContentType("application/json").
		SetPathParam("nodeId", strconv.FormatInt(nodeID, 10)).
		Get("/predict/{nodeId}")
	if err != nil {
		return p, fmt.Errorf("%w: %v", ErrAIUnavailable, err)
	}
	if resp.IsError() {
		return p, fmt.Errorf("%w: predict returned %d", ErrAIUnavailable, resp.StatusCode())
	}
	return p, nil
}

// Health fetches the AI engine's health document.
func (c *FraudClient) Health(ctx context.Context) (datatypes.AIHealth, error) {
	var h datatypes.AIHealth
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&h).
		ForceContentType("application/json").
		Get("/health")
	if err != nil {
		return h, fmt.Errorf("%w: %v", ErrAIUnavailable, err)
	}
	if resp.IsError() {
		return h, fmt.Errorf("%w: health returned %d", ErrAIUnavailable, resp.StatusCode())
	}
	return h, nil
}
