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
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AleutianAI/MuleHunter/pkg/datatypes"
	"github.com/AleutianAI/MuleHunter/services/visual_analytics/pipeline"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeRunner struct {
	res    *pipeline.Result
	err    error
	last   *pipeline.Result
	ctxErr error
}

func (f *fakeRunner) Run(ctx context.Context) (*pipeline.Result, error) {
	f.ctxErr = ctx.Err()
	return f.res, f.err
}

func (f *fakeRunner) Last() *pipeline.Result { return f.last }

func serve(h gin.HandlerFunc, method string) *httptest.ResponseRecorder {
	r := gin.New()
	r.Handle(method, "/x", h)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, "/x", nil))
	return w
}

func completed() *pipeline.Result {
	return &pipeline.Result{
		Summary:      pipeline.Summary{RunID: "r1", Status: pipeline.StatusCompleted, NodeCount: 10, Anomalies: 1, Explained: 1},
		Viz:          []datatypes.VizNode{{NodeID: 4, Color: "red", Size: 3, Height: 1.5, IsAnomalous: true}},
		Explanations: []datatypes.FraudExplanation{{NodeID: 4, Reasons: []string{"Large volume of outgoing funds"}}},
	}
}

func TestRunPipeline(t *testing.T) {
	tests := []struct {
		name       string
		runner     *fakeRunner
		wantCode   int
		wantInBody string
	}{
		{"completed", &fakeRunner{res: completed()}, http.StatusOK, `"status":"Pipeline completed"`},
		{"empty", &fakeRunner{res: &pipeline.Result{Summary: pipeline.Summary{Status: pipeline.StatusEmpty}}}, http.StatusOK, "No nodes to analyze"},
		{"busy", &fakeRunner{err: pipeline.ErrRunInProgress}, http.StatusConflict, "already running"},
		{"backend down", &fakeRunner{err: fmt.Errorf("%w: connection refused", pipeline.ErrBackend)}, http.StatusBadGateway, "Backend unavailable"},
		{"other", &fakeRunner{err: errors.New("bad matrix")}, http.StatusInternalServerError, `"error":"Pipeline failed"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(RunPipeline(tt.runner), http.MethodPost)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantInBody)
			assert.NoError(t, tt.runner.ctxErr)
		})
	}
}

func TestRunPipeline_SummaryShape(t *testing.T) {
	w := serve(RunPipeline(&fakeRunner{res: completed()}), http.MethodPost)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"run_id":"r1"`)
	assert.Contains(t, w.Body.String(), `"anomalies":1`)
	assert.NotContains(t, w.Body.String(), "Large volume", "full results are served by the read endpoints")
}

func TestGetViz(t *testing.T) {
	w := serve(GetViz(&fakeRunner{}), http.MethodGet)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = serve(GetViz(&fakeRunner{last: completed()}), http.MethodGet)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"node_id":4,"color":"red","size":3,"height":1.5,"is_anomalous":1}]`, w.Body.String())
}

func TestGetExplanations(t *testing.T) {
	w := serve(GetExplanations(&fakeRunner{}), http.MethodGet)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = serve(GetExplanations(&fakeRunner{last: completed()}), http.MethodGet)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"node_id":4,"reasons":["Large volume of outgoing funds"]}]`, w.Body.String())
}

func TestHealthCheck(t *testing.T) {
	w := serve(HealthCheck("va", &fakeRunner{}), http.MethodGet)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"UP","service":"va","last_run":null}`, w.Body.String())

	w = serve(HealthCheck("va", &fakeRunner{last: completed()}), http.MethodGet)
	assert.Contains(t, w.Body.String(), `"run_id":"r1"`)
}
