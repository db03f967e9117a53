// Copyright 2025 NovaMind
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// HTTPInvoker is the generic HTTP adapter for inference backends. It POSTs
// the normalized request to the backend's endpoint and maps transport and
// protocol failures to the normalized error kinds. Concrete generation
// engines live behind this endpoint and are outside this repository.
type HTTPInvoker struct {
	backendID  string
	endpoint   string
	credential string
	client     *http.Client
}

// NewHTTPInvoker creates an invoker for the given descriptor.
func NewHTTPInvoker(desc Descriptor, timeout time.Duration) *HTTPInvoker {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPInvoker{
		backendID:  desc.ID,
		endpoint:   desc.Endpoint,
		credential: desc.Credential,
		client:     &http.Client{Timeout: timeout},
	}
}

// Invoke implements Invoker.
func (h *HTTPInvoker) Invoke(ctx context.Context, req Request) (*Response, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", h.endpoint+"/v1/generate", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if h.credential != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.credential)
	}

	start := time.Now()
	resp, err := h.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, &Error{BackendID: h.backendID, Kind: ErrKindTimeout, Message: "request timed out", Cause: err}
		}
		return nil, &Error{BackendID: h.backendID, Kind: ErrKindUnavailable, Message: err.Error(), Cause: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, NewError(h.backendID, ErrKindRateLimited, "rate limited")
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, NewError(h.backendID, ErrKindUnavailable, fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	var genResp struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return nil, &Error{BackendID: h.backendID, Kind: ErrKindMalformedResponse, Message: "failed to decode response", Cause: err}
	}
	if genResp.Content == "" {
		return nil, NewError(h.backendID, ErrKindMalformedResponse, "empty content")
	}

	return &Response{Content: genResp.Content, Latency: time.Since(start)}, nil
}
