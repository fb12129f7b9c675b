package toolexecutor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cortexflow/cortex/internal/errs"
)

// HTTPEndpoint describes one outbound call a generic REST-backed tool
// makes against a connected SaaS provider. The base URL and auth header
// come from the user's Connection, resolved by the caller before
// building the InvokeFunc.
type HTTPEndpoint struct {
	Method      string
	URL         string
	AuthHeader  string
	AuthValue   string
	Client      *http.Client
}

// NewHTTPInvoke builds an InvokeFunc that posts inputs as a JSON body
// and decodes a JSON object response, classifying transport/HTTP
// failures into errs.Kind the way AnthropicProvider.classify does for
// LLM calls, so Runtime's retry policy can tell transient outages from
// permanent rejections.
func NewHTTPInvoke(endpoint HTTPEndpoint) InvokeFunc {
	client := endpoint.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return func(ctx context.Context, userID string, inputs map[string]any) (map[string]any, error) {
		body, err := json.Marshal(inputs)
		if err != nil {
			return nil, errs.Internal("toolexecutor.http", fmt.Errorf("encode request body: %w", err))
		}

		method := endpoint.Method
		if method == "" {
			method = http.MethodPost
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint.URL, bytes.NewReader(body))
		if err != nil {
			return nil, errs.Internal("toolexecutor.http", fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		if endpoint.AuthHeader != "" {
			req.Header.Set(endpoint.AuthHeader, endpoint.AuthValue)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, errs.Transient("toolexecutor.http", fmt.Errorf("%s %s: %w", method, endpoint.URL, err))
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, errs.Transient("toolexecutor.http", fmt.Errorf("read response: %w", err))
		}

		if resp.StatusCode == 429 || resp.StatusCode >= 500 {
			return nil, errs.Transient("toolexecutor.http", fmt.Errorf("%s %s: status %d: %s", method, endpoint.URL, resp.StatusCode, respBody))
		}
		if resp.StatusCode >= 400 {
			return nil, errs.Permanent("toolexecutor.http", fmt.Errorf("%s %s: status %d: %s", method, endpoint.URL, resp.StatusCode, respBody))
		}

		if len(respBody) == 0 {
			return map[string]any{}, nil
		}
		var out map[string]any
		if err := json.Unmarshal(respBody, &out); err != nil {
			return nil, errs.Permanent("toolexecutor.http", fmt.Errorf("decode response: %w", err))
		}
		return out, nil
	}
}
