// Package engine provides HTTP clients for the external collaborators the
// processors invoke: the media-analysis engine, the report renderer and the
// notification transports.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/equilens/equilens/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

const defaultRequestTimeout = 20 * time.Second

// maxErrorBodyBytes caps error body capture in logs.
const maxErrorBodyBytes = 512

// HTTPAnalysisEngine calls the external analysis service over HTTP.
type HTTPAnalysisEngine struct {
	baseURL string
	client  *http.Client
}

// NewHTTPAnalysisEngine constructs an engine client. The per-request deadline
// is expected to come from the caller's context.
func NewHTTPAnalysisEngine(baseURL string) *HTTPAnalysisEngine {
	return &HTTPAnalysisEngine{
		baseURL: baseURL,
		client:  &http.Client{},
	}
}

// analyzeRequest is the engine invocation payload.
type analyzeRequest struct {
	Type      models.AnalysisType `json:"type"`
	MediaURLs []string            `json:"media_urls"`
}

// Analyze submits the media to the engine and returns its result payload.
func (e *HTTPAnalysisEngine) Analyze(ctx context.Context, analysisType models.AnalysisType, mediaURLs []string) (datatypes.JSON, error) {
	body, errMarshal := json.Marshal(analyzeRequest{Type: analysisType, MediaURLs: mediaURLs})
	if errMarshal != nil {
		return nil, fmt.Errorf("engine: marshal request: %w", errMarshal)
	}

	status, payload, errReq := doJSONRequest(ctx, e.client, http.MethodPost, e.baseURL+"/v1/analyze", body)
	if errReq != nil {
		return nil, fmt.Errorf("engine: analyze request: %w", errReq)
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("engine: analyze status=%d body=%s", status, summarizePayload(payload))
	}
	return datatypes.JSON(payload), nil
}

// doJSONRequest performs a JSON request and returns status and body.
func doJSONRequest(ctx context.Context, client *http.Client, method, targetURL string, body []byte) (int, []byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultRequestTimeout)
		defer cancel()
	}

	req, errReq := http.NewRequestWithContext(ctx, method, targetURL, bytes.NewReader(body))
	if errReq != nil {
		return 0, nil, errReq
	}
	req.Header.Set("Content-Type", "application/json")

	resp, errResp := client.Do(req)
	if errResp != nil {
		return 0, nil, errResp
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("engine: close response body error: %v", errClose)
		}
	}()

	payload, errRead := io.ReadAll(resp.Body)
	if errRead != nil {
		return resp.StatusCode, nil, errRead
	}
	return resp.StatusCode, payload, nil
}

// summarizePayload truncates a response body for log output.
func summarizePayload(payload []byte) string {
	if len(payload) > maxErrorBodyBytes {
		payload = payload[:maxErrorBodyBytes]
	}
	return string(payload)
}
