package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/equilens/equilens/internal/models"
)

// HTTPReportRenderer calls the external rendering service.
type HTTPReportRenderer struct {
	baseURL string
	client  *http.Client
}

// NewHTTPReportRenderer constructs a renderer client.
func NewHTTPReportRenderer(baseURL string) *HTTPReportRenderer {
	return &HTTPReportRenderer{baseURL: baseURL, client: &http.Client{}}
}

// renderRequest is the renderer invocation payload.
type renderRequest struct {
	Format        models.ReportFormat `json:"format"`
	AnalysisID    uint64              `json:"analysis_id"`
	AnalysisType  models.AnalysisType `json:"analysis_type"`
	ResultPayload json.RawMessage     `json:"result_payload,omitempty"`
}

// renderResponse carries the stored artifact location.
type renderResponse struct {
	Artifact string `json:"artifact"`
}

// Render produces one artifact for a completed analysis and returns where the
// renderer stored it.
func (r *HTTPReportRenderer) Render(ctx context.Context, format models.ReportFormat, analysis *models.AnalysisSession) (string, error) {
	body, errMarshal := json.Marshal(renderRequest{
		Format:        format,
		AnalysisID:    analysis.ID,
		AnalysisType:  analysis.Type,
		ResultPayload: json.RawMessage(analysis.ResultPayload),
	})
	if errMarshal != nil {
		return "", fmt.Errorf("renderer: marshal request: %w", errMarshal)
	}

	status, payload, errReq := doJSONRequest(ctx, r.client, http.MethodPost, r.baseURL+"/v1/render", body)
	if errReq != nil {
		return "", fmt.Errorf("renderer: request: %w", errReq)
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return "", fmt.Errorf("renderer: status=%d body=%s", status, summarizePayload(payload))
	}

	var parsed renderResponse
	if errUnmarshal := json.Unmarshal(payload, &parsed); errUnmarshal != nil {
		return "", fmt.Errorf("renderer: decode response: %w", errUnmarshal)
	}
	if parsed.Artifact == "" {
		return "", fmt.Errorf("renderer: empty artifact location")
	}
	return parsed.Artifact, nil
}
