package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/equilens/equilens/internal/models"
	"gorm.io/datatypes"
)

func TestAnalyzeSendsTypedRequest(t *testing.T) {
	var got analyzeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/analyze" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if errDecode := json.NewDecoder(r.Body).Decode(&got); errDecode != nil {
			t.Errorf("decode request: %v", errDecode)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"finding":"clear","confidence":0.97}`))
	}))
	defer server.Close()

	client := NewHTTPAnalysisEngine(server.URL)
	payload, errAnalyze := client.Analyze(context.Background(), models.AnalysisTypeRadiological, []string{"s3://scan.dcm"})
	if errAnalyze != nil {
		t.Fatalf("analyze: %v", errAnalyze)
	}
	if got.Type != models.AnalysisTypeRadiological || len(got.MediaURLs) != 1 {
		t.Fatalf("request envelope = %+v", got)
	}
	if string(payload) != `{"finding":"clear","confidence":0.97}` {
		t.Fatalf("payload = %s", payload)
	}
}

func TestAnalyzeNonSuccessStatusIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewHTTPAnalysisEngine(server.URL)
	if _, errAnalyze := client.Analyze(context.Background(), models.AnalysisTypeLocomotion, nil); errAnalyze == nil {
		t.Fatalf("expected error for 503 response")
	}
}

func TestRenderReturnsArtifactLocation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/render" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req renderRequest
		if errDecode := json.NewDecoder(r.Body).Decode(&req); errDecode != nil {
			t.Errorf("decode request: %v", errDecode)
		}
		if req.Format != models.ReportFormatPDF {
			t.Errorf("format = %s", req.Format)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"artifact":"s3://reports/42.pdf"}`))
	}))
	defer server.Close()

	renderer := NewHTTPReportRenderer(server.URL)
	analysis := &models.AnalysisSession{ID: 42, Type: models.AnalysisTypeRadiological, ResultPayload: datatypes.JSON(`{"finding":"clear"}`)}
	artifact, errRender := renderer.Render(context.Background(), models.ReportFormatPDF, analysis)
	if errRender != nil {
		t.Fatalf("render: %v", errRender)
	}
	if artifact != "s3://reports/42.pdf" {
		t.Fatalf("artifact = %q", artifact)
	}
}

func TestRenderRejectsEmptyArtifact(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	renderer := NewHTTPReportRenderer(server.URL)
	if _, errRender := renderer.Render(context.Background(), models.ReportFormatHTML, &models.AnalysisSession{ID: 1}); errRender == nil {
		t.Fatalf("expected error for missing artifact")
	}
}

func TestDeliverWebhookTreatsNonSuccessAsError(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "busy", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	dispatcher := NewHTTPWebhookDispatcher(server.URL)
	orgID := uint64(4)
	if errDeliver := dispatcher.DeliverWebhook(context.Background(), &orgID, "analysis_completed", nil); errDeliver == nil {
		t.Fatalf("expected error for 502 response")
	}
	if errDeliver := dispatcher.DeliverWebhook(context.Background(), &orgID, "analysis_completed", nil); errDeliver != nil {
		t.Fatalf("deliver: %v", errDeliver)
	}
}

func TestSendEmailPostsEnvelope(t *testing.T) {
	var got mailPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/send" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if errDecode := json.NewDecoder(r.Body).Decode(&got); errDecode != nil {
			t.Errorf("decode request: %v", errDecode)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport := NewMailTransport(server.URL)
	userID := uint64(7)
	if errSend := transport.SendEmail(context.Background(), &userID, "analysis_failed", map[string]any{"session_id": 3}); errSend != nil {
		t.Fatalf("send: %v", errSend)
	}
	if got.Template != "analysis_failed" || got.UserID == nil || *got.UserID != 7 {
		t.Fatalf("envelope = %+v", got)
	}
}
