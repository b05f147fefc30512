// Package processor contains the per-lane job handlers that drive sessions
// and reports through their state machines while invoking the external
// analysis, rendering and delivery collaborators.
package processor

import (
	"context"
	"time"

	"github.com/equilens/equilens/internal/models"
	"gorm.io/datatypes"
)

// SessionGuard holds the cross-process one-in-flight slot per analysis
// session. A nil guard disables cross-process enforcement.
type SessionGuard interface {
	AcquireSessionGuard(ctx context.Context, sessionID uint64, ttl time.Duration) (bool, error)
	ReleaseSessionGuard(ctx context.Context, sessionID uint64) error
}

// AnalysisEngine is the opaque external analysis service. It returns a
// structured result payload or an error; the core never inspects the result.
type AnalysisEngine interface {
	Analyze(ctx context.Context, analysisType models.AnalysisType, mediaURLs []string) (datatypes.JSON, error)
}

// ReportRenderer renders a single artifact for a completed analysis and
// returns its stored location.
type ReportRenderer interface {
	Render(ctx context.Context, format models.ReportFormat, analysis *models.AnalysisSession) (string, error)
}

// EmailSender delivers a templated email notification.
type EmailSender interface {
	SendEmail(ctx context.Context, userID *uint64, template string, data map[string]any) error
}

// WebhookDispatcher posts a templated payload to the organization's webhook.
// A non-success response must be returned as an error.
type WebhookDispatcher interface {
	DeliverWebhook(ctx context.Context, organizationID *uint64, template string, data map[string]any) error
}

// PushSender delivers a templated push notification.
type PushSender interface {
	SendPush(ctx context.Context, userID *uint64, template string, data map[string]any) error
}
