package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"
)

// HTTPWebhookDispatcher posts notification payloads to a configured
// endpoint. Non-2xx responses are returned as errors so the notification
// lane's retry policy re-runs the delivery.
type HTTPWebhookDispatcher struct {
	endpoint string
	client   *http.Client
}

// NewHTTPWebhookDispatcher constructs a webhook dispatcher.
func NewHTTPWebhookDispatcher(endpoint string) *HTTPWebhookDispatcher {
	return &HTTPWebhookDispatcher{endpoint: endpoint, client: &http.Client{}}
}

// webhookPayload is the delivery envelope.
type webhookPayload struct {
	OrganizationID *uint64        `json:"organization_id,omitempty"`
	Template       string         `json:"template"`
	Data           map[string]any `json:"data,omitempty"`
}

// DeliverWebhook posts one notification to the endpoint.
func (d *HTTPWebhookDispatcher) DeliverWebhook(ctx context.Context, organizationID *uint64, template string, data map[string]any) error {
	body, errMarshal := json.Marshal(webhookPayload{
		OrganizationID: organizationID,
		Template:       template,
		Data:           data,
	})
	if errMarshal != nil {
		return fmt.Errorf("webhook: marshal payload: %w", errMarshal)
	}

	status, payload, errReq := doJSONRequest(ctx, d.client, http.MethodPost, d.endpoint, body)
	if errReq != nil {
		return fmt.Errorf("webhook: request: %w", errReq)
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook: status=%d body=%s", status, summarizePayload(payload))
	}
	return nil
}

// MailTransport relays email notifications to an external mail service.
type MailTransport struct {
	baseURL string
	client  *http.Client
}

// NewMailTransport constructs a mail transport client.
func NewMailTransport(baseURL string) *MailTransport {
	return &MailTransport{baseURL: baseURL, client: &http.Client{}}
}

// mailPayload is the mail delivery envelope.
type mailPayload struct {
	UserID   *uint64        `json:"user_id,omitempty"`
	Template string         `json:"template"`
	Data     map[string]any `json:"data,omitempty"`
}

// SendEmail hands a templated email to the mail service.
func (t *MailTransport) SendEmail(ctx context.Context, userID *uint64, template string, data map[string]any) error {
	body, errMarshal := json.Marshal(mailPayload{UserID: userID, Template: template, Data: data})
	if errMarshal != nil {
		return fmt.Errorf("mail: marshal payload: %w", errMarshal)
	}

	status, payload, errReq := doJSONRequest(ctx, t.client, http.MethodPost, t.baseURL+"/v1/send", body)
	if errReq != nil {
		return fmt.Errorf("mail: request: %w", errReq)
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return fmt.Errorf("mail: status=%d body=%s", status, summarizePayload(payload))
	}
	return nil
}

// LogPushSender records push notifications in the process log. It stands in
// until a push provider is wired up.
type LogPushSender struct{}

// SendPush logs the push delivery.
func (LogPushSender) SendPush(_ context.Context, userID *uint64, template string, data map[string]any) error {
	log.WithFields(log.Fields{
		"user_id":  userID,
		"template": template,
		"data":     data,
	}).Info("push notification dispatched")
	return nil
}
