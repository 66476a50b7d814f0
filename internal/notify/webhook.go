package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type WebhookNotifier struct {
	URL      string
	Method   string
	Template string
	Headers  map[string]string
}

func NewWebhookNotifier(url, method, tmpl string, headers map[string]string) *WebhookNotifier {
	if method == "" {
		method = http.MethodPost
	}
	return &WebhookNotifier{
		URL:      url,
		Method:   strings.ToUpper(method),
		Template: tmpl,
		Headers:  headers,
	}
}

// webhookPayload is the default body when no template is configured.
type webhookPayload struct {
	Status     Status `json:"status"`
	Operation  string `json:"operation"`
	Engine     string `json:"engine"`
	Database   string `json:"database"`
	Job        string `json:"job,omitempty"`
	RunID      string `json:"run_id,omitempty"`
	FileName   string `json:"file_name,omitempty"`
	Size       int64  `json:"size"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

func (n *WebhookNotifier) Notify(ctx context.Context, stats Stats) error {
	if n.URL == "" {
		return nil
	}

	var body []byte
	var err error
	if n.Template != "" {
		body, err = renderTemplate("webhook", n.Template, stats)
		if err != nil {
			return fmt.Errorf("failed to render webhook template: %w", err)
		}
	} else {
		p := webhookPayload{
			Status:     stats.Status,
			Operation:  stats.Operation,
			Engine:     stats.Engine,
			Database:   stats.Database,
			Job:        stats.Job,
			RunID:      stats.RunID,
			FileName:   stats.FileName,
			Size:       stats.Size,
			DurationMS: stats.Duration.Milliseconds(),
		}
		if stats.Error != nil {
			p.Error = stats.Error.Error()
		}
		body, err = json.Marshal(p)
		if err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, n.Method, n.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.Headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
