package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/caffeinestack/caffeinestack/server/internal/config"
)

// payloadFunc builds the JSON body for one webhook flavour.
type payloadFunc func(a *Alert) any

var payloads = map[string]payloadFunc{
	"slack": slackPayload,
	"teams": teamsPayload,
	"http":  func(a *Alert) any { return map[string]any{"alert": a} },
}

// deliver posts a to every webhook with a resolvable URL. Failures are
// logged and never reach the caller.
func (e *Engine) deliver(webhooks []config.WebhookConfig, a *Alert) {
	for _, wh := range webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}
		build, ok := payloads[wh.Type]
		if !ok {
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		if err := e.post(url, build(a)); err != nil {
			slog.Error("alerts: webhook delivery failed",
				"type", wh.Type, "rule", a.RuleName, "user_id", a.UserID, "err", err)
			continue
		}
		slog.Debug("alerts: webhook delivered", "type", wh.Type, "rule", a.RuleName, "state", a.State)
	}
}

func slackPayload(a *Alert) any {
	return map[string]string{
		"text": fmt.Sprintf("*%s* %s (%s)", severities.label(a.Severity), a.Message, a.State),
	}
}

func teamsPayload(a *Alert) any {
	return map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": severities.color(a.Severity),
		"summary":    a.RuleName,
		"title":      fmt.Sprintf("Caffeine alert: %s (%s)", a.RuleName, a.State),
		"text":       a.Message,
	}
}

func (e *Engine) post(url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook answered %s", resp.Status)
	}
	return nil
}

type severityStyle struct{ tag, hex string }

type severityTable map[string]severityStyle

// severities maps rule severity to chat label and card colour. Unknown
// severities render as info.
var severities = severityTable{
	"critical": {"[CRITICAL]", "C0392B"},
	"warning":  {"[WARNING]", "E67E22"},
	"info":     {"[INFO]", "6F4E37"},
}

func (t severityTable) label(s string) string { return t.style(s).tag }
func (t severityTable) color(s string) string { return t.style(s).hex }

func (t severityTable) style(s string) severityStyle {
	if st, ok := t[s]; ok {
		return st
	}
	return t["info"]
}
