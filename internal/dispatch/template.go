package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	alertdomain "github.com/tradepulse/alertd/internal/alert/domain"
	"github.com/tradepulse/alertd/internal/condition"
)

// defaultWebhookTemplate is used when the alert carries no custom payload
// template. It must always render; custom templates may not.
const defaultWebhookTemplate = `{
  "episode_id": {{json .EpisodeID}},
  "alert_id": {{json .AlertID}},
  "alert_name": {{json .AlertName}},
  "alert_type": {{json .AlertType}},
  "priority": {{json .Priority}},
  "message": {{json .Message}},
  "triggered_at": {{json .TriggeredAt}},
  "trigger_data": {{json .TriggerData}}
}`

// PayloadData is the render context for webhook payload templates.
type PayloadData struct {
	EpisodeID   string
	AlertID     string
	AlertName   string
	AlertType   string
	Priority    string
	Message     string
	TriggeredAt string
	TriggerData map[string]any
}

var templateFuncs = template.FuncMap{
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	},
}

// renderWebhookPayload renders the alert's payload template. A broken
// custom template fails only the webhook channel; the caller records the
// failure and the other channels proceed.
func renderWebhookPayload(alert *alertdomain.Alert, data PayloadData) ([]byte, error) {
	source := defaultWebhookTemplate
	if alert.WebhookTemplate != nil && strings.TrimSpace(*alert.WebhookTemplate) != "" {
		source = *alert.WebhookTemplate
	}

	tmpl, err := template.New("payload").Funcs(templateFuncs).Parse(source)
	if err != nil {
		return nil, fmt.Errorf("payload template parse: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("payload template execute: %w", err)
	}
	return buf.Bytes(), nil
}

// buildMessage produces the human readable notification line from the
// evaluated operands.
func buildMessage(alert *alertdomain.Alert, operands []condition.Operand) string {
	var b strings.Builder
	b.WriteString(alert.Name)
	b.WriteString(": ")

	parts := make([]string, 0, len(operands))
	for _, op := range operands {
		if op.Missing {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s %v (now %v)", op.Field, op.Operator, op.Expected, op.Actual))
	}
	if len(parts) == 0 {
		b.WriteString("conditions met")
	} else {
		b.WriteString(strings.Join(parts, ", "))
	}
	return b.String()
}

// buildTriggerData flattens the operand trail into the JSON stored on the
// history row and sent to channels.
func buildTriggerData(operands []condition.Operand) map[string]any {
	data := make(map[string]any, len(operands))
	for _, op := range operands {
		if op.Missing {
			continue
		}
		data[op.Field] = op.Actual
	}
	return data
}
