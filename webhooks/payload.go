package webhooks

import (
	"encoding/json"
	"strings"

	"github.com/goliatone/go-relay/core"
)

type TaskWebhookAttachment struct {
	FileName  string `json:"file_name"`
	URL       string `json:"url"`
	SizeBytes int64  `json:"size_bytes"`
}

type TaskDetail struct {
	TaskID      string                  `json:"task_id"`
	TaskTitle   string                  `json:"task_title"`
	TaskURL     string                  `json:"task_url"`
	Message     string                  `json:"message"`
	StopReason  string                  `json:"stop_reason"`
	Attachments []TaskWebhookAttachment `json:"attachments"`
}

type TaskWebhookPayload struct {
	EventID    string      `json:"event_id"`
	EventType  string      `json:"event_type"`
	TaskDetail *TaskDetail `json:"task_detail"`
}

func DecodeTaskWebhook(body []byte) (TaskWebhookPayload, error) {
	var payload TaskWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return TaskWebhookPayload{}, core.NewBadInputError("webhooks: payload is not valid json", map[string]any{"error": err.Error()})
	}
	payload.EventID = strings.TrimSpace(payload.EventID)
	payload.EventType = strings.TrimSpace(payload.EventType)
	return payload, nil
}

// Ping reports whether the payload is a reachability check with no work attached.
func (p TaskWebhookPayload) Ping() bool {
	return p.EventType == "" || strings.EqualFold(p.EventType, core.WebhookEventPing)
}

func (p TaskWebhookPayload) Event() core.WebhookEvent {
	event := core.WebhookEvent{EventID: p.EventID, EventType: p.EventType}
	if p.TaskDetail == nil {
		return event
	}
	detail := p.TaskDetail
	event.TaskID = strings.TrimSpace(detail.TaskID)
	event.TaskTitle = detail.TaskTitle
	event.TaskURL = detail.TaskURL
	event.Message = detail.Message
	event.StopReason = strings.TrimSpace(detail.StopReason)
	for _, attachment := range detail.Attachments {
		event.Attachments = append(event.Attachments, core.WebhookAttachment{
			FileName:  attachment.FileName,
			URL:       attachment.URL,
			SizeBytes: attachment.SizeBytes,
		})
	}
	return event
}
