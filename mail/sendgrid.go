package mail

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/goliatone/go-relay/core"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

const headerMessageID = "X-Message-Id"

const defaultContentType = "application/octet-stream"

// SendClient is the subset of the SendGrid client the mailer uses.
type SendClient interface {
	SendWithContext(ctx context.Context, email *sgmail.SGMailV3) (*rest.Response, error)
}

type SendGridMailer struct {
	Client SendClient
	Logger core.Logger
}

func NewSendGridMailer(apiKey string, logger core.Logger) *SendGridMailer {
	return &SendGridMailer{
		Client: sendgrid.NewSendClient(strings.TrimSpace(apiKey)),
		Logger: core.ResolveLogger("relay.mail", nil, logger),
	}
}

// Send delivers msg and returns the provider message id, or an empty id when
// the provider did not report one.
func (m *SendGridMailer) Send(ctx context.Context, msg core.OutboundEmail) (string, error) {
	if m == nil || m.Client == nil {
		return "", core.NewInternalError(nil, "mail: sendgrid client is not configured", nil)
	}
	payload, err := BuildMessage(msg)
	if err != nil {
		return "", err
	}

	res, err := m.Client.SendWithContext(ctx, payload)
	if err != nil {
		return "", core.NewExternalError(err, "mail: send email", map[string]any{"to": msg.To})
	}
	if res == nil {
		return "", core.NewExternalError(nil, "mail: empty provider response", map[string]any{"to": msg.To})
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", core.NewExternalError(nil, "mail: provider rejected email", map[string]any{
			"to":          msg.To,
			"status_code": res.StatusCode,
			"body":        res.Body,
		})
	}

	messageID := responseHeader(res.Headers, headerMessageID)
	if m.Logger != nil {
		m.Logger.WithContext(ctx).Debug("relay.mail.sent", "to", msg.To, "subject", msg.Subject, "message_id", messageID)
	}
	return messageID, nil
}

// BuildMessage converts a relay message into a SendGrid v3 payload.
func BuildMessage(msg core.OutboundEmail) (*sgmail.SGMailV3, error) {
	from := strings.TrimSpace(msg.From)
	to := strings.TrimSpace(msg.To)
	if from == "" || to == "" {
		return nil, core.NewBadInputError("mail: from and to are required", map[string]any{"from": from, "to": to})
	}
	if msg.Text == "" && msg.HTML == "" {
		return nil, core.NewBadInputError("mail: email body is required", map[string]any{"to": to})
	}

	payload := sgmail.NewV3Mail()
	payload.SetFrom(sgmail.NewEmail("", from))
	payload.Subject = msg.Subject

	personalization := sgmail.NewPersonalization()
	personalization.AddTos(sgmail.NewEmail("", to))
	payload.AddPersonalizations(personalization)

	// text/plain must precede text/html in the v3 payload.
	if msg.Text != "" {
		payload.AddContent(sgmail.NewContent("text/plain", msg.Text))
	}
	if msg.HTML != "" {
		payload.AddContent(sgmail.NewContent("text/html", msg.HTML))
	}

	for key, value := range msg.Headers {
		if strings.TrimSpace(key) == "" {
			continue
		}
		payload.SetHeader(strings.TrimSpace(key), value)
	}
	if inReplyTo := strings.TrimSpace(msg.InReplyTo); inReplyTo != "" {
		payload.SetHeader("In-Reply-To", inReplyTo)
		payload.SetHeader("References", inReplyTo)
	}

	for _, attachment := range msg.Attachments {
		item := sgmail.NewAttachment()
		item.SetContent(base64.StdEncoding.EncodeToString(attachment.Content))
		item.SetFilename(attachment.Filename)
		contentType := strings.TrimSpace(attachment.ContentType)
		if contentType == "" {
			contentType = defaultContentType
		}
		item.SetType(contentType)
		item.SetDisposition("attachment")
		payload.AddAttachment(item)
	}
	return payload, nil
}

func responseHeader(headers map[string][]string, name string) string {
	for key, values := range headers {
		if strings.EqualFold(key, name) && len(values) > 0 {
			return strings.TrimSpace(values[0])
		}
	}
	return ""
}

var _ core.Mailer = (*SendGridMailer)(nil)
