package core

import (
	"fmt"
	"html"
	"strings"
)

const (
	HeaderMappingID      = "X-Relay-Mapping-Id"
	HeaderOriginalSender = "X-Relay-Original-Sender"

	SubjectPrefix = "[Relay]"
)

// Addresses names the sending identities of the relay.
type Addresses struct {
	FromDomain   string
	RelayAddress string
}

func (a Addresses) NoReply() string {
	return "noreply@" + strings.TrimSpace(a.FromDomain)
}

func (a Addresses) ForWorkflow(name string) string {
	return strings.ToLower(strings.TrimSpace(name)) + "@" + strings.TrimSpace(a.FromDomain)
}

func RequestMarker(sender string) string {
	return fmt.Sprintf("[relay request from: %s]", sender)
}

func BounceEmail(addrs Addresses, to string, reason string) OutboundEmail {
	return OutboundEmail{
		From:    addrs.NoReply(),
		To:      to,
		Subject: SubjectPrefix + " Request Could Not Be Processed",
		Text: "Your email could not be processed.\n\nReason: " + reason +
			"\n\nIf you believe this is an error, please contact support.",
	}
}

// ForwardEmail wraps the original request for a native workflow with provenance markers.
func ForwardEmail(addrs Addresses, email InboundEmail, mapping Mapping, workflow Workflow) OutboundEmail {
	text := RequestMarker(mapping.Sender) + "\n" + MappingToken(mapping.ID) + "\n\n" + email.Text
	out := OutboundEmail{
		From:        addrs.RelayAddress,
		To:          workflow.ExecutionAddress,
		Subject:     email.Subject,
		Text:        text,
		Attachments: email.Attachments,
		Headers: map[string]string{
			HeaderMappingID:      mapping.ID,
			HeaderOriginalSender: mapping.Sender,
		},
	}
	if strings.TrimSpace(email.HTML) != "" {
		out.HTML = "<p><em>" + html.EscapeString(RequestMarker(mapping.Sender)) + "</em></p>" +
			"<p><em>" + html.EscapeString(MappingToken(mapping.ID)) + "</em></p>" + email.HTML
	}
	return out
}

func TaskAcceptedEmail(addrs Addresses, mapping Mapping, task Task) OutboundEmail {
	lines := []string{
		fmt.Sprintf("Your %s request has been accepted and is being worked on.", mapping.Workflow),
	}
	if strings.TrimSpace(task.Title) != "" {
		lines = append(lines, "", "Task: "+task.Title)
	}
	if strings.TrimSpace(task.URL) != "" {
		lines = append(lines, "", "Follow progress at: "+task.URL)
	}
	lines = append(lines, "", "You will receive the result by email when it is ready.")
	return OutboundEmail{
		From:      addrs.ForWorkflow(mapping.Workflow),
		To:        mapping.Sender,
		Subject:   fmt.Sprintf("%s Your %s task has started", SubjectPrefix, mapping.Workflow),
		Text:      strings.Join(lines, "\n"),
		InReplyTo: mapping.OriginalID(),
	}
}

func DispatchFailedEmail(addrs Addresses, mapping Mapping) OutboundEmail {
	return OutboundEmail{
		From:    addrs.ForWorkflow(mapping.Workflow),
		To:      mapping.Sender,
		Subject: fmt.Sprintf("%s Your %s request could not be started", SubjectPrefix, mapping.Workflow),
		Text: "Sorry, we could not start your request right now. " +
			"No credits were charged. Please try again later.",
		InReplyTo: mapping.OriginalID(),
	}
}

// ReplyResultEmail relays a cleaned backend email reply to the requester.
func ReplyResultEmail(addrs Addresses, mapping Mapping, reply InboundEmail, heuristics Heuristics) OutboundEmail {
	out := OutboundEmail{
		From:        addrs.ForWorkflow(mapping.Workflow),
		To:          mapping.Sender,
		Subject:     SubjectPrefix + " " + heuristics.StripBranding(reply.Subject),
		Text:        heuristics.StripBranding(reply.Text),
		Attachments: reply.Attachments,
		InReplyTo:   mapping.OriginalID(),
	}
	if strings.TrimSpace(reply.HTML) != "" {
		out.HTML = heuristics.StripBranding(reply.HTML)
	}
	return out
}

func WebhookResultEmail(addrs Addresses, mapping Mapping, event WebhookEvent, attachments []Attachment) OutboundEmail {
	return OutboundEmail{
		From:        addrs.ForWorkflow(mapping.Workflow),
		To:          mapping.Sender,
		Subject:     fmt.Sprintf("Re: Your %s task", mapping.Workflow),
		Text:        event.Message,
		Attachments: attachments,
		InReplyTo:   mapping.OriginalID(),
	}
}
