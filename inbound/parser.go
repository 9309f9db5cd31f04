package inbound

import (
	"fmt"
	"io"
	"mime/multipart"
	"regexp"
	"strings"

	"github.com/goliatone/go-relay/core"
)

const (
	FieldFrom    = "from"
	FieldTo      = "to"
	FieldSubject = "subject"
	FieldText    = "text"
	FieldHTML    = "html"
	FieldHeaders = "headers"

	// MaxAttachmentBytes bounds a single file part read into memory.
	MaxAttachmentBytes = 25 << 20
)

var (
	angleAddressPattern = regexp.MustCompile(`<([^>]+)>`)
	bareAddressPattern  = regexp.MustCompile(`([^\s<]+@[^\s>]+)`)

	htmlBreakPattern     = regexp.MustCompile(`(?i)<br\s*/?>`)
	htmlParagraphPattern = regexp.MustCompile(`(?i)</p>`)
	htmlDivPattern       = regexp.MustCompile(`(?i)</div>`)
	htmlTagPattern       = regexp.MustCompile(`<[^>]+>`)
	blankLinesPattern    = regexp.MustCompile(`\n{3,}`)

	htmlEntities = strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
	)
)

// ParseFields builds an email from inbound-parse form fields and file parts.
func ParseFields(fields map[string]string, attachments []core.Attachment) core.InboundEmail {
	html := fields[FieldHTML]
	text := fields[FieldText]
	if text == "" {
		text = StripHTML(html)
	}
	headers := UnfoldHeaders(fields[FieldHeaders])
	return core.InboundEmail{
		From:        ExtractAddress(fields[FieldFrom]),
		To:          ExtractAddress(fields[FieldTo]),
		Subject:     fields[FieldSubject],
		Text:        text,
		HTML:        html,
		MessageID:   headers["message-id"],
		InReplyTo:   headers["in-reply-to"],
		Attachments: attachments,
	}
}

// ParseMultipartForm reads the inbound-parse post, loading every file part.
func ParseMultipartForm(form *multipart.Form) (core.InboundEmail, error) {
	if form == nil {
		return core.InboundEmail{}, core.NewBadInputError("inbound: multipart form is required", nil)
	}
	fields := make(map[string]string, len(form.Value))
	for key, values := range form.Value {
		if len(values) > 0 {
			fields[strings.ToLower(key)] = values[0]
		}
	}
	attachments := []core.Attachment{}
	for field, headers := range form.File {
		for _, header := range headers {
			attachment, err := readAttachment(header)
			if err != nil {
				return core.InboundEmail{}, core.WrapBadInputError(err, "inbound: read attachment failed",
					map[string]any{"field": field, "file": header.Filename})
			}
			attachments = append(attachments, attachment)
		}
	}
	return ParseFields(fields, attachments), nil
}

func readAttachment(header *multipart.FileHeader) (core.Attachment, error) {
	file, err := header.Open()
	if err != nil {
		return core.Attachment{}, err
	}
	defer file.Close()
	content, err := io.ReadAll(io.LimitReader(file, MaxAttachmentBytes+1))
	if err != nil {
		return core.Attachment{}, err
	}
	if len(content) > MaxAttachmentBytes {
		return core.Attachment{}, fmt.Errorf("inbound: attachment %q exceeds %d bytes", header.Filename, MaxAttachmentBytes)
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return core.Attachment{Filename: header.Filename, ContentType: contentType, Content: content}, nil
}

// ExtractAddress returns the lowercased address of a header value such as
// `"Name" <a@b>`. Values without an address are lowercased as-is.
func ExtractAddress(value string) string {
	if match := angleAddressPattern.FindStringSubmatch(value); len(match) > 1 {
		return core.NormalizeEmail(match[1])
	}
	if match := bareAddressPattern.FindStringSubmatch(value); len(match) > 1 {
		return core.NormalizeEmail(match[1])
	}
	return core.NormalizeEmail(value)
}

// UnfoldHeaders parses a raw header block into lowercased keys. Continuation
// lines are joined with a single space; later duplicates win.
func UnfoldHeaders(raw string) map[string]string {
	headers := map[string]string{}
	currentKey := ""
	currentValue := ""
	flush := func() {
		if currentKey != "" {
			headers[strings.ToLower(currentKey)] = currentValue
		}
	}
	for _, line := range strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n") {
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			if currentKey != "" {
				currentValue = strings.TrimSpace(currentValue + " " + strings.TrimSpace(line))
			}
			continue
		}
		idx := strings.Index(line, ":")
		if idx <= 0 {
			continue
		}
		flush()
		currentKey = strings.TrimSpace(line[:idx])
		currentValue = strings.TrimSpace(line[idx+1:])
	}
	flush()
	return headers
}

// StripHTML renders a rough plain text version of an html body.
func StripHTML(html string) string {
	if html == "" {
		return ""
	}
	text := htmlBreakPattern.ReplaceAllString(html, "\n")
	text = htmlParagraphPattern.ReplaceAllString(text, "\n\n")
	text = htmlDivPattern.ReplaceAllString(text, "\n")
	text = htmlTagPattern.ReplaceAllString(text, "")
	text = htmlEntities.Replace(text)
	text = blankLinesPattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
