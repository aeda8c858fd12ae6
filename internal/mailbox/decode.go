package mailbox

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// UnknownFilename names attachments whose headers carry no filename.
const UnknownFilename = "unknown"

// RawMessage is a decoded candidate message.
type RawMessage struct {
	MessageID string
	From      string
	To        string
	Cc        string
	Subject   string
	// Date is nil when the header is absent or unparseable
	Date        *time.Time
	Body        string
	Attachments []RawAttachment
}

// RawAttachment is one attachment part with its decoded content.
type RawAttachment struct {
	Filename string
	MimeType string
	Content  []byte
}

// Decode parses a raw RFC 5322 message. The body is the concatenation of all
// text/plain parts that are not attachments. Parts with a Content-Disposition
// of attachment are returned as attachments.
func Decode(raw []byte) (*RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &DecodeError{Err: errors.New("empty message")}
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, &DecodeError{Err: err}
	}
	defer mr.Close()

	msg := &RawMessage{
		MessageID: strings.TrimSpace(mr.Header.Get("Message-Id")),
		From:      headerText(&mr.Header, "From"),
		To:        headerText(&mr.Header, "To"),
		Cc:        headerText(&mr.Header, "Cc"),
		Subject:   headerText(&mr.Header, "Subject"),
	}
	if date, err := mr.Header.Date(); err == nil && !date.IsZero() {
		msg.Date = &date
	}

	var body strings.Builder
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return nil, &DecodeError{Err: err}
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			mediaType, _, _ := h.ContentType()
			if mediaType != "text/plain" {
				continue
			}
			content, err := io.ReadAll(part.Body)
			if err != nil {
				return nil, &DecodeError{Err: err}
			}
			body.Write(content)
		case *mail.AttachmentHeader:
			disposition, _, _ := h.ContentDisposition()
			if disposition != "attachment" {
				// A non-text part without an attachment disposition, e.g. an inline image
				continue
			}
			content, err := io.ReadAll(part.Body)
			if err != nil {
				return nil, &DecodeError{Err: err}
			}
			filename, _ := h.Filename()
			if strings.TrimSpace(filename) == "" {
				filename = UnknownFilename
			}
			mediaType, _, _ := h.ContentType()
			msg.Attachments = append(msg.Attachments, RawAttachment{
				Filename: filename,
				MimeType: mediaType,
				Content:  content,
			})
		}
	}
	msg.Body = body.String()

	return msg, nil
}

func headerText(h *mail.Header, key string) string {
	v, err := h.Text(key)
	if err != nil {
		v = h.Get(key)
	}
	return strings.TrimSpace(v)
}
