package utils

import (
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/mikey/mail-sentinel/internal/core"
)

// ParseRFC822 converts a raw RFC 822 message into the provider message shape,
// so locally stored .eml files run through the same analysis as fetched mail.
// Inline bodies are re-encoded as URL-safe base64; attachments keep only a reference.
func ParseRFC822(r io.Reader) (*core.RawMessage, error) {
	msg, err := mail.ReadMessage(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	payload, err := buildPart(textproto.MIMEHeader(msg.Header), msg.Body, "0")
	if err != nil {
		return nil, err
	}

	raw := &core.RawMessage{
		ID:      strings.Trim(msg.Header.Get("Message-Id"), "<> "),
		Payload: payload,
	}
	if raw.ID == "" {
		raw.ID = uuid.NewString()
	}
	if date, err := msg.Header.Date(); err == nil {
		raw.InternalDate = date.UnixMilli()
	}
	return raw, nil
}

func buildPart(h textproto.MIMEHeader, body io.Reader, id string) (*core.MessagePart, error) {
	contentType := h.Get("Content-Type")
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || contentType == "" {
		mediaType, params = "text/plain", map[string]string{}
	}

	part := &core.MessagePart{
		PartID:   id,
		MimeType: mediaType,
		Headers:  headerList(h),
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return part, nil
		}
		mr := multipart.NewReader(body, boundary)
		for i := 0; ; i++ {
			p, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				// keep whatever parts were readable
				break
			}
			child, err := buildPart(p.Header, p, fmt.Sprintf("%s.%d", id, i))
			if err != nil {
				return nil, err
			}
			part.Parts = append(part.Parts, child)
		}
		return part, nil
	}

	data, err := io.ReadAll(transferDecoder(h.Get("Content-Transfer-Encoding"), body))
	if err != nil {
		return nil, fmt.Errorf("failed to read part %s: %w", id, err)
	}

	disposition, dparams, _ := mime.ParseMediaType(h.Get("Content-Disposition"))
	part.Filename = dparams["filename"]
	if part.Filename == "" {
		part.Filename = params["name"]
	}

	if disposition == "attachment" {
		part.Body = core.PartBody{AttachmentID: "local-" + id, Size: int64(len(data))}
		return part, nil
	}
	part.Body = core.PartBody{
		Data: base64.URLEncoding.EncodeToString(data),
		Size: int64(len(data)),
	}
	return part, nil
}

func transferDecoder(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	default:
		return r
	}
}

func headerList(h textproto.MIMEHeader) []core.Header {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []core.Header
	for _, name := range names {
		for _, v := range h[name] {
			out = append(out, core.Header{Name: name, Value: v})
		}
	}
	return out
}
