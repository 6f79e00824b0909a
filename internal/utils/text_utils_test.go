package utils

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/mikey/mail-sentinel/internal/core"
	"go.uber.org/zap/zaptest"
)

func b64(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func TestDecodeBodyAlphabets(t *testing.T) {
	tp := NewTextProcessor(zaptest.NewLogger(t))
	text := "visit https://example.com/?a=b~c ÿ"

	for name, data := range map[string]string{
		"url":     base64.URLEncoding.EncodeToString([]byte(text)),
		"raw url": base64.RawURLEncoding.EncodeToString([]byte(text)),
		"std":     base64.StdEncoding.EncodeToString([]byte(text)),
		"wrapped": wrap(base64.StdEncoding.EncodeToString([]byte(text)), 8),
	} {
		got, err := tp.DecodeBody(data)
		if err != nil {
			t.Errorf("%s: unexpected error %v", name, err)
			continue
		}
		if got != text {
			t.Errorf("%s: got %q", name, got)
		}
	}
}

func wrap(s string, n int) string {
	var b strings.Builder
	for i := 0; i < len(s); i += n {
		end := i + n
		if end > len(s) {
			end = len(s)
		}
		b.WriteString(s[i:end])
		b.WriteString("\r\n")
	}
	return b.String()
}

func TestDecodeBodyInvalid(t *testing.T) {
	tp := NewTextProcessor(zaptest.NewLogger(t))
	if _, err := tp.DecodeBody("!!!not base64!!!"); err == nil {
		t.Error("expected error")
	}
}

func TestDecodeBodyUTF16BOM(t *testing.T) {
	tp := NewTextProcessor(zaptest.NewLogger(t))
	// "hi" in UTF-16LE with BOM
	raw := []byte{0xFF, 0xFE, 'h', 0, 'i', 0}
	got, err := tp.DecodeBody(base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		t.Fatal(err)
	}
	if got != "hi" {
		t.Errorf("got %q", got)
	}
}

func TestExtractTextDocumentOrder(t *testing.T) {
	tp := NewTextProcessor(zaptest.NewLogger(t))
	tree := &core.MessagePart{
		MimeType: "multipart/mixed",
		Parts: []*core.MessagePart{
			{
				MimeType: "multipart/alternative",
				Parts: []*core.MessagePart{
					{MimeType: "text/plain; charset=utf-8", Body: core.PartBody{Data: b64("plain")}},
					{MimeType: "text/html", Body: core.PartBody{Data: b64("<p>html</p>")}},
				},
			},
			{MimeType: "text/plain", Body: core.PartBody{Data: "%%%"}},
			{MimeType: "text/plain", Filename: "a.txt", Body: core.PartBody{AttachmentID: "att-1"}},
			{MimeType: "image/png", Body: core.PartBody{Data: b64("png")}},
			{MimeType: "text/plain", Body: core.PartBody{Data: b64("tail")}},
		},
	}

	got := tp.ExtractText(tree)
	want := "plain\n<p>html</p>\ntail"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if tp.ExtractText(nil) != "" {
		t.Error("nil tree should yield empty text")
	}
}

func TestTruncateText(t *testing.T) {
	tp := NewTextProcessor(zaptest.NewLogger(t))
	if got := tp.TruncateText("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	got := tp.TruncateText("héllo world", 2)
	if !strings.HasPrefix(got, "h\n") {
		t.Errorf("truncation split a rune: %q", got)
	}
}

func TestSanitizeUTF8(t *testing.T) {
	tp := NewTextProcessor(zaptest.NewLogger(t))
	if got := tp.SanitizeUTF8("ok\xffyes"); got != "okyes" {
		t.Errorf("got %q", got)
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := TruncateRunes("Réunion", 10); got != "Réunion" {
		t.Errorf("got %q", got)
	}
	if got := TruncateRunes("Réunion annuelle", 5); got != "Réun…" {
		t.Errorf("got %q", got)
	}
}
