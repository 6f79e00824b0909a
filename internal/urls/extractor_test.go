package urls

import (
	"encoding/base64"
	"reflect"
	"testing"

	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/mikey/mail-sentinel/internal/utils"
	"go.uber.org/zap/zaptest"
)

func newExtractor(t *testing.T) *Extractor {
	logger := zaptest.NewLogger(t)
	return NewExtractor(utils.NewTextProcessor(logger), logger)
}

func TestFindURLs(t *testing.T) {
	e := newExtractor(t)
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"trailing period", "Go to https://example.com/login.", []string{"https://example.com/login"}},
		{"parenthesised", "(see http://a.io/x)", []string{"http://a.io/x"}},
		{"html attribute", `<a href="https://b.com/p?q=1&r=2">x</a>`, []string{"https://b.com/p?q=1&r=2"}},
		{"ftp", "ftp://files.example.org/pub", []string{"ftp://files.example.org/pub"}},
		{"port stops at colon", "http://host:8080/path", []string{"http://host"}},
		{"excluded", `<!DOCTYPE html PUBLIC "-//W3C//DTD XHTML 1.0//EN" "http://www.w3.org/TR/xhtml1/DTD/xhtml1-strict.dtd">`, []string{}},
		{"schema excluded", "xmlns:o=\"http://schemas.microsoft.com/office/2004\"", []string{}},
		{"none", "no links here", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.FindURLs(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractDeduplicatesAcrossParts(t *testing.T) {
	e := newExtractor(t)
	enc := func(s string) string { return base64.URLEncoding.EncodeToString([]byte(s)) }

	tree := &core.MessagePart{
		MimeType: "multipart/alternative",
		Parts: []*core.MessagePart{
			{MimeType: "text/plain", Body: core.PartBody{Data: enc("click https://evil.example/x and https://ok.example")}},
			{MimeType: "text/html", Body: core.PartBody{Data: enc(`<a href="https://evil.example/x">here</a>`)}},
			{MimeType: "text/html", Body: core.PartBody{AttachmentID: "att"}},
			{MimeType: "text/plain", Body: core.PartBody{Data: "***"}},
		},
	}

	got := e.Extract(tree)
	want := []string{"https://evil.example/x", "https://ok.example"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestExtractEmpty(t *testing.T) {
	e := newExtractor(t)
	if got := e.Extract(nil); len(got) != 0 {
		t.Errorf("got %v", got)
	}
}
