package gemini

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/mikey/mail-sentinel/internal/utils"
	"go.uber.org/zap/zaptest"
)

type fakeGenerator struct {
	resp  *genai.GenerateContentResponse
	err   error
	parts []genai.Part
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	f.parts = parts
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func reply(parts ...genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Role: "model", Parts: parts}}},
	}
}

func newTestClient(t *testing.T, gen ContentGenerator) *GeminiClient {
	logger := zaptest.NewLogger(t)
	return &GeminiClient{
		generator:     gen,
		modelName:     "gemini-test",
		maxBodySize:   4096,
		logger:        logger,
		textProcessor: utils.NewTextProcessor(logger),
	}
}

func TestClassifyJoinsTextParts(t *testing.T) {
	gen := &fakeGenerator{resp: reply(genai.Text(`{"prediction":1,`), genai.Text(`"confidence":0.93}`))}
	c := newTestClient(t, gen)

	pred, err := c.Classify(context.Background(), "Your mailbox is full, verify now")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if pred.Prediction != 1 || pred.Confidence != 0.93 {
		t.Errorf("unexpected prediction %+v", pred)
	}

	if len(gen.parts) != 1 {
		t.Fatalf("parts = %d", len(gen.parts))
	}
	prompt, ok := gen.parts[0].(genai.Text)
	if !ok || !strings.Contains(string(prompt), "verify now") {
		t.Errorf("prompt does not carry the text: %v", gen.parts[0])
	}
}

func TestClassifyFailures(t *testing.T) {
	tests := []struct {
		name string
		gen  *fakeGenerator
	}{
		{"generate error", &fakeGenerator{err: errors.New("quota exceeded")}},
		{"no candidates", &fakeGenerator{resp: &genai.GenerateContentResponse{}}},
		{"no text", &fakeGenerator{resp: reply(genai.Blob{MIMEType: "image/png", Data: []byte{1}})}},
		{"not json", &fakeGenerator{resp: reply(genai.Text("I think it is phishing"))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := newTestClient(t, tt.gen).Classify(context.Background(), "hello"); err == nil {
				t.Error("expected error")
			}
		})
	}
}
