// Package llm holds the prompt and response handling shared by the
// chat-model phishing classifiers.
package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/mikey/mail-sentinel/internal/core"
)

// SystemPrompt is sent as the system message where the provider supports one
const SystemPrompt = "You are an email security classifier. Respond only with JSON."

// PromptFormat asks the model for the same answer shape as the HTTP classifier
const PromptFormat = `You are an email security classifier. Analyze the following email text and decide whether it is a phishing attempt.
Respond with a JSON object containing:
- prediction: number (1 if the email is phishing, 0 if not)
- confidence: number between 0 and 1 (how confident you are that the email is phishing)

Email text:
%s

Respond only with the JSON object and nothing else.`

// ErrNoJSON is returned when a model reply carries no JSON object
var ErrNoJSON = errors.New("no JSON object in model response")

type predictionResponse struct {
	Prediction *float64 `json:"prediction"`
	Confidence *float64 `json:"confidence"`
}

// FormatPrompt builds the user prompt for text
func FormatPrompt(text string) string {
	return fmt.Sprintf(PromptFormat, text)
}

// ParsePrediction reads a model reply. Replies wrapped in prose or code
// fences are accepted as long as they contain one JSON object.
func ParsePrediction(responseText string) (*core.Prediction, error) {
	var resp predictionResponse
	if err := json.Unmarshal([]byte(responseText), &resp); err != nil {
		start := strings.IndexByte(responseText, '{')
		end := strings.LastIndexByte(responseText, '}')
		if start < 0 || end <= start {
			return nil, fmt.Errorf("%w: %v", ErrNoJSON, err)
		}
		if err := json.Unmarshal([]byte(responseText[start:end+1]), &resp); err != nil {
			return nil, fmt.Errorf("failed to parse LLM response as JSON: %w", err)
		}
	}

	if resp.Prediction == nil || resp.Confidence == nil {
		return nil, fmt.Errorf("LLM response is missing prediction or confidence")
	}
	conf := *resp.Confidence
	if math.IsNaN(conf) || conf < 0 || conf > 1 {
		return nil, fmt.Errorf("LLM confidence %v out of range", conf)
	}
	if *resp.Prediction != 0 && *resp.Prediction != 1 {
		return nil, fmt.Errorf("LLM prediction %v is not 0 or 1", *resp.Prediction)
	}
	return &core.Prediction{Confidence: conf, Prediction: int(*resp.Prediction)}, nil
}
