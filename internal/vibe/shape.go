package vibe

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type anthropicRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// shapeRequest builds the provider-specific JSON body and auth headers.
func shapeRequest(d Descriptor, model, prompt, apiKey string, maxTokens int) (body []byte, headers http.Header, err error) {
	headers = http.Header{}
	headers.Set("Content-Type", "application/json")

	switch d.APIStyle {
	case StyleOpenAIChat:
		headers.Set("Authorization", "Bearer "+apiKey)
		body, err = json.Marshal(openAIChatRequest{
			Model:     model,
			Messages:  []chatMessage{{Role: "user", Content: prompt}},
			MaxTokens: maxTokens,
		})
	case StyleAnthropicMessages:
		headers.Set("x-api-key", apiKey)
		headers.Set("anthropic-version", "2023-06-01")
		body, err = json.Marshal(anthropicRequest{
			Model:     model,
			Messages:  []chatMessage{{Role: "user", Content: prompt}},
			MaxTokens: maxTokens,
		})
	case StyleGeminiGenerate:
		headers.Set("x-goog-api-key", apiKey)
		body, err = json.Marshal(geminiRequest{
			Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
		})
	default:
		return nil, nil, fmt.Errorf("unknown api style %q for provider %s", d.APIStyle, d.ID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal %s request: %w", d.ID, err)
	}
	return body, headers, nil
}

// extractText pulls the completion out of a 2xx provider body. An empty
// or structurally wrong body is an invalid_response.
func extractText(style APIStyle, body []byte) (string, error) {
	switch style {
	case StyleOpenAIChat:
		var r openAIChatResponse
		if err := json.Unmarshal(body, &r); err != nil {
			return "", fmt.Errorf("failed to parse response: %w", err)
		}
		if r.Error != nil {
			return "", fmt.Errorf("provider error: %s", r.Error.Message)
		}
		if len(r.Choices) == 0 {
			return "", fmt.Errorf("no completion returned")
		}
		return strings.TrimSpace(r.Choices[0].Message.Content), nil
	case StyleAnthropicMessages:
		var r anthropicResponse
		if err := json.Unmarshal(body, &r); err != nil {
			return "", fmt.Errorf("failed to parse response: %w", err)
		}
		if r.Error != nil {
			return "", fmt.Errorf("provider error: %s", r.Error.Message)
		}
		if len(r.Content) == 0 {
			return "", fmt.Errorf("no completion returned")
		}
		return strings.TrimSpace(r.Content[0].Text), nil
	case StyleGeminiGenerate:
		var r geminiResponse
		if err := json.Unmarshal(body, &r); err != nil {
			return "", fmt.Errorf("failed to parse response: %w", err)
		}
		if len(r.Candidates) == 0 || len(r.Candidates[0].Content.Parts) == 0 {
			return "", fmt.Errorf("no completion returned")
		}
		return strings.TrimSpace(r.Candidates[0].Content.Parts[0].Text), nil
	default:
		return "", fmt.Errorf("unknown api style %q", style)
	}
}
