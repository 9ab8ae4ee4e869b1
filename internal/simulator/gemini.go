// ABOUTME: Gemini-backed reply generator over the Generative Language REST API
// ABOUTME: Impersonates the customer with a short pt-BR system prompt

package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// GeminiGenerator implements Generator against the Generative Language API.
type GeminiGenerator struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewGeminiGenerator creates a generator for the given model. An empty
// baseURL selects the public endpoint. An empty apiKey produces a generator
// that reports ErrUnavailable on every call so the simulator can substitute
// its fixed fallback text.
func NewGeminiGenerator(apiKey, model, baseURL string) *GeminiGenerator {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	return &GeminiGenerator{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"system_instruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  struct {
		MaxOutputTokens int `json:"maxOutputTokens"`
	} `json:"generationConfig"`
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

// Generate asks the model for the customer's next line given the transcript.
func (g *GeminiGenerator) Generate(ctx context.Context, transcript []Turn, customerName string) (string, error) {
	if g.apiKey == "" {
		return "", ErrUnavailable
	}

	system := fmt.Sprintf(`Você é %s, um cliente conversando no WhatsApp com uma empresa.
Mantenha as respostas curtas, informais e diretas, como em um chat real.
Seja educado mas ocasionalmente impaciente se o problema não for resolvido.
Nunca use formatação markdown complexa, use emojis moderadamente.`, customerName)

	var sb strings.Builder
	for _, turn := range transcript {
		speaker := customerName
		if turn.Role == RoleOperator {
			speaker = "Agente"
		}
		sb.WriteString(speaker)
		sb.WriteString(": ")
		sb.WriteString(turn.Text)
		sb.WriteString("\n")
	}
	sb.WriteString(customerName)
	sb.WriteString(":")

	reqBody := geminiRequest{
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: system}}},
		Contents:          []geminiContent{{Parts: []geminiPart{{Text: sb.String()}}}},
	}
	reqBody.GenerationConfig.MaxOutputTokens = 100

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.baseURL, g.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling generation API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generation API returned status %d", resp.StatusCode)
	}

	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", nil
	}
	return strings.TrimSpace(out.Candidates[0].Content.Parts[0].Text), nil
}
