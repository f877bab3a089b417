package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

const geminiSystemPrompt = "You are a helpful assistant that answers questions about the user's documents. Answer only from the supplied document scope."

// GeminiGenerator calls the Google AI Studio (Gemini) API.
type GeminiGenerator struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewGeminiGenerator constructs a Gemini-backed Generator.
func NewGeminiGenerator(apiKey, model string) (*GeminiGenerator, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key required")
	}
	model = normalizeModel(model)
	if model == "" {
		return nil, fmt.Errorf("gemini model required")
	}
	return &GeminiGenerator{
		apiKey:     apiKey,
		baseURL:    defaultGeminiBaseURL,
		model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// Generate returns the full answer in one call.
func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (Completion, error) {
	var resp generateResponse
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, g.model, g.apiKey)
	if err := g.doJSON(ctx, url, g.buildRequest(req), &resp); err != nil {
		return Completion{}, err
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return Completion{}, fmt.Errorf("empty response from gemini")
	}
	return Completion{Text: resp.Candidates[0].Content.Parts[0].Text}, nil
}

// GenerateStream reads the server-sent event stream and forwards each text
// fragment as it arrives.
func (g *GeminiGenerator) GenerateStream(ctx context.Context, req Request, onChunk func(string)) (Completion, error) {
	body, err := json.Marshal(g.buildRequest(req))
	if err != nil {
		return Completion{}, err
	}
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", g.baseURL, g.model, g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Completion{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return Completion{}, fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return Completion{}, fmt.Errorf("gemini api error: %s", errResp.Error.Message)
		}
		return Completion{}, fmt.Errorf("gemini api error: %s", resp.Status)
	}

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		var chunk generateResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if len(chunk.Candidates) == 0 || len(chunk.Candidates[0].Content.Parts) == 0 {
			continue
		}
		text := chunk.Candidates[0].Content.Parts[0].Text
		if text == "" {
			continue
		}
		full.WriteString(text)
		if onChunk != nil {
			onChunk(text)
		}
	}
	if err := scanner.Err(); err != nil {
		return Completion{}, fmt.Errorf("gemini stream: %w", err)
	}
	if full.Len() == 0 {
		return Completion{}, fmt.Errorf("empty response from gemini")
	}
	return Completion{Text: full.String()}, nil
}

func (g *GeminiGenerator) buildRequest(req Request) generateRequest {
	contents := make([]content, 0, len(req.History)+1)
	for _, turn := range req.History {
		role := "user"
		if turn.Role == "assistant" {
			role = "model"
		}
		contents = append(contents, content{Role: role, Parts: []part{{Text: turn.Content}}})
	}
	contents = append(contents, content{Role: "user", Parts: []part{{Text: req.Prompt}}})

	system := geminiSystemPrompt
	if strings.TrimSpace(req.Scope) != "" {
		system += "\nDocument scope: " + req.Scope
	}
	return generateRequest{
		Contents:          contents,
		SystemInstruction: &content{Parts: []part{{Text: system}}},
	}
}

func normalizeModel(model string) string {
	model = strings.TrimSpace(model)
	model = strings.TrimPrefix(model, "models/")
	return model
}

func (g *GeminiGenerator) doJSON(ctx context.Context, url string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return fmt.Errorf("gemini api error: %s", errResp.Error.Message)
		}
		return fmt.Errorf("gemini api error: %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents          []content `json:"contents"`
	SystemInstruction *content  `json:"systemInstruction,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
