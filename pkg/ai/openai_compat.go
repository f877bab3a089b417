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

const openAISystemPrompt = "You are a helpful assistant that answers questions about the user's documents. Answer only from the supplied document scope."

// OpenAICompatGenerator calls any OpenAI-compatible /v1/chat/completions
// endpoint. Works with vLLM, LiteLLM, LocalAI, Deepseek, OpenRouter,
// self-hosted models, etc.
type OpenAICompatGenerator struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAICompatGenerator builds an OpenAI-compatible Generator.
// baseURL should include the /v1 prefix, e.g. "http://localhost:8000/v1".
// apiKey can be empty for local models that do not require authentication.
func NewOpenAICompatGenerator(baseURL, apiKey, model string) *OpenAICompatGenerator {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return &OpenAICompatGenerator{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(apiKey),
		model:   strings.TrimSpace(model),
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Generate returns the full answer in one call.
func (g *OpenAICompatGenerator) Generate(ctx context.Context, req Request) (Completion, error) {
	resp, err := g.do(ctx, req, false)
	if err != nil {
		return Completion{}, err
	}
	defer resp.Body.Close()

	var chatResp oaiChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return Completion{}, fmt.Errorf("openai-compat decode: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return Completion{}, fmt.Errorf("empty response from openai-compat api")
	}
	text := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	if text == "" {
		return Completion{}, fmt.Errorf("empty response from openai-compat api")
	}
	return Completion{Text: text}, nil
}

// GenerateStream issues a stream:true request and forwards delta fragments.
func (g *OpenAICompatGenerator) GenerateStream(ctx context.Context, req Request, onChunk func(string)) (Completion, error) {
	resp, err := g.do(ctx, req, true)
	if err != nil {
		return Completion{}, err
	}
	defer resp.Body.Close()

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}
		var chunk oaiStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		text := chunk.Choices[0].Delta.Content
		if text == "" {
			continue
		}
		full.WriteString(text)
		if onChunk != nil {
			onChunk(text)
		}
	}
	if err := scanner.Err(); err != nil {
		return Completion{}, fmt.Errorf("openai-compat stream: %w", err)
	}
	if full.Len() == 0 {
		return Completion{}, fmt.Errorf("empty response from openai-compat api")
	}
	return Completion{Text: full.String()}, nil
}

func (g *OpenAICompatGenerator) do(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	if g.model == "" {
		return nil, fmt.Errorf("openai-compat generation model required")
	}
	messages := make([]oaiMessage, 0, len(req.History)+2)
	system := openAISystemPrompt
	if strings.TrimSpace(req.Scope) != "" {
		system += "\nDocument scope: " + req.Scope
	}
	messages = append(messages, oaiMessage{Role: "system", Content: system})
	for _, turn := range req.History {
		role := "user"
		if turn.Role == "assistant" {
			role = "assistant"
		}
		messages = append(messages, oaiMessage{Role: role, Content: turn.Content})
	}
	messages = append(messages, oaiMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(oaiChatRequest{
		Model:    g.model,
		Messages: messages,
		Stream:   stream,
		User:     req.Scope,
	})
	if err != nil {
		return nil, err
	}

	url := g.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai-compat request: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		var errResp oaiErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return nil, fmt.Errorf("openai-compat api error: %s", errResp.Error.Message)
		}
		return nil, fmt.Errorf("openai-compat api error: %s", resp.Status)
	}
	return resp, nil
}

// OpenAI-compatible request/response types.

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiChatRequest struct {
	Model    string       `json:"model"`
	Messages []oaiMessage `json:"messages"`
	Stream   bool         `json:"stream,omitempty"`
	User     string       `json:"user,omitempty"`
}

type oaiChatResponse struct {
	Choices []struct {
		Message oaiMessage `json:"message"`
	} `json:"choices"`
}

type oaiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type oaiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
