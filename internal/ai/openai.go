package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	openAIBaseURL     = "https://api.openai.com/v1"
	openRouterBaseURL = "https://openrouter.ai/api/v1"
)

// ChatCompletionsProvider speaks the OpenAI chat completions protocol. It
// serves OpenAI itself, OpenRouter and DigitalOcean agents, which differ only
// in base URL and a pair of attribution headers.
type ChatCompletionsProvider struct {
	Name    string
	BaseURL string
	APIKey  string
	Model   string
	SiteURL string
	AppName string
	Client  *http.Client
}

type chatCompletionsReq struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type chatCompletionsResp struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewOpenAIProvider(baseURL, apiKey, model string) *ChatCompletionsProvider {
	if baseURL == "" {
		baseURL = openAIBaseURL
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &ChatCompletionsProvider{
		Name:    string(KindOpenAI),
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

func NewOpenRouterProvider(baseURL, apiKey, model, siteURL, appName string) *ChatCompletionsProvider {
	if baseURL == "" {
		baseURL = openRouterBaseURL
	}
	if model == "" {
		model = "openrouter/auto"
	}
	return &ChatCompletionsProvider{
		Name:    string(KindOpenRouter),
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		SiteURL: siteURL,
		AppName: appName,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

// NewDigitalOceanProvider targets a Gradient agent. agentURL is the agent's
// endpoint as shown in the control panel; the /api/v1 prefix is added when
// missing.
func NewDigitalOceanProvider(agentURL, token, model string) *ChatCompletionsProvider {
	base := strings.TrimRight(strings.TrimSpace(agentURL), "/")
	if base != "" && !strings.Contains(base, "/api/v1") {
		base += "/api/v1"
	}
	if model == "" {
		model = "gradient-agent"
	}
	return &ChatCompletionsProvider{
		Name:    string(KindDigitalOcean),
		BaseURL: base,
		APIKey:  token,
		Model:   model,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

func (p *ChatCompletionsProvider) endpoint() string {
	base := strings.TrimRight(p.BaseURL, "/")
	if strings.HasSuffix(base, "/chat/completions") {
		return base
	}
	return base + "/chat/completions"
}

func (p *ChatCompletionsProvider) Generate(ctx context.Context, in Request) (string, error) {
	if p.Client == nil {
		return "", fmt.Errorf("%s: http client is nil", p.Name)
	}
	if strings.TrimSpace(p.BaseURL) == "" {
		return "", fmt.Errorf("%s: base url is required", p.Name)
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return "", fmt.Errorf("%s: api key is required", p.Name)
	}
	model := strings.TrimSpace(in.Model)
	if model == "" {
		model = strings.TrimSpace(p.Model)
	}
	if model == "" {
		return "", fmt.Errorf("%s: model is required", p.Name)
	}

	reqBody := chatCompletionsReq{
		Model:       model,
		Stream:      false,
		Messages:    in.messages(),
		MaxTokens:   in.MaxOutputTokens,
		Temperature: in.Temperature,
	}

	b, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(), bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	if p.SiteURL != "" {
		req.Header.Set("HTTP-Referer", p.SiteURL)
	}
	if p.AppName != "" {
		req.Header.Set("X-Title", p.AppName)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return "", fmt.Errorf("%s: %s", p.Name, msg)
	}

	var decoded chatCompletionsResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", errors.New(decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("%s: empty response", p.Name)
	}
	return decoded.Choices[0].Message.Content, nil
}
