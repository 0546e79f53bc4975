package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultModel       = "gpt-4.1-mini"
	defaultBaseURL     = "https://api.openai.com/v1"
	defaultTemperature = 0.2
	defaultTimeout     = 90 * time.Second
)

// Config describes how the completion client should be initialised.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Client offers a thin wrapper around an OpenAI-compatible Chat Completions API.
// It only proposes; nothing it returns is written without validation.
type Client struct {
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	httpClient  *http.Client
}

// NewClient builds a Client for the material assistant.
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("ai: api key must not be empty")
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	temp := cfg.Temperature
	if temp <= 0 {
		temp = defaultTemperature
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: timeout,
		}
	}

	return &Client{
		apiKey:      apiKey,
		model:       model,
		baseURL:     strings.TrimRight(baseURL, "/"),
		temperature: temp,
		httpClient:  httpClient,
	}, nil
}

func normaliseValue(value string) string {
	value = strings.TrimSpace(value)
	switch strings.ToLower(value) {
	case "", "n/a", "na", "none":
		return ""
	default:
		return value
	}
}

func normaliseText(value string) string {
	value = normaliseValue(value)
	if value == "" {
		return ""
	}
	return strings.Join(strings.Fields(value), " ")
}

// parseDecimal accepts the loose numeric shapes models return: numbers,
// numeric strings and strings with units such as "1.2x".
func parseDecimal(value any) decimal.Decimal {
	switch v := value.(type) {
	case nil:
		return decimal.Zero
	case float64:
		return decimal.NewFromFloat(v)
	case json.Number:
		parsed, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.Zero
		}
		return parsed
	case string:
		return parseFirstNumber(v)
	default:
		return decimal.Zero
	}
}

func parseFirstNumber(value string) decimal.Decimal {
	match := numberPattern.FindString(strings.TrimSpace(value))
	if match == "" {
		return decimal.Zero
	}
	parsed, err := decimal.NewFromString(match)
	if err != nil {
		return decimal.Zero
	}
	return parsed
}

var numberPattern = regexp.MustCompile(`[-+]?\d*\.?\d+`)

func (c *Client) chat(ctx context.Context, messages []Message) (string, error) {
	payload := map[string]any{
		"model":       c.model,
		"temperature": c.temperature,
		"messages":    messages,
	}
	return c.performChatCompletion(ctx, payload)
}

func (c *Client) performChatCompletion(ctx context.Context, payload map[string]any, preEncoded ...[]byte) (string, error) {
	var body []byte
	var err error
	if len(preEncoded) > 0 && preEncoded[0] != nil {
		body = preEncoded[0]
	} else {
		body, err = json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("ai: encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ai: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ai: call openai: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("ai: openai returned status %s", resp.Status)
	}

	var responseData struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&responseData); err != nil {
		return "", fmt.Errorf("ai: decode response: %w", err)
	}

	if len(responseData.Choices) == 0 {
		return "", errors.New("ai: openai returned no choices")
	}

	content := strings.TrimSpace(responseData.Choices[0].Message.Content)
	content = strings.Trim(content, "`")
	return strings.TrimSpace(content), nil
}
