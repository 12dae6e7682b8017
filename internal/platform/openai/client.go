package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/yungbote/coursebuilder-backend/internal/domain/conversation"
	"github.com/yungbote/coursebuilder-backend/internal/platform/aigateway"
	"github.com/yungbote/coursebuilder-backend/internal/platform/httpx"
	"github.com/yungbote/coursebuilder-backend/internal/platform/logger"
)

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// Temperature is omitted from requests when nil; some reasoning models reject it.
	Temperature *float32
	HTTPClient  *http.Client
}

type client struct {
	log         *logger.Logger
	api         *goopenai.Client
	model       string
	temperature *float32
}

// NewClient builds the chat-completions implementation of aigateway.Gateway.
func NewClient(log *logger.Logger, cfg Config) (aigateway.Gateway, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = goopenai.GPT4oMini
	}
	apiCfg := goopenai.DefaultConfig(apiKey)
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		if !strings.HasSuffix(base, "/v1") {
			base += "/v1"
		}
		apiCfg.BaseURL = base
	}
	if cfg.HTTPClient != nil {
		apiCfg.HTTPClient = cfg.HTTPClient
	}
	return &client{
		log:         log.With("service", "OpenAIClient"),
		api:         goopenai.NewClientWithConfig(apiCfg),
		model:       model,
		temperature: cfg.Temperature,
	}, nil
}

func (c *client) Send(ctx context.Context, prompt string, history []conversation.Message) (string, error) {
	req := goopenai.ChatCompletionRequest{
		Model:    c.model,
		Messages: buildMessages(prompt, history),
	}
	if c.temperature != nil {
		req.Temperature = *c.temperature
	}
	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		gerr := classify(ctx, err)
		c.log.Warn("chat completion failed",
			"model", c.model,
			"kind", gerr.Kind,
			"status", gerr.StatusCode,
			"before_response", gerr.BeforeResponse,
			"latency_ms", time.Since(start).Milliseconds(),
		)
		return "", gerr
	}
	if len(resp.Choices) == 0 {
		return "", &aigateway.Error{Kind: aigateway.KindUnknown, Cause: errors.New("no choices in completion")}
	}
	c.log.Debug("chat completion ok",
		"model", c.model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return resp.Choices[0].Message.Content, nil
}

func buildMessages(prompt string, history []conversation.Message) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(history)+1)
	if strings.TrimSpace(prompt) != "" {
		out = append(out, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: prompt})
	}
	for _, m := range history {
		role := goopenai.ChatMessageRoleUser
		switch m.Role {
		case conversation.RoleAssistant:
			role = goopenai.ChatMessageRoleAssistant
		case conversation.RoleSystem:
			role = goopenai.ChatMessageRoleSystem
		}
		out = append(out, goopenai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

// classify maps transport and API failures onto gateway kinds. Only dial failures and
// 429/503 are marked BeforeResponse.
func classify(ctx context.Context, err error) *aigateway.Error {
	status := statusOf(err)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &aigateway.Error{Kind: aigateway.KindUnauthorized, StatusCode: status, BeforeResponse: true, Cause: err}
	case status == http.StatusTooManyRequests:
		return &aigateway.Error{Kind: aigateway.KindRateLimited, StatusCode: status, BeforeResponse: true, Cause: err}
	case status == http.StatusServiceUnavailable:
		return &aigateway.Error{Kind: aigateway.KindServiceUnavailable, StatusCode: status, BeforeResponse: httpx.IsPreResponseStatus(status), Cause: err}
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		return &aigateway.Error{Kind: aigateway.KindTimeout, StatusCode: status, Cause: err}
	case status != 0:
		return &aigateway.Error{Kind: aigateway.KindUnknown, StatusCode: status, Cause: err}
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || httpx.IsTimeout(err) {
		return &aigateway.Error{Kind: aigateway.KindTimeout, Cause: err}
	}
	if httpx.IsDialError(err) {
		return &aigateway.Error{Kind: aigateway.KindServiceUnavailable, BeforeResponse: true, Cause: err}
	}
	return &aigateway.Error{Kind: aigateway.KindUnknown, Cause: err}
}

func statusOf(err error) int {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
