package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiOptions configures the Gemini client. Nothing here is compiled in:
// the key and model come from config.
type GeminiOptions struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// GeminiClient talks to the Gemini API through the official genai SDK.
type GeminiClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	gen     *genai.GenerateContentConfig
}

func NewGeminiClient(ctx context.Context, opts GeminiOptions) (*GeminiClient, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("missing GEMINI_API_KEY")
	}
	cc := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	model := opts.Model
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiClient{
		client:  client,
		model:   model,
		timeout: opts.Timeout,
		gen:     generationConfig(opts),
	}, nil
}

func (c *GeminiClient) Name() string { return "gemini" }

// Model returns the default model used when a request leaves it empty.
func (c *GeminiClient) Model() string { return c.model }

func generationConfig(opts GeminiOptions) *genai.GenerateContentConfig {
	gc := &genai.GenerateContentConfig{
		SafetySettings: []*genai.SafetySetting{
			{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
			{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
			{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
			{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
		},
	}
	if opts.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.Temperature > 0 {
		t := float32(opts.Temperature)
		gc.Temperature = &t
	}
	return gc
}

func (c *GeminiClient) Do(ctx context.Context, req Request) (Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var (
		resp *genai.GenerateContentResponse
		err  error
	)
	if req.Image != nil {
		resp, err = c.generateWithImage(ctx, model, req)
	} else {
		resp, err = c.sendChat(ctx, model, req)
	}
	if err != nil {
		return Response{}, classifyGeminiError(model, err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return Response{}, fmt.Errorf("gemini %s: %w", model, ErrEmptyReply)
	}
	out := Response{Text: text}
	if u := resp.UsageMetadata; u != nil {
		out.TokensIn = int(u.PromptTokenCount)
		out.TokensOut = int(u.CandidatesTokenCount)
	}
	return out, nil
}

// generateWithImage sends one user turn: inline image first, prompt second.
func (c *GeminiClient) generateWithImage(ctx context.Context, model string, req Request) (*genai.GenerateContentResponse, error) {
	data, err := base64.StdEncoding.DecodeString(req.Image.Data)
	if err != nil {
		return nil, fmt.Errorf("decode inline image: %w", err)
	}
	parts := []*genai.Part{
		{InlineData: &genai.Blob{MIMEType: req.Image.MIMEType, Data: data}},
		genai.NewPartFromText(req.Prompt),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	return c.client.Models.GenerateContent(ctx, model, contents, c.gen)
}

// sendChat replays History as a chat session and sends Prompt as the next user turn.
func (c *GeminiClient) sendChat(ctx context.Context, model string, req Request) (*genai.GenerateContentResponse, error) {
	history := make([]*genai.Content, 0, len(req.History))
	for _, t := range req.History {
		var role genai.Role = genai.RoleUser
		if t.Role == RoleModel {
			role = genai.RoleModel
		}
		history = append(history, genai.NewContentFromText(t.Text, role))
	}
	chat, err := c.client.Chats.Create(ctx, model, c.gen, history)
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	return chat.SendMessage(ctx, genai.Part{Text: req.Prompt})
}

// classifyGeminiError maps SDK errors onto QuotaError / HTTPError.
func classifyGeminiError(model string, err error) error {
	apiErr, ok := asAPIError(err)
	if !ok {
		return fmt.Errorf("gemini %s: %w", model, err)
	}
	if apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED" {
		return &QuotaError{
			Provider:   "gemini",
			Model:      model,
			Message:    apiErr.Message,
			RetryAfter: retryInfoDelay(apiErr.Details),
			Err:        err,
		}
	}
	return &HTTPError{
		StatusCode: apiErr.Code,
		Status:     apiErr.Status,
		Body:       apiErr.Message,
		Provider:   "gemini",
		Err:        err,
	}
}

func asAPIError(err error) (genai.APIError, bool) {
	var v genai.APIError
	if errors.As(err, &v) {
		return v, true
	}
	var p *genai.APIError
	if errors.As(err, &p) && p != nil {
		return *p, true
	}
	return genai.APIError{}, false
}

// retryInfoDelay reads google.rpc.RetryInfo{retryDelay:"<N>s"} from error details.
func retryInfoDelay(details []map[string]any) time.Duration {
	for _, d := range details {
		typ, _ := d["@type"].(string)
		if !strings.HasSuffix(typ, "google.rpc.RetryInfo") {
			continue
		}
		raw, _ := d["retryDelay"].(string)
		if dur, err := time.ParseDuration(raw); err == nil && dur > 0 {
			return dur
		}
	}
	return 0
}
