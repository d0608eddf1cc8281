package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/refuturo/refuturo/internal/provider"
	"github.com/refuturo/refuturo/pkg/models"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-2.5-flash-image"
	defaultTimeout = 120 * time.Second

	// requestsPerSecond keeps parallel variant fan-out polite to the API.
	requestsPerSecond = 2
)

type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	TimeoutSec int
}

type inlineData struct {
	MimeType string `json:"mime_type,omitempty"`
	Data     string `json:"data,omitempty"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

type apiRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type respPart struct {
	Text       string `json:"text,omitempty"`
	InlineData *struct {
		MimeType string `json:"mimeType"`
		Data     string `json:"data"`
	} `json:"inlineData,omitempty"`
}

type apiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []respPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Provider calls the Gemini image model over plain HTTP.
type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger
}

func New(cfg *Config, logger zerolog.Logger) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, provider.ErrAPIKeyRequired
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	timeout := defaultTimeout
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}

	return &Provider{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
		log:     logger.With().Str("provider", "gemini").Logger(),
	}, nil
}

func (p *Provider) Name() string {
	return "gemini"
}

// GenerateVariants issues req.Count independent calls concurrently and
// accepts partial success: the response carries whichever subset came back
// with an image. Only when every call fails does it return an error.
func (p *Provider) GenerateVariants(ctx context.Context, req *models.GenerateRequest) (*models.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	parts := []part{
		{InlineData: &inlineData{MimeType: req.MimeType, Data: base64.StdEncoding.EncodeToString(req.Image)}},
		{Text: req.Prompt},
	}

	var (
		mu      sync.Mutex
		images  []models.GeneratedImage
		lastErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < req.Count; i++ {
		g.Go(func() error {
			img, err := p.generateContent(gctx, parts)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// A failed variant does not fail the batch.
				p.log.Debug().Err(err).Msg("variant generation failed")
				lastErr = err
				return nil
			}
			img.Index = len(images)
			images = append(images, *img)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(images) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, provider.NewError(provider.ReasonGenerationRefused, "no images were generated", provider.ErrNoImages)
	}

	return &models.Response{Images: images, Requested: req.Count}, nil
}

func (p *Provider) RefineWithPrompt(ctx context.Context, req *models.RefineRequest) (*models.GeneratedImage, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	parts := []part{
		{InlineData: &inlineData{MimeType: req.MimeType, Data: base64.StdEncoding.EncodeToString(req.Image)}},
		{Text: req.Prompt},
	}
	return p.generateContent(ctx, parts)
}

func (p *Provider) RefineWithMask(ctx context.Context, req *models.MaskRequest) (*models.GeneratedImage, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	parts := []part{
		{InlineData: &inlineData{MimeType: req.MimeType, Data: base64.StdEncoding.EncodeToString(req.Image)}},
		{InlineData: &inlineData{MimeType: "image/png", Data: base64.StdEncoding.EncodeToString(req.Mask)}},
		{Text: req.Prompt},
	}
	return p.generateContent(ctx, parts)
}

// generateContent performs one generateContent call and returns the first
// image part of the first candidate.
func (p *Provider) generateContent(ctx context.Context, parts []part) (*models.GeneratedImage, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	apiReq := &apiRequest{
		Contents:         []content{{Parts: parts}},
		GenerationConfig: generationConfig{ResponseModalities: []string{"IMAGE", "TEXT"}},
	}

	jsonData, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, p.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.apiKey)

	p.log.Debug().Str("url", url).Int("body_bytes", len(jsonData)).Msg("sending generateContent request")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, provider.NewError(provider.ReasonServiceUnavailable, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	p.log.Debug().Int("status", resp.StatusCode).Int("body_bytes", len(body)).Msg("received generateContent response")

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if apiResp.Error != nil {
		return nil, mapAPIError(resp.StatusCode, apiResp.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, mapAPIError(resp.StatusCode, &apiError{Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)})
	}

	for _, cand := range apiResp.Candidates {
		for _, pt := range cand.Content.Parts {
			if pt.InlineData == nil || pt.InlineData.Data == "" {
				continue
			}
			decoded, err := base64.StdEncoding.DecodeString(pt.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("failed to decode image data: %w", err)
			}
			mimeType := pt.InlineData.MimeType
			if mimeType == "" {
				mimeType = "image/png"
			}
			return &models.GeneratedImage{Data: decoded, MimeType: mimeType}, nil
		}
	}

	// A 200 with text but no image part means the model declined to draw.
	return nil, provider.NewError(provider.ReasonGenerationRefused, "response contained no image", provider.ErrNoImages)
}

func mapAPIError(statusCode int, apiErr *apiError) error {
	msg := apiErr.Message
	lower := strings.ToLower(msg)

	var reason provider.Reason
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		reason = provider.ReasonInvalidCredentials
	case strings.Contains(lower, "api key"):
		reason = provider.ReasonInvalidCredentials
	case statusCode == http.StatusTooManyRequests,
		strings.Contains(lower, "quota"),
		strings.Contains(lower, "billing"):
		reason = provider.ReasonQuotaExceeded
	case statusCode == http.StatusBadRequest:
		reason = provider.ReasonBadRequest
	case statusCode >= http.StatusInternalServerError:
		reason = provider.ReasonServiceUnavailable
	default:
		reason = provider.ReasonUnknown
	}

	return provider.NewError(reason, msg, nil)
}
