package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"invoicemap/internal/logger"
	"invoicemap/pkg/models"
)

const (
	geminiBaseURL    = "https://generativelanguage.googleapis.com/v1beta"
	geminiChatModel  = "gemini-2.0-flash"
	geminiEmbedModel = "text-embedding-004"
)

// geminiProvider implements Provider against the Generative Language REST
// API. Requests carry images as inline_data parts; error bodies surface the
// API status text so the retry harness can classify RESOURCE_EXHAUSTED and
// friends.
type geminiProvider struct {
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger
}

func newGemini(apiKey string) *geminiProvider {
	return &geminiProvider{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		log:        logger.WithComponent("provider-gemini"),
	}
}

func (p *geminiProvider) Name() string { return "gemini" }

// Capabilities: the free-tier per-minute quota is strict, so embeddings run
// one record at a time with a longer pause and adjudication chunks are
// dispatched sequentially.
func (p *geminiProvider) Capabilities() Capabilities {
	return Capabilities{
		EmbedBatchSize:     1,
		EmbedBatchDelay:    200 * time.Millisecond,
		SynthesisChunkSize: 6,
		ParallelSynthesis:  false,
	}
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenerateRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature float64 `json:"temperature"`
	} `json:"generationConfig"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *geminiAPIError `json:"error,omitempty"`
}

type geminiAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (p *geminiProvider) CompleteVision(ctx context.Context, images []models.ImageChunk, prompt string) (string, error) {
	const op = "CompleteVision"

	parts := []geminiPart{{Text: prompt}}
	for _, img := range images {
		mime := img.MIMEType
		if mime == "" {
			mime = "image/jpeg"
		}
		parts = append(parts, geminiPart{
			InlineData: &geminiInlineData{
				MIMEType: mime,
				Data:     base64.StdEncoding.EncodeToString(img.Data),
			},
		})
	}

	reqBody := geminiGenerateRequest{Contents: []geminiContent{{Parts: parts}}}
	reqBody.GenerationConfig.Temperature = 0.1

	p.log.Debug().
		Int("images", len(images)).
		Int("prompt_length", len(prompt)).
		Str("model", geminiChatModel).
		Msg("Sending generateContent request")

	var resp geminiGenerateResponse
	url := fmt.Sprintf("%s/models/%s:generateContent", geminiBaseURL, geminiChatModel)
	if err := p.post(ctx, url, reqBody, &resp); err != nil {
		return "", wrapCall(op, p.Name(), err)
	}
	if resp.Error != nil {
		return "", wrapCall(op, p.Name(), apiErrorToErr(resp.Error))
	}
	if len(resp.Candidates) == 0 {
		return "", wrapCall(op, p.Name(), ErrEmptyResponse)
	}

	var out strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		out.WriteString(part.Text)
	}
	if out.Len() == 0 {
		return "", wrapCall(op, p.Name(), ErrEmptyResponse)
	}
	return out.String(), nil
}

type geminiEmbedRequest struct {
	Content geminiContent `json:"content"`
}

type geminiEmbedResponse struct {
	Embedding struct {
		Values []float64 `json:"values"`
	} `json:"embedding"`
	Error *geminiAPIError `json:"error,omitempty"`
}

func (p *geminiProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	const op = "Embed"

	reqBody := geminiEmbedRequest{Content: geminiContent{Parts: []geminiPart{{Text: text}}}}

	var resp geminiEmbedResponse
	url := fmt.Sprintf("%s/models/%s:embedContent", geminiBaseURL, geminiEmbedModel)
	if err := p.post(ctx, url, reqBody, &resp); err != nil {
		return nil, wrapCall(op, p.Name(), err)
	}
	if resp.Error != nil {
		return nil, wrapCall(op, p.Name(), apiErrorToErr(resp.Error))
	}
	if len(resp.Embedding.Values) == 0 {
		return nil, wrapCall(op, p.Name(), ErrEmptyResponse)
	}
	return resp.Embedding.Values, nil
}

// post sends a JSON request and decodes the JSON response. Non-2xx bodies
// are returned as errors carrying the HTTP status and the API's own status
// text, which the retry harness classifies.
func (p *geminiProvider) post(ctx context.Context, url string, body, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		var apiResp struct {
			Error *geminiAPIError `json:"error"`
		}
		if err := json.Unmarshal(respBody, &apiResp); err == nil && apiResp.Error != nil {
			return fmt.Errorf("api error (status %d, %s): %s", resp.StatusCode, apiResp.Error.Status, apiResp.Error.Message)
		}
		return fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(respBody))
	}

	return json.Unmarshal(respBody, out)
}

func apiErrorToErr(e *geminiAPIError) error {
	return fmt.Errorf("api error (status %d, %s): %s", e.Code, e.Status, e.Message)
}
