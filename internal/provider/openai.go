package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"invoicemap/internal/logger"
	"invoicemap/pkg/models"
)

const (
	openAIChatModel = "gpt-4o"

	// openAITemperature keeps extraction and adjudication near-deterministic.
	openAITemperature = 0.1
)

// openAIProvider implements Provider on the OpenAI API. Vision requests use
// multimodal chat parts with base64 data URIs; responses are free text that
// the phases parse defensively.
type openAIProvider struct {
	client *openai.Client
	log    zerolog.Logger
}

func newOpenAI(apiKey string) *openAIProvider {
	return &openAIProvider{
		client: openai.NewClient(apiKey),
		log:    logger.WithComponent("provider-openai"),
	}
}

func (p *openAIProvider) Name() string { return "openai" }

// Capabilities: OpenAI rate limits are generous enough for concurrent
// embedding batches and parallel adjudication chunks.
func (p *openAIProvider) Capabilities() Capabilities {
	return Capabilities{
		EmbedBatchSize:     20,
		EmbedBatchDelay:    10 * time.Millisecond,
		SynthesisChunkSize: 10,
		ParallelSynthesis:  true,
	}
}

func (p *openAIProvider) CompleteVision(ctx context.Context, images []models.ImageChunk, prompt string) (string, error) {
	const op = "CompleteVision"

	var message openai.ChatCompletionMessage
	if len(images) == 0 {
		message = openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: prompt,
		}
	} else {
		parts := []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: prompt},
		}
		for _, img := range images {
			mime := img.MIMEType
			if mime == "" {
				mime = "image/jpeg"
			}
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(img.Data)),
					Detail: openai.ImageURLDetailHigh,
				},
			})
		}
		message = openai.ChatCompletionMessage{
			Role:         openai.ChatMessageRoleUser,
			MultiContent: parts,
		}
	}

	p.log.Debug().
		Int("images", len(images)).
		Int("prompt_length", len(prompt)).
		Str("model", openAIChatModel).
		Msg("Sending completion request")

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       openAIChatModel,
		Temperature: openAITemperature,
		Messages:    []openai.ChatCompletionMessage{message},
	})
	if err != nil {
		return "", wrapCall(op, p.Name(), err)
	}
	if len(resp.Choices) == 0 {
		return "", wrapCall(op, p.Name(), ErrEmptyResponse)
	}

	return resp.Choices[0].Message.Content, nil
}

func (p *openAIProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	const op = "Embed"

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: []string{text},
		Model: openai.SmallEmbedding3,
	})
	if err != nil {
		return nil, wrapCall(op, p.Name(), err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, wrapCall(op, p.Name(), ErrEmptyResponse)
	}

	vec := make([]float64, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float64(v)
	}
	return vec, nil
}
