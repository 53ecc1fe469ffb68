package extract

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"invoicemap/internal/logger"
	"invoicemap/pkg/models"
)

// maxChunkSizeBytes is the Document AI per-document size limit (20MB).
const maxChunkSizeBytes = 20 * 1024 * 1024

// DocumentAIConfig configures the Document AI extraction path.
type DocumentAIConfig struct {
	ProjectID   string
	Location    string
	ProcessorID string
	Timeout     time.Duration
}

// DocumentAI extracts line items through a trained Google Document AI
// invoice processor. It is the alternative to the vision-LLM path for
// deployments that already run one.
type DocumentAI struct {
	client *documentai.DocumentProcessorClient
	config DocumentAIConfig
	log    zerolog.Logger
}

// NewDocumentAI creates the extractor. Credentials come from
// GOOGLE_CREDENTIALS (inline JSON) or GOOGLE_APPLICATION_CREDENTIALS (file
// path), falling back to application default credentials.
func NewDocumentAI(ctx context.Context, cfg DocumentAIConfig) (*DocumentAI, error) {
	const op = "NewDocumentAI"

	if cfg.ProjectID == "" {
		return nil, wrapExtractionError(op, ErrInvalidConfiguration, "project ID is required")
	}
	if cfg.ProcessorID == "" {
		return nil, wrapExtractionError(op, ErrInvalidConfiguration, "processor ID is required")
	}
	if cfg.Location == "" {
		cfg.Location = "us"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	var clientOptions []option.ClientOption
	if cfg.Location != "us" {
		endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", cfg.Location)
		clientOptions = append(clientOptions, option.WithEndpoint(endpoint))
	}
	if credJSON := os.Getenv("GOOGLE_CREDENTIALS"); credJSON != "" {
		clientOptions = append(clientOptions, option.WithCredentialsJSON([]byte(credJSON)))
	} else if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		clientOptions = append(clientOptions, option.WithCredentialsFile(credFile))
	}

	client, err := documentai.NewDocumentProcessorClient(ctx, clientOptions...)
	if err != nil {
		return nil, wrapExtractionError(op, err, fmt.Sprintf("failed to create Document AI client for location %s", cfg.Location))
	}

	return &DocumentAI{
		client: client,
		config: cfg,
		log:    logger.WithComponent("document-ai"),
	}, nil
}

// Extract processes each image chunk through the invoice processor and
// collects line_item entities in chunk order. The vocabulary and feedback
// options are ignored; Document AI takes no prompt.
func (d *DocumentAI) Extract(ctx context.Context, chunks []models.ImageChunk, _ Options) ([]models.RawLineItem, error) {
	const op = "Extract"

	if len(chunks) == 0 {
		return nil, wrapExtractionError(op, ErrNoImages, "")
	}

	var items []models.RawLineItem
	for i, chunk := range chunks {
		if len(chunk.Data) > maxChunkSizeBytes {
			return nil, wrapExtractionError(op, ErrInvalidConfiguration, fmt.Sprintf("chunk %d exceeds the 20MB Document AI limit", i+1))
		}

		processCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
		resp, err := d.client.ProcessDocument(processCtx, &documentaipb.ProcessRequest{
			Name: d.processorName(),
			Source: &documentaipb.ProcessRequest_RawDocument{
				RawDocument: &documentaipb.RawDocument{
					Content:  chunk.Data,
					MimeType: chunk.MIMEType,
				},
			},
		})
		cancel()
		if err != nil {
			return nil, wrapExtractionError(op, err, fmt.Sprintf("chunk %d of %d", i+1, len(chunks)))
		}
		if resp.Document == nil {
			return nil, wrapExtractionError(op, ErrProcessingFailed, "no document in response")
		}

		parsed := d.lineItems(resp.Document)
		d.log.Debug().
			Int("chunk", i+1).
			Int("items", len(parsed)).
			Msg("Document AI chunk processed")
		items = append(items, parsed...)
	}

	d.log.Info().
		Int("chunks", len(chunks)).
		Int("items", len(items)).
		Msg("Document AI extraction completed")
	return items, nil
}

// lineItems converts line_item entities into raw line items. Quantity falls
// back to 1 and price to 0 when the processor produced no usable value.
func (d *DocumentAI) lineItems(doc *documentaipb.Document) []models.RawLineItem {
	var items []models.RawLineItem
	for _, entity := range doc.Entities {
		if entity.Type != "line_item" {
			continue
		}

		item := models.RawLineItem{RawQuantity: 1}
		for _, prop := range entity.Properties {
			value := strings.TrimSpace(prop.MentionText)
			switch prop.Type {
			case "line_item/description", "line_item/product_code":
				if item.RawName == "" {
					item.RawName = value
				}
			case "line_item/quantity":
				item.RawQuantity = parseNumber(value, 1)
			case "line_item/amount":
				item.RawPrice = parseNumber(value, 0)
			}
		}
		if item.RawName == "" {
			// Some processors flatten the row into the entity text itself.
			item.RawName = strings.TrimSpace(entity.MentionText)
		}
		if item.RawName == "" {
			continue
		}
		items = append(items, item)
	}
	return items
}

func (d *DocumentAI) processorName() string {
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s",
		d.config.ProjectID, d.config.Location, d.config.ProcessorID)
}

// Close releases the underlying client connection.
func (d *DocumentAI) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}
