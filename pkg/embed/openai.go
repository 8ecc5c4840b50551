package embed

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI embedding models.
const (
	// ModelOpenAI3Small is the small embedding model (1536 dims, customizable).
	ModelOpenAI3Small = "text-embedding-3-small"

	// ModelOpenAI3Large is the large embedding model (3072 dims, customizable).
	ModelOpenAI3Large = "text-embedding-3-large"

	// ModelOpenAIAda002 is the legacy model (1536 dims, fixed).
	ModelOpenAIAda002 = "text-embedding-ada-002"
)

const (
	openAIMaxBatch     = 2048 // OpenAI supports up to 2048 inputs per request
	openAIDefaultDim   = 1536
	openAIDefaultModel = ModelOpenAI3Small
)

// OpenAI implements [Embedder] using the OpenAI embeddings API.
//
// The API is text-only, so image payloads are per-item failures: they come
// back as nil rows while the text rows of the batch still embed. Point an
// image-capable [Remote] embedder at the server instead when image search
// is needed.
//
// This can also be used with any OpenAI-compatible provider (e.g.
// SiliconFlow) by setting WithBaseURL.
type OpenAI struct {
	client *openai.Client
	model  string
	dim    int
	log    *slog.Logger
}

var _ Embedder = (*OpenAI)(nil)

// NewOpenAI creates an OpenAI embedder.
//
// The apiKey is required and can be obtained from:
// https://platform.openai.com/api-keys
func NewOpenAI(apiKey string, opts ...Option) *OpenAI {
	cfg := config{
		model:      openAIDefaultModel,
		dim:        openAIDefaultDim,
		httpClient: http.DefaultClient,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(&cfg)
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(cfg.httpClient),
	}
	if cfg.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.baseURL))
	}
	client := openai.NewClient(clientOpts...)

	return &OpenAI{
		client: &client,
		model:  cfg.model,
		dim:    cfg.dim,
		log:    cfg.logger.With("embedder", "openai"),
	}
}

// EmbedBatch embeds the text payloads of the batch. Image payloads and
// invalid payloads yield nil rows. Batches larger than 2048 texts are
// split into multiple API calls.
func (o *OpenAI) EmbedBatch(ctx context.Context, payloads []Payload) ([][]float32, error) {
	if len(payloads) == 0 {
		return nil, ErrEmptyInput
	}

	// Pick out the embeddable rows; the rest stay nil.
	var texts []string
	var rows []int
	for i, p := range payloads {
		if err := p.Validate(); err != nil {
			o.log.Warn("skipping invalid payload", "index", i)
			continue
		}
		if p.Kind() != KindText {
			o.log.Warn("image payload not supported by this embedder", "index", i)
			continue
		}
		texts = append(texts, p.Text)
		rows = append(rows, i)
	}

	result := make([][]float32, len(payloads))
	for i := 0; i < len(texts); i += openAIMaxBatch {
		end := min(i+openAIMaxBatch, len(texts))

		vecs, err := o.callAPI(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d:%d]: %w", i, end, err)
		}
		for j, vec := range vecs {
			result[rows[i+j]] = Normalize(vec)
		}
	}
	return result, nil
}

// Dimension returns the configured vector dimensionality.
func (o *OpenAI) Dimension() int {
	return o.dim
}

// Model returns the OpenAI model identifier (e.g., "text-embedding-3-small").
func (o *OpenAI) Model() string {
	return o.model
}

func (o *OpenAI) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Model:          o.model,
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Dimensions:     openai.Int(int64(o.dim)),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}

	resp, err := o.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, err
	}

	vecs := make([][]float32, len(texts))
	for _, item := range resp.Data {
		idx := item.Index
		if idx < 0 || idx >= int64(len(texts)) {
			return nil, fmt.Errorf("unexpected embedding index %d for batch size %d", idx, len(texts))
		}
		vecs[idx] = float64sToFloat32s(item.Embedding)
	}

	// Verify all slots are filled.
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for index %d", i)
		}
	}
	return vecs, nil
}

// float64sToFloat32s converts a []float64 to []float32.
func float64sToFloat32s(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
