package embed

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DashScope embedding models.
const (
	// ModelDashScopeV4 is the latest DashScope embedding model.
	// Supports 100+ languages, dimensions: 64–2048, default 1024.
	ModelDashScopeV4 = "text-embedding-v4"

	// ModelDashScopeV3 supports 50+ languages, dimensions: 64–1024.
	ModelDashScopeV3 = "text-embedding-v3"

	// ModelDashScopeV2 has fixed 1536 dimensions.
	ModelDashScopeV2 = "text-embedding-v2"

	// ModelDashScopeV1 has fixed 1536 dimensions.
	ModelDashScopeV1 = "text-embedding-v1"
)

const (
	dashScopeBaseURL      = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	dashScopeMaxBatch     = 10 // v3/v4 max batch size
	dashScopeDefaultDim   = 1024
	dashScopeDefaultModel = ModelDashScopeV4
)

// DashScope implements [Embedder] using Aliyun DashScope's OpenAI-compatible
// embedding API. Text only; image payloads are per-item failures, like
// [OpenAI].
type DashScope struct {
	client *openai.Client
	model  string
	dim    int
	log    *slog.Logger
}

var _ Embedder = (*DashScope)(nil)

// NewDashScope creates a DashScope embedder.
//
// The apiKey is required and can be obtained from:
// https://bailian.console.aliyun.com/?apiKey=1
func NewDashScope(apiKey string, opts ...Option) *DashScope {
	cfg := config{
		model:      dashScopeDefaultModel,
		dim:        dashScopeDefaultDim,
		baseURL:    dashScopeBaseURL,
		httpClient: http.DefaultClient,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(&cfg)
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(cfg.baseURL),
		option.WithHTTPClient(cfg.httpClient),
	)

	return &DashScope{
		client: &client,
		model:  cfg.model,
		dim:    cfg.dim,
		log:    cfg.logger.With("embedder", "dashscope"),
	}
}

// EmbedBatch embeds the text payloads of the batch; image and invalid
// payloads yield nil rows. Batches larger than 10 texts are split into
// multiple API calls.
func (d *DashScope) EmbedBatch(ctx context.Context, payloads []Payload) ([][]float32, error) {
	if len(payloads) == 0 {
		return nil, ErrEmptyInput
	}

	var texts []string
	var rows []int
	for i, p := range payloads {
		if p.Validate() != nil || p.Kind() != KindText {
			d.log.Warn("payload not supported by this embedder", "index", i)
			continue
		}
		texts = append(texts, p.Text)
		rows = append(rows, i)
	}

	result := make([][]float32, len(payloads))
	for i := 0; i < len(texts); i += dashScopeMaxBatch {
		end := min(i+dashScopeMaxBatch, len(texts))

		vecs, err := d.callAPI(ctx, texts[i:end])
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
func (d *DashScope) Dimension() int {
	return d.dim
}

// Model returns the DashScope model identifier (e.g., "text-embedding-v4").
func (d *DashScope) Model() string {
	return d.model
}

func (d *DashScope) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Model:          d.model,
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Dimensions:     openai.Int(int64(d.dim)),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}

	resp, err := d.client.Embeddings.New(ctx, params)
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
