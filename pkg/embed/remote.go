package embed

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// Remote implements [Embedder] against a CLIP-style embedding server: one
// HTTP endpoint that maps texts and images into the same vector space, so a
// text query can rank stored images.
//
// Wire format, JSON over POST:
//
//	request:  {"model": "...", "items": [{"kind": "text", "text": "..."},
//	                                     {"kind": "image", "data": "<base64>"}]}
//	response: {"vectors": [[...], null, ...]}
//
// A null vector in the response is a per-item failure and becomes a nil
// row.
type Remote struct {
	url    string
	model  string
	dim    int
	client *http.Client
	log    *slog.Logger
}

var _ Embedder = (*Remote)(nil)

// NewRemote creates an embedder that POSTs batches to url.
// dim must match what the remote model produces.
func NewRemote(url string, dim int, opts ...Option) *Remote {
	cfg := config{
		httpClient: http.DefaultClient,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(&cfg)
	}
	return &Remote{
		url:    url,
		model:  cfg.model,
		dim:    dim,
		client: cfg.httpClient,
		log:    cfg.logger.With("embedder", "remote"),
	}
}

type remoteItem struct {
	Kind string `json:"kind"`
	Text string `json:"text,omitempty"`
	Data string `json:"data,omitempty"`
}

type remoteRequest struct {
	Model string       `json:"model,omitempty"`
	Items []remoteItem `json:"items"`
}

type remoteResponse struct {
	Vectors []json.RawMessage `json:"vectors"`
	Error   string            `json:"error,omitempty"`
}

// EmbedBatch sends the whole batch in one request. Invalid payloads are
// skipped client-side; items the server could not embed come back null and
// stay nil rows.
func (r *Remote) EmbedBatch(ctx context.Context, payloads []Payload) ([][]float32, error) {
	if len(payloads) == 0 {
		return nil, ErrEmptyInput
	}

	req := remoteRequest{Model: r.model}
	var rows []int
	for i, p := range payloads {
		if err := p.Validate(); err != nil {
			r.log.Warn("skipping invalid payload", "index", i)
			continue
		}
		item := remoteItem{Kind: string(p.Kind())}
		if p.Kind() == KindImage {
			item.Data = base64.StdEncoding.EncodeToString(p.Image)
		} else {
			item.Text = p.Text
		}
		req.Items = append(req.Items, item)
		rows = append(rows, i)
	}

	result := make([][]float32, len(payloads))
	if len(req.Items) == 0 {
		return result, nil
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("embed: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embed: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("embed: call %s: %w", r.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed: %s returned status %d", r.url, resp.StatusCode)
	}

	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("embed: decode response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("embed: remote error: %s", out.Error)
	}
	if len(out.Vectors) != len(req.Items) {
		return nil, fmt.Errorf("embed: got %d vectors for %d items", len(out.Vectors), len(req.Items))
	}

	for j, raw := range out.Vectors {
		if string(raw) == "null" {
			r.log.Warn("remote could not embed item", "index", rows[j])
			continue
		}
		var vec []float32
		if err := json.Unmarshal(raw, &vec); err != nil {
			return nil, fmt.Errorf("embed: decode vector %d: %w", j, err)
		}
		if len(vec) != r.dim {
			return nil, fmt.Errorf("embed: vector %d has %d dims, want %d", j, len(vec), r.dim)
		}
		result[rows[j]] = Normalize(vec)
	}
	return result, nil
}

// Dimension returns the configured vector dimensionality.
func (r *Remote) Dimension() int {
	return r.dim
}
