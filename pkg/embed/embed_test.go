package embed_test

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/isearch/isearch/pkg/embed"
)

// fakeEmbeddingResponse builds a minimal OpenAI-compatible embedding response.
func fakeEmbeddingResponse(dim int, texts []string) []byte {
	type embItem struct {
		Object    string    `json:"object"`
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	}
	type usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	}
	type resp struct {
		Object string    `json:"object"`
		Model  string    `json:"model"`
		Data   []embItem `json:"data"`
		Usage  usage     `json:"usage"`
	}

	data := make([]embItem, len(texts))
	for i := range texts {
		vec := make([]float64, dim)
		for j := range vec {
			vec[j] = float64(i+1) * 0.01 * float64(j+1)
		}
		data[i] = embItem{
			Object:    "embedding",
			Index:     i,
			Embedding: vec,
		}
	}

	r := resp{
		Object: "list",
		Model:  "test-model",
		Data:   data,
		Usage:  usage{PromptTokens: 10, TotalTokens: 10},
	}
	b, _ := json.Marshal(r)
	return b
}

// newFakeServer creates a test HTTP server that returns fake embeddings.
func newFakeServer(t *testing.T, dim int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			Input interface{} `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		// Determine the number of inputs.
		var texts []string
		switch v := req.Input.(type) {
		case string:
			texts = []string{v}
		case []interface{}:
			for _, item := range v {
				texts = append(texts, fmt.Sprint(item))
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(fakeEmbeddingResponse(dim, texts))
	}))
}

func texts(ss ...string) []embed.Payload {
	out := make([]embed.Payload, len(ss))
	for i, s := range ss {
		out[i] = embed.Text(s)
	}
	return out
}

func assertUnit(t *testing.T, vec []float32) {
	t.Helper()
	var norm float64
	for _, x := range vec {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1) > 1e-4 {
		t.Errorf("vector norm² = %v, want 1", norm)
	}
}

func TestPayloadKinds(t *testing.T) {
	if embed.Text("hi").Kind() != embed.KindText {
		t.Error("text payload misclassified")
	}
	if embed.Image([]byte{1, 2}).Kind() != embed.KindImage {
		t.Error("image payload misclassified")
	}

	if err := embed.Text("hi").Validate(); err != nil {
		t.Errorf("valid text payload rejected: %v", err)
	}
	if err := (embed.Payload{}).Validate(); err == nil {
		t.Error("empty payload accepted")
	}
	if err := (embed.Payload{Text: "x", Image: []byte{1}}).Validate(); err == nil {
		t.Error("double-set payload accepted")
	}
}

func TestOpenAI_EmbedBatch(t *testing.T) {
	const dim = 8
	srv := newFakeServer(t, dim)
	defer srv.Close()

	e := embed.NewOpenAI("test-key",
		embed.WithBaseURL(srv.URL),
		embed.WithDimension(dim),
	)
	if e.Dimension() != dim {
		t.Fatalf("Dimension() = %d, want %d", e.Dimension(), dim)
	}

	vecs, err := e.EmbedBatch(context.Background(), texts("a", "b", "c", "d"))
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 4 {
		t.Fatalf("len(vecs) = %d, want 4", len(vecs))
	}
	for i, vec := range vecs {
		if len(vec) != dim {
			t.Errorf("vecs[%d]: len = %d, want %d", i, len(vec), dim)
		}
		assertUnit(t, vec)
	}
}

func TestOpenAI_ImagePayloadIsPerItemFailure(t *testing.T) {
	const dim = 4
	srv := newFakeServer(t, dim)
	defer srv.Close()

	e := embed.NewOpenAI("test-key",
		embed.WithBaseURL(srv.URL),
		embed.WithDimension(dim),
	)

	vecs, err := e.EmbedBatch(context.Background(), []embed.Payload{
		embed.Text("hello"),
		embed.Image([]byte{0xFF, 0xD8}),
		embed.Text("world"),
	})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if vecs[0] == nil || vecs[2] == nil {
		t.Error("text rows should embed")
	}
	if vecs[1] != nil {
		t.Error("image row should be a nil row for a text-only embedder")
	}
}

func TestDashScope_EmbedBatch_LargeBatch(t *testing.T) {
	// Verify that batches > 10 are split automatically.
	const dim = 2
	srv := newFakeServer(t, dim)
	defer srv.Close()

	e := embed.NewDashScope("test-key",
		embed.WithBaseURL(srv.URL),
		embed.WithDimension(dim),
	)

	batch := make([]embed.Payload, 25)
	for i := range batch {
		batch[i] = embed.Text(fmt.Sprintf("text-%d", i))
	}

	vecs, err := e.EmbedBatch(context.Background(), batch)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 25 {
		t.Fatalf("len(vecs) = %d, want 25", len(vecs))
	}
	for i, vec := range vecs {
		if vec == nil {
			t.Errorf("vecs[%d] is nil", i)
		}
	}
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	const dim = 4
	srv := newFakeServer(t, dim)
	defer srv.Close()

	e := embed.NewOpenAI("test-key",
		embed.WithBaseURL(srv.URL),
		embed.WithDimension(dim),
	)

	if _, err := e.EmbedBatch(context.Background(), nil); err != embed.ErrEmptyInput {
		t.Fatalf("EmbedBatch nil: got %v, want ErrEmptyInput", err)
	}
}

func TestStaticDeterministic(t *testing.T) {
	e := embed.NewStatic(16)
	ctx := context.Background()

	a1, err := e.EmbedBatch(ctx, texts("same"))
	if err != nil {
		t.Fatal(err)
	}
	a2, err := e.EmbedBatch(ctx, texts("same"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.EmbedBatch(ctx, texts("different"))
	if err != nil {
		t.Fatal(err)
	}

	if embed.Similarity(a1[0], a2[0]) != 100 {
		t.Error("equal payloads embedded differently")
	}
	if embed.Similarity(a1[0], b[0]) > 99 {
		t.Error("distinct payloads embedded identically")
	}
	assertUnit(t, a1[0])

	// Same text as image bytes is a different payload.
	img, err := e.EmbedBatch(ctx, []embed.Payload{embed.Image([]byte("same"))})
	if err != nil {
		t.Fatal(err)
	}
	if embed.Similarity(a1[0], img[0]) == 100 {
		t.Error("text and image payloads should embed differently")
	}
}

func TestStaticInvalidPayloadNilRow(t *testing.T) {
	e := embed.NewStatic(8)
	vecs, err := e.EmbedBatch(context.Background(), []embed.Payload{
		embed.Text("ok"),
		{},
	})
	if err != nil {
		t.Fatal(err)
	}
	if vecs[0] == nil || vecs[1] != nil {
		t.Errorf("rows = [%v %v], want [vec nil]", vecs[0] != nil, vecs[1] != nil)
	}
}

func TestRemoteEmbedBatch(t *testing.T) {
	const dim = 3

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Items []struct {
				Kind string `json:"kind"`
				Text string `json:"text"`
				Data string `json:"data"`
			} `json:"items"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		// Embed everything except items marked "fail"; those come back null.
		vectors := make([]any, len(req.Items))
		for i, item := range req.Items {
			if item.Text == "fail" {
				continue
			}
			vectors[i] = []float64{1, float64(i), 0}
		}
		json.NewEncoder(w).Encode(map[string]any{"vectors": vectors})
	}))
	defer srv.Close()

	e := embed.NewRemote(srv.URL, dim)
	vecs, err := e.EmbedBatch(context.Background(), []embed.Payload{
		embed.Text("hello"),
		embed.Image([]byte{1, 2, 3}),
		embed.Text("fail"),
	})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}

	if vecs[0] == nil || vecs[1] == nil {
		t.Error("expected vectors for text and image items")
	}
	if vecs[2] != nil {
		t.Error("null vector from server should be a nil row")
	}
	assertUnit(t, vecs[0])
}

func TestRemoteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := embed.NewRemote(srv.URL, 3)
	if _, err := e.EmbedBatch(context.Background(), texts("x")); err == nil {
		t.Fatal("expected error for server failure")
	}
}

func TestEmbedder_Interface(t *testing.T) {
	var _ embed.Embedder = (*embed.DashScope)(nil)
	var _ embed.Embedder = (*embed.OpenAI)(nil)
	var _ embed.Embedder = (*embed.Remote)(nil)
	var _ embed.Embedder = (*embed.Static)(nil)
}
