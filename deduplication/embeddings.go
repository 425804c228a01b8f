package deduplication

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"corpusdedup/config"
	"corpusdedup/types"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
	"github.com/google/generative-ai-go/genai"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
)

// Embedder abstracts a text->embedding generator.
// Implementations return one vector per input text, in input order.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
}

// NewEmbedder builds the provider named in cfg. Remote providers read their API key
// from COHERE_API_KEY, OPENAI_API_KEY or GEMINI_API_KEY.
func NewEmbedder(ctx context.Context, cfg config.SemanticConfig) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch cfg.EmbeddingProvider {
	case config.ProviderHashing, "":
		e = NewHashingEmbeddings(cfg.EmbeddingDim, cfg.PoolingStrategy, cfg.EmbeddingModel)
	case config.ProviderCohere:
		e, err = newCohereEmbeddings(cfg.EmbeddingModel)
	case config.ProviderOpenAI:
		e, err = newOpenAIEmbeddings(cfg.EmbeddingModel)
	case config.ProviderGemini:
		e, err = newGeminiEmbeddings(ctx, cfg.EmbeddingModel)
	default:
		err = fmt.Errorf("%w: unknown embedding provider %q", types.ErrConfig, cfg.EmbeddingProvider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.EmbeddingRateLimit > 0 {
		e = &rateLimitedEmbedder{
			Embedder: e,
			limiter:  rate.NewLimiter(rate.Limit(cfg.EmbeddingRateLimit), 1),
		}
	}
	return e, nil
}

// rateLimitedEmbedder spaces provider requests with a token bucket
type rateLimitedEmbedder struct {
	Embedder
	limiter *rate.Limiter
}

func (r *rateLimitedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.Embedder.EmbedTexts(ctx, texts)
}

// Close closes the wrapped provider when it holds resources
func (r *rateLimitedEmbedder) Close() error {
	if c, ok := r.Embedder.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// CohereEmbeddings implements Embedder using the Cohere Embed API (v2)
// SDK: github.com/cohere-ai/cohere-go/v2
type CohereEmbeddings struct {
	client *cohereclient.Client
	model  string
}

func newCohereEmbeddings(model string) (*CohereEmbeddings, error) {
	key := os.Getenv("COHERE_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("%w: COHERE_API_KEY is not set", types.ErrConfig)
	}
	if model == "" || !strings.HasPrefix(model, "embed-") {
		model = "embed-english-v3.0"
	}
	// Force HTTP/1.1 to avoid HTTP/2 protocol errors on long batches
	httpClient := &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			TLSNextProto:      make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),
			ForceAttemptHTTP2: false,
		},
	}
	client := cohereclient.NewClient(
		cohereclient.WithToken(key),
		cohereclient.WithHTTPClient(httpClient),
	)
	return &CohereEmbeddings{client: client, model: model}, nil
}

func (c *CohereEmbeddings) ModelName() string { return c.model }

func (c *CohereEmbeddings) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	resp, err := c.client.V2.Embed(
		ctx,
		&cohere.V2EmbedRequest{
			Texts:          texts,
			Model:          c.model,
			InputType:      cohere.EmbedInputTypeSearchDocument,
			EmbeddingTypes: []cohere.EmbeddingType{cohere.EmbeddingTypeFloat},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("cohere embed error: %w", err)
	}
	if resp == nil || resp.Embeddings == nil || resp.Embeddings.Float == nil {
		return nil, errors.New("cohere embed returned no float embeddings")
	}

	floats := resp.Embeddings.Float
	if len(floats) != len(texts) {
		return nil, fmt.Errorf("cohere embedding count mismatch: got %d, want %d", len(floats), len(texts))
	}

	out := make([][]float32, len(floats))
	for i, vec := range floats {
		fv := make([]float32, len(vec))
		for j, v := range vec {
			fv[j] = float32(v)
		}
		out[i] = fv
	}
	return out, nil
}

// OpenAIEmbeddings implements Embedder using the OpenAI Embeddings API.
// OPENAI_BASE_URL points it at a compatible server.
type OpenAIEmbeddings struct {
	client *openai.Client
	model  string
}

func newOpenAIEmbeddings(model string) (*OpenAIEmbeddings, error) {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY is not set", types.ErrConfig)
	}
	if model == "" || strings.HasPrefix(model, "hashing") {
		model = string(openai.SmallEmbedding3)
	}
	cfg := openai.DefaultConfig(key)
	if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
		cfg.BaseURL = base
	}
	if org := os.Getenv("OPENAI_ORG_ID"); org != "" {
		cfg.OrgID = org
	}
	return &OpenAIEmbeddings{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

func (o *OpenAIEmbeddings) ModelName() string { return o.model }

func (o *OpenAIEmbeddings) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(o.model),
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusRequestEntityTooLarge {
			return nil, fmt.Errorf("%w: openai rejected batch of %d: %w", types.ErrResourceExhausted, len(texts), err)
		}
		return nil, fmt.Errorf("openai embeddings error: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embedding count mismatch: got %d, want %d", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("openai embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// GeminiEmbeddings implements Embedder using the Gemini batch embedding API
type GeminiEmbeddings struct {
	client *genai.Client
	model  string
}

func newGeminiEmbeddings(ctx context.Context, model string) (*GeminiEmbeddings, error) {
	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY is not set", types.ErrConfig)
	}
	if model == "" || strings.HasPrefix(model, "hashing") {
		model = "text-embedding-004"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(key))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiEmbeddings{client: client, model: model}, nil
}

func (g *GeminiEmbeddings) ModelName() string { return g.model }

func (g *GeminiEmbeddings) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	em := g.client.EmbeddingModel(g.model)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}
	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("gemini embed error: %w", err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embedding count mismatch: got %d, want %d", len(res.Embeddings), len(texts))
	}

	out := make([][]float32, len(texts))
	for i, e := range res.Embeddings {
		if e == nil {
			return nil, fmt.Errorf("gemini returned no embedding for text %d", i)
		}
		out[i] = e.Values
	}
	return out, nil
}

// Close releases the Gemini client
func (g *GeminiEmbeddings) Close() error {
	return g.client.Close()
}
