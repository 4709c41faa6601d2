package vector

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"google.golang.org/genai"

	"dbquery/internal/config"
)

// HashDimensions is the vector size produced by HashEmbedder
const HashDimensions = 256

// geminiBatchSize is the largest batch sent in one embed request
const geminiBatchSize = 100

// Embedder turns texts into vectors
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the vector size, or 0 when it is only known after the first call
	Dimensions() int
	Name() string
}

// HashEmbedder is an offline embedder using feature hashing of lowercase tokens.
// Texts sharing words land close together; no model is involved.
type HashEmbedder struct {
	dims int
}

func NewHashEmbedder() *HashEmbedder {
	return &HashEmbedder{dims: HashDimensions}
}

func (h *HashEmbedder) Name() string    { return "hash" }
func (h *HashEmbedder) Dimensions() int { return h.dims }

func (h *HashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.embed(t)
	}
	return out, nil
}

func (h *HashEmbedder) embed(text string) []float32 {
	vec := make([]float32, h.dims)
	for _, tok := range Tokenize(text) {
		sum := xxhash.Sum64String(tok)
		idx := sum % uint64(h.dims)
		if sum>>63 == 1 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	normalize(vec)
	return vec
}

// Tokenize lowercases text and splits it on anything that is not a letter or digit
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}

// GenAIEmbedder generates embeddings with the Gemini API
type GenAIEmbedder struct {
	client *genai.Client
	model  string
	dims   int
}

// NewGenAIEmbedder creates a Gemini embedder. baseURL overrides the API endpoint when set.
func NewGenAIEmbedder(ctx context.Context, apiKey, model, baseURL string) (*GenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIEmbedder{client: client, model: model}, nil
}

func (e *GenAIEmbedder) Name() string    { return "gemini:" + e.model }
func (e *GenAIEmbedder) Dimensions() int { return e.dims }

func (e *GenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += geminiBatchSize {
		end := min(start+geminiBatchSize, len(texts))

		contents := make([]*genai.Content, 0, end-start)
		for _, text := range texts[start:end] {
			contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
		}

		result, err := e.client.Models.EmbedContent(ctx, e.model, contents, nil)
		if err != nil {
			return nil, fmt.Errorf("GenAI embed failed: %w", err)
		}
		if len(result.Embeddings) != end-start {
			return nil, fmt.Errorf("GenAI returned %d embeddings for %d texts", len(result.Embeddings), end-start)
		}
		for _, emb := range result.Embeddings {
			out = append(out, emb.Values)
		}
	}
	if len(out) > 0 {
		e.dims = len(out[0])
	}
	return out, nil
}

// NewEmbedder picks the embedder for the cockpit settings. Demo mode and the
// DEMO provider always use the offline hash embedder.
func NewEmbedder(ctx context.Context, cfg config.VectorConfig, demo bool) (Embedder, error) {
	if demo || cfg.Provider == "" || cfg.Provider == config.VectorProviderDemo {
		return NewHashEmbedder(), nil
	}
	if cfg.Provider == config.VectorProviderGemini {
		return NewGenAIEmbedder(ctx, cfg.APIKey, cfg.EmbeddingModel, "")
	}
	return nil, fmt.Errorf("unknown vector provider %q", cfg.Provider)
}
