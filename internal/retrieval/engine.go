package retrieval

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/orthopilot/claimpilot/internal/cache"
	"github.com/orthopilot/claimpilot/internal/llm"
	"github.com/orthopilot/claimpilot/internal/model"
	"github.com/orthopilot/claimpilot/internal/store"
)

// candidateK is how many nearest catalog rows a candidate search returns.
// There is no minimum-similarity cutoff: a non-empty catalog always yields
// up to candidateK rows and the selection stage decides relevance.
const candidateK = 50

const embeddingTTL = 24 * time.Hour

// Engine turns free-text clinical search terms into ranked ICD-10
// candidates from the reference catalog. The query embedding is memoized
// so repeated searches for the same terms skip the embedding call.
type Engine struct {
	llm   llm.Client
	codes store.CodeStore
	cache cache.Cache
	log   zerolog.Logger
}

// NewEngine creates a candidate-search engine. cache may be nil to
// disable embedding memoization.
func NewEngine(client llm.Client, codes store.CodeStore, c cache.Cache, log zerolog.Logger) *Engine {
	return &Engine{llm: client, codes: codes, cache: c, log: log}
}

// FindCandidates joins the search terms into one query, embeds it, and
// returns up to candidateK ICD-10 rows by ascending vector distance.
// Empty input returns an empty result without any network call, and an
// embedding failure degrades to an empty result rather than an error.
func (e *Engine) FindCandidates(ctx context.Context, searchTerms []string) ([]model.CodeRef, error) {
	query := strings.TrimSpace(strings.Join(searchTerms, " "))
	if query == "" {
		return nil, nil
	}

	vector, err := e.queryEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(vector) == 0 {
		e.log.Warn().Str("query", query).Msg("query embedding unavailable, returning no candidates")
		return nil, nil
	}

	return e.codes.NearestICD10(ctx, vector, candidateK)
}

func (e *Engine) queryEmbedding(ctx context.Context, query string) ([]float32, error) {
	key := cache.EmbeddingKey(query)
	if e.cache != nil {
		if raw, ok := e.cache.Get(key); ok {
			var vector []float32
			if err := json.Unmarshal(raw, &vector); err == nil {
				return vector, nil
			}
			// A corrupt cache entry is recomputed, not fatal.
			_ = e.cache.Delete(key)
		}
	}

	vectors, err := e.llm.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, nil
	}

	if e.cache != nil {
		if raw, err := json.Marshal(vectors[0]); err == nil {
			_ = e.cache.Set(key, raw, embeddingTTL)
		}
	}
	return vectors[0], nil
}
