// Package contacts finds students with internship experience relevant to a
// free-text query, ranked by embedding distance.
package contacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/haasonsaas/copilot/internal/store"
)

// RelevanceNote accompanies every non-empty response.
const RelevanceNote = "Results ranked in order of relevance (smaller distance is better)"

// Metadata identifies the contact behind a result.
type Metadata struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Field     string `json:"field"`
}

// Result is one ranked contact.
type Result struct {
	ID       string   `json:"id"`
	Document string   `json:"document"`
	Metadata Metadata `json:"metadata"`
	Distance float64  `json:"distance"`
}

// Response is the ranked result set, closest first.
type Response struct {
	Metadata string   `json:"metadata,omitempty"`
	Results  []Result `json:"results"`
}

// Searcher answers contact queries.
type Searcher interface {
	Search(ctx context.Context, query string) (*Response, error)
}

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// AccountSource lists the accounts eligible as contacts.
type AccountSource interface {
	ListInternshipAccounts(ctx context.Context) ([]store.Account, error)
}

// Config configures an Index.
type Config struct {
	// Model names the embedding model; it is part of the cache key.
	Model string
	// TopK is the number of results returned. Default: 3.
	TopK   int
	Logger *slog.Logger
}

// Index ranks internship accounts against a query. The candidate set is
// rebuilt from the account source on every search; embeddings are reused
// from the cache when the document text has not changed.
type Index struct {
	accounts AccountSource
	embedder Embedder
	cache    *Cache
	model    string
	topK     int
	logger   *slog.Logger
}

var _ Searcher = (*Index)(nil)

// NewIndex creates an index. cache may be nil to disable caching.
func NewIndex(accounts AccountSource, embedder Embedder, cache *Cache, config Config) *Index {
	if config.TopK <= 0 {
		config.TopK = 3
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Index{
		accounts: accounts,
		embedder: embedder,
		cache:    cache,
		model:    config.Model,
		topK:     config.TopK,
		logger:   config.Logger.With("component", "contacts"),
	}
}

// Document renders the searchable description of an account.
func Document(account store.Account) string {
	return fmt.Sprintf("%s %s is a college student who is pursuing a career in %s and they have already had a relevant internship.",
		account.FirstName, account.LastName, account.Field)
}

// Search returns the closest TopK contacts for query.
func (x *Index) Search(ctx context.Context, query string) (*Response, error) {
	accounts, err := x.accounts.ListInternshipAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list internship accounts: %w", err)
	}
	if len(accounts) == 0 {
		return &Response{Results: []Result{}}, nil
	}

	documents := make([]string, len(accounts))
	for i, account := range accounts {
		documents[i] = Document(account)
	}

	vectors, err := x.embedDocuments(ctx, documents)
	if err != nil {
		return nil, err
	}
	queryVectors, err := x.embedder.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(queryVectors) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(queryVectors))
	}

	results := make([]Result, len(accounts))
	for i, account := range accounts {
		results[i] = Result{
			ID:       strconv.FormatInt(account.ID, 10),
			Document: documents[i],
			Metadata: Metadata{
				ID:        account.ID,
				FirstName: account.FirstName,
				LastName:  account.LastName,
				Email:     account.Email,
				Field:     account.Field,
			},
			Distance: CosineDistance(queryVectors[0], vectors[i]),
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	if len(results) > x.topK {
		results = results[:x.topK]
	}
	return &Response{Metadata: RelevanceNote, Results: results}, nil
}

func (x *Index) embedDocuments(ctx context.Context, documents []string) ([][]float32, error) {
	keys := make([]string, len(documents))
	for i, doc := range documents {
		keys[i] = contentKey(x.model, doc)
	}

	cached := map[string][]float32{}
	if x.cache != nil {
		found, err := x.cache.Get(ctx, keys)
		if err != nil {
			x.logger.WarnContext(ctx, "embedding cache read failed", "error", err)
		} else {
			cached = found
		}
	}

	var missing []string
	var missingKeys []string
	for i, key := range keys {
		if _, ok := cached[key]; ok {
			continue
		}
		missing = append(missing, documents[i])
		missingKeys = append(missingKeys, key)
	}

	if len(missing) > 0 {
		fresh, err := x.embedder.EmbedBatch(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("embed documents: %w", err)
		}
		if len(fresh) != len(missing) {
			return nil, fmt.Errorf("embed documents: got %d vectors for %d documents", len(fresh), len(missing))
		}
		entries := make(map[string][]float32, len(fresh))
		for i, vec := range fresh {
			cached[missingKeys[i]] = vec
			entries[missingKeys[i]] = vec
		}
		if x.cache != nil {
			if err := x.cache.Put(ctx, entries); err != nil {
				x.logger.WarnContext(ctx, "embedding cache write failed", "error", err)
			}
		}
	}

	vectors := make([][]float32, len(documents))
	for i, key := range keys {
		vectors[i] = cached[key]
	}
	return vectors, nil
}

func contentKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}
