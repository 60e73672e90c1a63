// Package query ranks a patient's stored text chunks against an ad hoc
// keyword query.
package query

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/medivault/backend/internal/metrics"
	"github.com/medivault/backend/internal/storage/models"
	"github.com/medivault/backend/pkg/logger"
	"github.com/medivault/backend/pkg/utils"
)

const (
	DefaultTopK       = 5
	contextTextLength = 300
	defaultConfidence = "Medium"
	cacheType         = "search"
)

type ChunkStore interface {
	ChunksForPatient(ctx context.Context, healthID string) ([]models.ChunkContext, error)
}

// ResultCache stores enriched search results per patient and query hash.
type ResultCache interface {
	GetSearch(ctx context.Context, healthID, queryHash string, out interface{}) (bool, error)
	SetSearch(ctx context.Context, healthID, queryHash string, value interface{}, ttl time.Duration) error
}

type Result struct {
	RecordID     string    `json:"record_id"`
	ChunkID      string    `json:"chunk_id"`
	Text         string    `json:"text"`
	Similarity   float64   `json:"similarity"`
	DocumentType string    `json:"document_type"`
	Date         time.Time `json:"date"`
	Confidence   string    `json:"confidence"`
}

type Engine struct {
	store    ChunkStore
	cache    ResultCache
	cacheTTL time.Duration
	topK     int
}

type Option func(*Engine)

// WithCache enables result caching for SearchWithContext.
func WithCache(cache ResultCache, ttl time.Duration) Option {
	return func(e *Engine) {
		e.cache = cache
		e.cacheTTL = ttl
	}
}

// WithTopK changes how many results SearchWithContext returns.
func WithTopK(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.topK = k
		}
	}
}

func NewEngine(store ChunkStore, opts ...Option) *Engine {
	e := &Engine{store: store, topK: DefaultTopK}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search returns at most topK chunks of the patient that share at least one
// word with the query, best first. Equal scores keep storage order, which is
// newest record first.
func (e *Engine) Search(ctx context.Context, healthID, query string, topK int) ([]Result, error) {
	start := time.Now()

	words := queryWords(query)
	if len(words) == 0 {
		return []Result{}, nil
	}

	chunks, err := e.store.ChunksForPatient(ctx, healthID)
	if err != nil {
		return nil, eris.Wrapf(err, "search chunks for %s", healthID)
	}

	results := Rank(chunks, words, topK)

	metrics.SearchDuration.Observe(time.Since(start).Seconds())
	metrics.SearchResultsCount.Observe(float64(len(results)))

	logger.Debug("Search completed",
		zap.String("health_id", healthID),
		zap.Int("chunks_scanned", len(chunks)),
		zap.Int("results", len(results)),
	)

	return results, nil
}

// SearchWithContext is Search with display shaping: top five results (see
// WithTopK), text
// cut to 300 characters, similarity rounded to three decimals and a default
// confidence for records without a summary.
func (e *Engine) SearchWithContext(ctx context.Context, healthID, query string) ([]Result, error) {
	key := utils.HashString(strings.ToLower(strings.TrimSpace(query)))

	if e.cache != nil {
		var cached []Result
		hit, err := e.cache.GetSearch(ctx, healthID, key, &cached)
		if err != nil {
			logger.Warn("Search cache read failed", zap.String("health_id", healthID), zap.Error(err))
		}
		if hit {
			metrics.CacheHits.WithLabelValues(cacheType).Inc()
			return cached, nil
		}
		metrics.CacheMisses.WithLabelValues(cacheType).Inc()
	}

	results, err := e.Search(ctx, healthID, query, e.topK)
	if err != nil {
		return nil, err
	}

	for i := range results {
		results[i].Text = truncate(results[i].Text, contextTextLength)
		results[i].Similarity = math.Round(results[i].Similarity*1000) / 1000
		if results[i].Confidence == "" {
			results[i].Confidence = defaultConfidence
		}
	}

	if e.cache != nil {
		if err := e.cache.SetSearch(ctx, healthID, key, results, e.cacheTTL); err != nil {
			logger.Warn("Search cache write failed", zap.String("health_id", healthID), zap.Error(err))
		}
	}

	return results, nil
}

// Rank scores chunks by the share of query words they contain. Chunks that
// match no word are dropped.
func Rank(chunks []models.ChunkContext, words []string, topK int) []Result {
	if topK <= 0 {
		topK = DefaultTopK
	}

	results := make([]Result, 0, len(chunks))
	for _, ch := range chunks {
		sim := similarity(strings.ToLower(ch.Text), words)
		if sim == 0 {
			continue
		}
		results = append(results, Result{
			RecordID:     ch.RecordID,
			ChunkID:      ch.ChunkID,
			Text:         ch.Text,
			Similarity:   sim,
			DocumentType: ch.DocumentType,
			Date:         ch.UploadDate,
			Confidence:   ch.Confidence,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// queryWords returns the distinct lowercase words of the query in order of
// first appearance.
func queryWords(query string) []string {
	seen := make(map[string]bool)
	var words []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if !seen[w] {
			seen[w] = true
			words = append(words, w)
		}
	}
	return words
}

func similarity(lowerText string, words []string) float64 {
	matches := 0
	for _, w := range words {
		if strings.Contains(lowerText, w) {
			matches++
		}
	}
	return float64(matches) / float64(len(words))
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
