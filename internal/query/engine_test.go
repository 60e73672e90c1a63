package query

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/medivault/backend/internal/storage/models"
)

type fakeStore struct {
	chunks []models.ChunkContext
	err    error
	calls  int
}

func (f *fakeStore) ChunksForPatient(_ context.Context, _ string) ([]models.ChunkContext, error) {
	f.calls++
	return f.chunks, f.err
}

type MockCache struct {
	mock.Mock
}

func (m *MockCache) GetSearch(ctx context.Context, healthID, queryHash string, out interface{}) (bool, error) {
	args := m.Called(ctx, healthID, queryHash, out)
	return args.Bool(0), args.Error(1)
}

func (m *MockCache) SetSearch(ctx context.Context, healthID, queryHash string, value interface{}, ttl time.Duration) error {
	args := m.Called(ctx, healthID, queryHash, value, ttl)
	return args.Error(0)
}

func TestSearchScoresQueryWordOverlap(t *testing.T) {
	store := &fakeStore{chunks: []models.ChunkContext{
		{ChunkID: "c1", RecordID: "r1", Text: "Type 2 diabetes managed with Metformin 500mg"},
		{ChunkID: "c2", RecordID: "r2", Text: "Chest x-ray clear, no acute findings"},
	}}

	results, err := NewEngine(store).Search(context.Background(), "HID-1", "diabetes metformin", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ChunkID)
	assert.Equal(t, 1.0, results[0].Similarity)
}

func TestSearchOrdersBySimilarityThenStorageOrder(t *testing.T) {
	store := &fakeStore{chunks: []models.ChunkContext{
		{ChunkID: "newest", Text: "glucose reading"},
		{ChunkID: "both", Text: "glucose and insulin adjusted"},
		{ChunkID: "older", Text: "insulin pen training"},
		{ChunkID: "none", Text: "knee pain"},
	}}

	results, err := NewEngine(store).Search(context.Background(), "HID-1", "Glucose INSULIN glucose", 10)
	require.NoError(t, err)

	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.ChunkID)
	}
	assert.Equal(t, []string{"both", "newest", "older"}, ids)
	assert.Equal(t, 0.5, results[1].Similarity)
}

func TestSearchTruncatesToTopK(t *testing.T) {
	var chunks []models.ChunkContext
	for i := 0; i < 8; i++ {
		chunks = append(chunks, models.ChunkContext{ChunkID: string(rune('a' + i)), Text: "blood pressure"})
	}

	results, err := NewEngine(&fakeStore{chunks: chunks}).Search(context.Background(), "HID-1", "pressure", 3)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.Equal(t, "a", results[0].ChunkID)
}

func TestSearchEmptyInputs(t *testing.T) {
	store := &fakeStore{}
	engine := NewEngine(store)

	results, err := engine.Search(context.Background(), "HID-1", "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = engine.Search(context.Background(), "HID-1", "   ", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 1, store.calls)
}

func TestSearchPropagatesStoreError(t *testing.T) {
	_, err := NewEngine(&fakeStore{err: errors.New("locked")}).Search(context.Background(), "HID-1", "x", 5)
	assert.Error(t, err)
}

func TestSearchWithContextShapesResults(t *testing.T) {
	date := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{chunks: []models.ChunkContext{
		{ChunkID: "c1", RecordID: "r1", Text: strings.Repeat("hba1c ", 100), DocumentType: "lab_report", UploadDate: date},
		{ChunkID: "c2", RecordID: "r2", Text: "hba1c glucose statin", DocumentType: "prescription", UploadDate: date, Confidence: "High"},
	}}

	results, err := NewEngine(store).SearchWithContext(context.Background(), "HID-1", "hba1c glucose statin")
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "c2", results[0].ChunkID)
	assert.Equal(t, "High", results[0].Confidence)
	assert.Equal(t, 1.0, results[0].Similarity)

	assert.Equal(t, 0.333, results[1].Similarity)
	assert.Equal(t, "Medium", results[1].Confidence)
	assert.Len(t, []rune(results[1].Text), 300)
	assert.Equal(t, "lab_report", results[1].DocumentType)
	assert.Equal(t, date, results[1].Date)
}

func TestSearchWithContextUsesCache(t *testing.T) {
	t.Run("hit skips the store", func(t *testing.T) {
		store := &fakeStore{}
		cache := new(MockCache)
		cache.On("GetSearch", mock.Anything, "HID-1", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				out := args.Get(3).(*[]Result)
				*out = []Result{{ChunkID: "cached"}}
			}).
			Return(true, nil)

		results, err := NewEngine(store, WithCache(cache, time.Minute)).SearchWithContext(context.Background(), "HID-1", "metformin")
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "cached", results[0].ChunkID)
		assert.Zero(t, store.calls)
	})

	t.Run("miss populates the cache", func(t *testing.T) {
		store := &fakeStore{chunks: []models.ChunkContext{{ChunkID: "c1", Text: "metformin"}}}
		cache := new(MockCache)
		cache.On("GetSearch", mock.Anything, "HID-1", mock.Anything, mock.Anything).Return(false, nil)
		cache.On("SetSearch", mock.Anything, "HID-1", mock.Anything, mock.Anything, time.Minute).Return(nil)

		results, err := NewEngine(store, WithCache(cache, time.Minute)).SearchWithContext(context.Background(), "HID-1", "Metformin")
		require.NoError(t, err)
		assert.Len(t, results, 1)
		cache.AssertExpectations(t)
	})

	t.Run("cache failure does not fail the search", func(t *testing.T) {
		store := &fakeStore{chunks: []models.ChunkContext{{ChunkID: "c1", Text: "metformin"}}}
		cache := new(MockCache)
		cache.On("GetSearch", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false, errors.New("conn refused"))
		cache.On("SetSearch", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("conn refused"))

		results, err := NewEngine(store, WithCache(cache, time.Minute)).SearchWithContext(context.Background(), "HID-1", "metformin")
		require.NoError(t, err)
		assert.Len(t, results, 1)
	})
}

func TestSearchWithContextTopK(t *testing.T) {
	var chunks []models.ChunkContext
	for i := 0; i < 8; i++ {
		chunks = append(chunks, models.ChunkContext{ChunkID: string(rune('a' + i)), Text: "insulin dose"})
	}
	store := &fakeStore{chunks: chunks}

	results, err := NewEngine(store).SearchWithContext(context.Background(), "HID-1", "insulin")
	require.NoError(t, err)
	assert.Len(t, results, DefaultTopK)

	results, err = NewEngine(store, WithTopK(2)).SearchWithContext(context.Background(), "HID-1", "insulin")
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ChunkID)
}
