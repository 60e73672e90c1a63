package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medivault/backend/internal/clinical/extract"
	"github.com/medivault/backend/internal/storage/models"
	"github.com/medivault/backend/internal/summary"
)

const referralNote = "Diagnosis: Type 2 Diabetes Mellitus. Current Medications: 1. Metformin 500mg twice daily. " +
	"Known Allergies: Penicillin, Peanuts. Follow-up in 2 weeks"

type memStore struct {
	mu         sync.Mutex
	records    map[string]*models.MedicalRecord
	summaries  map[string]*models.Summary
	chunks     map[string][]models.DocumentChunk
	summaryErr error
	chunkErr   error
}

func newMemStore() *memStore {
	return &memStore{
		records:   make(map[string]*models.MedicalRecord),
		summaries: make(map[string]*models.Summary),
		chunks:    make(map[string][]models.DocumentChunk),
	}
}

func (s *memStore) InsertRecord(_ context.Context, rec *models.MedicalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

func (s *memStore) GetRecord(_ context.Context, id string) (*models.MedicalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *memStore) ListRecords(_ context.Context, healthID string) ([]models.MedicalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.MedicalRecord
	for _, rec := range s.records {
		if rec.HealthID == healthID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (s *memStore) UpsertSummary(_ context.Context, sum *models.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.summaryErr != nil {
		return s.summaryErr
	}
	cp := *sum
	s.summaries[sum.RecordID] = &cp
	return nil
}

func (s *memStore) ReplaceChunks(_ context.Context, recordID string, chunks []models.DocumentChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chunkErr != nil {
		return s.chunkErr
	}
	s.chunks[recordID] = chunks
	return nil
}

type recordingCache struct {
	mu       sync.Mutex
	patients []string
	err      error
}

func (c *recordingCache) InvalidatePatient(_ context.Context, healthID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.patients = append(c.patients, healthID)
	return c.err
}

type recordingGraph struct {
	mu      sync.Mutex
	records []string
	facts   []extract.Facts
}

func (g *recordingGraph) Project(_ context.Context, _, recordID, _ string, facts extract.Facts) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.records = append(g.records, recordID)
	g.facts = append(g.facts, facts)
	return nil
}

func newTestProcessor(store Store, opts ...Option) *Processor {
	composer := summary.NewComposer(extract.NewDefault(), summary.Capabilities{RuleBased: true})
	p := NewProcessor(store, composer, Config{ChunkSize: 2000, ChunkOverlapWords: 5, RegenWorkers: 2}, opts...)

	var mu sync.Mutex
	n := 0
	p.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
	p.now = func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) }
	return p
}

func TestProcessDocument(t *testing.T) {
	store := newMemStore()
	cache := &recordingCache{}
	graph := &recordingGraph{}
	p := newTestProcessor(store, WithCache(cache), WithGraph(graph))

	res, err := p.ProcessDocument(context.Background(), Upload{
		HealthID:     "HID-001",
		DocumentType: "prescription",
		Content:      referralNote,
		UploadedBy:   "dr-lee",
	})
	require.NoError(t, err)

	assert.Equal(t, "id-1", res.RecordID)
	assert.Equal(t, "prescription", res.Title)
	assert.Equal(t, summary.High, res.Summary.Confidence)
	assert.Equal(t, 1, res.Chunks)

	stored := store.summaries[res.RecordID]
	require.NotNil(t, stored)
	assert.Equal(t, res.Summary.EmergencySummary, stored.EmergencySummary)
	assert.Equal(t, "High", stored.Confidence)

	assert.Equal(t, "dr-lee", store.records[res.RecordID].UploadedBy)
	assert.Equal(t, []string{"HID-001"}, cache.patients)
	assert.Equal(t, []string{res.RecordID}, graph.records)
	assert.Equal(t, "Type 2 Diabetes Mellitus", graph.facts[0].Diagnosis)
}

func TestProcessDocumentRequiresHealthID(t *testing.T) {
	p := newTestProcessor(newMemStore())

	_, err := p.ProcessDocument(context.Background(), Upload{HealthID: "  ", Content: referralNote})
	assert.Error(t, err)
}

func TestProcessDocumentEmptyContent(t *testing.T) {
	store := newMemStore()
	p := newTestProcessor(store)

	res, err := p.ProcessDocument(context.Background(), Upload{HealthID: "HID-001", DocumentType: "lab_report"})
	require.NoError(t, err)

	assert.Equal(t, summary.Low, res.Summary.Confidence)
	assert.Equal(t, 0, res.Chunks)
	assert.Len(t, strings.Split(res.Summary.EmergencySummary, "\n"), 3)
	assert.Equal(t, "lab report", res.Title)
}

func TestProcessDocumentHTML(t *testing.T) {
	store := newMemStore()
	p := newTestProcessor(store)

	html := `<html><head><title>Discharge Summary</title><script>var x = 1;</script></head>
<body><nav>Home | Records</nav><p>Diagnosis: Hypertension.</p><p>Current Medications: Lisinopril 10mg daily.</p></body></html>`

	res, err := p.ProcessDocument(context.Background(), Upload{
		HealthID:     "HID-002",
		DocumentType: "discharge_summary",
		Content:      html,
		ContentType:  "text/html",
	})
	require.NoError(t, err)

	assert.Equal(t, "Discharge Summary", res.Title)
	content := store.records[res.RecordID].Content
	assert.NotContains(t, content, "var x")
	assert.NotContains(t, content, "Home | Records")
	assert.Contains(t, content, "Diagnosis: Hypertension.")
	assert.Equal(t, "Hypertension", res.Summary.Facts.Diagnosis)
}

func TestProcessDocumentSummaryFailure(t *testing.T) {
	store := newMemStore()
	store.summaryErr = errors.New("disk full")
	p := newTestProcessor(store)

	_, err := p.ProcessDocument(context.Background(), Upload{HealthID: "HID-001", Content: referralNote})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestProcessDocumentChunkFailureIsNotFatal(t *testing.T) {
	store := newMemStore()
	store.chunkErr = errors.New("locked")
	cache := &recordingCache{err: errors.New("redis down")}
	p := newTestProcessor(store, WithCache(cache))

	res, err := p.ProcessDocument(context.Background(), Upload{HealthID: "HID-001", Content: referralNote})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Chunks)
	assert.NotNil(t, store.summaries[res.RecordID])
}

func TestRegenerateSummary(t *testing.T) {
	store := newMemStore()
	p := newTestProcessor(store)

	res, err := p.ProcessDocument(context.Background(), Upload{HealthID: "HID-001", Content: referralNote})
	require.NoError(t, err)
	delete(store.summaries, res.RecordID)

	rec, err := p.RegenerateSummary(context.Background(), res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, summary.High, rec.Confidence)
	assert.NotNil(t, store.summaries[res.RecordID])

	_, err = p.RegenerateSummary(context.Background(), "missing")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestRegenerateAll(t *testing.T) {
	store := newMemStore()
	cache := &recordingCache{}
	p := newTestProcessor(store, WithCache(cache))

	for i := 0; i < 5; i++ {
		_, err := p.ProcessDocument(context.Background(), Upload{HealthID: "HID-001", Content: referralNote})
		require.NoError(t, err)
	}
	_, err := p.ProcessDocument(context.Background(), Upload{HealthID: "HID-999", Content: referralNote})
	require.NoError(t, err)

	store.summaries = make(map[string]*models.Summary)
	cache.patients = nil

	n, err := p.RegenerateAll(context.Background(), "HID-001")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Len(t, store.summaries, 5)
	assert.Equal(t, []string{"HID-001"}, cache.patients)
}

func TestRegenerateAllPropagatesStoreError(t *testing.T) {
	store := newMemStore()
	p := newTestProcessor(store)

	_, err := p.ProcessDocument(context.Background(), Upload{HealthID: "HID-001", Content: referralNote})
	require.NoError(t, err)

	store.summaryErr = errors.New("readonly")
	_, err = p.RegenerateAll(context.Background(), "HID-001")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "readonly")
}

func TestChunkText(t *testing.T) {
	assert.Nil(t, chunkText("   ", 100, 2))
	assert.Equal(t, []string{"one two three"}, chunkText("one  two\nthree", 100, 2))

	chunks := chunkText("aaa bbb ccc ddd eee fff", 12, 1)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 12)
	}
	first := strings.Fields(chunks[0])
	second := strings.Fields(chunks[1])
	assert.Equal(t, first[len(first)-1], second[0])
}

func TestIsHTML(t *testing.T) {
	assert.True(t, isHTML("text/html; charset=utf-8", "plain"))
	assert.True(t, isHTML("", "  <!DOCTYPE html><html></html>"))
	assert.False(t, isHTML("text/plain", "Diagnosis: <none>"))
}
