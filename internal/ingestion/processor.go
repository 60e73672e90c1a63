package ingestion

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/medivault/backend/internal/clinical/extract"
	"github.com/medivault/backend/internal/metrics"
	"github.com/medivault/backend/internal/storage/models"
	"github.com/medivault/backend/internal/summary"
	"github.com/medivault/backend/pkg/logger"
)

const defaultDocumentType = "other"

type Store interface {
	InsertRecord(ctx context.Context, rec *models.MedicalRecord) error
	GetRecord(ctx context.Context, id string) (*models.MedicalRecord, error)
	ListRecords(ctx context.Context, healthID string) ([]models.MedicalRecord, error)
	UpsertSummary(ctx context.Context, s *models.Summary) error
	ReplaceChunks(ctx context.Context, recordID string, chunks []models.DocumentChunk) error
}

// CacheInvalidator drops derived data that depends on a patient's records.
type CacheInvalidator interface {
	InvalidatePatient(ctx context.Context, healthID string) error
}

// FactProjector mirrors a record's extracted facts into a secondary store.
type FactProjector interface {
	Project(ctx context.Context, healthID, recordID, documentType string, facts extract.Facts) error
}

type Config struct {
	ChunkSize         int
	ChunkOverlapWords int
	RegenWorkers      int
}

type Processor struct {
	store    Store
	composer *summary.Composer
	cache    CacheInvalidator
	graph    FactProjector
	cfg      Config
	now      func() time.Time
	newID    func() string
}

type Option func(*Processor)

func WithCache(cache CacheInvalidator) Option {
	return func(p *Processor) { p.cache = cache }
}

func WithGraph(graph FactProjector) Option {
	return func(p *Processor) { p.graph = graph }
}

// Upload is one document as received from a client. Content is plain text
// unless ContentType says HTML.
type Upload struct {
	HealthID     string
	DocumentType string
	Title        string
	Content      string
	ContentType  string
	UploadedBy   string
}

type Result struct {
	RecordID string         `json:"record_id"`
	HealthID string         `json:"health_id"`
	Title    string         `json:"title"`
	Summary  summary.Record `json:"summary"`
	Chunks   int            `json:"chunks"`
}

func NewProcessor(store Store, composer *summary.Composer, cfg Config, opts ...Option) *Processor {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 2000
	}
	if cfg.ChunkOverlapWords < 0 {
		cfg.ChunkOverlapWords = 0
	}
	if cfg.RegenWorkers <= 0 {
		cfg.RegenWorkers = 4
	}

	p := &Processor{
		store:    store,
		composer: composer,
		cfg:      cfg,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessDocument stores the upload, its summary and its search chunks.
// Only the record and summary writes can fail the call; cache and graph
// maintenance errors are logged.
func (p *Processor) ProcessDocument(ctx context.Context, up Upload) (*Result, error) {
	if strings.TrimSpace(up.HealthID) == "" {
		return nil, eris.New("health id is required")
	}

	text := up.Content
	title := strings.TrimSpace(up.Title)
	if isHTML(up.ContentType, text) {
		cleaned, htmlTitle, err := cleanHTML(text)
		if err != nil {
			return nil, eris.Wrap(err, "failed to parse html document")
		}
		text = cleaned
		if title == "" {
			title = htmlTitle
		}
	}

	docType := strings.TrimSpace(up.DocumentType)
	if docType == "" {
		docType = defaultDocumentType
	}
	if title == "" {
		title = strings.ReplaceAll(docType, "_", " ")
	}

	record := &models.MedicalRecord{
		ID:           p.newID(),
		HealthID:     up.HealthID,
		DocumentType: docType,
		Title:        title,
		Content:      text,
		UploadedBy:   up.UploadedBy,
		UploadDate:   p.now(),
	}

	logger.Info("Processing document",
		zap.String("record_id", record.ID),
		zap.String("health_id", record.HealthID),
		zap.String("document_type", docType),
	)

	if err := p.store.InsertRecord(ctx, record); err != nil {
		metrics.DocumentsProcessed.WithLabelValues("error").Inc()
		return nil, eris.Wrap(err, "failed to store record")
	}

	rec, err := p.summarize(ctx, record, p.now())
	if err != nil {
		metrics.DocumentsProcessed.WithLabelValues("error").Inc()
		return nil, err
	}

	chunks := p.indexChunks(ctx, record)
	p.afterChange(ctx, record, rec.Facts)

	metrics.DocumentsProcessed.WithLabelValues("ok").Inc()

	return &Result{
		RecordID: record.ID,
		HealthID: record.HealthID,
		Title:    title,
		Summary:  rec,
		Chunks:   chunks,
	}, nil
}

// GenerateSummaries composes the summary record for one document.
func (p *Processor) GenerateSummaries(text, documentType string) summary.Record {
	start := p.now()
	rec := p.composer.Compose(text, documentType)

	metrics.SummaryDuration.Observe(p.now().Sub(start).Seconds())
	metrics.SummariesGenerated.WithLabelValues(string(rec.Confidence)).Inc()
	return rec
}

// RegenerateSummary recomposes a stored record and overwrites its summary.
func (p *Processor) RegenerateSummary(ctx context.Context, recordID string) (*summary.Record, error) {
	record, err := p.store.GetRecord(ctx, recordID)
	if err != nil {
		return nil, eris.Wrap(err, "failed to load record")
	}

	rec, err := p.summarize(ctx, record, p.now())
	if err != nil {
		return nil, err
	}
	p.afterChange(ctx, record, rec.Facts)

	logger.Info("Summary regenerated", zap.String("record_id", recordID), zap.String("confidence", string(rec.Confidence)))
	return &rec, nil
}

// RegenerateAll recomposes every record of the patient in parallel and
// returns how many summaries were rewritten. Generation times are stamped in
// upload order, one millisecond apart, so the newest document's summary stays
// the patient's latest.
func (p *Processor) RegenerateAll(ctx context.Context, healthID string) (int, error) {
	records, err := p.store.ListRecords(ctx, healthID)
	if err != nil {
		return 0, eris.Wrap(err, "failed to list records")
	}

	// Listed newest first; reverse so equal upload dates keep insertion order.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].UploadDate.Before(records[j].UploadDate)
	})
	base := p.now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.RegenWorkers)

	for i := range records {
		record := &records[i]
		generatedAt := base.Add(time.Duration(i) * time.Millisecond)
		g.Go(func() error {
			rec, err := p.summarize(gctx, record, generatedAt)
			if err != nil {
				return err
			}
			p.project(gctx, record, rec.Facts)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, eris.Wrapf(err, "failed to regenerate summaries for %s", healthID)
	}

	p.invalidate(ctx, healthID)

	logger.Info("Patient summaries regenerated", zap.String("health_id", healthID), zap.Int("records", len(records)))
	return len(records), nil
}

func (p *Processor) summarize(ctx context.Context, record *models.MedicalRecord, generatedAt time.Time) (summary.Record, error) {
	rec := p.GenerateSummaries(record.Content, record.DocumentType)

	err := p.store.UpsertSummary(ctx, &models.Summary{
		RecordID:         record.ID,
		PatientSummary:   rec.PatientSummary,
		DoctorSummary:    rec.DoctorSummary,
		EmergencySummary: rec.EmergencySummary,
		Confidence:       string(rec.Confidence),
		KeyFindings:      rec.KeyFindings,
		GeneratedAt:      generatedAt,
	})
	if err != nil {
		return rec, eris.Wrapf(err, "failed to store summary for record %s", record.ID)
	}
	return rec, nil
}

func (p *Processor) indexChunks(ctx context.Context, record *models.MedicalRecord) int {
	texts := chunkText(record.Content, p.cfg.ChunkSize, p.cfg.ChunkOverlapWords)

	chunks := make([]models.DocumentChunk, 0, len(texts))
	for i, t := range texts {
		chunks = append(chunks, models.DocumentChunk{
			ID:         p.newID(),
			RecordID:   record.ID,
			HealthID:   record.HealthID,
			ChunkIndex: i,
			Text:       t,
			CreatedAt:  p.now(),
		})
	}

	if err := p.store.ReplaceChunks(ctx, record.ID, chunks); err != nil {
		logger.Error("Failed to index chunks", zap.String("record_id", record.ID), zap.Error(err))
		return 0
	}
	return len(chunks)
}

func (p *Processor) afterChange(ctx context.Context, record *models.MedicalRecord, facts extract.Facts) {
	p.invalidate(ctx, record.HealthID)
	p.project(ctx, record, facts)
}

func (p *Processor) invalidate(ctx context.Context, healthID string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.InvalidatePatient(ctx, healthID); err != nil {
		logger.Warn("Failed to invalidate search cache", zap.String("health_id", healthID), zap.Error(err))
	}
}

func (p *Processor) project(ctx context.Context, record *models.MedicalRecord, facts extract.Facts) {
	if p.graph == nil {
		return
	}
	if err := p.graph.Project(ctx, record.HealthID, record.ID, record.DocumentType, facts); err != nil {
		logger.Warn("Failed to project facts", zap.String("record_id", record.ID), zap.Error(err))
	}
}

var (
	whitespaceRun = regexp.MustCompile(`[ \t]+`)
	blankLines    = regexp.MustCompile(`\n{3,}`)
)

func isHTML(contentType, content string) bool {
	if strings.Contains(strings.ToLower(contentType), "html") {
		return true
	}
	head := strings.ToLower(strings.TrimSpace(content))
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}

// cleanHTML reduces an HTML document to its visible text, one block per
// line, and returns the document title if it has one.
func cleanHTML(htmlContent string) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return "", "", err
	}

	doc.Find("script, style, nav, footer, header, aside, noscript").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, li, tr, h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	text := doc.Find("body").Text()
	if strings.TrimSpace(text) == "" {
		text = doc.Text()
	}

	lines := strings.Split(whitespaceRun.ReplaceAllString(text, " "), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")

	return strings.TrimSpace(text), title, nil
}

// chunkText splits text into word-aligned chunks of at most size bytes,
// repeating the last overlap words of a chunk at the start of the next.
func chunkText(text string, size, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	var current []string
	currentSize := 0

	for _, word := range words {
		wordLen := len(word) + 1

		if currentSize+wordLen > size && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))

			start := len(current) - overlap
			if start < 1 {
				start = 1
			}
			current = append([]string(nil), current[start:]...)
			currentSize = len(strings.Join(current, " ")) + 1
		}

		current = append(current, word)
		currentSize += wordLen
	}

	return append(chunks, strings.Join(current, " "))
}
