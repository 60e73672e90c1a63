// Package emergency assembles the responder-facing brief for a patient from
// everything stored about them, preferring the latest generated summary.
package emergency

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medivault/backend/internal/clinical/lexicon"
	"github.com/medivault/backend/internal/metrics"
	"github.com/medivault/backend/internal/storage/models"
	"github.com/medivault/backend/internal/summary"
	"github.com/medivault/backend/pkg/logger"
	"github.com/medivault/backend/pkg/retry"
)

// NoRecordsSummary is returned verbatim when a patient has nothing stored.
const NoRecordsSummary = "• No medical records found\n• Patient data not available\n• Contact patient or family"

// Store is the storage capability the aggregator needs: reads for the
// patient's summaries and excerpts, and an append-only audit trail.
type Store interface {
	LatestSummary(ctx context.Context, healthID string) (*models.CachedSummary, error)
	ClinicalExcerpts(ctx context.Context, healthID string) ([]models.ClinicalExcerpt, error)
	AppendAccessLog(ctx context.Context, entry *models.AccessLogEntry) error
	AccessHistory(ctx context.Context, healthID string, limit int) ([]models.AccessLogEntry, error)
}

type Config struct {
	// ResponseBudget is the latency target; slower briefs are logged.
	ResponseBudget time.Duration
	AuditTimeout   time.Duration
	HistoryLimit   int
	Vocabulary     lexicon.EmergencyVocabulary
}

func DefaultConfig() Config {
	return Config{
		ResponseBudget: 15 * time.Second,
		AuditTimeout:   500 * time.Millisecond,
		HistoryLimit:   20,
		Vocabulary:     lexicon.Default().Emergency,
	}
}

type Request struct {
	HealthID      string
	AccessedBy    string
	OriginAddress string
}

type Brief struct {
	HealthID            string             `json:"health_id"`
	EmergencySummary    string             `json:"emergency_summary"`
	Confidence          summary.Confidence `json:"confidence"`
	SourceCount         int                `json:"source_count"`
	LastUpdated         time.Time          `json:"last_updated"`
	Cached              bool               `json:"cached"`
	Success             bool               `json:"success"`
	ResponseTimeSeconds float64            `json:"response_time_seconds"`
}

type Aggregator struct {
	store   Store
	cfg     Config
	scanner *Scanner
	now     func() time.Time
	newID   func() string
}

func NewAggregator(store Store, cfg Config) *Aggregator {
	def := DefaultConfig()
	if cfg.ResponseBudget <= 0 {
		cfg.ResponseBudget = def.ResponseBudget
	}
	if cfg.AuditTimeout <= 0 {
		cfg.AuditTimeout = def.AuditTimeout
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.Vocabulary.Dose == nil {
		cfg.Vocabulary = def.Vocabulary
	}

	return &Aggregator{
		store:   store,
		cfg:     cfg,
		scanner: NewScanner(cfg.Vocabulary),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// GetBrief always returns a renderable brief. Storage faults are logged and
// degrade to the no-records brief; the access is audited in every case.
func (a *Aggregator) GetBrief(ctx context.Context, req Request) Brief {
	start := a.now()

	brief := a.cachedBrief(ctx, req.HealthID)
	if brief == nil {
		brief = a.synthesizedBrief(ctx, req.HealthID)
	}

	a.LogAccess(ctx, req.HealthID, req.AccessedBy, req.OriginAddress)

	elapsed := a.now().Sub(start)
	brief.ResponseTimeSeconds = elapsed.Seconds()

	metrics.EmergencyBriefDuration.WithLabelValues(cacheLabel(brief.Cached)).Observe(elapsed.Seconds())
	metrics.EmergencyBriefsTotal.WithLabelValues(cacheLabel(brief.Cached), string(brief.Confidence)).Inc()

	if elapsed > a.cfg.ResponseBudget {
		logger.Warn("Emergency brief exceeded response budget",
			zap.String("health_id", req.HealthID),
			zap.Duration("response_time", elapsed),
			zap.Duration("budget", a.cfg.ResponseBudget),
		)
	}

	logger.Info("Emergency brief served",
		zap.String("health_id", req.HealthID),
		zap.Bool("cached", brief.Cached),
		zap.Bool("success", brief.Success),
		zap.Int("source_count", brief.SourceCount),
		zap.String("confidence", string(brief.Confidence)),
	)

	return *brief
}

func (a *Aggregator) cachedBrief(ctx context.Context, healthID string) *Brief {
	cached, err := a.store.LatestSummary(ctx, healthID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			logger.Warn("Emergency cache read failed", zap.String("health_id", healthID), zap.Error(err))
		}
		return nil
	}

	return &Brief{
		HealthID:         healthID,
		EmergencySummary: cached.EmergencySummary,
		Confidence:       summary.ParseConfidence(cached.Confidence, summary.Low),
		SourceCount:      cached.SourceCount,
		LastUpdated:      cached.GeneratedAt,
		Cached:           true,
		Success:          true,
	}
}

func (a *Aggregator) synthesizedBrief(ctx context.Context, healthID string) *Brief {
	excerpts, err := a.store.ClinicalExcerpts(ctx, healthID)
	if err != nil {
		logger.Error("Failed to read clinical excerpts", zap.String("health_id", healthID), zap.Error(err))
		excerpts = nil
	}

	if len(excerpts) == 0 {
		return &Brief{
			HealthID:         healthID,
			EmergencySummary: NoRecordsSummary,
			Confidence:       summary.Low,
			LastUpdated:      a.now(),
		}
	}

	parts := make([]string, 0, len(excerpts))
	for _, ex := range excerpts {
		parts = append(parts, "["+ex.DocumentType+"]\n"+ex.Text)
	}

	fields := a.scanner.Scan(strings.Join(parts, "\n\n"))

	return &Brief{
		HealthID:         healthID,
		EmergencySummary: summary.FormatEmergency(fields),
		Confidence:       confidenceFor(fields.Documented()),
		SourceCount:      len(excerpts),
		LastUpdated:      excerpts[0].UploadDate,
		Success:          true,
	}
}

// LogAccess appends one audit entry and reports whether it was stored.
// Failures are logged and never returned.
func (a *Aggregator) LogAccess(ctx context.Context, healthID, accessedBy, origin string) bool {
	if accessedBy == "" {
		accessedBy = models.AnonymousAccessor
	}
	if origin == "" {
		origin = models.UnknownOrigin
	}

	entry := &models.AccessLogEntry{
		ID:            a.newID(),
		HealthID:      healthID,
		AccessedBy:    accessedBy,
		AccessTime:    a.now(),
		OriginAddress: origin,
	}

	// the audit write outlives a disconnecting caller but not the timeout
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.AuditTimeout)
	defer cancel()

	err := retry.Do(auditCtx, retry.Config{
		MaxAttempts:  2,
		InitialDelay: 25 * time.Millisecond,
		Logger:       logger.GetLogger(),
	}, func() error {
		return a.store.AppendAccessLog(auditCtx, entry)
	})
	if err != nil {
		metrics.AuditFailuresTotal.Inc()
		logger.Error("Failed to record emergency access",
			zap.String("health_id", healthID),
			zap.String("accessed_by", accessedBy),
			zap.Error(err),
		)
		return false
	}

	return true
}

// AccessHistory returns the most recent audit entries for the patient.
func (a *Aggregator) AccessHistory(ctx context.Context, healthID string) ([]models.AccessLogEntry, error) {
	return a.store.AccessHistory(ctx, healthID, a.cfg.HistoryLimit)
}

func confidenceFor(documented int) summary.Confidence {
	switch {
	case documented >= 2:
		return summary.High
	case documented == 1:
		return summary.Medium
	default:
		return summary.Low
	}
}

func cacheLabel(cached bool) string {
	if cached {
		return "hit"
	}
	return "miss"
}
