// Package builder projects facts extracted from documents into the patient
// fact graph.
package builder

import (
	"context"

	"go.uber.org/zap"

	"github.com/medivault/backend/internal/clinical/extract"
	"github.com/medivault/backend/internal/kg/neo4j"
	"github.com/medivault/backend/internal/metrics"
	"github.com/medivault/backend/pkg/logger"
)

type GraphWriter interface {
	UpsertDocumentFacts(ctx context.Context, facts neo4j.DocumentFacts) error
}

type Builder struct {
	graph GraphWriter
}

func NewBuilder(graph GraphWriter) *Builder {
	return &Builder{graph: graph}
}

// Project writes the record's facts to the graph. Records with nothing
// recognised are skipped.
func (b *Builder) Project(ctx context.Context, healthID, recordID, documentType string, facts extract.Facts) error {
	if facts.Empty() {
		metrics.GraphProjections.WithLabelValues("skipped").Inc()
		return nil
	}

	if err := b.graph.UpsertDocumentFacts(ctx, ToDocumentFacts(healthID, recordID, documentType, facts)); err != nil {
		metrics.GraphProjections.WithLabelValues("error").Inc()
		logger.Warn("Graph projection failed", zap.String("record_id", recordID), zap.Error(err))
		return err
	}

	metrics.GraphProjections.WithLabelValues("ok").Inc()
	return nil
}

func ToDocumentFacts(healthID, recordID, documentType string, facts extract.Facts) neo4j.DocumentFacts {
	meds := make([]neo4j.Medication, 0, len(facts.Medications))
	for _, m := range facts.Medications {
		meds = append(meds, neo4j.Medication{Name: m.Name, Dose: m.Dose})
	}

	var conditions []string
	if facts.Diagnosis != "" {
		conditions = []string{facts.Diagnosis}
	}

	return neo4j.DocumentFacts{
		HealthID:     healthID,
		RecordID:     recordID,
		DocumentType: documentType,
		Allergies:    facts.Allergies,
		Medications:  meds,
		Conditions:   conditions,
	}
}
