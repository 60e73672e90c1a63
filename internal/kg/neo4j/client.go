package neo4j

import (
	"context"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/medivault/backend/internal/metrics"
	"github.com/medivault/backend/pkg/circuitbreaker"
	"github.com/medivault/backend/pkg/logger"
	"github.com/medivault/backend/pkg/retry"
)

// Relationship types of the patient fact graph.
const (
	RelAllergicTo   = "ALLERGIC_TO"
	RelTakes        = "TAKES"
	RelHasCondition = "HAS_CONDITION"
)

type Client struct {
	driver      neo4j.DriverWithContext
	database    string
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

type Medication struct {
	Name string
	Dose string
}

// DocumentFacts are the facts extracted from one record, attributed to it.
type DocumentFacts struct {
	HealthID     string
	RecordID     string
	DocumentType string
	Allergies    []string
	Medications  []Medication
	Conditions   []string
}

// Fact is one edge from a patient to a clinical concept.
type Fact struct {
	Relation string `json:"relation"`
	Name     string `json:"name"`
	Dose     string `json:"dose,omitempty"`
	SourceID string `json:"source_record_id"`
}

func NewClient(uri, username, password, database string) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		uri,
		neo4j.BasicAuth(username, password, ""),
	)
	if err != nil {
		return nil, eris.Wrap(err, "failed to create neo4j driver")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, eris.Wrap(err, "failed to verify connectivity")
	}

	cb := circuitbreaker.NewCircuitBreaker("neo4j", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OnStateChange: func(name string, _, to circuitbreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
		Logger: logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Neo4j client initialized", zap.String("uri", uri))

	return &Client{
		driver:      driver,
		database:    database,
		cb:          cb,
		retryConfig: retryConfig,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) executeWithRetry(ctx context.Context, mode neo4j.AccessMode, operation func(neo4j.SessionWithContext) error) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{
				DatabaseName: c.database,
				AccessMode:   mode,
			})
			defer session.Close(ctx)
			return operation(session)
		})
	})
}

const upsertFactsQuery = `
	MERGE (p:Patient {health_id: $health_id})
	MERGE (d:Document {id: $record_id})
	SET d.document_type = $document_type,
	    d.updated_at = timestamp()
	MERGE (p)-[:HAS_DOCUMENT]->(d)
	WITH p, d
	FOREACH (name IN $allergies |
		MERGE (a:Allergen {name: name})
		MERGE (p)-[r:ALLERGIC_TO]->(a)
		SET r.source = d.id)
	FOREACH (m IN $medications |
		MERGE (x:Medication {name: m.name})
		MERGE (p)-[r:TAKES]->(x)
		SET r.dose = m.dose, r.source = d.id)
	FOREACH (name IN $conditions |
		MERGE (x:Condition {name: name})
		MERGE (p)-[r:HAS_CONDITION]->(x)
		SET r.source = d.id)
`

// UpsertDocumentFacts merges the record's facts into the patient's graph.
// Repeated projections of the same record are idempotent.
func (c *Client) UpsertDocumentFacts(ctx context.Context, facts DocumentFacts) error {
	err := c.executeWithRetry(ctx, neo4j.AccessModeWrite, func(session neo4j.SessionWithContext) error {
		_, err := session.Run(ctx, upsertFactsQuery, factParams(facts))
		return err
	})
	if err != nil {
		return eris.Wrapf(err, "failed to upsert facts for record %s", facts.RecordID)
	}

	logger.Debug("Facts projected to graph",
		zap.String("health_id", facts.HealthID),
		zap.String("record_id", facts.RecordID),
		zap.Int("allergies", len(facts.Allergies)),
		zap.Int("medications", len(facts.Medications)),
		zap.Int("conditions", len(facts.Conditions)),
	)
	return nil
}

func factParams(facts DocumentFacts) map[string]interface{} {
	meds := make([]interface{}, 0, len(facts.Medications))
	for _, m := range facts.Medications {
		meds = append(meds, map[string]interface{}{"name": m.Name, "dose": m.Dose})
	}

	return map[string]interface{}{
		"health_id":     facts.HealthID,
		"record_id":     facts.RecordID,
		"document_type": facts.DocumentType,
		"allergies":     stringList(facts.Allergies),
		"medications":   meds,
		"conditions":    stringList(facts.Conditions),
	}
}

func stringList(in []string) []interface{} {
	out := make([]interface{}, 0, len(in))
	for _, s := range in {
		out = append(out, s)
	}
	return out
}

const patientFactsQuery = `
	MATCH (p:Patient {health_id: $health_id})-[r:ALLERGIC_TO|TAKES|HAS_CONDITION]->(n)
	RETURN type(r) AS relation, n.name AS name, coalesce(r.dose, '') AS dose, coalesce(r.source, '') AS source
	ORDER BY relation, name
`

// PatientFacts returns every fact edge of the patient.
func (c *Client) PatientFacts(ctx context.Context, healthID string) ([]Fact, error) {
	var facts []Fact

	err := c.executeWithRetry(ctx, neo4j.AccessModeRead, func(session neo4j.SessionWithContext) error {
		facts = facts[:0]

		result, err := session.Run(ctx, patientFactsQuery, map[string]interface{}{"health_id": healthID})
		if err != nil {
			return err
		}

		for result.Next(ctx) {
			record := result.Record()
			facts = append(facts, Fact{
				Relation: recordString(record, "relation"),
				Name:     recordString(record, "name"),
				Dose:     recordString(record, "dose"),
				SourceID: recordString(record, "source"),
			})
		}
		return result.Err()
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read facts for %s", healthID)
	}

	return facts, nil
}

func recordString(record *neo4j.Record, key string) string {
	v, ok := record.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
