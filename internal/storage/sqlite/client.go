package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/medivault/backend/internal/storage/models"
	"github.com/medivault/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, eris.Wrap(err, "failed to open database")
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, eris.Wrap(err, "failed to enable foreign keys")
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, eris.Wrap(err, "failed to enable WAL mode")
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS medical_records (
		id TEXT PRIMARY KEY,
		health_id TEXT NOT NULL,
		document_type TEXT NOT NULL,
		title TEXT,
		content TEXT NOT NULL,
		uploaded_by TEXT,
		upload_date INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_records_patient ON medical_records(health_id, upload_date);

	CREATE TABLE IF NOT EXISTS ai_summaries (
		record_id TEXT PRIMARY KEY,
		patient_summary TEXT NOT NULL,
		doctor_summary TEXT NOT NULL,
		emergency_summary TEXT NOT NULL,
		confidence TEXT NOT NULL,
		key_findings TEXT,
		generated_at INTEGER NOT NULL,
		FOREIGN KEY (record_id) REFERENCES medical_records(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_summaries_generated ON ai_summaries(generated_at);

	CREATE TABLE IF NOT EXISTS emergency_logs (
		id TEXT PRIMARY KEY,
		health_id TEXT NOT NULL,
		accessed_by TEXT NOT NULL,
		access_time INTEGER NOT NULL,
		origin_address TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_emergency_logs_patient ON emergency_logs(health_id, access_time);

	CREATE TABLE IF NOT EXISTS document_chunks (
		id TEXT PRIMARY KEY,
		record_id TEXT NOT NULL,
		health_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (record_id) REFERENCES medical_records(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_patient ON document_chunks(health_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_record ON document_chunks(record_id);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return eris.Wrap(err, "failed to initialize schema")
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertRecord(ctx context.Context, rec *models.MedicalRecord) error {
	query := `
		INSERT INTO medical_records (id, health_id, document_type, title, content, uploaded_by, upload_date)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document_type = excluded.document_type,
			title = excluded.title,
			content = excluded.content
	`

	_, err := c.db.ExecContext(ctx, query,
		rec.ID,
		rec.HealthID,
		rec.DocumentType,
		rec.Title,
		rec.Content,
		rec.UploadedBy,
		rec.UploadDate.UnixMilli(),
	)
	if err != nil {
		return eris.Wrapf(err, "failed to insert record %s", rec.ID)
	}

	logger.Debug("Record inserted", zap.String("record_id", rec.ID), zap.String("health_id", rec.HealthID))
	return nil
}

func (c *Client) GetRecord(ctx context.Context, id string) (*models.MedicalRecord, error) {
	query := `SELECT id, health_id, document_type, COALESCE(title, ''), content, COALESCE(uploaded_by, ''), upload_date
		FROM medical_records WHERE id = ?`

	var rec models.MedicalRecord
	var uploadDate int64

	err := c.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID,
		&rec.HealthID,
		&rec.DocumentType,
		&rec.Title,
		&rec.Content,
		&rec.UploadedBy,
		&uploadDate,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(models.ErrNotFound, "record %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "failed to get record")
	}

	rec.UploadDate = time.UnixMilli(uploadDate)
	return &rec, nil
}

// ListRecords returns a patient's records, newest first.
func (c *Client) ListRecords(ctx context.Context, healthID string) ([]models.MedicalRecord, error) {
	query := `SELECT id, health_id, document_type, COALESCE(title, ''), content, COALESCE(uploaded_by, ''), upload_date
		FROM medical_records WHERE health_id = ? ORDER BY upload_date DESC, rowid DESC`

	rows, err := c.db.QueryContext(ctx, query, healthID)
	if err != nil {
		return nil, eris.Wrap(err, "failed to list records")
	}
	defer rows.Close()

	var records []models.MedicalRecord
	for rows.Next() {
		var rec models.MedicalRecord
		var uploadDate int64
		if err := rows.Scan(&rec.ID, &rec.HealthID, &rec.DocumentType, &rec.Title, &rec.Content, &rec.UploadedBy, &uploadDate); err != nil {
			return nil, eris.Wrap(err, "failed to scan record")
		}
		rec.UploadDate = time.UnixMilli(uploadDate)
		records = append(records, rec)
	}

	return records, eris.Wrap(rows.Err(), "failed to iterate records")
}

// UpsertSummary stores s, replacing any previous summary for the record.
func (c *Client) UpsertSummary(ctx context.Context, s *models.Summary) error {
	findings, err := json.Marshal(s.KeyFindings)
	if err != nil {
		return eris.Wrap(err, "failed to marshal key findings")
	}

	query := `
		INSERT INTO ai_summaries (record_id, patient_summary, doctor_summary, emergency_summary, confidence, key_findings, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(record_id) DO UPDATE SET
			patient_summary = excluded.patient_summary,
			doctor_summary = excluded.doctor_summary,
			emergency_summary = excluded.emergency_summary,
			confidence = excluded.confidence,
			key_findings = excluded.key_findings,
			generated_at = excluded.generated_at
	`

	_, err = c.db.ExecContext(ctx, query,
		s.RecordID,
		s.PatientSummary,
		s.DoctorSummary,
		s.EmergencySummary,
		s.Confidence,
		string(findings),
		s.GeneratedAt.UnixMilli(),
	)
	if err != nil {
		return eris.Wrapf(err, "failed to upsert summary for record %s", s.RecordID)
	}

	logger.Debug("Summary stored", zap.String("record_id", s.RecordID), zap.String("confidence", s.Confidence))
	return nil
}

func (c *Client) GetSummary(ctx context.Context, recordID string) (*models.Summary, error) {
	query := `SELECT record_id, patient_summary, doctor_summary, emergency_summary, confidence, COALESCE(key_findings, '[]'), generated_at
		FROM ai_summaries WHERE record_id = ?`

	var s models.Summary
	var findings string
	var generatedAt int64

	err := c.db.QueryRowContext(ctx, query, recordID).Scan(
		&s.RecordID,
		&s.PatientSummary,
		&s.DoctorSummary,
		&s.EmergencySummary,
		&s.Confidence,
		&findings,
		&generatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(models.ErrNotFound, "summary for record %s", recordID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "failed to get summary")
	}

	if err := json.Unmarshal([]byte(findings), &s.KeyFindings); err != nil {
		logger.Warn("Malformed key findings", zap.String("record_id", recordID), zap.Error(err))
	}
	s.GeneratedAt = time.UnixMilli(generatedAt)
	return &s, nil
}

// LatestSummary returns the most recently generated summary of the patient
// together with the patient's summary count, in one query.
func (c *Client) LatestSummary(ctx context.Context, healthID string) (*models.CachedSummary, error) {
	query := `
		SELECT s.emergency_summary, s.confidence, s.generated_at,
		       (SELECT COUNT(*) FROM ai_summaries s2
		          JOIN medical_records r2 ON r2.id = s2.record_id
		         WHERE r2.health_id = r.health_id)
		FROM ai_summaries s
		JOIN medical_records r ON r.id = s.record_id
		WHERE r.health_id = ?
		ORDER BY s.generated_at DESC, s.rowid DESC
		LIMIT 1
	`

	var cached models.CachedSummary
	var generatedAt int64

	err := c.db.QueryRowContext(ctx, query, healthID).Scan(
		&cached.EmergencySummary,
		&cached.Confidence,
		&generatedAt,
		&cached.SourceCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(models.ErrNotFound, "summary for patient %s", healthID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "failed to get latest summary")
	}

	cached.GeneratedAt = time.UnixMilli(generatedAt)
	return &cached, nil
}

// ClinicalExcerpts returns, newest record first, each record's doctor
// summary or its raw text when no summary has been generated yet.
func (c *Client) ClinicalExcerpts(ctx context.Context, healthID string) ([]models.ClinicalExcerpt, error) {
	query := `
		SELECT r.id, r.document_type, COALESCE(s.doctor_summary, r.content), r.upload_date
		FROM medical_records r
		LEFT JOIN ai_summaries s ON s.record_id = r.id
		WHERE r.health_id = ?
		ORDER BY r.upload_date DESC, r.rowid DESC
	`

	rows, err := c.db.QueryContext(ctx, query, healthID)
	if err != nil {
		return nil, eris.Wrap(err, "failed to query clinical excerpts")
	}
	defer rows.Close()

	var excerpts []models.ClinicalExcerpt
	for rows.Next() {
		var ex models.ClinicalExcerpt
		var uploadDate int64
		if err := rows.Scan(&ex.RecordID, &ex.DocumentType, &ex.Text, &uploadDate); err != nil {
			return nil, eris.Wrap(err, "failed to scan clinical excerpt")
		}
		ex.UploadDate = time.UnixMilli(uploadDate)
		excerpts = append(excerpts, ex)
	}

	return excerpts, eris.Wrap(rows.Err(), "failed to iterate clinical excerpts")
}

func (c *Client) AppendAccessLog(ctx context.Context, entry *models.AccessLogEntry) error {
	query := `INSERT INTO emergency_logs (id, health_id, accessed_by, access_time, origin_address) VALUES (?, ?, ?, ?, ?)`

	_, err := c.db.ExecContext(ctx, query,
		entry.ID,
		entry.HealthID,
		entry.AccessedBy,
		entry.AccessTime.UnixMilli(),
		entry.OriginAddress,
	)
	if err != nil {
		return eris.Wrap(err, "failed to append access log")
	}

	return nil
}

// AccessHistory returns at most limit entries for the patient, newest first.
func (c *Client) AccessHistory(ctx context.Context, healthID string, limit int) ([]models.AccessLogEntry, error) {
	query := `SELECT id, health_id, accessed_by, access_time, origin_address
		FROM emergency_logs WHERE health_id = ?
		ORDER BY access_time DESC, rowid DESC
		LIMIT ?`

	rows, err := c.db.QueryContext(ctx, query, healthID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "failed to query access history")
	}
	defer rows.Close()

	var entries []models.AccessLogEntry
	for rows.Next() {
		var e models.AccessLogEntry
		var accessTime int64
		if err := rows.Scan(&e.ID, &e.HealthID, &e.AccessedBy, &accessTime, &e.OriginAddress); err != nil {
			return nil, eris.Wrap(err, "failed to scan access log")
		}
		e.AccessTime = time.UnixMilli(accessTime)
		entries = append(entries, e)
	}

	return entries, eris.Wrap(rows.Err(), "failed to iterate access history")
}

// ReplaceChunks swaps the indexed chunks of a record in one transaction.
func (c *Client) ReplaceChunks(ctx context.Context, recordID string, chunks []models.DocumentChunk) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE record_id = ?`, recordID); err != nil {
		return eris.Wrap(err, "failed to delete chunks")
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO document_chunks (id, record_id, health_id, chunk_index, text, created_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "failed to prepare chunk insert")
	}
	defer stmt.Close()

	for _, ch := range chunks {
		if _, err := stmt.ExecContext(ctx, ch.ID, recordID, ch.HealthID, ch.ChunkIndex, ch.Text, ch.CreatedAt.UnixMilli()); err != nil {
			return eris.Wrapf(err, "failed to insert chunk %d", ch.ChunkIndex)
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "failed to commit chunks")
	}

	logger.Debug("Chunks indexed", zap.String("record_id", recordID), zap.Int("count", len(chunks)))
	return nil
}

// ChunksForPatient returns every chunk of the patient joined with record
// metadata, newest record first and in chunk order within a record.
func (c *Client) ChunksForPatient(ctx context.Context, healthID string) ([]models.ChunkContext, error) {
	query := `
		SELECT ch.id, ch.record_id, ch.text, r.document_type, r.upload_date, COALESCE(s.confidence, '')
		FROM document_chunks ch
		JOIN medical_records r ON r.id = ch.record_id
		LEFT JOIN ai_summaries s ON s.record_id = ch.record_id
		WHERE ch.health_id = ?
		ORDER BY r.upload_date DESC, r.rowid DESC, ch.chunk_index ASC
	`

	rows, err := c.db.QueryContext(ctx, query, healthID)
	if err != nil {
		return nil, eris.Wrap(err, "failed to query chunks")
	}
	defer rows.Close()

	var chunks []models.ChunkContext
	for rows.Next() {
		var ch models.ChunkContext
		var uploadDate int64
		if err := rows.Scan(&ch.ChunkID, &ch.RecordID, &ch.Text, &ch.DocumentType, &uploadDate, &ch.Confidence); err != nil {
			return nil, eris.Wrap(err, "failed to scan chunk")
		}
		ch.UploadDate = time.UnixMilli(uploadDate)
		chunks = append(chunks, ch)
	}

	return chunks, eris.Wrap(rows.Err(), "failed to iterate chunks")
}
