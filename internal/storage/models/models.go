package models

import (
	"time"

	"github.com/rotisserie/eris"
)

// ErrNotFound is returned by stores when the requested row does not exist.
var ErrNotFound = eris.New("not found")

// AnonymousAccessor is recorded when an emergency lookup carries no identity.
const AnonymousAccessor = "ANONYMOUS"

// UnknownOrigin is recorded when the caller address is not known.
const UnknownOrigin = "unknown"

// MedicalRecord is one uploaded document for a patient. Content is the
// extracted plain text.
type MedicalRecord struct {
	ID           string    `json:"id"`
	HealthID     string    `json:"health_id"`
	DocumentType string    `json:"document_type"`
	Title        string    `json:"title"`
	Content      string    `json:"content,omitempty"`
	UploadedBy   string    `json:"uploaded_by,omitempty"`
	UploadDate   time.Time `json:"upload_date"`
}

// Summary is the persisted rendering of a record. There is at most one per
// record; regeneration replaces it entirely.
type Summary struct {
	RecordID         string    `json:"record_id"`
	PatientSummary   string    `json:"patient_summary"`
	DoctorSummary    string    `json:"doctor_summary"`
	EmergencySummary string    `json:"emergency_summary"`
	Confidence       string    `json:"confidence"`
	KeyFindings      []string  `json:"key_findings"`
	GeneratedAt      time.Time `json:"generated_at"`
}

// CachedSummary is the most recent emergency rendering for a patient plus
// the number of summaries the patient has.
type CachedSummary struct {
	EmergencySummary string
	Confidence       string
	GeneratedAt      time.Time
	SourceCount      int
}

// ClinicalExcerpt is the clinically relevant text of one record.
type ClinicalExcerpt struct {
	RecordID     string
	DocumentType string
	Text         string
	UploadDate   time.Time
}

type AccessLogEntry struct {
	ID            string    `json:"id"`
	HealthID      string    `json:"health_id"`
	AccessedBy    string    `json:"accessed_by"`
	AccessTime    time.Time `json:"access_time"`
	OriginAddress string    `json:"origin_address"`
}

type DocumentChunk struct {
	ID         string
	RecordID   string
	HealthID   string
	ChunkIndex int
	Text       string
	CreatedAt  time.Time
}

// ChunkContext is a stored chunk joined with its record's metadata.
type ChunkContext struct {
	ChunkID      string
	RecordID     string
	Text         string
	DocumentType string
	UploadDate   time.Time
	Confidence   string
}
