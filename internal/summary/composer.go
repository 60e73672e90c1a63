package summary

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/medivault/backend/internal/clinical/extract"
	"github.com/medivault/backend/pkg/logger"
)

const (
	minTextLength       = 20
	maxPatientSentences = 5
	maxDoctorLines      = 8
	minDoctorLineLength = 10
	maxKeyFindings      = 5
	maxEmergencyMeds    = 3
	fallbackSentences   = 3
)

const (
	msgTooShort        = "Document text is too short to summarize."
	msgNoClinicalData  = "Insufficient data for clinical summary."
	msgInsufficient    = "Insufficient data"
	msgBasicExtraction = "Document uploaded successfully. Automated summarization unavailable - using basic extraction."
	msgUnavailable     = "Unavailable - review original document"
	msgProcessed       = "Medical document processed"
	msgComposeFailed   = "Automated clinical summary failed. Refer to original document."
	msgReferOriginal   = "Refer to original document"
)

// Capabilities is decided by the caller when the composer is built.
// RuleBased false means only basic extraction is offered.
type Capabilities struct {
	RuleBased bool
}

type Composer struct {
	extractor *extract.Extractor
	caps      Capabilities
	sentences func(string) []string
}

func NewComposer(extractor *extract.Extractor, caps Capabilities) *Composer {
	return &Composer{
		extractor: extractor,
		caps:      caps,
		sentences: splitSentences,
	}
}

func (c *Composer) Capabilities() Capabilities {
	return c.caps
}

// Compose builds the three audience summaries for one document. It never
// fails: short input, disabled capabilities and internal faults all produce
// a renderable low-confidence record.
func (c *Composer) Compose(text, documentType string) (rec Record) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Summary composition failed, using fallback",
				zap.Any("panic", r),
				zap.String("document_type", documentType),
			)
			rec = fallbackRecord(text, documentType)
		}
	}()

	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) < minTextLength {
		return insufficientRecord(documentType)
	}

	if !c.caps.RuleBased {
		return basicRecord(trimmed, documentType)
	}

	facts := c.extractor.Extract(trimmed)

	return Record{
		PatientSummary:   c.patientSummary(trimmed, facts),
		DoctorSummary:    c.doctorSummary(trimmed),
		EmergencySummary: emergencyFromFacts(facts),
		Confidence:       c.confidence(trimmed, facts),
		KeyFindings:      c.keyFindings(trimmed),
		DocumentType:     documentType,
		Facts:            facts,
	}
}

// QuickSummary returns the first maxSentences sentences that carry some
// content, for list views.
func (c *Composer) QuickSummary(text string, maxSentences int) string {
	picked := c.contentSentences(text, maxSentences)
	if len(picked) == 0 {
		return preview(strings.TrimSpace(text), 200)
	}
	return strings.Join(picked, " ")
}

func (c *Composer) patientSummary(text string, facts extract.Facts) string {
	var parts []string

	if facts.Diagnosis != "" {
		parts = append(parts, fmt.Sprintf("Diagnosis: %s.", facts.Diagnosis))
	}
	// The patient sentence lists drug names only, in vocabulary order.
	if names := c.extractor.MedicationNames(text); len(names) > 0 {
		parts = append(parts, fmt.Sprintf("Medications prescribed: %s.", strings.Join(names, ", ")))
	}
	if len(facts.Allergies) > 0 {
		parts = append(parts, fmt.Sprintf("⚠️ Allergies noted: %s.", strings.Join(facts.Allergies, ", ")))
	}
	if facts.FollowUp != nil {
		parts = append(parts, fmt.Sprintf("Follow-up: %s.", facts.FollowUp))
	}

	if len(parts) > 0 {
		if len(parts) > maxPatientSentences {
			parts = parts[:maxPatientSentences]
		}
		return strings.Join(parts, " ")
	}

	if picked := c.contentSentences(text, fallbackSentences); len(picked) > 0 {
		return strings.Join(picked, " ")
	}
	return preview(text, 200)
}

func (c *Composer) contentSentences(text string, limit int) []string {
	var picked []string
	for _, s := range c.sentences(text) {
		s = strings.TrimSpace(s)
		if utf8.RuneCountInString(s) <= minTextLength {
			continue
		}
		picked = append(picked, s)
		if len(picked) == limit {
			break
		}
	}
	return picked
}

func (c *Composer) doctorSummary(text string) string {
	keywords := c.extractor.Lexicon().ClinicalKeywords

	var important []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if utf8.RuneCountInString(line) <= minDoctorLineLength {
			continue
		}
		if containsAny(strings.ToLower(line), keywords) {
			important = append(important, line)
			if len(important) == maxDoctorLines {
				break
			}
		}
	}

	if len(important) == 0 {
		return preview(text, 400)
	}
	return strings.Join(important, " | ")
}

// confidence scores the keyword signals in the raw text and promotes the
// result to High when every fact category an emergency reader needs was
// extracted. Both terms only grow as text is added.
func (c *Composer) confidence(text string, facts extract.Facts) Confidence {
	lower := strings.ToLower(text)

	score := 0
	for _, signal := range c.extractor.Lexicon().ConfidenceSignals {
		if containsAny(lower, signal) {
			score++
		}
	}

	level := Low
	switch {
	case score >= 3:
		level = High
	case score == 2:
		level = Medium
	}

	if len(facts.Allergies) > 0 && len(facts.Medications) > 0 && facts.Diagnosis != "" {
		level = High
	}
	return level
}

func (c *Composer) keyFindings(text string) []string {
	lower := strings.ToLower(text)

	var findings []string
	for _, f := range c.extractor.Lexicon().KeyFindings {
		if strings.Contains(lower, f.Trigger) {
			findings = append(findings, f.Label)
			if len(findings) == maxKeyFindings {
				break
			}
		}
	}

	if len(findings) == 0 {
		return []string{msgProcessed}
	}
	return findings
}

func emergencyFromFacts(facts extract.Facts) string {
	meds := facts.Medications
	if len(meds) > maxEmergencyMeds {
		meds = meds[:maxEmergencyMeds]
	}
	medLines := make([]string, 0, len(meds))
	for _, m := range meds {
		medLines = append(medLines, m.String())
	}

	var conditions []string
	if facts.Diagnosis != "" {
		conditions = []string{facts.Diagnosis}
	}

	return FormatEmergency(EmergencyFields{
		Allergies:   facts.Allergies,
		Medications: medLines,
		Conditions:  conditions,
	})
}

func insufficientRecord(documentType string) Record {
	return Record{
		PatientSummary:   msgTooShort,
		DoctorSummary:    msgNoClinicalData,
		EmergencySummary: FormatEmergencyPlaceholder(msgInsufficient),
		Confidence:       Low,
		KeyFindings:      []string{msgInsufficient},
		DocumentType:     documentType,
	}
}

func basicRecord(text, documentType string) Record {
	return Record{
		PatientSummary:   msgBasicExtraction,
		DoctorSummary:    preview(text, 500),
		EmergencySummary: FormatEmergencyPlaceholder(msgUnavailable),
		Confidence:       Low,
		KeyFindings:      []string{msgProcessed},
		DocumentType:     documentType,
	}
}

func fallbackRecord(text, documentType string) Record {
	return Record{
		PatientSummary:   "Medical document uploaded. Preview: " + preview(strings.TrimSpace(text), 200),
		DoctorSummary:    msgComposeFailed,
		EmergencySummary: FormatEmergencyPlaceholder(msgReferOriginal),
		Confidence:       Low,
		KeyFindings:      []string{msgProcessed},
		DocumentType:     documentType,
	}
}

// preview truncates to n runes and marks the cut with an ellipsis.
func preview(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text + "..."
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:n])) + "..."
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
