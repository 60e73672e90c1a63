// Package summary renders extracted clinical facts into patient, doctor and
// emergency summaries with a coarse confidence label.
package summary

import (
	"strings"

	"github.com/medivault/backend/internal/clinical/extract"
)

type Confidence string

const (
	Low    Confidence = "Low"
	Medium Confidence = "Medium"
	High   Confidence = "High"
)

// Rank orders confidence levels; unknown values rank below Low.
func (c Confidence) Rank() int {
	switch c {
	case Low:
		return 1
	case Medium:
		return 2
	case High:
		return 3
	default:
		return 0
	}
}

// ParseConfidence maps a stored label back to a level, defaulting to def.
func ParseConfidence(s string, def Confidence) Confidence {
	switch c := Confidence(strings.TrimSpace(s)); c {
	case Low, Medium, High:
		return c
	default:
		return def
	}
}

type Record struct {
	PatientSummary   string        `json:"patient_summary"`
	DoctorSummary    string        `json:"doctor_summary"`
	EmergencySummary string        `json:"emergency_summary"`
	Confidence       Confidence    `json:"confidence"`
	KeyFindings      []string      `json:"key_findings"`
	DocumentType     string        `json:"document_type"`
	Facts            extract.Facts `json:"facts"`
}

const (
	LabelAllergies   = "Allergies"
	LabelMedications = "Current Medications"
	LabelConditions  = "Chronic Conditions"

	NotDocumented = "Not documented"
	bullet        = "• "
)

// EmergencyLabels is the fixed line order of every emergency summary.
var EmergencyLabels = []string{LabelAllergies, LabelMedications, LabelConditions}

type EmergencyFields struct {
	Allergies   []string
	Medications []string
	Conditions  []string
}

// Documented counts the categories that carry at least one value.
func (f EmergencyFields) Documented() int {
	n := 0
	for _, v := range [][]string{f.Allergies, f.Medications, f.Conditions} {
		if len(v) > 0 {
			n++
		}
	}
	return n
}

// FormatEmergency renders the three emergency lines. Responders rely on the
// same labels in the same positions whatever was found.
func FormatEmergency(f EmergencyFields) string {
	values := [][]string{f.Allergies, f.Medications, f.Conditions}
	lines := make([]string, len(EmergencyLabels))
	for i, label := range EmergencyLabels {
		value := NotDocumented
		if len(values[i]) > 0 {
			value = strings.Join(values[i], ", ")
		}
		lines[i] = bullet + label + ": " + value
	}
	return strings.Join(lines, "\n")
}

// FormatEmergencyPlaceholder renders the three lines with the same text in
// every category.
func FormatEmergencyPlaceholder(text string) string {
	lines := make([]string, len(EmergencyLabels))
	for i, label := range EmergencyLabels {
		lines[i] = bullet + label + ": " + text
	}
	return strings.Join(lines, "\n")
}
