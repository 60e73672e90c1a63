// Package evaluation measures extraction quality against a labelled set of
// clinical documents.
package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/medivault/backend/internal/clinical/extract"
	"github.com/medivault/backend/internal/metrics"
	"github.com/medivault/backend/internal/summary"
	"github.com/medivault/backend/pkg/logger"
)

const (
	FieldDiagnosis   = "diagnosis"
	FieldAllergies   = "allergies"
	FieldMedications = "medications"
	FieldFollowUp    = "follow_up"
)

// Fields lists the evaluated fields in report order.
var Fields = []string{FieldDiagnosis, FieldAllergies, FieldMedications, FieldFollowUp}

type Evaluator struct {
	composer *summary.Composer
}

type EvaluationDataset struct {
	Items []DatasetItem `json:"items"`
}

// DatasetItem is one labelled document. Empty expectations mean the field
// must not be extracted.
type DatasetItem struct {
	ID           string   `json:"id"`
	Text         string   `json:"text"`
	DocumentType string   `json:"document_type"`
	Diagnosis    string   `json:"diagnosis"`
	Allergies    []string `json:"allergies"`
	Medications  []string `json:"medications"`
	FollowUp     string   `json:"follow_up"`
}

type Mismatch struct {
	ItemID   string `json:"item_id"`
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

type EvaluationReport struct {
	TotalItems       int                        `json:"total_items"`
	Correct          map[string]int             `json:"correct"`
	FieldAccuracy    map[string]float64         `json:"field_accuracy"`
	OverallAccuracy  float64                    `json:"overall_accuracy"`
	ConfidenceCounts map[summary.Confidence]int `json:"confidence_counts"`
	Mismatches       []Mismatch                 `json:"mismatches"`
}

func NewEvaluator(composer *summary.Composer) *Evaluator {
	return &Evaluator{composer: composer}
}

// EvaluateItem composes the item and returns the fields that disagree with
// the labels along with the record's confidence.
func (e *Evaluator) EvaluateItem(item DatasetItem) ([]Mismatch, summary.Confidence) {
	rec := e.composer.Compose(item.Text, item.DocumentType)
	facts := rec.Facts

	var out []Mismatch
	check := func(field, expected, actual string) {
		if expected != actual {
			out = append(out, Mismatch{ItemID: item.ID, Field: field, Expected: expected, Actual: actual})
		}
	}

	check(FieldDiagnosis, normalize(item.Diagnosis), normalize(facts.Diagnosis))
	check(FieldAllergies, normalizeSet(item.Allergies), normalizeSet(facts.Allergies))
	check(FieldMedications, normalizeSet(item.Medications), normalizeSet(medicationNames(facts.Medications)))
	check(FieldFollowUp, normalizeFollowUp(item.FollowUp), normalizeFollowUp(followUpString(facts.FollowUp)))

	return out, rec.Confidence
}

func (e *Evaluator) RunDatasetEvaluation(ctx context.Context, dataset *EvaluationDataset) (*EvaluationReport, error) {
	logger.Info("Running dataset evaluation", zap.Int("items", len(dataset.Items)))

	report := &EvaluationReport{
		TotalItems:       len(dataset.Items),
		Correct:          make(map[string]int, len(Fields)),
		FieldAccuracy:    make(map[string]float64, len(Fields)),
		ConfidenceCounts: make(map[summary.Confidence]int),
	}

	for i, item := range dataset.Items {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "evaluation cancelled")
		}
		if item.ID == "" {
			item.ID = fmt.Sprintf("item_%d", i)
		}

		mismatches, conf := e.EvaluateItem(item)
		report.ConfidenceCounts[conf]++
		report.Mismatches = append(report.Mismatches, mismatches...)

		wrong := make(map[string]bool, len(mismatches))
		for _, m := range mismatches {
			wrong[m.Field] = true
		}
		for _, f := range Fields {
			if !wrong[f] {
				report.Correct[f]++
			}
		}
	}

	if report.TotalItems > 0 {
		var sum float64
		for _, f := range Fields {
			acc := float64(report.Correct[f]) / float64(report.TotalItems)
			report.FieldAccuracy[f] = acc
			metrics.ExtractionAccuracy.WithLabelValues(f).Set(acc)
			sum += acc
		}
		report.OverallAccuracy = sum / float64(len(Fields))
	}

	logger.Info("Dataset evaluation completed",
		zap.Int("total", report.TotalItems),
		zap.Float64("overall_accuracy", report.OverallAccuracy),
		zap.Int("mismatches", len(report.Mismatches)),
	)

	return report, nil
}

func LoadDatasetFromJSON(data []byte) (*EvaluationDataset, error) {
	var dataset EvaluationDataset
	if err := json.Unmarshal(data, &dataset); err != nil {
		return nil, eris.Wrap(err, "failed to unmarshal dataset")
	}
	return &dataset, nil
}

func LoadDatasetFile(path string) (*EvaluationDataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read dataset %s", path)
	}
	return LoadDatasetFromJSON(data)
}

func GenerateReport(report *EvaluationReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "\nExtraction Evaluation Report\n============================\n\n")
	fmt.Fprintf(&b, "Total Documents: %d\n\n", report.TotalItems)

	b.WriteString("Field Accuracy:\n")
	for _, f := range Fields {
		fmt.Fprintf(&b, "- %s: %d/%d (%.1f%%)\n", f, report.Correct[f], report.TotalItems, report.FieldAccuracy[f]*100)
	}
	fmt.Fprintf(&b, "- overall: %.1f%%\n\n", report.OverallAccuracy*100)

	b.WriteString("Confidence Distribution:\n")
	for _, c := range []summary.Confidence{summary.High, summary.Medium, summary.Low} {
		fmt.Fprintf(&b, "- %s: %d\n", c, report.ConfidenceCounts[c])
	}

	if len(report.Mismatches) > 0 {
		b.WriteString("\nMismatches:\n")
		for _, m := range report.Mismatches {
			fmt.Fprintf(&b, "- [%s] %s: expected %q, got %q\n", m.ItemID, m.Field, m.Expected, m.Actual)
		}
	}

	return b.String()
}

func medicationNames(meds []extract.Medication) []string {
	names := make([]string, 0, len(meds))
	for _, m := range meds {
		names = append(names, m.Name)
	}
	return names
}

func followUpString(f *extract.FollowUp) string {
	if f == nil {
		return ""
	}
	return f.String()
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// normalizeSet renders a list as a sorted, comma joined string so order and
// case do not count.
func normalizeSet(values []string) string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = normalize(v); v != "" {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

// normalizeFollowUp folds "2 weeks", "2 week(s)" and "2 week" together.
func normalizeFollowUp(s string) string {
	s = strings.ReplaceAll(normalize(s), "(s)", "")
	return strings.TrimSuffix(s, "s")
}
