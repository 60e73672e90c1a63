// Package extract turns free document text into typed clinical facts using
// the fixed vocabulary in package lexicon. Extraction is pure and never
// fails: degenerate input yields empty facts.
package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/medivault/backend/internal/clinical/lexicon"
)

// MaxMedications caps both medication forms.
const MaxMedications = 5

type Unit string

const (
	UnitDay   Unit = "day"
	UnitWeek  Unit = "week"
	UnitMonth Unit = "month"
)

type FollowUp struct {
	Amount int  `json:"amount"`
	Unit   Unit `json:"unit"`
}

// String renders the interval the way summaries display it, e.g. "2 week(s)".
func (f FollowUp) String() string {
	return fmt.Sprintf("%d %s(s)", f.Amount, f.Unit)
}

// Medication is a recognised drug name with the first dose expression that
// follows it on the same line. Dose is empty when none was found.
type Medication struct {
	Name string `json:"name"`
	Dose string `json:"dose,omitempty"`
}

func (m Medication) String() string {
	if m.Dose == "" {
		return m.Name
	}
	return m.Name + " " + m.Dose
}

type Facts struct {
	Allergies   []string     `json:"allergies"`
	Medications []Medication `json:"medications"`
	Diagnosis   string       `json:"diagnosis,omitempty"`
	FollowUp    *FollowUp    `json:"follow_up,omitempty"`
}

// Empty reports whether no fact at all was recognised.
func (f Facts) Empty() bool {
	return len(f.Allergies) == 0 && len(f.Medications) == 0 && f.Diagnosis == "" && f.FollowUp == nil
}

type Extractor struct {
	lex lexicon.Lexicon
}

func New(lex lexicon.Lexicon) *Extractor {
	return &Extractor{lex: lex}
}

// NewDefault builds an extractor over the built-in vocabulary.
func NewDefault() *Extractor {
	return New(lexicon.Default())
}

func (e *Extractor) Lexicon() lexicon.Lexicon {
	return e.lex
}

func (e *Extractor) Extract(text string) Facts {
	return Facts{
		Allergies:   e.Allergies(text),
		Medications: e.Medications(text),
		Diagnosis:   e.Diagnosis(text),
		FollowUp:    e.FollowUp(text),
	}
}

// Allergies returns each allergen whose surface form occurs anywhere in the
// text, once, in lexicon order.
func (e *Extractor) Allergies(text string) []string {
	return matchTerms(strings.ToLower(text), e.lex.Allergens, 0)
}

// MedicationNames is the simple form: known drug names found anywhere in
// the text, deduplicated, at most MaxMedications.
func (e *Extractor) MedicationNames(text string) []string {
	return matchTerms(strings.ToLower(text), e.lex.Medications, MaxMedications)
}

// Medications scans line by line and attaches the first dose expression
// after each drug name. A drug mentioned on several lines is reported once,
// with the dose from its first mention.
func (e *Extractor) Medications(text string) []Medication {
	var meds []Medication
	seen := make(map[string]bool)

	for _, line := range strings.Split(strings.ToLower(text), "\n") {
		for _, t := range e.lex.Medications {
			if seen[t.Canonical] {
				continue
			}
			idx, form := indexAny(line, t.Forms)
			if idx < 0 {
				continue
			}
			seen[t.Canonical] = true
			meds = append(meds, Medication{
				Name: t.Canonical,
				Dose: DoseAfter(e.lex.Dose, line[idx+len(form):], e.lex.Medications),
			})
			if len(meds) == MaxMedications {
				return meds
			}
		}
	}
	return meds
}

// Diagnosis returns the first condition of the lexicon present in the text.
// Lexicon order, not text position, decides between co-occurring conditions.
func (e *Extractor) Diagnosis(text string) string {
	for _, p := range e.lex.Conditions {
		if p.Expr.MatchString(text) {
			return p.Canonical
		}
	}
	return ""
}

func (e *Extractor) FollowUp(text string) *FollowUp {
	for _, re := range e.lex.FollowUps {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		amount, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		return &FollowUp{Amount: amount, Unit: Unit(strings.ToLower(m[2]))}
	}
	return nil
}

// DoseAfter finds the first dose expression in rest, the text following a
// drug name. The search stops at a list separator or at the next known drug
// name so a dose is never attributed to the wrong medication.
func DoseAfter(dose *regexp.Regexp, rest string, meds []lexicon.Term) string {
	end := len(rest)
	if i := strings.IndexAny(rest, ",;|"); i >= 0 {
		end = i
	}
	for _, t := range meds {
		if i, _ := indexAny(rest[:end], t.Forms); i >= 0 && i < end {
			end = i
		}
	}
	return dose.FindString(rest[:end])
}

func matchTerms(lower string, terms []lexicon.Term, limit int) []string {
	var out []string
	for _, t := range terms {
		if idx, _ := indexAny(lower, t.Forms); idx < 0 {
			continue
		}
		out = append(out, t.Canonical)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// indexAny returns the earliest position of any form in s.
func indexAny(s string, forms []string) (int, string) {
	best, match := -1, ""
	for _, f := range forms {
		if i := strings.Index(s, f); i >= 0 && (best < 0 || i < best) {
			best, match = i, f
		}
	}
	return best, match
}
