package emergency

import (
	"strings"

	"github.com/medivault/backend/internal/clinical/extract"
	"github.com/medivault/backend/internal/clinical/lexicon"
	"github.com/medivault/backend/internal/summary"
)

const (
	maxScannedMedications = 3
	maxScannedConditions  = 3
)

// Scanner is the reduced extractor run over a patient's concatenated
// history. A term only counts on a line that also carries a cue for its
// category, which keeps incidental mentions out of the brief.
type Scanner struct {
	vocab lexicon.EmergencyVocabulary
}

func NewScanner(vocab lexicon.EmergencyVocabulary) *Scanner {
	return &Scanner{vocab: vocab}
}

func (s *Scanner) Scan(text string) summary.EmergencyFields {
	allergies := newCollector(0)
	meds := newCollector(maxScannedMedications)
	conditions := newCollector(maxScannedConditions)

	for _, line := range strings.Split(strings.ToLower(text), "\n") {
		if hasCue(line, s.vocab.AllergyCues) {
			for _, t := range s.vocab.Allergens {
				if i, _ := find(line, t.Forms); i >= 0 {
					allergies.add(t.Canonical, t.Canonical)
				}
			}
		}

		if hasCue(line, s.vocab.MedicationCues) {
			for _, t := range s.vocab.Medications {
				idx, form := find(line, t.Forms)
				if idx < 0 {
					continue
				}
				entry := t.Canonical
				rest := line[idx+len(form):]
				if dose := extract.DoseAfter(s.vocab.Dose, rest, s.vocab.Medications); dose != "" {
					entry += " " + dose
				}
				meds.add(t.Canonical, entry)
			}
		}

		if hasCue(line, s.vocab.DiagnosisCues) {
			for _, t := range s.vocab.Conditions {
				if i, _ := find(line, t.Forms); i >= 0 {
					conditions.add(t.Canonical, t.Canonical)
				}
			}
		}
	}

	return summary.EmergencyFields{
		Allergies:   allergies.values,
		Medications: meds.values,
		Conditions:  conditions.values,
	}
}

// collector keeps the first value per key, up to limit values (0 = no cap).
type collector struct {
	values []string
	seen   map[string]bool
	limit  int
}

func newCollector(limit int) *collector {
	return &collector{seen: make(map[string]bool), limit: limit}
}

func (c *collector) add(key, value string) {
	if c.seen[key] || (c.limit > 0 && len(c.values) >= c.limit) {
		return
	}
	c.seen[key] = true
	c.values = append(c.values, value)
}

func hasCue(line string, cues []string) bool {
	for _, c := range cues {
		if strings.Contains(line, c) {
			return true
		}
	}
	return false
}

func find(line string, forms []string) (int, string) {
	for _, f := range forms {
		if i := strings.Index(line, f); i >= 0 {
			return i, f
		}
	}
	return -1, ""
}
