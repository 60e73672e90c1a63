// Package lexicon holds the fixed clinical vocabulary the extractor matches
// against. Everything here is data: ordering of the slices is significant
// and documents the tie-break rules used by the extractor.
package lexicon

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Term maps a canonical display name to the lowercase surface forms that
// identify it in free text.
type Term struct {
	Canonical string
	Forms     []string
}

// Pattern is one entry of a first-match-wins table.
type Pattern struct {
	Expr      *regexp.Regexp
	Canonical string
}

// Finding pairs a key-finding label with its trigger substring.
type Finding struct {
	Label   string
	Trigger string
}

// EmergencyVocabulary is the reduced vocabulary used when scanning a
// patient's concatenated history. Each category is gated by line cues: a
// term only counts when its line also carries one of the cues.
type EmergencyVocabulary struct {
	AllergyCues    []string
	Allergens      []Term
	MedicationCues []string
	Medications    []Term
	Dose           *regexp.Regexp
	DiagnosisCues  []string
	Conditions     []Term
}

type Lexicon struct {
	Allergens   []Term
	Medications []Term
	// Conditions is evaluated in order; more specific phrases come first.
	Conditions []Pattern
	// FollowUps is evaluated in order; each expression captures amount and unit.
	FollowUps []*regexp.Regexp
	Dose      *regexp.Regexp

	ClinicalKeywords  []string
	KeyFindings       []Finding
	ConfidenceSignals [][]string

	Emergency EmergencyVocabulary
}

// Extension adds site-specific vocabulary on top of the defaults. Names are
// matched case-insensitively and displayed title-cased.
type Extension struct {
	Allergens   []string
	Medications []string
	Conditions  []string
}

var titler = cases.Title(language.English)

// Title renders a surface form as a canonical display name.
func Title(s string) string {
	return titler.String(strings.TrimSpace(s))
}

// phrase compiles a case-insensitive, word-bounded matcher that tolerates
// arbitrary whitespace between words.
func phrase(words string) *regexp.Regexp {
	parts := strings.Fields(regexp.QuoteMeta(strings.ToLower(words)))
	return regexp.MustCompile(`(?i)\b` + strings.Join(parts, `\s+`) + `\b`)
}

func term(canonical string, forms ...string) Term {
	if len(forms) == 0 {
		forms = []string{strings.ToLower(canonical)}
	}
	return Term{Canonical: canonical, Forms: forms}
}

func condition(words, canonical string) Pattern {
	return Pattern{Expr: phrase(words), Canonical: canonical}
}

var (
	defaultAllergens = []Term{
		term("Penicillin"),
		term("Peanuts", "peanut", "peanuts"),
		term("Sulfa", "sulfa", "sulfonamide"),
		term("Latex"),
		term("Aspirin"),
		term("Iodine"),
		term("Eggs", "egg", "eggs"),
		term("Shellfish"),
		term("Tree Nuts", "tree nut", "tree nuts"),
		term("Soy"),
		term("Wheat"),
		term("Milk"),
		term("Fish"),
	}

	defaultMedications = []Term{
		term("Metformin"),
		term("Insulin"),
		term("Aspirin"),
		term("Atorvastatin"),
		term("Lisinopril"),
		term("Amlodipine"),
		term("Omeprazole"),
		term("Levothyroxine"),
		term("Albuterol"),
		term("Losartan"),
		term("Gabapentin"),
		term("Hydrochlorothiazide"),
		term("Simvastatin"),
		term("Pravastatin"),
		term("Rosuvastatin"),
		term("Azithromycin"),
		term("Amoxicillin"),
		term("Ciprofloxacin"),
		term("Paracetamol"),
		term("Ibuprofen"),
		term("Acetaminophen"),
	}

	defaultConditions = []Pattern{
		condition("type 2 diabetes mellitus", "Type 2 Diabetes Mellitus"),
		condition("type 1 diabetes mellitus", "Type 1 Diabetes Mellitus"),
		condition("type 2 diabetes", "Type 2 Diabetes"),
		condition("type 1 diabetes", "Type 1 Diabetes"),
		condition("diabetes mellitus", "Diabetes Mellitus"),
		condition("diabetes", "Diabetes"),
		condition("hypertension", "Hypertension"),
		condition("high blood pressure", "High Blood Pressure"),
		condition("asthma", "Asthma"),
		condition("copd", "COPD"),
		condition("chronic obstructive", "Chronic Obstructive Pulmonary Disease"),
		condition("heart disease", "Heart Disease"),
		condition("coronary artery", "Coronary Artery Disease"),
		condition("kidney disease", "Kidney Disease"),
		condition("renal failure", "Renal Failure"),
		condition("upper respiratory tract infection", "Upper Respiratory Tract Infection"),
		condition("respiratory infection", "Respiratory Infection"),
		condition("urinary tract infection", "Urinary Tract Infection"),
		condition("uti", "UTI"),
		condition("pneumonia", "Pneumonia"),
		condition("bronchitis", "Bronchitis"),
		condition("gastritis", "Gastritis"),
		condition("gerd", "GERD"),
		condition("hypothyroidism", "Hypothyroidism"),
		condition("hyperthyroidism", "Hyperthyroidism"),
	}

	defaultFollowUps = []*regexp.Regexp{
		regexp.MustCompile(`(?i)follow[- ]?up\s+in\s+(\d+)\s+(day|week|month)s?`),
		regexp.MustCompile(`(?i)(\d+)[- ](day|week|month)s?\s+follow[- ]?up`),
		regexp.MustCompile(`(?i)return\s+in\s+(\d+)\s+(day|week|month)s?`),
		regexp.MustCompile(`(?i)see\s+you\s+in\s+(\d+)\s+(day|week|month)s?`),
	}

	defaultDose = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(milligrams?|mg|grams?|g|ml|units?)\b`)

	defaultClinicalKeywords = []string{
		"diagnosis", "diagnos", "prescription", "prescribed", "medication", "medicat",
		"dosage", "dose", "test", "lab", "result", "blood", "pressure",
		"temperature", "hba1c", "glucose", "cholesterol",
	}

	defaultKeyFindings = []Finding{
		{Label: "Diagnosis", Trigger: "diagnos"},
		{Label: "Prescription", Trigger: "prescri"},
		{Label: "Allergy", Trigger: "allerg"},
		{Label: "Lab Test", Trigger: "test ordered"},
		{Label: "Vital Signs", Trigger: "blood pressure"},
		{Label: "Follow-Up", Trigger: "follow-up"},
	}

	defaultConfidenceSignals = [][]string{
		{"diagnos"},
		{"medicat", "prescri"},
		{"patient", "health id"},
	}

	defaultEmergency = EmergencyVocabulary{
		AllergyCues: []string{"allerg", "reaction to", "sensitive to"},
		Allergens: []Term{
			term("Penicillin"),
			term("Peanuts", "peanut"),
			term("Sulfa"),
			term("Latex"),
			term("Aspirin"),
			term("Iodine"),
			term("Eggs", "egg"),
			term("Shellfish"),
		},
		MedicationCues: []string{"medicat", "prescri", "taking", "tablet", "mg"},
		Medications: []Term{
			term("Metformin"),
			term("Insulin"),
			term("Aspirin"),
			term("Atorvastatin"),
			term("Lisinopril"),
			term("Amlodipine"),
			term("Omeprazole"),
		},
		Dose:          regexp.MustCompile(`(?i)\d+\s*mg`),
		DiagnosisCues: []string{"diagnos", "condition", "disease"},
		Conditions: []Term{
			term("Diabetes"),
			term("Hypertension"),
			term("Asthma"),
			term("COPD", "copd"),
			term("Heart Disease"),
			term("Kidney Disease"),
			term("Cancer"),
		},
	}
)

// Default returns a fresh copy of the built-in vocabulary. Callers may
// extend the returned value without affecting other lexicons.
func Default() Lexicon {
	return Lexicon{
		Allergens:         cloneTerms(defaultAllergens),
		Medications:       cloneTerms(defaultMedications),
		Conditions:        append([]Pattern(nil), defaultConditions...),
		FollowUps:         append([]*regexp.Regexp(nil), defaultFollowUps...),
		Dose:              defaultDose,
		ClinicalKeywords:  append([]string(nil), defaultClinicalKeywords...),
		KeyFindings:       append([]Finding(nil), defaultKeyFindings...),
		ConfidenceSignals: defaultConfidenceSignals,
		Emergency: EmergencyVocabulary{
			AllergyCues:    defaultEmergency.AllergyCues,
			Allergens:      cloneTerms(defaultEmergency.Allergens),
			MedicationCues: defaultEmergency.MedicationCues,
			Medications:    cloneTerms(defaultEmergency.Medications),
			Dose:           defaultEmergency.Dose,
			DiagnosisCues:  defaultEmergency.DiagnosisCues,
			Conditions:     cloneTerms(defaultEmergency.Conditions),
		},
	}
}

// Extend appends ext to both the document and emergency vocabularies.
// Names already present are ignored. Extra conditions have the lowest
// priority in diagnosis matching.
func (l Lexicon) Extend(ext Extension) Lexicon {
	for _, name := range ext.Allergens {
		l.Allergens = addTerm(l.Allergens, name)
		l.Emergency.Allergens = addTerm(l.Emergency.Allergens, name)
	}
	for _, name := range ext.Medications {
		l.Medications = addTerm(l.Medications, name)
		l.Emergency.Medications = addTerm(l.Emergency.Medications, name)
	}
	for _, name := range ext.Conditions {
		name = strings.TrimSpace(name)
		if name == "" || l.hasCondition(name) {
			continue
		}
		l.Conditions = append(l.Conditions[:len(l.Conditions):len(l.Conditions)], condition(name, Title(name)))
		l.Emergency.Conditions = addTerm(l.Emergency.Conditions, name)
	}
	return l
}

func (l Lexicon) hasCondition(name string) bool {
	for _, p := range l.Conditions {
		if strings.EqualFold(p.Canonical, name) {
			return true
		}
	}
	return false
}

func addTerm(terms []Term, name string) []Term {
	form := strings.ToLower(strings.TrimSpace(name))
	if form == "" {
		return terms
	}
	for _, t := range terms {
		for _, f := range t.Forms {
			if f == form {
				return terms
			}
		}
	}
	out := make([]Term, len(terms), len(terms)+1)
	copy(out, terms)
	return append(out, Term{Canonical: Title(form), Forms: []string{form}})
}

func cloneTerms(in []Term) []Term {
	out := make([]Term, len(in))
	for i, t := range in {
		out[i] = Term{Canonical: t.Canonical, Forms: append([]string(nil), t.Forms...)}
	}
	return out
}
