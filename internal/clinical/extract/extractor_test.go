package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medivault/backend/internal/clinical/lexicon"
)

const referralNote = "Diagnosis: Type 2 Diabetes Mellitus. Current Medications: 1. Metformin 500mg twice daily. " +
	"Known Allergies: Penicillin, Peanuts. Follow-up in 2 weeks"

func TestExtractReferralNote(t *testing.T) {
	facts := NewDefault().Extract(referralNote)

	assert.Equal(t, "Type 2 Diabetes Mellitus", facts.Diagnosis)
	assert.Equal(t, []string{"Penicillin", "Peanuts"}, facts.Allergies)
	require.Len(t, facts.Medications, 1)
	assert.Equal(t, "Metformin", facts.Medications[0].Name)
	assert.Contains(t, facts.Medications[0].Dose, "500")
	require.NotNil(t, facts.FollowUp)
	assert.Equal(t, FollowUp{Amount: 2, Unit: UnitWeek}, *facts.FollowUp)
	assert.Equal(t, "2 week(s)", facts.FollowUp.String())
}

func TestExtractDegenerateInput(t *testing.T) {
	ex := NewDefault()
	for _, in := range []string{"", "   \n\t", "ok", "nothing clinical in this sentence at all"} {
		facts := ex.Extract(in)
		assert.True(t, facts.Empty(), "input %q", in)
	}
}

func TestExtractIsDeterministic(t *testing.T) {
	ex := NewDefault()
	assert.Equal(t, ex.Extract(referralNote), ex.Extract(referralNote))
}

func TestAllergiesDeduplicatedAndCaseInsensitive(t *testing.T) {
	text := "PENICILLIN allergy. penicillin causes rash. Penicillin again. Also peanut and PEANUTS."
	assert.Equal(t, []string{"Penicillin", "Peanuts"}, NewDefault().Allergies(text))
}

func TestAllergiesMapSurfaceFormsToCanonical(t *testing.T) {
	got := NewDefault().Allergies("reaction to sulfonamide antibiotics and egg white")
	assert.Equal(t, []string{"Sulfa", "Eggs"}, got)
}

func TestMedicationNamesCappedAndDeduplicated(t *testing.T) {
	text := "metformin, insulin, aspirin, atorvastatin, lisinopril, amlodipine, omeprazole, metformin"
	got := NewDefault().MedicationNames(text)
	assert.Equal(t, []string{"Metformin", "Insulin", "Aspirin", "Atorvastatin", "Lisinopril"}, got)
}

func TestMedicationsCaptureDosePerLine(t *testing.T) {
	text := strings.Join([]string{
		"Metformin 500 mg with meals and Insulin 10 units at night",
		"Lisinopril daily",
		"Metformin 1000mg (increase later)",
	}, "\n")

	got := NewDefault().Medications(text)
	assert.Equal(t, []Medication{
		{Name: "Metformin", Dose: "500 mg"},
		{Name: "Insulin", Dose: "10 units"},
		{Name: "Lisinopril"},
	}, got)
	assert.Equal(t, "Metformin 500 mg", got[0].String())
	assert.Equal(t, "Lisinopril", got[2].String())
}

func TestMedicationsCapped(t *testing.T) {
	text := "metformin\ninsulin\naspirin\natorvastatin\nlisinopril\namlodipine\nomeprazole"
	assert.Len(t, NewDefault().Medications(text), MaxMedications)
}

func TestDiagnosisUsesLexiconOrder(t *testing.T) {
	ex := NewDefault()

	tests := []struct {
		text string
		want string
	}{
		{"Asthma noted years ago; now hypertension", "Hypertension"},
		{"known diabetes, recently confirmed type 2 diabetes", "Type 2 Diabetes"},
		{"Diabetes mellitus on record", "Diabetes Mellitus"},
		{"upper respiratory tract infection", "Upper Respiratory Tract Infection"},
		{"Dx: copd exacerbation", "COPD"},
		{"no significant history", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ex.Diagnosis(tt.text), tt.text)
	}
}

func TestFollowUpPatterns(t *testing.T) {
	ex := NewDefault()

	tests := []struct {
		text string
		want *FollowUp
	}{
		{"Follow up in 3 days", &FollowUp{3, UnitDay}},
		{"schedule a 6 month follow-up", &FollowUp{6, UnitMonth}},
		{"Return in 1 week if symptoms persist", &FollowUp{1, UnitWeek}},
		{"See you in 2 months", &FollowUp{2, UnitMonth}},
		{"no plan", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ex.FollowUp(tt.text), tt.text)
	}
}

func TestExtendedLexicon(t *testing.T) {
	lex := lexicon.Default().Extend(lexicon.Extension{
		Allergens:  []string{"bee venom"},
		Conditions: []string{"epilepsy"},
	})
	facts := New(lex).Extract("Allergic to bee venom. Diagnosed with epilepsy in 2019.")

	assert.Equal(t, []string{"Bee Venom"}, facts.Allergies)
	assert.Equal(t, "Epilepsy", facts.Diagnosis)
}

func TestDoseAfterStopsAtNextMedication(t *testing.T) {
	lex := lexicon.Default()

	tests := []struct {
		rest string
		want string
	}{
		{" 500mg twice daily", "500mg"},
		{" and metformin 500mg", ""},
		{", aspirin 81mg", ""},
		{" (20 mg) nightly | lisinopril 10mg", "20 mg"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DoseAfter(lex.Dose, tt.rest, lex.Medications), tt.rest)
	}
}

func TestMedicationsDoNotBorrowNeighbourDose(t *testing.T) {
	got := NewDefault().Medications("Insulin and Metformin 500mg")
	assert.Equal(t, []Medication{{Name: "Metformin", Dose: "500mg"}, {Name: "Insulin"}}, got)
}
