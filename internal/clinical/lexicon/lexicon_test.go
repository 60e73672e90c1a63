package lexicon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionPriorityPrefersSpecificPhrases(t *testing.T) {
	lex := Default()

	index := func(canonical string) int {
		for i, p := range lex.Conditions {
			if p.Canonical == canonical {
				return i
			}
		}
		t.Fatalf("condition %q missing", canonical)
		return -1
	}

	assert.Less(t, index("Type 2 Diabetes Mellitus"), index("Type 2 Diabetes"))
	assert.Less(t, index("Type 2 Diabetes"), index("Diabetes Mellitus"))
	assert.Less(t, index("Diabetes Mellitus"), index("Diabetes"))
	assert.Less(t, index("Upper Respiratory Tract Infection"), index("Respiratory Infection"))
}

func TestConditionPatternsAreWordBounded(t *testing.T) {
	lex := Default()

	var uti Pattern
	for _, p := range lex.Conditions {
		if p.Canonical == "UTI" {
			uti = p
		}
	}
	require.NotNil(t, uti.Expr)

	assert.True(t, uti.Expr.MatchString("Suspected UTI, start antibiotics"))
	assert.False(t, uti.Expr.MatchString("continue current utilities plan"))
}

func TestDoseExpression(t *testing.T) {
	lex := Default()

	tests := []struct {
		in   string
		want string
	}{
		{"Metformin 500mg twice daily", "500mg"},
		{"insulin 10 units at night", "10 units"},
		{"amoxicillin 1 g", "1 g"},
		{"no dose here", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, lex.Dose.FindString(tt.in), tt.in)
	}
}

func TestDefaultReturnsIndependentCopies(t *testing.T) {
	a := Default()
	a.Allergens[0].Forms[0] = "mutated"

	b := Default()
	assert.Equal(t, "penicillin", b.Allergens[0].Forms[0])
}

func TestExtend(t *testing.T) {
	base := Default()
	lex := base.Extend(Extension{
		Allergens:   []string{"bee venom", "Penicillin"},
		Medications: []string{"warfarin"},
		Conditions:  []string{"epilepsy", "asthma"},
	})

	assert.Len(t, lex.Allergens, len(base.Allergens)+1)
	assert.Equal(t, "Bee Venom", lex.Allergens[len(lex.Allergens)-1].Canonical)
	assert.Equal(t, "Warfarin", lex.Medications[len(lex.Medications)-1].Canonical)
	assert.Equal(t, "Warfarin", lex.Emergency.Medications[len(lex.Emergency.Medications)-1].Canonical)

	last := lex.Conditions[len(lex.Conditions)-1]
	assert.Equal(t, "Epilepsy", last.Canonical)
	assert.True(t, last.Expr.MatchString("history of EPILEPSY"))
	assert.Len(t, lex.Conditions, len(base.Conditions)+1)

	// the base lexicon is untouched
	assert.Len(t, Default().Allergens, len(base.Allergens))
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "Tree Nuts", Title("  tree nuts "))
	assert.Equal(t, "Penicillin", Title("PENICILLIN"))
}
