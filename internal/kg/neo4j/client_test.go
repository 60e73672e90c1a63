package neo4j

import (
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
)

func TestFactParams(t *testing.T) {
	params := factParams(DocumentFacts{
		HealthID:     "HID-1",
		RecordID:     "r1",
		DocumentType: "prescription",
		Allergies:    []string{"Penicillin"},
		Medications:  []Medication{{Name: "Metformin", Dose: "500mg"}, {Name: "Insulin"}},
	})

	assert.Equal(t, "HID-1", params["health_id"])
	assert.Equal(t, []interface{}{"Penicillin"}, params["allergies"])
	assert.Equal(t, []interface{}{}, params["conditions"])
	assert.Equal(t, []interface{}{
		map[string]interface{}{"name": "Metformin", "dose": "500mg"},
		map[string]interface{}{"name": "Insulin", "dose": ""},
	}, params["medications"])
}

func TestRecordString(t *testing.T) {
	record := &neo4j.Record{
		Keys:   []string{"name", "dose"},
		Values: []interface{}{"Metformin", nil},
	}

	assert.Equal(t, "Metformin", recordString(record, "name"))
	assert.Equal(t, "", recordString(record, "dose"))
	assert.Equal(t, "", recordString(record, "missing"))
}
