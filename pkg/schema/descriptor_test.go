package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClinical_LoadsEmbeddedSchema(t *testing.T) {
	d := Clinical()

	assert.Equal(t, "gold_", d.TablePrefix())
	assert.Len(t, d.Tables, 10)
	assert.True(t, d.HasTable("gold_inventory"))
	assert.True(t, d.HasTable("gold_shipments"))
	assert.False(t, d.HasTable("inventory"))
	assert.NotEmpty(t, d.Relationships)
	assert.NotEmpty(t, d.BusinessRules)
	assert.NotEmpty(t, d.KPIs)
}

func TestClinical_AllTablesCarryPrefix(t *testing.T) {
	d := Clinical()
	for _, name := range d.TableNames() {
		assert.True(t, strings.HasPrefix(name, d.TablePrefix()), "table %s", name)
	}
}

func TestPromptContext_ContainsGroundingMaterial(t *testing.T) {
	d := Clinical()
	prompt := d.PromptContext()

	assert.Contains(t, prompt, "gold_global_studies")
	assert.Contains(t, prompt, "gold_temperature_logs")
	assert.Contains(t, prompt, "quantity_available < 10")
	assert.Contains(t, prompt, "Enrollment Rate")
	assert.Contains(t, prompt, "gold_subjects.study_id -> gold_global_studies.study_id")

	// Rendering is memoized; repeated calls return the identical string.
	assert.Equal(t, prompt, d.PromptContext())
}

func TestLoad_RejectsMalformedDescriptors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing prefix", "tables:\n  - name: gold_x\n"},
		{"no tables", "table_prefix: gold_\n"},
		{"table without prefix", "table_prefix: gold_\ntables:\n  - name: inventory\n"},
		{"invalid yaml", "table_prefix: [unclosed\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.yaml))
			require.Error(t, err)
		})
	}
}
