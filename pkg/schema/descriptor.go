// Package schema holds the immutable description of the clinical-trial
// supply schema used to ground SQL generation and to give the guardrail its
// table-name prefix policy.
package schema

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed clinical.yaml
var clinicalSchemaYAML []byte

// ColumnRole classifies how a column is used.
type ColumnRole string

const (
	RoleKey        ColumnRole = "key"
	RoleForeignKey ColumnRole = "foreign_key"
	RoleMeasure    ColumnRole = "measure"
	RoleDimension  ColumnRole = "dimension"
)

// ColumnSpec describes one column of a table.
type ColumnSpec struct {
	Name     string     `yaml:"name"`
	Type     string     `yaml:"type"`
	Role     ColumnRole `yaml:"role"`
	Nullable bool       `yaml:"nullable"`
}

// TableSpec describes one namespace-prefixed table.
type TableSpec struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Columns     []ColumnSpec `yaml:"columns"`
}

// Relationship links a foreign-key column to its target.
type Relationship struct {
	FromTable  string `yaml:"from_table"`
	FromColumn string `yaml:"from_column"`
	ToTable    string `yaml:"to_table"`
	ToColumn   string `yaml:"to_column"`
}

// BusinessRule pairs a plain-text predicate with its SQL-equivalent condition.
type BusinessRule struct {
	Text      string `yaml:"text"`
	Condition string `yaml:"condition"`
}

// KPIDefinition names a KPI and its calculation formula.
type KPIDefinition struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Formula     string `yaml:"formula"`
}

// Descriptor is the immutable, process-wide schema description. It is built
// once at startup and shared read-only by all requests.
type Descriptor struct {
	Prefix        string          `yaml:"table_prefix"`
	Tables        []TableSpec     `yaml:"tables"`
	Relationships []Relationship  `yaml:"relationships"`
	BusinessRules []BusinessRule  `yaml:"business_rules"`
	KPIs          []KPIDefinition `yaml:"kpis"`

	promptOnce sync.Once
	prompt     string
}

// Load decodes a descriptor from YAML.
func Load(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode schema descriptor: %w", err)
	}
	if d.Prefix == "" {
		return nil, fmt.Errorf("schema descriptor has no table prefix")
	}
	if len(d.Tables) == 0 {
		return nil, fmt.Errorf("schema descriptor has no tables")
	}
	for _, t := range d.Tables {
		if !strings.HasPrefix(t.Name, d.Prefix) {
			return nil, fmt.Errorf("table %q lacks prefix %q", t.Name, d.Prefix)
		}
	}
	return &d, nil
}

// Clinical returns the descriptor for the embedded clinical-trial supply
// schema. The document is embedded at build time, so construction cannot
// fail at runtime; a malformed document is a programming error.
func Clinical() *Descriptor {
	d, err := Load(clinicalSchemaYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded clinical schema is invalid: %v", err))
	}
	return d
}

// TablePrefix returns the mandatory table-name prefix.
func (d *Descriptor) TablePrefix() string { return d.Prefix }

// TableNames returns the names of all tables in declaration order.
func (d *Descriptor) TableNames() []string {
	names := make([]string, len(d.Tables))
	for i, t := range d.Tables {
		names[i] = t.Name
	}
	return names
}

// HasTable reports whether the descriptor declares the given table.
func (d *Descriptor) HasTable(name string) bool {
	for _, t := range d.Tables {
		if t.Name == name {
			return true
		}
	}
	return false
}

// PromptContext renders the descriptor as grounding text for a generation
// prompt. The rendering is computed once and reused by all requests.
func (d *Descriptor) PromptContext() string {
	d.promptOnce.Do(func() {
		d.prompt = d.renderPromptContext()
	})
	return d.prompt
}

func (d *Descriptor) renderPromptContext() string {
	var b strings.Builder

	b.WriteString("DATABASE SCHEMA (all tables carry the prefix ")
	b.WriteString(d.Prefix)
	b.WriteString("):\n\n")

	for _, t := range d.Tables {
		fmt.Fprintf(&b, "TABLE %s - %s\n", t.Name, t.Description)
		for _, c := range t.Columns {
			nullable := ""
			if c.Nullable {
				nullable = ", nullable"
			}
			fmt.Fprintf(&b, "  - %s: %s (%s%s)\n", c.Name, c.Type, c.Role, nullable)
		}
		b.WriteString("\n")
	}

	b.WriteString("RELATIONSHIPS:\n")
	for _, r := range d.Relationships {
		fmt.Fprintf(&b, "  - %s.%s -> %s.%s\n", r.FromTable, r.FromColumn, r.ToTable, r.ToColumn)
	}

	b.WriteString("\nBUSINESS RULES:\n")
	for _, rule := range d.BusinessRules {
		fmt.Fprintf(&b, "  - %s (%s)\n", rule.Text, rule.Condition)
	}

	b.WriteString("\nKPI DEFINITIONS:\n")
	for _, k := range d.KPIs {
		fmt.Fprintf(&b, "  - %s: %s = %s\n", k.Name, k.Description, k.Formula)
	}

	return b.String()
}
