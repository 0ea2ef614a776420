package engine

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/clinsupply/insight-engine/pkg/models"
	"github.com/clinsupply/insight-engine/pkg/schema"
)

// noMatchSQL is returned when no archetype matches; executing it yields one
// diagnostic row instead of an opaque failure.
const noMatchSQL = `SELECT 'no matching query pattern' AS notice`

// archetype is one deterministic question template. filterColumns maps
// request filter keys to the column expression they may constrain; keys
// outside the map are ignored for that archetype.
type archetype struct {
	name          string
	keywords      []string
	table         string // primary table, must exist in the schema descriptor
	sql           string // must contain %s for the WHERE conditions
	filterColumns map[string]string
}

// countEntity is one countable entity for generic "how many X" questions.
// The rendered SQL returns a single row with a total_count column.
type countEntity struct {
	name          string
	keywords      []string
	table         string
	statusColumn  string // enables the "active" qualifier; empty when the table has none
	filterColumns map[string]string
}

var tokenPattern = regexp.MustCompile(`[a-z0-9_]+`)

// FallbackGenerator produces SQL by keyword matching against a fixed set of
// question archetypes, with count questions routed to a generic entity count.
// It is total: it never errors and never returns empty SQL, so the engine can
// answer even with the model unavailable.
type FallbackGenerator struct {
	logger     *zap.Logger
	archetypes []archetype
	counts     []countEntity
}

// NewFallbackGenerator creates the deterministic generator. Archetypes and
// count entities whose table is not declared by the descriptor are dropped at
// construction.
func NewFallbackGenerator(desc *schema.Descriptor, logger *zap.Logger) *FallbackGenerator {
	log := logger.Named("fallback_generator")

	var archetypes []archetype
	for _, a := range buildArchetypes() {
		if !desc.HasTable(a.table) {
			log.Warn("Dropping archetype not covered by the schema",
				zap.String("archetype", a.name), zap.String("table", a.table))
			continue
		}
		archetypes = append(archetypes, a)
	}

	var counts []countEntity
	for _, e := range buildCountEntities() {
		if !desc.HasTable(e.table) {
			log.Warn("Dropping count entity not covered by the schema",
				zap.String("entity", e.name), zap.String("table", e.table))
			continue
		}
		counts = append(counts, e)
	}

	return &FallbackGenerator{logger: log, archetypes: archetypes, counts: counts}
}

var _ Generator = (*FallbackGenerator)(nil)

// Generate matches the question against the archetypes in priority order.
// The hint, when present, is matched as if it were part of the question.
func (g *FallbackGenerator) Generate(ctx context.Context, question string, filters map[string]any) (models.GeneratedQuery, error) {
	return g.GenerateWithHint(ctx, question, "", filters)
}

// GenerateWithHint biases archetype selection with an optional query-type
// hint from the request.
func (g *FallbackGenerator) GenerateWithHint(_ context.Context, question, hint string, filters map[string]any) (models.GeneratedQuery, error) {
	tokens := tokenize(question + " " + hint)

	// Count questions get a single-row COUNT(*) ahead of the listing
	// archetypes.
	if hasCountIntent(tokens) {
		for _, e := range g.counts {
			if !matchesAny(tokens, e.keywords) {
				continue
			}
			g.logger.Debug("Matched count entity", zap.String("entity", e.name))
			conditions := renderConditions(filters, e.filterColumns)
			if e.statusColumn != "" && tokens["active"] {
				conditions += fmt.Sprintf(" AND %s = 'active'", e.statusColumn)
			}
			return models.GeneratedQuery{
				SQL:            fmt.Sprintf("SELECT COUNT(*) AS total_count FROM %s WHERE %s", e.table, conditions),
				Provenance:     models.ProvenanceFallback,
				SourceQuestion: question,
			}, nil
		}
	}

	for _, a := range g.archetypes {
		if !matchesAny(tokens, a.keywords) {
			continue
		}
		g.logger.Debug("Matched question archetype", zap.String("archetype", a.name))
		return models.GeneratedQuery{
			SQL:            fmt.Sprintf(a.sql, renderConditions(filters, a.filterColumns)),
			Provenance:     models.ProvenanceFallback,
			SourceQuestion: question,
		}, nil
	}

	g.logger.Debug("No archetype matched question")
	return models.GeneratedQuery{
		SQL:            noMatchSQL,
		Provenance:     models.ProvenanceFallback,
		SourceQuestion: question,
	}, nil
}

// tokenize lowercases the text and singularizes each token so "studies"
// matches the "study" keyword.
func tokenize(text string) map[string]bool {
	tokens := map[string]bool{}
	for _, raw := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		tokens[raw] = true
		tokens[inflection.Singular(raw)] = true
	}
	return tokens
}

// hasCountIntent reports whether the question asks for a count rather than a
// listing.
func hasCountIntent(tokens map[string]bool) bool {
	return tokens["count"] || tokens["number"] || (tokens["how"] && tokens["many"])
}

func matchesAny(tokens map[string]bool, keywords []string) bool {
	for _, kw := range keywords {
		if tokens[kw] {
			return true
		}
	}
	return false
}

// renderConditions builds the WHERE tail from allow-listed filters. Unknown
// keys are dropped, string values are quote-escaped, and "1=1" anchors the
// clause so archetype templates always have a valid WHERE. Keys are applied
// in sorted order so identical requests render identical SQL.
func renderConditions(filters map[string]any, allowed map[string]string) string {
	keys := make([]string, 0, len(allowed))
	for key := range allowed {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	conditions := []string{"1=1"}
	for _, key := range keys {
		column := allowed[key]
		value, ok := filters[key]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case string:
			conditions = append(conditions, fmt.Sprintf("%s = %s", column, quoteLiteral(v)))
		case bool:
			conditions = append(conditions, fmt.Sprintf("%s = %t", column, v))
		case int, int32, int64:
			conditions = append(conditions, fmt.Sprintf("%s = %d", column, v))
		case float32, float64:
			conditions = append(conditions, fmt.Sprintf("%s = %v", column, v))
		}
	}
	return strings.Join(conditions, " AND ")
}

// quoteLiteral renders a string as a single-quoted SQL literal with embedded
// quotes doubled. Filters are also screened by libinjection before reaching
// this point.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func buildArchetypes() []archetype {
	return []archetype{
		{
			name:     "expiry_risk",
			keywords: []string{"expiry", "expire", "expiring", "expired", "shelf"},
			table:    "gold_inventory",
			sql: `SELECT i.site_id, cs.site_name, i.product_id, p.product_name, i.batch_number,
       i.quantity_available, i.expiry_date, i.days_until_expiry
FROM gold_inventory i
JOIN gold_clinical_sites cs ON cs.site_id = i.site_id
JOIN gold_clinical_products p ON p.product_id = i.product_id
WHERE %s AND i.days_until_expiry < 90
ORDER BY i.days_until_expiry ASC
LIMIT 100`,
			filterColumns: map[string]string{
				"study_id":   "i.study_id",
				"site_id":    "i.site_id",
				"product_id": "i.product_id",
			},
		},
		{
			name:     "inventory_status",
			keywords: []string{"inventory", "stock", "supply", "quantity"},
			table:    "gold_inventory",
			sql: `SELECT i.site_id, cs.site_name, i.product_id, p.product_name,
       i.quantity_on_hand, i.quantity_available, i.days_until_expiry, i.temperature_status,
       CASE WHEN i.quantity_available < 5 THEN 'critical'
            WHEN i.quantity_available < 10 THEN 'low'
            ELSE 'ok' END AS stock_level
FROM gold_inventory i
JOIN gold_clinical_sites cs ON cs.site_id = i.site_id
JOIN gold_clinical_products p ON p.product_id = i.product_id
WHERE %s
ORDER BY i.quantity_available ASC
LIMIT 100`,
			filterColumns: map[string]string{
				"study_id":   "i.study_id",
				"site_id":    "i.site_id",
				"product_id": "i.product_id",
			},
		},
		{
			name:     "shipment_risk",
			keywords: []string{"shipment", "delivery", "courier", "transit", "delayed", "shipping"},
			table:    "gold_shipments",
			sql: `SELECT sh.shipment_id, sh.shipment_number, sh.shipment_status, sh.risk_level, sh.risk_score,
       sh.shipped_date, sh.estimated_delivery_date, sh.delivery_delay_days,
       sh.temperature_excursion_detected, cs.site_name, d.depot_name
FROM gold_shipments sh
JOIN gold_clinical_sites cs ON cs.site_id = sh.to_site_id
JOIN gold_regional_depots d ON d.depot_id = sh.from_depot_id
WHERE %s
ORDER BY sh.risk_score DESC, sh.shipped_date DESC
LIMIT 100`,
			filterColumns: map[string]string{
				"study_id":   "sh.study_id",
				"site_id":    "sh.to_site_id",
				"product_id": "sh.product_id",
			},
		},
		{
			name:     "temperature_monitoring",
			keywords: []string{"temperature", "excursion", "cold", "celsius", "humidity"},
			table:    "gold_temperature_logs",
			sql: `SELECT tl.shipment_id, sh.shipment_number, tl.recorded_at, tl.temperature_celsius,
       tl.humidity_percent, tl.alert_triggered, tl.location
FROM gold_temperature_logs tl
JOIN gold_shipments sh ON sh.shipment_id = tl.shipment_id
WHERE %s AND tl.alert_triggered = true
ORDER BY tl.recorded_at DESC
LIMIT 100`,
			filterColumns: map[string]string{
				"shipment_id": "tl.shipment_id",
				"study_id":    "sh.study_id",
			},
		},
		{
			name:     "quality_events",
			keywords: []string{"quality", "incident", "deviation", "damage", "severity"},
			table:    "gold_quality_events",
			sql: `SELECT q.event_id, q.event_type, q.severity, q.event_date, q.resolution_status,
       q.description, s.study_name, cs.site_name
FROM gold_quality_events q
LEFT JOIN gold_global_studies s ON s.study_id = q.study_id
LEFT JOIN gold_clinical_sites cs ON cs.site_id = q.site_id
WHERE %s
ORDER BY q.event_date DESC
LIMIT 100`,
			filterColumns: map[string]string{
				"study_id": "q.study_id",
				"site_id":  "q.site_id",
				"severity": "q.severity",
			},
		},
		{
			name:     "enrollment_summary",
			keywords: []string{"enrollment", "enrolled", "subject", "participant", "recruit"},
			table:    "gold_global_studies",
			sql: `SELECT s.study_id, s.study_name, s.target_enrollment, s.current_enrollment,
       ROUND(s.current_enrollment::numeric / NULLIF(s.target_enrollment, 0), 2) AS enrollment_rate,
       COUNT(DISTINCT subj.subject_id) AS active_subjects
FROM gold_global_studies s
LEFT JOIN gold_subjects subj ON subj.study_id = s.study_id AND subj.status = 'active'
WHERE %s
GROUP BY s.study_id, s.study_name, s.target_enrollment, s.current_enrollment
ORDER BY enrollment_rate ASC
LIMIT 100`,
			filterColumns: map[string]string{
				"study_id": "s.study_id",
			},
		},
		{
			name:     "study_overview",
			keywords: []string{"study", "trial", "phase", "sponsor", "therapeutic"},
			table:    "gold_global_studies",
			sql: `SELECT s.study_id, s.study_name, s.study_phase, s.status, s.therapeutic_area,
       COUNT(DISTINCT cs.site_id) AS total_sites,
       COUNT(DISTINCT subj.subject_id) AS total_subjects
FROM gold_global_studies s
LEFT JOIN gold_clinical_sites cs ON cs.study_id = s.study_id
LEFT JOIN gold_subjects subj ON subj.study_id = s.study_id
WHERE %s
GROUP BY s.study_id, s.study_name, s.study_phase, s.status, s.therapeutic_area
ORDER BY s.study_name
LIMIT 100`,
			filterColumns: map[string]string{
				"study_id": "s.study_id",
				"status":   "s.status",
			},
		},
		{
			name:     "site_listing",
			keywords: []string{"site", "country", "region", "depot"},
			table:    "gold_clinical_sites",
			sql: `SELECT cs.site_id, cs.site_name, cs.country, cs.status,
       COUNT(i.inventory_id) AS inventory_items
FROM gold_clinical_sites cs
LEFT JOIN gold_inventory i ON i.site_id = cs.site_id
WHERE %s
GROUP BY cs.site_id, cs.site_name, cs.country, cs.status
ORDER BY cs.site_name
LIMIT 100`,
			filterColumns: map[string]string{
				"study_id": "cs.study_id",
				"country":  "cs.country",
				"status":   "cs.status",
			},
		},
	}
}

func buildCountEntities() []countEntity {
	return []countEntity{
		{
			name:         "studies",
			keywords:     []string{"study", "trial"},
			table:        "gold_global_studies",
			statusColumn: "status",
			filterColumns: map[string]string{
				"study_id": "study_id",
			},
		},
		{
			name:         "subjects",
			keywords:     []string{"subject", "participant", "patient"},
			table:        "gold_subjects",
			statusColumn: "status",
			filterColumns: map[string]string{
				"study_id": "study_id",
				"site_id":  "site_id",
			},
		},
		{
			name:         "sites",
			keywords:     []string{"site"},
			table:        "gold_clinical_sites",
			statusColumn: "status",
			filterColumns: map[string]string{
				"study_id": "study_id",
				"country":  "country",
			},
		},
		{
			name:         "shipments",
			keywords:     []string{"shipment", "delivery"},
			table:        "gold_shipments",
			statusColumn: "shipment_status",
			filterColumns: map[string]string{
				"study_id": "study_id",
			},
		},
		{
			name:         "depots",
			keywords:     []string{"depot"},
			table:        "gold_regional_depots",
			statusColumn: "operational_status",
			filterColumns: map[string]string{
				"country": "country",
			},
		},
		{
			name:          "products",
			keywords:      []string{"product", "kit"},
			table:         "gold_clinical_products",
			filterColumns: map[string]string{},
		},
		{
			name:     "quality_events",
			keywords: []string{"quality", "event", "incident", "deviation"},
			table:    "gold_quality_events",
			filterColumns: map[string]string{
				"study_id": "study_id",
				"site_id":  "site_id",
				"severity": "severity",
			},
		},
		{
			name:          "vendors",
			keywords:      []string{"vendor", "supplier"},
			table:         "gold_global_vendors",
			filterColumns: map[string]string{},
		},
		{
			name:     "batches",
			keywords: []string{"inventory", "batch", "stock"},
			table:    "gold_inventory",
			filterColumns: map[string]string{
				"study_id":   "study_id",
				"site_id":    "site_id",
				"product_id": "product_id",
			},
		},
	}
}
