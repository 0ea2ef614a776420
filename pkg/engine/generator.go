// Package engine implements the question-to-insight pipeline: SQL generation
// grounded on the schema descriptor, guardrail validation, read-only
// execution, and insight formatting.
package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/clinsupply/insight-engine/pkg/llm"
	"github.com/clinsupply/insight-engine/pkg/logging"
	"github.com/clinsupply/insight-engine/pkg/models"
	"github.com/clinsupply/insight-engine/pkg/schema"
)

// Generator produces candidate SQL for a natural-language question. The SQL
// it returns is a candidate only; nothing is executed before the guardrail
// accepts it.
type Generator interface {
	Generate(ctx context.Context, question string, filters map[string]any) (models.GeneratedQuery, error)
}

// selectPattern extracts a SELECT statement from a prose-wrapped model reply,
// up to the first semicolon or end of text.
var selectPattern = regexp.MustCompile(`(?is)\bSELECT\b.*?(?:;|$)`)

// LLMGenerator generates SQL with one completion call against a prompt
// grounded on the schema descriptor. A failed or empty completion is an
// error; the orchestrator degrades to the deterministic generator.
type LLMGenerator struct {
	client  llm.CompletionClient
	desc    *schema.Descriptor
	timeout time.Duration
	logger  *zap.Logger
}

// NewLLMGenerator creates a model-backed generator. timeout bounds each
// completion call independently of the request deadline.
func NewLLMGenerator(client llm.CompletionClient, desc *schema.Descriptor, timeout time.Duration, logger *zap.Logger) *LLMGenerator {
	return &LLMGenerator{
		client:  client,
		desc:    desc,
		timeout: timeout,
		logger:  logger.Named("llm_generator"),
	}
}

var _ Generator = (*LLMGenerator)(nil)

const generatorSystemMessage = "You are an expert PostgreSQL analyst for a clinical trial supply management system. You translate questions into read-only SQL."

// Generate builds the grounded prompt, runs one completion, and extracts the
// SQL from the reply.
func (g *LLMGenerator) Generate(ctx context.Context, question string, filters map[string]any) (models.GeneratedQuery, error) {
	prompt := g.buildPrompt(question, filters)

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	reply, err := g.client.Complete(callCtx, prompt, generatorSystemMessage)
	if err != nil {
		return models.GeneratedQuery{}, fmt.Errorf("completion call failed: %w", err)
	}

	sqlText, err := extractSQL(reply)
	if err != nil {
		g.logger.Warn("Model reply contained no usable SQL",
			zap.String("reply", logging.TruncateString(reply, 200)))
		return models.GeneratedQuery{}, err
	}

	g.logger.Debug("Generated SQL from model",
		zap.String("model", g.client.Model()),
		zap.String("sql", logging.SanitizeSQL(sqlText)))

	return models.GeneratedQuery{
		SQL:            sqlText,
		Provenance:     models.ProvenanceModel,
		SourceQuestion: question,
	}, nil
}

func (g *LLMGenerator) buildPrompt(question string, filters map[string]any) string {
	var b strings.Builder

	b.WriteString(g.desc.PromptContext())

	b.WriteString("\nUSER QUESTION:\n")
	b.WriteString(question)
	b.WriteString("\n")

	if len(filters) > 0 {
		b.WriteString("\nFILTERS TO APPLY:\n")
		for key, value := range filters {
			fmt.Fprintf(&b, "- %s = %v\n", key, value)
		}
	}

	b.WriteString(`
INSTRUCTIONS:
1. Generate a valid PostgreSQL query that answers the question.
2. Use ONLY the tables and columns defined in the schema above.
3. Apply the listed filters (if any) as WHERE conditions.
4. Use appropriate JOINs to retrieve related data.
5. Use aggregate functions (COUNT, SUM, AVG) where appropriate.
6. Use descriptive column aliases and handle NULL values.
7. Order results logically (dates descending, counts descending).
8. Add LIMIT 100 to prevent excessive data retrieval.
9. The query must be a single read-only SELECT statement.

RESPONSE FORMAT:
Return ONLY the SQL query without explanation or markdown formatting.
`)

	return b.String()
}

// extractSQL recovers a SELECT statement from a model reply: code fences are
// stripped first, and if the remainder is not bare SQL, the first SELECT up
// to a semicolon or end of text is taken.
func extractSQL(reply string) (string, error) {
	cleaned := llm.StripCodeFences(reply)
	if cleaned == "" {
		return "", fmt.Errorf("empty completion")
	}

	if strings.HasPrefix(strings.ToUpper(cleaned), "SELECT") ||
		strings.HasPrefix(strings.ToUpper(cleaned), "WITH") {
		return cleaned, nil
	}

	if m := selectPattern.FindString(cleaned); m != "" {
		return strings.TrimRight(strings.TrimSpace(m), "; \t\r\n"), nil
	}

	return "", fmt.Errorf("no SELECT statement in completion")
}
