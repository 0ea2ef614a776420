// Package audit provides security audit logging for SIEM consumption.
// It logs security-relevant events in structured JSON format for easy parsing
// and integration with security information and event management systems.
package audit

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/clinsupply/insight-engine/pkg/logging"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventFilterInjectionAttempt is logged when libinjection detects SQL
	// injection patterns in a request filter value.
	EventFilterInjectionAttempt SecurityEventType = "filter_injection_attempt"
	// EventGuardrailRejection is logged when generated SQL fails the guardrail.
	EventGuardrailRejection SecurityEventType = "guardrail_rejection"
	// EventQueryExecution is logged for successful query execution (can be high volume).
	EventQueryExecution SecurityEventType = "query_execution"
)

// SecurityEvent represents an auditable security event with all relevant
// context for SIEM ingestion and analysis.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType SecurityEventType `json:"event_type"`
	ClientIP  string            `json:"client_ip,omitempty"`
	Details   any               `json:"details"`
	Severity  string            `json:"severity"` // info, warning, critical
}

// InjectionDetails contains specifics of a detected injection attempt.
type InjectionDetails struct {
	FilterName  string `json:"filter_name"`
	FilterValue string `json:"filter_value"`
	Fingerprint string `json:"fingerprint"` // libinjection fingerprint for pattern analysis
	Question    string `json:"question"`
}

// SecurityAuditor logs security events for SIEM consumption.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates a new security auditor with a dedicated logger
// namespace so events can be filtered in SIEM systems.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// LogInjectionAttempt records a detected injection attempt in a filter value.
// Logged at ERROR level with "critical" severity for immediate alerting.
func (a *SecurityAuditor) LogInjectionAttempt(details InjectionDetails, clientIP string) {
	details.Question = logging.SanitizeQuestion(details.Question)

	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventFilterInjectionAttempt,
		ClientIP:  clientIP,
		Details:   details,
		Severity:  "critical",
	}

	// Marshaling known types never fails.
	eventJSON, _ := json.Marshal(event)

	a.logger.Error("SQL injection attempt detected in filter value",
		zap.String("event_json", string(eventJSON)),
		zap.String("filter_name", details.FilterName),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("client_ip", clientIP),
		zap.String("severity", "critical"),
	)
}

// LogGuardrailRejection records generated SQL that failed the guardrail.
// Logged at WARN level: rejections of model output are expected occasionally
// and are not attacks by themselves.
func (a *SecurityAuditor) LogGuardrailRejection(question, sqlText, reason, clientIP string) {
	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventGuardrailRejection,
		ClientIP:  clientIP,
		Details: map[string]string{
			"question": logging.SanitizeQuestion(question),
			"sql":      logging.SanitizeSQL(sqlText),
			"reason":   reason,
		},
		Severity: "warning",
	}

	eventJSON, _ := json.Marshal(event)

	a.logger.Warn("Generated SQL rejected by guardrail",
		zap.String("event_json", string(eventJSON)),
		zap.String("reason", reason),
		zap.String("client_ip", clientIP),
		zap.String("severity", "warning"),
	)
}

// LogQueryExecution records a successful query execution for the audit trail.
// Logged at INFO level; can generate high volume in production.
func (a *SecurityAuditor) LogQueryExecution(question, provenance string, rowCount int, clientIP string) {
	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventQueryExecution,
		ClientIP:  clientIP,
		Details: map[string]any{
			"question":   logging.SanitizeQuestion(question),
			"provenance": provenance,
			"row_count":  rowCount,
		},
		Severity: "info",
	}

	eventJSON, _ := json.Marshal(event)

	a.logger.Info("Query executed",
		zap.String("event_json", string(eventJSON)),
		zap.String("provenance", provenance),
		zap.Int("row_count", rowCount),
		zap.String("client_ip", clientIP),
		zap.String("severity", "info"),
	)
}
