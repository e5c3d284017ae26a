package ldap

import (
	"context"
	"errors"
	"maps"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// Logger interface for directory operations.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
	Trace(msg string, fields map[string]any)
}

// TFLogger wraps tflog for use in the ldap package.
type TFLogger struct {
	ctx       context.Context
	subsystem string
}

// NewTFLogger creates a new logger bound to a tflog subsystem.
func NewTFLogger(ctx context.Context, subsystem string) *TFLogger {
	return &TFLogger{
		ctx:       ctx,
		subsystem: subsystem,
	}
}

func (l *TFLogger) Debug(msg string, fields map[string]any) {
	tflog.SubsystemDebug(l.ctx, l.subsystem, msg, fields)
}

func (l *TFLogger) Info(msg string, fields map[string]any) {
	tflog.SubsystemInfo(l.ctx, l.subsystem, msg, fields)
}

func (l *TFLogger) Warn(msg string, fields map[string]any) {
	tflog.SubsystemWarn(l.ctx, l.subsystem, msg, fields)
}

func (l *TFLogger) Error(msg string, fields map[string]any) {
	tflog.SubsystemError(l.ctx, l.subsystem, msg, fields)
}

func (l *TFLogger) Trace(msg string, fields map[string]any) {
	tflog.SubsystemTrace(l.ctx, l.subsystem, msg, fields)
}

// fieldLogger decorates every message with a fixed set of fields.
type fieldLogger struct {
	next   Logger
	fields map[string]any
}

// WithFields returns a Logger that adds fields to every message.
func WithFields(logger Logger, fields map[string]any) Logger {
	return &fieldLogger{next: logger, fields: fields}
}

func (l *fieldLogger) merge(fields map[string]any) map[string]any {
	merged := make(map[string]any, len(l.fields)+len(fields))
	maps.Copy(merged, l.fields)
	maps.Copy(merged, fields)
	return merged
}

func (l *fieldLogger) Debug(msg string, fields map[string]any) { l.next.Debug(msg, l.merge(fields)) }
func (l *fieldLogger) Info(msg string, fields map[string]any)  { l.next.Info(msg, l.merge(fields)) }
func (l *fieldLogger) Warn(msg string, fields map[string]any)  { l.next.Warn(msg, l.merge(fields)) }
func (l *fieldLogger) Error(msg string, fields map[string]any) { l.next.Error(msg, l.merge(fields)) }
func (l *fieldLogger) Trace(msg string, fields map[string]any) { l.next.Trace(msg, l.merge(fields)) }

// LogOperation is a helper function to log an operation with timing.
func LogOperation(ctx context.Context, subsystem, operation string, fields map[string]any, fn func() error) error {
	start := time.Now()

	if fields == nil {
		fields = make(map[string]any)
	}
	fields["operation"] = operation

	tflog.SubsystemDebug(ctx, subsystem, "Starting operation", fields)

	err := fn()

	fields["duration_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		fields["error"] = err.Error()
		tflog.SubsystemError(ctx, subsystem, "Operation failed", fields)
	} else {
		tflog.SubsystemDebug(ctx, subsystem, "Operation completed successfully", fields)
	}

	return err
}

// LogLDAPError logs directory-specific error information.
func LogLDAPError(logger Logger, operation string, err error, fields map[string]any) {
	logged := make(map[string]any, len(fields)+4)
	maps.Copy(logged, fields)
	logged["operation"] = operation
	logged["error"] = err.Error()

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		logged["ldap_result_code"] = resultErr.ResultCode
		if resultErr.MatchedDN != "" {
			logged["ldap_matched_dn"] = resultErr.MatchedDN
		}
		if resultErr.Err != nil {
			logged["ldap_diagnostic_message"] = resultErr.Err.Error()
		}
	}

	logger.Error("LDAP operation failed", logged)
}

// LogConnectionEvent logs connection-related events.
func LogConnectionEvent(ctx context.Context, event string, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any)
	}

	fields["event"] = event

	switch event {
	case "connection_established", "authentication_success", "session_reopened":
		tflog.SubsystemInfo(ctx, "ldap", "Connection event", fields)
	case "connection_failed", "authentication_failed":
		tflog.SubsystemError(ctx, "ldap", "Connection event", fields)
	default:
		tflog.SubsystemDebug(ctx, "ldap", "Connection event", fields)
	}
}

// SanitizeFields removes sensitive information from log fields.
func SanitizeFields(fields map[string]any) map[string]any {
	sanitized := make(map[string]any, len(fields))

	sensitiveKeys := map[string]bool{
		"password":    true,
		"passwd":      true,
		"secret":      true,
		"token":       true,
		"private_key": true,
		"credential":  true,
		"credentials": true,
	}

	for k, v := range fields {
		if sensitiveKeys[k] {
			sanitized[k] = "[REDACTED]"
			continue
		}
		if str, ok := v.(string); ok && containsSensitivePattern(str) {
			sanitized[k] = "[REDACTED]"
			continue
		}
		sanitized[k] = v
	}

	return sanitized
}

func containsSensitivePattern(s string) bool {
	patterns := []string{
		"password=",
		"passwd=",
		"secret=",
		"token=",
	}

	lower := strings.ToLower(s)
	for _, pattern := range patterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}

	return false
}

// LogDataSourceOperation provides standardized entry/exit logging for Terraform data source reads.
func LogDataSourceOperation(ctx context.Context, dataSource, operation string, fields map[string]any) func(error) {
	start := time.Now()

	entryFields := make(map[string]any, len(fields)+2)
	maps.Copy(entryFields, fields)
	entryFields["data_source"] = dataSource
	entryFields["operation"] = operation

	tflog.SubsystemDebug(ctx, "provider", "Starting data source operation", entryFields)

	return func(err error) {
		exitFields := make(map[string]any, len(fields)+5)
		maps.Copy(exitFields, fields)
		exitFields["data_source"] = dataSource
		exitFields["operation"] = operation
		exitFields["duration_ms"] = time.Since(start).Milliseconds()
		exitFields["has_error"] = err != nil

		if err != nil {
			exitFields["error"] = err.Error()
			tflog.SubsystemError(ctx, "provider", "Data source operation failed", exitFields)
		} else {
			tflog.SubsystemDebug(ctx, "provider", "Data source operation completed", exitFields)
		}
	}
}
