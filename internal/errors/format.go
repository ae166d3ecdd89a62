package errors

import (
	"fmt"
	"log/slog"
	"strings"
)

// FormatForCLI renders err for the terminal: message, optional hint, code.
// Plain errors are shown as internal errors.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}
	e, ok := as(err)
	if !ok {
		e = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", e.Message)
	if e.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", e.Suggestion)
	}
	fmt.Fprintf(&sb, "  Code: %s\n", e.Code)
	return sb.String()
}

// LogAttr is the "error" attribute for a log record. Structured errors
// become a group carrying their code and category, so log queries can
// filter on error.code; anything else is logged as its message.
func LogAttr(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	e, ok := as(err)
	if !ok {
		return slog.String("error", err.Error())
	}

	attrs := []any{
		slog.String("code", e.Code),
		slog.String("category", string(e.Category)),
		slog.String("message", e.Message),
	}
	if e.Cause != nil {
		attrs = append(attrs, slog.String("cause", e.Cause.Error()))
	}
	if e.Retryable {
		attrs = append(attrs, slog.Bool("retryable", true))
	}
	for k, v := range e.Details {
		attrs = append(attrs, slog.String("detail_"+k, v))
	}
	return slog.Group("error", attrs...)
}
