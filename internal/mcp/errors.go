// Package mcp serves the knowledge base to MCP clients over stdio.
package mcp

import (
	"context"
	"errors"
	"fmt"

	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
)

// MCP error codes. The -32000 range is server defined.
const (
	ErrCodeNoCollections      = -32001
	ErrCodeBackendUnavailable = -32002
	ErrCodeTimeout            = -32003
	ErrCodeNotFound           = -32004

	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError is a protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts an internal error to an MCP error.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var ve *vkberrors.Error
	if errors.As(err, &ve) {
		return mapStructured(ve)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError reports bad tool arguments.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

func mapStructured(e *vkberrors.Error) *MCPError {
	message := e.Message
	if e.Suggestion != "" {
		message = fmt.Sprintf("%s %s", e.Message, e.Suggestion)
	}

	switch e.Code {
	case vkberrors.ErrCodeNoCollections:
		return &MCPError{Code: ErrCodeNoCollections, Message: message}
	case vkberrors.ErrCodeBackendUnavailable:
		return &MCPError{Code: ErrCodeBackendUnavailable, Message: message}
	case vkberrors.ErrCodeCollectionNotFound, vkberrors.ErrCodeFileNotFound:
		return &MCPError{Code: ErrCodeNotFound, Message: message}
	}

	switch e.Category {
	case vkberrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	case vkberrors.CategoryNetwork:
		return &MCPError{Code: ErrCodeTimeout, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
