// Package mcp implements the MCP tool dispatcher for cogmemd.
package mcp

import (
	"context"
	"errors"
	"fmt"

	amerrors "github.com/cogmemd/cogmemd/internal/errors"
)

// Custom MCP error codes for cogmemd.
const (
	// ErrCodeMemoryNotFound indicates the referenced memory does not exist.
	ErrCodeMemoryNotFound = -32001

	// ErrCodeEmbeddingFailed indicates embedding generation failed.
	ErrCodeEmbeddingFailed = -32002

	// ErrCodeTimeout indicates the request timed out.
	ErrCodeTimeout = -32003

	// ErrCodeRateLimited indicates a caller exceeded a cooldown window.
	ErrCodeRateLimited = -32004

	// ErrCodeDimensionMismatch indicates an embedding's length does not
	// match the store's configured dimension.
	ErrCodeDimensionMismatch = -32005

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Sentinel errors for internal use.
var (
	// ErrMemoryNotFound indicates the referenced memory does not exist.
	ErrMemoryNotFound = errors.New("memory not found")

	// ErrEmbeddingFailed indicates embedding generation failed.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrToolNotFound indicates the requested tool does not exist.
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidParams indicates invalid parameters were provided.
	ErrInvalidParams = errors.New("invalid parameters")

	// ErrResourceNotFound indicates the requested resource does not exist.
	ErrResourceNotFound = errors.New("resource not found")
)

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
// It maps known error types to appropriate MCP error codes and messages.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	// Check for CogError first
	var memErr *amerrors.CogError
	if errors.As(err, &memErr) {
		return mapCogError(memErr)
	}

	switch {
	case errors.Is(err, ErrMemoryNotFound):
		return &MCPError{
			Code:    ErrCodeMemoryNotFound,
			Message: "Memory not found.",
		}
	case errors.Is(err, ErrEmbeddingFailed):
		return &MCPError{
			Code:    ErrCodeEmbeddingFailed,
			Message: "Embedding generation failed. Falling back to trigger/lexical results.",
		}
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{
			Code:    ErrCodeTimeout,
			Message: "Request timed out.",
		}
	case errors.Is(err, context.Canceled):
		return &MCPError{
			Code:    ErrCodeTimeout,
			Message: "Request was canceled.",
		}
	case errors.Is(err, ErrToolNotFound):
		return &MCPError{
			Code:    ErrCodeMethodNotFound,
			Message: "Tool not found.",
		}
	case errors.Is(err, ErrInvalidParams):
		return &MCPError{
			Code:    ErrCodeInvalidParams,
			Message: "Invalid parameters.",
		}
	case errors.Is(err, ErrResourceNotFound):
		return &MCPError{
			Code:    ErrCodeMethodNotFound,
			Message: "Resource not found.",
		}
	default:
		return &MCPError{
			Code:    ErrCodeInternalError,
			Message: "Internal server error.",
		}
	}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{
		Code:    ErrCodeInvalidParams,
		Message: msg,
	}
}

// NewMethodNotFoundError creates an error for unknown methods/tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Tool '%s' not found.", name),
	}
}

// NewResourceNotFoundError creates an error for unknown resources.
func NewResourceNotFoundError(uri string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Resource '%s' not found.", uri),
	}
}

// mapCogError converts a CogError to an MCPError, choosing the JSON-RPC
// code from its taxonomy code and appending its recovery hint (if any) to
// the message. The taxonomy code string itself is not included.
func mapCogError(me *amerrors.CogError) *MCPError {
	message := me.Message
	if me.RecoveryHint != "" {
		message = fmt.Sprintf("%s %s", me.Message, me.RecoveryHint)
	}

	switch me.Code {
	case amerrors.CodeNotFound:
		return &MCPError{Code: ErrCodeMemoryNotFound, Message: message}
	case amerrors.CodeEmbeddingFailed:
		return &MCPError{Code: ErrCodeEmbeddingFailed, Message: message}
	case amerrors.CodeUnavailable:
		return &MCPError{Code: ErrCodeTimeout, Message: message}
	case amerrors.CodeRateLimited:
		return &MCPError{Code: ErrCodeRateLimited, Message: message}
	case amerrors.CodeDimensionMismatch:
		return &MCPError{Code: ErrCodeDimensionMismatch, Message: message}
	case amerrors.CodeMissingRequiredParam, amerrors.CodeInvalidParameter:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	default: // CodeDatabaseError, CodeInternal, and unknown
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
