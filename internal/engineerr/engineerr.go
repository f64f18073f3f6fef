// Package engineerr defines the error taxonomy shared by the pipeline and its
// components. Components distinguish "degrade and continue" from "raise to
// engine" by returning (or not returning) one of these types; the engine is
// the only place that decides whether a raised error becomes a stream_error
// or a generation_stopped event.
package engineerr

import (
	"errors"
	"fmt"
)

// Code is a wire-stable error code surfaced to the client.
type Code string

const (
	CodeInvalidMessageFormat Code = "INVALID_MESSAGE_FORMAT"
	CodeSessionNotFound      Code = "SESSION_NOT_FOUND"
	CodeRateLimitExceeded    Code = "RATE_LIMIT_EXCEEDED"
	CodeUnauthorized         Code = "UNAUTHORIZED"
	CodeProviderUnavailable  Code = "AI_PROVIDER_UNAVAILABLE"
	CodeContextRetrieval     Code = "CONTEXT_RETRIEVAL_FAILED"
	CodeEmotionDetection     Code = "EMOTION_DETECTION_FAILED"
	CodeDatabaseError        Code = "DATABASE_ERROR"
	CodeInternalError        Code = "INTERNAL_ERROR"
	CodeGenerationTimeout    Code = "GENERATION_TIMEOUT"
	CodeGenerationCancelled  Code = "GENERATION_CANCELLED"
	CodeTokenLimitExceeded   Code = "TOKEN_LIMIT_EXCEEDED"
	CodeBudgetExhausted      Code = "BUDGET_EXHAUSTED"
)

// ProviderUnavailable means a provider call failed before any content was
// produced (before the first streamed chunk, or for a non-streaming call).
// The engine may retry the next provider in the fallback chain.
type ProviderUnavailable struct {
	Provider string
	Err      error
}

func (e *ProviderUnavailable) Error() string {
	return fmt.Sprintf("provider %s unavailable: %v", e.Provider, e.Err)
}
func (e *ProviderUnavailable) Unwrap() error { return e.Err }

// PartialStreamError means a provider call failed mid-stream, after at least
// one chunk was already emitted. It is never retried; the accumulated text is
// surfaced to the caller as partial content.
type PartialStreamError struct {
	Provider    string
	Accumulated string
	Recoverable bool
	Err         error
}

func (e *PartialStreamError) Error() string {
	return fmt.Sprintf("provider %s failed mid-stream: %v", e.Provider, e.Err)
}
func (e *PartialStreamError) Unwrap() error { return e.Err }

// BudgetExhausted is a terminal, non-retryable error raised when a user's
// rolling cost budget has no remaining allowance for the projected cost.
type BudgetExhausted struct {
	BudgetUSD float64
	SpentUSD  float64
	Period    string
}

func (e *BudgetExhausted) Error() string {
	return fmt.Sprintf("%s budget exhausted: spent=$%.4f budget=$%.4f", e.Period, e.SpentUSD, e.BudgetUSD)
}

// NoProviderAvailable is raised by the selector when every candidate provider
// is excluded (circuit open, context too small, category unsupported).
type NoProviderAvailable struct {
	Category string
}

func (e *NoProviderAvailable) Error() string {
	return fmt.Sprintf("no provider available for category %q", e.Category)
}

// Classify maps an internal error to a wire-stable code and a recoverable
// flag, without leaking implementation details in the message.
func Classify(err error) (code Code, message string, recoverable bool) {
	var pu *ProviderUnavailable
	var pse *PartialStreamError
	var be *BudgetExhausted
	var npa *NoProviderAvailable

	switch {
	case errors.As(err, &pu):
		return CodeProviderUnavailable, "the AI provider is currently unavailable", true
	case errors.As(err, &pse):
		return CodeProviderUnavailable, "generation stopped unexpectedly", pse.Recoverable
	case errors.As(err, &be):
		return CodeBudgetExhausted, "spending limit reached for this period", false
	case errors.As(err, &npa):
		return CodeProviderUnavailable, "no AI provider is available right now", false
	default:
		return CodeInternalError, "an internal error occurred", false
	}
}
