package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/refuturo/refuturo/pkg/models"
)

var (
	ErrAPIKeyRequired = errors.New("API key is required")
	ErrNoImages       = errors.New("no images were generated")
)

// Reason is a machine-readable failure code passed through from the
// generation backend. The orchestrator never retries on its own; reasons
// exist so callers can present the right message.
type Reason string

const (
	ReasonUnsupportedFileType Reason = "unsupported-file-type"
	ReasonInvalidCredentials  Reason = "invalid-credentials"
	ReasonQuotaExceeded       Reason = "quota-exceeded"
	ReasonBadRequest          Reason = "bad-request"
	ReasonServiceUnavailable  Reason = "service-unavailable"
	ReasonGenerationRefused   Reason = "generation-refused"
	ReasonUnknown             Reason = "unknown"
)

// Error wraps a backend failure with its reason code.
type Error struct {
	Reason  Reason
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("generation failed (%s): %s", e.Reason, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("generation failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("generation failed (%s)", e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a provider error with the given reason.
func NewError(reason Reason, message string, err error) *Error {
	return &Error{Reason: reason, Message: message, Err: err}
}

// ReasonOf extracts the reason code from err, or ReasonUnknown when err is
// not a provider error.
func ReasonOf(err error) Reason {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Reason
	}
	return ReasonUnknown
}

// Provider is the external AI generation collaborator. Implementations
// must leave no side effects on failure; the caller commits results.
// A nil-error GenerateVariants response should carry at least one image;
// a run where every request failed returns the last error instead.
type Provider interface {
	Name() string
	GenerateVariants(ctx context.Context, req *models.GenerateRequest) (*models.Response, error)
	RefineWithPrompt(ctx context.Context, req *models.RefineRequest) (*models.GeneratedImage, error)
	RefineWithMask(ctx context.Context, req *models.MaskRequest) (*models.GeneratedImage, error)
}
