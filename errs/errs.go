package errs

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrNotFound           = errors.New("not found")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrIntegrationFailed  = errors.New("integration failed")
)

// TranscriptionFailed is returned by the speech provider boundary.
type TranscriptionFailed struct {
	Reason string
	Err    error
}

func (e *TranscriptionFailed) Error() string {
	return fmt.Sprintf("transcription failed: %s", e.Reason)
}

func (e *TranscriptionFailed) Unwrap() error {
	return e.Err
}

// AnalysisFailed is returned by the text-analysis provider boundary.
type AnalysisFailed struct {
	Reason string
	Err    error
}

func (e *AnalysisFailed) Error() string {
	return fmt.Sprintf("analysis failed: %s", e.Reason)
}

func (e *AnalysisFailed) Unwrap() error {
	return e.Err
}

func Invalid(format string, args ...any) error {
	return errors.Join(ErrInvalidInput, fmt.Errorf(format, args...))
}

func Storage(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrStorageUnavailable, err)
}

// Integration classifies a third-party failure. Unconfigured integrations are invalid input.
func Integration(err error, notConfigured error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, notConfigured) {
		return errors.Join(ErrInvalidInput, err)
	}
	return errors.Join(ErrIntegrationFailed, err)
}
