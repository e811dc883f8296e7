package state

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"crusty/internal/descriptor"
	"crusty/internal/fetch"
	"crusty/internal/mapping"
	"crusty/internal/tool"
)

// ConfigFailureError reports unusable configuration or build descriptor data.
// Not resumable: the same inputs fail the same way.
type ConfigFailureError struct {
	Code    string
	Message string
	Cause   error
}

func (e *ConfigFailureError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("config failure (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("config failure: %s", e.Message)
}

func (e *ConfigFailureError) Unwrap() error { return e.Cause }

// StageFailureError attributes an error to the pipeline stage it came from.
type StageFailureError struct {
	Stage string
	Cause error
}

func (e *StageFailureError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Cause)
}

func (e *StageFailureError) Unwrap() error { return e.Cause }

// SystemFailureError represents crashes, interrupts and I/O failures.
type SystemFailureError struct {
	Code    string
	Message string
	Cause   error
}

func (e *SystemFailureError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("system failure (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("system failure: %s", e.Message)
}

func (e *SystemFailureError) Unwrap() error { return e.Cause }

// Classify places err in the failure taxonomy.
func Classify(err error) FailureClass {
	f, ferr := failureFromError(err)
	if ferr != nil {
		return FailureClassSystem
	}
	return f.FailureClass
}

func failureFromError(err error) (Failure, error) {
	if err == nil {
		return Failure{}, errors.New("nil error")
	}

	var stagePtr *string
	var sf *StageFailureError
	if errors.As(err, &sf) && sf != nil && sf.Stage != "" {
		s := sf.Stage
		stagePtr = &s
	}
	f := Failure{Stage: stagePtr, ErrorMessage: err.Error()}

	var cf *ConfigFailureError
	var te *fetch.TransportError
	var ue *url.Error
	var ne net.Error
	var ee *tool.ExitError
	var pe *mapping.ParseError
	var sys *SystemFailureError

	switch {
	case errors.As(err, &cf):
		f.FailureClass = FailureClassConfig
		f.ErrorCode = nonEmptyOr(cf.Code, "ConfigFailure")
	case errors.Is(err, descriptor.ErrNoMappingSource):
		f.FailureClass = FailureClassConfig
		f.ErrorCode = "NoMappingSource"
	case errors.Is(err, descriptor.ErrMissingField):
		f.FailureClass = FailureClassConfig
		f.ErrorCode = "MissingDescriptorField"
	case errors.As(err, &te):
		f.FailureClass = FailureClassTransport
		f.ErrorCode = fmt.Sprintf("HTTP%d", te.StatusCode)
		f.Resumable = true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Checked before net.Error, which context.DeadlineExceeded satisfies.
		f.FailureClass = FailureClassSystem
		f.ErrorCode = "Interrupted"
		if errors.Is(err, context.DeadlineExceeded) {
			f.ErrorCode = "DeadlineExceeded"
		}
		if errors.As(err, &sys) && sys.Code != "" {
			f.ErrorCode = sys.Code
		}
		f.Resumable = true
	case errors.As(err, &ue), errors.As(err, &ne):
		f.FailureClass = FailureClassTransport
		f.ErrorCode = "NetworkError"
		f.Resumable = true
	case errors.Is(err, mapping.ErrUnresolvedClass):
		f.FailureClass = FailureClassMapping
		f.ErrorCode = "UnresolvedClass"
	case errors.Is(err, mapping.ErrUnresolvedMember):
		f.FailureClass = FailureClassMapping
		f.ErrorCode = "UnresolvedMember"
	case errors.Is(err, mapping.ErrDuplicateMapping):
		f.FailureClass = FailureClassMapping
		f.ErrorCode = "DuplicateMapping"
	case errors.Is(err, mapping.ErrMissingNamespace), errors.As(err, &pe):
		f.FailureClass = FailureClassMapping
		f.ErrorCode = "MalformedMapping"
	case errors.As(err, &ee):
		f.FailureClass = FailureClassTool
		f.ErrorCode = fmt.Sprintf("ExitStatus%d", ee.Code)
		f.Resumable = true
	case errors.As(err, &sys):
		f.FailureClass = FailureClassSystem
		f.ErrorCode = nonEmptyOr(sys.Code, "SystemFailure")
		f.Resumable = true
	default:
		// Unknown errors (I/O, interrupts) are the most conservative class.
		f.FailureClass = FailureClassSystem
		f.ErrorCode = "UnknownError"
		f.Resumable = true
	}
	return f, nil
}

func nonEmptyOr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
