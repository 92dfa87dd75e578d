// Package errors provides centralized error definitions for the market engine.
// Errors are organized by concern to avoid duplication and provide consistent naming.
//
// Naming conventions:
//   - Exported errors (Err*): Use for errors that callers need to check with errors.Is
//   - Kind classifies a failure for propagation decisions (halt the run, degrade, report)
//   - Use fmt.Errorf with %w to wrap sentinel errors with context
package errors

import (
	"errors"
	"fmt"
)

// Circuit breaker errors.
var (
	// ErrCircuitBreakerOpen indicates the circuit breaker has tripped and requests are blocked.
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
)

// Entity store errors.
var (
	// ErrDuplicateEntity indicates an entity with the same id already exists.
	ErrDuplicateEntity = errors.New("duplicate entity")

	// ErrInvalidValue indicates a value outside the permitted range.
	ErrInvalidValue = errors.New("invalid value")

	// ErrAlreadyProcessed indicates a history entry for (entity, episode) already exists,
	// or the episode is already committed.
	ErrAlreadyProcessed = errors.New("already processed")

	// ErrUnknownEntity indicates a reference to an entity that does not exist.
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrNotFound is a generic not found error.
	ErrNotFound = errors.New("not found")
)

// Validation errors.
var (
	// ErrOutOfRangeMultiplier indicates a proposed multiplier outside the accepted band.
	ErrOutOfRangeMultiplier = errors.New("multiplier out of range")

	// ErrMalformedProposal indicates oracle output that violates the proposal contract.
	ErrMalformedProposal = errors.New("malformed proposal")
)

// Processing errors.
var (
	// ErrOutOfOrder indicates an episode was started out of strict sequence.
	ErrOutOfOrder = errors.New("episode out of order")

	// ErrInsufficientContent indicates episode content failed the minimum content check.
	ErrInsufficientContent = errors.New("insufficient episode content")

	// ErrOracleDisabled indicates no oracle backend is configured.
	ErrOracleDisabled = errors.New("oracle disabled")
)

// Kind classifies failures so callers can decide how to propagate them.
type Kind int

const (
	KindUnknown Kind = iota
	KindRetrieval
	KindOracle
	KindValidation
	KindConsistency
)

func (k Kind) String() string {
	switch k {
	case KindRetrieval:
		return "retrieval"
	case KindOracle:
		return "oracle"
	case KindValidation:
		return "validation"
	case KindConsistency:
		return "consistency"
	default:
		return "unknown"
	}
}

// Error carries a Kind together with the entity and episode it concerns.
type Error struct {
	Kind     Kind
	EntityID string
	Episode  int
	Err      error
}

func (e *Error) Error() string {
	switch {
	case e.EntityID != "" && e.Episode > 0:
		return fmt.Sprintf("%s error (entity %s, episode %d): %v", e.Kind, e.EntityID, e.Episode, e.Err)
	case e.Episode > 0:
		return fmt.Sprintf("%s error (episode %d): %v", e.Kind, e.Episode, e.Err)
	case e.EntityID != "":
		return fmt.Sprintf("%s error (entity %s): %v", e.Kind, e.EntityID, e.Err)
	default:
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retrieval wraps err as a retrieval failure for the given episode.
func Retrieval(episode int, err error) error {
	return &Error{Kind: KindRetrieval, Episode: episode, Err: err}
}

// Oracle wraps err as an oracle failure.
func Oracle(entityID string, episode int, err error) error {
	return &Error{Kind: KindOracle, EntityID: entityID, Episode: episode, Err: err}
}

// Validation wraps err as a validation failure.
func Validation(entityID string, episode int, err error) error {
	return &Error{Kind: KindValidation, EntityID: entityID, Episode: episode, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	var ce *ConsistencyError
	if errors.As(err, &ce) {
		return KindConsistency
	}

	return KindUnknown
}

// ConsistencyError reports a stored value that diverges from its folded history.
// Episode is where the divergence was first observed.
type ConsistencyError struct {
	EntityID string
	Episode  int
	Expected float64
	Actual   float64
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency error: entity %s at episode %d stored value %.4f, history folds to %.4f",
		e.EntityID, e.Episode, e.Actual, e.Expected)
}

// Is is a convenience wrapper around errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is a convenience wrapper around errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
