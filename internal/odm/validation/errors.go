package validation

import "fmt"

// InvalidKind discriminates validation failures.
type InvalidKind int

const (
	// MissingRequired means a required property held an empty value.
	MissingRequired InvalidKind = iota
	// PredicateFailed means a named predicate returned false.
	PredicateFailed
	// UnknownPredicate means a validation referenced an unregistered name.
	UnknownPredicate
)

// InvalidValueError is surfaced to the caller of a persistence operation.
// No partial document reaches the transport once one is raised.
type InvalidValueError struct {
	Kind      InvalidKind
	Field     string
	Value     any
	Predicate string
}

// Error implements the error interface.
func (e *InvalidValueError) Error() string {
	switch e.Kind {
	case MissingRequired:
		return fmt.Sprintf("validation: field %s is required", e.Field)
	case UnknownPredicate:
		return fmt.Sprintf("validation: field %s references unknown predicate %s", e.Field, e.Predicate)
	default:
		return fmt.Sprintf("validation: field %s failed %s (value %v)", e.Field, e.Predicate, e.Value)
	}
}
