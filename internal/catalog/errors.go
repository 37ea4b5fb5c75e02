package catalog

import "fmt"

// ConfigError reports a predicate that references an unknown field or an
// operator that is not legal for the field's type. It fails the whole
// resolve or validation call.
type ConfigError struct {
	Field    FieldID
	Operator Operator
	Reason   string
}

func (e *ConfigError) Error() string {
	if e.Operator != "" {
		return fmt.Sprintf("predicate field %q operator %q: %s", e.Field, e.Operator, e.Reason)
	}
	return fmt.Sprintf("predicate field %q: %s", e.Field, e.Reason)
}

// ValueError reports a predicate value that does not have the shape required
// by the field's type and operator.
type ValueError struct {
	Field  FieldID
	Reason string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("predicate field %q value: %s", e.Field, e.Reason)
}
