package resolver

import (
	"fmt"

	"github.com/foxzi/segmentry/internal/catalog"
)

// SourceError reports that an external fact source failed to respond while
// resolving a predicate. It must stay distinguishable from an empty match:
// folding it into "zero matches" would silently shrink audiences.
type SourceError struct {
	Field catalog.FieldID
	Err   error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("fact source for %q unavailable: %v", e.Field, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}
