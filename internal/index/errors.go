package index

import (
	"errors"
	"fmt"
)

// ErrNotInitialized is returned by every operation except Initialize while
// the index has not been initialized (or after shutdown).
var ErrNotInitialized = errors.New("index not initialized")

// DuplicateIDError reports an add of a document whose ID is already present.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("document %q already exists", e.ID)
}

// NotFoundError reports a removal of a document that is not in the index.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("document %q not found", e.ID)
}
