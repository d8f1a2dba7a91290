package repository

import "github.com/tphakala/voterimport/internal/errors"

// Sentinel errors for repository operations.
var (
	// ErrUploadNotFound indicates the requested upload ledger entry does not exist.
	ErrUploadNotFound = errors.NewStd("upload not found")

	// ErrMappingNotFound indicates no mapping exists for the surname.
	ErrMappingNotFound = errors.NewStd("surname mapping not found")

	// ErrInvalidStatus indicates a non-terminal status was passed to a terminal transition.
	ErrInvalidStatus = errors.NewStd("invalid upload status")
)

func repoError(err error, operation string, context ...any) error {
	b := errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation)
	for i := 0; i < len(context)-1; i += 2 {
		if key, ok := context[i].(string); ok {
			b = b.Context(key, context[i+1])
		}
	}
	return b.Build()
}
