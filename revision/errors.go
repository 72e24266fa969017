package revision

import "errors"

var (
	// ErrSchemaViolation is returned when a pushed revision fails schema
	// validation. Nothing is persisted.
	ErrSchemaViolation = errors.New("revision failed schema validation")

	// ErrRevisionActionNotValid is returned when a pushed patch is neither an
	// object nor null.
	ErrRevisionActionNotValid = errors.New("revision action not valid")

	// ErrRevisionNotFound is returned when the target document is missing at
	// apply or preview time.
	ErrRevisionNotFound = errors.New("revision target document not found")

	// ErrDocumentRevisionInsertFailed is returned when an insert revision's
	// store write yields no id.
	ErrDocumentRevisionInsertFailed = errors.New("document revision insert failed")

	// ErrDocumentRevisionDeleteFailed is returned when a delete revision
	// matches no document.
	ErrDocumentRevisionDeleteFailed = errors.New("document revision delete failed")

	// ErrRevisionUpdateFailed is returned when marking a revision processed
	// matches no revision record, meaning it was deleted mid-flight.
	ErrRevisionUpdateFailed = errors.New("revision document update failed")

	// ErrNoRevisionsAvailable is returned when a preview is requested for a
	// master with no pending revisions.
	ErrNoRevisionsAvailable = errors.New("no revisions available")
)
