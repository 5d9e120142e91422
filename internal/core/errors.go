package core

// ConflictError reports a protocol state conflict, e.g. starting a
// transaction on an occupied connector under a different idTag.
type ConflictError struct{ Msg string }

func (e *ConflictError) Error() string { return e.Msg }

// NotFoundError reports a transaction that could not be resolved.
type NotFoundError struct{ Msg string }

func (e *NotFoundError) Error() string { return e.Msg }
