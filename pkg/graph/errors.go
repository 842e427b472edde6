package graph

import "errors"

var (
	// ErrMalformedRecord marks a record missing a required field or carrying
	// one that cannot be parsed. The record is skipped.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrPersistence marks a failed store call while resolving or writing a
	// record. The record's transaction is rolled back.
	ErrPersistence = errors.New("persistence failure")
)
