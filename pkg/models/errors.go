package models

import "errors"

// Error taxonomy shared by the store, the match services, the API layer and
// the ingestion CLI. Read paths surface these unchanged; the API maps them
// to HTTP statuses and the CLI to exit codes with errors.Is.
var (
	ErrNotFound                = errors.New("not found")
	ErrInvalidRange            = errors.New("invalid range")
	ErrInvalidArgument         = errors.New("invalid argument")
	ErrConflict                = errors.New("conflict")
	ErrIntegrity               = errors.New("integrity violation")
	ErrBackingStoreMissing     = errors.New("backing object missing")
	ErrBackingStoreUnavailable = errors.New("backing store unavailable")
	ErrResourceExhausted       = errors.New("resource exhausted")
	ErrCancelled               = errors.New("cancelled")
)
