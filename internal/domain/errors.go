package domain

import "errors"

// Sentinel errors shared across the discovery packages. Match with errors.Is.
var (
	// ErrMalformedExpression means a date offset or calendar literal could not be parsed.
	ErrMalformedExpression = errors.New("malformed date range expression")
	// ErrInvalidRangeSpec means the granularity tag is not recognized.
	ErrInvalidRangeSpec = errors.New("invalid date range spec")
	// ErrInvalidPageSize means the required rpp parameter is missing or unparseable.
	ErrInvalidPageSize = errors.New("invalid page size")
	// ErrInvalidQuery means the search backend rejected the query as malformed.
	ErrInvalidQuery = errors.New("invalid search query")
	// ErrSearchUnavailable wraps every failure of the search backend.
	ErrSearchUnavailable = errors.New("search unavailable")
	// ErrPermissionLookupFailed means the READ groups of an item could not be resolved.
	ErrPermissionLookupFailed = errors.New("permission lookup failed")
	// ErrInvalidTokenState means a validity token was used out of order.
	ErrInvalidTokenState = errors.New("invalid token state")

	ErrScopeNotFound     = errors.New("scope not found")
	ErrNotContainer      = errors.New("scope is not a community or collection")
	ErrUnsupportedFormat = errors.New("unsupported feed format")
)
