package domain

import "errors"

// ErrBadResponse indicates the lookup API answered with a shape we do
// not understand. Not retryable.
var ErrBadResponse = errors.New("unexpected response shape")

// ErrCatalogUnavailable indicates the catalog itself could not be
// obtained. Fatal for the run: no per-entry work can proceed.
var ErrCatalogUnavailable = errors.New("catalog unavailable")
