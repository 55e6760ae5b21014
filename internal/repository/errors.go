// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// handlers to distinguish between different failure scenarios. For
// example, ErrNegativeStock indicates a stock adjustment that would
// drive an inventory quantity below zero, while ErrConflict signals
// that an operation cannot proceed due to dependent records (e.g.
// deleting an inventory item still linked to an active schedule).
package repository

import "errors"

// ErrNotFound is returned when a referenced entity does not exist or
// is not visible to the requesting user. Handlers should translate
// this into an HTTP 404 response.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own. Handlers should translate this
// into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when a delete or update cannot be
// performed because of conflicting state, such as deleting an
// inventory item linked to an active schedule. Handlers should
// translate this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")

// ErrNegativeStock is returned when an inventory adjustment would
// make the stored quantity negative. The adjustment is rejected
// without any mutation.
var ErrNegativeStock = errors.New("adjustment would make stock negative")

// ErrEmailExists is returned by user creation when the email address
// is already registered.
var ErrEmailExists = errors.New("email already exists")
