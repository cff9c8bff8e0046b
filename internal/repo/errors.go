package repo

import "errors"

// ErrNotFound is returned by mutations addressing a profile that does not exist.
var ErrNotFound = errors.New("repo: not found")
