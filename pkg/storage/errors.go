package storage

import "github.com/pkg/errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrCorruption = errors.New("corrupted record")
	ErrClosed     = errors.New("store closed")
)
