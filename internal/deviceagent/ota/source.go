package ota

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrImageTooLarge is permanent: retrying cannot make the image fit.
	ErrImageTooLarge = errors.New("image larger than target bank")

	// ErrUnsupportedSource is permanent: no source serves the locator.
	ErrUnsupportedSource = errors.New("no image source for locator")
)

// Source opens an image stream.
type Source interface {
	// Open returns the image starting at offset and the total image size,
	// or -1 when the size is unknown.
	Open(ctx context.Context, offset int64) (io.ReadCloser, int64, error)
}

// permanent reports whether retrying err cannot succeed.
func permanent(err error) bool {
	return errors.Is(err, ErrImageTooLarge) || errors.Is(err, ErrUnsupportedSource)
}
