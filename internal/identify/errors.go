package identify

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned for an empty, out-of-frame or undecodable face region.
	ErrInvalidInput = errors.New("invalid input region")

	// ErrGalleryLoad is matched by every gallery construction failure.
	ErrGalleryLoad = errors.New("gallery load failed")

	// ErrGalleryNotFound means the gallery source does not exist.
	ErrGalleryNotFound = errors.New("gallery source not found")

	// ErrGalleryEmpty means the source produced zero usable entries.
	ErrGalleryEmpty = errors.New("gallery has no usable entries")

	// ErrDimensionMismatch is matched by *DimensionMismatchError.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// GalleryLoadError describes why a gallery could not be built from Source.
type GalleryLoadError struct {
	Source string
	Err    error
}

func (e *GalleryLoadError) Error() string {
	return fmt.Sprintf("load gallery %s: %v", e.Source, e.Err)
}

func (e *GalleryLoadError) Unwrap() error {
	return e.Err
}

func (e *GalleryLoadError) Is(target error) bool {
	return target == ErrGalleryLoad
}

// DimensionMismatchError reports two embeddings of different length.
// It signals embeddings from different providers and is never recovered.
type DimensionMismatchError struct {
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: want %d, got %d", e.Want, e.Got)
}

func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}
