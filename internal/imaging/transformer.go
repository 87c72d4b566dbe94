package imaging

import (
	apperrors "github.com/ironsheep/image-lifecycle/internal/errors"
)

// Transformer performs one complete transformation: decode, transform, encode.
//
// It is stateless apart from the shared ImageCache and safe to call from many
// pool workers at once, as long as each call writes a distinct output path.
type Transformer struct {
	cache *ImageCache
}

// NewTransformer creates a Transformer that decodes through cache.
func NewTransformer(cache *ImageCache) *Transformer {
	return &Transformer{cache: cache}
}

// Run applies the named transformation to the image at in and writes the
// result to out, returning the size of the written file.
//
// An unknown kind fails before any I/O happens. Decode and encode failures
// are reported with the io category and leave no file at out.
func (t *Transformer) Run(kind string, in, out string, opts Options) (int64, error) {
	k, err := ParseKind(kind)
	if err != nil {
		return 0, err
	}

	img, err := t.cache.Load(in)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CategoryIO, "imaging.decode", err)
	}

	result, err := Apply(k, img, opts)
	if err != nil {
		return 0, err
	}

	size, err := Save(result, out)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CategoryIO, "imaging.encode", err)
	}
	return size, nil
}
