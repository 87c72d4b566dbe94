package imaging

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/anthonynsimon/bild/parallel"
	"github.com/disintegration/imaging"

	apperrors "github.com/ironsheep/image-lifecycle/internal/errors"
)

// Kind names a transformation.
type Kind string

const (
	KindGrayscale        Kind = "grayscale"
	KindGaussianBlur     Kind = "gaussian_blur"
	KindAdjustBrightness Kind = "adjust_brightness"
)

// DefaultKind is used when a parameter file names no transformation.
const DefaultKind = KindGrayscale

// Kinds lists every supported transformation.
func Kinds() []Kind {
	return []Kind{KindGrayscale, KindGaussianBlur, KindAdjustBrightness}
}

// ParseKind validates a transformation name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", apperrors.New(apperrors.CategoryUnknownTransformation, "imaging.parse",
		fmt.Errorf("%q: %w", s, apperrors.ErrUnknownTransformation))
}

// Options carries the numeric transformation parameters.
type Options struct {
	// Sigma is the Gaussian standard deviation in pixels. Values <= 0 leave
	// the image unchanged.
	Sigma float64 `json:"sigma" yaml:"sigma"`

	// Factor scales each channel's deviation from its mean. 1.0 is identity,
	// 0 flattens the image to its mean color.
	Factor float64 `json:"factor" yaml:"factor"`
}

// DefaultOptions returns sigma 1 and factor 1.0.
func DefaultOptions() Options {
	return Options{Sigma: 1, Factor: 1.0}
}

// Apply runs one transformation over img. The input is never modified.
func Apply(kind Kind, img image.Image, opts Options) (image.Image, error) {
	switch kind {
	case KindGrayscale:
		return Grayscale(img), nil
	case KindGaussianBlur:
		return GaussianBlur(img, opts.Sigma), nil
	case KindAdjustBrightness:
		return AdjustBrightness(img, opts.Factor), nil
	default:
		return nil, apperrors.New(apperrors.CategoryUnknownTransformation, "imaging.apply",
			fmt.Errorf("%q: %w", kind, apperrors.ErrUnknownTransformation))
	}
}

// Grayscale converts img to a single channel holding the plain mean of R, G
// and B, rounded to the nearest integer. Channels are read unpremultiplied,
// so alpha does not darken the result; alpha itself is dropped.
func Grayscale(img image.Image) *image.Gray {
	src := imaging.Clone(img)
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))

	parallel.Line(b.Dy(), func(start, end int) {
		for y := start; y < end; y++ {
			si := y * src.Stride
			di := y * dst.Stride
			for x := 0; x < b.Dx(); x++ {
				sum := int(src.Pix[si]) + int(src.Pix[si+1]) + int(src.Pix[si+2])
				dst.Pix[di+x] = uint8((sum + 1) / 3)
				si += 4
			}
		}
	})
	return dst
}

// GaussianBlur smooths the R, G and B channels independently with a Gaussian
// of the given sigma. The alpha channel of the source is copied through
// unmodified and plays no part in the smoothing.
func GaussianBlur(img image.Image, sigma float64) *image.NRGBA {
	src := imaging.Clone(img)

	// imaging.Blur weights color by alpha; an opaque copy makes it per-channel.
	opaque := imaging.Clone(src)
	for i := 3; i < len(opaque.Pix); i += 4 {
		opaque.Pix[i] = 0xff
	}
	dst := imaging.Blur(opaque, sigma)

	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = src.Pix[i]
	}
	return dst
}

// AdjustBrightness scales every R, G and B value's distance from that
// channel's image-wide mean by factor, clamping to [0, 255]. Alpha is left
// as is.
func AdjustBrightness(img image.Image, factor float64) *image.NRGBA {
	src := imaging.Clone(img)
	mr, mg, mb := channelMeans(src)

	return imaging.AdjustFunc(src, func(c color.NRGBA) color.NRGBA {
		c.R = scaleAround(c.R, mr, factor)
		c.G = scaleAround(c.G, mg, factor)
		c.B = scaleAround(c.B, mb, factor)
		return c
	})
}

// channelMeans returns the mean of each color channel over all pixels.
func channelMeans(img *image.NRGBA) (r, g, b float64) {
	var sr, sg, sb float64
	n := 0
	for i := 0; i+3 < len(img.Pix); i += 4 {
		sr += float64(img.Pix[i])
		sg += float64(img.Pix[i+1])
		sb += float64(img.Pix[i+2])
		n++
	}
	if n == 0 {
		return 0, 0, 0
	}
	return sr / float64(n), sg / float64(n), sb / float64(n)
}

func scaleAround(v uint8, mean, factor float64) uint8 {
	return clamp8((float64(v)-mean)*factor + mean)
}

func clamp8(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(math.Round(v))
	}
}
