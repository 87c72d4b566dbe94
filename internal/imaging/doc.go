// Package imaging provides the raster collaborators of the lifecycle coordinator.
//
// It covers three concerns:
//   - decoding and encoding managed image files (ImageCache, Save)
//   - the pure pixel transformations (Grayscale, GaussianBlur, AdjustBrightness)
//   - Transformer, which chains the two for a single pool job
//
// # Transformations
//
//   - grayscale: each output pixel is the plain mean of R, G and B
//   - gaussian_blur: R, G and B are smoothed with a Gaussian of the given
//     sigma; alpha is copied through unmodified
//   - adjust_brightness: each channel's deviation from its image-wide mean is
//     multiplied by factor, then clamped to [0, 255]; alpha is unchanged
//
// All transformations return a new image and never modify their input, so a
// decoded image may be shared through the cache by concurrent workers.
//
// # Thread Safety
//
// ImageCache is safe for concurrent use. Transformer is safe for concurrent
// use provided every call writes to a distinct output path.
//
// # Error Handling
//
// Unknown transformation names fail with the unknown_transformation
// category before any file is touched. Decode and encode failures use the io
// category; Save removes a partially written file before returning.
package imaging
