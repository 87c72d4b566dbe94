package imaging

import (
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/disintegration/imaging"
)

// ImageCache provides thread-safe caching of decoded images to avoid redundant disk reads.
//
// The cache stores decoded image.Image objects keyed by their managed storage
// path. Managed files are never rewritten in place, so a cached entry stays
// valid until the record owning the path is deleted; the command layer calls
// Evict at that point.
//
// ImageCache is safe for concurrent use by multiple goroutines. Two workers
// loading the same uncached path at once may both decode it; the last one
// stored wins, which is harmless because both decodes are identical.
type ImageCache struct {
	mu     sync.RWMutex
	images map[string]image.Image
}

// NewImageCache creates and initializes a new empty image cache.
func NewImageCache() *ImageCache {
	return &ImageCache{
		images: make(map[string]image.Image),
	}
}

// Load retrieves an image from the cache or decodes it from disk if not cached.
//
// Supported formats are the ones disintegration/imaging decodes: JPEG, PNG,
// GIF, TIFF and BMP.
//
// # Errors
//
//   - Returns error if the file does not exist or cannot be read
//   - Returns error if the file is not a decodable image
func (c *ImageCache) Load(path string) (image.Image, error) {
	c.mu.RLock()
	if img, ok := c.images[path]; ok {
		c.mu.RUnlock()
		return img, nil
	}
	c.mu.RUnlock()

	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	c.mu.Lock()
	c.images[path] = img
	c.mu.Unlock()

	return img, nil
}

// Len returns the number of cached images.
func (c *ImageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.images)
}

// Evict removes a specific image from the cache by its path.
//
// If the path is not in the cache, this method does nothing.
func (c *ImageCache) Evict(path string) {
	c.mu.Lock()
	delete(c.images, path)
	c.mu.Unlock()
}

// Save encodes img to path, choosing the format from the file extension, and
// returns the size of the written file.
//
// On failure nothing is left behind at path: a partially written file is
// removed before the error is returned.
func Save(img image.Image, path string) (int64, error) {
	if err := imaging.Save(img, path); err != nil {
		// Best effort: the encode error is what the caller needs.
		_ = os.Remove(path)
		return 0, fmt.Errorf("failed to encode image: %w", err)
	}

	stat, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat file: %w", err)
	}
	return stat.Size(), nil
}
