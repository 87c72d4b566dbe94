// Package registry holds the in-memory image and task ledgers.
//
// ImageRegistry guards its map with one registry-wide mutex. Each record
// additionally owns a mutex and a condition variable used only by the
// delete-wait protocol; the registry mutex is never held while a caller waits
// on a record. Lock order, when more than one is taken: registry mutex, then
// record mutex, then the TaskRegistry mutex.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "github.com/ironsheep/image-lifecycle/internal/errors"
)

// Store is the storage collaborator used to import originals and size
// artifacts.
type Store interface {
	Import(id int, src string) (string, int64, error)
	Size(path string) (int64, error)
}

// ImageRecord is a point-in-time copy of a registered image.
type ImageRecord struct {
	ID              int
	ParentID        int // 0 when the record was added directly
	OriginalPath    string
	CurrentPath     string
	Deleted         bool
	Filters         []string
	ProcessDuration *time.Duration
	InitialSize     *int64
	FinalSize       *int64
}

// HasParent reports whether the record was derived from another one.
func (r ImageRecord) HasParent() bool { return r.ParentID != 0 }

func (r ImageRecord) clone() ImageRecord {
	c := r
	if r.Filters != nil {
		c.Filters = append([]string(nil), r.Filters...)
	}
	if r.ProcessDuration != nil {
		d := *r.ProcessDuration
		c.ProcessDuration = &d
	}
	if r.InitialSize != nil {
		n := *r.InitialSize
		c.InitialSize = &n
	}
	if r.FinalSize != nil {
		n := *r.FinalSize
		c.FinalSize = &n
	}
	return c
}

// entry is the live record. rec and removed are guarded by mu.
type entry struct {
	mu      sync.Mutex
	cond    *sync.Cond
	rec     ImageRecord
	removed bool
}

func newEntry(rec ImageRecord) *entry {
	e := &entry{rec: rec}
	e.cond = sync.NewCond(&e.mu)
	return e
}

func (e *entry) snapshot() ImageRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.clone()
}

func (e *entry) broadcast() {
	e.mu.Lock()
	e.cond.Broadcast()
	e.mu.Unlock()
}

// ImageRegistry is the authoritative map of image id to record.
type ImageRegistry struct {
	mu     sync.Mutex
	nextID int
	images map[int]*entry
	store  Store
}

// NewImageRegistry creates an empty registry backed by store.
func NewImageRegistry(store Store) *ImageRegistry {
	return &ImageRegistry{
		images: make(map[int]*entry),
		store:  store,
	}
}

func (r *ImageRegistry) reserveID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	return r.nextID
}

func (r *ImageRegistry) insert(e *entry) {
	r.mu.Lock()
	r.images[e.rec.ID] = e
	r.mu.Unlock()
}

func (r *ImageRegistry) lookup(id int) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.images[id]
	return e, ok
}

// AddImage copies src into managed storage and registers it.
//
// The id is reserved before the copy so the file can be named after it; the
// copy itself runs without the registry lock. A failed copy consumes the id.
func (r *ImageRegistry) AddImage(src string) (int, error) {
	id := r.reserveID()

	path, size, err := r.store.Import(id, src)
	if err != nil {
		return 0, err
	}

	r.insert(newEntry(ImageRecord{
		ID:           id,
		OriginalPath: src,
		CurrentPath:  path,
		InitialSize:  &size,
	}))
	return id, nil
}

// AddProcessedImage registers the artifact at resultPath as derived from
// parentID. The parent must still be registered; it may be flagged.
func (r *ImageRegistry) AddProcessedImage(resultPath string, parentID int) (int, error) {
	parent, ok := r.lookup(parentID)
	if !ok {
		return 0, apperrors.NotFound("registry.add_processed", "image", parentID)
	}
	origin := parent.snapshot().CurrentPath

	size, err := r.store.Size(resultPath)
	if err != nil {
		return 0, err
	}

	id := r.reserveID()
	r.insert(newEntry(ImageRecord{
		ID:           id,
		ParentID:     parentID,
		OriginalPath: origin,
		CurrentPath:  resultPath,
		FinalSize:    &size,
	}))
	return id, nil
}

// MarkForDeletion sets the delete flag. The flag is never cleared, so marking
// twice is a no-op.
func (r *ImageRegistry) MarkForDeletion(id int) error {
	e, ok := r.lookup(id)
	if !ok {
		return apperrors.NotFound("registry.mark", "image", id)
	}
	e.mu.Lock()
	e.rec.Deleted = true
	e.mu.Unlock()
	return nil
}

// IsMarkedForDeletion reports the delete flag. Unknown ids report false.
func (r *ImageRegistry) IsMarkedForDeletion(id int) bool {
	e, ok := r.lookup(id)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Deleted
}

// RemoveImage drops the record. Anyone still waiting on it is woken and
// observes NotFound.
func (r *ImageRegistry) RemoveImage(id int) error {
	r.mu.Lock()
	e, ok := r.images[id]
	if !ok {
		r.mu.Unlock()
		return apperrors.NotFound("registry.remove", "image", id)
	}
	delete(r.images, id)
	e.mu.Lock()
	e.removed = true
	e.cond.Broadcast()
	e.mu.Unlock()
	r.mu.Unlock()
	return nil
}

// Get returns a snapshot of the record.
func (r *ImageRegistry) Get(id int) (ImageRecord, error) {
	e, ok := r.lookup(id)
	if !ok {
		return ImageRecord{}, apperrors.NotFound("registry.get", "image", id)
	}
	return e.snapshot(), nil
}

// List returns snapshots of every record ordered by id. Records are copied
// one at a time, so the result is not an atomic view of the registry.
func (r *ImageRegistry) List() []ImageRecord {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.images))
	for _, e := range r.images {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	out := make([]ImageRecord, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered records.
func (r *ImageRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.images)
}

// Admit runs fn under the record lock if the record is not flagged.
//
// MarkForDeletion takes the same lock, so anything fn registers (a task) is
// either visible to a delete that starts afterwards or rejected here.
func (r *ImageRegistry) Admit(id int, fn func(ImageRecord) error) (ImageRecord, error) {
	e, ok := r.lookup(id)
	if !ok {
		return ImageRecord{}, apperrors.NotFound("registry.admit", "image", id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec.Deleted || e.removed {
		return ImageRecord{}, apperrors.AlreadyDeleted("registry.admit", id)
	}
	snap := e.rec.clone()
	if fn != nil {
		if err := fn(snap); err != nil {
			return ImageRecord{}, err
		}
	}
	return snap, nil
}

// RecordProcessing stores the outcome of a successful transformation on the
// source record. The last successful run wins.
func (r *ImageRegistry) RecordProcessing(id int, kind string, elapsed time.Duration, finalSize int64) error {
	e, ok := r.lookup(id)
	if !ok {
		return apperrors.NotFound("registry.record", "image", id)
	}
	e.mu.Lock()
	e.rec.Filters = append(e.rec.Filters, kind)
	e.rec.ProcessDuration = &elapsed
	e.rec.FinalSize = &finalSize
	e.mu.Unlock()
	return nil
}

// Notify wakes every waiter on the record. Unknown ids are ignored.
func (r *ImageRegistry) Notify(id int) {
	if e, ok := r.lookup(id); ok {
		e.broadcast()
	}
}

// WaitUntil blocks until pred returns true. pred runs with the record lock
// held and is re-evaluated after every Notify on the record.
//
// WaitUntil returns the context error if ctx ends first, and NotFound if the
// record is removed while waiting.
func (r *ImageRegistry) WaitUntil(ctx context.Context, id int, pred func() bool) error {
	e, ok := r.lookup(id)
	if !ok {
		return apperrors.NotFound("registry.wait", "image", id)
	}

	stop := context.AfterFunc(ctx, e.broadcast)
	defer stop()

	e.mu.Lock()
	defer e.mu.Unlock()
	for {
		if e.removed {
			return apperrors.NotFound("registry.wait", "image", id)
		}
		if pred() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		e.cond.Wait()
	}
}
