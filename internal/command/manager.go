// Package command implements the lifecycle commands on top of the registries,
// the worker pool and the message bus.
//
// process and delete follow a fixed ordering so that an image's file is never
// removed while a transformation reading it is still in flight:
//
//   - process admits its task under the record lock, so a task either exists
//     before delete flags the record or is refused;
//   - delete flags the record, snapshots its tasks and waits on the record's
//     condition until every snapshotted task is completed or failed;
//   - process always moves its task to a terminal status and then notifies the
//     record, whether the transformation succeeded or not.
package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/ironsheep/image-lifecycle/internal/errors"
	"github.com/ironsheep/image-lifecycle/internal/logging"
	"github.com/ironsheep/image-lifecycle/internal/metrics"
	"github.com/ironsheep/image-lifecycle/internal/params"
	"github.com/ironsheep/image-lifecycle/internal/registry"
	"github.com/ironsheep/image-lifecycle/internal/worker"
)

// DefaultDeleteTimeout bounds how long delete waits for in-flight tasks.
const DefaultDeleteTimeout = 2 * time.Minute

// Submitter runs a job and waits for it. *worker.Pool satisfies it.
type Submitter interface {
	Submit(ctx context.Context, job worker.Job) (worker.Result, error)
}

// Storage names processed artifacts and removes managed files.
// *storage.Local satisfies it.
type Storage interface {
	ProcessedPath(taskID int, kind, srcPath string) string
	Remove(path string) error
}

// Publisher receives user-facing output. *bus.Bus satisfies it.
type Publisher interface {
	Publish(msg string) error
}

// Evicter drops decoded images for a path. *imaging.ImageCache satisfies it.
type Evicter interface {
	Evict(path string)
}

// Deps are the collaborators of a Manager. Cache, Metrics, Logger and
// LoadParams are optional.
type Deps struct {
	Images  *registry.ImageRegistry
	Tasks   *registry.TaskRegistry
	Pool    Submitter
	Storage Storage
	Bus     Publisher
	Cache   Evicter
	Metrics *metrics.Metrics
	Logger  *logging.Logger

	DeleteTimeout time.Duration
	LoadParams    func(path string) (params.Params, error)
}

// Manager executes lifecycle commands. It is safe for concurrent use.
type Manager struct {
	images  *registry.ImageRegistry
	tasks   *registry.TaskRegistry
	pool    Submitter
	store   Storage
	bus     Publisher
	cache   Evicter
	metrics *metrics.Metrics
	logger  *logging.Logger

	deleteTimeout time.Duration
	loadParams    func(path string) (params.Params, error)
}

// NewManager wires a Manager from its collaborators.
func NewManager(d Deps) *Manager {
	m := &Manager{
		images:        d.Images,
		tasks:         d.Tasks,
		pool:          d.Pool,
		store:         d.Storage,
		bus:           d.Bus,
		cache:         d.Cache,
		metrics:       d.Metrics,
		logger:        d.Logger,
		deleteTimeout: d.DeleteTimeout,
		loadParams:    d.LoadParams,
	}
	if m.logger == nil {
		m.logger = logging.NewNop()
	}
	if m.deleteTimeout <= 0 {
		m.deleteTimeout = DefaultDeleteTimeout
	}
	if m.loadParams == nil {
		m.loadParams = params.Load
	}
	return m
}

// Add imports the file at path and registers it.
func (m *Manager) Add(path string) (int, error) {
	id, err := m.images.AddImage(path)
	if err != nil {
		return 0, err
	}
	rec, err := m.images.Get(id)
	if err != nil {
		return 0, err
	}

	if m.metrics != nil {
		m.metrics.ImagesAdded.WithLabelValues("import").Inc()
		m.metrics.ImagesActive.Set(float64(m.images.Len()))
	}
	m.logger.Info("image added", zap.Int("id", id), zap.String("path", rec.CurrentPath))
	m.publishf("Image added with ID: %d at %s", id, rec.CurrentPath)
	return id, nil
}

// Process runs the transformation named in the parameter file against
// imageID and registers the output as a derived record. It blocks until the
// transformation has finished and returns the derived record's id.
func (m *Manager) Process(ctx context.Context, imageID int, paramsPath string) (int, error) {
	const op = "command.process"

	if _, err := m.images.Get(imageID); err != nil {
		return 0, err
	}
	if m.images.IsMarkedForDeletion(imageID) {
		return 0, apperrors.AlreadyDeleted(op, imageID)
	}

	p, err := m.loadParams(paramsPath)
	if err != nil {
		m.logger.Warn("falling back to default parameters", zap.String("params", paramsPath), zap.Error(err))
		m.publishf("error: %v (using %s)", err, p.Transformation)
	}
	kind := p.Transformation

	var taskID int
	src, err := m.images.Admit(imageID, func(registry.ImageRecord) error {
		taskID = m.tasks.AddTask(imageID, kind)
		return nil
	})
	if err != nil {
		return 0, err
	}
	m.publishf("Task %d created for Image ID: %d with transformation: %s", taskID, imageID, kind)

	start := time.Now()
	out := m.store.ProcessedPath(taskID, kind, src.CurrentPath)
	if err := m.tasks.UpdateStatus(taskID, registry.StatusRunning); err != nil {
		m.finish(taskID, imageID, kind, registry.StatusFailed, start)
		return 0, err
	}

	res, err := m.pool.Submit(ctx, worker.Job{
		TaskID:  taskID,
		Kind:    kind,
		Input:   src.CurrentPath,
		Output:  out,
		Options: p.Options,
	})
	var derivedID int
	if err == nil {
		derivedID, err = m.images.AddProcessedImage(out, imageID)
		if err != nil {
			_ = m.store.Remove(out)
		}
	}
	if err != nil {
		m.finish(taskID, imageID, kind, registry.StatusFailed, start)
		m.publishf("Task %d for Image ID: %d failed.", taskID, imageID)
		return 0, err
	}

	if err := m.images.RecordProcessing(imageID, kind, time.Since(start), res.Size); err != nil {
		m.logger.Error("source record vanished during processing", zap.Int("id", imageID), zap.Error(err))
	}
	m.finish(taskID, imageID, kind, registry.StatusCompleted, start)

	if m.metrics != nil {
		m.metrics.ImagesAdded.WithLabelValues("processed").Inc()
		m.metrics.ImagesActive.Set(float64(m.images.Len()))
	}
	m.publishf("Image %d processing complete.", imageID)
	m.publishf("Processed Image added with ID: %d at %s", derivedID, out)
	return derivedID, nil
}

// finish moves the task to a terminal status and wakes anyone waiting on the
// source record. It must run on every path out of Process once the task
// exists.
func (m *Manager) finish(taskID, imageID int, kind string, status registry.Status, start time.Time) {
	if err := m.tasks.UpdateStatus(taskID, status); err != nil {
		m.logger.Error("task status update rejected", zap.Int("task", taskID), zap.Error(err))
	}
	m.images.Notify(imageID)

	elapsed := time.Since(start)
	if m.metrics != nil {
		m.metrics.ObserveTask(kind, string(status), elapsed)
	}
	m.logger.Debug("task finished",
		zap.Int("task", taskID),
		zap.Int("image", imageID),
		zap.String("status", string(status)),
		zap.Duration("elapsed", elapsed))
}

// Delete flags imageID, waits until every task that existed for it at that
// moment is completed or failed, then removes its file and its record.
//
// If the wait exceeds the delete timeout the record stays flagged and a
// retryable stuck_worker error is returned; calling Delete again resumes the
// wait.
func (m *Manager) Delete(ctx context.Context, imageID int) error {
	const op = "command.delete"

	if err := m.images.MarkForDeletion(imageID); err != nil {
		return err
	}
	m.publishf("Image %d marked for deletion.", imageID)

	snapshot := m.tasks.TasksFor(imageID)
	ids := make([]int, len(snapshot))
	for i, t := range snapshot {
		ids[i] = t.ID
	}

	waitCtx, cancel := context.WithTimeout(ctx, m.deleteTimeout)
	defer cancel()

	start := time.Now()
	err := m.images.WaitUntil(waitCtx, imageID, func() bool {
		return m.tasks.AllTerminal(ids)
	})
	if m.metrics != nil {
		m.metrics.DeleteWait.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			if m.metrics != nil {
				m.metrics.DeleteTimeouts.Inc()
			}
			m.logger.Warn("delete gave up waiting for tasks",
				zap.Int("id", imageID),
				zap.Ints("tasks", ids),
				zap.Duration("waited", time.Since(start)))
			return apperrors.Retryable(apperrors.CategoryStuckWorker, op,
				fmt.Errorf("image %d: %w: %v", imageID, apperrors.ErrStuckWorker, err))
		}
		return err
	}

	rec, err := m.images.Get(imageID)
	if err != nil {
		return err
	}
	if err := m.store.Remove(rec.CurrentPath); err != nil {
		return err
	}
	if m.cache != nil {
		m.cache.Evict(rec.CurrentPath)
	}
	if err := m.images.RemoveImage(imageID); err != nil {
		return err
	}

	if m.metrics != nil {
		m.metrics.ImagesDeleted.Inc()
		m.metrics.ImagesActive.Set(float64(m.images.Len()))
	}
	m.logger.Info("image deleted", zap.Int("id", imageID), zap.Int("waited_tasks", len(ids)))
	m.publishf("Image %d deleted.", imageID)
	return nil
}

// List publishes one line per registered record and returns the records.
func (m *Manager) List() []registry.ImageRecord {
	records := m.images.List()
	if len(records) == 0 {
		m.publish("No images registered.")
		return records
	}

	var b strings.Builder
	b.WriteString("Listing images:")
	for _, r := range records {
		fmt.Fprintf(&b, "\nImage ID: %d, Path: %s", r.ID, r.CurrentPath)
	}
	m.publish(b.String())
	return records
}

// Describe publishes imageID and each of its ancestors, nearest first, and
// returns the visited records. The walk stops at a record without a parent,
// at a parent that is no longer registered, or after as many hops as there
// are records.
func (m *Manager) Describe(imageID int) ([]registry.ImageRecord, error) {
	rec, err := m.images.Get(imageID)
	if err != nil {
		return nil, err
	}

	limit := m.images.Len()
	var chain []registry.ImageRecord
	for {
		chain = append(chain, rec)
		m.publish(formatRecord(rec))

		if !rec.HasParent() || len(chain) >= limit {
			break
		}
		parent, err := m.images.Get(rec.ParentID)
		if err != nil {
			break
		}
		rec = parent
	}
	return chain, nil
}

// Shutdown announces exit and waits until no task is waiting or running.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.publish("Exiting system...")
	if n := m.tasks.Pending(); n > 0 {
		m.logger.Info("waiting for tasks before exit", zap.Int("pending", n))
	}
	return m.tasks.WaitIdle(ctx)
}

const separator = "------------------------------------------------"

func formatRecord(r registry.ImageRecord) string {
	parent := "none"
	if r.HasParent() {
		parent = fmt.Sprint(r.ParentID)
	}
	filters := "none"
	if len(r.Filters) > 0 {
		filters = strings.Join(r.Filters, ", ")
	}
	duration := "n/a"
	if r.ProcessDuration != nil {
		duration = r.ProcessDuration.String()
	}

	lines := []string{
		fmt.Sprintf("Image ID: %d", r.ID),
		"Parent ID: " + parent,
		"Original Path: " + r.OriginalPath,
		"Current Path: " + r.CurrentPath,
		fmt.Sprintf("Delete Flag: %t", r.Deleted),
		"Filters Applied: " + filters,
		"Processing Time: " + duration,
		"Initial Size: " + formatSize(r.InitialSize),
		"Final Size: " + formatSize(r.FinalSize),
		separator,
	}
	return strings.Join(lines, "\n")
}

func formatSize(n *int64) string {
	if n == nil {
		return "n/a"
	}
	return fmt.Sprintf("%d bytes", *n)
}

func (m *Manager) publish(msg string) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(msg); err != nil {
		m.logger.Warn("dropped message", zap.Error(err))
	}
}

func (m *Manager) publishf(format string, args ...any) {
	m.publish(fmt.Sprintf(format, args...))
}
