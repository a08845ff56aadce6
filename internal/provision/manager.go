package provision

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"gopkg.in/yaml.v3"

	"fireedge.io/gateway/internal/logging"
	"fireedge.io/gateway/internal/metrics"
	"fireedge.io/gateway/internal/upstream"
	"fireedge.io/gateway/models"
)

// provisionIDLine matches the line the CLI prints once the provision exists.
var provisionIDLine = regexp.MustCompile(`^\s*ID:\s*(\d+)\s*$`)

// queueFactor bounds queued jobs to a multiple of the concurrency cap.
const queueFactor = 4

// JobStore persists job records.
type JobStore interface {
	Create(ctx context.Context, job *models.ProvisionJob) error
	MarkRunning(ctx context.Context, id string, pid int) error
	SetProvisionID(ctx context.Context, id, provisionID string) error
	Finish(ctx context.Context, id string, status models.JobStatus, exitCode *int, errMsg string) error
	Get(ctx context.Context, id string) (*models.ProvisionJob, error)
	LatestForProvision(ctx context.Context, provisionID string) (*models.ProvisionJob, error)
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	LogDir        string
	MaxConcurrent int64
	JobTimeout    time.Duration
	StopGrace     time.Duration
}

// Manager runs provision create and delete jobs in the background.
type Manager struct {
	opts    ManagerOptions
	runner  *Runner
	jobs    JobStore
	mapping *Mapping
	clock   clockwork.Clock
	logger  *zap.Logger

	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	running map[string]*activeJob
}

type activeJob struct {
	job     *models.ProvisionJob
	logUUID string

	// ctx is cancelled by Cancel and by Shutdown.
	ctx  context.Context
	stop context.CancelFunc

	cancelled bool
}

// NewManager creates a Manager. The log directory is created if missing.
func NewManager(opts ManagerOptions, runner *Runner, jobs JobStore, mapping *Mapping, clock clockwork.Clock, logger *zap.Logger) (*Manager, error) {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 2 * time.Hour
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(opts.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create provision log dir: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:    opts,
		runner:  runner,
		jobs:    jobs,
		mapping: mapping,
		clock:   clock,
		logger:  logger.With(zap.String(logging.FieldComponent, "provision")),
		sem:     semaphore.NewWeighted(opts.MaxConcurrent),
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[string]*activeJob),
	}, nil
}

// Runner returns the synchronous CLI runner.
func (m *Manager) Runner() *Runner {
	return m.runner
}

// LogPath returns the log file of a log UUID.
func (m *Manager) LogPath(logUUID string) string {
	return filepath.Join(m.opts.LogDir, logUUID+".log")
}

// Create starts "create <template> --batch --debug". The JSON template is
// written as YAML to a temporary file that lives as long as the job.
func (m *Manager) Create(ctx context.Context, creds upstream.Credentials, owner string, template map[string]interface{}) (*models.ProvisionJob, error) {
	if len(template) == 0 {
		return nil, fmt.Errorf("%w: provision template is required", models.ErrInvalidRequest)
	}

	data, err := yaml.Marshal(template)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot encode template: %v", models.ErrInvalidRequest, err)
	}
	tmp, err := os.CreateTemp("", "provision-*.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to create template file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to write template file: %w", err)
	}
	tmp.Close()

	id := uuid.NewString()
	args := []string{"create", tmp.Name(), "--batch", "--debug"}
	job, err := m.start(ctx, creds, owner, id, id, "", models.JobKindCreate, args, func() { os.Remove(tmp.Name()) })
	if err != nil {
		os.Remove(tmp.Name())
		return nil, err
	}
	return job, nil
}

// Delete starts "delete <id> --batch --debug --cleanup". Output is appended
// to the log already mapped to the provision, if any.
func (m *Manager) Delete(ctx context.Context, creds upstream.Credentials, owner, provisionID string) (*models.ProvisionJob, error) {
	if err := checkID(provisionID); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	logUUID, ok, err := m.mapping.Lookup(provisionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		logUUID = id
	}

	args := []string{"delete", provisionID, "--batch", "--debug", "--cleanup"}
	return m.start(ctx, creds, owner, id, logUUID, provisionID, models.JobKindDelete, args, nil)
}

func (m *Manager) start(ctx context.Context, creds upstream.Credentials, owner, id, logUUID, provisionID string, kind models.JobKind, args []string, cleanup func()) (*models.ProvisionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("%w: provision manager is shutting down", models.ErrUpstreamUnavailable)
	}
	if int64(len(m.running)) >= m.opts.MaxConcurrent*queueFactor {
		return nil, models.ErrTooManyJobs
	}
	if provisionID != "" {
		for _, a := range m.running {
			if a.job.ProvisionID == provisionID {
				return nil, fmt.Errorf("%w: provision %s already has job %s", models.ErrConflict, provisionID, a.job.ID)
			}
		}
	}

	job := &models.ProvisionJob{
		ID:          id,
		Kind:        kind,
		ProvisionID: provisionID,
		Command:     m.runner.provision + " " + strings.Join(args, " "),
		Status:      models.JobStatusPending,
		LogPath:     m.LogPath(logUUID),
		Owner:       owner,
		CreatedAt:   m.clock.Now(),
	}
	if err := m.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	jobCtx, stop := context.WithCancel(m.ctx)
	active := &activeJob{job: job, logUUID: logUUID, ctx: jobCtx, stop: stop}
	m.running[id] = active
	m.wg.Add(1)

	go m.run(active, append(args, m.runner.AuthArgs(creds)...), cleanup)

	logging.FromContext(ctx).Info("provision job queued",
		zap.String(logging.FieldJobID, id),
		zap.String("kind", string(kind)),
		zap.String(logging.FieldProvisionID, provisionID))

	snapshot := *job
	return &snapshot, nil
}

func (m *Manager) run(active *activeJob, args []string, cleanup func()) {
	defer m.wg.Done()
	defer active.stop()
	if cleanup != nil {
		defer cleanup()
	}

	job := active.job
	logger := m.logger.With(zap.String(logging.FieldJobID, job.ID), zap.String("kind", string(job.Kind)))
	// Records are written with a fresh context so shutdown does not lose them.
	store := context.Background()

	defer func() {
		m.mu.Lock()
		delete(m.running, job.ID)
		m.mu.Unlock()
	}()

	if err := m.sem.Acquire(active.ctx, 1); err != nil {
		m.finish(store, logger, job, models.JobStatusCancelled, nil, "cancelled before start")
		return
	}
	defer m.sem.Release(1)

	ctx, cancel := context.WithTimeout(active.ctx, m.opts.JobTimeout)
	defer cancel()

	logFile, err := os.OpenFile(job.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		m.finish(store, logger, job, models.JobStatusFailed, nil, fmt.Sprintf("cannot open log: %v", err))
		return
	}
	defer logFile.Close()

	// The provision ID is recorded off the output goroutine: the mapping
	// lock may be held elsewhere and the CLI must keep draining its pipes.
	var (
		once      sync.Once
		recording sync.WaitGroup
	)
	defer recording.Wait()
	proc := NewProcess(ProcessSpec{
		Name:      m.runner.provision,
		Args:      args,
		Output:    logFile,
		StopGrace: m.opts.StopGrace,
		OnLine: func(line string) {
			if job.Kind != models.JobKindCreate {
				return
			}
			if match := provisionIDLine.FindStringSubmatch(line); match != nil {
				once.Do(func() {
					recording.Add(1)
					go func() {
						defer recording.Done()
						m.recordProvisionID(store, logger, active, match[1])
					}()
				})
			}
		},
	}, logger)

	if err := proc.Start(ctx); err != nil {
		status := models.JobStatusFailed
		if m.wasCancelled(active) {
			status = models.JobStatusCancelled
		}
		m.finish(store, logger, job, status, nil, err.Error())
		return
	}

	if err := m.jobs.MarkRunning(store, job.ID, proc.PID()); err != nil {
		logger.Error("failed to mark job running", zap.Error(err))
	}
	metrics.ProvisionJobsRunning.Inc()
	defer metrics.ProvisionJobsRunning.Dec()

	code, waitErr := proc.Wait()
	exitCode := &code
	recording.Wait()

	switch {
	case m.wasCancelled(active):
		m.finish(store, logger, job, models.JobStatusCancelled, exitCode, "cancelled")
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		m.finish(store, logger, job, models.JobStatusFailed, exitCode, fmt.Sprintf("timed out after %s", m.opts.JobTimeout))
	case waitErr != nil:
		m.finish(store, logger, job, models.JobStatusFailed, exitCode, waitErr.Error())
	case code != 0:
		m.finish(store, logger, job, models.JobStatusFailed, exitCode, fmt.Sprintf("exited with code %d", code))
	default:
		m.finish(store, logger, job, models.JobStatusSucceeded, exitCode, "")
	}
}

// wasCancelled reports whether the job was stopped by Cancel or Shutdown.
func (m *Manager) wasCancelled(active *activeJob) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return active.cancelled || m.ctx.Err() != nil
}

func (m *Manager) recordProvisionID(ctx context.Context, logger *zap.Logger, active *activeJob, provisionID string) {
	m.mu.Lock()
	active.job.ProvisionID = provisionID
	m.mu.Unlock()

	logger.Info("provision created", zap.String(logging.FieldProvisionID, provisionID))

	if err := m.jobs.SetProvisionID(ctx, active.job.ID, provisionID); err != nil {
		logger.Error("failed to store provision id", zap.Error(err))
	}

	lockCtx, cancel := context.WithTimeout(ctx, defaultLockWait)
	defer cancel()
	if err := m.mapping.Set(lockCtx, provisionID, active.logUUID); err != nil {
		logger.Warn("provision mapping not updated", zap.Error(err))
	}
}

func (m *Manager) finish(ctx context.Context, logger *zap.Logger, job *models.ProvisionJob, status models.JobStatus, exitCode *int, msg string) {
	if err := m.jobs.Finish(ctx, job.ID, status, exitCode, msg); err != nil {
		logger.Error("failed to finish job", zap.Error(err))
	}
	metrics.ProvisionJobs.WithLabelValues(string(job.Kind), string(status)).Inc()

	fields := []zap.Field{zap.String("status", string(status))}
	if msg != "" {
		fields = append(fields, zap.String(logging.FieldError, msg))
	}
	logger.Info("provision job finished", fields...)
}

// Job returns the record of a job.
func (m *Manager) Job(ctx context.Context, id string) (*models.ProvisionJob, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: invalid job id %q", models.ErrInvalidRequest, id)
	}
	return m.jobs.Get(ctx, id)
}

// Cancel stops a queued or running job without waiting for it. The job's
// context is cancelled, which sends SIGTERM to a running process and kills
// it once the grace period has passed; run records the final status.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: invalid job id %q", models.ErrInvalidRequest, id)
	}

	m.mu.Lock()
	active, ok := m.running[id]
	if ok {
		active.cancelled = true
	}
	m.mu.Unlock()

	if !ok {
		job, err := m.jobs.Get(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: job %s is %s", models.ErrConflict, id, job.Status)
	}

	logging.FromContext(ctx).Info("cancelling provision job", zap.String(logging.FieldJobID, id))
	active.stop()
	return nil
}

// Log returns the output collected for a provision ID or a log/job UUID.
func (m *Manager) Log(ctx context.Context, idOrUUID string) (*models.ProvisionLog, error) {
	var logUUID, provisionID, owner string

	switch {
	case checkID(idOrUUID) == nil:
		provisionID = idOrUUID
		u, ok, err := m.mapping.Lookup(idOrUUID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: no log for provision %s", models.ErrNotFound, idOrUUID)
		}
		logUUID = u
		job, err := m.jobs.LatestForProvision(ctx, idOrUUID)
		switch {
		case err == nil:
			owner = job.Owner
		case !errors.Is(err, models.ErrNotFound):
			return nil, err
		}
	default:
		if _, err := uuid.Parse(idOrUUID); err != nil {
			return nil, fmt.Errorf("%w: invalid provision or log id %q", models.ErrInvalidRequest, idOrUUID)
		}
		job, err := m.jobs.Get(ctx, idOrUUID)
		switch {
		case err == nil:
			logUUID = strings.TrimSuffix(filepath.Base(job.LogPath), ".log")
			provisionID = job.ProvisionID
			owner = job.Owner
		case errors.Is(err, models.ErrNotFound):
			if _, statErr := os.Stat(m.LogPath(idOrUUID)); statErr != nil {
				return nil, err
			}
			logUUID = idOrUUID
		default:
			return nil, err
		}
	}

	lines, err := readLines(m.LogPath(logUUID))
	if err != nil {
		return nil, err
	}

	return &models.ProvisionLog{
		UUID:        logUUID,
		ProvisionID: provisionID,
		Lines:       lines,
		Running:     m.logActive(logUUID),
		Owner:       owner,
	}, nil
}

func (m *Manager) logActive(logUUID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.running {
		if a.logUUID == logUUID {
			return true
		}
	}
	return false
}

// Running returns the number of queued or running jobs.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

// Shutdown stops accepting jobs, cancels the running ones and waits for
// them to finish or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	n := len(m.running)
	m.mu.Unlock()

	if n > 0 {
		m.logger.Info("cancelling provision jobs", zap.Int("jobs", n))
	}
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("provision jobs still running: %w", ctx.Err())
	}
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open provision log: %w", err)
	}
	defer f.Close()

	lines := []string{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineLength)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read provision log: %w", err)
	}
	return lines, nil
}
