package api

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/kikitori/internal/pipeline"
)

// Job statuses.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// PipelineRunner runs one transcription job. Implemented by
// pipeline.Pipeline; tests substitute a fake.
type PipelineRunner interface {
	Run(ctx context.Context, job pipeline.Job) (*pipeline.Result, error)
}

// JobState is the externally visible state of an upload job.
type JobState struct {
	ID         string     `json:"id"`
	Filename   string     `json:"filename"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	transcript string
	inputPath  string
}

// JobManager owns the upload job queue. Jobs run one at a time on a single
// worker goroutine; state lives in memory and does not survive a restart.
type JobManager struct {
	runner PipelineRunner
	log    zerolog.Logger

	mu   sync.RWMutex
	jobs map[string]*JobState

	queue  chan string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJobManager creates a job manager with the given queue capacity.
func NewJobManager(runner PipelineRunner, queueSize int, log zerolog.Logger) *JobManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &JobManager{
		runner: runner,
		log:    log.With().Str("component", "job-manager").Logger(),
		jobs:   make(map[string]*JobState),
		queue:  make(chan string, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the worker goroutine.
func (m *JobManager) Start() {
	m.wg.Add(1)
	go m.worker()
}

// Stop cancels the running job and waits for the worker to exit.
func (m *JobManager) Stop() {
	m.cancel()
	close(m.queue)
	m.wg.Wait()
}

// ErrQueueFull is returned when the job queue cannot accept more work.
var ErrQueueFull = errors.New("job queue is full")

// Enqueue registers an uploaded file as a pending job. inputPath must be a
// file the manager may delete when the job finishes.
func (m *JobManager) Enqueue(filename, inputPath string) (*JobState, error) {
	job := &JobState{
		ID:        uuid.NewString(),
		Filename:  filename,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
		inputPath: inputPath,
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	select {
	case m.queue <- job.ID:
		return job, nil
	default:
		m.mu.Lock()
		delete(m.jobs, job.ID)
		m.mu.Unlock()
		return nil, ErrQueueFull
	}
}

// Get returns a snapshot of a job's state.
func (m *JobManager) Get(id string) (JobState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return JobState{}, false
	}
	return *job, true
}

// Transcript returns the finished transcript for a job. ok is false until
// the job reaches done.
func (m *JobManager) Transcript(id string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok || job.Status != StatusDone {
		return "", false
	}
	return job.transcript, true
}

func (m *JobManager) worker() {
	defer m.wg.Done()
	for id := range m.queue {
		m.process(id)
	}
}

func (m *JobManager) process(id string) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	job.Status = StatusRunning
	inputPath := job.inputPath
	m.mu.Unlock()

	log := m.log.With().Str("job_id", id).Str("filename", job.Filename).Logger()
	res, err := m.runner.Run(m.ctx, pipeline.Job{InputPath: inputPath})

	if err := os.Remove(inputPath); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("uploaded file cleanup failed")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	job.FinishedAt = &now
	if err != nil {
		job.Status = StatusFailed
		job.Error = err.Error()
		log.Warn().Err(err).Msg("job failed")
		return
	}
	job.Status = StatusDone
	job.transcript = res.Transcript
	log.Info().Int("chunks", res.Chunks).Msg("job done")
}
