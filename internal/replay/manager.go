// Package replay owns the caller side of the trim operation: it tracks the
// duration armed for the next buffer save, validates requests against the
// configured buffer length, derives the trimmed output path and runs trim
// jobs on a background worker pool. Replacing the original recording happens
// here, never inside the engine, and only after a trim reported success.
package replay

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"replaytrim/internal/config"
	"replaytrim/internal/logger"
	"replaytrim/internal/metrics"
	"replaytrim/internal/probecache"
)

// TrimEngine is the slice of the trimming engine the manager needs.
type TrimEngine interface {
	TrimToLastSeconds(inputPath, outputPath string, durationSeconds int) bool
	ProbeDuration(path string) (float64, error)
}

// Job is one queued trim operation.
type Job struct {
	ID              string
	SourcePath      string
	OutputPath      string
	DurationSeconds int
}

// Manager coordinates save requests and trim jobs.
type Manager struct {
	cfg    *config.Config
	log    logger.Logger
	engine TrimEngine
	probes *probecache.Cache

	mutex               sync.Mutex
	pendingSaveDuration int
	stopped             bool

	jobs chan Job
	wg   sync.WaitGroup
}

// NewManager creates a manager; Start must be called before jobs are
// accepted.
func NewManager(log logger.Logger, cfg *config.Config, engine TrimEngine, probes *probecache.Cache) *Manager {
	return &Manager{
		cfg:    cfg,
		log:    log,
		engine: engine,
		probes: probes,
		jobs:   make(chan Job, 16),
	}
}

// Start launches the trim workers.
func (m *Manager) Start() {
	for i := 0; i < m.cfg.TrimWorkers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	m.log.Infof("replay manager started with %d trim workers", m.cfg.TrimWorkers)
}

// Stop drains the queue and waits for running jobs to finish.
func (m *Manager) Stop() {
	m.mutex.Lock()
	if m.stopped {
		m.mutex.Unlock()
		return
	}
	m.stopped = true
	m.mutex.Unlock()

	close(m.jobs)
	m.wg.Wait()
	m.log.Infof("replay manager stopped")
}

// RequestSave arms the duration for the next buffer save. A duration of 0
// means the full buffer is kept untrimmed. Durations beyond the configured
// buffer length are rejected, mirroring the host-side validation.
func (m *Manager) RequestSave(durationSeconds int) error {
	if durationSeconds < 0 {
		return fmt.Errorf("duration must not be negative, got %d", durationSeconds)
	}
	if durationSeconds > m.cfg.BufferLengthSeconds {
		return fmt.Errorf("cannot save %s: buffer length is %s",
			FormatDuration(durationSeconds), FormatDuration(m.cfg.BufferLengthSeconds))
	}

	m.mutex.Lock()
	m.pendingSaveDuration = durationSeconds
	m.mutex.Unlock()

	if durationSeconds == 0 {
		m.log.Infof("armed full buffer save")
	} else {
		m.log.Infof("armed save of the last %s", FormatDuration(durationSeconds))
	}
	return nil
}

// PendingSaveDuration returns the currently armed duration.
func (m *Manager) PendingSaveDuration() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.pendingSaveDuration
}

// ClearPendingSaveDuration resets the armed duration.
func (m *Manager) ClearPendingSaveDuration() {
	m.mutex.Lock()
	m.pendingSaveDuration = 0
	m.mutex.Unlock()
}

// HandleBufferSaved reacts to the host writing the replay buffer to disk.
// The pending duration is consumed before the job is queued so a second save
// event cannot be misattributed to this one. The returned job ID is empty
// when no trim was armed.
func (m *Manager) HandleBufferSaved(path string) (string, error) {
	m.mutex.Lock()
	duration := m.pendingSaveDuration
	m.pendingSaveDuration = 0

	if m.stopped {
		m.mutex.Unlock()
		return "", fmt.Errorf("manager is stopped")
	}
	if duration == 0 {
		m.mutex.Unlock()
		m.log.Infof("buffer saved to %s, no trim armed", path)
		return "", nil
	}

	job := Job{
		ID:              uuid.NewString(),
		SourcePath:      path,
		OutputPath:      TrimmedOutputPath(path, m.cfg.OutputSuffix),
		DurationSeconds: duration,
	}

	// The enqueue happens under the lock so Stop cannot close the channel
	// between the stopped check and the send.
	select {
	case m.jobs <- job:
		m.mutex.Unlock()
	default:
		m.mutex.Unlock()
		return "", fmt.Errorf("trim queue is full")
	}

	m.log.Infof("queued trim job %s: %s -> last %s", job.ID, path, FormatDuration(duration))
	return job.ID, nil
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for job := range m.jobs {
		m.process(job)
	}
}

func (m *Manager) process(job Job) {
	metrics.TrimsInFlight.Inc()
	defer metrics.TrimsInFlight.Dec()

	start := time.Now()
	ok := m.engine.TrimToLastSeconds(job.SourcePath, job.OutputPath, job.DurationSeconds)
	metrics.TrimDuration.Observe(time.Since(start).Seconds())

	if !ok {
		metrics.TrimsTotal.WithLabelValues("failure").Inc()
		m.log.Errorf("trim job %s failed, original kept at %s", job.ID, job.SourcePath)
		return
	}
	metrics.TrimsTotal.WithLabelValues("success").Inc()
	m.log.Infof("trim job %s finished: %s", job.ID, job.OutputPath)

	// Only a success may touch the original, and the trimmed file stays at
	// its sibling path rather than being renamed over the source.
	if m.cfg.RemoveSourceAfterTrim {
		if err := os.Remove(job.SourcePath); err != nil {
			m.log.Warnf("could not remove original %s: %v", job.SourcePath, err)
			return
		}
		metrics.SourcesRemoved.Inc()
		m.log.Infof("removed original recording %s", job.SourcePath)
	}
}

// Probe returns the duration of the container at path, consulting the probe
// cache first.
func (m *Manager) Probe(path string) (float64, error) {
	if d, ok := m.probes.Get(path); ok {
		metrics.ProbesTotal.WithLabelValues("cached").Inc()
		return d, nil
	}
	d, err := m.engine.ProbeDuration(path)
	if err != nil {
		metrics.ProbesTotal.WithLabelValues("error").Inc()
		return 0, err
	}
	metrics.ProbesTotal.WithLabelValues("ok").Inc()
	m.probes.Set(path, d)
	return d, nil
}

// BufferLengthSeconds exposes the configured buffer length.
func (m *Manager) BufferLengthSeconds() int {
	return m.cfg.BufferLengthSeconds
}

// TrimmedOutputPath derives the sibling path a trimmed recording is written
// to, inserting the suffix before the extension.
func TrimmedOutputPath(path, suffix string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return path + suffix
	}
	return strings.TrimSuffix(path, ext) + suffix + ext
}
