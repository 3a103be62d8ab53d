// Package async runs a chunk import in the background so a server can
// answer requests while its first snapshot is still being built.
package async

import (
	"sync"
	"time"
)

// ImportStatus is the overall state of a background import.
type ImportStatus string

const (
	// StatusPending means the import has not started.
	StatusPending ImportStatus = "pending"
	// StatusRunning means the import is in progress.
	StatusRunning ImportStatus = "running"
	// StatusReady means the snapshot was built and loaded.
	StatusReady ImportStatus = "ready"
	// StatusFailed means the import stopped with an error.
	StatusFailed ImportStatus = "failed"
)

// Stage is the step a running import is in.
type Stage string

const (
	StageReading   Stage = "reading"
	StageEmbedding Stage = "embedding"
)

// ProgressSnapshot is an immutable copy of import progress.
type ProgressSnapshot struct {
	Status         string  `json:"status"`
	Stage          string  `json:"stage,omitempty"`
	Source         string  `json:"source"`
	ChunksTotal    int     `json:"chunks_total"`
	ChunksDone     int     `json:"chunks_done"`
	ProgressPct    float64 `json:"progress_pct"`
	ElapsedSeconds int     `json:"elapsed_seconds"`
	Error          string  `json:"error,omitempty"`
}

// Progress tracks one import. It is safe for concurrent use.
type Progress struct {
	mu sync.RWMutex

	status      ImportStatus
	stage       Stage
	source      string
	chunksTotal int
	chunksDone  int
	startTime   time.Time
	finishTime  time.Time
	err         string
}

// NewProgress returns a pending tracker for source.
func NewProgress(source string) *Progress {
	return &Progress{status: StatusPending, source: source}
}

func (p *Progress) start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = StatusRunning
	p.stage = StageReading
	p.startTime = time.Now()
}

// SetStage moves to stage with total units of work.
func (p *Progress) SetStage(stage Stage, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stage = stage
	p.chunksTotal = total
	p.chunksDone = 0
}

// Advance records done units of work in the current stage.
func (p *Progress) Advance(done int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if done > p.chunksTotal {
		done = p.chunksTotal
	}
	p.chunksDone = done
}

func (p *Progress) finish(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finishTime = time.Now()
	p.stage = ""
	if err != nil {
		p.status = StatusFailed
		p.err = err.Error()
		return
	}
	p.status = StatusReady
	p.chunksDone = p.chunksTotal
}

// Status returns the current state.
func (p *Progress) Status() ImportStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Snapshot returns a copy of the current progress.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var pct float64
	if p.chunksTotal > 0 {
		pct = float64(p.chunksDone) / float64(p.chunksTotal) * 100.0
	}
	var elapsed time.Duration
	switch {
	case p.startTime.IsZero():
	case p.finishTime.IsZero():
		elapsed = time.Since(p.startTime)
	default:
		elapsed = p.finishTime.Sub(p.startTime)
	}

	return ProgressSnapshot{
		Status:         string(p.status),
		Stage:          string(p.stage),
		Source:         p.source,
		ChunksTotal:    p.chunksTotal,
		ChunksDone:     p.chunksDone,
		ProgressPct:    pct,
		ElapsedSeconds: int(elapsed.Seconds()),
		Error:          p.err,
	}
}
