// Package async runs ingestion work in the background and tracks its
// progress for concurrent readers.
package async

import (
	"sync"
	"time"
)

// Status is the overall state of a background job.
type Status string

const (
	StatusIngesting Status = "ingesting"
	StatusReady     Status = "ready"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

// Stage is what the job is doing right now.
type Stage string

const (
	StageQueued    Stage = "queued"
	StageChunking  Stage = "chunking"
	StageEmbedding Stage = "embedding"
	StageDone      Stage = "done"
)

// ProgressSnapshot is an immutable copy of a job's progress.
type ProgressSnapshot struct {
	Status         string  `json:"status"`
	Stage          string  `json:"stage"`
	CurrentFile    string  `json:"current_file,omitempty"`
	FilesTotal     int     `json:"files_total"`
	FilesProcessed int     `json:"files_processed"`
	FilesFailed    int     `json:"files_failed"`
	ChunksIngested int     `json:"chunks_ingested"`
	ProgressPct    float64 `json:"progress_pct"`
	ElapsedSeconds int     `json:"elapsed_seconds"`
	ErrorMessage   string  `json:"error_message,omitempty"`
}

// Progress is thread-safe progress of one job.
type Progress struct {
	mu sync.RWMutex

	status         Status
	stage          Stage
	currentFile    string
	filesTotal     int
	filesProcessed int
	filesFailed    int
	chunksIngested int
	filePct        int
	startTime      time.Time
	endTime        time.Time
	errorMessage   string
}

// NewProgress creates a tracker in the ingesting state.
func NewProgress() *Progress {
	return &Progress{
		status:    StatusIngesting,
		stage:     StageQueued,
		startTime: time.Now(),
	}
}

// SetFilesTotal sets the number of files in the batch.
func (p *Progress) SetFilesTotal(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filesTotal = total
}

// StartFile records the file being worked on.
func (p *Progress) StartFile(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentFile = path
	p.stage = StageChunking
	p.filePct = 0
}

// SetStage updates the current stage.
func (p *Progress) SetStage(stage Stage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stage = stage
}

// SetFilePercent records progress within the current file.
func (p *Progress) SetFilePercent(pct int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filePct = pct
}

// AddChunks counts ingested chunks.
func (p *Progress) AddChunks(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunksIngested += n
}

// FinishFile counts a finished file; failed files count as processed too.
func (p *Progress) FinishFile(failed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filesProcessed++
	if failed {
		p.filesFailed++
	}
	p.filePct = 0
}

// SetError marks the job failed.
func (p *Progress) SetError(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = StatusError
	p.errorMessage = message
	p.endTime = time.Now()
}

// SetCancelled marks the job cancelled.
func (p *Progress) SetCancelled() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = StatusCancelled
	p.endTime = time.Now()
}

// SetReady marks the job complete.
func (p *Progress) SetReady() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = StatusReady
	p.stage = StageDone
	p.currentFile = ""
	p.endTime = time.Now()
}

// IsRunning reports whether the job is still ingesting.
func (p *Progress) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status == StatusIngesting
}

// Snapshot returns an immutable copy of the current state.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var pct float64
	if p.filesTotal > 0 {
		pct = (float64(p.filesProcessed) + float64(p.filePct)/100.0) / float64(p.filesTotal) * 100.0
		if pct > 100 {
			pct = 100
		}
	}

	end := p.endTime
	if end.IsZero() {
		end = time.Now()
	}

	return ProgressSnapshot{
		Status:         string(p.status),
		Stage:          string(p.stage),
		CurrentFile:    p.currentFile,
		FilesTotal:     p.filesTotal,
		FilesProcessed: p.filesProcessed,
		FilesFailed:    p.filesFailed,
		ChunksIngested: p.chunksIngested,
		ProgressPct:    pct,
		ElapsedSeconds: int(end.Sub(p.startTime).Seconds()),
		ErrorMessage:   p.errorMessage,
	}
}
