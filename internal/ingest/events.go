package ingest

// EventKind names a pipeline event.
type EventKind string

const (
	EventFileStarted   EventKind = "file_started"
	EventFileProgress  EventKind = "file_progress"
	EventChunkIngested EventKind = "chunk_ingested"
	EventFileCompleted EventKind = "file_completed"
	EventFileSkipped   EventKind = "file_skipped"
	EventFileFailed    EventKind = "file_failed"
	EventFinished      EventKind = "finished"
	EventError         EventKind = "error"
)

// Event reports pipeline progress.
//
// For file events Index is the file's position in the batch and Total the
// batch size; Percent is the batch percentage for file_started and the
// in-file percentage for file_progress. For chunk_ingested Index and Total
// refer to chunks within the current file.
type Event struct {
	Kind    EventKind `json:"kind"`
	File    string    `json:"file,omitempty"`
	Index   int       `json:"index"`
	Total   int       `json:"total"`
	Percent int       `json:"percent"`
	Err     error     `json:"-"`
}

// emitter delivers events; implementations must not block indefinitely.
type emitter func(Event)
