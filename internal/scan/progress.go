package scan

import "sync/atomic"

// Progress holds live counters updated during a scan.
// All fields are atomic so they can be written from the orchestrator and
// download workers and read from the HTTP status handler without locks.
type Progress struct {
	IssuesProcessed atomic.Int64
	FilesProcessed  atomic.Int64
	BytesHashed     atomic.Int64
	DuplicateFiles  atomic.Int64
	WastedBytes     atomic.Int64
	Degraded        atomic.Int64
	Retries         atomic.Int64
	Checkpoints     atomic.Int64
}
