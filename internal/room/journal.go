package room

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"roomchat/pkg/interfaces"
	"roomchat/pkg/types"
)

// journalTimeout bounds a single history operation
const journalTimeout = 10 * time.Second

// journal serializes all history I/O of one room in FIFO order
// ARCHITECTURAL DISCOVERY: A backlog read queued behind every earlier append observes
// exactly the records broadcast before the reading session was registered
type journal struct {
	room    string
	history interfaces.HistoryLog
	log     *slog.Logger

	mu     sync.Mutex
	queue  []func(context.Context)
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newJournal(room string, history interfaces.HistoryLog, log *slog.Logger) *journal {
	return &journal{
		room:    room,
		history: history,
		log:     log,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// push queues job without blocking the caller
func (j *journal) push(job func(context.Context)) bool {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return false
	}
	j.queue = append(j.queue, job)
	j.mu.Unlock()

	select {
	case j.wake <- struct{}{}:
	default:
	}
	return true
}

// append persists record, failures are logged and otherwise ignored
func (j *journal) append(record types.ChatRecord) {
	j.push(func(ctx context.Context) {
		if err := j.history.Append(ctx, j.room, record); err != nil {
			j.log.Error("Failed to persist chat record", "room", j.room, "key", record.Key(), "error", err)
		}
	})
}

// recent reads the backlog and hands it to deliver, most recent first
func (j *journal) recent(limit int, deliver func([]string, error)) bool {
	return j.push(func(ctx context.Context) {
		deliver(j.history.Recent(ctx, j.room, limit))
	})
}

func (j *journal) next() (func(context.Context), bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.queue) == 0 {
		return nil, j.closed
	}
	job := j.queue[0]
	j.queue[0] = nil
	j.queue = j.queue[1:]
	return job, false
}

// run executes queued jobs until the journal is closed and drained
func (j *journal) run() {
	defer close(j.done)
	for {
		job, finished := j.next()
		if finished {
			return
		}
		if job == nil {
			<-j.wake
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		job(ctx)
		cancel()
	}
}

// close stops accepting jobs; run returns once the queue is drained
func (j *journal) close() {
	j.mu.Lock()
	j.closed = true
	j.mu.Unlock()

	select {
	case j.wake <- struct{}{}:
	default:
	}
}
