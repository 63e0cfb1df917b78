package queue

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mcp-core/internal/message"
)

const (
	actionEnqueue = "ENQUEUE"
	actionAck     = "ACK"

	journalFile = "mcp_queue.wal"
)

// Entry is a pending journaled message.
type Entry struct {
	Queue   string          `json:"queue"`
	Message message.Message `json:"message"`
}

type journalRecord struct {
	Action    string           `json:"action"`
	Queue     string           `json:"queue,omitempty"`
	MessageID string           `json:"messageId"`
	Message   *message.Message `json:"message,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Journal is an append-only JSON-lines write-ahead log of enqueued and
// acknowledged messages. Messages enqueued but never acknowledged are
// replayed by Manager.Recover after a restart.
type Journal struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	closed bool
	log    zerolog.Logger
}

// OpenJournal opens (or creates) the journal in dir.
func OpenJournal(dir string, log zerolog.Logger) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	path := filepath.Join(dir, journalFile)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{path: path, file: f, log: log}, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string { return j.path }

// Append records an enqueue. It returns only after the record is synced.
func (j *Journal) Append(queue string, m message.Message) error {
	return j.write(journalRecord{
		Action:    actionEnqueue,
		Queue:     queue,
		MessageID: m.ID,
		Message:   &m,
		Timestamp: time.Now(),
	}, true)
}

// Ack records that a message no longer needs replay. Failures are logged;
// the worst case is a duplicate delivery after restart.
func (j *Journal) Ack(id string) {
	if err := j.write(journalRecord{Action: actionAck, MessageID: id, Timestamp: time.Now()}, false); err != nil {
		j.log.Warn().Err(err).Str("message_id", id).Msg("journal ack failed")
	}
}

func (j *Journal) write(rec journalRecord, sync bool) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal journal record: %w", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return os.ErrClosed
	}
	if _, err := j.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	if sync {
		return j.file.Sync()
	}
	return nil
}

// Pending scans the journal and returns unacknowledged entries in their
// original enqueue order, then compacts the file down to those entries.
func (j *Journal) Pending() ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open journal for recovery: %w", err)
	}
	defer f.Close()

	type pending struct {
		seq   int
		entry Entry
	}
	enqueued := make(map[string]pending)
	acked := 0
	seq := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		var rec journalRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			j.log.Warn().Err(err).Msg("journal parse error, skipping record")
			continue
		}
		switch rec.Action {
		case actionEnqueue:
			if rec.Message == nil {
				continue
			}
			enqueued[rec.MessageID] = pending{seq: seq, entry: Entry{Queue: rec.Queue, Message: *rec.Message}}
			seq++
		case actionAck:
			if _, ok := enqueued[rec.MessageID]; ok {
				delete(enqueued, rec.MessageID)
				acked++
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("journal scan: %w", err)
	}

	ordered := make([]pending, 0, len(enqueued))
	for _, p := range enqueued {
		ordered = append(ordered, p)
	}
	sort.Slice(ordered, func(a, b int) bool { return ordered[a].seq < ordered[b].seq })
	out := make([]Entry, len(ordered))
	for i, p := range ordered {
		out[i] = p.entry
	}

	if acked > 0 || len(out) > 0 {
		if err := j.compactLocked(out); err != nil {
			j.log.Warn().Err(err).Msg("journal compaction failed")
		}
	}
	return out, nil
}

// compactLocked rewrites the journal with only the given pending entries.
func (j *Journal) compactLocked(entries []Entry) error {
	tmp := j.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for i := range entries {
		e := entries[i]
		rec := journalRecord{
			Action:    actionEnqueue,
			Queue:     e.Queue,
			MessageID: e.Message.ID,
			Message:   &e.Message,
			Timestamp: e.Message.CreatedAt,
		}
		if err := enc.Encode(rec); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	f.Close()

	j.file.Close()
	if err := os.Rename(tmp, j.path); err != nil {
		return err
	}
	j.file, err = os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	j.log.Debug().Int("pending", len(entries)).Msg("journal compacted")
	return nil
}

// Close syncs and closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	if err := j.file.Sync(); err != nil {
		j.file.Close()
		return err
	}
	return j.file.Close()
}
