// Package disk stores every stream as a directory of JSON files, one file per
// revision.
package disk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/terraskye/eventpulse"
)

var (
	_ eventpulse.StreamPersistor = (*Persistor)(nil)
	_ eventpulse.Transactor      = (*Persistor)(nil)
)

// ErrInvalidPayload is returned for event data that is not valid JSON.
var ErrInvalidPayload = errors.New("event data is not valid json")

// Persistor lays records out as <dir>/<stream name>/<stream id>/<revision>.json.
//
// A revision file is published with a hard link, which fails when the file
// already exists. Two writers of the same revision therefore conflict even
// across processes sharing the directory.
type Persistor struct {
	baseDir string
	mu      sync.Mutex
}

func NewPersistor(dir string) (*Persistor, error) {
	if err := os.MkdirAll(filepath.Join(dir, ".tmp"), 0o755); err != nil {
		return nil, fmt.Errorf("create event directory %q: %w", dir, err)
	}
	return &Persistor{baseDir: dir}, nil
}

type storedRecord struct {
	StreamName string          `json:"stream_name"`
	StreamID   string          `json:"stream_id"`
	Revision   uint64          `json:"revision"`
	EventType  string          `json:"event_type"`
	Data       json.RawMessage `json:"data"`
	Timestamp  time.Time       `json:"timestamp"`
}

func (p *Persistor) streamDir(streamName, streamID string) (string, error) {
	name, id := url.PathEscape(streamName), url.PathEscape(streamID)
	for _, part := range []string{name, id} {
		if part == "" || part == "." || part == ".." || strings.HasPrefix(part, ".") {
			return "", fmt.Errorf("invalid stream identity %q/%q", streamName, streamID)
		}
	}
	return filepath.Join(p.baseDir, name, id), nil
}

func revisionFile(revision uint64) string {
	return fmt.Sprintf("%020d.json", revision)
}

// Persist writes record to its own revision file.
func (p *Persistor) Persist(ctx context.Context, record eventpulse.EventRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	_, err := p.write(record)
	return err
}

// write publishes record and returns the path of the revision file.
func (p *Persistor) write(record eventpulse.EventRecord) (string, error) {
	if record.Revision == 0 {
		return "", fmt.Errorf("stream %q/%q: revision must start at 1", record.StreamName, record.StreamID)
	}
	if !json.Valid(record.EventData) {
		return "", fmt.Errorf("stream %q/%q revision %d: %w", record.StreamName, record.StreamID, record.Revision, ErrInvalidPayload)
	}

	dir, err := p.streamDir(record.StreamName, record.StreamID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	data, err := json.Marshal(storedRecord{
		StreamName: record.StreamName,
		StreamID:   record.StreamID,
		Revision:   record.Revision,
		EventType:  record.EventType,
		Data:       json.RawMessage(record.EventData),
		Timestamp:  record.Timestamp,
	})
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Join(p.baseDir, ".tmp"), "record-*.json")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	path := filepath.Join(dir, revisionFile(record.Revision))
	if err := os.Link(tmp.Name(), path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", &eventpulse.ConcurrencyConflictError{
				StreamName: record.StreamName,
				StreamID:   record.StreamID,
				Revision:   record.Revision,
				Err:        err,
			}
		}
		return "", err
	}
	return path, nil
}

// GetEvents reads the stream's revision files in revision order. A stream
// without a directory is empty.
func (p *Persistor) GetEvents(ctx context.Context, streamName, streamID string) ([]eventpulse.EventRecord, error) {
	dir, err := p.streamDir(streamName, streamID)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	type revisionPath struct {
		revision uint64
		path     string
	}
	files := make([]revisionPath, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		rev, err := strconv.ParseUint(strings.TrimSuffix(e.Name(), ".json"), 10, 64)
		if err != nil {
			continue
		}
		files = append(files, revisionPath{rev, filepath.Join(dir, e.Name())})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].revision < files[j].revision })

	records := make([]eventpulse.EventRecord, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := os.ReadFile(f.path)
		if err != nil {
			return nil, err
		}

		var stored storedRecord
		if err := json.Unmarshal(data, &stored); err != nil {
			return nil, fmt.Errorf("read %s: %w", f.path, err)
		}

		records = append(records, eventpulse.EventRecord{
			StreamName: stored.StreamName,
			StreamID:   stored.StreamID,
			Revision:   stored.Revision,
			EventType:  stored.EventType,
			EventData:  []byte(stored.Data),
			Timestamp:  stored.Timestamp,
		})
	}
	return records, nil
}

// BeginTx starts a transaction. Staged records are written on Commit; if one
// of them fails, the files already written by the commit are removed again.
// This is not crash safe.
func (p *Persistor) BeginTx(ctx context.Context) (eventpulse.PersistorTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &tx{persistor: p}, nil
}

type tx struct {
	persistor *Persistor
	staged    []eventpulse.EventRecord
	done      bool
}

func (t *tx) Persist(ctx context.Context, record eventpulse.EventRecord) error {
	if t.done {
		return errors.New("transaction already committed or rolled back")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.staged = append(t.staged, record)
	return nil
}

func (t *tx) Commit() error {
	if t.done {
		return errors.New("transaction already committed or rolled back")
	}
	t.done = true

	p := t.persistor
	p.mu.Lock()
	defer p.mu.Unlock()

	written := make([]string, 0, len(t.staged))
	for _, record := range t.staged {
		path, err := p.write(record)
		if err != nil {
			for _, w := range written {
				if rmErr := os.Remove(w); rmErr != nil {
					err = errors.Join(err, rmErr)
				}
			}
			return err
		}
		written = append(written, path)
	}
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return errors.New("transaction already committed or rolled back")
	}
	t.done = true
	t.staged = nil
	return nil
}
