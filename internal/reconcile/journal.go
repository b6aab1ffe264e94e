package reconcile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// Entry is one journaled pending move.
type Entry struct {
	BoardID   uuid.UUID `cbor:"board_id"`
	TicketID  uuid.UUID `cbor:"ticket_id"`
	From      string    `cbor:"from"`
	To        string    `cbor:"to"`
	RequestID string    `cbor:"request_id"`
	IssuedAt  time.Time `cbor:"issued_at"`
}

func (e Entry) pending() Pending {
	return Pending{From: e.From, To: e.To, RequestID: e.RequestID, IssuedAt: e.IssuedAt}
}

// Journal persists pending moves so they survive a client crash.
type Journal interface {
	Put(e Entry) error
	Delete(ticketID uuid.UUID) error
	Load() ([]Entry, error)
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("reconcile: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("reconcile: CBOR decoder initialization failed: " + err.Error())
	}
}

type journalFile struct {
	Version int     `cbor:"version"`
	Entries []Entry `cbor:"entries"`
}

const journalVersion = 1

// FileJournal stores entries in a single CBOR file. Every mutation rewrites
// the file through a temp file and rename, so a crash leaves either the old
// or the new journal on disk.
type FileJournal struct {
	path string

	mu      sync.Mutex
	entries map[uuid.UUID]Entry
}

func OpenFileJournal(path string) (*FileJournal, error) {
	j := &FileJournal{path: path, entries: make(map[uuid.UUID]Entry)}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return j, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reconcile.OpenFileJournal: %w", err)
	}
	if len(data) == 0 {
		return j, nil
	}

	var f journalFile
	if err := decMode.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("reconcile.OpenFileJournal: decode %s: %w", path, err)
	}
	if f.Version != journalVersion {
		return nil, fmt.Errorf("reconcile.OpenFileJournal: unsupported version %d", f.Version)
	}
	for _, e := range f.Entries {
		j.entries[e.TicketID] = e
	}
	return j, nil
}

func (j *FileJournal) Put(e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	prev, had := j.entries[e.TicketID]
	j.entries[e.TicketID] = e
	if err := j.flushLocked(); err != nil {
		if had {
			j.entries[e.TicketID] = prev
		} else {
			delete(j.entries, e.TicketID)
		}
		return fmt.Errorf("reconcile.FileJournal.Put: %w", err)
	}
	return nil
}

func (j *FileJournal) Delete(ticketID uuid.UUID) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	prev, had := j.entries[ticketID]
	if !had {
		return nil
	}
	delete(j.entries, ticketID)
	if err := j.flushLocked(); err != nil {
		j.entries[ticketID] = prev
		return fmt.Errorf("reconcile.FileJournal.Delete: %w", err)
	}
	return nil
}

func (j *FileJournal) Load() ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return sortedEntries(j.entries), nil
}

func (j *FileJournal) flushLocked() error {
	data, err := encMode.Marshal(journalFile{
		Version: journalVersion,
		Entries: sortedEntries(j.entries),
	})
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	dir := filepath.Dir(j.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(j.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpName, j.path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// MemoryJournal is a non-durable Journal.
type MemoryJournal struct {
	mu      sync.Mutex
	entries map[uuid.UUID]Entry
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{entries: make(map[uuid.UUID]Entry)}
}

func (j *MemoryJournal) Put(e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[e.TicketID] = e
	return nil
}

func (j *MemoryJournal) Delete(ticketID uuid.UUID) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.entries, ticketID)
	return nil
}

func (j *MemoryJournal) Load() ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return sortedEntries(j.entries), nil
}

func sortedEntries(m map[uuid.UUID]Entry) []Entry {
	out := make([]Entry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int {
		if c := a.IssuedAt.Compare(b.IssuedAt); c != 0 {
			return c
		}
		return strings.Compare(a.TicketID.String(), b.TicketID.String())
	})
	return out
}
