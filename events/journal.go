package events

import (
	"encoding/binary"
	"errors"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/jmsadair/roster/registry"
)

const timestampLen = 8

// ErrJournalClosed is returned when reading from a journal that has been closed.
var ErrJournalClosed = errors.New("events: journal is closed")

func newEventKey(event registry.Event) []byte {
	b := make([]byte, timestampLen+1, timestampLen+1+len(event.Identity))
	binary.BigEndian.PutUint64(b, uint64(event.Timestamp))
	b[timestampLen] = byte(event.Kind)
	return append(b, string(event.Identity)...)
}

func newTimestampKey(ts registry.Timestamp) []byte {
	b := make([]byte, timestampLen)
	binary.BigEndian.PutUint64(b, uint64(ts))
	return b
}

// Journal is a disk-backed, append-only log of registry events ordered by timestamp.
// An event is keyed by its timestamp, kind, and identity, so recording the same event twice,
// which happens when a replicated log is replayed, stores it once.
type Journal struct {
	db  *badger.DB
	log *slog.Logger
}

// NewJournal opens the journal located at the provided path.
// If the journal does not exist, one will be created.
func NewJournal(dbpath string, log *slog.Logger) (*Journal, error) {
	db, err := badger.Open(badger.DefaultOptions(dbpath).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, err
	}
	return &Journal{db: db, log: log.With("component", "journal")}, nil
}

// Record writes the event to the journal. Write failures are logged and otherwise ignored.
func (j *Journal) Record(event registry.Event) {
	err := j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(newEventKey(event), event.Bytes())
	})
	if err != nil {
		j.log.Error(
			"failed to record event",
			"error",
			err.Error(),
			"kind",
			event.Kind.String(),
			"timestamp",
			event.Timestamp,
			"member",
			event.Identity,
		)
	}
}

// List returns up to limit events with a timestamp greater than or equal to from, in timestamp order.
// A limit less than or equal to zero returns every matching event.
func (j *Journal) List(from registry.Timestamp, limit int) ([]registry.Event, error) {
	var events []registry.Event
	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(newTimestampKey(from)); it.Valid(); it.Next() {
			if limit > 0 && len(events) >= limit {
				break
			}
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			event, err := registry.NewEventFromBytes(value)
			if err != nil {
				return err
			}
			events = append(events, event)
		}
		return nil
	})
	if errors.Is(err, badger.ErrDBClosed) {
		return nil, ErrJournalClosed
	}
	return events, err
}

// Close closes the journal.
// It is critical that this is called after the journal is done being used to ensure all events are written to disk.
func (j *Journal) Close() error {
	return j.db.Close()
}
