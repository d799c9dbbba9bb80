package events

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jmsadair/roster/registry"
	"github.com/stretchr/testify/require"
)

func newTestJournal(t *testing.T) *Journal {
	journal, err := NewJournal(t.TempDir(), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })
	return journal
}

func TestJournalList(t *testing.T) {
	journal := newTestJournal(t)

	recorded := []registry.Event{
		registry.NewMemberAddedEvent(3, "a"),
		registry.NewMemberAddedEvent(5, "b"),
		registry.NewMemberRemovedEvent(9, "a"),
		registry.NewMemberAddedEvent(300, "c"),
	}
	// Record out of order to show that the journal orders by timestamp.
	for _, i := range []int{2, 0, 3, 1} {
		journal.Record(recorded[i])
	}

	events, err := journal.List(0, 0)
	require.NoError(t, err)
	require.Equal(t, recorded, events)

	events, err = journal.List(5, 0)
	require.NoError(t, err)
	require.Equal(t, recorded[1:], events)

	events, err = journal.List(4, 2)
	require.NoError(t, err)
	require.Equal(t, recorded[1:3], events)

	events, err = journal.List(301, 0)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestJournalRecordIsIdempotent(t *testing.T) {
	journal := newTestJournal(t)

	event := registry.NewMemberAddedEvent(7, "a")
	journal.Record(event)
	journal.Record(event)

	events, err := journal.List(0, 0)
	require.NoError(t, err)
	require.Equal(t, []registry.Event{event}, events)
}

func TestJournalPersists(t *testing.T) {
	dir := t.TempDir()
	journal, err := NewJournal(dir, slog.Default())
	require.NoError(t, err)
	event := registry.NewMemberRemovedEvent(11, "z")
	journal.Record(event)
	require.NoError(t, journal.Close())

	_, err = journal.List(0, 0)
	require.ErrorIs(t, err, ErrJournalClosed)

	journal, err = NewJournal(dir, slog.Default())
	require.NoError(t, err)
	defer journal.Close()
	events, err := journal.List(0, 0)
	require.NoError(t, err)
	require.Equal(t, []registry.Event{event}, events)
}

func TestFanout(t *testing.T) {
	first := NewRecorder()
	second := NewRecorder()
	var logged bytes.Buffer
	sink := Fanout{first, second, NewLogSink(slog.New(slog.NewTextHandler(&logged, nil)))}

	event := registry.NewMemberAddedEvent(1, "a")
	sink.Record(event)

	require.Equal(t, []registry.Event{event}, first.Events())
	require.Equal(t, []registry.Event{event}, second.Events())
	require.Equal(t, 1, first.Len())
	require.Contains(t, logged.String(), "member-added")
	require.Contains(t, logged.String(), "member=a")
}

func TestKafkaRecord(t *testing.T) {
	event := registry.NewMemberRemovedEvent(1<<33, "a")
	record := newKafkaRecord(event)

	require.Equal(t, uint64(event.Timestamp), binary.BigEndian.Uint64(record.Key))
	decoded, err := registry.NewEventFromBytes(record.Value)
	require.NoError(t, err)
	require.Equal(t, event, decoded)
	require.Len(t, record.Headers, 1)
	require.Equal(t, kindHeader, record.Headers[0].Key)
	require.Equal(t, "member-removed", string(record.Headers[0].Value))
}

func TestKafkaRecordDoesNotBlockWhenBrokersAreDown(t *testing.T) {
	k, err := NewKafka([]string{"127.0.0.1:1"}, "roster.events", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		k.Close(ctx)
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i <= maxBufferedRecords; i++ {
			k.Record(registry.NewMemberAddedEvent(registry.Timestamp(i+1), "a"))
		}
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		require.FailNow(t, "Record blocked with a full buffer")
	}
}
