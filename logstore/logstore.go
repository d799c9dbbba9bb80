package logstore

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/hashicorp/go-msgpack/v2/codec"
	"github.com/hashicorp/raft"
)

type keyType uint8

const (
	logEntry keyType = iota
	stable
)

func newLogKey(index uint64) []byte {
	b := make([]byte, 9)
	b[0] = byte(logEntry)
	binary.BigEndian.PutUint64(b[1:], index)
	return b
}

func newStableKey(key []byte) []byte {
	b := make([]byte, 1, len(key)+1)
	b[0] = byte(stable)
	return append(b, key...)
}

func indexFromKey(b []byte) uint64 {
	return binary.BigEndian.Uint64(b[1:])
}

func logToBytes(log *raft.Log) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, &codec.MsgpackHandle{})
	if err := enc.Encode(log); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func bytesToLog(b []byte, log *raft.Log) error {
	dec := codec.NewDecoder(bytes.NewReader(b), &codec.MsgpackHandle{})
	return dec.Decode(log)
}

// PersistentStorage is a persistent storage system for raft log entries and raft metadata.
// It implements both raft.LogStore and raft.StableStore.
type PersistentStorage struct {
	db *badger.DB
}

// NewPersistentStorage opens the storage located at the provided path.
// If the storage does not exist, one will be created.
func NewPersistentStorage(dbpath string) (*PersistentStorage, error) {
	db, err := badger.Open(badger.DefaultOptions(dbpath).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, err
	}
	return &PersistentStorage{db: db}, nil
}

// Close closes the storage.
func (ps *PersistentStorage) Close() error {
	return ps.db.Close()
}

// FirstIndex returns the index of the first log entry. If there are no log entries, then zero is returned.
func (ps *PersistentStorage) FirstIndex() (uint64, error) {
	var first uint64
	err := ps.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte{byte(logEntry)}
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Rewind()
		if it.Valid() {
			first = indexFromKey(it.Item().Key())
		}
		return nil
	})
	return first, err
}

// LastIndex returns the index of the last log entry. If there are no log entries, then zero is returned.
func (ps *PersistentStorage) LastIndex() (uint64, error) {
	var last uint64
	err := ps.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(newLogKey(^uint64(0)))
		if it.ValidForPrefix([]byte{byte(logEntry)}) {
			last = indexFromKey(it.Item().Key())
		}
		return nil
	})
	return last, err
}

// GetLog gets the log entry at the provided index.
// If there is no such entry, raft.ErrLogNotFound is returned.
func (ps *PersistentStorage) GetLog(index uint64, log *raft.Log) error {
	return ps.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(newLogKey(index))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return raft.ErrLogNotFound
		}
		if err != nil {
			return err
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return bytesToLog(value, log)
	})
}

// StoreLog stores the provided log entry.
func (ps *PersistentStorage) StoreLog(log *raft.Log) error {
	return ps.StoreLogs([]*raft.Log{log})
}

// StoreLogs stores multiple log entries in a single transaction.
func (ps *PersistentStorage) StoreLogs(logs []*raft.Log) error {
	return ps.db.Update(func(txn *badger.Txn) error {
		for _, log := range logs {
			value, err := logToBytes(log)
			if err != nil {
				return err
			}
			if err := txn.Set(newLogKey(log.Index), value); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteRange deletes all log entries with an index in the provided range inclusive.
func (ps *PersistentStorage) DeleteRange(min uint64, max uint64) error {
	return ps.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(newLogKey(min)); it.ValidForPrefix([]byte{byte(logEntry)}); it.Next() {
			key := it.Item().KeyCopy(nil)
			if indexFromKey(key) > max {
				break
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// Set stores a key-value pair of raft metadata.
func (ps *PersistentStorage) Set(key []byte, value []byte) error {
	return ps.db.Update(func(txn *badger.Txn) error {
		return txn.Set(newStableKey(key), value)
	})
}

// Get returns the value of a metadata key, or an empty slice if the key does not exist.
func (ps *PersistentStorage) Get(key []byte) ([]byte, error) {
	value := []byte{}
	err := ps.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(newStableKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	return value, err
}

// SetUint64 stores a metadata key with an integer value.
func (ps *PersistentStorage) SetUint64(key []byte, value uint64) error {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, value)
	return ps.Set(key, b)
}

// GetUint64 returns the integer value of a metadata key, or zero if the key does not exist.
func (ps *PersistentStorage) GetUint64(key []byte) (uint64, error) {
	b, err := ps.Get(key)
	if err != nil || len(b) == 0 {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}
