// Package eventlog is the local, persistent, offset-ordered record log.
//
// The client side of the data plane appends records it receives from
// remote producers; the server side streams records out of it to
// consumers, resuming at a requested offset and following live appends
// through the broker.
package eventlog

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

// Header is one record header
type Header struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// Record is the payload appended to a topic
type Record struct {
	Key     []byte   `json:"key,omitempty"`
	Value   []byte   `json:"value"`
	Headers []Header `json:"headers,omitempty"`
	Shared  []Header `json:"shared,omitempty"`
}

// StoredRecord is a record with its assigned offset
type StoredRecord struct {
	Offset int64 `json:"offset"`
	Record
}

// Log is a bbolt-backed event log with one bucket per topic. Offsets are
// assigned contiguously per topic starting at 0.
type Log struct {
	db     *bolt.DB
	broker *Broker
}

// Open opens (or creates) the event log in the given data directory
func Open(dataDir string) (*Log, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "eventlog.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}

	return &Log{db: db, broker: NewBroker()}, nil
}

// Close closes the database and drops all subscribers
func (l *Log) Close() error {
	l.broker.Close()
	return l.db.Close()
}

// Append writes a record to the topic and returns its assigned offset.
// Live subscribers of the topic are notified after the write commits.
func (l *Log) Append(topic string, rec Record) (int64, error) {
	var offset int64

	err := l.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(topic))
		if err != nil {
			return fmt.Errorf("failed to create topic bucket: %w", err)
		}

		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to advance sequence: %w", err)
		}
		offset = int64(seq) - 1

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}
		return b.Put(offsetKey(offset), data)
	})
	if err != nil {
		return 0, err
	}

	l.broker.Publish(topic, StoredRecord{Offset: offset, Record: rec})
	return offset, nil
}

// Read returns up to max records of the topic starting at offset from.
// A topic that does not exist yields no records and no error.
func (l *Log) Read(topic string, from int64, max int) ([]StoredRecord, error) {
	if from < 0 {
		from = 0
	}

	var out []StoredRecord
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(topic))
		if b == nil {
			return nil
		}

		c := b.Cursor()
		for k, v := c.Seek(offsetKey(from)); k != nil; k, v = c.Next() {
			if max > 0 && len(out) >= max {
				break
			}
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("corrupt record at %x: %w", k, err)
			}
			out = append(out, StoredRecord{
				Offset: int64(binary.BigEndian.Uint64(k)),
				Record: rec,
			})
		}
		return nil
	})
	return out, err
}

// NextOffset returns the offset the next append to the topic will get
func (l *Log) NextOffset(topic string) (int64, error) {
	var next int64
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(topic))
		if b == nil {
			return nil
		}
		next = int64(b.Sequence())
		return nil
	})
	return next, err
}

// Topics lists the topics present in the log
func (l *Log) Topics() ([]string, error) {
	var topics []string
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			topics = append(topics, string(name))
			return nil
		})
	})
	return topics, err
}

// Subscribe returns a channel of live appends for the topic and a
// cancel function. Slow subscribers miss records rather than block the
// writer; streaming callers re-read from their last offset when they
// detect a gap.
func (l *Log) Subscribe(topic string) (<-chan StoredRecord, func()) {
	return l.broker.Subscribe(topic)
}

func offsetKey(offset int64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(offset))
	return k
}
