package trace

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var (
	ErrUnknownRun = errors.New("unknown run")

	runsBucket    = []byte("runs")
	metaKey       = []byte("meta")
	recordsBucket = []byte("records")
)

var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// RunInfo describes one simulator run kept in a store.
type RunInfo struct {
	ID      string    `cbor:"1,keyasint"`
	Started time.Time `cbor:"2,keyasint"`
	Config  string    `cbor:"3,keyasint,omitempty"`
	Records int       `cbor:"-"`
}

// Store keeps trace records in a bbolt file, one bucket per run.
type Store struct {
	db *bbolt.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(runsBucket); err != nil {
			return fmt.Errorf("failed to create bucket: %s", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// NewRun creates an empty run and returns its id. config names what the run
// was started from and may be empty.
func (s *Store) NewRun(config string, started time.Time) (string, error) {
	id := uuid.New().String()
	meta, err := encMode.Marshal(RunInfo{ID: id, Started: started, Config: config})
	if err != nil {
		return "", err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		run, err := tx.Bucket(runsBucket).CreateBucket([]byte(id))
		if err != nil {
			return err
		}
		if _, err := run.CreateBucket(recordsBucket); err != nil {
			return err
		}
		return run.Put(metaKey, meta)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Append stores records at the end of a run in a single transaction.
func (s *Store) Append(runID string, records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := recordsOf(tx, runID)
		if err != nil {
			return err
		}
		for _, r := range records {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			data, err := encMode.Marshal(r)
			if err != nil {
				return err
			}
			if err := b.Put(seqKey(seq), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Records returns every record of a run in insertion order.
func (s *Store) Records(runID string) ([]Record, error) {
	var records []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := recordsOf(tx, runID)
		if err != nil {
			return err
		}
		records = make([]Record, 0, b.Stats().KeyN)
		return b.ForEach(func(_, v []byte) error {
			var r Record
			if err := cbor.Unmarshal(v, &r); err != nil {
				return err
			}
			records = append(records, r)
			return nil
		})
	})
	return records, err
}

// Runs lists the stored runs, oldest first.
func (s *Store) Runs() ([]RunInfo, error) {
	var runs []RunInfo
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(runsBucket).ForEach(func(k, v []byte) error {
			if v != nil {
				return nil
			}
			run := tx.Bucket(runsBucket).Bucket(k)
			var info RunInfo
			if err := cbor.Unmarshal(run.Get(metaKey), &info); err != nil {
				return fmt.Errorf("run %s: %w", k, err)
			}
			info.Records = run.Bucket(recordsBucket).Stats().KeyN
			runs = append(runs, info)
			return nil
		})
	})
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].Started.Before(runs[j].Started) })
	return runs, err
}

// LatestRun returns the id of the most recently started run.
func (s *Store) LatestRun() (string, error) {
	runs, err := s.Runs()
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", ErrUnknownRun
	}
	return runs[len(runs)-1].ID, nil
}

func recordsOf(tx *bbolt.Tx, runID string) (*bbolt.Bucket, error) {
	run := tx.Bucket(runsBucket).Bucket([]byte(runID))
	if run == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	return run.Bucket(recordsBucket), nil
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
