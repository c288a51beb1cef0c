package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tuskdata/tusk/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketJobs     = []byte("jobs")
	bucketByStatus = []byte("jobs_by_status")
	bucketResults  = []byte("results")
)

const (
	boltHandlePrefix = "bolt:"

	// resultPageSize is the number of batches decoded per read transaction
	resultPageSize = 16
)

// BoltStore implements Store and ResultStore using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "tusk.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketJobs,
			bucketByStatus,
			bucketResults,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func statusKey(status types.JobStatus, id string) []byte {
	return []byte(string(status) + "/" + id)
}

// PutJob upserts a job and moves its status index entry in the same transaction
func (s *BoltStore) PutJob(job *types.Job) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		idx := tx.Bucket(bucketByStatus)

		if prev := b.Get([]byte(job.ID)); prev != nil {
			var old types.Job
			if err := json.Unmarshal(prev, &old); err != nil {
				return fmt.Errorf("failed to decode job %s: %w", job.ID, err)
			}
			if old.Status != job.Status {
				if err := idx.Delete(statusKey(old.Status, job.ID)); err != nil {
					return err
				}
			}
		}

		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(job.ID), data); err != nil {
			return err
		}
		return idx.Put(statusKey(job.Status, job.ID), nil)
	})
}

func (s *BoltStore) GetJob(id string) (*types.Job, error) {
	var job types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("job %s: %w", id, types.ErrNotFound)
		}
		return json.Unmarshal(data, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns jobs newest first. Job ids are time-ordered so key order is submission order.
func (s *BoltStore) ListJobs(filter types.JobFilter) ([]*types.Job, error) {
	if filter.Status != "" {
		jobs, err := s.ListJobsByStatus(filter.Status)
		if err != nil {
			return nil, err
		}
		for i, j := 0, len(jobs)-1; i < j; i, j = i+1, j-1 {
			jobs[i], jobs[j] = jobs[j], jobs[i]
		}
		return page(jobs, filter.Offset, filter.Limit), nil
	}

	var jobs []*types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketJobs).Cursor()
		skipped := 0
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if skipped < filter.Offset {
				skipped++
				continue
			}
			if filter.Limit > 0 && len(jobs) >= filter.Limit {
				break
			}
			var job types.Job
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			jobs = append(jobs, &job)
		}
		return nil
	})
	return jobs, err
}

func page(jobs []*types.Job, offset, limit int) []*types.Job {
	if offset >= len(jobs) {
		return nil
	}
	jobs = jobs[offset:]
	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs
}

// ListJobsByStatus returns every job in the given status in submission order
func (s *BoltStore) ListJobsByStatus(status types.JobStatus) ([]*types.Job, error) {
	var jobs []*types.Job
	prefix := []byte(string(status) + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		c := tx.Bucket(bucketByStatus).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			id := k[len(prefix):]
			data := b.Get(id)
			if data == nil {
				continue
			}
			var job types.Job
			if err := json.Unmarshal(data, &job); err != nil {
				return err
			}
			jobs = append(jobs, &job)
		}
		return nil
	})
	return jobs, err
}

// CountJobsByStatus counts index entries per status
func (s *BoltStore) CountJobsByStatus() (map[types.JobStatus]int, error) {
	counts := make(map[types.JobStatus]int, len(types.AllJobStatuses))
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketByStatus).ForEach(func(k, _ []byte) error {
			status, _, ok := strings.Cut(string(k), "/")
			if ok {
				counts[types.JobStatus(status)]++
			}
			return nil
		})
	})
	return counts, err
}

// PutResult stores batches under a nested bucket for the job, replacing any previous result
func (s *BoltStore) PutResult(ctx context.Context, jobID string, batches []*types.Batch) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		results := tx.Bucket(bucketResults)
		if results.Bucket([]byte(jobID)) != nil {
			if err := results.DeleteBucket([]byte(jobID)); err != nil {
				return err
			}
		}
		b, err := results.CreateBucket([]byte(jobID))
		if err != nil {
			return fmt.Errorf("failed to create result bucket: %w", err)
		}
		for _, batch := range batches {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			data, err := json.Marshal(batch)
			if err != nil {
				return err
			}
			key := make([]byte, 8)
			binary.BigEndian.PutUint64(key, seq)
			if err := b.Put(key, data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return boltHandlePrefix + jobID, nil
}

// ReadResult calls fn for each stored batch in order. Batches are read a page
// at a time and fn runs outside the read transaction, so a slow consumer
// never holds the database open against writers.
func (s *BoltStore) ReadResult(ctx context.Context, handle string, fn func(*types.Batch) error) error {
	jobID, ok := strings.CutPrefix(handle, boltHandlePrefix)
	if !ok {
		return fmt.Errorf("unsupported result handle %q", handle)
	}

	var after []byte
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, last, err := s.readResultPage(handle, jobID, after)
		if err != nil {
			return err
		}
		for _, batch := range page {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(batch); err != nil {
				return err
			}
		}
		if len(page) < resultPageSize {
			return nil
		}
		after = last
	}
}

// readResultPage decodes up to resultPageSize batches stored after the given key
func (s *BoltStore) readResultPage(handle, jobID string, after []byte) ([]*types.Batch, []byte, error) {
	var page []*types.Batch
	var last []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResults).Bucket([]byte(jobID))
		if b == nil {
			return fmt.Errorf("result %s: %w", handle, types.ErrNotFound)
		}

		c := b.Cursor()
		k, v := c.First()
		if after != nil {
			k, v = c.Seek(after)
			if k != nil && bytes.Equal(k, after) {
				k, v = c.Next()
			}
		}
		for ; k != nil && len(page) < resultPageSize; k, v = c.Next() {
			var batch types.Batch
			if err := json.Unmarshal(v, &batch); err != nil {
				return fmt.Errorf("failed to decode result batch: %w", err)
			}
			page = append(page, &batch)
			// keys are only valid for the life of the transaction
			last = append(last[:0], k...)
		}
		return nil
	})
	return page, last, err
}

// DeleteResult removes a stored result; deleting a missing result is not an error
func (s *BoltStore) DeleteResult(ctx context.Context, handle string) error {
	jobID, ok := strings.CutPrefix(handle, boltHandlePrefix)
	if !ok {
		return fmt.Errorf("unsupported result handle %q", handle)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		results := tx.Bucket(bucketResults)
		if results.Bucket([]byte(jobID)) == nil {
			return nil
		}
		return results.DeleteBucket([]byte(jobID))
	})
}
