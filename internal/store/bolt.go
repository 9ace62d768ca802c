package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"stevedore/internal/taskqueue"
	"stevedore/pkg/manager"
)

const (
	bucketTasks     = "tasks"
	bucketDetection = "detection"
	bucketInstalled = "installed"
	bucketOutdated  = "outdated"
	bucketSearch    = "search"
	bucketPins      = "pins"
	bucketMeta      = "meta"

	keySafeMode = "safe_mode"
)

var allBuckets = []string{
	bucketTasks, bucketDetection, bucketInstalled, bucketOutdated,
	bucketSearch, bucketPins, bucketMeta,
}

// DetectionEntry is the cached result of a detect action.
type DetectionEntry struct {
	Manager   manager.ID            `json:"manager"`
	Info      manager.DetectionInfo `json:"info"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// InstalledEntry is a manager's cached installed-package list.
type InstalledEntry struct {
	Manager   manager.ID        `json:"manager"`
	Packages  []manager.Package `json:"packages"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// OutdatedEntry is a manager's cached outdated-package list.
type OutdatedEntry struct {
	Manager   manager.ID                `json:"manager"`
	Packages  []manager.OutdatedPackage `json:"packages"`
	UpdatedAt time.Time                 `json:"updated_at"`
}

// SearchEntry is one cached remote search.
type SearchEntry struct {
	Manager   manager.ID             `json:"manager"`
	Query     string                 `json:"query"`
	Results   []manager.SearchResult `json:"results"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// PinRecord records a package pinned through stevedore.
type PinRecord struct {
	Package  manager.PackageRef `json:"package"`
	Version  string             `json:"version,omitempty"`
	PinnedAt time.Time          `json:"pinned_at"`
}

// BoltStore is the local bbolt-backed store.
type BoltStore struct {
	db *bbolt.DB
}

var _ TaskHistory = (*BoltStore)(nil)

// Open opens or creates the database at path.
func Open(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, storageErr(err, "failed to create data directory")
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, storageErr(err, "failed to open database %s", path)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, storageErr(err, "failed to initialize buckets")
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func taskKey(id taskqueue.TaskID) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id))
	return key
}

func put(tx *bbolt.Tx, bucket string, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s entry: %w", bucket, err)
	}
	return tx.Bucket([]byte(bucket)).Put(key, data)
}

// CreateTask inserts a new task record.
func (s *BoltStore) CreateTask(_ context.Context, rec TaskRecord) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		key := taskKey(rec.ID)
		if tx.Bucket([]byte(bucketTasks)).Get(key) != nil {
			return fmt.Errorf("task %d already exists", rec.ID)
		}
		return put(tx, bucketTasks, key, rec)
	})
	if err != nil {
		return storageErr(err, "create task %d", rec.ID)
	}
	return nil
}

// UpdateTask overwrites an existing task record.
func (s *BoltStore) UpdateTask(_ context.Context, rec TaskRecord) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		key := taskKey(rec.ID)
		if tx.Bucket([]byte(bucketTasks)).Get(key) == nil {
			return fmt.Errorf("%w: %d", ErrTaskNotFound, rec.ID)
		}
		return put(tx, bucketTasks, key, rec)
	})
	if err != nil {
		return storageErr(err, "update task %d", rec.ID)
	}
	return nil
}

// GetTask returns one task record.
func (s *BoltStore) GetTask(_ context.Context, id taskqueue.TaskID) (TaskRecord, error) {
	var rec TaskRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketTasks)).Get(taskKey(id))
		if data == nil {
			return fmt.Errorf("%w: %d", ErrTaskNotFound, id)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return TaskRecord{}, storageErr(err, "get task %d", id)
	}
	return rec, nil
}

// ListTasks returns the most recent task records first.
func (s *BoltStore) ListTasks(_ context.Context, limit int) ([]TaskRecord, error) {
	var records []TaskRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket([]byte(bucketTasks)).Cursor()
		for k, v := cursor.Last(); k != nil && (limit <= 0 || len(records) < limit); k, v = cursor.Prev() {
			var rec TaskRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue // Skip malformed entries
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, storageErr(err, "list tasks")
	}
	return records, nil
}

// LastTaskID returns the highest stored task id.
func (s *BoltStore) LastTaskID(_ context.Context) (taskqueue.TaskID, error) {
	var last taskqueue.TaskID
	err := s.db.View(func(tx *bbolt.Tx) error {
		k, _ := tx.Bucket([]byte(bucketTasks)).Cursor().Last()
		if k != nil {
			last = taskqueue.TaskID(binary.BigEndian.Uint64(k))
		}
		return nil
	})
	if err != nil {
		return 0, storageErr(err, "read last task id")
	}
	return last, nil
}

// PruneTasks removes terminal records older than maxAge.
func (s *BoltStore) PruneTasks(_ context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	var deleted int

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketTasks))

		var toDelete [][]byte
		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var rec TaskRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			if rec.Status.IsTerminal() && rec.UpdatedAt.Before(cutoff) {
				toDelete = append(toDelete, append([]byte(nil), k...))
			}
		}

		for _, k := range toDelete {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, storageErr(err, "prune tasks")
	}
	return deleted, nil
}

// PutDetection caches a detect result.
func (s *BoltStore) PutDetection(id manager.ID, info manager.DetectionInfo) error {
	entry := DetectionEntry{Manager: id, Info: info, UpdatedAt: time.Now()}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, bucketDetection, []byte(id), entry)
	})
	if err != nil {
		return storageErr(err, "cache detection for %s", id)
	}
	return nil
}

// Detections returns every cached detect result ordered by manager id.
func (s *BoltStore) Detections() ([]DetectionEntry, error) {
	var out []DetectionEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketDetection)).ForEach(func(_, v []byte) error {
			var entry DetectionEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return nil
			}
			out = append(out, entry)
			return nil
		})
	})
	if err != nil {
		return nil, storageErr(err, "read detection cache")
	}
	return out, nil
}

// PutInstalled caches a manager's installed packages.
func (s *BoltStore) PutInstalled(id manager.ID, pkgs []manager.Package) error {
	entry := InstalledEntry{Manager: id, Packages: pkgs, UpdatedAt: time.Now()}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, bucketInstalled, []byte(id), entry)
	})
	if err != nil {
		return storageErr(err, "cache installed packages for %s", id)
	}
	return nil
}

// Installed returns a manager's cached installed packages. ok is false when
// nothing is cached.
func (s *BoltStore) Installed(id manager.ID) (entry InstalledEntry, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketInstalled)).Get([]byte(id))
		if data == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return InstalledEntry{}, false, storageErr(err, "read installed packages for %s", id)
	}
	return entry, ok, nil
}

// PutOutdated caches a manager's outdated packages.
func (s *BoltStore) PutOutdated(id manager.ID, pkgs []manager.OutdatedPackage) error {
	entry := OutdatedEntry{Manager: id, Packages: pkgs, UpdatedAt: time.Now()}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, bucketOutdated, []byte(id), entry)
	})
	if err != nil {
		return storageErr(err, "cache outdated packages for %s", id)
	}
	return nil
}

// Outdated returns every cached outdated list ordered by manager id.
func (s *BoltStore) Outdated() ([]OutdatedEntry, error) {
	var out []OutdatedEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketOutdated)).ForEach(func(_, v []byte) error {
			var entry OutdatedEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return nil
			}
			out = append(out, entry)
			return nil
		})
	})
	if err != nil {
		return nil, storageErr(err, "read outdated cache")
	}
	return out, nil
}

func searchKey(id manager.ID, query string) []byte {
	return []byte(string(id) + "\x00" + strings.ToLower(strings.TrimSpace(query)))
}

// PutSearchResults caches the results of one remote search.
func (s *BoltStore) PutSearchResults(id manager.ID, query string, results []manager.SearchResult) error {
	entry := SearchEntry{Manager: id, Query: query, Results: results, UpdatedAt: time.Now()}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, bucketSearch, searchKey(id, query), entry)
	})
	if err != nil {
		return storageErr(err, "cache search results for %s", id)
	}
	return nil
}

// SearchEntries returns every cached search.
func (s *BoltStore) SearchEntries() ([]SearchEntry, error) {
	var out []SearchEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketSearch)).ForEach(func(_, v []byte) error {
			var entry SearchEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return nil
			}
			out = append(out, entry)
			return nil
		})
	})
	if err != nil {
		return nil, storageErr(err, "read search cache")
	}
	return out, nil
}

func pinKey(ref manager.PackageRef) []byte {
	return []byte(string(ref.Manager) + "\x00" + ref.Name)
}

// SetPin records a pin.
func (s *BoltStore) SetPin(ref manager.PackageRef, version string) error {
	rec := PinRecord{Package: ref, Version: version, PinnedAt: time.Now()}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, bucketPins, pinKey(ref), rec)
	})
	if err != nil {
		return storageErr(err, "record pin for %s/%s", ref.Manager, ref.Name)
	}
	return nil
}

// RemovePin deletes a pin record. Removing a missing pin is not an error.
func (s *BoltStore) RemovePin(ref manager.PackageRef) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketPins)).Delete(pinKey(ref))
	})
	if err != nil {
		return storageErr(err, "remove pin for %s/%s", ref.Manager, ref.Name)
	}
	return nil
}

// Pins returns all pin records ordered by manager then package name.
func (s *BoltStore) Pins() ([]PinRecord, error) {
	var out []PinRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketPins)).ForEach(func(_, v []byte) error {
			var rec PinRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, storageErr(err, "read pins")
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Package.Manager != out[j].Package.Manager {
			return out[i].Package.Manager < out[j].Package.Manager
		}
		return out[i].Package.Name < out[j].Package.Name
	})
	return out, nil
}

// SetSafeMode persists the safe-mode flag.
func (s *BoltStore) SetSafeMode(enabled bool) error {
	val := []byte("0")
	if enabled {
		val = []byte("1")
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketMeta)).Put([]byte(keySafeMode), val)
	})
	if err != nil {
		return storageErr(err, "write safe mode flag")
	}
	return nil
}

// SafeMode returns the persisted safe-mode flag. set is false when the flag
// was never written.
func (s *BoltStore) SafeMode() (enabled, set bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(bucketMeta)).Get([]byte(keySafeMode))
		if v == nil {
			return nil
		}
		set = true
		enabled = string(v) == "1"
		return nil
	})
	if err != nil {
		return false, false, storageErr(err, "read safe mode flag")
	}
	return enabled, set, nil
}
