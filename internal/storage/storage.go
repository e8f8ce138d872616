// Package storage implements the Encrypted File Storage component (C5):
// a date-partitioned, quota-enforced, encryption-at-rest object store for
// call recordings.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned by Get/Delete when the relative path doesn't
// resolve to an existing object.
var ErrNotFound = errors.New("storage: recording not found")

// QuotaExceededError reports that storing size more bytes would exceed the
// configured quota. UsedBytes and QuotaBytes are exposed for logging.
type QuotaExceededError struct {
	UsedBytes  uint64
	QuotaBytes uint64
}

func (e *QuotaExceededError) Error() string {
	usedGB := float64(e.UsedBytes) / (1 << 30)
	quotaGB := float64(e.QuotaBytes) / (1 << 30)
	return fmt.Sprintf("storage: quota exceeded: %.3fGB used of %.3fGB", usedGB, quotaGB)
}

// RecordingFile describes an object after it has been stored.
type RecordingFile struct {
	RelativePath  string
	FileSize      uint64
	EncryptionKeyID string
	UploadedAt    time.Time
}

// Info summarizes current usage of the store.
type Info struct {
	TotalFiles       uint64
	TotalSizeBytes   uint64
	AvailableBytes   uint64
}

// KeyManager seals and opens per-object data keys. Seal returns the
// ciphertext for plaintext along with the key id used to produce it; Open
// reverses the operation given the same key id. Implementations must be
// safe for concurrent use.
type KeyManager interface {
	Seal(plaintext []byte) (ciphertext []byte, keyID string, err error)
	Open(ciphertext []byte, keyID string) (plaintext []byte, err error)
}

// Store is a local-filesystem-backed RecordingStorage: objects are laid
// out under baseDir/YYYY/MM/DD/<call_id>_<unix_ts>.<ext>, sealed via the
// configured KeyManager, and bounded by a byte quota tracked from an
// in-memory usage counter seeded by walking the tree at startup.
type Store struct {
	baseDir    string
	quotaBytes uint64
	keys       KeyManager

	mu        sync.Mutex
	usedBytes uint64
	fileCount uint64
}

// New creates a Store rooted at baseDir with the given byte quota and key
// manager. It walks baseDir to seed the usage counters; baseDir is created
// if it doesn't exist.
func New(baseDir string, quotaBytes uint64, keys KeyManager) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating base dir: %w", err)
	}
	s := &Store{baseDir: baseDir, quotaBytes: quotaBytes, keys: keys}
	files, size, err := walkUsage(baseDir)
	if err != nil {
		return nil, fmt.Errorf("storage: seeding usage counters: %w", err)
	}
	s.fileCount = files
	s.usedBytes = size
	return s, nil
}

func walkUsage(baseDir string) (files uint64, size uint64, err error) {
	err = filepath.WalkDir(baseDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files++
		size += uint64(info.Size())
		return nil
	})
	return files, size, err
}

// generatePath builds baseDir/YYYY/MM/DD/<callID>_<unixTS>.<format> for the
// current instant, returning both the absolute and base-relative forms.
func (s *Store) generatePath(callID int64, format string) (absPath, relPath string) {
	now := time.Now().UTC()
	datePart := now.Format("2006/01/02")
	filename := fmt.Sprintf("%d_%d.%s", callID, now.Unix(), format)
	relPath = filepath.Join(datePart, filename)
	absPath = filepath.Join(s.baseDir, relPath)
	return absPath, relPath
}

// CheckQuota reports whether storing an additional object of size bytes
// would keep total usage at or under the configured quota.
func (s *Store) CheckQuota(size uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usedBytes+size <= s.quotaBytes
}

// Store seals data and writes it under the date-partitioned layout,
// returning the resulting descriptor. Quota is checked (and may race
// benignly against concurrent stores) before any bytes are written.
func (s *Store) Store(callID int64, data []byte, format string) (RecordingFile, error) {
	size := uint64(len(data))

	s.mu.Lock()
	if s.usedBytes+size > s.quotaBytes {
		used, quota := s.usedBytes, s.quotaBytes
		s.mu.Unlock()
		return RecordingFile{}, &QuotaExceededError{UsedBytes: used, QuotaBytes: quota}
	}
	s.mu.Unlock()

	sealed, keyID, err := s.keys.Seal(data)
	if err != nil {
		return RecordingFile{}, fmt.Errorf("storage: sealing recording: %w", err)
	}

	absPath, relPath := s.generatePath(callID, format)
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return RecordingFile{}, fmt.Errorf("storage: creating parent dirs: %w", err)
	}

	if err := writeFileSync(absPath, sealed); err != nil {
		return RecordingFile{}, fmt.Errorf("storage: writing recording: %w", err)
	}

	storedSize := uint64(len(sealed))
	s.mu.Lock()
	s.usedBytes += storedSize
	s.fileCount++
	s.mu.Unlock()

	return RecordingFile{
		RelativePath:    relPath,
		FileSize:        size,
		EncryptionKeyID: keyID,
		UploadedAt:      time.Now(),
	}, nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Get reads and unseals the object at relPath, given the key id it was
// stored with.
func (s *Store) Get(relPath, keyID string) ([]byte, error) {
	absPath := filepath.Join(s.baseDir, relPath)
	sealed, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: reading recording: %w", err)
	}
	plain, err := s.keys.Open(sealed, keyID)
	if err != nil {
		return nil, fmt.Errorf("storage: unsealing recording: %w", err)
	}
	return plain, nil
}

// Delete removes the object at relPath and prunes any now-empty ancestor
// directories up to (not including) the base directory.
func (s *Store) Delete(relPath string) error {
	absPath := filepath.Join(s.baseDir, relPath)
	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("storage: statting recording: %w", err)
	}

	if err := os.Remove(absPath); err != nil {
		return fmt.Errorf("storage: deleting recording: %w", err)
	}

	s.mu.Lock()
	s.usedBytes -= uint64(info.Size())
	s.fileCount--
	s.mu.Unlock()

	cleanupEmptyDirs(filepath.Dir(absPath), s.baseDir)
	return nil
}

// cleanupEmptyDirs removes dir and walks up its ancestry, removing each
// directory that is now empty, stopping at (and never removing) baseDir.
func cleanupEmptyDirs(dir, baseDir string) {
	baseDir = filepath.Clean(baseDir)
	for {
		dir = filepath.Clean(dir)
		if dir == baseDir || !strings.HasPrefix(dir, baseDir) {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// Info aggregates current usage by returning the in-memory counters seeded
// at startup and maintained by Store/Delete.
func (s *Store) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	var available uint64
	if s.quotaBytes > s.usedBytes {
		available = s.quotaBytes - s.usedBytes
	}
	return Info{
		TotalFiles:     s.fileCount,
		TotalSizeBytes: s.usedBytes,
		AvailableBytes: available,
	}
}

// Resync recomputes usage counters by re-walking the tree, correcting for
// any out-of-band changes (e.g. an operator manually removing files).
func (s *Store) Resync() error {
	files, size, err := walkUsage(s.baseDir)
	if err != nil {
		return fmt.Errorf("storage: resyncing usage: %w", err)
	}
	s.mu.Lock()
	s.fileCount = files
	s.usedBytes = size
	s.mu.Unlock()
	return nil
}
