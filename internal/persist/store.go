// Package persist owns the on-disk transmission store: length-prefixed
// frame files written atomically, capacity accounting in bytes, and a
// bounded oldest-first worklist drained by the loader.
package persist

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	filePrefix = "Transmission"
	readyExt   = ".trn"
	tempExt    = ".tmp"

	// maxWorklist bounds the in-memory cache of oldest file names.
	maxWorklist = 128

	deleteRetries    = 3
	deleteRetryDelay = 50 * time.Millisecond
)

// ErrCapacityExceeded is returned when a write would push the folder past
// its configured capacity.
var ErrCapacityExceeded = errors.New("persist: disk capacity exceeded")

// Store manages a single folder of persisted transmissions. All sizes are
// tracked with an atomic counter adjusted on successful writes, takes and
// deletes.
type Store struct {
	dir      string
	capacity int64 // bytes
	logger   *slog.Logger

	size atomic.Int64

	mu       sync.Mutex
	worklist []string // oldest-first .trn base names
	inFlight map[string]struct{}
}

// NewStore opens (creating if needed) the folder and accounts for any files
// already present. Stale temp files left behind by a previous crash are
// removed.
func NewStore(dir string, capacityKB int64, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("persist: create folder %s: %w", dir, err)
	}
	s := &Store{
		dir:      dir,
		capacity: capacityKB * 1024,
		logger:   logger,
		inFlight: make(map[string]struct{}),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("persist: scan folder %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case readyExt:
			if info, err := e.Info(); err == nil {
				s.size.Add(info.Size())
			}
		case tempExt:
			if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
				logger.Warn("removed stale temp file", "file", e.Name())
			}
		}
	}
	return s, nil
}

// Size returns the accounted on-disk byte total of ready files.
func (s *Store) Size() int64 { return s.size.Load() }

// CapacityReached reports whether the folder is at or beyond its configured
// capacity.
func (s *Store) CapacityReached() bool { return s.size.Load() >= s.capacity }

// Write persists one frame: content goes to a uniquely-named temp file which
// is then atomically renamed to its permanent extension.
func (s *Store) Write(frame Frame) (string, error) {
	if s.CapacityReached() {
		return "", ErrCapacityExceeded
	}
	base := filePrefix + uuid.NewString()
	tmpPath := filepath.Join(s.dir, base+tempExt)
	data, err := EncodeFrame(frame)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return "", fmt.Errorf("persist: write %s: %w", tmpPath, err)
	}
	finalPath := filepath.Join(s.dir, base+readyExt)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("persist: rename %s: %w", tmpPath, err)
	}
	s.size.Add(int64(len(data)))
	return base + readyExt, nil
}

// Loaded is a file taken off the store by a loader. While held, the file
// lives under a temp name and is excluded from capacity accounting.
type Loaded struct {
	Frame    Frame
	origName string
	tmpPath  string
	bytes    int64
}

// TakeOldest claims the oldest persisted file: it is renamed to a temp name,
// decoded, and removed from active accounting. Returns nil when no file is
// available. Two loader goroutines never receive the same file.
func (s *Store) TakeOldest() (*Loaded, error) {
	for {
		name, ok := s.nextName()
		if !ok {
			return nil, nil
		}
		loaded, err := s.claim(name)
		if err != nil {
			// Lost a race with another process or a delete; try the
			// next candidate.
			s.release(name)
			continue
		}
		if loaded == nil {
			s.release(name)
			continue
		}
		return loaded, nil
	}
}

func (s *Store) nextName() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.worklist) == 0 {
		s.refillLocked()
	}
	if len(s.worklist) == 0 {
		return "", false
	}
	name := s.worklist[0]
	s.worklist = s.worklist[1:]
	s.inFlight[name] = struct{}{}
	return name, true
}

// refillLocked rebuilds the worklist from a directory scan, oldest first,
// capped at maxWorklist entries and excluding files already being loaded.
func (s *Store) refillLocked() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Error("worklist refill failed", "error", err)
		return
	}
	type candidate struct {
		name string
		mod  time.Time
	}
	var candidates []candidate
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != readyExt {
			continue
		}
		if _, busy := s.inFlight[e.Name()]; busy {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{name: e.Name(), mod: info.ModTime()})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].mod.Before(candidates[j].mod) })
	if len(candidates) > maxWorklist {
		candidates = candidates[:maxWorklist]
	}
	s.worklist = s.worklist[:0]
	for _, c := range candidates {
		s.worklist = append(s.worklist, c.name)
	}
}

func (s *Store) claim(name string) (*Loaded, error) {
	src := filepath.Join(s.dir, name)
	info, err := os.Stat(src)
	if err != nil {
		return nil, err
	}
	tmpPath := filepath.Join(s.dir, filePrefix+uuid.NewString()+tempExt)
	if err := os.Rename(src, tmpPath); err != nil {
		return nil, err
	}
	s.size.Add(-info.Size())

	data, err := os.ReadFile(tmpPath)
	if err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("persist: read %s: %w", tmpPath, err)
	}
	frame, err := DecodeFrame(data)
	if err != nil {
		// Corrupt file: drop it rather than feeding it back forever.
		s.logger.Warn("discarding corrupt persisted transmission", "file", name, "error", err)
		_ = os.Remove(tmpPath)
		return nil, nil
	}
	return &Loaded{Frame: frame, origName: name, tmpPath: tmpPath, bytes: info.Size()}, nil
}

func (s *Store) release(name string) {
	s.mu.Lock()
	delete(s.inFlight, name)
	s.mu.Unlock()
}

// Complete deletes the temp file backing a loaded transmission, retrying a
// bounded number of times on failure.
func (s *Store) Complete(l *Loaded) {
	var err error
	for attempt := 0; attempt < deleteRetries; attempt++ {
		if err = os.Remove(l.tmpPath); err == nil || os.IsNotExist(err) {
			err = nil
			break
		}
		time.Sleep(deleteRetryDelay)
	}
	if err != nil {
		s.logger.Error("failed to delete loaded transmission", "file", l.tmpPath, "error", err)
	}
	s.release(l.origName)
}

// Abandon puts a loaded file back into the store, restoring its ready name
// and its capacity accounting.
func (s *Store) Abandon(l *Loaded) {
	dst := filepath.Join(s.dir, l.origName)
	if err := os.Rename(l.tmpPath, dst); err != nil {
		s.logger.Error("failed to restore persisted transmission", "file", l.origName, "error", err)
		s.release(l.origName)
		return
	}
	s.size.Add(l.bytes)
	s.release(l.origName)
}
