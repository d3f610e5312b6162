package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "github.com/tyda-syda/sun/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.notifications.jsonl  (append-only JSON Lines audit trail)
//   - <prefix>.handles.snapshot.json (periodic snapshot)
//   - <prefix>.handles.journal.jsonl (append-only journal)
//
// The journal is periodically compacted into the snapshot. The handle set is
// tiny (one entry per replace key), so compaction is mostly about keeping
// the journal from growing without bound across long uptimes.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	notifFile *os.File

	handleSnapshotPath string
	handleJournalFile  *os.File
	handles            map[string]uint32

	handleWrites int
}

type handleRecord struct {
	Key string `json:"key"`
	// ID 0 marks a deletion in the journal.
	ID uint32 `json:"id"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	notifPath := prefix + ".notifications.jsonl"
	snapPath := prefix + ".handles.snapshot.json"
	journalPath := prefix + ".handles.journal.jsonl"

	nf, err := os.OpenFile(notifPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	// Load handles from snapshot + journal.
	handles := map[string]uint32{}
	_ = loadHandleSnapshot(snapPath, handles)
	_ = replayHandleJournal(journalPath, handles)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = nf.Close()
		return nil, err
	}

	return &fileStore{
		log:                log,
		notifFile:          nf,
		handleSnapshotPath: snapPath,
		handleJournalFile:  jf,
		handles:            handles,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.notifFile != nil {
		err1 = s.notifFile.Close()
		s.notifFile = nil
	}
	if s.handleJournalFile != nil {
		err2 = s.handleJournalFile.Close()
		s.handleJournalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) AppendNotification(ctx context.Context, rec NotificationRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notifFile == nil {
		return errors.New("notification file closed")
	}
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	return json.NewEncoder(s.notifFile).Encode(rec)
}

func (s *fileStore) PutHandle(ctx context.Context, key string, id uint32) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" || id == 0 {
		return nil
	}
	return s.writeHandle(handleRecord{Key: key, ID: id})
}

func (s *fileStore) DeleteHandle(ctx context.Context, key string) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	return s.writeHandle(handleRecord{Key: key})
}

func (s *fileStore) writeHandle(r handleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handleJournalFile == nil {
		return errors.New("handle journal closed")
	}
	if s.handles == nil {
		s.handles = map[string]uint32{}
	}
	if r.ID == 0 {
		delete(s.handles, r.Key)
	} else {
		s.handles[r.Key] = r.ID
	}

	if err := json.NewEncoder(s.handleJournalFile).Encode(r); err != nil {
		return err
	}
	s.handleWrites++
	if s.handleWrites%256 == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("handle compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) Handles(ctx context.Context) (map[string]uint32, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]uint32, len(s.handles))
	for k, v := range s.handles {
		out[k] = v
	}
	return out, nil
}

func (s *fileStore) compactLocked() error {
	if s.handles == nil {
		return nil
	}

	tmp := s.handleSnapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.handles); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.handleSnapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.handleJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.handleJournalFile.Seek(0, 2)
	return err
}

func loadHandleSnapshot(path string, out map[string]uint32) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]uint32
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayHandleJournal(path string, out map[string]uint32) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r handleRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.Key == "" {
			continue
		}
		if r.ID == 0 {
			delete(out, r.Key)
			continue
		}
		out[r.Key] = r.ID
	}
	return sc.Err()
}
