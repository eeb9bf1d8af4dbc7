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

	logx "pubflow/pkg/logx"
)

// recentCap bounds the in-memory tail kept for RecentAudit.
const recentCap = 256

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.audit.jsonl (append-only JSON Lines)
//
// A bounded in-memory tail of recent entries serves RecentAudit without
// rescanning the file; the tail is warmed from the file on open.
type fileStore struct {
	log logx.Logger

	mu        sync.Mutex
	auditFile *os.File
	recent    []AuditEntry // oldest first, capped at recentCap
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

	auditPath := prefix + ".audit.jsonl"

	recent, err := loadRecentTail(auditPath)
	if err != nil && !os.IsNotExist(err) {
		log.Warn("audit tail load failed", logx.Err(err))
	}

	af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{log: log, auditFile: af, recent: recent}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	if err := json.NewEncoder(s.auditFile).Encode(e); err != nil {
		return err
	}
	s.recent = append(s.recent, e)
	if len(s.recent) > recentCap {
		s.recent = s.recent[len(s.recent)-recentCap:]
	}
	return nil
}

// RecentAudit returns the newest entries first. An empty kind matches all.
func (s *fileStore) RecentAudit(ctx context.Context, kind string, limit int) ([]AuditEntry, error) {
	_ = ctx
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditEntry, 0, limit)
	for i := len(s.recent) - 1; i >= 0 && len(out) < limit; i-- {
		if kind != "" && s.recent[i].Kind != kind {
			continue
		}
		out = append(out, s.recent[i])
	}
	return out, nil
}

func loadRecentTail(path string) ([]AuditEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var tail []AuditEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		tail = append(tail, e)
		if len(tail) > recentCap {
			tail = tail[len(tail)-recentCap:]
		}
	}
	return tail, sc.Err()
}
