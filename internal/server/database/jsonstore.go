package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"sync"

	"github.com/spf13/afero"
)

const documentVersion = 1

// document is the persisted layout: codes and users, written whole.
type document struct {
	Version int                   `json:"version,omitempty"`
	Codes   map[string]*Entry     `json:"codes"`
	Users   map[string]*UserStats `json:"users"`
}

func emptyDocument() *document {
	return &document{
		Version: documentVersion,
		Codes:   make(map[string]*Entry),
		Users:   make(map[string]*UserStats),
	}
}

// JSONStore is a Registry held fully in memory and written through to a
// single JSON file after every mutation. One mutex covers reads, writes and
// the flush.
type JSONStore struct {
	fs   afero.Fs
	path string

	mu   sync.Mutex
	data *document
}

// OpenJSONStore loads the document at path. A missing file starts an empty
// store; an unreadable one is moved aside to <path>.corrupt.bak first.
func OpenJSONStore(fs afero.Fs, path string) (*JSONStore, error) {
	s := &JSONStore{fs: fs, path: path, data: emptyDocument()}

	raw, err := afero.ReadFile(fs, path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Info("registry file not found, starting empty", "path", path)
	case err != nil:
		return nil, fmt.Errorf("failed to read registry %s: %w", path, err)
	default:
		doc := emptyDocument()
		if err := json.Unmarshal(raw, doc); err != nil {
			s.quarantine(err)
		} else {
			if doc.Codes == nil {
				doc.Codes = make(map[string]*Entry)
			}
			if doc.Users == nil {
				doc.Users = make(map[string]*UserStats)
			}
			dropNullRecords(doc)
			doc.Version = documentVersion
			s.data = doc
			slog.Info("registry loaded",
				"path", path,
				"entries", len(doc.Codes),
				"users", len(doc.Users),
			)
			return s, nil
		}
	}

	if err := s.save(); err != nil {
		return nil, fmt.Errorf("failed to initialize registry %s: %w", path, err)
	}
	return s, nil
}

// dropNullRecords removes codes and users stored as null. They parse but
// carry no record.
func dropNullRecords(doc *document) {
	for code, e := range doc.Codes {
		if e == nil {
			slog.Warn("dropping null registry entry", "code", code)
			delete(doc.Codes, code)
		}
	}
	for key, u := range doc.Users {
		if u == nil {
			slog.Warn("dropping null user stats", "user_id", key)
			delete(doc.Users, key)
		}
	}
}

func (s *JSONStore) quarantine(cause error) {
	backup := s.path + ".corrupt.bak"
	if err := s.fs.Rename(s.path, backup); err != nil {
		slog.Error("failed to quarantine corrupt registry", "path", s.path, "error", err)
		return
	}
	slog.Warn("registry file corrupt, quarantined and starting empty",
		"path", s.path,
		"backup", backup,
		"error", cause,
	)
}

// save writes the whole document to a temp file and renames it into place.
// Callers hold s.mu.
func (s *JSONStore) save() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, raw, 0o644); err != nil {
		return err
	}
	return s.fs.Rename(tmp, s.path)
}

// commit flushes, undoing the in-memory mutation if the flush fails.
func (s *JSONStore) commit(undo func()) error {
	if err := s.save(); err != nil {
		undo()
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}

func (s *JSONStore) Has(_ context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data.Codes[code]
	return ok, nil
}

func (s *JSONStore) Get(_ context.Context, code string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data.Codes[code]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return e.Clone(), nil
}

func (s *JSONStore) Put(_ context.Context, code string, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.data.Codes[code]
	s.data.Codes[code] = entry.Clone()
	return s.commit(func() {
		if existed {
			s.data.Codes[code] = prev
		} else {
			delete(s.data.Codes, code)
		}
	})
}

func (s *JSONStore) Insert(_ context.Context, code string, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Codes[code]; ok {
		return ErrCodeTaken
	}
	s.data.Codes[code] = entry.Clone()
	return s.commit(func() { delete(s.data.Codes, code) })
}

func (s *JSONStore) Update(_ context.Context, code string, patch EntryPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.data.Codes[code]
	if !ok {
		return nil
	}
	next := cur.Clone()
	patch.Apply(next)
	s.data.Codes[code] = next
	return s.commit(func() { s.data.Codes[code] = cur })
}

func (s *JSONStore) Delete(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.data.Codes[code]
	if !ok {
		return nil
	}
	delete(s.data.Codes, code)
	return s.commit(func() { s.data.Codes[code] = cur })
}

func (s *JSONStore) Rename(_ context.Context, oldCode, newCode string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.data.Codes[oldCode]
	if !ok {
		return false, nil
	}
	if _, taken := s.data.Codes[newCode]; taken {
		return false, nil
	}
	delete(s.data.Codes, oldCode)
	s.data.Codes[newCode] = cur
	if err := s.commit(func() {
		delete(s.data.Codes, newCode)
		s.data.Codes[oldCode] = cur
	}); err != nil {
		return false, err
	}
	return true, nil
}

func (s *JSONStore) Codes(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	codes := make([]string, 0, len(s.data.Codes))
	for code := range s.data.Codes {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}

// scan collects clones of every entry accepted by keep. Callers hold s.mu.
func (s *JSONStore) scan(keep func(code string, e *Entry) bool) []Item {
	var items []Item
	for code, e := range s.data.Codes {
		if keep(code, e) {
			items = append(items, Item{Code: code, Entry: e.Clone()})
		}
	}
	return items
}

func (s *JSONStore) ListByCategory(_ context.Context, category Category, limit int) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.scan(func(_ string, e *Entry) bool { return e.Category == category })
	return newestFirst(items, limit), nil
}

func (s *JSONStore) ListByUploader(_ context.Context, userID int64, limit int) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.scan(func(_ string, e *Entry) bool { return e.UploaderID == userID })
	return newestFirst(items, limit), nil
}

func (s *JSONStore) Search(_ context.Context, keyword string, limit int) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.scan(func(code string, e *Entry) bool { return matchesKeyword(code, e, keyword) })
	return newestFirst(items, limit), nil
}

func (s *JSONStore) increment(userID int64, bump func(*UserStats)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strconv.FormatInt(userID, 10)
	cur, existed := s.data.Users[key]
	next := &UserStats{}
	if existed {
		*next = *cur
	}
	bump(next)
	s.data.Users[key] = next
	return s.commit(func() {
		if existed {
			s.data.Users[key] = cur
		} else {
			delete(s.data.Users, key)
		}
	})
}

func (s *JSONStore) IncrementUpload(_ context.Context, userID int64) error {
	return s.increment(userID, func(u *UserStats) { u.UploadCount++ })
}

func (s *JSONStore) IncrementRetrieved(_ context.Context, userID int64) error {
	return s.increment(userID, func(u *UserStats) { u.RetrievedCount++ })
}

func (s *JSONStore) UserStats(_ context.Context, userID int64) (*UserStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.data.Users[strconv.FormatInt(userID, 10)]
	if !ok {
		return nil, ErrUserNotFound
	}
	stats := *u
	return &stats, nil
}

func (s *JSONStore) DeleteUserStats(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strconv.FormatInt(userID, 10)
	cur, ok := s.data.Users[key]
	if !ok {
		return nil
	}
	delete(s.data.Users, key)
	return s.commit(func() { s.data.Users[key] = cur })
}

func (s *JSONStore) UserIDs(_ context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.data.Users))
	for key := range s.data.Users {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			slog.Warn("skipping malformed user id in registry", "user_id", key)
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *JSONStore) Counts(_ context.Context) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.Codes), len(s.data.Users), nil
}

// Close is a no-op; every mutation is already on disk.
func (s *JSONStore) Close() error {
	return nil
}
