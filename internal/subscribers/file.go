package subscribers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

type subscribersFile struct {
	Version     int              `json:"version"`
	UpdatedAt   time.Time        `json:"updated_at"`
	Subscribers map[int64]string `json:"subscribers"`
}

// FileStore keeps subscribers in memory and writes every change to a JSON file.
type FileStore struct {
	path string
	mu   sync.RWMutex
	subs map[int64]string
}

var _ Registry = (*FileStore)(nil)

// OpenFileStore loads path if it exists. An empty path keeps everything in memory.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, subs: make(map[int64]string)}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, errors.Wrapf(err, "read %s", path)
	}

	var state subscribersFile
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	if state.Subscribers != nil {
		s.subs = state.Subscribers
	}
	return s, nil
}

func (s *FileStore) List(_ context.Context) ([]Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Subscriber, 0, len(s.subs))
	for id, addr := range s.subs {
		out = append(out, Subscriber{ChatID: id, Address: addr})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out, nil
}

func (s *FileStore) Get(_ context.Context, chatID int64) (Subscriber, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	addr, ok := s.subs[chatID]
	return Subscriber{ChatID: chatID, Address: addr}, ok, nil
}

func (s *FileStore) Set(_ context.Context, chatID int64, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.subs[chatID]
	s.subs[chatID] = address
	if err := s.save(); err != nil {
		if existed {
			s.subs[chatID] = prev
		} else {
			delete(s.subs, chatID)
		}
		return err
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.subs[chatID]
	if !existed {
		return nil
	}
	delete(s.subs, chatID)
	if err := s.save(); err != nil {
		s.subs[chatID] = prev
		return err
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

// save must be called with mu held.
func (s *FileStore) save() error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	state := subscribersFile{
		Version:     1,
		UpdatedAt:   time.Now().UTC(),
		Subscribers: s.subs,
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	tempPath := fmt.Sprintf("%s.tmp", s.path)
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tempPath, s.path)
}
