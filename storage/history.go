package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrRecordNotFound is returned by Load and Delete for unknown ids.
var ErrRecordNotFound = errors.New("session record not found")

// HistoryTurn is one displayed turn of a saved session.
type HistoryTurn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Failed    bool      `json:"failed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Record is a finished or in-progress session as written to disk.
type Record struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Model     string        `json:"model"`
	Dataset   string        `json:"dataset"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Turns     []HistoryTurn `json:"turns"`
}

// RecordMeta is a Record without its turns, for listing.
type RecordMeta struct {
	ID        string
	Name      string
	Model     string
	Dataset   string
	CreatedAt time.Time
	UpdatedAt time.Time
	TurnCount int
	Failures  int
}

// HistoryStore keeps one JSON file per session in a directory.
type HistoryStore struct {
	dir string
}

func NewHistoryStore(dir string) (*HistoryStore, error) {
	// 0700: transcripts contain query results
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	return &HistoryStore{dir: dir}, nil
}

func (h *HistoryStore) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\.`) {
		return "", fmt.Errorf("invalid session id %q", id)
	}
	return filepath.Join(h.dir, id+".json"), nil
}

// Save writes rec, assigning an id and timestamps when missing.
func (h *HistoryStore) Save(rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.UpdatedAt = time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}

	path, err := h.path(rec.ID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	// write then rename so a crash never leaves a truncated record
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

func (h *HistoryStore) Load(id string) (*Record, error) {
	path, err := h.path(id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &rec, nil
}

// List returns metadata for all saved sessions, newest first. Unreadable
// files are skipped.
func (h *HistoryStore) List() ([]RecordMeta, error) {
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}

	var metas []RecordMeta
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		rec, err := h.Load(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		meta := RecordMeta{
			ID:        rec.ID,
			Name:      rec.Name,
			Model:     rec.Model,
			Dataset:   rec.Dataset,
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
			TurnCount: len(rec.Turns),
		}
		for _, turn := range rec.Turns {
			if turn.Failed {
				meta.Failures++
			}
		}
		metas = append(metas, meta)
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas, nil
}

func (h *HistoryStore) Delete(id string) error {
	path, err := h.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
		}
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	return nil
}

// SessionName derives a display name from the first question.
func SessionName(firstQuestion string) string {
	name := strings.Join(strings.Fields(firstQuestion), " ")
	if name == "" {
		return fmt.Sprintf("Session %s", time.Now().Format("Jan 2, 3:04 PM"))
	}
	if r := []rune(name); len(r) > 40 {
		name = string(r[:40]) + "..."
	}
	return name
}
