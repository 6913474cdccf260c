// Package snapshot keeps point-in-time backups of concept workspaces, either in
// a local diskv directory or in an S3-compatible bucket.
package snapshot

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("snapshot not found")

const idLayout = "20060102T150405.000000000"

var idPattern = regexp.MustCompile(`^\d{8}T\d{6}\.\d{9}_[0-9a-f]{8}$`)

// Snapshot is the stored envelope. Workspace is kept exactly as written so a
// restore can validate it strictly.
type Snapshot struct {
	ID        string          `json:"id"`
	ConceptID string          `json:"conceptId"`
	CreatedAt time.Time       `json:"createdAt"`
	Workspace json.RawMessage `json:"workspace"`
}

type Info struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is implemented by DiskStore and MinioStore. List returns the newest
// snapshot first.
type Store interface {
	Put(ctx context.Context, snap Snapshot) error
	Get(ctx context.Context, conceptID, snapshotID string) (Snapshot, error)
	List(ctx context.Context, conceptID string) ([]Info, error)
	DeleteConcept(ctx context.Context, conceptID string) error
}

// New builds a snapshot for conceptID taken at now. Ids sort chronologically.
func New(conceptID string, workspace json.RawMessage, now time.Time) Snapshot {
	now = now.UTC()
	return Snapshot{
		ID:        now.Format(idLayout) + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		ConceptID: conceptID,
		CreatedAt: now,
		Workspace: workspace,
	}
}

// ValidID reports whether id could have been produced by New. It keeps
// caller-supplied ids from escaping the store's key space.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

func infoFromID(id string) (Info, bool) {
	if !ValidID(id) {
		return Info{}, false
	}
	created, err := time.Parse(idLayout, id[:len(idLayout)])
	if err != nil {
		return Info{}, false
	}
	return Info{ID: id, CreatedAt: created.UTC()}, true
}

// conceptDir turns an arbitrary concept id into a single safe path segment.
func conceptDir(conceptID string) string {
	return hex.EncodeToString([]byte(conceptID))
}

func encode(snap Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

func decode(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func newestFirst(infos []Info) {
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID > infos[j].ID })
}
