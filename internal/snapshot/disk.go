package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/peterbourgon/diskv/v3"
)

// DiskStore keeps snapshots under <base>/<hex concept id>/<snapshot id>. Keys
// are "<hex concept id>-<snapshot id>", split on the dash by the transforms.
type DiskStore struct {
	d *diskv.Diskv
}

func NewDiskStore(basePath string) *DiskStore {
	return &DiskStore{d: diskv.New(diskv.Options{
		BasePath:          basePath,
		AdvancedTransform: keyToPathTransform,
		InverseTransform:  pathToKeyTransform,
		CacheSizeMax:      1024 * 1024,
	})}
}

func keyToPathTransform(key string) *diskv.PathKey {
	parts := strings.Split(key, "-")
	return &diskv.PathKey{
		Path:     parts[:len(parts)-1],
		FileName: parts[len(parts)-1],
	}
}

func pathToKeyTransform(pathKey *diskv.PathKey) string {
	return fmt.Sprintf("%s-%s", strings.Join(pathKey.Path, "-"), pathKey.FileName)
}

func diskKey(conceptID, snapshotID string) string {
	return conceptDir(conceptID) + "-" + snapshotID
}

func (s *DiskStore) Put(_ context.Context, snap Snapshot) error {
	if !ValidID(snap.ID) {
		return fmt.Errorf("invalid snapshot id %q", snap.ID)
	}
	data, err := encode(snap)
	if err != nil {
		return err
	}
	if err := s.d.Write(diskKey(snap.ConceptID, snap.ID), data); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

func (s *DiskStore) Get(_ context.Context, conceptID, snapshotID string) (Snapshot, error) {
	if !ValidID(snapshotID) {
		return Snapshot{}, ErrNotFound
	}
	data, err := s.d.Read(diskKey(conceptID, snapshotID))
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	return decode(data)
}

func (s *DiskStore) List(ctx context.Context, conceptID string) ([]Info, error) {
	prefix := conceptDir(conceptID) + "-"
	infos := make([]Info, 0)
	for key := range s.d.KeysPrefix(prefix, ctx.Done()) {
		if info, ok := infoFromID(strings.TrimPrefix(key, prefix)); ok {
			infos = append(infos, info)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	newestFirst(infos)
	return infos, nil
}

func (s *DiskStore) DeleteConcept(ctx context.Context, conceptID string) error {
	prefix := conceptDir(conceptID) + "-"
	var keys []string
	for key := range s.d.KeysPrefix(prefix, ctx.Done()) {
		keys = append(keys, key)
	}
	for _, key := range keys {
		if err := s.d.Erase(key); err != nil {
			return fmt.Errorf("erase snapshot %s: %w", key, err)
		}
	}
	return nil
}
