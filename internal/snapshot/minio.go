package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioStore keeps snapshots as snapshots/<hex concept id>/<snapshot id>.json
// objects in one bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects and creates the bucket when it is missing.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

func conceptPrefix(conceptID string) string {
	return path.Join("snapshots", conceptDir(conceptID)) + "/"
}

func objectKey(conceptID, snapshotID string) string {
	return conceptPrefix(conceptID) + snapshotID + ".json"
}

func (s *MinioStore) Put(ctx context.Context, snap Snapshot) error {
	if !ValidID(snap.ID) {
		return fmt.Errorf("invalid snapshot id %q", snap.ID)
	}
	data, err := encode(snap)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, s.bucket, objectKey(snap.ConceptID, snap.ID), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}

func (s *MinioStore) Get(ctx context.Context, conceptID, snapshotID string) (Snapshot, error) {
	if !ValidID(snapshotID) {
		return Snapshot{}, ErrNotFound
	}
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey(conceptID, snapshotID), minio.GetObjectOptions{})
	if err != nil {
		return Snapshot{}, fmt.Errorf("get snapshot: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	return decode(data)
}

func (s *MinioStore) List(ctx context.Context, conceptID string) ([]Info, error) {
	prefix := conceptPrefix(conceptID)
	infos := make([]Info, 0)
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list snapshots: %w", obj.Err)
		}
		id := strings.TrimSuffix(strings.TrimPrefix(obj.Key, prefix), ".json")
		if info, ok := infoFromID(id); ok {
			infos = append(infos, info)
		}
	}
	newestFirst(infos)
	return infos, nil
}

func (s *MinioStore) DeleteConcept(ctx context.Context, conceptID string) error {
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: conceptPrefix(conceptID), Recursive: true}) {
		if obj.Err != nil {
			return fmt.Errorf("list snapshots: %w", obj.Err)
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove snapshot %s: %w", obj.Key, err)
		}
	}
	return nil
}
