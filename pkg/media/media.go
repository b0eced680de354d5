package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
)

// Media is an uploaded recording held in memory between intake and transcription.
type Media struct {
	Name        string
	ContentType string
	Data        []byte
}

func (m Media) IsVideo() bool {
	return strings.HasPrefix(m.ContentType, "video/")
}

// Store owns the raw bytes of every meeting.
type Store interface {
	Put(ctx context.Context, meetingID string, m Media) (string, error)
	PlaybackURL(ctx context.Context, ref string) (string, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	Release(ctx context.Context, ref string) error
}

type minioStore struct {
	client        *minio.Client
	bucket        string
	presignExpiry time.Duration
}

func NewMinIOStore(client *minio.Client, bucket string, presignExpiry time.Duration) Store {
	if presignExpiry <= 0 {
		presignExpiry = time.Hour
	}
	return &minioStore{
		client:        client,
		bucket:        bucket,
		presignExpiry: presignExpiry,
	}
}

func EnsureBucket(ctx context.Context, client *minio.Client, bucket string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	zerolog.Ctx(ctx).Info().Str("bucket", bucket).Msg("creating media bucket")
	return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{})
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ObjectName builds the object key for a meeting's media.
func ObjectName(meetingID, fileName string) string {
	base := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	base = unsafeChars.ReplaceAllString(base, "_")
	if base == "" || base == "." || base == "_" {
		base = "recording"
	}
	return path.Join("meetings", meetingID, base)
}

func (s *minioStore) Put(ctx context.Context, meetingID string, m Media) (string, error) {
	objectName := ObjectName(meetingID, m.Name)
	contentType := m.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	zerolog.Ctx(ctx).Debug().
		Str("meeting_id", meetingID).
		Str("object_name", objectName).
		Int("size_bytes", len(m.Data)).
		Msg("uploading media")

	_, err := s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(m.Data), int64(len(m.Data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put media object %s: %w", objectName, err)
	}
	return objectName, nil
}

func (s *minioStore) PlaybackURL(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("empty media reference")
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, ref, s.presignExpiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign media object %s: %w", ref, err)
	}
	return u.String(), nil
}

func (s *minioStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, ref, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get media object %s: %w", ref, err)
	}
	// GetObject is lazy; Stat surfaces a missing object before the caller starts streaming
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, fmt.Errorf("stat media object %s: %w", ref, err)
	}
	return obj, nil
}

func (s *minioStore) Release(ctx context.Context, ref string) error {
	if ref == "" {
		return nil
	}
	err := s.client.RemoveObject(ctx, s.bucket, ref, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("remove media object %s: %w", ref, err)
	}
	return nil
}
