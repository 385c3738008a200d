// Package artifact uploads container log text to object storage,
// the Go equivalent of the original worker's upload_logs, which
// shelled out to google.cloud.storage directly (original_source
// worker.py). Here the concern is wrapped in a small Sink type so
// the executor can be tested against a fake.
package artifact

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/deepdriveio/botworker/pkg/identity"
)

// Sink uploads text blobs to a fixed bucket/prefix and returns their
// public URL.
type Sink struct {
	client *storage.Client
	bucket string
	prefix string
}

// New returns a Sink backed by the default GCS client, authenticated
// by the VM's attached service account.
func New(ctx context.Context, bucket, prefix string) (*Sink, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("artifact: new storage client: %w", err)
	}
	return &Sink{client: client, bucket: bucket, prefix: prefix}, nil
}

// NewDefault returns a Sink using identity's LogBucket/LogPrefix
// constants.
func NewDefault(ctx context.Context) (*Sink, error) {
	return New(ctx, identity.LogBucket, identity.LogPrefix)
}

// Upload writes text to <bucket>/<prefix>/<filename>, overwriting any
// existing blob, and returns its public URL.
func (s *Sink) Upload(ctx context.Context, text, filename string) (string, error) {
	key := s.prefix + "/" + filename

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if _, err := io.WriteString(w, text); err != nil {
		w.Close()
		return "", fmt.Errorf("artifact: write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("artifact: close %s: %w", key, err)
	}

	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, key), nil
}

// LogFilename names a per-container uploaded log, following the
// "<image_name>_job-<job_id>.txt" convention.
func LogFilename(imageName, jobID string) string {
	return fmt.Sprintf("%s_job-%s.txt", sanitizeImageName(imageName), jobID)
}

func sanitizeImageName(image string) string {
	out := make([]rune, 0, len(image))
	for _, r := range image {
		switch r {
		case '/', ':', '@':
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}

func (s *Sink) Close() error {
	return s.client.Close()
}
