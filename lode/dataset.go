package lode

import (
	"context"
	"fmt"

	"github.com/justapithecus/lode/lode"
)

// Storage backends.
const (
	BackendFS = "fs"
	BackendS3 = "s3"
)

// Location is where a capture dataset lives.
type Location struct {
	// Backend is BackendFS or BackendS3.
	Backend string
	// Path is a root directory for fs, or bucket[/prefix] for s3.
	Path string
	// S3 carries the endpoint overrides; Bucket and Prefix are taken
	// from Path.
	S3 S3Config
}

// Validate rejects unknown backends, a missing path and bad bucket names.
func (l Location) Validate() error {
	if l.Path == "" {
		return fmt.Errorf("storage path is required")
	}
	switch l.Backend {
	case BackendFS:
		return nil
	case BackendS3:
		s3cfg := l.s3Config()
		return s3cfg.Validate()
	}
	return fmt.Errorf("unknown storage backend %q (must be %s or %s)", l.Backend, BackendFS, BackendS3)
}

func (l Location) s3Config() S3Config {
	cfg := l.S3
	cfg.Bucket, cfg.Prefix = ParseS3Path(l.Path)
	return cfg
}

func (l Location) factory(ctx context.Context) (lode.StoreFactory, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	if l.Backend == BackendS3 {
		return newS3Factory(ctx, l.s3Config())
	}
	return lode.NewFSFactory(l.Path), nil
}

// OpenClient opens a capture client at loc.
func OpenClient(ctx context.Context, cfg Config, loc Location) (*LodeClient, error) {
	factory, err := loc.factory(ctx)
	if err != nil {
		return nil, WrapInitError(err, cfg.Dataset)
	}
	return NewLodeClientWithFactory(cfg, factory)
}

// OpenDataset opens dataset id at loc for reading.
func OpenDataset(ctx context.Context, id string, loc Location) (lode.Dataset, error) {
	factory, err := loc.factory(ctx)
	if err != nil {
		return nil, WrapInitError(err, id)
	}
	return NewReadDataset(id, factory)
}

// NewReadDataset opens dataset id over factory with the layout and codec
// the capture path writes.
func NewReadDataset(id string, factory lode.StoreFactory) (lode.Dataset, error) {
	ds, err := newDataset(id, factory)
	if err != nil {
		return nil, WrapInitError(err, id)
	}
	return ds, nil
}
