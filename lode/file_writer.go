package lode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/justapithecus/lode/lode"
)

// MetadataFile is the sidecar holding the stream's encoded metadata, so
// stored raw records can be decoded without the live session.
const MetadataFile = "metadata.dbn"

// ErrInvalidFilename is returned for sidecar names that would escape the run directory.
var ErrInvalidFilename = errors.New("invalid sidecar filename")

// FileWriter writes sidecar files to the Lode store.
// Files land at Hive-partitioned paths under files/, bypassing Dataset
// segment/manifest machinery entirely.
type FileWriter interface {
	// PutFile writes a file to the run's files/ prefix.
	// The filename must not contain path separators or "..".
	PutFile(ctx context.Context, filename string, data []byte) error
}

var _ FileWriter = (*LodeClient)(nil)

// PutFile writes a sidecar file at the computed Hive path.
// The store is created lazily from the client's factory.
func (c *LodeClient) PutFile(ctx context.Context, filename string, data []byte) error {
	if filename == "" || strings.ContainsAny(filename, `/\`) || strings.Contains(filename, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}

	store, err := c.getOrCreateStore()
	if err != nil {
		return WrapInitError(err, c.config.Dataset)
	}

	path := c.FilePath(filename)
	if err := store.Put(ctx, path, bytes.NewReader(data)); err != nil {
		return WrapWriteError(err, path)
	}
	return nil
}

func (c *LodeClient) getOrCreateStore() (lode.Store, error) {
	c.storeOnce.Do(func() {
		c.store, c.storeErr = c.storeFactory()
	})
	return c.store, c.storeErr
}

// FilePath computes the Hive-partitioned path for a sidecar file:
// datasets/<dataset>/partitions/source=<s>/schema=<s>/day=<d>/run_id=<r>/files/<filename>
func (c *LodeClient) FilePath(filename string) string {
	return fmt.Sprintf("datasets/%s/partitions/source=%s/schema=%s/day=%s/run_id=%s/files/%s",
		c.config.Dataset,
		c.config.Source,
		c.config.Schema,
		c.config.Day,
		c.config.RunID,
		filename,
	)
}
