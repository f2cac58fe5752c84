package persist

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// FileStore keeps one YAML document per collection under a data directory.
// Writes go to a temp file first and are atomically renamed into place.
type FileStore struct {
	dir    string
	logger zerolog.Logger
}

// NewFileStore creates the data directory if needed and returns a store.
func NewFileStore(dir string, logger zerolog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &FileStore{
		dir:    dir,
		logger: logger.With().Str("component", "persist.file").Logger(),
	}, nil
}

func (fs *FileStore) path(collection string) string {
	return filepath.Join(fs.dir, collection+".yaml")
}

// Load reads the collection's YAML document into the given value.
func (fs *FileStore) Load(collection string, into any) error {
	data, err := os.ReadFile(fs.path(collection))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading collection %s: %w", collection, err)
	}
	if err := yaml.Unmarshal(data, into); err != nil {
		return fmt.Errorf("decoding collection %s: %w", collection, err)
	}
	return nil
}

// Save serializes the document and atomically replaces the collection file.
func (fs *FileStore) Save(collection string, doc any) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding collection %s: %w", collection, err)
	}

	tmp, err := os.CreateTemp(fs.dir, collection+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", collection, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing collection %s: %w", collection, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing collection %s: %w", collection, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file for %s: %w", collection, err)
	}

	if err := os.Rename(tmpName, fs.path(collection)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing collection %s: %w", collection, err)
	}

	fs.logger.Debug().
		Str("collection", collection).
		Int("bytes", len(data)).
		Msg("collection saved")
	return nil
}

// Ping verifies the data directory is accessible.
func (fs *FileStore) Ping() error {
	_, err := os.Stat(fs.dir)
	return err
}

// Close is a no-op for the file store.
func (fs *FileStore) Close() error { return nil }
