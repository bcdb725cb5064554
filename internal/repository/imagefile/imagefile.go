package imagefile

import (
	"bytes"
	"crypto"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/avb-guard/internal/config"
	"github.com/oshokin/avb-guard/internal/domain/partition"
)

// Extension is the suffix of partition image files.
const Extension = ".img"

// Write atomically replaces path with data.
func Write(path string, data []byte) error {
	path = filepath.Clean(path)

	if err := os.MkdirAll(filepath.Dir(path), config.DefaultDirPermissions); err != nil {
		return fmt.Errorf("create image directory: %w", err)
	}

	// go-update swaps an existing target, so make sure there is one.
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, config.DefaultFilePermissions)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}

		_ = f.Close()
	}

	checksum := sha256.Sum256(data)

	options := goupdate.Options{
		TargetPath: path,
		TargetMode: config.DefaultFilePermissions,
		Checksum:   checksum[:],
		Hash:       crypto.SHA256,
	}

	if err := goupdate.Apply(bytes.NewReader(data), options); err != nil {
		if rerr := goupdate.RollbackError(err); rerr != nil {
			return fmt.Errorf("write %s: %w (rollback failed: %v)", path, err, rerr)
		}

		return fmt.Errorf("write %s: %w", path, err)
	}

	return nil
}

// Read returns the content of an image file.
func Read(path string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}

	return data, nil
}

// WriteSet writes every image to dir as <partition>_<slot>.img.
func WriteSet(dir string, images map[partition.ID][]byte) error {
	for _, id := range partition.AllIDs() {
		data, ok := images[id]
		if !ok {
			continue
		}

		if err := Write(filepath.Join(dir, id.Filename()), data); err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
	}

	return nil
}

// ReadSet loads every recognised image file in dir. Unrelated files are ignored.
func ReadSet(dir string) (map[partition.ID][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read image directory: %w", err)
	}

	images := make(map[partition.ID][]byte)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), Extension) {
			continue
		}

		id, err := partition.ParseID(entry.Name())
		if err != nil {
			continue
		}

		data, err := Read(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", id, err)
		}

		images[id] = data
	}

	return images, nil
}
