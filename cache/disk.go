package cache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ruteri/vault-session-broker/interfaces"
)

const recordSuffix = ".rec"

// DiskBackend stores cache records on the local file system.
// Each bank maps to a directory below the base directory and each record to
// a file in it, so nested banks are nested directories.
type DiskBackend struct {
	baseDir string
	log     *slog.Logger
}

// NewDiskBackend creates a disk backend rooted at baseDir, creating the
// directory if it does not exist.
func NewDiskBackend(baseDir string, log *slog.Logger) (*DiskBackend, error) {
	// Records hold credentials, keep them private to the owner
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	absDir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache directory: %w", err)
	}

	return &DiskBackend{baseDir: absDir, log: log}, nil
}

// Fetch reads the record at bank/key. Returns ErrCacheMiss if the file doesn't exist.
func (b *DiskBackend) Fetch(ctx context.Context, bank interfaces.CacheBank, key string) ([]byte, error) {
	filePath, err := b.recordPath(bank, key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if os.IsNotExist(err) {
		return nil, interfaces.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	b.log.Debug("Fetched record from disk",
		slog.String("path", filePath),
		slog.Int("size", len(data)))

	return data, nil
}

// Store writes the record at bank/key. The file is written next to its
// target and renamed into place, so readers never observe partial records.
func (b *DiskBackend) Store(ctx context.Context, bank interfaces.CacheBank, key string, data []byte) error {
	filePath, err := b.recordPath(bank, key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(filePath), "."+key+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return fmt.Errorf("failed to move file into place: %w", err)
	}

	b.log.Debug("Stored record on disk",
		slog.String("path", filePath),
		slog.Int("size", len(data)))

	return nil
}

// Flush removes the record at bank/key, or the bank directory tree when key is empty.
func (b *DiskBackend) Flush(ctx context.Context, bank interfaces.CacheBank, key string) error {
	if key == "" {
		dir, err := b.bankDir(bank)
		if err != nil {
			return err
		}
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to remove bank directory: %w", err)
		}
		return nil
	}

	filePath, err := b.recordPath(bank, key)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove file: %w", err)
	}
	return nil
}

// Name returns a unique identifier for this backend.
func (b *DiskBackend) Name() string {
	return fmt.Sprintf("disk-%s", filepath.Base(b.baseDir))
}

func (b *DiskBackend) bankDir(bank interfaces.CacheBank) (string, error) {
	dir := filepath.Join(b.baseDir, filepath.FromSlash(bank.String()))
	if !strings.HasPrefix(dir, b.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("cache bank %q escapes the cache directory", bank.String())
	}
	return dir, nil
}

func (b *DiskBackend) recordPath(bank interfaces.CacheBank, key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("invalid cache key %q", key)
	}
	dir, err := b.bankDir(bank)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, key+recordSuffix), nil
}
