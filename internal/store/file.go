package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dragon-bot/dragon/pkg/api"
)

// FileStore writes each document to <root>/<tenant>/<module>.json.
type FileStore struct {
	root string
}

// NewFileStore creates root if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrStorage, root, err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) path(tenant api.Snowflake, module string) string {
	return filepath.Join(s.root, tenant.String(), module+".json")
}

func (s *FileStore) Load(ctx context.Context, tenant api.Snowflake, module string, v any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b, err := os.ReadFile(s.path(tenant, module))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, wrap("read", tenant, module, err)
	}
	return true, decode(tenant, module, b, v)
}

// Save writes to a temp file and renames it over the document, so readers
// never see a partial write.
func (s *FileStore) Save(ctx context.Context, tenant api.Snowflake, module string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := encode(tenant, module, v)
	if err != nil {
		return err
	}
	dst := s.path(tenant, module)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return wrap("mkdir", tenant, module, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+module+"-*.tmp")
	if err != nil {
		return wrap("create", tenant, module, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return wrap("write", tenant, module, err)
	}
	if err := tmp.Close(); err != nil {
		return wrap("close", tenant, module, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return wrap("rename", tenant, module, err)
	}
	return nil
}

func (s *FileStore) Ping(context.Context) error {
	if _, err := os.Stat(s.root); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
