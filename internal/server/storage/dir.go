package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/dmitrijs2005/letterflow/internal/common"
	"github.com/dmitrijs2005/letterflow/internal/filex"
)

// DirStore keeps files under a local directory. Its URLs are file:// links.
type DirStore struct {
	root string
}

func NewDirStore(root string) *DirStore {
	return &DirStore{root: root}
}

func (d *DirStore) Put(_ context.Context, key, _ string, body []byte) error {
	dir, err := filex.EnsureDir(d.root, path.Dir(key))
	if err != nil {
		return err
	}
	return filex.WriteFileAtomic(filepath.Join(dir, path.Base(key)), body)
}

func (d *DirStore) URL(_ context.Context, key string) (string, error) {
	dir, err := filex.EnsureDir(d.root, path.Dir(key))
	if err != nil {
		return "", err
	}
	p := filepath.Join(dir, path.Base(key))
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", common.ErrorNotFound, key)
		}
		return "", err
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(p)}).String(), nil
}
