package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

var errUnsafeName = errors.New("unsafe cache entry name")

// NewStore 以 dir 为缓存目录构建磁盘缓存。目录在首次 Put 时才会创建，
// 调用方应显式持有并注入该实例，不存在全局单例。
func NewStore(dir string) (Store, error) {
	if dir == "" {
		return nil, errors.New("cache dir required")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}

	return &fileStore{
		dir:   abs,
		locks: make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 串行化同一文件名上的读写删，不同文件名互不阻塞。
type fileStore struct {
	dir string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Dir() string {
	return s.dir
}

// Put/Get/Delete 仅在开始前检查 ctx，取消时三者都原样返回 ctx.Err()。
func (s *fileStore) Put(ctx context.Context, key string, data []byte) (*Entry, error) {
	name := DeriveKey(key)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filePath, err := s.entryPath(name)
	if err != nil {
		return nil, opError("put", key, name, ErrWriteFailed, err)
	}

	unlock := s.lockEntry(name)
	defer unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, opError("put", key, name, ErrWriteFailed, err)
	}

	tempFile, err := os.CreateTemp(s.dir, ".cache-*")
	if err != nil {
		return nil, opError("put", key, name, ErrWriteFailed, err)
	}
	tempName := tempFile.Name()

	written, err := tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return nil, opError("put", key, name, ErrWriteFailed, err)
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return nil, opError("put", key, name, ErrWriteFailed, err)
	}

	return &Entry{
		Key:       key,
		Name:      name,
		FilePath:  filePath,
		SizeBytes: int64(written),
	}, nil
}

func (s *fileStore) Get(ctx context.Context, key string) ([]byte, error) {
	name := DeriveKey(key)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filePath, err := s.entryPath(name)
	if err != nil {
		return nil, opError("get", key, name, ErrEntryNotFound, err)
	}

	unlock := s.lockEntry(name)
	defer unlock()

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, opError("get", key, name, ErrEntryNotFound, nil)
		}
		return nil, opError("get", key, name, ErrReadFailed, err)
	}
	if !info.Mode().IsRegular() {
		return nil, opError("get", key, name, ErrEntryNotFound, nil)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, opError("get", key, name, ErrEntryNotFound, nil)
		}
		return nil, opError("get", key, name, ErrReadFailed, err)
	}
	return data, nil
}

func (s *fileStore) Delete(ctx context.Context, key string) error {
	name := DeriveKey(key)
	if err := ctx.Err(); err != nil {
		return err
	}

	filePath, err := s.entryPath(name)
	if err != nil {
		return opError("delete", key, name, ErrEntryNotFound, err)
	}

	unlock := s.lockEntry(name)
	defer unlock()

	info, err := os.Lstat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return opError("delete", key, name, ErrEntryNotFound, nil)
		}
		return opError("delete", key, name, ErrDeleteFailed, err)
	}
	if info.IsDir() {
		return opError("delete", key, name, ErrEntryNotFound, nil)
	}

	if err := os.Remove(filePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return opError("delete", key, name, ErrEntryNotFound, nil)
		}
		return opError("delete", key, name, ErrDeleteFailed, err)
	}
	return nil
}

func (s *fileStore) lockEntry(name string) func() {
	s.mu.Lock()
	lock := s.locks[name]
	if lock == nil {
		lock = &entryLock{}
		s.locks[name] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, name)
		}
		s.mu.Unlock()
	}
}

// entryPath 只接受单层文件名，DeriveKey 已去除分隔符，这里再拦截空名与 `.`/`..`。
func (s *fileStore) entryPath(name string) (string, error) {
	if name == "" || name == "." || name == ".." {
		return "", errUnsafeName
	}
	filePath := filepath.Join(s.dir, name)
	if filepath.Dir(filePath) != s.dir {
		return "", errUnsafeName
	}
	return filePath, nil
}
