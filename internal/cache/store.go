package cache

import (
	"context"
	"errors"
	"fmt"
)

// Store 负责管理图片磁盘缓存的读写。磁盘布局为单层目录：
//
//	<CacheDir>/<DeriveKey(key)>    # 原始字节，不附加扩展名
//
// 条目除文件名与正文外没有任何元数据，也不会过期或被淘汰。
type Store interface {
	// Put 写入（或覆盖）key 对应的条目。实现需通过临时文件 + rename 保证
	// 读方永远看不到半写入的内容。失败时返回匹配 ErrWriteFailed 的错误。
	Put(ctx context.Context, key string, data []byte) (*Entry, error)

	// Get 返回条目的完整字节；不存在时返回匹配 ErrEntryNotFound 的错误，
	// 存在但读取失败时返回匹配 ErrReadFailed 的错误。
	// 字节是否能解码为图片由调用方负责校验。
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete 删除条目；不存在时返回 ErrEntryNotFound，删除失败返回 ErrDeleteFailed。
	Delete(ctx context.Context, key string) error

	// Dir 返回缓存所在的绝对目录。
	Dir() string
}

// Entry 描述一次成功写入的缓存条目。
type Entry struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	FilePath  string `json:"file_path"`
	SizeBytes int64  `json:"size_bytes"`
}

var (
	// ErrEntryNotFound 表示缓存中不存在对应条目，属于预期内的 miss。
	ErrEntryNotFound = errors.New("cache entry not found")
	// ErrWriteFailed 表示底层存储无法完成写入（磁盘满、权限不足等）。
	ErrWriteFailed = errors.New("cache write failed")
	// ErrDeleteFailed 表示条目存在但无法删除。
	ErrDeleteFailed = errors.New("cache delete failed")
	// ErrReadFailed 表示条目存在但无法读取（权限不足、I/O 错误等）。
	ErrReadFailed = errors.New("cache read failed")
)

// OpError 记录失败的操作、原始 key 及派生出的文件名。
// errors.Is 同时匹配 Kind 与底层 Err（例如 fs.ErrPermission）。
type OpError struct {
	Op   string
	Key  string
	Name string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("cache %s %q: %v", e.Op, e.Name, e.Kind)
	}
	return fmt.Sprintf("cache %s %q: %v: %v", e.Op, e.Name, e.Kind, e.Err)
}

func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func opError(op, key, name string, kind, err error) error {
	return &OpError{Op: op, Key: key, Name: name, Kind: kind, Err: err}
}
