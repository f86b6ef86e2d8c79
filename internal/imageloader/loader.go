package imageloader

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/singleflight"

	"github.com/recipe-hub/recipe-hub/internal/cache"
	"github.com/recipe-hub/recipe-hub/internal/logging"
)

// ErrInvalidPayload 表示字节无法解码为期望的领域对象（例如不是合法图片）。
var ErrInvalidPayload = errors.New("invalid payload")

// Fetcher 按标识（通常是 URL）从网络获取原始字节。
type Fetcher interface {
	Fetch(ctx context.Context, identifier string) ([]byte, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, identifier string) ([]byte, error)

// Fetch makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, identifier string) ([]byte, error) {
	return f(ctx, identifier)
}

// Decoder 将字节解码为 T；失败时返回的错误应匹配 ErrInvalidPayload。
type Decoder[T any] interface {
	Decode(data []byte) (T, error)
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc[T any] func(data []byte) (T, error)

// Decode makes DecoderFunc satisfy Decoder.
func (f DecoderFunc[T]) Decode(data []byte) (T, error) {
	return f(data)
}

// Result 携带解码结果、原始字节以及是否命中缓存。
type Result[T any] struct {
	Value    T
	Data     []byte
	CacheHit bool
}

// Options 控制 Loader 的可选行为。
type Options struct {
	// PrefetchConcurrency 限制 Prefetch 同时进行的加载数，<=0 时取 4。
	PrefetchConcurrency int
}

// Loader 负责 orchestrate “缓存命中 → 回源 → 解码校验 → 写回缓存” 的全流程。
// 同一派生键上的并发 Load 通过 singleflight 合并为一次。
type Loader[T any] struct {
	store       cache.Store
	fetcher     Fetcher
	decoder     Decoder[T]
	logger      *logrus.Logger
	concurrency int
	group       singleflight.Group
}

// New 构造 Loader，所有依赖都由调用方显式注入。
func New[T any](store cache.Store, fetcher Fetcher, decoder Decoder[T], logger *logrus.Logger, opts Options) (*Loader[T], error) {
	if store == nil {
		return nil, errors.New("cache store is required")
	}
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if decoder == nil {
		return nil, errors.New("decoder is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	concurrency := opts.PrefetchConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Loader[T]{
		store:       store,
		fetcher:     fetcher,
		decoder:     decoder,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

// Load 先查缓存，未命中（或缓存内容损坏、读取失败）时回源；回源字节解码失败
// 返回 ErrInvalidPayload 且不写缓存；写缓存失败只记录日志，不影响返回值。
func (l *Loader[T]) Load(ctx context.Context, identifier string) (Result[T], error) {
	if err := ctx.Err(); err != nil {
		return Result[T]{}, err
	}

	// 合并后的加载不随任一调用方取消，每个调用方只在自己的 ctx 上等待。
	key := cache.DeriveKey(identifier)
	ch := l.group.DoChan(key, func() (interface{}, error) {
		return l.load(context.WithoutCancel(ctx), identifier)
	})
	select {
	case <-ctx.Done():
		return Result[T]{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Result[T]{}, res.Err
		}
		return res.Val.(Result[T]), nil
	}
}

func (l *Loader[T]) load(ctx context.Context, identifier string) (Result[T], error) {
	if result, ok := l.loadCached(ctx, identifier); ok {
		return result, nil
	}

	data, err := l.fetcher.Fetch(ctx, identifier)
	if err != nil {
		return Result[T]{}, err
	}

	value, err := l.decoder.Decode(data)
	if err != nil {
		return Result[T]{}, invalidPayload(err)
	}

	if _, err := l.store.Put(ctx, identifier, data); err != nil {
		l.logger.WithError(err).
			WithFields(logging.ImageFields(identifier, cache.DeriveKey(identifier), false)).
			Warn("cache_put_failed")
	}

	return Result[T]{Value: value, Data: data}, nil
}

func (l *Loader[T]) loadCached(ctx context.Context, identifier string) (Result[T], bool) {
	data, err := l.store.Get(ctx, identifier)
	switch {
	case err == nil:
	case errors.Is(err, cache.ErrEntryNotFound):
		return Result[T]{}, false
	default:
		l.logger.WithError(err).
			WithFields(logging.ImageFields(identifier, cache.DeriveKey(identifier), false)).
			Warn("cache_get_failed")
		return Result[T]{}, false
	}

	value, err := l.decoder.Decode(data)
	if err != nil {
		l.logger.WithError(err).
			WithFields(logging.ImageFields(identifier, cache.DeriveKey(identifier), true)).
			Warn("cache_entry_corrupt")
		return Result[T]{}, false
	}
	return Result[T]{Value: value, Data: data, CacheHit: true}, true
}

// Evict 删除 identifier 对应的缓存条目，错误语义与 cache.Store.Delete 一致。
func (l *Loader[T]) Evict(ctx context.Context, identifier string) error {
	return l.store.Delete(ctx, identifier)
}

// PrefetchReport 汇总一次批量预热的结果。
type PrefetchReport struct {
	Requested int `json:"requested"`
	Warmed    int `json:"warmed"`
	Cached    int `json:"cached"`
	Failed    int `json:"failed"`
}

// Prefetch 以有限并发预热一批标识；单个失败只记录日志并计数，不会中断整批。
func (l *Loader[T]) Prefetch(ctx context.Context, identifiers []string) PrefetchReport {
	var warmed, cached, failed atomic.Int64

	p := pool.New().WithMaxGoroutines(l.concurrency)
	for _, identifier := range identifiers {
		p.Go(func() {
			if ctx.Err() != nil {
				failed.Add(1)
				return
			}
			result, err := l.Load(ctx, identifier)
			if err != nil {
				failed.Add(1)
				l.logger.WithError(err).
					WithFields(logging.ImageFields(identifier, cache.DeriveKey(identifier), false)).
					Warn("prefetch_failed")
				return
			}
			if result.CacheHit {
				cached.Add(1)
				return
			}
			warmed.Add(1)
		})
	}
	p.Wait()

	return PrefetchReport{
		Requested: len(identifiers),
		Warmed:    int(warmed.Load()),
		Cached:    int(cached.Load()),
		Failed:    int(failed.Load()),
	}
}

func invalidPayload(err error) error {
	if errors.Is(err, ErrInvalidPayload) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
}
