package imageloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/recipe-hub/recipe-hub/internal/cache"
	"github.com/recipe-hub/recipe-hub/internal/network"
)

const testImageURL = "https://d3jbb8n5wk0qxi.cloudfront.net/photos/b9ab0071/small.jpg"

func TestLoadMissFetchesAndPopulates(t *testing.T) {
	store := newTestStore(t)
	payload := pngBytes(t, 4, 3)
	fetcher := &countingFetcher{data: payload}
	loader := newTestLoader(t, store, fetcher, nil)

	result, err := loader.Load(context.Background(), testImageURL)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if result.CacheHit {
		t.Fatalf("first load should be a miss")
	}
	if result.Value.Format != "png" || result.Value.Width != 4 || result.Value.Height != 3 {
		t.Fatalf("unexpected decoded image %+v", result.Value)
	}
	if fetcher.calls.Load() != 1 {
		t.Fatalf("expected 1 fetch, got %d", fetcher.calls.Load())
	}

	cached, err := store.Get(context.Background(), testImageURL)
	if err != nil {
		t.Fatalf("cache should be warm: %v", err)
	}
	if !bytes.Equal(cached, payload) {
		t.Fatalf("cached bytes differ from fetched bytes")
	}
}

func TestLoadHitSkipsNetwork(t *testing.T) {
	store := newTestStore(t)
	payload := pngBytes(t, 2, 2)
	if _, err := store.Put(context.Background(), testImageURL, payload); err != nil {
		t.Fatalf("put error: %v", err)
	}
	fetcher := &countingFetcher{err: errors.New("must not be called")}
	loader := newTestLoader(t, store, fetcher, nil)

	result, err := loader.Load(context.Background(), testImageURL)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if !result.CacheHit {
		t.Fatalf("expected cache hit")
	}
	if fetcher.calls.Load() != 0 {
		t.Fatalf("fetcher should not be invoked on hit, got %d calls", fetcher.calls.Load())
	}
	if !bytes.Equal(result.Data, payload) {
		t.Fatalf("result data should be cached bytes")
	}
}

func TestLoadNetworkFailureLeavesStoreEmpty(t *testing.T) {
	store := newTestStore(t)
	fetcher := &countingFetcher{err: &network.NetworkError{Reason: network.ReasonNotConnected}}
	loader := newTestLoader(t, store, fetcher, nil)

	_, err := loader.Load(context.Background(), testImageURL)
	if !errors.Is(err, network.ErrNetworkFailure) {
		t.Fatalf("expected ErrNetworkFailure, got %v", err)
	}
	if _, err := store.Get(context.Background(), testImageURL); !errors.Is(err, cache.ErrEntryNotFound) {
		t.Fatalf("store should stay empty, got %v", err)
	}
}

func TestLoadStatusErrorPropagates(t *testing.T) {
	store := newTestStore(t)
	fetcher := &countingFetcher{err: &network.StatusError{Kind: network.ClientError, Code: 404}}
	loader := newTestLoader(t, store, fetcher, nil)

	_, err := loader.Load(context.Background(), testImageURL)
	var statusErr *network.StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != 404 {
		t.Fatalf("expected 404 StatusError, got %v", err)
	}
}

func TestLoadInvalidPayloadIsNotCached(t *testing.T) {
	store := newTestStore(t)
	fetcher := &countingFetcher{data: []byte("<html>not an image</html>")}
	loader := newTestLoader(t, store, fetcher, nil)

	_, err := loader.Load(context.Background(), testImageURL)
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	if _, err := store.Get(context.Background(), testImageURL); !errors.Is(err, cache.ErrEntryNotFound) {
		t.Fatalf("invalid payload must not be cached, got %v", err)
	}
}

func TestLoadReplacesCorruptCacheEntry(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Put(context.Background(), testImageURL, []byte("garbage")); err != nil {
		t.Fatalf("put error: %v", err)
	}
	payload := pngBytes(t, 1, 1)
	fetcher := &countingFetcher{data: payload}
	logger, logBuf := bufferLogger()
	loader := newTestLoader(t, store, fetcher, logger)

	result, err := loader.Load(context.Background(), testImageURL)
	if err != nil {
		t.Fatalf("corrupt entry should fall through to network: %v", err)
	}
	if result.CacheHit || fetcher.calls.Load() != 1 {
		t.Fatalf("expected network fetch, hit=%v calls=%d", result.CacheHit, fetcher.calls.Load())
	}
	cached, err := store.Get(context.Background(), testImageURL)
	if err != nil || !bytes.Equal(cached, payload) {
		t.Fatalf("corrupt entry should be replaced, err=%v", err)
	}
	if !strings.Contains(logBuf.String(), "cache_entry_corrupt") {
		t.Fatalf("expected corrupt entry log, got %s", logBuf.String())
	}
}

func TestLoadStoreReadErrorFallsThrough(t *testing.T) {
	base := newTestStore(t)
	store := &faultyStore{Store: base, getErr: errors.New("disk on fire")}
	payload := pngBytes(t, 1, 1)
	fetcher := &countingFetcher{data: payload}
	logger, logBuf := bufferLogger()
	loader := newTestLoader(t, store, fetcher, logger)

	if _, err := loader.Load(context.Background(), testImageURL); err != nil {
		t.Fatalf("store read error should fall through: %v", err)
	}
	if fetcher.calls.Load() != 1 {
		t.Fatalf("expected network fetch")
	}
	if !strings.Contains(logBuf.String(), "cache_get_failed") {
		t.Fatalf("expected cache_get_failed log, got %s", logBuf.String())
	}
}

func TestLoadMissIsNotLogged(t *testing.T) {
	store := newTestStore(t)
	fetcher := &countingFetcher{data: pngBytes(t, 1, 1)}
	logger, logBuf := bufferLogger()
	loader := newTestLoader(t, store, fetcher, logger)

	if _, err := loader.Load(context.Background(), testImageURL); err != nil {
		t.Fatalf("load error: %v", err)
	}
	if logBuf.Len() != 0 {
		t.Fatalf("plain miss should not log, got %s", logBuf.String())
	}
}

func TestLoadPutFailureIsNonFatal(t *testing.T) {
	base := newTestStore(t)
	putErr := &cache.OpError{Op: "put", Kind: cache.ErrWriteFailed, Err: errors.New("no space left on device")}
	store := &faultyStore{Store: base, putErr: putErr}
	fetcher := &countingFetcher{data: pngBytes(t, 2, 1)}
	logger, logBuf := bufferLogger()
	loader := newTestLoader(t, store, fetcher, logger)

	result, err := loader.Load(context.Background(), testImageURL)
	if err != nil {
		t.Fatalf("put failure must not fail the load: %v", err)
	}
	if result.Value.Width != 2 {
		t.Fatalf("decoded value should still be returned, got %+v", result.Value)
	}
	if !strings.Contains(logBuf.String(), "cache_put_failed") {
		t.Fatalf("expected cache_put_failed log, got %s", logBuf.String())
	}
}

func TestLoadCollapsesConcurrentMisses(t *testing.T) {
	store := newTestStore(t)
	release := make(chan struct{})
	fetcher := &countingFetcher{data: pngBytes(t, 1, 1), gate: release}
	loader := newTestLoader(t, store, fetcher, nil)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := loader.Load(context.Background(), testImageURL)
			errs <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("load error: %v", err)
		}
	}
	if calls := fetcher.calls.Load(); calls != 1 {
		t.Fatalf("expected a single fetch for concurrent misses, got %d", calls)
	}
}

func TestLoadCanceledCallerDoesNotFailOthers(t *testing.T) {
	store := newTestStore(t)
	release := make(chan struct{})
	started := make(chan struct{})
	var calls atomic.Int64
	var fetchCtxErr atomic.Value
	data := pngBytes(t, 2, 2)
	fetcher := FetcherFunc(func(ctx context.Context, identifier string) ([]byte, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		fetchCtxErr.Store(fmt.Sprint(ctx.Err()))
		return data, nil
	})
	loader := newTestLoader(t, store, fetcher, nil)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := loader.Load(ctxA, testImageURL)
		errA <- err
	}()
	<-started

	type outcome struct {
		result Result[*Image]
		err    error
	}
	doneB := make(chan outcome, 1)
	go func() {
		result, err := loader.Load(context.Background(), testImageURL)
		doneB <- outcome{result, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected canceled caller to get context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("canceled caller kept waiting on the shared load")
	}

	close(release)
	select {
	case got := <-doneB:
		if got.err != nil {
			t.Fatalf("caller with live context must succeed, got %v", got.err)
		}
		if got.result.Value == nil || got.result.Value.Width != 2 {
			t.Fatalf("unexpected result %+v", got.result)
		}
	case <-time.After(time.Second):
		t.Fatalf("caller with live context never finished")
	}

	if n := calls.Load(); n != 1 {
		t.Fatalf("expected a single fetch, got %d", n)
	}
	if got := fetchCtxErr.Load(); got != "<nil>" {
		t.Fatalf("shared fetch must not observe caller cancellation, got %v", got)
	}
	if _, err := store.Get(context.Background(), testImageURL); err != nil {
		t.Fatalf("shared load should populate the cache, got %v", err)
	}
}

func TestLoadCanceledBeforeStart(t *testing.T) {
	store := newTestStore(t)
	fetcher := &countingFetcher{data: pngBytes(t, 1, 1)}
	loader := newTestLoader(t, store, fetcher, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := loader.Load(ctx, testImageURL); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls := fetcher.calls.Load(); calls != 0 {
		t.Fatalf("canceled load must not fetch, got %d calls", calls)
	}
}

func TestEvict(t *testing.T) {
	store := newTestStore(t)
	loader := newTestLoader(t, store, &countingFetcher{data: pngBytes(t, 1, 1)}, nil)
	if _, err := loader.Load(context.Background(), testImageURL); err != nil {
		t.Fatalf("load error: %v", err)
	}
	if err := loader.Evict(context.Background(), testImageURL); err != nil {
		t.Fatalf("evict error: %v", err)
	}
	if err := loader.Evict(context.Background(), testImageURL); !errors.Is(err, cache.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound on second evict, got %v", err)
	}
}

func TestPrefetch(t *testing.T) {
	store := newTestStore(t)
	payload := pngBytes(t, 1, 1)
	if _, err := store.Put(context.Background(), "https://cdn.local/cached.png", payload); err != nil {
		t.Fatalf("put error: %v", err)
	}
	fetcher := FetcherFunc(func(ctx context.Context, identifier string) ([]byte, error) {
		if strings.Contains(identifier, "broken") {
			return nil, &network.StatusError{Kind: network.ServerError, Code: 503}
		}
		return payload, nil
	})
	logger, logBuf := bufferLogger()
	loader, err := New[*Image](store, fetcher, ImageDecoder{}, logger, Options{PrefetchConcurrency: 2})
	if err != nil {
		t.Fatalf("new loader error: %v", err)
	}

	ids := []string{
		"https://cdn.local/cached.png",
		"https://cdn.local/a.png",
		"https://cdn.local/b.png",
		"https://cdn.local/broken.png",
	}
	report := loader.Prefetch(context.Background(), ids)
	want := PrefetchReport{Requested: 4, Warmed: 2, Cached: 1, Failed: 1}
	if report != want {
		t.Fatalf("unexpected report %+v, want %+v", report, want)
	}
	if !strings.Contains(logBuf.String(), "prefetch_failed") {
		t.Fatalf("expected prefetch_failed log, got %s", logBuf.String())
	}
	for _, id := range ids[:3] {
		if _, err := store.Get(context.Background(), id); err != nil {
			t.Fatalf("%s should be cached: %v", id, err)
		}
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	store := newTestStore(t)
	if _, err := New[*Image](nil, &countingFetcher{}, ImageDecoder{}, nil, Options{}); err == nil {
		t.Fatalf("expected error without store")
	}
	if _, err := New[*Image](store, nil, ImageDecoder{}, nil, Options{}); err == nil {
		t.Fatalf("expected error without fetcher")
	}
	if _, err := New[*Image](store, &countingFetcher{}, nil, nil, Options{}); err == nil {
		t.Fatalf("expected error without decoder")
	}
}

func TestDecoderFuncGenericLoader(t *testing.T) {
	store := newTestStore(t)
	decoder := DecoderFunc[string](func(data []byte) (string, error) {
		if !bytes.HasPrefix(data, []byte("txt:")) {
			return "", ErrInvalidPayload
		}
		return string(data[4:]), nil
	})
	fetcher := FetcherFunc(func(ctx context.Context, identifier string) ([]byte, error) {
		return []byte("txt:" + identifier), nil
	})
	loader, err := New[string](store, fetcher, decoder, nil, Options{})
	if err != nil {
		t.Fatalf("new loader error: %v", err)
	}
	result, err := loader.Load(context.Background(), "note")
	if err != nil || result.Value != "note" {
		t.Fatalf("unexpected result %+v err=%v", result, err)
	}
}

type countingFetcher struct {
	data  []byte
	err   error
	gate  chan struct{}
	calls atomic.Int64
}

func (f *countingFetcher) Fetch(ctx context.Context, identifier string) ([]byte, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

// faultyStore 在真实 Store 之上注入读写错误。
type faultyStore struct {
	cache.Store
	getErr error
	putErr error
}

func (s *faultyStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.Store.Get(ctx, key)
}

func (s *faultyStore) Put(ctx context.Context, key string, data []byte) (*cache.Entry, error) {
	if s.putErr != nil {
		return nil, s.putErr
	}
	return s.Store.Put(ctx, key, data)
}

func newTestStore(t *testing.T) cache.Store {
	t.Helper()
	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func newTestLoader(t *testing.T, store cache.Store, fetcher Fetcher, logger *logrus.Logger) *Loader[*Image] {
	t.Helper()
	if logger == nil {
		logger, _ = bufferLogger()
	}
	loader, err := New[*Image](store, fetcher, ImageDecoder{}, logger, Options{})
	if err != nil {
		t.Fatalf("failed to create loader: %v", err)
	}
	return loader
}

func bufferLogger() (*logrus.Logger, *bytes.Buffer) {
	logger := logrus.New()
	buf := &bytes.Buffer{}
	logger.SetOutput(buf)
	return logger, buf
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 40), G: uint8(y * 40), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestImageDecoder(t *testing.T) {
	img, err := ImageDecoder{}.Decode(pngBytes(t, 5, 7))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if img.ContentType() != "image/png" || img.Width != 5 || img.Height != 7 {
		t.Fatalf("unexpected image %+v", img)
	}
	for _, data := range [][]byte{nil, {}, []byte("Invalid Response"), pngBytes(t, 2, 2)[:20]} {
		if _, err := (ImageDecoder{}).Decode(data); !errors.Is(err, ErrInvalidPayload) {
			t.Fatalf("expected ErrInvalidPayload for %d bytes, got %v", len(data), err)
		}
	}
	if (&Image{Format: "webp"}).ContentType() != "application/octet-stream" {
		t.Fatalf("unknown formats should fall back to octet-stream")
	}
}
