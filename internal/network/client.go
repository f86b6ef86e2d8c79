package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/recipe-hub/recipe-hub/internal/version"
)

// Client 封装共享 http.Client，将传输错误与状态码统一映射为本包的错误分类。
// 图片加载与菜谱列表都经由它访问上游。
type Client struct {
	http        *http.Client
	logger      *logrus.Logger
	logRequests bool
	maxBody     int64
}

// DefaultMaxResponseBytes 是未配置时单个响应体允许的最大字节数。
const DefaultMaxResponseBytes int64 = 20 << 20

// Options 控制 Client 的可选行为。
type Options struct {
	// LogRequests 为 true 时以 debug 级别记录每次请求与响应摘要。
	LogRequests bool
	// MaxResponseBytes 限制响应体大小，<=0 时使用 DefaultMaxResponseBytes。
	MaxResponseBytes int64
}

// NewClient 使用调用方提供的 http.Client（通常来自 server.NewUpstreamClient）。
func NewClient(httpClient *http.Client, logger *logrus.Logger, opts Options) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	maxBody := opts.MaxResponseBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxResponseBytes
	}
	return &Client{
		http:        httpClient,
		logger:      logger,
		logRequests: opts.LogRequests,
		maxBody:     maxBody,
	}
}

// Fetch 满足 imageloader.Fetcher，identifier 即图片 URL。
func (c *Client) Fetch(ctx context.Context, identifier string) ([]byte, error) {
	return c.FetchData(ctx, identifier)
}

// FetchData 以 GET 请求 rawURL 并返回完整响应体。
func (c *Client) FetchData(ctx context.Context, rawURL string) ([]byte, error) {
	return c.do(ctx, rawURL, nil)
}

// FetchJSON 请求 rawURL 并将响应体解析到 out，解析失败返回匹配 ErrDecodeFailed 的错误。
func (c *Client) FetchJSON(ctx context.Context, rawURL string, out any) error {
	body, err := c.do(ctx, rawURL, http.Header{"Accept": []string{"application/json"}})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, rawURL string, header http.Header) ([]byte, error) {
	target, err := parseTarget(rawURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, &NetworkError{Reason: ReasonUnsupportedURL, Err: err}
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.Header.Set("User-Agent", version.UserAgent())

	started := time.Now()
	c.logRequest(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, mapTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode, target.String()); err != nil {
		c.logResponse(req, resp, 0, time.Since(started))
		return nil, err
	}
	if resp.ContentLength > c.maxBody {
		c.logResponse(req, resp, 0, time.Since(started))
		return nil, &NetworkError{Reason: ReasonBadServerResponse, Err: ErrResponseTooLarge}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, mapTransportError(ctx, err)
	}
	c.logResponse(req, resp, len(body), time.Since(started))
	if int64(len(body)) > c.maxBody {
		return nil, &NetworkError{Reason: ReasonBadServerResponse, Err: ErrResponseTooLarge}
	}
	return body, nil
}

func parseTarget(rawURL string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, &NetworkError{Reason: ReasonUnsupportedURL, Err: err}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, &NetworkError{Reason: ReasonUnsupportedURL, Err: fmt.Errorf("unsupported scheme %q", parsed.Scheme)}
	}
	if parsed.Host == "" {
		return nil, &NetworkError{Reason: ReasonUnsupportedURL, Err: errors.New("missing host")}
	}
	return parsed, nil
}

// mapTransportError 将 net/http 的错误折叠为 NetworkError；调用方主动取消时原样返回。
func mapTransportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.Canceled) {
		return ctxErr
	}

	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &NetworkError{Reason: ReasonTimedOut, Err: err}
	case errors.As(err, &netErr) && netErr.Timeout():
		return &NetworkError{Reason: ReasonTimedOut, Err: err}
	case errors.As(err, &dnsErr):
		return &NetworkError{Reason: ReasonCannotFindHost, Err: err}
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.ENETDOWN):
		return &NetworkError{Reason: ReasonNotConnected, Err: err}
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.EHOSTUNREACH):
		return &NetworkError{Reason: ReasonCannotConnect, Err: err}
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, syscall.ECONNRESET):
		return &NetworkError{Reason: ReasonBadServerResponse, Err: err}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && strings.Contains(urlErr.Err.Error(), "unsupported protocol scheme") {
		return &NetworkError{Reason: ReasonUnsupportedURL, Err: err}
	}
	return &NetworkError{Reason: ReasonCannotConnect, Err: err}
}

func (c *Client) logRequest(req *http.Request) {
	if !c.logRequests {
		return
	}
	c.logger.WithFields(logrus.Fields{
		"action": "upstream_request",
		"method": req.Method,
		"url":    req.URL.String(),
	}).Debug("upstream request")
}

func (c *Client) logResponse(req *http.Request, resp *http.Response, size int, elapsed time.Duration) {
	if !c.logRequests {
		return
	}
	c.logger.WithFields(logrus.Fields{
		"action":      "upstream_response",
		"url":         req.URL.String(),
		"status":      resp.StatusCode,
		"bytes":       size,
		"duration_ms": elapsed.Milliseconds(),
	}).Debug("upstream response")
}
