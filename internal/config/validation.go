package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.CacheDir == "" {
		return newFieldError("Global.CacheDir", "不能为空")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.MaxResponseBytes < 0 {
		return newFieldError("Global.MaxResponseBytes", "不能为负数")
	}
	if g.PrefetchConcurrency < 0 {
		return newFieldError("Global.PrefetchConcurrency", "不能为负数")
	}
	if g.LogMaxSize < 0 || g.LogMaxBackups < 0 {
		return newFieldError("Global.LogMaxSize/LogMaxBackups", "不能为负数")
	}
	if err := validateUpstream(g.RecipesBaseURL); err != nil {
		return fmt.Errorf("Global.RecipesBaseURL: %w", err)
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return fmt.Errorf("上游地址不应包含查询参数: %s", raw)
	}
	return nil
}
