package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// GlobalConfig 描述服务运行参数：监听端口、日志、图片缓存目录与上游地址。
type GlobalConfig struct {
	ListenPort          int      `mapstructure:"ListenPort"`
	LogLevel            string   `mapstructure:"LogLevel"`
	LogFilePath         string   `mapstructure:"LogFilePath"`
	LogMaxSize          int      `mapstructure:"LogMaxSize"`
	LogMaxBackups       int      `mapstructure:"LogMaxBackups"`
	LogCompress         bool     `mapstructure:"LogCompress"`
	LogRequests         bool     `mapstructure:"LogRequests"`
	CacheDir            string   `mapstructure:"CacheDir"`
	RecipesBaseURL      string   `mapstructure:"RecipesBaseURL"`
	UpstreamTimeout     Duration `mapstructure:"UpstreamTimeout"`
	PrefetchConcurrency int      `mapstructure:"PrefetchConcurrency"`
	MaxResponseBytes    int64    `mapstructure:"MaxResponseBytes"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
}

// RecipesURL 返回菜谱列表的完整地址。
func (c *Config) RecipesURL() string {
	return strings.TrimRight(c.Global.RecipesBaseURL, "/") + "/recipes.json"
}
