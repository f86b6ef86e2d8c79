package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// ImageFields 提供图片 URL、派生缓存键与命中状态字段，供缓存/加载日志复用。
func ImageFields(url, cacheKey string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"image_url": url,
		"cache_key": cacheKey,
		"cache_hit": cacheHit,
	}
}

// RequestFields 提供请求 ID、方法与路径字段，供 HTTP 访问日志复用。
func RequestFields(requestID, method, path string, status int) logrus.Fields {
	return logrus.Fields{
		"request_id": requestID,
		"method":     method,
		"path":       path,
		"status":     status,
	}
}
