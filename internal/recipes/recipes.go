package recipes

import (
	"context"
	"errors"
	"strings"
)

// ErrRecipeNotFound 表示列表中不存在指定 UUID 的菜谱。
var ErrRecipeNotFound = errors.New("recipe not found")

// Recipe 对应上游 recipes.json 中的单条记录，URL 字段可能缺失。
type Recipe struct {
	UUID          string `json:"uuid"`
	Name          string `json:"name"`
	Cuisine       string `json:"cuisine"`
	PhotoURLLarge string `json:"photo_url_large,omitempty"`
	PhotoURLSmall string `json:"photo_url_small,omitempty"`
	SourceURL     string `json:"source_url,omitempty"`
	YoutubeURL    string `json:"youtube_url,omitempty"`
}

// Response 是 recipes.json 的顶层结构。
type Response struct {
	Recipes []Recipe `json:"recipes"`
}

// JSONFetcher 由 network.Client 实现。
type JSONFetcher interface {
	FetchJSON(ctx context.Context, rawURL string, out any) error
}

// Service 拉取菜谱列表，每次调用都直接访问上游。
type Service struct {
	fetcher JSONFetcher
	url     string
}

// NewService 构造 Service，url 为 recipes.json 的完整地址。
func NewService(fetcher JSONFetcher, url string) *Service {
	return &Service{fetcher: fetcher, url: url}
}

// List 返回上游的全部菜谱。
func (s *Service) List(ctx context.Context) ([]Recipe, error) {
	var resp Response
	if err := s.fetcher.FetchJSON(ctx, s.url, &resp); err != nil {
		return nil, err
	}
	if resp.Recipes == nil {
		return []Recipe{}, nil
	}
	return resp.Recipes, nil
}

// Find 按 UUID 查找单条菜谱。
func (s *Service) Find(ctx context.Context, uuid string) (Recipe, error) {
	list, err := s.List(ctx)
	if err != nil {
		return Recipe{}, err
	}
	for _, recipe := range list {
		if strings.EqualFold(recipe.UUID, uuid) {
			return recipe, nil
		}
	}
	return Recipe{}, ErrRecipeNotFound
}

// PhotoSize 选择预热的图片尺寸。
type PhotoSize string

const (
	PhotoSmall PhotoSize = "small"
	PhotoLarge PhotoSize = "large"
)

// ParsePhotoSize 接受 small/large，空值视为 small。
func ParsePhotoSize(raw string) (PhotoSize, bool) {
	switch PhotoSize(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PhotoSmall:
		return PhotoSmall, true
	case PhotoLarge:
		return PhotoLarge, true
	}
	return "", false
}

// PhotoURLs 收集指定尺寸的非空图片地址，按首次出现顺序去重。
func PhotoURLs(list []Recipe, size PhotoSize) []string {
	seen := make(map[string]struct{}, len(list))
	urls := make([]string, 0, len(list))
	for _, recipe := range list {
		url := recipe.PhotoURLSmall
		if size == PhotoLarge {
			url = recipe.PhotoURLLarge
		}
		if url == "" {
			continue
		}
		if _, ok := seen[url]; ok {
			continue
		}
		seen[url] = struct{}{}
		urls = append(urls, url)
	}
	return urls
}
