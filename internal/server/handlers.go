package server

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/recipe-hub/recipe-hub/internal/cache"
	"github.com/recipe-hub/recipe-hub/internal/imageloader"
	"github.com/recipe-hub/recipe-hub/internal/logging"
	"github.com/recipe-hub/recipe-hub/internal/network"
	"github.com/recipe-hub/recipe-hub/internal/recipes"
)

type handlers struct {
	logger   *logrus.Logger
	images   ImageLoader
	recipes  RecipeSource
	cacheDir string
}

func (h *handlers) health(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"cache_dir": h.cacheDir,
	})
}

func (h *handlers) listRecipes(c fiber.Ctx) error {
	list, err := h.recipes.List(requestContext(c))
	if err != nil {
		return h.renderUpstreamError(c, err, logrus.Fields{"action": "list_recipes"})
	}
	return c.JSON(recipes.Response{Recipes: list})
}

func (h *handlers) getRecipe(c fiber.Ctx) error {
	recipe, err := h.recipes.Find(requestContext(c), c.Params("uuid"))
	if errors.Is(err, recipes.ErrRecipeNotFound) {
		return renderError(c, fiber.StatusNotFound, "recipe_not_found", nil)
	}
	if err != nil {
		return h.renderUpstreamError(c, err, logrus.Fields{"action": "get_recipe"})
	}
	return c.JSON(recipe)
}

// getImage 走 fetch-or-populate：命中缓存直接返回，否则回源并写回缓存。
func (h *handlers) getImage(c fiber.Ctx) error {
	raw := strings.TrimSpace(c.Query("url"))
	if raw == "" {
		return renderError(c, fiber.StatusBadRequest, "url_required", nil)
	}

	result, err := h.images.Load(requestContext(c), raw)
	if err != nil {
		return h.renderUpstreamError(c, err, logging.ImageFields(raw, cache.DeriveKey(raw), false))
	}

	c.Set("Content-Type", result.Value.ContentType())
	c.Set("X-Recipe-Hub-Cache-Hit", strconv.FormatBool(result.CacheHit))
	c.Set("X-Recipe-Hub-Cache-Key", cache.DeriveKey(raw))
	return c.Send(result.Data)
}

func (h *handlers) deleteImage(c fiber.Ctx) error {
	raw := strings.TrimSpace(c.Query("url"))
	if raw == "" {
		return renderError(c, fiber.StatusBadRequest, "url_required", nil)
	}

	err := h.images.Evict(requestContext(c), raw)
	switch {
	case err == nil:
		return c.SendStatus(fiber.StatusNoContent)
	case errors.Is(err, cache.ErrEntryNotFound):
		return renderError(c, fiber.StatusNotFound, "entry_not_found", nil)
	default:
		h.logger.WithError(err).
			WithFields(logging.ImageFields(raw, cache.DeriveKey(raw), false)).
			Error("cache_delete_failed")
		return renderError(c, fiber.StatusInternalServerError, "delete_failed", nil)
	}
}

func (h *handlers) prefetchImages(c fiber.Ctx) error {
	size, ok := recipes.ParsePhotoSize(c.Query("size"))
	if !ok {
		return renderError(c, fiber.StatusBadRequest, "invalid_size", nil)
	}

	ctx := requestContext(c)
	list, err := h.recipes.List(ctx)
	if err != nil {
		return h.renderUpstreamError(c, err, logrus.Fields{"action": "prefetch_images"})
	}

	report := h.images.Prefetch(ctx, recipes.PhotoURLs(list, size))
	h.logger.WithFields(logrus.Fields{
		"action":    "prefetch_images",
		"size":      string(size),
		"requested": report.Requested,
		"warmed":    report.Warmed,
		"cached":    report.Cached,
		"failed":    report.Failed,
	}).Info("prefetch finished")
	return c.JSON(report)
}

// renderUpstreamError 将回源/解码错误映射为 HTTP 状态码，调用方据此展示占位图。
func (h *handlers) renderUpstreamError(c fiber.Ctx, err error, fields logrus.Fields) error {
	var (
		netErr    *network.NetworkError
		statusErr *network.StatusError
	)
	entry := h.logger.WithError(err).WithFields(fields).WithField("request_id", RequestID(c))

	switch {
	case errors.Is(err, imageloader.ErrInvalidPayload):
		entry.Warn("invalid_payload")
		return renderError(c, fiber.StatusBadGateway, "invalid_payload", nil)
	case errors.Is(err, network.ErrDecodeFailed):
		entry.Warn("decode_failed")
		return renderError(c, fiber.StatusBadGateway, "decode_failed", nil)
	case errors.As(err, &statusErr):
		entry.Warn("upstream_status")
		return renderError(c, fiber.StatusBadGateway, statusErr.Kind.String(), fiber.Map{
			"upstream_status": statusErr.Code,
		})
	case errors.As(err, &netErr):
		entry.Warn("network_failure")
		status := fiber.StatusBadGateway
		if netErr.Timeout() {
			status = fiber.StatusGatewayTimeout
		}
		return renderError(c, status, "network_failure", fiber.Map{"reason": netErr.Reason})
	default:
		entry.Error("request_failed")
		return renderError(c, fiber.StatusInternalServerError, "internal_error", nil)
	}
}

func renderError(c fiber.Ctx, status int, code string, extra fiber.Map) error {
	body := fiber.Map{"error": code}
	for key, value := range extra {
		body[key] = value
	}
	return c.Status(status).JSON(body)
}
