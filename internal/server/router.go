package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/recipe-hub/recipe-hub/internal/imageloader"
	"github.com/recipe-hub/recipe-hub/internal/logging"
	"github.com/recipe-hub/recipe-hub/internal/recipes"
)

// ImageLoader describes the fetch-or-populate component behind /images. It
// allows injecting fake loaders during tests.
type ImageLoader interface {
	Load(ctx context.Context, identifier string) (imageloader.Result[*imageloader.Image], error)
	Evict(ctx context.Context, identifier string) error
	Prefetch(ctx context.Context, identifiers []string) imageloader.PrefetchReport
}

// RecipeSource describes the recipe catalogue behind /recipes.
type RecipeSource interface {
	List(ctx context.Context) ([]recipes.Recipe, error)
	Find(ctx context.Context, uuid string) (recipes.Recipe, error)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Images     ImageLoader
	Recipes    RecipeSource
	CacheDir   string
	ListenPort int
}

const contextKeyRequestID = "_recipehub_request_id"

// NewApp builds a Fiber application with request ID middleware, structured
// access logs and the recipe/image routes.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Images == nil {
		return nil, errors.New("image loader is required")
	}
	if opts.Recipes == nil {
		return nil, errors.New("recipe source is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts.Logger))

	h := &handlers{
		logger:   opts.Logger,
		images:   opts.Images,
		recipes:  opts.Recipes,
		cacheDir: opts.CacheDir,
	}
	app.Get("/-/healthz", h.health)
	app.Get("/recipes", h.listRecipes)
	app.Get("/recipes/:uuid", h.getRecipe)
	app.Get("/images", h.getImage)
	app.Delete("/images", h.deleteImage)
	app.Post("/images/prefetch", h.prefetchImages)

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID，并在请求结束后输出访问日志。
func requestContextMiddleware(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		started := time.Now()
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		err := c.Next()

		fields := logging.RequestFields(reqID, c.Method(), c.Path(), c.Response().StatusCode())
		fields["action"] = "access"
		fields["duration_ms"] = time.Since(started).Milliseconds()
		entry := logger.WithFields(fields)
		if err != nil {
			entry.WithError(err).Warn("request failed")
		} else {
			entry.Info("request served")
		}
		return err
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func requestContext(c fiber.Ctx) context.Context {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}
