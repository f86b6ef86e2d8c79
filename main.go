package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/recipe-hub/recipe-hub/internal/cache"
	"github.com/recipe-hub/recipe-hub/internal/config"
	"github.com/recipe-hub/recipe-hub/internal/imageloader"
	"github.com/recipe-hub/recipe-hub/internal/logging"
	"github.com/recipe-hub/recipe-hub/internal/network"
	"github.com/recipe-hub/recipe-hub/internal/recipes"
	"github.com/recipe-hub/recipe-hub/internal/server"
	"github.com/recipe-hub/recipe-hub/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["cache_dir"] = cfg.Global.CacheDir
		fields["recipes_url"] = cfg.RecipesURL()
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	app, err := buildApp(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化服务失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["cache_dir"] = cfg.Global.CacheDir
	fields["recipes_url"] = cfg.RecipesURL()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   cfg.Global.ListenPort,
	}).Info("Fiber 服务启动")

	if err := app.Listen(fmt.Sprintf(":%d", cfg.Global.ListenPort)); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// buildApp 按“磁盘缓存 → 上游客户端 → 菜谱服务/图片加载器 → Fiber app”顺序装配，
// 所有请求共享同一个 Store 与 Loader，保证按 key 的锁与请求合并生效。
func buildApp(cfg *config.Config, logger *logrus.Logger) (*fiber.App, error) {
	store, err := cache.NewStore(cfg.Global.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}

	client := network.NewClient(server.NewUpstreamClient(cfg), logger, network.Options{
		LogRequests:      cfg.Global.LogRequests,
		MaxResponseBytes: cfg.Global.MaxResponseBytes,
	})
	recipeService := recipes.NewService(client, cfg.RecipesURL())

	loader, err := imageloader.New[*imageloader.Image](store, client, imageloader.ImageDecoder{}, logger, imageloader.Options{
		PrefetchConcurrency: cfg.Global.PrefetchConcurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("构建图片加载器失败: %w", err)
	}

	return server.NewApp(server.AppOptions{
		Logger:     logger,
		Images:     loader,
		Recipes:    recipeService,
		CacheDir:   store.Dir(),
		ListenPort: cfg.Global.ListenPort,
	})
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("recipe-hub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 RECIPE_HUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("RECIPE_HUB_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

// printVersion 输出版本、提交信息以及回源使用的 User-Agent。
func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
	fmt.Fprintf(stdOut, "user-agent: %s\n", version.UserAgent())
}
