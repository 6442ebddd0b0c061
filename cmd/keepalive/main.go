package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ternarybob/keepalive/internal/common"
	"github.com/ternarybob/keepalive/internal/provider"
	"github.com/ternarybob/keepalive/internal/renewal"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath   = flag.String("config", "", "Path to keepalive.toml (optional)")
		providerName = flag.String("provider", "", "Provider to renew (overrides PROVIDER env)")
		listFlag     = flag.Bool("list", false, "List registered providers and exit")
		versionFlag  = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *versionFlag {
		fmt.Println(common.GetFullVersion())
		return 0
	}
	if *listFlag {
		fmt.Println(strings.Join(provider.Names(), "\n"))
		return 0
	}

	cfg, err := common.LoadConfig(*providerName, *configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger := common.InitLogger(cfg)
	common.PrintBanner(common.GetVersion())

	runner, err := renewal.NewRunner(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Runner setup failed")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary := runner.Run(ctx)
	if ctx.Err() != nil {
		logger.Warn().Msg("Run interrupted by signal")
		return 1
	}

	if summary.Ok() {
		common.Success(logger, "All accounts processed successfully")
		return 0
	}

	total, ok := summary.Count()
	logger.Error().Msg(fmt.Sprintf("%s %d of %d accounts failed", common.TagError, total-ok, total))
	return 1
}
