package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"TrapFlow/internal/di"
	"TrapFlow/pkg/config"
	"TrapFlow/pkg/server"
)

// Exit codes: 0 success, 1 config error, 2 startup failure, 3 fatal runtime.
const (
	exitOK      = 0
	exitConfig  = 1
	exitStartup = 2
	exitRuntime = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("trapflow", flag.ContinueOnError)
	configPath := fs.String("config", "config/config.yaml", "config file path")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	// .env is optional; real env vars still win inside LoadWithEnv
	_ = godotenv.Load()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Printf("config load failed: %v", err)
		return exitConfig
	}

	cmd := "run"
	rest := fs.Args()
	if len(rest) > 0 {
		cmd = rest[0]
	}

	switch cmd {
	case "run":
		return runPipeline(cfg)
	case "analytics":
		if len(rest) < 2 || rest[1] != "once" {
			return usage("analytics once")
		}
		return runTool(cfg, func(ctx context.Context, t *server.Tools) error {
			return t.AnalyticsOnce(ctx)
		})
	case "journal":
		if len(rest) < 2 || rest[1] != "replay" {
			return usage("journal replay [<from>..<to>]")
		}
		rangeExpr := ""
		if len(rest) > 2 {
			rangeExpr = rest[2]
		}
		return runTool(cfg, func(ctx context.Context, t *server.Tools) error {
			return t.ReplayJournal(ctx, rangeExpr)
		})
	default:
		return usage("run | analytics once | journal replay [<from>..<to>]")
	}
}

func runPipeline(cfg *config.Config) int {
	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Printf("initialization failed: %v", err)
		return exitStartup
	}
	if err := app.Run(context.Background()); err != nil {
		log.Printf("pipeline error: %v", err)
		if errors.Is(err, server.ErrStartup) {
			return exitStartup
		}
		return exitRuntime
	}
	return exitOK
}

func runTool(cfg *config.Config, fn func(context.Context, *server.Tools) error) int {
	tools, err := di.InitializeTools(cfg)
	if err != nil {
		log.Printf("initialization failed: %v", err)
		return exitStartup
	}
	defer tools.Close()

	if err := fn(context.Background(), tools); err != nil {
		log.Printf("command failed: %v", err)
		return exitRuntime
	}
	return exitOK
}

func usage(expected string) int {
	fmt.Fprintf(os.Stderr, "usage: trapflow [-config path] %s\n", expected)
	return exitConfig
}
