package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/codexec/codebot/internal/agent"
	"github.com/codexec/codebot/internal/config"
	"github.com/codexec/codebot/internal/history"
	"github.com/codexec/codebot/internal/llm"
	"github.com/codexec/codebot/internal/logger"
	"github.com/codexec/codebot/internal/repl"
	"github.com/codexec/codebot/internal/runner"
	"github.com/codexec/codebot/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.Log.Level)

	// No credential in config or env: ask once on the terminal.
	if cfg.LLM.APIKey == "" {
		fmt.Fprint(os.Stderr, "Please enter your API key: ")
		line, rerr := bufio.NewReader(os.Stdin).ReadString('\n')
		if rerr != nil && line == "" {
			logger.L.Error("no API credential available", "error", session.ErrAuth)
			os.Exit(1)
		}
		cfg.LLM.APIKey = strings.TrimSpace(line)
	}
	if cfg.LLM.APIKey == "" {
		logger.L.Error("no API credential available", "error", session.ErrAuth)
		os.Exit(1)
	}

	ctx := context.Background()

	var opts []session.Option
	var store *history.Store
	if cfg.History.Enabled {
		store = history.Open(cfg.History.DBPath)
		defer store.Close()
		opts = append(opts, session.WithRecorder(store))
	}

	client := llm.NewClient(cfg.LLM)
	sess := session.New(client, cfg.LLM, opts...)

	run := runner.New(cfg.Runner)
	if err := run.EnsureEnv(ctx); err != nil {
		logger.L.Warn("virtualenv setup failed; using base interpreter", "error", err)
	}

	ag := agent.New(sess, run, cfg.Runner.MaxFixRetries)

	loop := repl.New(ag, sess, os.Stdin, os.Stdout)
	if err := loop.Run(ctx); err != nil {
		logger.L.Error("session ended with error", "error", err)
		os.Exit(1)
	}
}
