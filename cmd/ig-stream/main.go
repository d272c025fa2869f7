// Command ig-stream is an interactive streaming market-data terminal.
//
// It connects to an IG Lightstreamer endpoint, maintains the session
// across network failures, and exposes the subscription feeds through
// an interactive command prompt.
//
// Usage:
//
//	ig-stream [flags]
//
// Flags:
//
//	-config string   Configuration file path (YAML)
//	-account string  Account identifier for trade/account/price feeds
//	-epic value      Epic to subscribe at startup (repeatable)
//
// Examples:
//
//	# Connect with a config file and watch two markets
//	ig-stream -config ig.yaml -account ABC123 \
//	    -epic CS.D.EURUSD.MINI.IP -epic IX.D.FTSE.DAILY.IP
//
//	# Connect and drive everything from the prompt
//	ig-stream -config ig.yaml -account ABC123
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/OpenLLT/ig-client/pkg/config"
	"github.com/OpenLLT/ig-client/pkg/connection"
	"github.com/OpenLLT/ig-client/pkg/log"
	"github.com/OpenLLT/ig-client/pkg/streaming"
)

// epicList collects repeated -epic flags.
type epicList []string

func (e *epicList) String() string { return fmt.Sprint([]string(*e)) }

func (e *epicList) Set(value string) error {
	*e = append(*e, value)
	return nil
}

func main() {
	var (
		configPath string
		accountID  string
		epics      epicList
	)
	flag.StringVar(&configPath, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&accountID, "account", "", "Account identifier")
	flag.Var(&epics, "epic", "Epic to subscribe at startup (repeatable)")
	flag.Parse()

	if configPath == "" {
		fmt.Fprintln(os.Stderr, "ig-stream: -config is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ig-stream: %v\n", err)
		os.Exit(1)
	}

	logger, closeLogger, err := buildLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ig-stream: %v\n", err)
		os.Exit(1)
	}
	defer closeLogger()

	client, err := streaming.NewClient(cfg, accountID, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ig-stream: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	shell, err := newShell(client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ig-stream: %v\n", err)
		os.Exit(1)
	}

	client.OnSessionUp(func(sessionID string, rebound bool) {
		if rebound {
			fmt.Fprintf(shell.stdout(), "session %s resumed\n", sessionID)
			return
		}
		fmt.Fprintf(shell.stdout(), "session %s established\n", sessionID)
	})
	client.OnResubscribe(func(err *connection.PartialResubscribeError) {
		fmt.Fprintf(shell.stdout(), "replay incomplete: %v\n", err)
	})
	client.OnTerminal(func(err error) {
		fmt.Fprintf(shell.stdout(), "connection lost for good: %v\n", err)
		cancel()
	})

	if err := client.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ig-stream: connect: %v\n", err)
		os.Exit(1)
	}
	defer client.Close(context.Background())

	for _, epic := range epics {
		if err := shell.watchMarket(ctx, epic); err != nil {
			fmt.Fprintf(os.Stderr, "ig-stream: subscribe %s: %v\n", epic, err)
		}
	}

	shell.Run(ctx, cancel)
}

// buildLogger assembles the protocol event logger from the logging
// section: an event file, a console mirror, both, or neither.
func buildLogger(cfg config.LoggingConfig) (log.Logger, func(), error) {
	var loggers []log.Logger
	closeFn := func() {}

	if cfg.File != "" {
		fl, err := log.NewFileLogger(cfg.File)
		if err != nil {
			return nil, nil, fmt.Errorf("open event log: %w", err)
		}
		loggers = append(loggers, fl)
		closeFn = func() { fl.Close() }
	}
	if cfg.Console {
		zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
		loggers = append(loggers, log.NewZerologAdapter(zl))
	}

	switch len(loggers) {
	case 0:
		return &log.NoopLogger{}, closeFn, nil
	case 1:
		return loggers[0], closeFn, nil
	default:
		return log.NewMultiLogger(loggers...), closeFn, nil
	}
}
