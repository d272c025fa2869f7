package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/OpenLLT/ig-client/pkg/dispatch"
	"github.com/OpenLLT/ig-client/pkg/streaming"
)

// shell handles interactive mode for ig-stream.
type shell struct {
	client *streaming.Client
	rl     *readline.Instance

	mu   sync.Mutex
	subs map[string]*streaming.Subscription // keyed by item key
}

func newShell(client *streaming.Client) (*shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "ig> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	return &shell{
		client: client,
		rl:     rl,
		subs:   make(map[string]*streaming.Subscription),
	}, nil
}

// stdout returns a writer that coordinates with the readline prompt.
func (s *shell) stdout() io.Writer {
	return s.rl.Stdout()
}

// Run starts the interactive command loop.
func (s *shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			s.printHelp()

		case "market", "m":
			s.cmdMarket(ctx, args)

		case "prices", "p":
			s.cmdPrices(ctx, args)

		case "chart", "c":
			s.cmdChart(ctx, args)

		case "trades", "t":
			s.cmdTrades(ctx)

		case "account", "a":
			s.cmdAccount(ctx)

		case "unsub", "u":
			s.cmdUnsub(ctx, args)

		case "list", "ls":
			s.cmdList()

		case "status":
			s.cmdStatus()

		case "quit", "exit", "q":
			fmt.Fprintln(s.stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(s.stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (s *shell) printHelp() {
	fmt.Fprintln(s.stdout(), `
IG Streaming Commands:
  Feeds:
    market <epic>         - Subscribe to the market quote feed
    prices <epic>         - Subscribe to the account price book
    chart <epic> [scale]  - Subscribe to chart ticks (SECOND, 1MINUTE, 5MINUTE, HOUR)
    trades                - Subscribe to trade confirmations and order updates
    account               - Subscribe to balance and margin updates

  Management:
    unsub <item-key>      - Cancel a subscription (key as shown by 'list')
    list                  - List active subscriptions
    status                - Show connection state and session id

  General:
    help                  - Show this help
    quit                  - Exit`)
}

func (s *shell) cmdMarket(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.stdout(), "Usage: market <epic>")
		return
	}
	if err := s.watchMarket(ctx, args[0]); err != nil {
		fmt.Fprintf(s.stdout(), "Error: %v\n", err)
	}
}

func (s *shell) cmdPrices(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.stdout(), "Usage: prices <epic>")
		return
	}
	sub, err := s.client.SubscribePrices(ctx, args[0])
	s.track(sub, err)
}

func (s *shell) cmdChart(ctx context.Context, args []string) {
	if len(args) < 1 || len(args) > 2 {
		fmt.Fprintln(s.stdout(), "Usage: chart <epic> [scale]")
		return
	}
	scale := streaming.ChartScaleSecond
	if len(args) == 2 {
		scale = streaming.ChartScale(strings.ToUpper(args[1]))
	}
	sub, err := s.client.SubscribeChart(ctx, args[0], scale)
	s.track(sub, err)
}

func (s *shell) cmdTrades(ctx context.Context) {
	sub, err := s.client.SubscribeTrades(ctx)
	s.track(sub, err)
}

func (s *shell) cmdAccount(ctx context.Context) {
	sub, err := s.client.SubscribeAccount(ctx)
	s.track(sub, err)
}

func (s *shell) watchMarket(ctx context.Context, epic string) error {
	sub, err := s.client.SubscribeMarket(ctx, epic,
		streaming.MarketFieldBid, streaming.MarketFieldOffer,
		streaming.MarketFieldChange, streaming.MarketFieldChangePct,
		streaming.MarketFieldUpdateTime, streaming.MarketFieldMarketState)
	if sub == nil {
		return err
	}
	s.track(sub, err)
	return nil
}

// track registers the subscription and starts printing its updates.
// A non-nil error with a valid subscription means the request is
// queued for the next session, so the stream is kept.
func (s *shell) track(sub *streaming.Subscription, err error) {
	if sub == nil {
		fmt.Fprintf(s.stdout(), "Error: %v\n", err)
		return
	}
	if err != nil {
		fmt.Fprintf(s.stdout(), "%s deferred to next session: %v\n", sub.ItemKey, err)
	} else {
		fmt.Fprintf(s.stdout(), "subscribed %s\n", sub.ItemKey)
	}

	s.mu.Lock()
	if _, exists := s.subs[sub.ItemKey]; exists {
		s.mu.Unlock()
		return
	}
	s.subs[sub.ItemKey] = sub
	s.mu.Unlock()

	go s.printUpdates(sub)
}

func (s *shell) printUpdates(sub *streaming.Subscription) {
	for u := range sub.Updates {
		fmt.Fprintln(s.stdout(), formatUpdate(u))
	}
}

func (s *shell) cmdUnsub(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.stdout(), "Usage: unsub <item-key>")
		return
	}
	key := args[0]

	s.mu.Lock()
	sub, ok := s.subs[key]
	if ok {
		delete(s.subs, key)
	}
	s.mu.Unlock()

	if !ok {
		fmt.Fprintf(s.stdout(), "No subscription for %s\n", key)
		return
	}
	if err := s.client.Unsubscribe(ctx, sub); err != nil {
		fmt.Fprintf(s.stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(s.stdout(), "unsubscribed %s\n", key)
}

func (s *shell) cmdList() {
	s.mu.Lock()
	keys := make([]string, 0, len(s.subs))
	for key := range s.subs {
		keys = append(keys, key)
	}
	s.mu.Unlock()

	if len(keys) == 0 {
		fmt.Fprintln(s.stdout(), "No active subscriptions")
		return
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(s.stdout(), "  %s\n", key)
	}
}

func (s *shell) cmdStatus() {
	fmt.Fprintf(s.stdout(), "state: %s\n", s.client.State())
	if id := s.client.SessionID(); id != "" {
		fmt.Fprintf(s.stdout(), "session: %s\n", id)
	}
	s.mu.Lock()
	n := len(s.subs)
	s.mu.Unlock()
	fmt.Fprintf(s.stdout(), "subscriptions: %d\n", n)
}

// formatUpdate renders one update as a single prompt-friendly line.
func formatUpdate(u dispatch.Update) string {
	var b strings.Builder
	switch u.Kind {
	case dispatch.KindSnapshot:
		b.WriteString("[snap] ")
	case dispatch.KindSnapshotEnd:
		fmt.Fprintf(&b, "[snap] %s complete", u.ItemKey)
		return b.String()
	default:
		b.WriteString("[live] ")
	}

	b.WriteString(u.ItemKey)
	for _, f := range u.Fields {
		if !f.Changed && u.Kind != dispatch.KindSnapshot {
			continue
		}
		if f.Null {
			fmt.Fprintf(&b, " %s=<null>", f.Name)
			continue
		}
		fmt.Fprintf(&b, " %s=%s", f.Name, f.Value)
	}
	return b.String()
}
