package streaming

import (
	"context"
	"fmt"

	"github.com/OpenLLT/ig-client/pkg/config"
	"github.com/OpenLLT/ig-client/pkg/connection"
	"github.com/OpenLLT/ig-client/pkg/dispatch"
	"github.com/OpenLLT/ig-client/pkg/log"
	"github.com/OpenLLT/ig-client/pkg/session"
	"github.com/OpenLLT/ig-client/pkg/subscription"
	"github.com/OpenLLT/ig-client/pkg/transport"
	"github.com/OpenLLT/ig-client/pkg/wire"
)

// Subscription is a live typed update stream.
type Subscription struct {
	// LocalID is the durable identifier, stable across reconnects.
	LocalID uint32

	// ItemKey is the subscribed item.
	ItemKey string

	// Updates delivers resolved updates until the subscription is
	// cancelled.
	Updates <-chan dispatch.Update
}

// Client is the high-level streaming client.
type Client struct {
	accountID  string
	registry   *subscription.Registry
	dispatcher *dispatch.Dispatcher
	supervisor *connection.Supervisor
}

// NewClient builds a client from configuration. accountID scopes the
// trade, account, and price feeds.
func NewClient(cfg *config.Config, accountID string, logger log.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var dialer transport.Dialer
	switch cfg.Server.Transport {
	case config.TransportWebSocket:
		dialer = &transport.WebSocketDialer{HandshakeTimeout: cfg.Server.ConnectTimeout}
	case config.TransportTCP:
		dialer = &transport.TCPDialer{ConnectTimeout: cfg.Server.ConnectTimeout}
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Server.Transport)
	}

	return NewClientWithDialer(cfg, accountID, dialer, logger), nil
}

// NewClientWithDialer builds a client over a caller-supplied dialer.
func NewClientWithDialer(cfg *config.Config, accountID string, dialer transport.Dialer, logger log.Logger) *Client {
	registry := subscription.NewRegistry(cfg.Dispatch.MaxSubscriptions)
	dispatcher := dispatch.New(dispatch.Config{
		QueueCapacity: cfg.Dispatch.QueueCapacity,
		DrainTimeout:  cfg.Dispatch.DrainTimeout,
	}, registry, logger)

	supervisor := connection.NewSupervisor(connection.Config{
		Endpoint: cfg.Server.Endpoint,
		Session: session.Config{
			Credentials: session.Credentials{
				Identifier: cfg.Account.Identifier,
				Password:   cfg.Account.Password,
				AdapterSet: cfg.Server.AdapterSet,
			},
			EstablishTimeout: cfg.Server.EstablishTimeout,
			Keepalive:        cfg.Server.Keepalive,
		},
		Backoff: connection.BackoffConfig{
			Base:        cfg.Reconnect.BackoffBase,
			Cap:         cfg.Reconnect.BackoffCap,
			MaxAttempts: cfg.Reconnect.MaxAttempts,
		},
	}, dialer, registry, dispatcher, logger)

	return &Client{
		accountID:  accountID,
		registry:   registry,
		dispatcher: dispatcher,
		supervisor: supervisor,
	}
}

// Connect establishes the streaming session. Subscriptions made
// beforehand are activated as part of connecting.
func (c *Client) Connect(ctx context.Context) error {
	return c.supervisor.Start(ctx)
}

// Close destroys the session and stops all recovery.
func (c *Client) Close(ctx context.Context) error {
	return c.supervisor.Close(ctx)
}

// State returns the supervisor state.
func (c *Client) State() connection.State {
	return c.supervisor.State()
}

// SessionID returns the current server session identifier, or "".
func (c *Client) SessionID() string {
	return c.supervisor.SessionID()
}

// OnSessionUp registers a callback for session establishment, with
// rebound true when an existing server session was resumed.
func (c *Client) OnSessionUp(fn func(sessionID string, rebound bool)) {
	c.supervisor.OnSessionUp(fn)
}

// OnResubscribe registers a callback for partial replay failures
// after a reconnect.
func (c *Client) OnResubscribe(fn func(err *connection.PartialResubscribeError)) {
	c.supervisor.OnResubscribe(fn)
}

// OnTerminal registers a callback invoked when recovery gives up.
func (c *Client) OnTerminal(fn func(err error)) {
	c.supervisor.OnTerminal(fn)
}

// SubscribeMarket streams market data for one epic. With no explicit
// fields the full market schema is requested.
func (c *Client) SubscribeMarket(ctx context.Context, epic string, fields ...MarketField) (*Subscription, error) {
	return c.subscribe(ctx, MarketItem(epic), marketSchema(fields), wire.ModeMerge)
}

// SubscribePrices streams the account-scoped price book for one epic.
func (c *Client) SubscribePrices(ctx context.Context, epic string, fields ...PriceField) (*Subscription, error) {
	return c.subscribe(ctx, PriceItem(c.accountID, epic), priceSchema(fields), wire.ModeMerge)
}

// SubscribeTrades streams trade confirmations, open position updates,
// and working order updates for the account.
func (c *Client) SubscribeTrades(ctx context.Context, fields ...TradeField) (*Subscription, error) {
	return c.subscribe(ctx, TradeItem(c.accountID), tradeSchema(fields), wire.ModeDistinct)
}

// SubscribeAccount streams balance and margin updates for the account.
func (c *Client) SubscribeAccount(ctx context.Context, fields ...AccountField) (*Subscription, error) {
	return c.subscribe(ctx, AccountItem(c.accountID), accountSchema(fields), wire.ModeMerge)
}

// SubscribeChart streams tick chart data for one epic at the given
// scale.
func (c *Client) SubscribeChart(ctx context.Context, epic string, scale ChartScale, fields ...ChartField) (*Subscription, error) {
	return c.subscribe(ctx, ChartItem(epic, scale), chartSchema(fields), wire.ModeDistinct)
}

// Unsubscribe cancels a subscription and closes its update channel.
func (c *Client) Unsubscribe(ctx context.Context, sub *Subscription) error {
	return c.supervisor.Unsubscribe(ctx, sub.LocalID)
}

// subscribe registers the subscription and returns its stream. When
// the session is down or the server momentarily refuses the request,
// the error is returned alongside a valid subscription: the intent is
// recorded and replayed on the next session.
func (c *Client) subscribe(ctx context.Context, itemKey string, schema []string, mode wire.Mode) (*Subscription, error) {
	localID, err := c.supervisor.Subscribe(ctx, itemKey, schema, mode)
	if localID == 0 {
		return nil, err
	}

	return &Subscription{
		LocalID: localID,
		ItemKey: itemKey,
		Updates: c.dispatcher.Updates(localID),
	}, err
}
