package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/fleet-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/fleet-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/fleet-bridge/internal/telemetry"
)

// inboxSize bounds the number of queued client operations per session.
const inboxSize = 256

// serviceCallGrace is added to the subscribe timeout for a service call's deadline.
const serviceCallGrace = 5 * time.Second

// ServiceCaller issues a service call on behalf of a session.
type ServiceCaller func(ctx context.Context, s *Session, cmd ServiceCallCommand) (ServiceCallResult, error)

// Options configures a Session. Zero values select defaults.
type Options struct {
	// Dial creates broker links. Defaults to PahoDialer.
	Dial Dialer

	// Resolver turns a connect command into a connection config. Without
	// one, connect commands must carry an explicit config.
	Resolver ConfigResolver

	// Notify receives every client notification. It is called from the
	// session loop and from command goroutines, so it must be safe for
	// concurrent use and must not block.
	Notify func(Notification)

	// SubscribeTimeout defaults to DefaultSubscribeTimeout.
	SubscribeTimeout time.Duration

	// HistoryLimit defaults to telemetry.DefaultHistoryLimit.
	HistoryLimit int

	// DeviceIDRule defaults to the namespace rule for mqtt.DefaultNamespace.
	DeviceIDRule *telemetry.Rule

	// Observer sees every routed publication on the session loop.
	Observer func(telemetry.Publication)

	// OnConnected runs in its own goroutine each time the session becomes
	// Connected. Use it to restore subscriptions automatically.
	OnConnected func(*Session)

	// ServiceCall handles service_call commands.
	ServiceCall ServiceCaller

	Logger *logging.Logger
	Now    func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	if o.Dial == nil {
		o.Dial = PahoDialer(o.Logger)
	}
	if o.SubscribeTimeout <= 0 {
		o.SubscribeTimeout = DefaultSubscribeTimeout
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = telemetry.DefaultHistoryLimit
	}
	if o.DeviceIDRule == nil {
		rule := telemetry.NamespaceRule(mqtt.DefaultNamespace)
		o.DeviceIDRule = &rule
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Session is one client's bridge to the broker.
type Session struct {
	id        string
	opts      Options
	logger    *logging.Logger
	createdAt time.Time

	inbox     chan func()
	events    *eventQueue
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	state atomic.Int32

	// Everything below is owned by the event loop.
	link        Link
	gen         uint64
	cfg         mqtt.ConnectionConfig
	connectedAt time.Time
	registry    *Registry
	router      *telemetry.Router
	previous    []SubscriptionEntry
	waiters     []chan error
	received    uint64
	published   uint64
}

// NewSession creates a session and starts its event loop. Close releases it.
func NewSession(id string, opts Options) *Session {
	opts = opts.withDefaults()

	routerOpts := []telemetry.RouterOption{telemetry.WithClock(opts.Now)}
	if opts.Observer != nil {
		routerOpts = append(routerOpts, telemetry.WithObserver(opts.Observer))
	}

	s := &Session{
		id:        id,
		opts:      opts,
		logger:    opts.Logger.With("session_id", id),
		createdAt: opts.Now(),
		inbox:     make(chan func(), inboxSize),
		events:    newEventQueue(),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
		registry:  NewRegistry(opts.Now),
		router:    telemetry.NewRouter(*opts.DeviceIDRule, opts.HistoryLimit, routerOpts...),
	}
	go s.run()
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns when the session was opened.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// State returns the current connection state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

func (s *Session) run() {
	defer close(s.stopped)
	for {
		select {
		case fn := <-s.inbox:
			fn()
		case <-s.events.ready:
			for _, e := range s.events.drain() {
				s.handleLinkEvent(e)
			}
		case <-s.done:
			return
		}
	}
}

// post queues fn on the loop without waiting for it.
func (s *Session) post(fn func()) bool {
	select {
	case s.inbox <- fn:
		return true
	case <-s.done:
		return false
	}
}

// call runs fn on the loop and waits for it to finish.
func (s *Session) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case s.inbox <- func() { defer close(finished); fn() }:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-s.stopped:
		return ErrSessionClosed
	}
}

func (s *Session) notify(n Notification) {
	if s.opts.Notify != nil {
		s.opts.Notify(n)
	}
}

// Close disconnects the broker link, fails pending operations and stops
// the event loop. History and device state are released with the session.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		_ = s.call(context.Background(), func() {
			s.teardown(ErrSessionClosed, false)
		})
		close(s.done)
		<-s.stopped
		s.logger.Debug("session closed")
	})
}

// Connect resolves the connection config for cmd and opens the broker link.
// It returns once the broker accepts or rejects the connection. When the
// session is already Connecting or Connected no new link is opened: the
// call waits for the attempt in progress, or returns nil at once.
func (s *Session) Connect(ctx context.Context, cmd ConnectCommand) error {
	for {
		var cfg *mqtt.ConnectionConfig
		if s.State() == StateDisconnected {
			resolved, err := s.resolve(ctx, cmd)
			if err != nil {
				s.notify(ConnectResult{Success: false, Error: err.Error()})
				return err
			}
			cfg = &resolved
		}

		var wait chan error
		if err := s.call(ctx, func() { wait = s.startConnect(cfg) }); err != nil {
			return err
		}
		if wait == nil {
			// The session dropped to Disconnected after the state check.
			continue
		}

		select {
		case err := <-wait:
			return err
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopped:
			return ErrSessionClosed
		}
	}
}

func (s *Session) resolve(ctx context.Context, cmd ConnectCommand) (mqtt.ConnectionConfig, error) {
	var cfg mqtt.ConnectionConfig
	switch {
	case s.opts.Resolver != nil:
		resolved, err := s.opts.Resolver.Resolve(ctx, cmd)
		if err != nil {
			return cfg, err
		}
		cfg = resolved
	case cmd.Config != nil:
		cfg = *cmd.Config
	default:
		return cfg, fmt.Errorf("%w: connect requires config", ErrInvalidCommand)
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// startConnect runs on the loop. It returns nil when a config is needed
// but was not resolved.
func (s *Session) startConnect(cfg *mqtt.ConnectionConfig) chan error {
	wait := make(chan error, 1)
	switch s.State() {
	case StateConnected:
		wait <- nil
		s.notify(ConnectResult{Success: true})
		return wait
	case StateConnecting:
		s.waiters = append(s.waiters, wait)
		return wait
	}
	if cfg == nil {
		return nil
	}

	s.gen++
	gen := s.gen
	s.cfg = *cfg
	s.link = s.opts.Dial(*cfg, func(ev mqtt.Event) {
		s.events.push(linkEvent{gen: gen, ev: ev})
	})
	s.setState(StateConnecting)
	s.waiters = append(s.waiters, wait)

	s.logger.Info("connecting to broker", "url", cfg.BrokerURL(), "client_id", cfg.ClientID)
	s.link.Connect()
	return wait
}

func (s *Session) releaseWaiters(err error) {
	for _, w := range s.waiters {
		w <- err
	}
	s.waiters = nil
}

func (s *Session) handleLinkEvent(e linkEvent) {
	if e.gen != s.gen || s.link == nil {
		return
	}
	ev := e.ev

	switch ev.Kind {
	case mqtt.EventConnected:
		if s.State() != StateConnecting {
			return
		}
		s.setState(StateConnected)
		s.connectedAt = s.opts.Now()
		s.releaseWaiters(nil)
		s.logger.Info("connected to broker", "url", s.cfg.BrokerURL())
		s.notify(ConnectResult{Success: true})
		s.notify(Connected{})
		if hook := s.opts.OnConnected; hook != nil {
			go hook(s)
		}

	case mqtt.EventConnectFailed:
		class := errorClass(ev.Err)
		s.logger.Warn("broker connection failed", "url", s.cfg.BrokerURL(), "class", class, "error", ev.Err)
		s.notify(BrokerError{Message: ev.Err.Error(), Class: class})
		s.notify(ConnectResult{Success: false, Error: ev.Err.Error(), Class: class})
		s.teardown(ev.Err, false)

	case mqtt.EventConnectionLost:
		class := errorClass(ev.Err)
		s.logger.Warn("broker connection lost", "class", class, "error", ev.Err)
		if class != string(mqtt.ClassClosed) {
			s.notify(BrokerError{Message: ev.Err.Error(), Class: class})
		}
		s.teardown(ev.Err, true)

	case mqtt.EventMessage:
		s.received++
		s.router.Route(ev.Message)
		s.notify(MessageReceived{
			Topic:   ev.Message.Topic,
			Payload: string(ev.Message.Payload),
			QoS:     ev.Message.QoS,
			Retain:  ev.Message.Retain,
		})

	case mqtt.EventSubscribed:
		s.registry.Confirm(ev.Topic, ev.QoS, ev.Result, ev.Err)

	case mqtt.EventPublished:
		res := PublishResult{Topic: ev.Topic}
		if ev.Err != nil {
			res.Error = ev.Err.Error()
		} else {
			zero := 0
			res.Result = &zero
		}
		s.notify(res)
	}
}

func errorClass(err error) string {
	var te *mqtt.TransportError
	if errors.As(err, &te) {
		return string(te.Class)
	}
	return ""
}

// teardown moves the session to Disconnected. It closes the link, keeps the
// confirmed subscriptions as the previous set, clears the registry and fails
// everything still waiting. History and device state are kept.
func (s *Session) teardown(cause error, announce bool) {
	wasActive := s.State() != StateDisconnected

	if s.link != nil {
		link := s.link
		s.link = nil
		go link.Close()
	}
	s.gen++

	if entries := s.registry.Entries(); len(entries) > 0 {
		s.previous = entries
	}
	s.registry.FailAll(ErrCanceled)
	s.registry.Clear()

	s.setState(StateDisconnected)
	s.connectedAt = time.Time{}

	if cause == nil {
		cause = ErrCanceled
	}
	s.releaseWaiters(cause)

	if announce && wasActive {
		reason := ""
		if !errors.Is(cause, ErrCanceled) {
			reason = cause.Error()
		}
		s.notify(Disconnected{Reason: reason})
	}
}

// Disconnect closes the broker link. It is a no-op when already Disconnected.
func (s *Session) Disconnect(ctx context.Context) error {
	return s.call(ctx, func() {
		if s.State() == StateDisconnected {
			return
		}
		s.logger.Info("disconnecting from broker")
		s.teardown(ErrCanceled, true)
	})
}

// Subscribe requests topic and waits for the broker's confirmation.
//
// It fails with ErrNotConnected unless the session is Connected, with
// ErrSubscriptionTimeout when no confirmation arrives in time, with a
// *SubscribeError when the broker refuses, and with ErrCanceled when the
// session disconnects first. Cancelling ctx stops the wait but leaves the
// request pending until it settles or times out.
func (s *Session) Subscribe(ctx context.Context, topic string, qos byte) error {
	if err := validateSubscribe(topic, qos); err != nil {
		return err
	}

	result := make(chan error, 1)
	var startErr error
	err := s.call(ctx, func() {
		startErr = s.beginSubscribe(topic, qos, func(_ *Pending, err error) { result <- err })
	})
	if err != nil {
		return err
	}
	if startErr != nil {
		return startErr
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func validateSubscribe(topic string, qos byte) error {
	if err := mqtt.ValidateFilter(topic); err != nil {
		return err
	}
	if qos > 2 {
		return mqtt.ErrInvalidQoS
	}
	return nil
}

// beginSubscribe runs on the loop.
func (s *Session) beginSubscribe(topic string, qos byte, onSettle func(*Pending, error)) error {
	if s.State() != StateConnected {
		return ErrNotConnected
	}

	p := s.registry.Begin(topic, qos, onSettle)
	if err := s.link.Subscribe(topic, qos); err != nil {
		s.registry.Fail(p, &SubscribeError{Topic: topic, Err: err})
		return nil
	}

	p.timer = time.AfterFunc(s.opts.SubscribeTimeout, func() {
		s.post(func() {
			if s.registry.Expire(p) {
				s.logger.Warn("subscription timed out", "topic", topic, "timeout", s.opts.SubscribeTimeout)
			}
		})
	})
	return nil
}

// subscribeAndNotify issues a subscribe whose outcome is reported as a
// SubscribeResult notification.
func (s *Session) subscribeAndNotify(topic string, qos byte) {
	if err := validateSubscribe(topic, qos); err != nil {
		s.notify(SubscribeResult{Topic: topic, QoS: qos, Error: err.Error()})
		return
	}
	s.post(func() {
		err := s.beginSubscribe(topic, qos, func(p *Pending, err error) {
			s.notify(subscribeResultFor(p, err))
		})
		if err != nil {
			s.notify(SubscribeResult{Topic: topic, QoS: qos, Error: err.Error()})
		}
	})
}

func subscribeResultFor(p *Pending, err error) SubscribeResult {
	res := SubscribeResult{Topic: p.Topic, QoS: p.QoS}
	var se *SubscribeError
	switch {
	case err == nil:
		zero := 0
		res.Result = &zero
		res.QoS = p.Granted
	case errors.As(err, &se) && se.Code != nil:
		res.Result = se.Code
		res.Error = err.Error()
	default:
		res.Error = err.Error()
	}
	return res
}

// Unsubscribe drops topic from the registry at once and asks the broker to
// remove it without waiting for the acknowledgement.
func (s *Session) Unsubscribe(ctx context.Context, topic string) error {
	if err := mqtt.ValidateFilter(topic); err != nil {
		return err
	}
	var opErr error
	err := s.call(ctx, func() {
		if s.State() != StateConnected {
			opErr = ErrNotConnected
			return
		}
		s.registry.Remove(topic)
		opErr = s.link.Unsubscribe(topic)
	})
	if err != nil {
		return err
	}
	return opErr
}

// Publish hands a message to the broker link and returns without waiting
// for delivery. The outcome is reported as a PublishResult notification.
func (s *Session) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	var opErr error
	err := s.call(ctx, func() {
		if s.State() != StateConnected {
			opErr = ErrNotConnected
			return
		}
		if opErr = s.link.Publish(topic, payload, qos, retain); opErr == nil {
			s.published++
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

// RestoreSubscriptions re-issues the subscriptions confirmed before the
// last disconnect. Outcomes are reported as SubscribeResult notifications.
// It returns the topics requested.
func (s *Session) RestoreSubscriptions(ctx context.Context) ([]string, error) {
	var topics []string
	var opErr error
	err := s.call(ctx, func() {
		if s.State() != StateConnected {
			opErr = ErrNotConnected
			return
		}
		for _, e := range s.previous {
			err := s.beginSubscribe(e.Topic, e.QoS, func(p *Pending, err error) {
				s.notify(subscribeResultFor(p, err))
			})
			if err != nil {
				opErr = err
				return
			}
			topics = append(topics, e.Topic)
		}
	})
	if err != nil {
		return nil, err
	}
	if len(topics) > 0 {
		s.logger.Info("restoring subscriptions", "count", len(topics))
	}
	return topics, opErr
}

// Dispatch executes a client command, reporting outcomes as notifications.
// It does not wait for broker round trips.
func (s *Session) Dispatch(cmd Command) {
	ctx := context.Background()

	switch c := cmd.(type) {
	case ConnectCommand:
		go func() {
			if err := s.Connect(ctx, c); err != nil {
				s.logger.Debug("connect command failed", "error", err)
			}
		}()

	case SubscribeCommand:
		s.subscribeAndNotify(c.Topic, c.QoS)

	case UnsubscribeCommand:
		if err := s.Unsubscribe(ctx, c.Topic); err != nil {
			s.notify(CommandError{Message: fmt.Sprintf("unsubscribe %q: %v", c.Topic, err)})
		}

	case PublishCommand:
		if err := s.Publish(ctx, c.Topic, c.PayloadBytes(), c.QoS, c.Retain); err != nil {
			s.notify(PublishResult{Topic: c.Topic, Error: err.Error()})
		}

	case DisconnectCommand:
		if err := s.Disconnect(ctx); err != nil {
			s.notify(CommandError{Message: err.Error()})
		}

	case ServiceCallCommand:
		go s.serviceCall(c)

	case RestoreSubscriptionsCommand:
		if _, err := s.RestoreSubscriptions(ctx); err != nil {
			s.notify(CommandError{Message: "restore subscriptions: " + err.Error()})
		}

	default:
		s.notify(CommandError{Message: fmt.Sprintf("unsupported command %T", cmd)})
	}
}

func (s *Session) serviceCall(cmd ServiceCallCommand) {
	if s.opts.ServiceCall == nil {
		s.notify(ServiceCallResult{Method: cmd.Method, Error: ErrServiceCallsDisabled.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.SubscribeTimeout+serviceCallGrace)
	defer cancel()

	res, err := s.opts.ServiceCall(ctx, s, cmd)
	if err != nil {
		res.Method = cmd.Method
		res.Error = err.Error()
	}
	s.notify(res)
}
