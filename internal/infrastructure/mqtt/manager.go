package mqtt

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/topicbridge/internal/infrastructure/config"
)

// eventBufferSize is the capacity of the event channel between the
// transport goroutines and the single consumer.
const eventBufferSize = 1024

// Logger interface for optional logging support.
// Compatible with logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Observer is notified of session activity, e.g. by a metrics collector.
//
// MessageReceived and PublishCompleted are called from the consumer
// goroutine. StateChanged is also called from the goroutine running
// Connect or Close, so implementations must be safe for concurrent use.
type Observer interface {
	StateChanged(s State)
	MessageReceived(topic string)
	PublishCompleted(topic string, err error)
}

// Manager owns the broker session lifecycle: connect, the session state
// machine, subscription bookkeeping and traffic statistics.
//
// Transport callbacks are turned into Events on a single channel. Exactly
// one goroutine must read Events() and hand each event to HandleEvent; all
// state transitions happen there, in arrival order.
//
// The consumer never waits on the broker. Subscribe and Publish issue the
// request and await the acknowledgement on their own goroutine, which posts
// an EventSubscribed or EventPublished back onto the channel.
//
// Thread Safety:
//   - State, IsConnected, Stats and ActiveSubscriptions may be called from any goroutine.
//   - Subscribe and HandleEvent are meant for the consumer goroutine.
//   - Publish may be called from any goroutine; its completion is serialized
//     through the event channel.
type Manager struct {
	cfg          config.MQTTConfig
	newTransport TransportFactory
	logger       Logger
	observer     Observer

	connectTimeout time.Duration
	opTimeout      time.Duration

	// ctx is cancelled by Close; pending acknowledgements are abandoned.
	ctx    context.Context
	cancel context.CancelFunc

	events    chan Event
	emitMu    sync.RWMutex
	closed    bool
	closeOnce sync.Once

	mu        sync.RWMutex
	state     State
	transport Transport
	active    map[string]byte
	pending   map[string]byte
	dynamic   map[string]byte

	// session counts handled connects; acks from an older session are dropped.
	session uint64

	received    atomic.Uint64
	sent        atomic.Uint64
	lastMessage atomic.Int64

	now func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithTransportFactory replaces the paho transport, e.g. with a test fake.
func WithTransportFactory(f TransportFactory) Option {
	return func(m *Manager) { m.newTransport = f }
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithObserver registers an observer for state, message and publish activity.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// NewManager creates a Manager in the Disconnected state.
//
// Parameters:
//   - cfg: Broker configuration; treated as immutable from here on
//   - opts: Optional transport, logger and observer
//
// Returns:
//   - *Manager: Ready for Connect
//   - error: If the broker configuration is unusable
func NewManager(cfg config.MQTTConfig, opts ...Option) (*Manager, error) {
	if cfg.Broker.Host == "" {
		return nil, fmt.Errorf("%w: broker host is required", ErrConnectionFailed)
	}
	if cfg.Broker.Port < 1 || cfg.Broker.Port > 65535 {
		return nil, fmt.Errorf("%w: broker port %d out of range", ErrConnectionFailed, cfg.Broker.Port)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:            cfg,
		newTransport:   NewPahoTransport,
		logger:         noopLogger{},
		connectTimeout: positiveOr(cfg.GetConnectTimeout(), 30*time.Second),
		opTimeout:      positiveOr(cfg.GetOperationTimeout(), 10*time.Second),
		ctx:            ctx,
		cancel:         cancel,
		events:         make(chan Event, eventBufferSize),
		state:          StateDisconnected,
		active:         make(map[string]byte),
		pending:        make(map[string]byte),
		dynamic:        make(map[string]byte),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Events returns the channel of transport events. It is closed by Close.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Connect starts a broker session and waits for the CONNACK.
//
// It is only valid from Disconnected. On success the session is open and
// an EventConnected is queued; the state becomes Connected when that event
// is handled. On failure the state returns to Disconnected.
//
// Parameters:
//   - ctx: Bounds the wait in addition to the configured connect timeout
//
// Returns:
//   - error: ErrAlreadyConnected, ErrClosed, or ErrConnectionFailed wrapping the cause
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.isClosed() {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrAlreadyConnected, m.state)
	}
	m.state = StateConnecting
	m.mu.Unlock()
	m.notifyState(StateConnecting)

	t, err := m.newTransport(m.cfg, m.handlers())
	if err != nil {
		m.setState(StateDisconnected)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// Stored before the wait: paho may report the connection before the
	// token completes.
	m.mu.Lock()
	m.transport = t
	m.mu.Unlock()

	if err := waitToken(ctx, t.Connect(), m.connectTimeout); err != nil {
		t.Disconnect(0)
		m.mu.Lock()
		m.transport = nil
		m.mu.Unlock()
		m.setState(StateDisconnected)
		return fmt.Errorf("%w: %s: %w", ErrConnectionFailed, BrokerURL(m.cfg), err)
	}

	m.logger.Info("connected to MQTT broker", "broker", BrokerURL(m.cfg), "client_id", m.cfg.Broker.ClientID)
	return nil
}

// handlers translates transport callbacks into queued events.
func (m *Manager) handlers() TransportHandlers {
	return TransportHandlers{
		OnConnect: func() {
			m.emit(Event{Kind: EventConnected})
		},
		OnConnectionLost: func(err error) {
			if err != nil {
				m.emit(Event{Kind: EventError, Err: err})
			}
			m.emit(Event{Kind: EventClosed})
			m.emit(Event{Kind: EventOffline, Err: err})
		},
		OnReconnecting: func() {
			m.emit(Event{Kind: EventReconnecting})
		},
		OnMessage: func(topic string, payload []byte) {
			m.emit(Event{Kind: EventMessage, Topic: topic, Payload: payload})
		},
	}
}

// emit queues ev for the consumer. It blocks while the buffer is full and
// gives up once the manager is closed.
func (m *Manager) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = m.now()
	}

	m.emitMu.RLock()
	defer m.emitMu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.events <- ev:
	case <-m.ctx.Done():
	}
}

// HandleEvent applies one event to the session state machine.
// It must be called from the single consumer of Events().
func (m *Manager) HandleEvent(ev Event) {
	switch ev.Kind {
	case EventConnected:
		m.onConnected()

	case EventMessage:
		m.received.Add(1)
		m.lastMessage.Store(ev.At.UnixNano())
		if m.observer != nil {
			m.observer.MessageReceived(ev.Topic)
		}

	case EventError:
		m.logger.Error("MQTT connection error", "error", ev.Err)
		m.setState(StateErrored)

	case EventClosed:
		m.logger.Warn("MQTT connection closed")
		m.setState(StateDisconnected)

	case EventOffline:
		m.logger.Warn("MQTT client offline", "error", ev.Err)
		m.setState(StateOffline)

	case EventReconnecting:
		m.logger.Info("MQTT reconnecting", "broker", BrokerURL(m.cfg))
		m.setState(StateReconnecting)

	case EventPublished:
		if ev.Err == nil {
			m.sent.Add(1)
		}
		if m.observer != nil {
			m.observer.PublishCompleted(ev.Topic, ev.Err)
		}
		if ev.done != nil {
			ev.done(ev.Err)
		}

	case EventSubscribed:
		m.onSubscribed(ev)
	}
}

// onSubscribed settles a pending subscription.
func (m *Manager) onSubscribed(ev Event) {
	m.mu.Lock()
	if ev.session != m.session {
		m.mu.Unlock()
		return
	}
	delete(m.pending, ev.Topic)
	if ev.Err == nil {
		m.active[ev.Topic] = ev.QoS
	}
	m.mu.Unlock()

	if ev.Err != nil {
		m.logger.Warn("subscription failed", "topic", ev.Topic, "error", ev.Err)
		return
	}
	m.logger.Debug("subscribed", "topic", ev.Topic, "qos", ev.QoS)
}

// onConnected moves to Connected, restores subscriptions and publishes
// the birth message.
func (m *Manager) onConnected() {
	m.mu.Lock()
	if m.transport == nil {
		// Late event from a session that was already torn down.
		m.mu.Unlock()
		return
	}
	m.active = make(map[string]byte)
	m.pending = make(map[string]byte)
	m.session++
	m.mu.Unlock()
	m.setState(StateConnected)

	for _, sub := range m.restoreList() {
		if err := m.subscribe(sub.topic, sub.qos); err != nil {
			m.logger.Warn("subscription failed after connect", "topic", sub.topic, "error", err)
		}
	}

	birth := m.cfg.Birth
	if birth.Topic != "" {
		err := m.Publish(birth.Topic, []byte(birth.Payload), byte(birth.QoS), birth.Retain, func(err error) { //nolint:gosec // qos validated by config
			if err != nil {
				m.logger.Warn("birth message not acknowledged", "topic", birth.Topic, "error", err)
			}
		})
		if err != nil {
			m.logger.Warn("birth message not sent", "topic", birth.Topic, "error", err)
		}
	}
}

type topicQoS struct {
	topic string
	qos   byte
}

// restoreList returns the enabled configured subscriptions, the discovery
// wildcards and runtime topics, de-duplicated by topic.
func (m *Manager) restoreList() []topicQoS {
	seen := make(map[string]bool)
	var out []topicQoS
	add := func(topic string, qos byte) {
		if seen[topic] {
			return
		}
		seen[topic] = true
		out = append(out, topicQoS{topic: topic, qos: qos})
	}

	for _, s := range m.cfg.Subscriptions {
		if s.IsEnabled() {
			add(s.Topic, byte(s.QoS)) //nolint:gosec // qos validated by config
		}
	}
	if m.cfg.AutoDiscovery {
		for _, w := range DiscoveryWildcards(m.cfg.DiscoveryPrefix) {
			add(w, 0)
		}
	}

	m.mu.RLock()
	dynamic := make([]topicQoS, 0, len(m.dynamic))
	for topic, qos := range m.dynamic {
		dynamic = append(dynamic, topicQoS{topic: topic, qos: qos})
	}
	m.mu.RUnlock()
	sort.Slice(dynamic, func(i, j int) bool { return dynamic[i].topic < dynamic[j].topic })
	for _, d := range dynamic {
		add(d.topic, d.qos)
	}
	return out
}

// Subscribe adds a topic filter to the session without waiting for the SUBACK.
//
// It is a no-op when the filter is already active or awaiting its
// acknowledgement. Otherwise the request is sent and the SUBACK is awaited
// in the background, bounded by the operation timeout, and reported as an
// EventSubscribed; handling it adds the filter to ActiveSubscriptions.
// Topics subscribed this way are restored after every reconnect. Failures
// are logged when the event is handled and are not retried.
//
// Returns:
//   - error: ErrInvalidTopic, ErrInvalidQoS, or ErrSubscribeFailed when not connected
func (m *Manager) Subscribe(ctx context.Context, topic string, qos byte) error {
	if err := ValidateFilter(topic); err != nil {
		return err
	}
	if err := validQoS(qos); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}

	m.mu.Lock()
	m.dynamic[topic] = qos
	m.mu.Unlock()

	return m.subscribe(topic, qos)
}

func (m *Manager) subscribe(topic string, qos byte) error {
	m.mu.Lock()
	_, active := m.active[topic]
	_, pending := m.pending[topic]
	t := m.transport
	state := m.state
	session := m.session
	if !active && !pending && state == StateConnected && t != nil {
		m.pending[topic] = qos
	}
	m.mu.Unlock()

	if active || pending {
		return nil
	}
	if state != StateConnected || t == nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, ErrNotConnected)
	}

	tok := t.Subscribe(topic, qos)
	go func() {
		err := waitToken(m.ctx, tok, m.opTimeout)
		if err != nil {
			err = fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
		}
		m.emit(Event{Kind: EventSubscribed, Topic: topic, QoS: qos, Err: err, session: session})
	}()
	return nil
}

// Publish sends payload to topic without waiting for the acknowledgement.
//
// It fails immediately with ErrNotConnected unless the state is Connected;
// the transport is not touched in that case. Otherwise the acknowledgement
// is awaited in the background and reported as an EventPublished, whose
// handling increments MessagesSent and then calls done (which may be nil).
//
// Returns:
//   - error: ErrInvalidTopic, ErrInvalidQoS, ErrPublishFailed or ErrNotConnected
func (m *Manager) Publish(topic string, payload []byte, qos byte, retain bool, done func(error)) error {
	if err := ValidatePublishTopic(topic); err != nil {
		return err
	}
	if err := validQoS(qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	m.mu.RLock()
	t := m.transport
	state := m.state
	m.mu.RUnlock()

	if state != StateConnected || t == nil {
		return ErrNotConnected
	}

	tok := t.Publish(topic, qos, retain, payload)
	go func() {
		err := waitToken(m.ctx, tok, m.opTimeout)
		if err != nil {
			err = fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
		}
		m.emit(Event{Kind: EventPublished, Topic: topic, Err: err, done: done})
	}()
	return nil
}

// Close ends the session. It is safe to call from any state, more than once.
//
// Pending acknowledgements are abandoned first, then the transport is disconnected
// unconditionally (which also stops paho's reconnect loop) and the state
// becomes Disconnected. The event channel is closed afterwards.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		t := m.transport
		wasConnected := m.state == StateConnected
		m.transport = nil
		m.active = make(map[string]byte)
		m.pending = make(map[string]byte)
		m.mu.Unlock()

		// Unblocks transport callbacks stuck on a full event buffer.
		m.cancel()

		if t != nil {
			will := m.cfg.LastWill
			if wasConnected && will.Topic != "" {
				// Graceful offline status; the broker only sends the will on unexpected loss.
				tok := t.Publish(will.Topic, byte(will.QoS), will.Retain, []byte(will.Payload)) //nolint:gosec // qos validated by config
				_ = waitToken(context.Background(), tok, farewellTimeout)                      //nolint:errcheck // best effort
			}
			t.Disconnect(disconnectQuiesce)
		}

		m.setState(StateDisconnected)

		m.emitMu.Lock()
		m.closed = true
		close(m.events)
		m.emitMu.Unlock()

		m.logger.Info("MQTT session closed")
	})
	return nil
}

func (m *Manager) isClosed() bool {
	m.emitMu.RLock()
	defer m.emitMu.RUnlock()
	return m.closed
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()

	if prev != s {
		m.logger.Debug("MQTT state changed", "from", prev.String(), "to", s.String())
		m.notifyState(s)
	}
}

func (m *Manager) notifyState(s State) {
	if m.observer != nil {
		m.observer.StateChanged(s)
	}
}

// State returns the current session state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected reports whether the state is Connected.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Stats returns a snapshot of the traffic counters.
func (m *Manager) Stats() Stats {
	s := Stats{
		MessagesReceived: m.received.Load(),
		MessagesSent:     m.sent.Load(),
	}
	if ns := m.lastMessage.Load(); ns != 0 {
		s.LastMessage = time.Unix(0, ns).UTC()
	}
	return s
}

// ActiveSubscriptions returns the acknowledged topic filters, sorted.
func (m *Manager) ActiveSubscriptions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.active))
	for topic := range m.active {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}

// HealthCheck returns ErrNotConnected unless the session is Connected.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !m.IsConnected() {
		return fmt.Errorf("%w (state %s)", ErrNotConnected, m.State())
	}
	return nil
}

func positiveOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
