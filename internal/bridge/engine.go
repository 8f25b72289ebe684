package bridge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/nerrad567/topicbridge/internal/device"
	"github.com/nerrad567/topicbridge/internal/infrastructure/config"
	"github.com/nerrad567/topicbridge/internal/infrastructure/mqtt"
)

// Engine constants.
const (
	// requestBuffer is the capacity of the outbound request queue.
	requestBuffer = 256

	// publishPrefix marks state ids that publish their value verbatim:
	// publish.a.b publishes to a/b.
	publishPrefix = "publish."

	// lastMessageLayout renders info.lastMessage (ISO-8601, milliseconds, UTC).
	lastMessageLayout = "2006-01-02T15:04:05.000Z07:00"
)

// Store ids maintained by the engine.
const (
	stateConnection       = "info.connection"
	stateLastMessage      = "info.lastMessage"
	stateMessagesReceived = "stats.messagesReceived"
	stateMessagesSent     = "stats.messagesSent"
)

// Session is the broker session the engine drives.
// *mqtt.Manager satisfies it.
type Session interface {
	Events() <-chan mqtt.Event
	HandleEvent(ev mqtt.Event)
	Subscribe(ctx context.Context, topic string, qos byte) error
	Publish(topic string, payload []byte, qos byte, retain bool, done func(error)) error
	IsConnected() bool
	Stats() mqtt.Stats
}

// Store is the device/state store the engine reads and writes.
// *device.Registry satisfies it.
type Store interface {
	CreateObjectIfAbsent(ctx context.Context, obj device.Object) (bool, error)
	UpdateObjectRole(ctx context.Context, id, role, valueType string) error
	DeleteObjectTree(ctx context.Context, root string) (int, error)
	SetState(ctx context.Context, id string, value any, ack bool) error
	Subscribe(fn device.ChangeFunc) func()
}

// History records confirmed device values, e.g. to a time-series database.
type History interface {
	WriteStateChange(id string, value any, at time.Time)
}

// Metrics counts bridge-level outcomes. Traffic counters are reported by
// the session observer instead.
type Metrics interface {
	DiscoveryEvent(action string)
	UnmappedMessage()
}

// Logger interface for optional logging support.
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

type noopHistory struct{}

func (noopHistory) WriteStateChange(string, any, time.Time) {}

type noopMetrics struct{}

func (noopMetrics) DiscoveryEvent(string) {}
func (noopMetrics) UnmappedMessage()      {}

// Options holds the collaborators of an Engine.
type Options struct {
	// Session is the broker session. Required.
	Session Session

	// Store is the device/state store. Required.
	Store Store

	// Config supplies the topic mappings and the discovery prefix.
	Config config.MQTTConfig

	// Matcher maps topics to devices. Defaults to NewMatcher().
	Matcher *Matcher

	// Logger is optional.
	Logger Logger

	// History is optional; confirmed device values are written to it.
	History History

	// Metrics is optional.
	Metrics Metrics
}

// request is an outbound job for the processing loop. Store notifications
// carry a state; manual publishes carry a topic and a result channel.
type request struct {
	state  device.State
	topic  string
	value  any
	result chan error
}

// Engine translates between broker topics and the device/state store.
//
// All inbound messages, session events and outbound state changes are
// handled on the goroutine running Run, one at a time. The only methods
// meant for other goroutines are RequestPublish and RequestStateChange.
type Engine struct {
	session   Session
	store     Store
	logger    Logger
	history   History
	metrics   Metrics
	matcher   *Matcher
	discovery *Discovery

	// mappings is keyed by state id; the first enabled mapping wins.
	mappings map[string]config.TopicMapping

	// bindings maps discovered state/availability topics to state ids.
	// Only touched by the processing loop.
	bindings map[string]string

	requests chan request
	stopped  chan struct{}
	running  atomic.Bool

	now func() time.Time
}

// NewEngine creates an engine. Call Run to start processing.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Session == nil {
		return nil, fmt.Errorf("%w: session is required", ErrInvalidOptions)
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidOptions)
	}

	e := &Engine{
		session:   opts.Session,
		store:     opts.Store,
		logger:    opts.Logger,
		history:   opts.History,
		metrics:   opts.Metrics,
		matcher:   opts.Matcher,
		discovery: NewDiscovery(opts.Config.DiscoveryPrefix),
		mappings:  make(map[string]config.TopicMapping),
		bindings:  make(map[string]string),
		requests:  make(chan request, requestBuffer),
		stopped:   make(chan struct{}),
		now:       time.Now,
	}
	if e.logger == nil {
		e.logger = noopLogger{}
	}
	if e.history == nil {
		e.history = noopHistory{}
	}
	if e.metrics == nil {
		e.metrics = noopMetrics{}
	}
	if e.matcher == nil {
		e.matcher = NewMatcher()
	}

	for _, m := range opts.Config.Mappings {
		if !m.IsEnabled() {
			continue
		}
		if _, exists := e.mappings[m.StateID]; !exists {
			e.mappings[m.StateID] = m
		}
	}

	return e, nil
}

// Run processes session events and outbound requests until ctx is cancelled
// or the session's event channel is closed. It may only be called once.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: Run called twice", ErrInvalidOptions)
	}
	defer close(e.stopped)

	if err := e.ensureInfoObjects(ctx); err != nil {
		return err
	}
	e.setConfirmed(ctx, stateConnection, e.session.IsConnected())

	unsubscribe := e.store.Subscribe(e.onStoreChange)
	defer unsubscribe()

	e.logger.Info("bridge engine started",
		"mappings", len(e.mappings),
		"rules", strings.Join(e.matcher.Rules(), ","),
		"discovery_prefix", e.discovery.Prefix())

	events := e.session.Events()
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("bridge engine stopped")
			return nil
		case ev, ok := <-events:
			if !ok {
				e.logger.Info("session closed, bridge engine stopped")
				return nil
			}
			e.dispatch(func() { e.handleEvent(ctx, ev) })
		case req := <-e.requests:
			e.dispatch(func() { e.handleRequest(ctx, req) })
		}
	}
}

// dispatch runs fn, logging a panic instead of ending the loop.
func (e *Engine) dispatch(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic in bridge engine", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

// ensureInfoObjects creates the info and stats objects.
func (e *Engine) ensureInfoObjects(ctx context.Context) error {
	objects := []device.Object{
		{ID: "info", Type: device.TypeChannel, Name: "Information"},
		{ID: stateConnection, Type: device.TypeState, Name: "MQTT Connection Status", Role: "indicator.connected", ValueType: device.ValueBoolean, Read: true},
		{ID: stateLastMessage, Type: device.TypeState, Name: "Last Message Time", Role: "date", ValueType: device.ValueString, Read: true},
		{ID: "stats", Type: device.TypeChannel, Name: "Statistics"},
		{ID: stateMessagesReceived, Type: device.TypeState, Name: "Messages Received", Role: RoleValue, ValueType: device.ValueNumber, Read: true},
		{ID: stateMessagesSent, Type: device.TypeState, Name: "Messages Sent", Role: RoleValue, ValueType: device.ValueNumber, Read: true},
	}
	for _, obj := range objects {
		if _, err := e.store.CreateObjectIfAbsent(ctx, obj); err != nil {
			return fmt.Errorf("creating %s: %w", obj.ID, err)
		}
	}
	return nil
}

// handleEvent applies a session event, then mirrors its effect into the store.
func (e *Engine) handleEvent(ctx context.Context, ev mqtt.Event) {
	e.session.HandleEvent(ev)

	switch ev.Kind {
	case mqtt.EventMessage:
		stats := e.session.Stats()
		e.setConfirmed(ctx, stateMessagesReceived, float64(stats.MessagesReceived))
		e.setConfirmed(ctx, stateLastMessage, ev.At.UTC().Format(lastMessageLayout))
		e.handleMessage(ctx, ev.Topic, ev.Payload)

	case mqtt.EventPublished:
		if ev.Err == nil {
			e.setConfirmed(ctx, stateMessagesSent, float64(e.session.Stats().MessagesSent))
		}

	case mqtt.EventConnected, mqtt.EventError, mqtt.EventClosed,
		mqtt.EventOffline, mqtt.EventReconnecting:
		e.setConfirmed(ctx, stateConnection, e.session.IsConnected())
	}
}

// handleMessage routes one inbound message to discovery, a matched device,
// a discovered binding or the raw container, in that order.
func (e *Engine) handleMessage(ctx context.Context, topic string, raw []byte) {
	p := ParsePayload(raw)
	e.logger.Debug("MQTT message received", "topic", topic, "payload", p.Raw)

	if e.discovery.IsDiscoveryTopic(topic) {
		e.handleDiscovery(ctx, topic, p)
		return
	}

	if m, ok := e.matcher.Match(topic); ok {
		e.updateDeviceState(ctx, topic, m, p)
		return
	}

	if id, ok := e.bindings[topic]; ok {
		e.writeState(ctx, id, p.StateValue())
		return
	}

	e.storeRawTopic(ctx, topic, p)
}

// updateDeviceState creates the matched device and property if needed and
// writes the value. A match that yields no valid store id is kept as a raw
// topic instead.
func (e *Engine) updateDeviceState(ctx context.Context, topic string, m Match, p Payload) {
	id := m.StateID()
	if err := device.ValidateID(id); err != nil {
		e.logger.Debug("matched topic kept as raw", "topic", topic, "error", err)
		e.storeRawTopic(ctx, topic, p)
		return
	}

	if err := e.createDevice(ctx, m.Descriptor()); err != nil {
		e.logger.Error("failed to create device", "device", m.DeviceID, "error", err)
		return
	}

	value := p.StateValue()
	role := InferRole(m.Property, value)
	vt := valueType(value)

	created, err := e.store.CreateObjectIfAbsent(ctx, device.Object{
		ID:        id,
		Type:      device.TypeState,
		Name:      clipName(m.Property),
		Role:      role,
		ValueType: vt,
		Read:      true,
	})
	if err != nil {
		e.logger.Error("failed to create state", "id", id, "error", err)
		return
	}
	if !created {
		// The value type may change between messages; the role follows it.
		if err := e.store.UpdateObjectRole(ctx, id, role, vt); err != nil {
			e.logger.Warn("failed to update role", "id", id, "error", err)
		}
	}

	e.writeState(ctx, id, value)
}

// createDevice stores a device object unless it already exists.
func (e *Engine) createDevice(ctx context.Context, desc Descriptor) error {
	native := make(map[string]any)
	if desc.Room != "" {
		native["room"] = desc.Room
	}
	if desc.Component != "" {
		native["component"] = desc.Component
		native["config"] = desc.Config
		native["discoveryTopic"] = desc.DiscoveryTopic
	}
	if desc.Component == "" || desc.AvailabilityTopic != "" {
		native["onlineId"] = desc.ID + ".available"
	}

	created, err := e.store.CreateObjectIfAbsent(ctx, device.Object{
		ID:     desc.ID,
		Type:   device.TypeDevice,
		Name:   clipName(desc.Name),
		Native: native,
	})
	if err != nil {
		return err
	}
	if created {
		e.logger.Info("device created", "id", desc.ID, "name", desc.Name)
	}
	return nil
}

// handleDiscovery applies a discovery announcement or removal.
func (e *Engine) handleDiscovery(ctx context.Context, topic string, p Payload) {
	action, err := e.discovery.Process(topic, p)
	if err != nil {
		e.logger.Warn("discovery message dropped", "topic", topic, "error", err)
		e.metrics.DiscoveryEvent("invalid")
		return
	}

	switch a := action.(type) {
	case CreateDevice:
		e.applyCreate(ctx, a)
	case RemoveDevice:
		e.applyRemove(ctx, a)
	}
}

func (e *Engine) applyCreate(ctx context.Context, a CreateDevice) {
	desc := a.Descriptor
	if err := e.createDevice(ctx, desc); err != nil {
		e.logger.Error("failed to create discovered device", "id", desc.ID, "error", err)
		return
	}

	if desc.AvailabilityTopic != "" {
		e.bindTopic(ctx, desc.AvailabilityTopic, device.Object{
			ID: desc.ID + ".available", Type: device.TypeState, Name: "Available",
			Role: RoleReachable, ValueType: device.ValueString, Read: true,
		})
	}
	if desc.StateTopic != "" {
		e.bindTopic(ctx, desc.StateTopic, device.Object{
			ID: desc.ID + ".state", Type: device.TypeState, Name: desc.Name,
			Role: "state", ValueType: device.ValueMixed, Read: true,
		})
	}

	for _, topic := range a.Subscriptions {
		if err := e.session.Subscribe(ctx, topic, 0); err != nil {
			e.logger.Warn("failed to subscribe for discovered device", "id", desc.ID, "topic", topic, "error", err)
		}
	}

	e.metrics.DiscoveryEvent("create")
	e.logger.Info("discovered device", "component", desc.Component, "name", desc.Name)
}

// bindTopic creates obj and routes messages on topic to it.
func (e *Engine) bindTopic(ctx context.Context, topic string, obj device.Object) {
	obj.Native = map[string]any{"topic": topic}
	obj.Name = clipName(obj.Name)
	if _, err := e.store.CreateObjectIfAbsent(ctx, obj); err != nil {
		e.logger.Error("failed to create discovered state", "id", obj.ID, "error", err)
		return
	}
	e.bindings[topic] = obj.ID
}

func (e *Engine) applyRemove(ctx context.Context, a RemoveDevice) {
	root := discoveredID(a.Component, a.ObjectID)

	n, err := e.store.DeleteObjectTree(ctx, root)
	if err != nil {
		e.logger.Error("failed to remove discovered device", "id", root, "error", err)
		return
	}
	for topic, id := range e.bindings {
		if device.InTree(id, root) {
			delete(e.bindings, topic)
		}
	}

	e.metrics.DiscoveryEvent("remove")
	e.logger.Info("discovered device removed", "id", root, "objects", n)
}

// storeRawTopic keeps a message without interpretation under raw.<sanitized>.
func (e *Engine) storeRawTopic(ctx context.Context, topic string, p Payload) {
	if _, err := e.store.CreateObjectIfAbsent(ctx, device.Object{
		ID: rawRoot, Type: device.TypeChannel, Name: "Raw MQTT Topics",
	}); err != nil {
		e.logger.Error("failed to create raw channel", "error", err)
		return
	}

	value := p.StateValue()
	id := rawID(topic)
	if _, err := e.store.CreateObjectIfAbsent(ctx, device.Object{
		ID:        id,
		Type:      device.TypeState,
		Name:      clipName(topic),
		Role:      RoleText,
		ValueType: valueType(value),
		Read:      true,
		Native:    map[string]any{"originalTopic": topic},
	}); err != nil {
		e.logger.Error("failed to create raw state", "topic", topic, "error", err)
		return
	}

	e.metrics.UnmappedMessage()
	e.writeState(ctx, id, value)
}

// rawIDHashLen is the number of hex digits of the topic hash appended to
// raw ids that had to be shortened.
const rawIDHashLen = 16

// rawID returns raw.<sanitized topic>. Ids over the length limit are cut
// and end in a hash of the full topic, so long topics sharing a prefix stay
// apart.
func rawID(topic string) string {
	id := rawRoot + "." + SanitizeTopic(topic)
	if len(id) <= device.MaxIDLength {
		return id
	}
	sum := sha256.Sum256([]byte(topic))
	suffix := "_" + hex.EncodeToString(sum[:])[:rawIDHashLen]
	return id[:device.MaxIDLength-len(suffix)] + suffix
}

// clipName shortens s to the store's name limit on a rune boundary.
func clipName(s string) string {
	if len(s) <= device.MaxNameLength {
		return s
	}
	cut := device.MaxNameLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// writeState confirms a device value and records it in the history.
func (e *Engine) writeState(ctx context.Context, id string, value any) {
	if err := e.store.SetState(ctx, id, value, true); err != nil {
		e.logger.Error("failed to set state", "id", id, "error", err)
		return
	}
	e.history.WriteStateChange(id, value, e.now())
}

// setConfirmed writes a bookkeeping state. Failures are logged only.
func (e *Engine) setConfirmed(ctx context.Context, id string, value any) {
	if err := e.store.SetState(ctx, id, value, true); err != nil {
		e.logger.Warn("failed to update state", "id", id, "error", err)
	}
}

// onStoreChange queues unacknowledged writes for publication. It runs on
// the goroutine that wrote the state.
func (e *Engine) onStoreChange(st device.State) {
	if st.Ack {
		return
	}
	select {
	case e.requests <- request{state: st}:
	case <-e.stopped:
	}
}

func (e *Engine) handleRequest(ctx context.Context, req request) {
	if req.result != nil {
		e.handlePublishRequest(req)
		return
	}
	if err := e.handleStateChange(ctx, req.state); err != nil {
		e.logger.Warn("state change not published", "id", req.state.ID, "error", err)
	}
}

// handleStateChange publishes an unacknowledged state change.
//
// Ids under publish. go verbatim to the topic derived from the id. Other
// ids need an enabled mapping; without one the change is ignored. After
// the broker acknowledges, the state is written back with ack=true.
func (e *Engine) handleStateChange(ctx context.Context, st device.State) error {
	if st.Ack {
		return nil
	}
	if !e.session.IsConnected() {
		return mqtt.ErrNotConnected
	}

	if rest, ok := strings.CutPrefix(st.ID, publishPrefix); ok {
		topic := strings.ReplaceAll(rest, ".", "/")
		return e.publishChange(ctx, st, topic, formatRaw(st.Value), 0, false)
	}

	mapping, ok := e.mappings[st.ID]
	if !ok {
		e.logger.Debug("no mapping for state change", "id", st.ID)
		return nil
	}

	out := Transform(st.Value, mapping.Transform)

	var payload []byte
	if mapping.Format == config.FormatJSON {
		b, err := json.Marshal(jsonEnvelope{Value: out, Timestamp: e.now().UnixMilli()})
		if err != nil {
			return fmt.Errorf("encoding %s: %w", st.ID, err)
		}
		payload = b
	} else {
		payload = formatRaw(out)
	}

	return e.publishChange(ctx, st, mapping.Topic, payload, byte(mapping.QoS), mapping.Retain) //nolint:gosec // qos validated by config
}

func (e *Engine) publishChange(ctx context.Context, st device.State, topic string, payload []byte, qos byte, retain bool) error {
	return e.session.Publish(topic, payload, qos, retain, func(err error) {
		if err != nil {
			e.logger.Warn("publish failed, state left unacknowledged", "id", st.ID, "topic", topic, "error", err)
			return
		}
		e.logger.Debug("published state change", "id", st.ID, "topic", topic)
		if err := e.store.SetState(ctx, st.ID, st.Value, true); err != nil {
			e.logger.Warn("failed to acknowledge state", "id", st.ID, "error", err)
		}
	})
}

func (e *Engine) handlePublishRequest(req request) {
	if !e.session.IsConnected() {
		req.result <- mqtt.ErrNotConnected
		return
	}
	err := e.session.Publish(req.topic, formatRaw(req.value), 0, false, func(err error) {
		req.result <- err
	})
	if err != nil {
		req.result <- err
	}
}

// RequestPublish publishes value to topic through the processing loop and
// waits for the broker acknowledgement.
//
// Returns:
//   - error: mqtt.ErrNotConnected when the session is down, the publish
//     error, ErrStopped, or ctx.Err()
func (e *Engine) RequestPublish(ctx context.Context, topic string, value any) error {
	if err := mqtt.ValidatePublishTopic(topic); err != nil {
		return err
	}

	req := request{topic: topic, value: value, result: make(chan error, 1)}
	select {
	case e.requests <- req:
	case <-e.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.result:
		return err
	case <-e.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestStateChange writes value as an unacknowledged state. The engine
// publishes it if id is mapped; the state is acknowledged once the broker
// confirms.
//
// It fails with mqtt.ErrNotConnected, without writing, while the session
// is down.
func (e *Engine) RequestStateChange(ctx context.Context, id string, value any) error {
	if !e.session.IsConnected() {
		return mqtt.ErrNotConnected
	}
	return e.store.SetState(ctx, id, value, false)
}

// Mapped reports whether id has an enabled topic mapping or is a publish id.
func (e *Engine) Mapped(id string) bool {
	if strings.HasPrefix(id, publishPrefix) {
		return true
	}
	_, ok := e.mappings[id]
	return ok
}
