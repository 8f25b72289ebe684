package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ChangeFunc receives every state written through the Registry.
type ChangeFunc func(State)

// Registry provides the object/state store with caching and change notification.
// It wraps a Repository and adds in-memory caches for fast lookups.
//
// The caches are populated on startup via RefreshCache() and kept in sync
// by every write.
//
// All public methods are thread-safe.
type Registry struct {
	repo Repository

	objects map[string]*Object
	states  map[string]State
	cacheMu sync.RWMutex

	subs   map[int]ChangeFunc
	nextID int
	subsMu sync.RWMutex

	now    func() time.Time
	logger Logger
}

// NewRegistry creates a new registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:    repo,
		objects: make(map[string]*Object),
		states:  make(map[string]State),
		subs:    make(map[int]ChangeFunc),
		now:     time.Now,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all objects and states from the repository.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	objects, err := r.repo.ListObjects(ctx, "")
	if err != nil {
		return fmt.Errorf("loading objects: %w", err)
	}
	states, err := r.repo.ListStates(ctx, "")
	if err != nil {
		return fmt.Errorf("loading states: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.objects = make(map[string]*Object, len(objects))
	for i := range objects {
		r.objects[objects[i].ID] = objects[i].DeepCopy()
	}
	r.states = make(map[string]State, len(states))
	for _, st := range states {
		r.states[st.ID] = st
	}

	r.logger.Info("store cache refreshed", "objects", len(objects), "states", len(states))
	return nil
}

// CreateObjectIfAbsent stores obj unless an object with the same ID exists.
//
// It never overwrites: an existing object keeps all of its fields. The
// returned bool reports whether obj was created.
func (r *Registry) CreateObjectIfAbsent(ctx context.Context, obj Object) (bool, error) {
	if err := ValidateObject(&obj); err != nil {
		return false, err
	}

	if _, err := r.GetObject(ctx, obj.ID); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrObjectNotFound) {
		return false, err
	}

	now := r.now()
	obj.CreatedAt = now
	obj.UpdatedAt = now

	if err := r.repo.CreateObject(ctx, &obj); err != nil {
		if errors.Is(err, ErrObjectExists) {
			return false, nil
		}
		return false, fmt.Errorf("creating object %s: %w", obj.ID, err)
	}

	r.cacheMu.Lock()
	r.objects[obj.ID] = obj.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Debug("object created", "id", obj.ID, "type", obj.Type)
	return true, nil
}

// GetObject retrieves an object by ID.
// Returns ErrObjectNotFound if the object does not exist.
// The returned object is a deep copy; callers can safely modify it.
func (r *Registry) GetObject(ctx context.Context, id string) (*Object, error) {
	r.cacheMu.RLock()
	cached, ok := r.objects[id]
	r.cacheMu.RUnlock()
	if ok {
		return cached.DeepCopy(), nil
	}

	obj, err := r.repo.GetObject(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.objects[id] = obj.DeepCopy()
	r.cacheMu.Unlock()
	return obj, nil
}

// ListObjects returns the objects in the tree rooted at prefix, sorted by ID.
// An empty prefix returns every object.
func (r *Registry) ListObjects(_ context.Context, prefix string) []Object {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	var out []Object
	for id, obj := range r.objects {
		if InTree(id, prefix) {
			out = append(out, *obj.DeepCopy())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpdateObjectRole changes the role and value type of a state object.
// It is a no-op when both already match.
func (r *Registry) UpdateObjectRole(ctx context.Context, id, role, valueType string) error {
	obj, err := r.GetObject(ctx, id)
	if err != nil {
		return err
	}
	if obj.Role == role && obj.ValueType == valueType {
		return nil
	}

	obj.Role = role
	obj.ValueType = valueType
	obj.UpdatedAt = r.now()

	if err := r.repo.UpdateObject(ctx, obj); err != nil {
		return fmt.Errorf("updating object %s: %w", id, err)
	}

	r.cacheMu.Lock()
	r.objects[id] = obj.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Debug("object role updated", "id", id, "role", role, "value_type", valueType)
	return nil
}

// DeleteObjectTree removes the object at root, all objects below it and
// their states. It returns the number of objects removed.
func (r *Registry) DeleteObjectTree(ctx context.Context, root string) (int, error) {
	if err := ValidateID(root); err != nil {
		return 0, err
	}

	n, err := r.repo.DeleteTree(ctx, root)
	if err != nil {
		return 0, fmt.Errorf("deleting %s: %w", root, err)
	}

	r.cacheMu.Lock()
	for id := range r.objects {
		if InTree(id, root) {
			delete(r.objects, id)
		}
	}
	for id := range r.states {
		if InTree(id, root) {
			delete(r.states, id)
		}
	}
	r.cacheMu.Unlock()

	r.logger.Info("object tree deleted", "root", root, "objects", n)
	return n, nil
}

// SetState writes a value and notifies subscribers.
//
// Parameters:
//   - ctx: Context for the repository write
//   - id: State identifier
//   - value: bool, number, string or nil
//   - ack: true for confirmed values, false for requests
func (r *Registry) SetState(ctx context.Context, id string, value any, ack bool) error {
	if err := ValidateID(id); err != nil {
		return err
	}

	st := State{ID: id, Value: value, Ack: ack, UpdatedAt: r.now()}
	if err := r.repo.SetState(ctx, st); err != nil {
		return fmt.Errorf("setting state %s: %w", id, err)
	}

	r.cacheMu.Lock()
	r.states[id] = st
	r.cacheMu.Unlock()

	r.notify(st)
	return nil
}

// GetState returns the current value of a state.
// Returns ErrStateNotFound if no value has been written.
func (r *Registry) GetState(ctx context.Context, id string) (State, error) {
	r.cacheMu.RLock()
	st, ok := r.states[id]
	r.cacheMu.RUnlock()
	if ok {
		return st, nil
	}

	stored, err := r.repo.GetState(ctx, id)
	if err != nil {
		return State{}, err
	}

	r.cacheMu.Lock()
	r.states[id] = *stored
	r.cacheMu.Unlock()
	return *stored, nil
}

// Subscribe registers fn for every subsequent SetState.
// The returned function removes the subscription.
func (r *Registry) Subscribe(fn ChangeFunc) func() {
	r.subsMu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn
	r.subsMu.Unlock()

	return func() {
		r.subsMu.Lock()
		delete(r.subs, id)
		r.subsMu.Unlock()
	}
}

func (r *Registry) notify(st State) {
	r.subsMu.RLock()
	fns := make([]ChangeFunc, 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.subsMu.RUnlock()

	for _, fn := range fns {
		fn(st)
	}
}

// HealthCheck reports whether the repository is reachable.
func (r *Registry) HealthCheck(ctx context.Context) error {
	_, err := r.repo.GetObject(ctx, "info.connection")
	if err != nil && !errors.Is(err, ErrObjectNotFound) {
		return err
	}
	return nil
}
