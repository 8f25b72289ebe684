package device

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockRepository is a test implementation of Repository.
type MockRepository struct {
	mu      sync.Mutex
	objects map[string]*Object
	states  map[string]State

	creates  int
	setErr   error
	getCalls int
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		objects: make(map[string]*Object),
		states:  make(map[string]State),
	}
}

func (m *MockRepository) GetObject(_ context.Context, id string) (*Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if o, ok := m.objects[id]; ok {
		return o.DeepCopy(), nil
	}
	return nil, ErrObjectNotFound
}

func (m *MockRepository) ListObjects(_ context.Context, prefix string) ([]Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Object
	for id, o := range m.objects {
		if InTree(id, prefix) {
			out = append(out, *o.DeepCopy())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockRepository) CreateObject(_ context.Context, obj *Object) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[obj.ID]; ok {
		return ErrObjectExists
	}
	m.creates++
	m.objects[obj.ID] = obj.DeepCopy()
	return nil
}

func (m *MockRepository) UpdateObject(_ context.Context, obj *Object) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[obj.ID]; !ok {
		return ErrObjectNotFound
	}
	m.objects[obj.ID] = obj.DeepCopy()
	return nil
}

func (m *MockRepository) DeleteTree(_ context.Context, root string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id := range m.objects {
		if InTree(id, root) {
			delete(m.objects, id)
			n++
		}
	}
	for id := range m.states {
		if InTree(id, root) {
			delete(m.states, id)
		}
	}
	return n, nil
}

func (m *MockRepository) GetState(_ context.Context, id string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[id]; ok {
		return &st, nil
	}
	return nil, ErrStateNotFound
}

func (m *MockRepository) ListStates(_ context.Context, prefix string) ([]State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []State
	for id, st := range m.states {
		if InTree(id, prefix) {
			out = append(out, st)
		}
	}
	return out, nil
}

func (m *MockRepository) SetState(_ context.Context, st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.states[st.ID] = st
	return nil
}

func newTestRegistry() (*Registry, *MockRepository) {
	repo := NewMockRepository()
	return NewRegistry(repo), repo
}

func TestCreateObjectIfAbsent_KeepsFirstDescriptor(t *testing.T) {
	reg, repo := newTestRegistry()
	ctx := context.Background()

	created, err := reg.CreateObjectIfAbsent(ctx, Object{
		ID:     "devices.livingroom",
		Type:   TypeDevice,
		Name:   "Living Room",
		Native: map[string]any{"room": "livingroom"},
	})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = reg.CreateObjectIfAbsent(ctx, Object{
		ID:     "devices.livingroom",
		Type:   TypeDevice,
		Name:   "Something Else",
		Native: map[string]any{"room": "kitchen"},
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 1, repo.creates)

	obj, err := reg.GetObject(ctx, "devices.livingroom")
	require.NoError(t, err)
	assert.Equal(t, "Living Room", obj.Name)
	assert.Equal(t, "livingroom", obj.Native["room"])
	assert.False(t, obj.CreatedAt.IsZero())
}

func TestCreateObjectIfAbsent_ExistingInRepositoryOnly(t *testing.T) {
	reg, repo := newTestRegistry()
	repo.objects["raw.a"] = &Object{ID: "raw.a", Type: TypeState, Name: "first"}

	created, err := reg.CreateObjectIfAbsent(context.Background(), Object{ID: "raw.a", Type: TypeState, Name: "second"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "first", repo.objects["raw.a"].Name)
}

func TestCreateObjectIfAbsent_Invalid(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()

	_, err := reg.CreateObjectIfAbsent(ctx, Object{ID: "", Type: TypeState})
	assert.ErrorIs(t, err, ErrInvalidID)

	_, err = reg.CreateObjectIfAbsent(ctx, Object{ID: "a..b", Type: TypeState})
	assert.ErrorIs(t, err, ErrInvalidID)

	_, err = reg.CreateObjectIfAbsent(ctx, Object{ID: "a.b", Type: "folder"})
	assert.ErrorIs(t, err, ErrInvalidObject)
}

func TestGetObject_ReturnsCopy(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()
	_, err := reg.CreateObjectIfAbsent(ctx, Object{ID: "a.b", Type: TypeState, Native: map[string]any{"k": "v"}})
	require.NoError(t, err)

	obj, err := reg.GetObject(ctx, "a.b")
	require.NoError(t, err)
	obj.Native["k"] = "mutated"

	again, err := reg.GetObject(ctx, "a.b")
	require.NoError(t, err)
	assert.Equal(t, "v", again.Native["k"])
}

func TestGetObject_NotFound(t *testing.T) {
	reg, _ := newTestRegistry()
	_, err := reg.GetObject(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestUpdateObjectRole(t *testing.T) {
	reg, repo := newTestRegistry()
	ctx := context.Background()
	_, err := reg.CreateObjectIfAbsent(ctx, Object{ID: "devices.x.temp", Type: TypeState, Role: "value.temperature", ValueType: ValueNumber})
	require.NoError(t, err)

	require.NoError(t, reg.UpdateObjectRole(ctx, "devices.x.temp", "text", ValueString))

	obj, err := reg.GetObject(ctx, "devices.x.temp")
	require.NoError(t, err)
	assert.Equal(t, "text", obj.Role)
	assert.Equal(t, ValueString, obj.ValueType)
	assert.Equal(t, "text", repo.objects["devices.x.temp"].Role)

	assert.ErrorIs(t, reg.UpdateObjectRole(ctx, "missing", "text", ValueString), ErrObjectNotFound)
}

func TestListObjects_Prefix(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()
	for _, id := range []string{"devices.a", "devices.a.power", "devices.ab", "raw.x"} {
		_, err := reg.CreateObjectIfAbsent(ctx, Object{ID: id, Type: TypeState})
		require.NoError(t, err)
	}

	ids := func(objs []Object) []string {
		var out []string
		for _, o := range objs {
			out = append(out, o.ID)
		}
		return out
	}

	assert.Equal(t, []string{"devices.a", "devices.a.power"}, ids(reg.ListObjects(ctx, "devices.a")))
	assert.Len(t, reg.ListObjects(ctx, ""), 4)
	assert.Empty(t, reg.ListObjects(ctx, "nothing"))
}

func TestDeleteObjectTree(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()
	for _, id := range []string{"discovered.switch.plug1", "discovered.switch.plug1.state", "discovered.switch.plug10"} {
		_, err := reg.CreateObjectIfAbsent(ctx, Object{ID: id, Type: TypeState})
		require.NoError(t, err)
	}
	require.NoError(t, reg.SetState(ctx, "discovered.switch.plug1.state", "ON", true))

	n, err := reg.DeleteObjectTree(ctx, "discovered.switch.plug1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = reg.GetObject(ctx, "discovered.switch.plug1.state")
	assert.ErrorIs(t, err, ErrObjectNotFound)
	_, err = reg.GetState(ctx, "discovered.switch.plug1.state")
	assert.ErrorIs(t, err, ErrStateNotFound)

	_, err = reg.GetObject(ctx, "discovered.switch.plug10")
	assert.NoError(t, err)
}

func TestSetState_NotifiesSubscribers(t *testing.T) {
	reg, _ := newTestRegistry()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	reg.now = func() time.Time { return fixed }
	ctx := context.Background()

	var got []State
	unsubscribe := reg.Subscribe(func(st State) { got = append(got, st) })

	require.NoError(t, reg.SetState(ctx, "devices.relay1.power", true, false))
	unsubscribe()
	require.NoError(t, reg.SetState(ctx, "devices.relay1.power", true, true))

	require.Len(t, got, 1)
	assert.Equal(t, State{ID: "devices.relay1.power", Value: true, Ack: false, UpdatedAt: fixed}, got[0])

	st, err := reg.GetState(ctx, "devices.relay1.power")
	require.NoError(t, err)
	assert.True(t, st.Ack)
}

func TestSetState_RepositoryError(t *testing.T) {
	reg, repo := newTestRegistry()
	repo.setErr = errors.New("disk full")

	notified := false
	reg.Subscribe(func(State) { notified = true })

	err := reg.SetState(context.Background(), "a.b", 1.0, true)
	require.Error(t, err)
	assert.False(t, notified)
}

func TestGetState_FallsBackToRepository(t *testing.T) {
	reg, repo := newTestRegistry()
	repo.states["stats.messagesReceived"] = State{ID: "stats.messagesReceived", Value: 4.0, Ack: true}

	st, err := reg.GetState(context.Background(), "stats.messagesReceived")
	require.NoError(t, err)
	assert.Equal(t, 4.0, st.Value)

	_, err = reg.GetState(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestRefreshCache(t *testing.T) {
	reg, repo := newTestRegistry()
	repo.objects["a.b"] = &Object{ID: "a.b", Type: TypeState}
	repo.states["a.b"] = State{ID: "a.b", Value: "x"}

	require.NoError(t, reg.RefreshCache(context.Background()))
	assert.Len(t, reg.ListObjects(context.Background(), ""), 1)

	calls := repo.getCalls
	_, err := reg.GetObject(context.Background(), "a.b")
	require.NoError(t, err)
	assert.Equal(t, calls, repo.getCalls, "cached lookups must not hit the repository")
}
