package plugin

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shouya/fondbot/internal/chat"
)

// mockPlugin implements Plugin and Stopper for testing
type mockPlugin struct {
	name    string
	stopped bool
}

func (m *mockPlugin) Name() string                                { return m.name }
func (m *mockPlugin) Process(ctx *Context, _ *chat.Message) error { return nil }
func (m *mockPlugin) Stop(ctx *Context)                           { m.stopped = true }

func factoryFor(name string) Factory {
	return func(ctx *Context) (Plugin, error) { return &mockPlugin{name: name}, nil }
}

func TestRegistry_Register(t *testing.T) {
	tests := []struct {
		name        string
		info        PluginInfo
		wantErr     bool
		errContains string
	}{
		{
			name: "valid registration",
			info: PluginInfo{
				Name:        "reminder",
				Description: "Reminders",
				Priority:    PriorityDefault,
				Factory:     factoryFor("reminder"),
			},
			wantErr: false,
		},
		{
			name: "empty name",
			info: PluginInfo{
				Name:    "",
				Factory: func(ctx *Context) (Plugin, error) { return nil, nil },
			},
			wantErr:     true,
			errContains: "name cannot be empty",
		},
		{
			name: "nil factory",
			info: PluginInfo{
				Name:    "reminder",
				Factory: nil,
			},
			wantErr:     true,
			errContains: "factory cannot be nil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewRegistry()
			err := registry.Register(tt.info)

			if tt.wantErr {
				assert.Error(t, err)
				if tt.errContains != "" {
					assert.Contains(t, err.Error(), tt.errContains)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRegistry_PriorityOverride(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(PluginInfo{
		Name:        "tracker",
		Description: "Stock tracker",
		Priority:    PriorityDefault,
		Factory:     factoryFor("tracker"),
	}))
	require.NoError(t, registry.Register(PluginInfo{
		Name:        "tracker",
		Description: "Private tracker",
		Priority:    PriorityOverride,
		Factory:     factoryFor("tracker"),
	}))

	info := registry.Get("tracker")
	require.NotNil(t, info)
	assert.Equal(t, PriorityOverride, info.Priority)
	assert.Equal(t, "Private tracker", info.Description)
	assert.Len(t, registry.Names(), 1)

	// Lower priority after the override is skipped
	require.NoError(t, registry.Register(PluginInfo{
		Name:        "tracker",
		Description: "Late stock tracker",
		Priority:    PriorityDefault,
		Factory:     factoryFor("tracker"),
	}))
	assert.Equal(t, "Private tracker", registry.Get("tracker").Description)
}

func TestRegistry_List(t *testing.T) {
	registry := NewRegistry()

	registry.Register(PluginInfo{Name: "manager", Order: 90, Factory: factoryFor("manager")})
	registry.Register(PluginInfo{Name: "afk", Order: 10, Factory: factoryFor("afk")})
	registry.Register(PluginInfo{Name: "tracker", Order: 50, Factory: factoryFor("tracker")})
	registry.Register(PluginInfo{Name: "reminder", Order: 50, Factory: factoryFor("reminder")})

	list := registry.List()
	require.Len(t, list, 4)

	assert.Equal(t, "afk", list[0].Name)      // Order 10
	assert.Equal(t, "reminder", list[1].Name) // Order 50, "r" < "t"
	assert.Equal(t, "tracker", list[2].Name)  // Order 50
	assert.Equal(t, "manager", list[3].Name)  // Order 90
}

func TestRegistry_CreateAll(t *testing.T) {
	registry := NewRegistry()
	created := make([]string, 0)

	for _, n := range []struct {
		name  string
		order int
	}{{"second", 20}, {"first", 10}, {"third", 30}} {
		n := n
		registry.Register(PluginInfo{
			Name:  n.name,
			Order: n.order,
			Factory: func(ctx *Context) (Plugin, error) {
				created = append(created, n.name)
				return &mockPlugin{name: n.name}, nil
			},
		})
	}

	plugins, err := registry.CreateAll(nil, "third")
	require.NoError(t, err)
	require.Len(t, plugins, 2)

	assert.Equal(t, []string{"first", "second"}, created)
	assert.Equal(t, "first", plugins[0].Name())
	assert.Equal(t, "second", plugins[1].Name())
}

func TestRegistry_CreateAll_ErrorCleanup(t *testing.T) {
	registry := NewRegistry()

	plugin1 := &mockPlugin{name: "first"}
	registry.Register(PluginInfo{
		Name:    "first",
		Order:   10,
		Factory: func(ctx *Context) (Plugin, error) { return plugin1, nil },
	})
	registry.Register(PluginInfo{
		Name:    "second",
		Order:   20,
		Factory: func(ctx *Context) (Plugin, error) { return nil, errors.New("creation failed") },
	})

	plugins, err := registry.CreateAll(nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create plugin second")
	assert.Nil(t, plugins)
	assert.True(t, plugin1.stopped, "first plugin should have been stopped on cleanup")
}

func TestRegistry_CreateAll_NameMismatch(t *testing.T) {
	registry := NewRegistry()
	registry.Register(PluginInfo{Name: "reminder", Factory: factoryFor("remind")})

	_, err := registry.CreateAll(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `factory returned plugin named "remind"`)
}

func TestRegistry_DefaultOrderAndClear(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(PluginInfo{Name: "test", Factory: factoryFor("test")}))

	info := registry.Get("test")
	require.NotNil(t, info)
	assert.Equal(t, 50, info.Order, "default order should be 50")
	assert.Nil(t, registry.Get("nonexistent"))

	registry.Clear()
	assert.Len(t, registry.Names(), 0)
	assert.Nil(t, registry.Get("test"))
}

func TestGlobalRegistry(t *testing.T) {
	ClearGlobal()
	defer ClearGlobal()

	err := Register(PluginInfo{
		Name:        "global-test",
		Description: "Testing global registry",
		Factory:     factoryFor("global-test"),
	})
	require.NoError(t, err)

	info := Get("global-test")
	require.NotNil(t, info)
	assert.Equal(t, "Testing global registry", info.Description)
	assert.Len(t, List(), 1)
	assert.Contains(t, Names(), "global-test")

	plugins, err := CreateAll(nil)
	require.NoError(t, err)
	require.Len(t, plugins, 1)
	assert.Equal(t, "global-test", plugins[0].Name())
}
