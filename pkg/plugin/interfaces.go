// Package plugin provides the plugin interfaces, the shared dispatch context
// and the registry for fondbot. Plugins register themselves with the global
// registry from init() functions, so the set of features is selected at
// compile time by the blank imports in cmd/fondbot.
package plugin

import "github.com/shouya/fondbot/internal/chat"

// Plugin is the core interface that all plugins must implement.
// A plugin sees every admitted message, in registration order, unless an
// earlier plugin set the bypass flag for the current event.
type Plugin interface {
	// Name returns the unique identifier for this plugin.
	// It is also the callback namespace: button data "<name>.<key>" is
	// routed to this plugin only.
	Name() string

	// Process handles one inbound message. A returned error is logged by the
	// dispatcher and does not stop later plugins.
	Process(ctx *Context, msg *chat.Message) error
}

// CallbackProcessor is an optional interface for plugins that attach inline
// keyboards to their messages.
type CallbackProcessor interface {
	// ProcessCallback receives presses on buttons whose data is prefixed by
	// the plugin name. key has the prefix removed.
	ProcessCallback(ctx *Context, cb *chat.Callback, key string) error
}

// Reporter is an optional interface for plugins that expose a short status
// line through /status and the HTTP API.
type Reporter interface {
	Report() string
}

// Stopper is an optional interface for plugins that own background work or
// unsaved state. Stop runs on the dispatch goroutine during shutdown.
type Stopper interface {
	Stop(ctx *Context)
}

// Factory creates a plugin instance, restoring persisted state from
// ctx.Store. It is called once per process during startup.
type Factory func(ctx *Context) (Plugin, error)
