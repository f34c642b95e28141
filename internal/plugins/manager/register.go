package manager

import "github.com/shouya/fondbot/pkg/plugin"

func init() {
	plugin.Register(plugin.PluginInfo{
		Name:        Name,
		Description: "Administration commands for the store, the guard and names",
		Priority:    plugin.PriorityDefault,
		Order:       90,
		Factory: func(ctx *plugin.Context) (plugin.Plugin, error) {
			return New(ctx), nil
		},
	})
}
