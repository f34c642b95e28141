package afk

import "github.com/shouya/fondbot/pkg/plugin"

func init() {
	plugin.Register(plugin.PluginInfo{
		Name:        Name,
		Description: "Away-from-keyboard notices that short-circuit later plugins",
		Priority:    plugin.PriorityDefault,
		Order:       10, // Before everything it may bypass
		Factory: func(ctx *plugin.Context) (plugin.Plugin, error) {
			return New(ctx)
		},
	})
}
