package reminder

import "github.com/shouya/fondbot/pkg/plugin"

func init() {
	plugin.Register(plugin.PluginInfo{
		Name:        Name,
		Description: "One-off reminders set through a content and time dialogue",
		Priority:    plugin.PriorityDefault,
		Order:       50,
		Factory:     createPlugin,
	})
}

func createPlugin(ctx *plugin.Context) (plugin.Plugin, error) {
	return NewPool(ctx)
}

var (
	_ plugin.Plugin            = (*Pool)(nil)
	_ plugin.CallbackProcessor = (*Pool)(nil)
	_ plugin.Reporter          = (*Pool)(nil)
	_ plugin.Stopper           = (*Pool)(nil)
)
