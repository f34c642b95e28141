package tracker

import "github.com/shouya/fondbot/pkg/plugin"

func init() {
	plugin.Register(plugin.PluginInfo{
		Name:        Name,
		Description: "Parcel tracking with one polling worker per shipment",
		Priority:    plugin.PriorityDefault,
		Order:       60,
		Factory:     createPlugin,
	})
}

func createPlugin(ctx *plugin.Context) (plugin.Plugin, error) {
	cfg := ctx.Config.Tracker
	return New(ctx, NewKuaidi100(cfg.BaseURL, cfg.RequestTimeout))
}

var (
	_ plugin.Plugin   = (*Tracker)(nil)
	_ plugin.Reporter = (*Tracker)(nil)
	_ plugin.Stopper  = (*Tracker)(nil)
)
