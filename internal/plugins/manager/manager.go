// Package manager exposes administration commands: dumping the store,
// editing the admission list, naming users and showing plugin status.
package manager

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/shouya/fondbot/internal/chat"
	"github.com/shouya/fondbot/pkg/plugin"
)

const Name = "manager"

type Manager struct {
	logger *zap.Logger
}

func New(ctx *plugin.Context) *Manager {
	return &Manager{logger: ctx.Logger.Named(Name)}
}

func (m *Manager) Name() string { return Name }

// Process handles the admin commands.
func (m *Manager) Process(ctx *plugin.Context, msg *chat.Message) error {
	cmd, arg, ok := msg.Command()
	if !ok {
		return nil
	}
	switch cmd {
	case "list_conf":
		return m.listConf(ctx, msg)
	case "admit":
		return m.admit(ctx, msg, arg)
	case "revoke":
		return m.revoke(ctx, msg, arg)
	case "call_me":
		return m.callMe(ctx, msg, arg)
	case "status":
		return m.status(ctx, msg)
	}
	return nil
}

func (m *Manager) listConf(ctx *plugin.Context, msg *chat.Message) error {
	keys, err := ctx.Store.Keys()
	if err != nil {
		return fmt.Errorf("failed to list config keys: %w", err)
	}
	items := make([]string, 0, len(keys))
	for _, key := range keys {
		raw, found, err := ctx.Store.Raw(key)
		if err != nil {
			return fmt.Errorf("failed to read config %s: %w", key, err)
		}
		if !found {
			continue
		}
		items = append(items, fmt.Sprintf("Key: [%s]\nValue:\n%s\n", key, raw))
	}
	text := fmt.Sprintf("Listing %d config items\n---\n%s", len(items), strings.Join(items, "---\n"))
	_, err = ctx.Reply(msg, text)
	return err
}

// targetChat parses the chat id argument, defaulting to the current chat.
func targetChat(msg *chat.Message, arg string) (chat.ChatID, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return msg.Chat, nil
	}
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q", arg)
	}
	return chat.ChatID(id), nil
}

func (m *Manager) admit(ctx *plugin.Context, msg *chat.Message, arg string) error {
	id, err := targetChat(msg, arg)
	if err != nil {
		_, rerr := ctx.Reply(msg, "Usage: /admit <chat_id>")
		return rerr
	}
	if err := ctx.Guard.Admit(id); err != nil {
		return err
	}
	m.logger.Info("Chat admitted", zap.Int64("chat_id", int64(id)), zap.Int64("by", int64(msg.From.ID)))
	_, err = ctx.Reply(msg, fmt.Sprintf("Admitted %d", id))
	return err
}

func (m *Manager) revoke(ctx *plugin.Context, msg *chat.Message, arg string) error {
	id, err := targetChat(msg, arg)
	if err != nil || strings.TrimSpace(arg) == "" {
		_, rerr := ctx.Reply(msg, "Usage: /revoke <chat_id>")
		return rerr
	}
	if !ctx.Guard.IsAdmitted(id) {
		_, err := ctx.Reply(msg, fmt.Sprintf("%d is not admitted", id))
		return err
	}
	if err := ctx.Guard.Revoke(id); err != nil {
		return err
	}
	m.logger.Info("Chat revoked", zap.Int64("chat_id", int64(id)), zap.Int64("by", int64(msg.From.ID)))
	_, err = ctx.Reply(msg, fmt.Sprintf("Revoked %d", id))
	return err
}

func (m *Manager) callMe(ctx *plugin.Context, msg *chat.Message, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		_, err := ctx.Reply(msg, "Usage: /call_me <name>")
		return err
	}
	if err := ctx.Names.Set(msg.From.ID, name); err != nil {
		return err
	}
	_, err := ctx.Reply(msg, "Okay, I will call you "+name)
	return err
}

func (m *Manager) status(ctx *plugin.Context, msg *chat.Message) error {
	reports := ctx.Reports()
	names := make([]string, 0, len(reports))
	for name := range reports {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "Admitted chats: %d\n", len(ctx.Guard.List()))
	for _, name := range names {
		fmt.Fprintf(&b, "[%s] %s\n", name, reports[name])
	}
	_, err := ctx.Reply(msg, strings.TrimRight(b.String(), "\n"))
	return err
}
