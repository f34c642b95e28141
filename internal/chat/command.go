package chat

import "strings"

// Command parses a leading bot command from the message text.
// "/remind_me@fondbot buy milk" yields ("remind_me", "buy milk", true).
func (m *Message) Command() (name, arg string, ok bool) {
	text := strings.TrimSpace(m.Text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	if head == "" {
		return "", "", false
	}
	return head, strings.TrimSpace(rest), true
}

// IsCommand reports whether the message is the named command.
func (m *Message) IsCommand(name string) bool {
	cmd, _, ok := m.Command()
	return ok && cmd == name
}
