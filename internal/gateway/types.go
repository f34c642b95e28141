package gateway

import (
	"encoding/json"

	"github.com/shouya/fondbot/internal/chat"
)

// Message types exchanged with the gateway.
const (
	TypeAuthRequired     = "auth_required"
	TypeAuth             = "auth"
	TypeAuthOK           = "auth_ok"
	TypeAuthInvalid      = "auth_invalid"
	TypeSubscribeUpdates = "subscribe_updates"
	TypeSendMessage      = "send_message"
	TypeEditMessage      = "edit_message"
	TypeAnswerCallback   = "answer_callback"
	TypeResult           = "result"
	TypeUpdate           = "update"
)

// Message is the single frame shape used in both directions. Requests carry
// an id that the matching result echoes.
type Message struct {
	ID          int             `json:"id,omitempty"`
	Type        string          `json:"type"`
	AccessToken string          `json:"access_token,omitempty"`
	Success     *bool           `json:"success,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *Error          `json:"error,omitempty"`

	Update     *chat.Update     `json:"update,omitempty"`
	Outgoing   *chat.Outgoing   `json:"outgoing,omitempty"`
	Ref        *chat.MessageRef `json:"ref,omitempty"`
	CallbackID string           `json:"callback_id,omitempty"`
	Text       string           `json:"text,omitempty"`
}

// Error represents an error result from the gateway
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return "gateway error: " + e.Code + " - " + e.Message
}
