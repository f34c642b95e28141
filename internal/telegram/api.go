package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// APIError is a failed Bot API call.
type APIError struct {
	StatusCode  int
	ErrorCode   int
	Description string
}

func (e *APIError) Error() string {
	if desc := strings.TrimSpace(e.Description); desc != "" {
		return fmt.Sprintf("telegram http %d: %s", e.StatusCode, desc)
	}
	return fmt.Sprintf("telegram http %d", e.StatusCode)
}

// IsRetryable reports whether err is worth retrying: transport failures,
// throttling and server errors. Client errors such as a bad chat id are not.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return true
}

func isNotModified(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && strings.Contains(apiErr.Description, "message is not modified")
}

type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

type apiUser struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

type apiChat struct {
	ID int64 `json:"id"`
}

type apiMessage struct {
	MessageID int64       `json:"message_id"`
	Date      int64       `json:"date,omitempty"`
	Chat      apiChat     `json:"chat"`
	From      *apiUser    `json:"from,omitempty"`
	ReplyTo   *apiMessage `json:"reply_to_message,omitempty"`
	Text      string      `json:"text,omitempty"`
}

type apiCallbackQuery struct {
	ID      string      `json:"id"`
	From    apiUser     `json:"from"`
	Message *apiMessage `json:"message,omitempty"`
	Data    string      `json:"data,omitempty"`
}

type apiUpdate struct {
	UpdateID      int64             `json:"update_id"`
	Message       *apiMessage       `json:"message,omitempty"`
	CallbackQuery *apiCallbackQuery `json:"callback_query,omitempty"`
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type replyMarkup struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard,omitempty"`
	ForceReply     bool             `json:"force_reply,omitempty"`
	Selective      bool             `json:"selective,omitempty"`
}

type sendMessageRequest struct {
	ChatID           int64        `json:"chat_id"`
	MessageID        int64        `json:"message_id,omitempty"`
	Text             string       `json:"text"`
	ParseMode        string       `json:"parse_mode,omitempty"`
	ReplyToMessageID int64        `json:"reply_to_message_id,omitempty"`
	ReplyMarkup      *replyMarkup `json:"reply_markup,omitempty"`
}

type answerCallbackRequest struct {
	CallbackQueryID string `json:"callback_query_id"`
	Text            string `json:"text,omitempty"`
}

type getUpdatesRequest struct {
	Offset         int64    `json:"offset,omitempty"`
	Timeout        int      `json:"timeout"`
	AllowedUpdates []string `json:"allowed_updates"`
}

// call POSTs payload as JSON to the named method and decodes the result
// into out when out is not nil.
func (c *Client) call(ctx context.Context, method string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}
	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	raw, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return fmt.Errorf("telegram %s: failed to read response: %w", method, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.OK {
		desc := env.Description
		if decodeErr != nil {
			desc = strings.TrimSpace(string(raw))
		}
		return &APIError{StatusCode: resp.StatusCode, ErrorCode: env.ErrorCode, Description: desc}
	}
	if decodeErr != nil {
		return fmt.Errorf("telegram %s: failed to decode response: %w", method, decodeErr)
	}
	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("telegram %s: failed to decode result: %w", method, err)
		}
	}
	return nil
}
