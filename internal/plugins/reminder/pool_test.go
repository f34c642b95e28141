package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shouya/fondbot/internal/chat"
	"github.com/shouya/fondbot/internal/chattest"
	"github.com/shouya/fondbot/internal/clock"
	"github.com/shouya/fondbot/internal/config"
	"github.com/shouya/fondbot/internal/interaction"
	"github.com/shouya/fondbot/internal/store"
	"github.com/shouya/fondbot/pkg/plugin"
)

const testChat chat.ChatID = 10

var start = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	ctx    *plugin.Context
	clock  *clock.MockClock
	client *chattest.Client
	store  *store.Memory
	nextID chat.MessageID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Reminder.Timezone = "UTC"
	cfg.Reminder.Latitude = 0
	cfg.Reminder.Longitude = 0

	clk := clock.NewMockClock(start)
	client := chattest.NewClient()
	st := store.NewMemory()
	ctx := plugin.NewContext(client, st, nil, nil, zap.NewNop(), clk, cfg)
	ctx.Attach(context.Background(), func(task func()) { task() })
	return &harness{
		ctx:    ctx,
		clock:  clk,
		client: client,
		store:  st,
	}
}

func (h *harness) pool(t *testing.T) *Pool {
	t.Helper()
	p, err := NewPool(h.ctx)
	require.NoError(t, err)
	return p
}

func (h *harness) message(chatID chat.ChatID, text string) *chat.Message {
	h.nextID++
	return &chat.Message{Chat: chatID, ID: h.nextID, From: chat.User{ID: 5, FirstName: "Ann"}, Text: text}
}

func (h *harness) press(t *testing.T, p *Pool, prompt chat.MessageRef, key string) {
	t.Helper()
	cb := &chat.Callback{ID: "cb", Message: prompt, Data: chat.CallbackData(Name, key)}
	require.NoError(t, p.ProcessCallback(h.ctx, cb, key))
}

func (h *harness) lastText(t *testing.T) string {
	t.Helper()
	last, ok := h.client.LastSent()
	require.True(t, ok)
	return last.Out.Text
}

func (h *harness) seed(t *testing.T, reminders ...Reminder) {
	t.Helper()
	require.NoError(t, h.store.Save(StoreKey, reminders))
}

func (h *harness) stored(t *testing.T) []Reminder {
	t.Helper()
	var out []Reminder
	_, err := h.store.Load(StoreKey, &out)
	require.NoError(t, err)
	return out
}

func TestReminderDialogueSchedulesAndFires(t *testing.T) {
	h := newHarness(t)
	p := h.pool(t)

	trigger := h.message(testChat, "/remind_me call mom")
	require.NoError(t, p.Process(h.ctx, trigger))
	prompt, ok := h.client.LastSent()
	require.True(t, ok)
	assert.NotEmpty(t, prompt.Out.Keyboard)

	h.press(t, p, prompt.Ref, "+/1/hr")
	h.press(t, p, prompt.Ref, "+/1/hr")
	h.press(t, p, prompt.Ref, "commit")

	answered := h.client.Answered()
	require.NotEmpty(t, answered)
	assert.Equal(t, "Reminder set", answered[len(answered)-1].Text)

	stored := h.stored(t)
	require.Len(t, stored, 1)
	assert.Equal(t, "call mom", stored[0].Content)
	assert.True(t, stored[0].FireAt.Equal(start.Add(2*time.Hour)))
	assert.False(t, stored[0].Delivered)
	assert.Equal(t, trigger.Ref(), stored[0].Origin)
	assert.Equal(t, 1, h.clock.PendingTimers())

	h.client.Reset()
	h.clock.Advance(2 * time.Hour)

	sent := h.client.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, testChat, sent[0].Out.Chat)
	assert.Equal(t, trigger.ID, sent[0].Out.ReplyTo)
	assert.Contains(t, sent[0].Out.Text, "It's time for call mom")
	assert.Contains(t, sent[0].Out.Text, "Alert at: Fri Mar 1 11:00")
	assert.Contains(t, sent[0].Out.Text, "2 hours ago")

	assert.Empty(t, h.stored(t))
	assert.Empty(t, p.Pending())
}

func TestReminderFiresAtMostOnce(t *testing.T) {
	h := newHarness(t)
	id := uuid.New()
	h.seed(t, Reminder{
		ID:      id,
		FireAt:  start.Add(time.Hour),
		SetAt:   start.Add(-time.Hour),
		Content: "water plants",
		Origin:  chat.MessageRef{Chat: testChat, ID: 3},
	})
	p := h.pool(t)
	require.Len(t, p.Pending(), 1)

	h.clock.Advance(time.Hour)
	p.fire(h.ctx, id)
	p.fire(h.ctx, id)

	assert.Len(t, h.client.Sent(), 1)
	assert.Equal(t, 0, h.clock.PendingTimers())
}

func TestReminderDeliveryFailureIsNotRetried(t *testing.T) {
	h := newHarness(t)
	h.seed(t, Reminder{
		ID:      uuid.New(),
		FireAt:  start.Add(time.Minute),
		Content: "stretch",
		Origin:  chat.MessageRef{Chat: testChat, ID: 3},
	})
	p := h.pool(t)
	h.client.SendErr = errors.New("network down")

	h.clock.Advance(time.Minute)

	assert.Empty(t, p.Pending())
	assert.Empty(t, h.stored(t))
}

func TestNewPoolDropsPastAndDelivered(t *testing.T) {
	h := newHarness(t)
	future := Reminder{ID: uuid.New(), FireAt: start.Add(time.Hour), Content: "future", Origin: chat.MessageRef{Chat: testChat, ID: 1}}
	h.seed(t,
		future,
		Reminder{ID: uuid.New(), FireAt: start.Add(-time.Minute), Content: "past", Origin: chat.MessageRef{Chat: testChat, ID: 2}},
		Reminder{ID: uuid.New(), FireAt: start, Content: "now", Origin: chat.MessageRef{Chat: testChat, ID: 3}},
		Reminder{ID: uuid.New(), FireAt: start.Add(2 * time.Hour), Content: "done", Delivered: true, Origin: chat.MessageRef{Chat: testChat, ID: 4}},
	)

	p := h.pool(t)

	pending := p.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, future.ID, pending[0].ID)
	assert.Equal(t, 1, h.clock.PendingTimers())

	stored := h.stored(t)
	require.Len(t, stored, 1)
	assert.Equal(t, "future", stored[0].Content)
}

func TestReminderPromptsForContent(t *testing.T) {
	h := newHarness(t)
	p := h.pool(t)

	require.NoError(t, p.Process(h.ctx, h.message(testChat, "/remind_me")))
	prompt, ok := h.client.LastSent()
	require.True(t, ok)
	assert.True(t, prompt.Out.ForceReply)
	assert.Equal(t, "What do you want to be reminded about?", prompt.Out.Text)

	reply := h.message(testChat, "buy milk")
	reply.ReplyTo = &prompt.Ref
	reply.ReplyToBot = true
	require.NoError(t, p.Process(h.ctx, reply))

	timePrompt, ok := h.client.LastSent()
	require.True(t, ok)
	assert.Contains(t, timePrompt.Out.Text, "Reminder: buy milk")

	h.press(t, p, timePrompt.Ref, "at/12:00")
	h.press(t, p, timePrompt.Ref, "commit")

	pending := p.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "buy milk", pending[0].Content)
	assert.True(t, pending[0].FireAt.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))
}

func TestTooSoonCommitSchedulesNothing(t *testing.T) {
	h := newHarness(t)
	p := h.pool(t)

	require.NoError(t, p.Process(h.ctx, h.message(testChat, "/remind_me now")))
	prompt, _ := h.client.LastSent()
	h.press(t, p, prompt.Ref, "commit")

	assert.Empty(t, p.Pending())
	assert.Empty(t, h.stored(t))
}

func TestListAndDelete(t *testing.T) {
	h := newHarness(t)
	first := Reminder{ID: uuid.New(), FireAt: start.Add(time.Hour), Content: "first", Origin: chat.MessageRef{Chat: testChat, ID: 1}}
	second := Reminder{ID: uuid.New(), FireAt: start.Add(2 * time.Hour), Content: "second", Origin: chat.MessageRef{Chat: testChat, ID: 2}}
	elsewhere := Reminder{ID: uuid.New(), FireAt: start.Add(time.Hour), Content: "elsewhere", Origin: chat.MessageRef{Chat: 20, ID: 3}}
	h.seed(t, first, second, elsewhere)
	p := h.pool(t)

	require.NoError(t, p.Process(h.ctx, h.message(testChat, "/del_0")))
	assert.Equal(t, "Please /list_reminders first", h.lastText(t))

	require.NoError(t, p.Process(h.ctx, h.message(testChat, "/list_reminders")))
	listingMsg, _ := h.client.LastSent()
	text := listingMsg.Out.Text
	assert.Contains(t, text, "Reminders (2)")
	assert.Contains(t, text, "Fri Mar 1 10:00: first (/del_0)")
	assert.Contains(t, text, "Fri Mar 1 11:00: second (/del_1)")
	assert.NotContains(t, text, "elsewhere")

	for _, bad := range []string{"/del_5", "/del_x", "/del_-1"} {
		require.NoError(t, p.Process(h.ctx, h.message(testChat, bad)))
		assert.Equal(t, "Invalid index, please try another one", h.lastText(t), bad)
	}

	require.NoError(t, p.Process(h.ctx, h.message(testChat, "/del_0")))
	assert.Equal(t, "Deleted: first", h.lastText(t))

	edited, ok := h.client.LastEdited()
	require.True(t, ok)
	assert.Equal(t, listingMsg.Ref, edited.Ref)
	assert.Contains(t, edited.Out.Text, "Reminders (1)")
	assert.Contains(t, edited.Out.Text, "second (/del_1)")
	assert.NotContains(t, edited.Out.Text, "first")

	// The index the user saw stays bound to the same reminder.
	require.NoError(t, p.Process(h.ctx, h.message(testChat, "/del_0")))
	assert.Equal(t, "Invalid index, please try another one", h.lastText(t))

	require.NoError(t, p.Process(h.ctx, h.message(testChat, "/del_1")))
	assert.Equal(t, "Deleted: second", h.lastText(t))
	edited, _ = h.client.LastEdited()
	assert.Contains(t, edited.Out.Text, "no reminders")

	assert.Len(t, h.stored(t), 1)
	assert.Equal(t, 1, h.clock.PendingTimers())

	h.client.Reset()
	h.clock.Advance(2 * time.Hour)
	sent := h.client.Sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Out.Text, "elsewhere")
}

func TestDeleteAfterFireReportsGone(t *testing.T) {
	h := newHarness(t)
	h.seed(t, Reminder{ID: uuid.New(), FireAt: start.Add(time.Minute), Content: "tea", Origin: chat.MessageRef{Chat: testChat, ID: 1}})
	p := h.pool(t)

	require.NoError(t, p.Process(h.ctx, h.message(testChat, "/list_reminders")))
	h.clock.Advance(time.Minute)

	require.NoError(t, p.Process(h.ctx, h.message(testChat, "/del_0")))
	assert.Equal(t, "That reminder already went off", h.lastText(t))
}

func TestReportAndStop(t *testing.T) {
	h := newHarness(t)
	h.seed(t, Reminder{ID: uuid.New(), FireAt: start.Add(time.Hour), Content: "tea", Origin: chat.MessageRef{Chat: testChat, ID: 1}})
	p := h.pool(t)

	assert.Equal(t, "1 pending, next at 2024-03-01T10:00:00Z, 0 open dialogues", p.Report())

	p.Stop(h.ctx)
	assert.Equal(t, 0, h.clock.PendingTimers())
	assert.Len(t, h.stored(t), 1)
}

func TestTextlessReplyRepromptsForContent(t *testing.T) {
	h := newHarness(t)
	p := h.pool(t)

	require.NoError(t, p.Process(h.ctx, h.message(testChat, "/remind_me")))
	prompt, ok := h.client.LastSent()
	require.True(t, ok)

	// A sticker or photo reply arrives with no text.
	sticker := h.message(testChat, "")
	sticker.ReplyTo = &prompt.Ref
	sticker.ReplyToBot = true
	require.NoError(t, p.Process(h.ctx, sticker))

	reprompt, ok := h.client.LastSent()
	require.True(t, ok)
	assert.NotEqual(t, prompt.Ref, reprompt.Ref)
	assert.True(t, reprompt.Out.ForceReply)
	assert.Equal(t, sticker.ID, reprompt.Out.ReplyTo)
	assert.Contains(t, reprompt.Out.Text, "I need some text")

	s, ok := p.engine.Session(testChat)
	require.True(t, ok)
	assert.Equal(t, interaction.AwaitingContent, s.Stage)
	assert.Equal(t, reprompt.Ref, s.Prompt)
	assert.Empty(t, p.Pending())
}

// flakyStore fails every Save while err is set.
type flakyStore struct {
	*store.Memory
	err error
}

func (f *flakyStore) Save(key string, v any) error {
	if f.err != nil {
		return f.err
	}
	return f.Memory.Save(key, v)
}

func TestCommitArmsTimerWhenPersistFails(t *testing.T) {
	h := newHarness(t)
	fs := &flakyStore{Memory: h.store}
	h.ctx.Store = fs
	p := h.pool(t)

	require.NoError(t, p.Process(h.ctx, h.message(testChat, "/remind_me stretch")))
	prompt, _ := h.client.LastSent()
	h.press(t, p, prompt.Ref, "+/1/hr")

	fs.err = errors.New("disk full")
	h.press(t, p, prompt.Ref, "commit")

	require.Len(t, p.Pending(), 1)
	assert.Equal(t, 1, h.clock.PendingTimers())
	assert.Empty(t, h.stored(t))

	// The next successful save writes it out.
	fs.err = nil
	p.Stop(h.ctx)
	require.Len(t, h.stored(t), 1)

	h.pool(t)
	h.client.Reset()
	h.clock.Advance(time.Hour)
	sent := h.client.Sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Out.Text, "It's time for stretch")
}

func TestRestoredTimerWaitsForDispatchLoop(t *testing.T) {
	cfg := config.Default()
	cfg.Reminder.Timezone = "UTC"
	clk := clock.NewMockClock(start)
	client := chattest.NewClient()
	st := store.NewMemory()
	require.NoError(t, st.Save(StoreKey, []Reminder{{
		ID:      uuid.New(),
		FireAt:  start.Add(time.Minute),
		Content: "tea",
		Origin:  chat.MessageRef{Chat: testChat, ID: 1},
	}}))
	ctx := plugin.NewContext(client, st, nil, nil, zap.NewNop(), clk, cfg)

	p, err := NewPool(ctx)
	require.NoError(t, err)

	// Due before the loop is attached: nothing may touch the pool yet.
	clk.Advance(time.Minute)
	assert.Empty(t, client.Sent())
	assert.Len(t, p.Pending(), 1)

	held := ctx.Attach(context.Background(), func(task func()) { task() })
	require.Len(t, held, 1)
	for _, task := range held {
		task()
	}
	sent := client.Sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Out.Text, "It's time for tea")
	assert.Empty(t, p.Pending())
}
