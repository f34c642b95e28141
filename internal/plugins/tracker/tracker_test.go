package tracker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shouya/fondbot/internal/chat"
	"github.com/shouya/fondbot/internal/chattest"
	"github.com/shouya/fondbot/internal/clock"
	"github.com/shouya/fondbot/internal/config"
	"github.com/shouya/fondbot/internal/store"
	"github.com/shouya/fondbot/pkg/plugin"
)

const (
	testChat = chat.ChatID(10)
	interval = 5 * time.Minute
	eventual = 2 * time.Second
	poll     = 5 * time.Millisecond
)

type fakeFetcher struct {
	mu           sync.Mutex
	carrierErr   error
	progressErr  error
	items        []Item
	delivered    bool
	carrierCalls int
	fetches      int
}

func (f *fakeFetcher) Carrier(ctx context.Context, number string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.carrierCalls++
	if f.carrierErr != nil {
		return "", f.carrierErr
	}
	return "shunfeng", nil
}

func (f *fakeFetcher) Progress(ctx context.Context, number, carrier string) (Progress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.progressErr != nil {
		return Progress{}, f.progressErr
	}
	return Progress{
		Number:    number,
		Carrier:   carrier,
		Items:     append([]Item(nil), f.items...),
		Delivered: f.delivered,
	}, nil
}

func (f *fakeFetcher) set(fn func(f *fakeFetcher)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeFetcher) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

type harness struct {
	ctx     *plugin.Context
	clock   *clock.MockClock
	client  *chattest.Client
	store   *store.Memory
	fetcher *fakeFetcher
	nextID  chat.MessageID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Reminder.Timezone = "UTC"
	cfg.Tracker.Interval = interval
	cfg.Tracker.PersistInterval = 0

	clk := clock.NewMockClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	client := chattest.NewClient()
	st := store.NewMemory()
	fetcher := &fakeFetcher{items: []Item{
		{Time: "2024-03-01 08:00", Context: "Picked up"},
		{Time: "2024-03-01 08:30", Context: "Departed hub"},
	}}
	ctx := plugin.NewContext(client, st, nil, nil, zap.NewNop(), clk, cfg)
	ctx.Attach(context.Background(), func(task func()) { task() })
	return &harness{
		ctx:     ctx,
		clock:   clk,
		client:  client,
		store:   st,
		fetcher: fetcher,
	}
}

func (h *harness) tracker(t *testing.T) *Tracker {
	t.Helper()
	tr, err := New(h.ctx, h.fetcher)
	require.NoError(t, err)
	t.Cleanup(func() { tr.Stop(h.ctx) })
	return tr
}

func (h *harness) send(t *testing.T, tr *Tracker, text string) *chat.Message {
	t.Helper()
	h.nextID++
	msg := &chat.Message{Chat: testChat, ID: h.nextID, From: chat.User{ID: 5}, Text: text}
	require.NoError(t, tr.Process(h.ctx, msg))
	return msg
}

func (h *harness) lastText(t *testing.T) string {
	t.Helper()
	last, ok := h.client.LastSent()
	require.True(t, ok)
	return last.Out.Text
}

func (h *harness) index(t *testing.T) []string {
	t.Helper()
	var ids []string
	_, err := h.store.Load(IndexKey, &ids)
	require.NoError(t, err)
	return ids
}

func (h *harness) snapshot(t *testing.T, tr *Tracker, number string) Shipment {
	t.Helper()
	handle, ok := tr.pool.Get(number)
	require.True(t, ok)
	s, err := handle.Snapshot(context.Background())
	require.NoError(t, err)
	return s
}

func TestTrackSendsFirstReportAndPersists(t *testing.T) {
	h := newHarness(t)
	tr := h.tracker(t)

	msg := h.send(t, tr, "/track ABC123")

	last, ok := h.client.LastSent()
	require.True(t, ok)
	assert.True(t, last.Out.Markdown)
	assert.Equal(t, msg.ID, last.Out.ReplyTo)
	assert.Contains(t, last.Out.Text, "*ABC123* (shunfeng)")
	assert.Contains(t, last.Out.Text, "`2024-03-01 08:00` - Picked up")
	assert.NotContains(t, last.Out.Text, newDivider)

	assert.Equal(t, []string{"ABC123"}, h.index(t))
	var stored Shipment
	found, err := h.store.Load(ShipmentKey("ABC123"), &stored)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, stored.Acked)
	assert.Equal(t, last.Ref, stored.Report)
	assert.Equal(t, msg.Ref(), stored.Origin)
}

func TestNewProgressIsReportedInPlace(t *testing.T) {
	h := newHarness(t)
	tr := h.tracker(t)
	h.send(t, tr, "/track ABC123")
	report, _ := h.client.LastSent()

	h.fetcher.set(func(f *fakeFetcher) {
		f.items = append(f.items, Item{Time: "2024-03-01 12:00", Context: "Arrived at station"})
	})
	h.clock.Advance(interval)

	require.Eventually(t, func() bool { return len(h.client.Edited()) == 1 }, eventual, poll)
	edited, _ := h.client.LastEdited()
	assert.Equal(t, report.Ref, edited.Ref)

	text := edited.Out.Text
	divider := strings.Index(text, newDivider)
	require.GreaterOrEqual(t, divider, 0)
	assert.Less(t, strings.Index(text, "Departed hub"), divider)
	assert.Greater(t, strings.Index(text, "Arrived at station"), divider)

	assert.Equal(t, 3, h.snapshot(t, tr, "ABC123").Acked)
}

func TestUnchangedProgressIsNotReported(t *testing.T) {
	h := newHarness(t)
	tr := h.tracker(t)
	h.send(t, tr, "/track ABC123")
	sent := len(h.client.Sent())

	h.clock.Advance(interval)
	require.Eventually(t, func() bool { return h.fetcher.fetchCount() == 2 }, eventual, poll)

	h.snapshot(t, tr, "ABC123")
	assert.Len(t, h.client.Sent(), sent)
	assert.Empty(t, h.client.Edited())
}

func TestFetchFailureKeepsCursor(t *testing.T) {
	h := newHarness(t)
	tr := h.tracker(t)
	h.send(t, tr, "/track ABC123")

	h.fetcher.set(func(f *fakeFetcher) {
		f.items = append(f.items, Item{Time: "t3", Context: "New"})
		f.progressErr = errors.New("upstream 502")
	})
	h.clock.Advance(interval)
	require.Eventually(t, func() bool { return h.fetcher.fetchCount() == 2 }, eventual, poll)

	s := h.snapshot(t, tr, "ABC123")
	assert.Equal(t, 2, s.Acked)
	assert.Len(t, s.Items, 2)
	assert.Empty(t, h.client.Edited())

	handle, _ := tr.pool.Get("ABC123")
	assert.True(t, handle.Alive())
}

func TestDeliveredShipmentFinishes(t *testing.T) {
	h := newHarness(t)
	tr := h.tracker(t)
	h.send(t, tr, "/track ABC123")

	h.fetcher.set(func(f *fakeFetcher) {
		f.items = append(f.items, Item{Time: "t3", Context: "Signed for"})
		f.delivered = true
	})
	h.clock.Advance(interval)

	handle, _ := tr.pool.Get("ABC123")
	select {
	case <-handle.Done():
	case <-time.After(eventual):
		t.Fatal("worker did not finish")
	}
	assert.Equal(t, doneText, h.lastText(t))
	assert.Contains(t, doneText, "/cleanup_trackers")

	h.send(t, tr, "/list_trackers")
	assert.Equal(t, "`ABC123`\t[dead ]", h.lastText(t))
	assert.Equal(t, "1 trackers, 0 alive", tr.Report())

	h.send(t, tr, "/cleanup_trackers")
	assert.Equal(t, "`ABC123`\t[dead ]\n---\n1 entries removed.", h.lastText(t))
	assert.Empty(t, h.index(t))
	_, found, _ := h.store.Raw(ShipmentKey("ABC123"))
	assert.False(t, found)
}

func TestTrackReplacesExistingWorker(t *testing.T) {
	h := newHarness(t)
	tr := h.tracker(t)

	h.send(t, tr, "/track ABC123")
	first, ok := tr.pool.Get("ABC123")
	require.True(t, ok)

	h.send(t, tr, "/track ABC123")
	second, ok := tr.pool.Get("ABC123")
	require.True(t, ok)

	assert.NotSame(t, first, second)
	assert.False(t, first.Alive())
	assert.True(t, second.Alive())
	assert.Equal(t, "1 trackers, 1 alive", tr.Report())
}

func TestTrackFailureReplies(t *testing.T) {
	h := newHarness(t)
	h.fetcher.carrierErr = ErrCarrierNotFound
	tr := h.tracker(t)

	h.send(t, tr, "/track NOPE")

	assert.Contains(t, h.lastText(t), "Failed to track NOPE")
	assert.Equal(t, 0, tr.pool.Len())
}

func TestTrackUsage(t *testing.T) {
	h := newHarness(t)
	tr := h.tracker(t)

	h.send(t, tr, "/track")
	assert.Equal(t, "Usage: /track <tracking_no>", h.lastText(t))
	h.send(t, tr, "/untrack")
	assert.Equal(t, "Usage: /untrack <tracking_no>", h.lastText(t))
	h.send(t, tr, "/query NOPE")
	assert.Contains(t, h.lastText(t), "Usage: /query")
}

func TestUntrack(t *testing.T) {
	h := newHarness(t)
	tr := h.tracker(t)
	h.send(t, tr, "/track ABC123")
	handle, _ := tr.pool.Get("ABC123")

	h.send(t, tr, "/untrack ABC123")
	assert.Equal(t, "Stopped tracking ABC123", h.lastText(t))
	assert.False(t, handle.Alive())
	assert.Empty(t, h.index(t))
	_, found, _ := h.store.Raw(ShipmentKey("ABC123"))
	assert.False(t, found)

	h.send(t, tr, "/untrack ABC123")
	assert.Equal(t, "ABC123 is not being tracked", h.lastText(t))
}

func TestQuerySendsFreshReport(t *testing.T) {
	h := newHarness(t)
	tr := h.tracker(t)
	h.send(t, tr, "/track ABC123")
	first, _ := h.client.LastSent()

	h.send(t, tr, "/query ABC123")
	second, _ := h.client.LastSent()

	assert.NotEqual(t, first.Ref, second.Ref)
	assert.Equal(t, first.Out.Text, second.Out.Text)
	assert.Equal(t, second.Ref, h.snapshot(t, tr, "ABC123").Report)
}

func TestRestoreKeepsCursor(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Save(IndexKey, []string{"ABC123", "DONE1"}))
	require.NoError(t, h.store.Save(ShipmentKey("ABC123"), Shipment{
		Number:  "ABC123",
		Carrier: "shunfeng",
		Items:   []Item{{Time: "2024-03-01 08:00", Context: "Picked up"}},
		Acked:   1,
		Origin:  chat.MessageRef{Chat: testChat, ID: 7},
	}))
	require.NoError(t, h.store.Save(ShipmentKey("DONE1"), Shipment{Number: "DONE1", Done: true}))

	tr := h.tracker(t)
	assert.Equal(t, []string{"ABC123"}, tr.pool.IDs())

	s := h.snapshot(t, tr, "ABC123")
	assert.Equal(t, 1, s.Acked)
	assert.Equal(t, 0, h.fetcher.fetchCount(), "restore does not fetch")

	h.clock.Advance(interval)
	require.Eventually(t, func() bool { return len(h.client.Sent()) == 1 }, eventual, poll)

	sent := h.client.Sent()[0]
	assert.Equal(t, testChat, sent.Out.Chat)
	assert.Equal(t, chat.MessageID(7), sent.Out.ReplyTo)
	assert.Contains(t, sent.Out.Text, newDivider)
	assert.Greater(t, strings.Index(sent.Out.Text, "Departed hub"), strings.Index(sent.Out.Text, newDivider))

	h.fetcher.mu.Lock()
	assert.Equal(t, 0, h.fetcher.carrierCalls)
	h.fetcher.mu.Unlock()
}

func TestPeriodicPersist(t *testing.T) {
	h := newHarness(t)
	h.ctx.Config.Tracker.PersistInterval = time.Minute
	tr := h.tracker(t)

	h.send(t, tr, "/track ABC123")
	require.NoError(t, h.store.Delete(IndexKey))

	h.clock.Advance(time.Minute)
	require.Eventually(t, func() bool {
		_, found, _ := h.store.Raw(IndexKey)
		return found
	}, eventual, poll)
	assert.Equal(t, []string{"ABC123"}, h.index(t))
}

func TestStopPersistsAndQuits(t *testing.T) {
	h := newHarness(t)
	tr, err := New(h.ctx, h.fetcher)
	require.NoError(t, err)
	h.send(t, tr, "/track ABC123")
	handle, _ := tr.pool.Get("ABC123")
	require.NoError(t, h.store.Delete(ShipmentKey("ABC123")))

	tr.Stop(h.ctx)

	assert.False(t, handle.Alive())
	_, found, _ := h.store.Raw(ShipmentKey("ABC123"))
	assert.True(t, found)
	assert.Equal(t, []string{"ABC123"}, h.index(t))
}

func TestReportText(t *testing.T) {
	s := Shipment{Number: "N1", Carrier: "ems"}
	assert.Equal(t, "*N1* (ems)\nno progress yet", s.reportText())

	s.Items = []Item{{Time: "a", Context: "one"}, {Time: "b", Context: "two"}}
	s.Acked = 1
	assert.Equal(t, "*N1* (ems)\n`a` - one\n"+newDivider+"\n`b` - two", s.reportText())

	s.Acked = 5
	assert.Equal(t, "*N1* (ems)\n`a` - one\n`b` - two", s.reportText())
}
