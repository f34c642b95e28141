package tracker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shouya/fondbot/internal/chat"
	"github.com/shouya/fondbot/internal/clock"
)

const (
	newDivider  = "-- _new progress below_ --"
	doneText    = "This shipment has been delivered, tracking stopped. Use /cleanup_trackers to clear finished trackers."
	callTimeout = 30 * time.Second
)

// Shipment is the state a tracking worker owns. Acked counts the items the
// user has already been shown.
type Shipment struct {
	Number    string          `json:"number"`
	Carrier   string          `json:"carrier"`
	Items     []Item          `json:"items"`
	Acked     int             `json:"acked"`
	Origin    chat.MessageRef `json:"origin"`
	Report    chat.MessageRef `json:"report"`
	Done      bool            `json:"done"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (s Shipment) clone() Shipment {
	s.Items = append([]Item(nil), s.Items...)
	return s
}

// reportText lists acknowledged items, then the new ones below a divider.
func (s *Shipment) reportText() string {
	acked := s.Acked
	if acked > len(s.Items) {
		acked = len(s.Items)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*%s* (%s)\n", s.Number, s.Carrier)
	for _, item := range s.Items[:acked] {
		fmt.Fprintf(&b, "`%s` - %s\n", item.Time, item.Context)
	}
	if fresh := s.Items[acked:]; len(fresh) > 0 {
		b.WriteString(newDivider + "\n")
		for _, item := range fresh {
			fmt.Fprintf(&b, "`%s` - %s\n", item.Time, item.Context)
		}
	}
	if len(s.Items) == 0 {
		b.WriteString("no progress yet\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// tracking is the worker behavior for one shipment. Its fields are only
// touched from the worker goroutine once the worker runs.
type tracking struct {
	shipment Shipment
	restored bool
	fetcher  Fetcher
	client   chat.Client
	clock    clock.Clock
	logger   *zap.Logger
}

func newTracking(s Shipment, restored bool, fetcher Fetcher, client chat.Client, clk clock.Clock, logger *zap.Logger) *tracking {
	return &tracking{
		shipment: s,
		restored: restored,
		fetcher:  fetcher,
		client:   client,
		clock:    clk,
		logger:   logger.With(zap.String("number", s.Number)),
	}
}

// Init detects the carrier and fetches the first progress. Everything known
// at that point counts as acknowledged. A restored shipment keeps its cursor
// and waits for the first tick instead.
func (t *tracking) Init(ctx context.Context) error {
	if t.restored {
		return nil
	}
	if t.shipment.Carrier == "" {
		carrier, err := t.fetcher.Carrier(ctx, t.shipment.Number)
		if err != nil {
			return fmt.Errorf("failed to detect carrier: %w", err)
		}
		t.shipment.Carrier = carrier
	}
	p, err := t.fetcher.Progress(ctx, t.shipment.Number, t.shipment.Carrier)
	if err != nil {
		return fmt.Errorf("failed to fetch progress: %w", err)
	}
	t.apply(p)
	t.shipment.Acked = len(t.shipment.Items)
	return nil
}

func (t *tracking) apply(p Progress) {
	t.shipment.Items = p.Items
	t.shipment.Done = p.Delivered
	if p.Carrier != "" {
		t.shipment.Carrier = p.Carrier
	}
	t.shipment.UpdatedAt = t.clock.Now()
}

// Tick fetches the latest progress and reports anything new. A fetch error
// leaves the cursor where it was.
func (t *tracking) Tick(ctx context.Context) (bool, error) {
	p, err := t.fetcher.Progress(ctx, t.shipment.Number, t.shipment.Carrier)
	if err != nil {
		return false, fmt.Errorf("failed to fetch progress: %w", err)
	}
	t.apply(p)

	if err := t.Report(ctx, false); err != nil {
		t.logger.Warn("Failed to report progress", zap.Error(err))
	}
	if !t.shipment.Done {
		return false, nil
	}

	t.logger.Info("Shipment delivered")
	if _, err := t.send(ctx, chat.Outgoing{
		Chat:    t.shipment.Origin.Chat,
		ReplyTo: t.replyTarget(),
		Text:    doneText,
	}); err != nil {
		t.logger.Warn("Failed to send delivery notice", zap.Error(err))
	}
	return true, nil
}

// Report sends the progress listing. Without force it only reports when
// there are unacknowledged items, editing the previous report in place.
// A forced report is always sent as a new message.
func (t *tracking) Report(ctx context.Context, force bool) error {
	s := &t.shipment
	if !force && len(s.Items) <= s.Acked {
		return nil
	}

	out := chat.Outgoing{
		Chat:     s.Origin.Chat,
		Text:     s.reportText(),
		Markdown: true,
	}

	if !force && !s.Report.IsZero() {
		cctx, cancel := context.WithTimeout(ctx, callTimeout)
		err := t.client.Edit(cctx, s.Report, out)
		cancel()
		if err == nil {
			s.Acked = len(s.Items)
			return nil
		}
		t.logger.Warn("Failed to edit report, sending a new one", zap.Error(err))
	}

	out.ReplyTo = s.Origin.ID
	ref, err := t.send(ctx, out)
	if err != nil {
		return err
	}
	s.Report = ref
	s.Acked = len(s.Items)
	return nil
}

func (t *tracking) replyTarget() chat.MessageID {
	if !t.shipment.Report.IsZero() {
		return t.shipment.Report.ID
	}
	return t.shipment.Origin.ID
}

func (t *tracking) send(ctx context.Context, out chat.Outgoing) (chat.MessageRef, error) {
	cctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return t.client.Send(cctx, out)
}

// Snapshot implements worker.Behavior.
func (t *tracking) Snapshot() Shipment {
	return t.shipment.clone()
}
