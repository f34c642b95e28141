package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrCarrierNotFound is returned when the provider cannot tell which carrier
// a tracking number belongs to.
var ErrCarrierNotFound = errors.New("carrier not found")

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// Item is one progress entry.
type Item struct {
	Time    string `json:"time"`
	Context string `json:"context"`
}

// Progress is the provider's view of a shipment. Items are oldest first.
type Progress struct {
	Number    string
	Carrier   string
	Items     []Item
	Delivered bool
}

// Fetcher looks up shipments.
type Fetcher interface {
	// Carrier detects the carrier code for a tracking number.
	Carrier(ctx context.Context, number string) (string, error)

	// Progress fetches the current progress of a shipment.
	Progress(ctx context.Context, number, carrier string) (Progress, error)
}

// Kuaidi100 queries the public kuaidi100.com endpoints.
type Kuaidi100 struct {
	baseURL string
	client  *http.Client
}

// NewKuaidi100 creates a client for baseURL with a per-request timeout.
func NewKuaidi100(baseURL string, timeout time.Duration) *Kuaidi100 {
	return &Kuaidi100{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type autoComNumResponse struct {
	Auto []struct {
		ComCode string `json:"comCode"`
	} `json:"auto"`
}

type queryResponse struct {
	Nu      string `json:"nu"`
	Com     string `json:"com"`
	IsCheck string `json:"ischeck"`
	Data    []Item `json:"data"`
}

func (k *Kuaidi100) get(ctx context.Context, path string, query url.Values, v any) error {
	u := k.baseURL + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("failed to request %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// Carrier implements Fetcher.
func (k *Kuaidi100) Carrier(ctx context.Context, number string) (string, error) {
	var out autoComNumResponse
	if err := k.get(ctx, "/autonumber/autoComNum", url.Values{"text": {number}}, &out); err != nil {
		return "", err
	}
	if len(out.Auto) == 0 || out.Auto[0].ComCode == "" {
		return "", ErrCarrierNotFound
	}
	return out.Auto[0].ComCode, nil
}

// Progress implements Fetcher. The provider lists newest entries first; the
// result is reversed so that acknowledged entries form a prefix.
func (k *Kuaidi100) Progress(ctx context.Context, number, carrier string) (Progress, error) {
	var out queryResponse
	q := url.Values{"type": {carrier}, "postid": {number}}
	if err := k.get(ctx, "/query", q, &out); err != nil {
		return Progress{}, err
	}

	items := make([]Item, len(out.Data))
	for i, item := range out.Data {
		items[len(out.Data)-1-i] = item
	}
	p := Progress{
		Number:    out.Nu,
		Carrier:   out.Com,
		Items:     items,
		Delivered: out.IsCheck == "1",
	}
	if p.Number == "" {
		p.Number = number
	}
	if p.Carrier == "" {
		p.Carrier = carrier
	}
	return p, nil
}
