package relay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const colliderTimeout = 5 * time.Second

// ColliderTransport forwards messages to an external collider service with
// POST {base}/{room_id}/{from_client_id}; the collider routes to the peer.
type ColliderTransport struct {
	base   string
	client *http.Client
}

func NewColliderTransport(baseURL string, client *http.Client) *ColliderTransport {
	if client == nil {
		client = &http.Client{Timeout: colliderTimeout}
	}
	return &ColliderTransport{
		base:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client: client,
	}
}

func (t *ColliderTransport) Deliver(ctx context.Context, d Delivery) error {
	target := fmt.Sprintf("%s/%s/%s", t.base, url.PathEscape(d.RoomID), url.PathEscape(d.From))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(d.Payload))
	if err != nil {
		return fmt.Errorf("build collider request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to collider: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("collider returned %s", resp.Status)
	}
	return nil
}
