package relay

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"go.uber.org/mock/gomock"

	"webrtc-rendezvous/internal/app/rooms"
	"webrtc-rendezvous/pkg/roomstore"
)

var ref = rooms.Ref{Host: "https://example.org", ID: "r1"}

func setup(t *testing.T) (*rooms.Coordinator, *MockTransport, *Relay) {
	t.Helper()
	nop := zerolog.Nop()
	coord := rooms.NewCoordinator(roomstore.NewMemoryStore(), rooms.Options{Logger: &nop})
	transport := NewMockTransport(gomock.NewController(t))
	return coord, transport, New(coord, transport, Options{Logger: &nop})
}

func join(t *testing.T, c *rooms.Coordinator, id string, loopback bool) {
	t.Helper()
	_, err := c.Join(context.Background(), ref, id, rooms.JoinOptions{
		Type:        rooms.TypeOpen,
		AllowCreate: true,
		Loopback:    loopback,
	})
	if err != nil {
		t.Fatalf("join %s: %v", id, err)
	}
}

func TestSend_SavedWhileAlone(t *testing.T) {
	c, transport, r := setup(t)
	join(t, c, "alice", false)
	transport.EXPECT().Deliver(gomock.Any(), gomock.Any()).Times(0)

	res, err := r.Send(context.Background(), ref, "alice", "offer")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !res.Saved {
		t.Fatalf("expected saved result, got %+v", res)
	}
}

func TestSend_ForwardsToPeer(t *testing.T) {
	c, transport, r := setup(t)
	join(t, c, "alice", false)
	join(t, c, "bob", false)

	transport.EXPECT().
		Deliver(gomock.Any(), Delivery{RoomID: "r1", From: "bob", To: "alice", Payload: "answer"}).
		Return(nil)

	res, err := r.Send(context.Background(), ref, "bob", "answer")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !res.Forward || res.Peer != "alice" {
		t.Fatalf("expected forward to alice, got %+v", res)
	}
}

func TestSend_LoopbackEchoesToSender(t *testing.T) {
	c, transport, r := setup(t)
	join(t, c, "alice", true)

	transport.EXPECT().
		Deliver(gomock.Any(), Delivery{RoomID: "r1", From: "alice", To: "alice", Payload: "offer"}).
		Return(nil)

	if _, err := r.Send(context.Background(), ref, "alice", "offer"); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestSend_DeliveryFailureKeepsMembership(t *testing.T) {
	c, transport, r := setup(t)
	join(t, c, "alice", false)
	join(t, c, "bob", false)

	transport.EXPECT().Deliver(gomock.Any(), gomock.Any()).Return(errors.New("peer not connected"))

	_, err := r.Send(context.Background(), ref, "alice", "candidate")
	if !errors.Is(err, rooms.ErrDelivery) {
		t.Fatalf("expected DELIVERY_ERROR, got %v", err)
	}
	snap, err := c.QueryRoomState(context.Background(), ref)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if snap.Occupancy != 2 {
		t.Fatalf("expected both clients to remain, got %d", snap.Occupancy)
	}
}

func TestSend_UnknownClientNeverDelivers(t *testing.T) {
	c, transport, r := setup(t)
	join(t, c, "alice", false)
	transport.EXPECT().Deliver(gomock.Any(), gomock.Any()).Times(0)

	if _, err := r.Send(context.Background(), ref, "mallory", "x"); !errors.Is(err, rooms.ErrUnknownClient) {
		t.Fatalf("expected UNKNOWN_CLIENT, got %v", err)
	}
}

func TestColliderTransport_Deliver(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		gotPath = r.URL.EscapedPath()
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := NewColliderTransport(srv.URL+"/", nil)
	err := tr.Deliver(context.Background(), Delivery{RoomID: "room 1", From: "alice", To: "bob", Payload: `{"type":"offer"}`})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if gotPath != "/room%201/alice" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotBody != `{"type":"offer"}` {
		t.Fatalf("unexpected body %q", gotBody)
	}
}

func TestColliderTransport_Non200IsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	tr := NewColliderTransport(srv.URL, srv.Client())
	if err := tr.Deliver(context.Background(), Delivery{RoomID: "r", From: "a", Payload: "x"}); err == nil {
		t.Fatalf("expected error for non-200 response")
	}
}
