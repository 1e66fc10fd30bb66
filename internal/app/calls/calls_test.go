package calls

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"go.uber.org/mock/gomock"

	"webrtc-rendezvous/internal/app/directory"
	"webrtc-rendezvous/internal/app/rooms"
	"webrtc-rendezvous/pkg/roomstore"
)

var ref = rooms.Ref{Host: "https://example.org", ID: "call-1"}

func newService(t *testing.T, dir directory.Directory) (*Service, *rooms.Coordinator) {
	t.Helper()
	nop := zerolog.Nop()
	coord := rooms.NewCoordinator(roomstore.NewMemoryStore(), rooms.Options{Logger: &nop})
	return NewService(dir, rooms.NewInvitations(coord), &nop), coord
}

func TestCall_AllowsEveryCalleeDevice(t *testing.T) {
	ctrl := gomock.NewController(t)
	dir := NewMockDirectory(ctrl)
	dir.EXPECT().DeviceByID(gomock.Any(), "caller-phone").
		Return(directory.Device{ID: "caller-phone", UserID: "alice", Verified: true}, nil)
	dir.EXPECT().DevicesForUser(gomock.Any(), "bob").
		Return([]directory.Device{
			{ID: "bob-phone", UserID: "bob", Verified: true},
			{ID: "bob-laptop", UserID: "bob", Verified: true},
		}, nil)

	svc, coord := newService(t, dir)
	res, err := svc.Call(context.Background(), ref, "caller-phone", "bob")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if !res.IsInitiator {
		t.Fatalf("expected caller to be initiator")
	}
	snap, _ := coord.QueryRoomState(context.Background(), ref)
	want := map[string]bool{"caller-phone": true, "bob-phone": true, "bob-laptop": true}
	if len(snap.AllowedClients) != len(want) {
		t.Fatalf("unexpected allow-list %v", snap.AllowedClients)
	}
	for _, id := range snap.AllowedClients {
		if !want[id] {
			t.Fatalf("unexpected allow-list entry %q", id)
		}
	}
}

func TestCall_InvalidCaller(t *testing.T) {
	ctrl := gomock.NewController(t)
	dir := NewMockDirectory(ctrl)
	dir.EXPECT().DeviceByID(gomock.Any(), "ghost").Return(directory.Device{}, directory.ErrNotFound)

	svc, _ := newService(t, dir)
	if _, err := svc.Call(context.Background(), ref, "ghost", "bob"); !errors.Is(err, rooms.ErrInvalidCaller) {
		t.Fatalf("expected INVALID_CALLER, got %v", err)
	}
}

func TestCall_CalleeWithoutDevices(t *testing.T) {
	ctrl := gomock.NewController(t)
	dir := NewMockDirectory(ctrl)
	dir.EXPECT().DeviceByID(gomock.Any(), "caller-phone").
		Return(directory.Device{ID: "caller-phone", UserID: "alice", Verified: true}, nil)
	dir.EXPECT().DevicesForUser(gomock.Any(), "nobody").Return(nil, nil)

	svc, _ := newService(t, dir)
	if _, err := svc.Call(context.Background(), ref, "caller-phone", "nobody"); !errors.Is(err, rooms.ErrInvalidCallee) {
		t.Fatalf("expected INVALID_CALLEE, got %v", err)
	}
}

func TestCall_DirectoryFailureIsInternal(t *testing.T) {
	ctrl := gomock.NewController(t)
	dir := NewMockDirectory(ctrl)
	dir.EXPECT().DeviceByID(gomock.Any(), "caller-phone").Return(directory.Device{}, errors.New("db down"))

	svc, _ := newService(t, dir)
	_, err := svc.Call(context.Background(), ref, "caller-phone", "bob")
	if rooms.CodeOf(err) != rooms.ErrInternal {
		t.Fatalf("expected INTERNAL_ERROR, got %v", err)
	}
}

func TestAcceptAndDecline_UseStaticDirectory(t *testing.T) {
	dir := directory.NewStatic(
		directory.Device{ID: "a1", UserID: "alice", Verified: true},
		directory.Device{ID: "b1", UserID: "bob", Verified: true},
		directory.Device{ID: "b2", UserID: "bob", Verified: true},
		directory.Device{ID: "b3", UserID: "bob"},
	)
	svc, coord := newService(t, dir)
	ctx := context.Background()

	if _, err := svc.Call(ctx, ref, "a1", "bob"); err != nil {
		t.Fatalf("call: %v", err)
	}
	if _, err := svc.Decline(ctx, ref, "b3"); !errors.Is(err, rooms.ErrInvalidCallee) {
		t.Fatalf("expected unverified device to be rejected, got %v", err)
	}
	if _, err := svc.Accept(ctx, ref, "zz"); !errors.Is(err, rooms.ErrInvalidCallee) {
		t.Fatalf("expected unknown device to be rejected, got %v", err)
	}
	if _, err := svc.Decline(ctx, ref, "b2"); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if _, err := svc.Accept(ctx, ref, "b1"); !errors.Is(err, rooms.ErrInvalidRoom) {
		t.Fatalf("expected INVALID_ROOM after decline, got %v", err)
	}

	if _, err := svc.Call(ctx, ref, "a1", "bob"); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if _, err := svc.Accept(ctx, ref, "b1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	snap, _ := coord.QueryRoomState(ctx, ref)
	if snap.State != rooms.StateFull {
		t.Fatalf("expected full room, got %s", snap.State)
	}
}
