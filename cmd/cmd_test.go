package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"webrtc-rendezvous/internal/app/rooms"
	"webrtc-rendezvous/internal/config"
	"webrtc-rendezvous/pkg/presence"
	"webrtc-rendezvous/pkg/roomstore"
)

func TestInspectRoom_Table(t *testing.T) {
	ctx := context.Background()
	store := roomstore.NewMemoryStore()
	nop := zerolog.Nop()
	coord := rooms.NewCoordinator(store, rooms.Options{Logger: &nop})
	ref := rooms.Ref{Host: "http://localhost:8080", ID: "r1"}

	if _, err := rooms.NewInvitations(coord).Call(ctx, ref, "alice", []string{"bob"}); err != nil {
		t.Fatalf("call: %v", err)
	}

	pres := presence.NewMemoryStore("node-a")
	if err := pres.AddPeer(ctx, "r1/alice"); err != nil {
		t.Fatalf("add peer: %v", err)
	}

	var buf bytes.Buffer
	if err := inspectRoom(ctx, &buf, store, pres, ref, false); err != nil {
		t.Fatalf("inspect: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"room r1", "direct", "WAITING", "alice", "node-a", "allowed: alice, bob"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestInspectRoom_JSONAndMissing(t *testing.T) {
	ctx := context.Background()
	store := roomstore.NewMemoryStore()
	nop := zerolog.Nop()
	coord := rooms.NewCoordinator(store, rooms.Options{Logger: &nop})
	ref := rooms.Ref{Host: "http://localhost:8080", ID: "r2"}

	if err := inspectRoom(ctx, &bytes.Buffer{}, store, nil, ref, false); err == nil {
		t.Fatalf("expected error for missing room")
	}

	if _, err := coord.Join(ctx, ref, "alice", rooms.JoinOptions{Type: rooms.TypeOpen, AllowCreate: true}); err != nil {
		t.Fatalf("join: %v", err)
	}
	var buf bytes.Buffer
	if err := inspectRoom(ctx, &buf, store, nil, ref, true); err != nil {
		t.Fatalf("inspect: %v", err)
	}
	var snap map[string]any
	if err := json.Unmarshal(buf.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap["state"] != "WAITING" || snap["room_type"] != "open" {
		t.Fatalf("unexpected snapshot %v", snap)
	}
}

func TestOpenDirectory_Static(t *testing.T) {
	cfg := &config.Config{Directory: config.DirectoryConfig{Backend: config.DirectoryStatic, Devices: "alice=phone"}}
	dir, closeDir, err := openDirectory(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer closeDir()

	dev, err := dir.DeviceByID(context.Background(), "phone")
	if err != nil || dev.UserID != "alice" {
		t.Fatalf("unexpected device %+v, err %v", dev, err)
	}

	cfg.Directory.Devices = "broken"
	if _, _, err := openDirectory(context.Background(), cfg); err == nil {
		t.Fatalf("expected parse error")
	}
}
