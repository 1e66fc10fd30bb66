package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"webrtc-rendezvous/internal/app/rooms"
	"webrtc-rendezvous/internal/config"
	"webrtc-rendezvous/pkg/presence"
	"webrtc-rendezvous/pkg/roomstore"
)

var inspectFlags struct {
	host   string
	asJSON bool
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <room_id>",
	Short: "Print the stored state of a room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return fmt.Errorf("could not load config: %w", err)
		}
		if cfg.Rooms.Store != config.StoreRedis {
			return fmt.Errorf("inspect needs ROOM_STORE=%s, got %q", config.StoreRedis, cfg.Rooms.Store)
		}

		rdb := newRedisClient(cfg)
		defer rdb.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()

		return inspectRoom(ctx, cmd.OutOrStdout(),
			roomstore.NewRedisStore(rdb, cfg.Redis.Prefix),
			presence.NewRedisStore(rdb, cfg.Redis.Prefix, cfg.InstanceID),
			rooms.Ref{Host: strings.TrimRight(inspectFlags.host, "/"), ID: args[0]}, inspectFlags.asJSON)
	},
}

func init() {
	inspectCmd.Flags().StringVar(&inspectFlags.host, "host", "http://localhost:8080", "origin the room was joined through")
	inspectCmd.Flags().BoolVar(&inspectFlags.asJSON, "json", false, "print the snapshot as JSON")
	rootCmd.AddCommand(inspectCmd)
}

func newRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// inspectRoom prints the room snapshot. When pres is set, the table also
// shows which instance holds each client's socket.
func inspectRoom(ctx context.Context, w io.Writer, store roomstore.Store, pres presence.Store, ref rooms.Ref, asJSON bool) error {
	snap, err := rooms.NewCoordinator(store, rooms.Options{}).QueryRoomState(ctx, ref)
	if errors.Is(err, rooms.ErrUnknownRoom) {
		return fmt.Errorf("room %s not found", ref)
	}
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}

	sockets := make(map[string]string, len(snap.Clients))
	if pres != nil {
		for _, c := range snap.Clients {
			owner, err := pres.Locate(ctx, ref.ID+"/"+c.ID)
			switch {
			case errors.Is(err, presence.ErrNotFound):
			case err != nil:
				return fmt.Errorf("locate %s: %w", c.ID, err)
			default:
				sockets[c.ID] = owner
			}
		}
	}
	renderSnapshot(w, snap, sockets)
	return nil
}

func renderSnapshot(w io.Writer, snap rooms.Snapshot, sockets map[string]string) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.Style().Format.Footer = text.FormatDefault
	tw.SetTitle("room %s (%s, %s, version %d)", snap.RoomID, snap.Type, snap.State, snap.Version)

	tw.AppendHeader(table.Row{"Client", "Initiator", "Pending", "Allowed", "Socket"})
	allowed := make(map[string]bool, len(snap.AllowedClients))
	for _, id := range snap.AllowedClients {
		allowed[id] = true
	}
	for _, c := range snap.Clients {
		mark := "-"
		if snap.AllowedClients != nil {
			mark = fmt.Sprint(allowed[c.ID])
		}
		socket := "-"
		if owner, ok := sockets[c.ID]; ok {
			socket = owner
		}
		tw.AppendRow(table.Row{c.ID, c.IsInitiator, c.PendingMessages, mark, socket})
	}

	footer := "unrestricted"
	if snap.AllowedClients != nil {
		footer = "allowed: " + strings.Join(snap.AllowedClients, ", ")
	}
	tw.AppendFooter(table.Row{fmt.Sprintf("%d/2", snap.Occupancy), "", "", footer, ""})
	tw.Render()
}
