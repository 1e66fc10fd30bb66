package rooms

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"

	"webrtc-rendezvous/pkg/roomstore"
)

// DefaultMaxAttempts bounds every CAS loop.
const DefaultMaxAttempts = 10

const cleanupTimeout = 2 * time.Second

// errConflict marks a lost CAS race. It never leaves the package.
var errConflict = errors.New("room changed concurrently")

// Observer receives one call per finished coordinator operation.
type Observer interface {
	ObserveRoomOperation(op string, code Code, attempts int)
}

// Options tunes a Coordinator. The zero value is usable.
type Options struct {
	MaxAttempts int
	// Backoff between CAS attempts; zero retries immediately.
	Backoff  time.Duration
	TTL      time.Duration
	Logger   *zerolog.Logger
	Observer Observer
}

// Coordinator runs the room state machine over a shared Store using
// optimistic concurrency only: read, validate, compute, compare-and-swap.
type Coordinator struct {
	store       roomstore.Store
	maxAttempts int
	backoff     time.Duration
	ttl         time.Duration
	logger      zerolog.Logger
	observer    Observer
}

func NewCoordinator(store roomstore.Store, opts Options) *Coordinator {
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.TTL <= 0 {
		opts.TTL = roomstore.DefaultTTL
	}
	if opts.Backoff < 0 {
		opts.Backoff = 0
	}
	return &Coordinator{
		store:       store,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		ttl:         opts.TTL,
		logger:      logger.With().Str("component", "rooms").Logger(),
		observer:    opts.Observer,
	}
}

// JoinOptions controls admission. AllowedClients is only merged into an empty room.
type JoinOptions struct {
	Type           RoomType
	Loopback       bool
	AllowCreate    bool
	AllowedClients []string
	// RequireEmpty and RequireWaiting reject with ErrInvalidRoom unless the
	// room has exactly zero or one occupant respectively.
	RequireEmpty   bool
	RequireWaiting bool
}

type JoinResult struct {
	IsInitiator bool
	// Messages holds what the existing occupant queued before this join.
	Messages  []string
	RoomState string
}

type LeaveResult struct {
	RoomState string
	Deleted   bool
}

// MessageResult is either Saved, or Forward to Peer.
type MessageResult struct {
	Saved     bool
	Forward   bool
	Peer      string
	RoomState string
}

type ClientInfo struct {
	ID              string `json:"client_id"`
	IsInitiator     bool   `json:"is_initiator"`
	PendingMessages int    `json:"pending_messages"`
}

type Snapshot struct {
	RoomID         string            `json:"room_id"`
	Type           RoomType          `json:"room_type"`
	State          State             `json:"state"`
	Occupancy      int               `json:"occupancy"`
	Clients        []ClientInfo      `json:"clients"`
	AllowedClients []string          `json:"allowed_clients,omitempty"`
	Version        roomstore.Version `json:"version"`
}

// Join admits clientID to the room.
func (c *Coordinator) Join(ctx context.Context, ref Ref, clientID string, opts JoinOptions) (JoinResult, error) {
	if err := validateIDs(ref, clientID); err != nil {
		return JoinResult{}, err
	}
	if opts.Type == 0 {
		opts.Type = TypeOpen
	}
	var (
		res     JoinResult
		created bool
	)
	err := c.transact(ctx, "join", func(ctx context.Context) error {
		res = JoinResult{}
		room, version, fresh, err := c.open(ctx, ref, opts.AllowCreate, opts.Type)
		created = created || fresh
		if err != nil {
			return err
		}
		if err := admit(room, clientID, opts, &res); err != nil {
			return err
		}
		res.RoomState = room.String()
		return c.save(ctx, ref, room, version)
	})
	if err != nil {
		c.logger.Debug().Err(err).Str("room", ref.String()).Str("client", clientID).Msg("join refused")
		if created {
			c.discardEmpty(ctx, ref)
		}
		return JoinResult{}, err
	}
	if res.Messages == nil {
		res.Messages = []string{}
	}
	c.logger.Info().
		Str("room", ref.String()).
		Str("client", clientID).
		Bool("initiator", res.IsInitiator).
		Str("state", res.RoomState).
		Msg("client joined")
	return res, nil
}

func admit(room *Room, clientID string, opts JoinOptions, res *JoinResult) error {
	occupancy := room.Occupancy()
	if occupancy >= 2 {
		return ErrRoomFull
	}
	if room.HasClient(clientID) {
		return ErrDuplicateClient
	}
	if room.Type != opts.Type {
		return ErrTypeMismatch
	}
	if opts.RequireEmpty && occupancy != 0 {
		return ErrInvalidRoom
	}
	if opts.RequireWaiting && occupancy != 1 {
		return ErrInvalidRoom
	}

	if occupancy == 0 {
		if !room.IsClientAllowed(clientID) {
			return ErrCalleeNotAllowed
		}
		room.Clients[clientID] = &Client{IsInitiator: true}
		for _, id := range opts.AllowedClients {
			room.AddAllowedClient(id)
		}
		if room.Restricted() {
			room.AddAllowedClient(clientID)
		}
		if opts.Loopback {
			room.Clients[LoopbackClientID] = &Client{}
			if room.Restricted() {
				room.AddAllowedClient(LoopbackClientID)
			}
		}
		res.IsInitiator = true
		return nil
	}

	if !room.IsClientAllowed(clientID) {
		return ErrCalleeNotAllowed
	}
	if _, other, ok := room.OtherClient(clientID); ok {
		res.Messages = other.Messages
		other.Messages = nil
	}
	room.Clients[clientID] = &Client{}
	return nil
}

// Leave removes clientID, and the loopback peer with it. The remaining client
// becomes initiator; a room left empty is deleted.
func (c *Coordinator) Leave(ctx context.Context, ref Ref, clientID string) (LeaveResult, error) {
	if err := validateIDs(ref, clientID); err != nil {
		return LeaveResult{}, err
	}
	var res LeaveResult
	err := c.transact(ctx, "leave", func(ctx context.Context) error {
		res = LeaveResult{}
		room, version, err := c.load(ctx, ref)
		if err != nil {
			return err
		}
		if !room.HasClient(clientID) {
			return ErrUnknownClient
		}
		delete(room.Clients, clientID)
		delete(room.Clients, LoopbackClientID)
		res.RoomState = room.String()

		if room.Occupancy() == 0 {
			res.Deleted = true
			return c.remove(ctx, ref, version)
		}
		for _, other := range room.Clients {
			other.IsInitiator = true
			other.Messages = nil
		}
		return c.save(ctx, ref, room, version)
	})
	if err != nil {
		c.logger.Debug().Err(err).Str("room", ref.String()).Str("client", clientID).Msg("leave refused")
		return LeaveResult{}, err
	}
	c.logger.Info().
		Str("room", ref.String()).
		Str("client", clientID).
		Bool("deleted", res.Deleted).
		Str("state", res.RoomState).
		Msg("client left")
	return res, nil
}

// PostMessage queues payload while the sender is alone, or reports that it
// should be forwarded to the peer. Forwarding never touches the store.
func (c *Coordinator) PostMessage(ctx context.Context, ref Ref, clientID, payload string) (MessageResult, error) {
	if err := validateIDs(ref, clientID); err != nil {
		return MessageResult{}, err
	}
	if err := validatePayload(payload); err != nil {
		return MessageResult{}, err
	}
	var res MessageResult
	err := c.transact(ctx, "message", func(ctx context.Context) error {
		res = MessageResult{}
		room, version, err := c.load(ctx, ref)
		if err != nil {
			return err
		}
		sender, ok := room.Clients[clientID]
		if !ok {
			return ErrUnknownClient
		}
		if room.Occupancy() >= 2 {
			peer, _, _ := room.OtherClient(clientID)
			res = MessageResult{Forward: true, Peer: peer, RoomState: room.String()}
			return nil
		}
		sender.Messages = append(sender.Messages, payload)
		res = MessageResult{Saved: true, RoomState: room.String()}
		return c.save(ctx, ref, room, version)
	})
	if err != nil {
		return MessageResult{}, err
	}
	c.logger.Debug().
		Str("room", ref.String()).
		Str("client", clientID).
		Bool("forward", res.Forward).
		Msg("message accepted")
	return res, nil
}

// QueryRoomState reads a snapshot of the room without modifying it.
func (c *Coordinator) QueryRoomState(ctx context.Context, ref Ref) (Snapshot, error) {
	if strings.TrimSpace(ref.ID) == "" {
		return Snapshot{}, ErrInvalidArgument
	}
	entry, err := c.store.Get(ctx, ref.Key())
	if errors.Is(err, roomstore.ErrNotFound) {
		return Snapshot{}, ErrUnknownRoom
	}
	if err != nil {
		return Snapshot{}, storeErr("get room", err)
	}
	room, err := decodeRoom(entry.Value)
	if err != nil {
		return Snapshot{}, storeErr("read room", err)
	}

	snap := Snapshot{
		RoomID:         ref.ID,
		Type:           room.Type,
		State:          room.State(),
		Occupancy:      room.Occupancy(),
		Clients:        make([]ClientInfo, 0, room.Occupancy()),
		AllowedClients: room.AllowedClients,
		Version:        entry.Version,
	}
	for id, cl := range room.Clients {
		snap.Clients = append(snap.Clients, ClientInfo{
			ID:              id,
			IsInitiator:     cl.IsInitiator,
			PendingMessages: len(cl.Messages),
		})
	}
	sort.Slice(snap.Clients, func(i, j int) bool {
		if snap.Clients[i].IsInitiator != snap.Clients[j].IsInitiator {
			return snap.Clients[i].IsInitiator
		}
		return snap.Clients[i].ID < snap.Clients[j].ID
	})
	return snap, nil
}

// transact runs fn until it succeeds, fails with a non-retryable error, or
// the attempt budget is spent.
func (c *Coordinator) transact(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := 0
	err := retry.Do(ctx, c.newBackoff(), func(ctx context.Context) error {
		attempts++
		return fn(ctx)
	})
	switch {
	case errors.Is(err, errConflict):
		c.logger.Warn().Str("op", op).Int("attempts", attempts).Msg("cas retry budget exhausted")
		err = internalf("%s: gave up after %d attempts", op, attempts)
	case err != nil && !errors.As(err, new(Code)):
		// context cancellation surfaces bare from retry.Do
		err = storeErr(op, err)
	}
	if attempts > 1 {
		c.logger.Debug().Str("op", op).Int("attempts", attempts).Msg("cas retried")
	}
	if c.observer != nil {
		c.observer.ObserveRoomOperation(op, CodeOf(err), attempts)
	}
	return err
}

func (c *Coordinator) newBackoff() retry.Backoff {
	var b retry.Backoff
	if c.backoff > 0 {
		b = retry.NewConstant(c.backoff)
	} else {
		b = retry.BackoffFunc(func() (time.Duration, bool) { return 0, false })
	}
	return retry.WithMaxRetries(uint64(c.maxAttempts-1), b)
}

// load reads the room and its version.
func (c *Coordinator) load(ctx context.Context, ref Ref) (*Room, roomstore.Version, error) {
	room, version, _, err := c.open(ctx, ref, false, 0)
	return room, version, err
}

// open is load that creates a missing room first when create is set. created
// reports whether this call wrote the room.
func (c *Coordinator) open(ctx context.Context, ref Ref, create bool, t RoomType) (*Room, roomstore.Version, bool, error) {
	key := ref.Key()
	created := false
	entry, err := c.store.Get(ctx, key)
	if errors.Is(err, roomstore.ErrNotFound) {
		if !create {
			return nil, 0, false, ErrUnknownRoom
		}
		blob, encErr := encodeRoom(NewRoom(t))
		if encErr != nil {
			return nil, 0, false, storeErr("create room", encErr)
		}
		ok, createErr := c.store.CreateIfAbsent(ctx, key, blob, c.ttl)
		if createErr != nil {
			return nil, 0, false, storeErr("create room", createErr)
		}
		created = ok
		entry, err = c.store.Get(ctx, key)
		if errors.Is(err, roomstore.ErrNotFound) {
			// deleted again between create and read
			return nil, 0, created, retry.RetryableError(errConflict)
		}
	}
	if err != nil {
		return nil, 0, created, storeErr("get room", err)
	}
	room, err := decodeRoom(entry.Value)
	if err != nil {
		return nil, 0, created, storeErr("read room", err)
	}
	return room, entry.Version, created, nil
}

// discardEmpty drops a room left empty by a join that created it and then
// failed. Other writers lose their CAS against the deletion and retry.
func (c *Coordinator) discardEmpty(ctx context.Context, ref Ref) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	room, version, err := c.load(ctx, ref)
	if err != nil || room.Occupancy() > 0 {
		return
	}
	if _, err := c.store.CompareAndDelete(ctx, ref.Key(), version); err != nil {
		c.logger.Warn().Err(err).Str("room", ref.String()).Msg("discard empty room failed")
		return
	}
	c.logger.Debug().Str("room", ref.String()).Msg("discarded empty room")
}

func (c *Coordinator) save(ctx context.Context, ref Ref, room *Room, version roomstore.Version) error {
	blob, err := encodeRoom(room)
	if err != nil {
		return storeErr("save room", err)
	}
	ok, err := c.store.CompareAndSwap(ctx, ref.Key(), blob, version, c.ttl)
	if err != nil {
		return storeErr("save room", err)
	}
	if !ok {
		return retry.RetryableError(errConflict)
	}
	return nil
}

func (c *Coordinator) remove(ctx context.Context, ref Ref, version roomstore.Version) error {
	ok, err := c.store.CompareAndDelete(ctx, ref.Key(), version)
	if err != nil {
		return storeErr("delete room", err)
	}
	if !ok {
		return retry.RetryableError(errConflict)
	}
	return nil
}

func validateIDs(ref Ref, clientID string) error {
	if strings.TrimSpace(ref.ID) == "" || strings.TrimSpace(clientID) == "" {
		return ErrInvalidArgument
	}
	if clientID == LoopbackClientID {
		return ErrInvalidArgument
	}
	return nil
}
