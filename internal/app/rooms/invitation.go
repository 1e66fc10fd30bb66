package rooms

import (
	"context"
	"strings"
)

// Invitations layers the direct-call flow over the coordinator: a caller
// opens a DIRECT room for a fixed set of callees, who may accept or decline.
type Invitations struct {
	rooms *Coordinator
}

func NewInvitations(c *Coordinator) *Invitations {
	return &Invitations{rooms: c}
}

// Call creates or reuses the DIRECT room and admits the caller as initiator.
// The room must be empty.
func (p *Invitations) Call(ctx context.Context, ref Ref, callerID string, calleeIDs []string) (JoinResult, error) {
	allowed := make([]string, 0, len(calleeIDs)+1)
	allowed = append(allowed, callerID)
	for _, id := range calleeIDs {
		if strings.TrimSpace(id) == "" || id == LoopbackClientID {
			return JoinResult{}, ErrInvalidArgument
		}
		allowed = append(allowed, id)
	}
	if len(calleeIDs) == 0 {
		return JoinResult{}, ErrInvalidArgument
	}
	return p.rooms.Join(ctx, ref, callerID, JoinOptions{
		Type:           TypeDirect,
		AllowCreate:    true,
		AllowedClients: allowed,
		RequireEmpty:   true,
	})
}

// Accept admits an invited callee. The allow-list is never widened here.
func (p *Invitations) Accept(ctx context.Context, ref Ref, calleeID string) (JoinResult, error) {
	return p.rooms.Join(ctx, ref, calleeID, JoinOptions{
		Type:           TypeDirect,
		RequireWaiting: true,
	})
}

// Decline rejects a pending call and resets the room so its id can be reused.
func (p *Invitations) Decline(ctx context.Context, ref Ref, calleeID string) (string, error) {
	if err := validateIDs(ref, calleeID); err != nil {
		return "", err
	}
	var state string
	err := p.rooms.transact(ctx, "decline", func(ctx context.Context) error {
		room, version, err := p.rooms.load(ctx, ref)
		if err != nil {
			return err
		}
		if room.Type != TypeDirect {
			return ErrTypeMismatch
		}
		if room.Occupancy() != 1 {
			return ErrInvalidRoom
		}
		if room.HasClient(calleeID) || !room.IsListed(calleeID) {
			return ErrInvalidCallee
		}
		room.Reset()
		state = room.String()
		return p.rooms.save(ctx, ref, room, version)
	})
	if err != nil {
		p.rooms.logger.Debug().Err(err).Str("room", ref.String()).Str("callee", calleeID).Msg("decline refused")
		return "", err
	}
	p.rooms.logger.Info().Str("room", ref.String()).Str("callee", calleeID).Msg("call declined")
	return state, nil
}
