package calls

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"webrtc-rendezvous/internal/app/directory"
	"webrtc-rendezvous/internal/app/rooms"
)

// Invitations is the room-level call flow; *rooms.Invitations satisfies it.
type Invitations interface {
	Call(ctx context.Context, ref rooms.Ref, callerID string, calleeIDs []string) (rooms.JoinResult, error)
	Accept(ctx context.Context, ref rooms.Ref, calleeID string) (rooms.JoinResult, error)
	Decline(ctx context.Context, ref rooms.Ref, calleeID string) (string, error)
}

// Service maps device and user identities onto direct-call rooms. Room
// participants are identified by device id.
type Service struct {
	dir         directory.Directory
	invitations Invitations
	logger      zerolog.Logger
}

func NewService(dir directory.Directory, invitations Invitations, logger *zerolog.Logger) *Service {
	l := log.Logger
	if logger != nil {
		l = *logger
	}
	return &Service{
		dir:         dir,
		invitations: invitations,
		logger:      l.With().Str("component", "calls").Logger(),
	}
}

// Call rings every verified device of calleeUserID from callerDeviceID.
func (s *Service) Call(ctx context.Context, ref rooms.Ref, callerDeviceID, calleeUserID string) (rooms.JoinResult, error) {
	if strings.TrimSpace(callerDeviceID) == "" || strings.TrimSpace(calleeUserID) == "" {
		return rooms.JoinResult{}, rooms.ErrInvalidArgument
	}
	if err := s.verifyDevice(ctx, callerDeviceID, rooms.ErrInvalidCaller); err != nil {
		return rooms.JoinResult{}, err
	}

	devices, err := s.dir.DevicesForUser(ctx, calleeUserID)
	if err != nil {
		return rooms.JoinResult{}, fmt.Errorf("%w: resolve callee: %w", rooms.ErrInternal, err)
	}
	if len(devices) == 0 {
		return rooms.JoinResult{}, rooms.ErrInvalidCallee
	}
	callees := make([]string, 0, len(devices))
	for _, d := range devices {
		callees = append(callees, d.ID)
	}

	s.logger.Debug().
		Str("room", ref.String()).
		Str("caller", callerDeviceID).
		Str("callee_user", calleeUserID).
		Int("devices", len(callees)).
		Msg("placing call")
	return s.invitations.Call(ctx, ref, callerDeviceID, callees)
}

func (s *Service) Accept(ctx context.Context, ref rooms.Ref, calleeDeviceID string) (rooms.JoinResult, error) {
	if strings.TrimSpace(calleeDeviceID) == "" {
		return rooms.JoinResult{}, rooms.ErrInvalidArgument
	}
	if err := s.verifyDevice(ctx, calleeDeviceID, rooms.ErrInvalidCallee); err != nil {
		return rooms.JoinResult{}, err
	}
	return s.invitations.Accept(ctx, ref, calleeDeviceID)
}

func (s *Service) Decline(ctx context.Context, ref rooms.Ref, calleeDeviceID string) (string, error) {
	if strings.TrimSpace(calleeDeviceID) == "" {
		return "", rooms.ErrInvalidArgument
	}
	if err := s.verifyDevice(ctx, calleeDeviceID, rooms.ErrInvalidCallee); err != nil {
		return "", err
	}
	return s.invitations.Decline(ctx, ref, calleeDeviceID)
}

// verifyDevice reports invalid when the device is unknown or unverified.
func (s *Service) verifyDevice(ctx context.Context, deviceID string, invalid rooms.Code) error {
	dev, err := s.dir.DeviceByID(ctx, deviceID)
	if errors.Is(err, directory.ErrNotFound) {
		return invalid
	}
	if err != nil {
		return fmt.Errorf("%w: resolve device: %w", rooms.ErrInternal, err)
	}
	if !dev.Verified {
		return invalid
	}
	return nil
}
