package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"webrtc-rendezvous/internal/app/rooms"
)

const resultSuccess = "SUCCESS"

type response struct {
	Result string         `json:"result"`
	Params map[string]any `json:"params,omitempty"`
}

type callRequest struct {
	CallerDeviceID string `json:"caller_device_id"`
	CalleeID       string `json:"callee_id"`
}

type calleeRequest struct {
	CalleeDeviceID string `json:"callee_device_id"`
}

func statusFor(code rooms.Code) int {
	switch code.Kind() {
	case rooms.KindValidation:
		return http.StatusBadRequest
	case rooms.KindConflict:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// fail reports err as a result code. State conflicts answer 200.
func (h *handler) fail(c echo.Context, op string, err error) error {
	code := rooms.CodeOf(err)
	ev := h.logger.Info()
	if code.Kind() == rooms.KindInternal {
		ev = h.logger.Error()
	}
	ev.Err(err).Str("op", op).Str("room", c.Param("room_id")).Msg("request refused")

	return c.JSON(statusFor(code), response{Result: string(code), Params: map[string]any{}})
}

func (h *handler) ref(c echo.Context) rooms.Ref {
	return rooms.Ref{Host: HostURL(c.Request()), ID: c.Param("room_id")}
}

func (h *handler) roomParams(c echo.Context, clientID string, res rooms.JoinResult, loopback bool) map[string]any {
	r := c.Request()
	return map[string]any{
		"room_id":      c.Param("room_id"),
		"room_link":    roomURL(r, c.Param("room_id")),
		"client_id":    clientID,
		"is_initiator": res.IsInitiator,
		"is_loopback":  loopback,
		"messages":     res.Messages,
		"ice_servers":  h.ice.Servers(clientID),
		"wss_url":      resolveWSURL(h.settings, r),
		"wss_post_url": resolvePostURL(h.settings, r),
	}
}

func (h *handler) join(c echo.Context) error {
	clientID := uuid.NewString()
	loopback := c.QueryParam("debug") == "loopback"

	res, err := h.rooms.Join(c.Request().Context(), h.ref(c), clientID, rooms.JoinOptions{
		Type:        rooms.TypeOpen,
		Loopback:    loopback,
		AllowCreate: true,
	})
	if err != nil {
		return h.fail(c, "join", err)
	}
	return c.JSON(http.StatusOK, response{Result: resultSuccess, Params: h.roomParams(c, clientID, res, loopback)})
}

func (h *handler) call(c echo.Context) error {
	var req callRequest
	if err := c.Bind(&req); err != nil {
		return h.fail(c, "call", rooms.ErrInvalidArgument)
	}
	if req.CallerDeviceID == "" || req.CalleeID == "" {
		return h.fail(c, "call", rooms.ErrInvalidArgument)
	}

	res, err := h.calls.Call(c.Request().Context(), h.ref(c), req.CallerDeviceID, req.CalleeID)
	if err != nil {
		return h.fail(c, "call", err)
	}
	return c.JSON(http.StatusOK, response{Result: resultSuccess, Params: h.roomParams(c, req.CallerDeviceID, res, false)})
}

func (h *handler) accept(c echo.Context) error {
	var req calleeRequest
	if err := c.Bind(&req); err != nil || req.CalleeDeviceID == "" {
		return h.fail(c, "accept", rooms.ErrInvalidArgument)
	}

	res, err := h.calls.Accept(c.Request().Context(), h.ref(c), req.CalleeDeviceID)
	if err != nil {
		return h.fail(c, "accept", err)
	}
	return c.JSON(http.StatusOK, response{Result: resultSuccess, Params: h.roomParams(c, req.CalleeDeviceID, res, false)})
}

func (h *handler) decline(c echo.Context) error {
	var req calleeRequest
	if err := c.Bind(&req); err != nil || req.CalleeDeviceID == "" {
		return h.fail(c, "decline", rooms.ErrInvalidArgument)
	}

	state, err := h.calls.Decline(c.Request().Context(), h.ref(c), req.CalleeDeviceID)
	if err != nil {
		return h.fail(c, "decline", err)
	}
	return c.JSON(http.StatusOK, response{Result: resultSuccess, Params: map[string]any{"room_state": state}})
}

func (h *handler) leave(c echo.Context) error {
	if _, err := h.rooms.Leave(c.Request().Context(), h.ref(c), c.Param("client_id")); err != nil {
		return h.fail(c, "leave", err)
	}
	return c.JSON(http.StatusOK, response{Result: resultSuccess})
}

func (h *handler) message(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, rooms.MaxPayloadBytes+1))
	if err != nil {
		return h.fail(c, "message", rooms.ErrInvalidArgument)
	}

	res, err := h.messages.Send(c.Request().Context(), h.ref(c), c.Param("client_id"), string(body))
	if err != nil {
		return h.fail(c, "message", err)
	}
	return c.JSON(http.StatusOK, response{Result: resultSuccess, Params: map[string]any{"saved": res.Saved}})
}

func (h *handler) roomState(c echo.Context) error {
	snap, err := h.rooms.QueryRoomState(c.Request().Context(), h.ref(c))
	if errors.Is(err, rooms.ErrUnknownRoom) {
		return c.JSON(http.StatusNotFound, response{Result: string(rooms.ErrUnknownRoom)})
	}
	if err != nil {
		return h.fail(c, "room_state", err)
	}
	return c.JSON(http.StatusOK, snap)
}
