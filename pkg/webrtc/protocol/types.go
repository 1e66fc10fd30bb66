package protocol

// Commands a client sends over the signaling WebSocket.
const (
	CmdRegister = "register"
	CmdSend     = "send"
)

// InboundMessage is the payload clients send to the signaling service.
//
//	{"cmd":"register","roomid":"abc","clientid":"123"}
//	{"cmd":"send","msg":"<sdp or candidate json>"}
type InboundMessage struct {
	Cmd      string `json:"cmd"`
	RoomID   string `json:"roomid,omitempty"`
	ClientID string `json:"clientid,omitempty"`
	Msg      string `json:"msg,omitempty"`
}

// OutboundMessage is what the service pushes to a client: either a relayed
// message from the peer or an error. Both fields are always present.
type OutboundMessage struct {
	Msg   string `json:"msg"`
	Error string `json:"error"`
}

// Envelope carries a message between service instances.
type Envelope struct {
	RoomID string `json:"room_id"`
	From   string `json:"from"`
	To     string `json:"to"`
	Msg    string `json:"msg"`
}
