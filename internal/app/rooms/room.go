package rooms

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// LoopbackClientID is the synthetic second occupant of a loopback room.
const LoopbackClientID = "LOOPBACK_CLIENT_ID"

// RoomType tags how a room may be joined.
type RoomType int

const (
	// TypeOpen rooms can be joined by anyone who knows the room id.
	TypeOpen RoomType = 1
	// TypeDirect rooms are created by a call and only admit allow-listed clients.
	TypeDirect RoomType = 2
)

func (t RoomType) String() string {
	switch t {
	case TypeOpen:
		return "open"
	case TypeDirect:
		return "direct"
	default:
		return fmt.Sprintf("RoomType(%d)", int(t))
	}
}

func (t RoomType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *RoomType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "open":
		*t = TypeOpen
	case "direct":
		*t = TypeDirect
	default:
		return fmt.Errorf("unknown room type %q", b)
	}
	return nil
}

// State is derived from occupancy.
type State int

const (
	StateEmpty State = iota
	StateWaiting
	StateFull
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "EMPTY"
	case StateWaiting:
		return "WAITING"
	default:
		return "FULL"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Ref names a room within the origin that serves it.
type Ref struct {
	Host string
	ID   string
}

// Key is the store key for the room, "{host}/{room_id}".
func (r Ref) Key() string {
	return r.Host + "/" + r.ID
}

func (r Ref) String() string {
	return r.Key()
}

// Client is one participant's membership record. It only exists inside a Room.
type Client struct {
	IsInitiator bool     `msgpack:"initiator"`
	Messages    []string `msgpack:"messages,omitempty"`
}

// Room is the unit of shared state written with a single CAS.
type Room struct {
	Type    RoomType           `msgpack:"type"`
	Clients map[string]*Client `msgpack:"clients"`
	// AllowedClients is nil when the room is unrestricted.
	AllowedClients []string `msgpack:"allowed,omitempty"`
}

// NewRoom returns an empty room. Unknown types fall back to TypeOpen.
func NewRoom(t RoomType) *Room {
	if t != TypeOpen && t != TypeDirect {
		t = TypeOpen
	}
	return &Room{Type: t, Clients: make(map[string]*Client)}
}

func (r *Room) Occupancy() int {
	return len(r.Clients)
}

func (r *Room) State() State {
	switch r.Occupancy() {
	case 0:
		return StateEmpty
	case 1:
		return StateWaiting
	default:
		return StateFull
	}
}

func (r *Room) HasClient(id string) bool {
	_, ok := r.Clients[id]
	return ok
}

// Restricted reports whether an allow-list is enforced.
func (r *Room) Restricted() bool {
	return r.AllowedClients != nil
}

func (r *Room) IsClientAllowed(id string) bool {
	return !r.Restricted() || slices.Contains(r.AllowedClients, id)
}

// IsListed reports explicit allow-list membership; an unrestricted room lists nobody.
func (r *Room) IsListed(id string) bool {
	return slices.Contains(r.AllowedClients, id)
}

func (r *Room) AddAllowedClient(id string) {
	if r.AllowedClients == nil {
		r.AllowedClients = []string{}
	}
	if !slices.Contains(r.AllowedClients, id) {
		r.AllowedClients = append(r.AllowedClients, id)
	}
}

// OtherClient returns the occupant that is not id.
func (r *Room) OtherClient(id string) (string, *Client, bool) {
	for cid, c := range r.Clients {
		if cid != id {
			return cid, c, true
		}
	}
	return "", nil, false
}

// Reset empties the room in place, dropping occupants and the allow-list.
func (r *Room) Reset() {
	r.Clients = make(map[string]*Client)
	r.AllowedClients = nil
}

// String renders a short snapshot for logs, e.g. "direct WAITING [alice*(2)]".
// The initiator is starred; the number is the pending message count.
func (r *Room) String() string {
	ids := make([]string, 0, len(r.Clients))
	for id := range r.Clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		c := r.Clients[id]
		mark := ""
		if c.IsInitiator {
			mark = "*"
		}
		parts = append(parts, fmt.Sprintf("%s%s(%d)", id, mark, len(c.Messages)))
	}
	return fmt.Sprintf("%s %s [%s]", r.Type, r.State(), strings.Join(parts, " "))
}

func encodeRoom(r *Room) ([]byte, error) {
	b, err := msgpack.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode room: %w", err)
	}
	return b, nil
}

func decodeRoom(b []byte) (*Room, error) {
	var r Room
	if err := msgpack.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode room: %w", err)
	}
	if r.Clients == nil {
		r.Clients = make(map[string]*Client)
	}
	return &r, nil
}
