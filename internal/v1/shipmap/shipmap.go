// Package shipmap holds the static room graph of the ship: walking
// adjacency, vent shortcuts, and room metadata. The map is built once at
// boot and shared read-only across all sessions.
package shipmap

// RoomID identifies a room on the ship.
type RoomID string

// Room ids for the default layout.
const (
	Cafeteria      RoomID = "cafeteria"
	Weapons        RoomID = "weapons"
	O2             RoomID = "o2"
	Navigation     RoomID = "navigation"
	Shields        RoomID = "shields"
	Communications RoomID = "communications"
	Storage        RoomID = "storage"
	Admin          RoomID = "admin"
	Electrical     RoomID = "electrical"
	LowerEngine    RoomID = "lower-engine"
	UpperEngine    RoomID = "upper-engine"
	Reactor        RoomID = "reactor"
	Security       RoomID = "security"
	MedBay         RoomID = "medbay"
)

// Room describes a single room on the ship.
type Room struct {
	ID                 RoomID   `json:"id"`
	DisplayName        string   `json:"displayName"`
	Adjacent           []RoomID `json:"adjacent"`
	HasVent            bool     `json:"hasVent"`
	VentAdjacent       []RoomID `json:"ventAdjacent,omitempty"`
	HasEmergencyButton bool     `json:"hasEmergencyButton"`
}

// Map is the immutable ship graph. Lookups are O(1); queries over unknown
// ids return false or the zero Room, never panic.
type Map struct {
	rooms    map[RoomID]Room
	walk     map[RoomID]map[RoomID]bool
	vents    map[RoomID]map[RoomID]bool
	order    []RoomID
	meetRoom RoomID
}

// New builds the default ship layout.
func New() *Map {
	return build(defaultRooms())
}

func build(rooms []Room) *Map {
	m := &Map{
		rooms: make(map[RoomID]Room, len(rooms)),
		walk:  make(map[RoomID]map[RoomID]bool, len(rooms)),
		vents: make(map[RoomID]map[RoomID]bool, len(rooms)),
	}
	for _, r := range rooms {
		m.rooms[r.ID] = r
		m.order = append(m.order, r.ID)
		if r.HasEmergencyButton {
			m.meetRoom = r.ID
		}
	}
	for _, r := range rooms {
		adj := make(map[RoomID]bool, len(r.Adjacent))
		for _, to := range r.Adjacent {
			adj[to] = true
		}
		m.walk[r.ID] = adj

		if r.HasVent {
			va := make(map[RoomID]bool, len(r.VentAdjacent))
			for _, to := range r.VentAdjacent {
				va[to] = true
			}
			m.vents[r.ID] = va
		}
	}
	return m
}

// Adjacent reports whether a player can walk from one room to another.
// Walking adjacency is symmetric in the default layout.
func (m *Map) Adjacent(from, to RoomID) bool {
	return m.walk[from][to]
}

// VentAdjacent reports whether the vent network connects from to to.
// Vent edges are directed and only usable from vent-bearing rooms.
func (m *Map) VentAdjacent(from, to RoomID) bool {
	return m.vents[from][to]
}

// HasVent reports whether the given room contains a vent.
func (m *Map) HasVent(id RoomID) bool {
	r, ok := m.rooms[id]
	return ok && r.HasVent
}

// Room returns the room for the given id.
func (m *Map) Room(id RoomID) (Room, bool) {
	r, ok := m.rooms[id]
	return r, ok
}

// AllRooms returns every room in declaration order.
func (m *Map) AllRooms() []Room {
	out := make([]Room, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.rooms[id])
	}
	return out
}

// AdjacentRooms returns the ids a player can walk to from the given room.
func (m *Map) AdjacentRooms(id RoomID) []RoomID {
	r, ok := m.rooms[id]
	if !ok {
		return nil
	}
	out := make([]RoomID, len(r.Adjacent))
	copy(out, r.Adjacent)
	return out
}

// VentTargets returns the vent destinations reachable from the given room.
func (m *Map) VentTargets(id RoomID) []RoomID {
	r, ok := m.rooms[id]
	if !ok || !r.HasVent {
		return nil
	}
	out := make([]RoomID, len(r.VentAdjacent))
	copy(out, r.VentAdjacent)
	return out
}

// MeetingRoom returns the room with the emergency button. Meetings
// teleport every player there.
func (m *Map) MeetingRoom() RoomID {
	return m.meetRoom
}

// defaultRooms is the Skeld-style layout used in production.
func defaultRooms() []Room {
	return []Room{
		{
			ID: Cafeteria, DisplayName: "Cafeteria",
			Adjacent:           []RoomID{Weapons, Admin, Storage, MedBay, UpperEngine},
			HasVent:            true,
			VentAdjacent:       []RoomID{Admin},
			HasEmergencyButton: true,
		},
		{
			ID: Weapons, DisplayName: "Weapons",
			Adjacent:     []RoomID{Cafeteria, O2, Navigation},
			HasVent:      true,
			VentAdjacent: []RoomID{Navigation},
		},
		{
			ID: O2, DisplayName: "O2",
			Adjacent: []RoomID{Weapons, Navigation, Shields},
		},
		{
			ID: Navigation, DisplayName: "Navigation",
			Adjacent:     []RoomID{Weapons, O2, Shields},
			HasVent:      true,
			VentAdjacent: []RoomID{Weapons, Shields},
		},
		{
			ID: Shields, DisplayName: "Shields",
			Adjacent:     []RoomID{O2, Navigation, Communications, Storage},
			HasVent:      true,
			VentAdjacent: []RoomID{Navigation},
		},
		{
			ID: Communications, DisplayName: "Communications",
			Adjacent: []RoomID{Shields, Storage},
		},
		{
			ID: Storage, DisplayName: "Storage",
			Adjacent: []RoomID{Cafeteria, Shields, Communications, Admin, Electrical, LowerEngine},
		},
		{
			ID: Admin, DisplayName: "Admin",
			Adjacent:     []RoomID{Cafeteria, Storage},
			HasVent:      true,
			VentAdjacent: []RoomID{Cafeteria},
		},
		{
			ID: Electrical, DisplayName: "Electrical",
			Adjacent:     []RoomID{Storage, LowerEngine},
			HasVent:      true,
			VentAdjacent: []RoomID{MedBay, Security},
		},
		{
			ID: LowerEngine, DisplayName: "Lower Engine",
			Adjacent: []RoomID{Storage, Electrical, Reactor, UpperEngine},
		},
		{
			ID: UpperEngine, DisplayName: "Upper Engine",
			Adjacent: []RoomID{Cafeteria, LowerEngine, Reactor, MedBay, Security},
		},
		{
			ID: Reactor, DisplayName: "Reactor",
			Adjacent:     []RoomID{LowerEngine, UpperEngine, Security},
			HasVent:      true,
			VentAdjacent: []RoomID{UpperEngine, LowerEngine},
		},
		{
			ID: Security, DisplayName: "Security",
			Adjacent:     []RoomID{UpperEngine, Reactor},
			HasVent:      true,
			VentAdjacent: []RoomID{Electrical, MedBay},
		},
		{
			ID: MedBay, DisplayName: "MedBay",
			Adjacent:     []RoomID{Cafeteria, UpperEngine},
			HasVent:      true,
			VentAdjacent: []RoomID{Electrical, Security},
		},
	}
}
