package models

import "time"

// RoomKind classifies a room and drives join policy and retention.
type RoomKind string

const (
	RoomPrivate RoomKind = "private"
	RoomGroup   RoomKind = "group"
	RoomTherapy RoomKind = "therapy"
	RoomSupport RoomKind = "support"
	RoomCrisis  RoomKind = "crisis"
)

// Valid reports whether the kind is one of the known room kinds.
func (k RoomKind) Valid() bool {
	switch k {
	case RoomPrivate, RoomGroup, RoomTherapy, RoomSupport, RoomCrisis:
		return true
	}
	return false
}

// Retained rooms survive becoming empty for compliance reasons.
func (k RoomKind) Retained() bool {
	return k == RoomTherapy || k == RoomCrisis
}

// Participant is per-user membership state inside a room.
type Participant struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Role        Role      `json:"role"`
	JoinedAt    time.Time `json:"joined_at"`
	LastSeen    time.Time `json:"last_seen"`
	Online      bool      `json:"online"`
}

// RoomMetadata travels with a join-room command and feeds the join policy.
type RoomMetadata struct {
	DisplayName string   `json:"display_name,omitempty"`
	PatientID   string   `json:"patient_id,omitempty"`
	SubjectID   string   `json:"subject_id,omitempty"`
	Members     []string `json:"members,omitempty"`
	Encrypted   bool     `json:"encrypted,omitempty"`
}

// RoomSnapshot is the read-only view handed back on a successful join.
type RoomSnapshot struct {
	RoomID       string        `json:"room_id"`
	Kind         RoomKind      `json:"kind"`
	Encrypted    bool          `json:"encrypted"`
	Participants []Participant `json:"participants"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActivity time.Time     `json:"last_activity"`
}
