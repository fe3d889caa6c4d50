package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"crisis-comms/internal/models"
)

func TestCanJoin(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		role   models.Role
		kind   models.RoomKind
		meta   models.RoomMetadata
		want   bool
	}{
		{"support open to members", "u1", models.RoleMember, models.RoomSupport, models.RoomMetadata{}, true},
		{"group open to members", "u1", models.RoleMember, models.RoomGroup, models.RoomMetadata{}, true},
		{"private requires listing", "u1", models.RoleMember, models.RoomPrivate, models.RoomMetadata{Members: []string{"u2", "u3"}}, false},
		{"private listed member", "u1", models.RoleMember, models.RoomPrivate, models.RoomMetadata{Members: []string{"u1", "u2"}}, true},
		{"therapy requires therapist", "u1", models.RoleMember, models.RoomTherapy, models.RoomMetadata{}, false},
		{"therapy therapist allowed", "doc", models.RoleTherapist, models.RoomTherapy, models.RoomMetadata{}, true},
		{"therapy patient allowed", "u1", models.RoleMember, models.RoomTherapy, models.RoomMetadata{PatientID: "u1"}, true},
		{"crisis member kept out", "u1", models.RoleMember, models.RoomCrisis, models.RoomMetadata{}, false},
		{"crisis responder allowed", "r1", models.RoleResponder, models.RoomCrisis, models.RoomMetadata{}, true},
		{"crisis subject allowed", "u1", models.RoleMember, models.RoomCrisis, models.RoomMetadata{SubjectID: "u1"}, true},
		{"unknown kind rejected", "u1", models.RoleAdmin, models.RoomKind("other"), models.RoomMetadata{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, canJoin(tt.userID, tt.role, tt.kind, tt.meta))
		})
	}
}
