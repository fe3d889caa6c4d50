package ws

import (
	"crisis-comms/internal/models"
)

// canJoin is the room access policy, keyed on (role, room kind, metadata).
func canJoin(userID string, role models.Role, kind models.RoomKind, meta models.RoomMetadata) bool {
	switch kind {
	case models.RoomSupport, models.RoomGroup:
		// open to any authenticated role
		return true
	case models.RoomPrivate:
		for _, member := range meta.Members {
			if member == userID {
				return true
			}
		}
		return false
	case models.RoomTherapy:
		if role == models.RoleTherapist {
			return true
		}
		return meta.PatientID != "" && meta.PatientID == userID
	case models.RoomCrisis:
		if role.CanRespond() {
			return true
		}
		return meta.SubjectID != "" && meta.SubjectID == userID
	}
	return false
}
