package responders

import (
	"context"
	"sync"

	"crisis-comms/internal/models"
)

// StaticDirectory is an in-memory roster used when Redis is unavailable and
// as the directory double in tests.
type StaticDirectory struct {
	mu     sync.Mutex
	roster map[string]models.Responder
}

func (d *StaticDirectory) SetOnDuty(_ context.Context, responder models.Responder) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.roster == nil {
		d.roster = make(map[string]models.Responder)
	}
	d.roster[responder.ID] = responder
	return nil
}

func (d *StaticDirectory) SetOffDuty(_ context.Context, responderID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.roster, responderID)
	return nil
}

func (d *StaticDirectory) OnDuty(context.Context) ([]models.Responder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	roster := make([]models.Responder, 0, len(d.roster))
	for _, responder := range d.roster {
		roster = append(roster, responder)
	}
	return roster, nil
}

func (d *StaticDirectory) Mode() string { return "degraded" }
