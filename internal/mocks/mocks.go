package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"crisis-comms/internal/auth"
	"crisis-comms/internal/models"
)

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) SaveMessage(ctx context.Context, roomKind models.RoomKind, msg models.Message) error {
	args := m.Called(ctx, roomKind, msg)
	return args.Error(0)
}

func (m *MessageRepositoryMock) ListRoomMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	args := m.Called(ctx, roomID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) SaveMessageAudit(ctx context.Context, record models.MessageAuditRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

type CrisisRepositoryMock struct {
	mock.Mock
}

func (m *CrisisRepositoryMock) SaveAlert(ctx context.Context, alert models.CrisisAlert) error {
	args := m.Called(ctx, alert)
	return args.Error(0)
}

func (m *CrisisRepositoryMock) SaveAuditEntry(ctx context.Context, entry models.CrisisAuditEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *CrisisRepositoryMock) ListAuditEntries(ctx context.Context, alertID string) ([]models.CrisisAuditEntry, error) {
	args := m.Called(ctx, alertID)
	var entries []models.CrisisAuditEntry
	if val := args.Get(0); val != nil {
		entries = val.([]models.CrisisAuditEntry)
	}
	return entries, args.Error(1)
}

type VerifierMock struct {
	mock.Mock
}

func (m *VerifierMock) Verify(ctx context.Context, credential string) (auth.Identity, error) {
	args := m.Called(ctx, credential)
	var identity auth.Identity
	if val := args.Get(0); val != nil {
		identity = val.(auth.Identity)
	}
	return identity, args.Error(1)
}
