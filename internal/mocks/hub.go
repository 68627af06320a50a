package mocks

import (
	"github.com/stretchr/testify/mock"

	"casper-chat/internal/models"
)

type HubMock struct {
	mock.Mock
}

func (m *HubMock) SendAll(event models.OutboundEvent) int {
	return m.Called(event).Int(0)
}

func (m *HubMock) SendUser(username string, event models.OutboundEvent) int {
	return m.Called(username, event).Int(0)
}

func (m *HubMock) SendAdmins(event models.OutboundEvent) int {
	return m.Called(event).Int(0)
}

func (m *HubMock) Block(username string) int {
	return m.Called(username).Int(0)
}

func (m *HubMock) Unblock(username string) {
	m.Called(username)
}

func (m *HubMock) Roster() []models.RosterEntry {
	args := m.Called()
	roster, _ := args.Get(0).([]models.RosterEntry)
	return roster
}
