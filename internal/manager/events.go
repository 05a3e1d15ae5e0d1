package manager

import "modelhost/internal/events"

// announceLocked publishes status-changed for the current state and updates
// the state gauge. It runs under mu so subscribers see transitions in order;
// publishers are required to be non-blocking.
func (m *Manager) announceLocked() {
	m.setStateMetric(m.state)
	var name *string
	if m.modelID != "" {
		id := m.modelID
		name = &id
	}
	m.pub.Publish(events.New(events.StatusChanged, m.modelID, events.StatusChangedPayload{
		ModelName: name,
		Status:    string(m.status),
	}))
	m.log.Debug().Str("state", string(m.state)).Str("status", string(m.status)).Str("model", m.modelID).Msg("status_changed")
}
