package txn

import (
	log "github.com/sirupsen/logrus"
)

// Manager owns the client's active transaction tasks and steps them from
// the poll loop. A task suspends only by returning from PerformStep, so
// one pass over the active list is all a poll needs.
type Manager struct {
	active []*Task
	log    *log.Entry
}

// NewManager creates an empty task manager.
func NewManager(logger *log.Logger) *Manager {
	return &Manager{log: logger.WithField("component", "txnmanager")}
}

// StartTask activates a task so Poll drives it to completion.
func (m *Manager) StartTask(t *Task) {
	m.active = append(m.active, t)
}

// Poll steps every active task once and drops the ones that finished.
func (m *Manager) Poll() {
	remaining := m.active[:0]
	for _, t := range m.active {
		t.PerformStep()
		if t.State() != TaskDone {
			remaining = append(remaining, t)
			continue
		}
		m.log.Debugf("task finished: decision=%s status=%s", t.Decision(), t.Status())
	}
	m.active = remaining
}

// Active returns how many tasks are still in flight.
func (m *Manager) Active() int {
	return len(m.active)
}
