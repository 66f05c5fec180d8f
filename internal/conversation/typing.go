package conversation

import "dealroom/internal/observability"

// SetTyping marks participantID as typing until the typing timeout elapses
// without another call. Calls before expiry push the deadline out; they do
// not accumulate. It reports false when nothing was scheduled, which is
// always the case without a signed-in user or an open view.
func (m *Manager) SetTyping(conversationID, participantID string) bool {
	t := m.thread(conversationID)
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dead || !t.open || !t.deal.HasParticipant(participantID) {
		return false
	}
	m.setTypingLocked(t, participantID)
	return true
}

func (m *Manager) setTypingLocked(t *thread, participantID string) {
	now := m.clock.Now()
	prev, wasTyping := t.typing[participantID]
	if wasTyping {
		prev.timer.Stop()
		wasTyping = now.Before(prev.expiresAt)
	}

	t.typingGen++
	gen := t.typingGen
	entry := &typingEntry{
		expiresAt: now.Add(m.cfg.TypingTimeout),
		gen:       gen,
	}
	entry.timer = m.clock.AfterFunc(m.cfg.TypingTimeout, func() {
		m.expireTyping(t, participantID, gen)
	})
	t.typing[participantID] = entry

	if !wasTyping {
		observability.TypingTransitions.WithLabelValues("typing", "activity").Inc()
		m.emit(Event{Kind: TypingChanged, ConversationID: t.deal.ID, ParticipantID: participantID, Typing: true})
	}
}

// expireTyping runs on the timer goroutine. A refreshed or cancelled entry
// has a different generation and is left alone.
func (m *Manager) expireTyping(t *thread, participantID string, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dead {
		return
	}
	e, ok := t.typing[participantID]
	if !ok || e.gen != gen {
		return
	}
	delete(t.typing, participantID)
	observability.TypingTransitions.WithLabelValues("idle", "timeout").Inc()
	m.emit(Event{Kind: TypingChanged, ConversationID: t.deal.ID, ParticipantID: participantID, Typing: false})
}

// StopTyping clears the flag before its timeout.
func (m *Manager) StopTyping(conversationID, participantID string) bool {
	t := m.thread(conversationID)
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.typing[participantID]
	if t.dead || !ok {
		return false
	}
	e.timer.Stop()
	delete(t.typing, participantID)
	observability.TypingTransitions.WithLabelValues("idle", "explicit_stop").Inc()
	m.emit(Event{Kind: TypingChanged, ConversationID: t.deal.ID, ParticipantID: participantID, Typing: false})
	return true
}

// IsTyping reports whether participantID is typing right now. The deadline
// is checked against the clock, so the answer is exact even before the
// expiry callback ran.
func (m *Manager) IsTyping(conversationID, participantID string) bool {
	t := m.thread(conversationID)
	if t == nil {
		return false
	}
	now := m.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.typing[participantID]
	return ok && now.Before(e.expiresAt)
}

// TypingParticipants lists who is typing, sorted by id.
func (m *Manager) TypingParticipants(conversationID string) []string {
	t := m.thread(conversationID)
	if t == nil {
		return nil
	}
	now := m.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typingLocked(now)
}

// StartTypingSimulation pulses the counterparty's typing flag every
// TypingSimInterval while the view stays open. It is a stand-in for presence
// events from a real transport and reports false when disabled.
func (m *Manager) StartTypingSimulation(conversationID string) bool {
	if m.cfg.TypingSimInterval <= 0 {
		return false
	}
	userID := m.UserID()
	t := m.thread(conversationID)
	if t == nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	counterparty := t.deal.Counterparty(userID)
	if t.dead || !t.open || counterparty == "" || t.simStop != nil {
		return false
	}

	stop := make(chan struct{})
	t.simStop = stop
	ticker := m.clock.Ticker(m.cfg.TypingSimInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.simulateTyping(t, counterparty, stop)
			}
		}
	}()
	return true
}

func (m *Manager) simulateTyping(t *thread, participantID string, stop chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	// A newer simulation or a close replaced our stop channel.
	if t.dead || !t.open || t.simStop != stop {
		return
	}
	m.setTypingLocked(t, participantID)
}
