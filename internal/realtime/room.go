package realtime

// JoinRoom adds roomID to the membership set and, when connected, emits a
// join for it. While disconnected the join is queued and replayed on the
// next connect. An empty roomType means the configured default.
func (m *Manager) JoinRoom(roomID, roomType string) {
	if roomID == "" {
		m.logger.Warn("rejected call", "error", &ValidationError{Op: "join room", Reason: "room id is empty"})
		return
	}
	if roomType == "" {
		roomType = m.cfg.RoomType
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.rooms.add(roomID, roomType)
	m.metrics.SetRooms(m.rooms.len())

	if m.state != StateConnected || m.transport == nil {
		m.logger.Debug("not connected, room join queued", "room", roomID, "type", roomType)
		return
	}

	if err := m.transport.Emit(EventJoin, RoomRequest{Room: roomID, Type: roomType}); err != nil {
		m.logger.Warn("failed to join room", "room", roomID, "error", err)
		return
	}
	m.logger.Debug("joined room", "room", roomID, "type", roomType)
}

// LeaveRoom removes roomID from the membership set and, when connected,
// emits a leave for it. The room is removed even if the emit fails.
func (m *Manager) LeaveRoom(roomID, roomType string) {
	if roomID == "" {
		m.logger.Warn("rejected call", "error", &ValidationError{Op: "leave room", Reason: "room id is empty"})
		return
	}
	if roomType == "" {
		roomType = m.cfg.RoomType
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.rooms.remove(roomID)
	m.metrics.SetRooms(m.rooms.len())

	if m.state != StateConnected || m.transport == nil {
		return
	}

	if err := m.transport.Emit(EventLeave, RoomRequest{Room: roomID, Type: roomType}); err != nil {
		m.logger.Warn("failed to leave room", "room", roomID, "error", err)
		return
	}
	m.logger.Debug("left room", "room", roomID, "type", roomType)
}

// Rooms returns the membership set in join order.
func (m *Manager) Rooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms.ids()
}

// InRoom reports whether roomID is in the membership set.
func (m *Manager) InRoom(roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms.has(roomID)
}
