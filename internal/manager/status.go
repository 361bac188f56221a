package manager

import (
	"batchgen/pkg/types"
)

// Status builds the /status response.
func (m *Manager) Status() types.StatusResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := timeNow()
	resp := types.StatusResponse{
		State:          string(m.state),
		Model:          m.model.ID,
		LastError:      m.err,
		UptimeSeconds:  int64(now.Sub(m.startTime).Seconds()),
		ServerTimeUnix: now.Unix(),
	}
	if m.handle != nil {
		st := m.handle.Status()
		resp.Engine = &st
	}
	return resp
}
