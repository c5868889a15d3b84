package services

import (
	"sync/atomic"
	"time"
)

// Metrics are process-local counters surfaced on /api/metrics.
type Metrics struct {
	sweepsRun         atomic.Int64
	anomaliesDetected atomic.Int64
	forcedBreaks      atomic.Int64
	forcedEndWorks    atomic.Int64
	noticesCreated    atomic.Int64
	chatFailures      atomic.Int64
	lastSweepTime     atomic.Int64

	wsConnections atomic.Int64
	wsMessages    atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncrementSweeps() {
	m.sweepsRun.Add(1)
	m.lastSweepTime.Store(time.Now().Unix())
}

func (m *Metrics) IncrementAnomalies()         { m.anomaliesDetected.Add(1) }
func (m *Metrics) IncrementForcedBreaks(n int) { m.forcedBreaks.Add(int64(n)) }
func (m *Metrics) IncrementForcedEndWorks()    { m.forcedEndWorks.Add(1) }
func (m *Metrics) IncrementNotices(n int)      { m.noticesCreated.Add(int64(n)) }
func (m *Metrics) IncrementChatFailures()      { m.chatFailures.Add(1) }
func (m *Metrics) IncrementWSConnections()     { m.wsConnections.Add(1) }
func (m *Metrics) DecrementWSConnections()     { m.wsConnections.Add(-1) }
func (m *Metrics) IncrementWSMessages()        { m.wsMessages.Add(1) }

func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"sweeps_run":         m.sweepsRun.Load(),
		"anomalies_detected": m.anomaliesDetected.Load(),
		"forced_breaks":      m.forcedBreaks.Load(),
		"forced_end_works":   m.forcedEndWorks.Load(),
		"notices_created":    m.noticesCreated.Load(),
		"chat_failures":      m.chatFailures.Load(),
		"last_sweep_unix":    m.lastSweepTime.Load(),
		"ws_connections":     m.wsConnections.Load(),
		"ws_messages":        m.wsMessages.Load(),
	}
}
