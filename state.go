package main

import "sync"

// ConnectionStatus is the bridge's view of the WhatsApp connection.
type ConnectionStatus string

const (
	StatusInitializing  ConnectionStatus = "Initializing"
	StatusAwaitingScan  ConnectionStatus = "AwaitingScan"
	StatusConnected     ConnectionStatus = "Connected"
	StatusReconnecting  ConnectionStatus = "Reconnecting"
	StatusSessionClosed ConnectionStatus = "SessionClosed"
)

// StatusSnapshot is what GET /status returns.
type StatusSnapshot struct {
	Status ConnectionStatus `json:"status"`
	QR     *string          `json:"qr"`
	Number *string          `json:"number"`
}

// BridgeState owns the connection status, the pending pairing QR and the
// linked number. The setters keep them consistent: a number is only present
// while Connected, and a QR never is.
type BridgeState struct {
	mu     sync.RWMutex
	status ConnectionStatus
	qr     string
	number string
}

func NewBridgeState() *BridgeState {
	return &BridgeState{status: StatusInitializing}
}

// SetQR records a new pairing challenge, replacing any previous one.
func (s *BridgeState) SetQR(qr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusAwaitingScan
	s.qr = qr
	s.number = ""
}

func (s *BridgeState) SetConnected(number string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusConnected
	s.qr = ""
	s.number = number
}

// SetDisconnected moves to Reconnecting or SessionClosed and drops QR and
// number.
func (s *BridgeState) SetDisconnected(status ConnectionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.qr = ""
	s.number = ""
}

func (s *BridgeState) Status() ConnectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *BridgeState) Snapshot() StatusSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := StatusSnapshot{Status: s.status}
	if s.qr != "" {
		qr := s.qr
		snap.QR = &qr
	}
	if s.number != "" {
		number := s.number
		snap.Number = &number
	}
	return snap
}
