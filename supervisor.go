package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
)

var (
	ErrNotConnected    = errors.New("not connected to WhatsApp")
	ErrStartInProgress = errors.New("a connection attempt is already in progress")
)

type SupervisorConfig struct {
	SessionName  string
	RestartDelay time.Duration
	// WipeOnUnauthorized also treats CloseUnauthorized as a definitive logout.
	WipeOnUnauthorized bool
	// QROut receives a terminal rendering of each pairing challenge; nil disables it.
	QROut io.Writer
}

// clientHandle is the one live Messenger together with its subscription.
type clientHandle struct {
	client Messenger
	subID  uint32
	closed bool

	releaseOnce sync.Once
}

// release detaches the subscription and disconnects. Safe to call twice.
func (h *clientHandle) release() {
	h.releaseOnce.Do(func() {
		h.client.Unsubscribe(h.subID)
		h.client.Disconnect()
	})
}

// Supervisor keeps exactly one WhatsApp client alive, restarting it after a
// fixed delay whenever the connection closes and wiping the session first
// when the close means the account was logged out.
type Supervisor struct {
	cfg       SupervisorConfig
	sessions  SessionStore
	newClient ClientFactory
	state     *BridgeState
	relay     *Relay
	log       waLog.Logger

	mu       sync.Mutex
	ctx      context.Context
	starting bool
	stopped  bool
	handle   *clientHandle
	restart  *time.Timer
	// wipePending is set when a wipe failed; Start retries it before loading.
	wipePending bool
}

func NewSupervisor(cfg SupervisorConfig, sessions SessionStore, newClient ClientFactory, state *BridgeState, relay *Relay, log waLog.Logger) *Supervisor {
	return &Supervisor{
		cfg:       cfg,
		sessions:  sessions,
		newClient: newClient,
		state:     state,
		relay:     relay,
		log:       log,
		ctx:       context.Background(),
	}
}

// Run starts the first client and returns. Scheduled restarts use ctx; once
// ctx is done no further restart is attempted.
func (s *Supervisor) Run(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	if err := s.Start(ctx); err != nil {
		s.log.Errorf("Initial connection attempt failed: %v", err)
	}
}

// Start replaces the current client with a fresh one bound to the stored
// session. It refuses to run concurrently with another Start.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.starting {
		s.mu.Unlock()
		return ErrStartInProgress
	}
	if s.stopped {
		s.mu.Unlock()
		return context.Canceled
	}
	s.starting = true
	s.cancelRestartLocked()
	prev := s.handle
	s.handle = nil
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
	}()

	if prev != nil {
		prev.release()
	}

	if s.takeWipePending() {
		if err := s.wipe(ctx); err != nil {
			s.state.SetDisconnected(StatusSessionClosed)
			s.scheduleRestart()
			return err
		}
	}

	s.log.Infof("🚀 Starting WhatsApp client for session %s", s.cfg.SessionName)
	device, err := s.sessions.Load(ctx, s.cfg.SessionName)
	if err != nil {
		s.state.SetDisconnected(StatusReconnecting)
		s.scheduleRestart()
		return fmt.Errorf("load session: %w", err)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return context.Canceled
	}
	h := &clientHandle{client: s.newClient(device)}
	h.subID = h.client.Subscribe(func(evt Event) {
		defer recoverTo(s.log, "event handler")
		s.dispatch(h, evt)
	})
	s.handle = h
	s.mu.Unlock()

	if err := h.client.Connect(ctx); err != nil {
		s.log.Errorf("Failed to connect: %v", err)
		s.handleClose(h, CloseConnectionClosed)
		return fmt.Errorf("connect: %w", err)
	}

	s.mu.Lock()
	owned := s.handle == h
	s.mu.Unlock()
	if !owned {
		// Stopped while connecting.
		h.client.Disconnect()
		return context.Canceled
	}
	return nil
}

func (s *Supervisor) current(h *clientHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle == h && !h.closed
}

func (s *Supervisor) dispatch(h *clientHandle, evt Event) {
	switch evt.Kind {
	case EventMessage:
		if s.relay != nil {
			s.relay.Handle(h.client, evt.Message)
		}
	case EventPaired:
		s.log.Infof("🔗 Paired as %s", evt.Identity)
	case EventQR:
		s.handleQR(h, evt.QR)
	case EventOpen:
		s.handleOpen(h, evt.Identity)
	case EventClose:
		s.handleClose(h, evt.Code)
	}
}

func (s *Supervisor) handleQR(h *clientHandle, code string) {
	if !s.current(h) || s.state.Status() == StatusConnected {
		return
	}
	dataURL, err := qrDataURL(code)
	if err != nil {
		s.log.Errorf("Failed to render QR: %v", err)
		return
	}
	s.state.SetQR(dataURL)
	printQR(s.cfg.QROut, code)
	s.log.Infof("📱 QR Code available at /")
}

func (s *Supervisor) handleOpen(h *clientHandle, identity string) {
	if !s.current(h) {
		return
	}
	number := phoneFromIdentity(identity)
	if number == "" {
		s.log.Warnf("Connection opened without a usable identity (%q)", identity)
		return
	}
	s.state.SetConnected(number)
	s.log.Infof("✅ Connected to WhatsApp as %s", number)
}

// handleClose acts on the first close of the current handle only.
func (s *Supervisor) handleClose(h *clientHandle, code int) {
	s.mu.Lock()
	if s.handle != h || h.closed {
		s.mu.Unlock()
		return
	}
	h.closed = true
	s.mu.Unlock()

	if !s.isLogout(code) {
		s.state.SetDisconnected(StatusReconnecting)
		s.log.Warnf("⚠️ Connection closed (code %d), reconnecting in %s", code, s.cfg.RestartDelay)
		s.scheduleRestart()
		return
	}

	s.state.SetDisconnected(StatusSessionClosed)
	s.log.Warnf("🔴 Logged out (code %d), wiping session %s", code, s.cfg.SessionName)
	safeGo(s.log, "session wipe", func() {
		h.release()
		_ = s.wipe(s.baseContext())
		s.scheduleRestart()
	})
}

// wipe clears the stored session. On failure it leaves a pending wipe for the
// next Start so stale credentials are never loaded.
func (s *Supervisor) wipe(ctx context.Context) error {
	if err := s.sessions.Wipe(ctx, s.cfg.SessionName); err != nil {
		s.mu.Lock()
		s.wipePending = true
		s.mu.Unlock()
		s.log.Errorf("Failed to wipe session %s: %v", s.cfg.SessionName, err)
		return fmt.Errorf("wipe session: %w", err)
	}
	return nil
}

func (s *Supervisor) takeWipePending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.wipePending
	s.wipePending = false
	return pending
}

func (s *Supervisor) isLogout(code int) bool {
	return code == CloseLoggedOut || (s.cfg.WipeOnUnauthorized && code == CloseUnauthorized)
}

func (s *Supervisor) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// scheduleRestart arms a single restart timer; further calls while one is
// pending are no-ops.
func (s *Supervisor) scheduleRestart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.restart != nil || s.stopped || s.ctx.Err() != nil {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(s.cfg.RestartDelay, func() {
		defer recoverTo(s.log, "restart")
		s.mu.Lock()
		if s.restart != t {
			s.mu.Unlock()
			return
		}
		s.restart = nil
		ctx := s.ctx
		s.mu.Unlock()
		err := s.Start(ctx)
		switch {
		case errors.Is(err, ErrStartInProgress):
			// The running start may already be past the point where it
			// would notice this close, so try again later.
			s.scheduleRestart()
		case err != nil:
			s.log.Errorf("Restart failed: %v", err)
		}
	})
	s.restart = t
}

func (s *Supervisor) cancelRestartLocked() {
	if s.restart != nil {
		s.restart.Stop()
		s.restart = nil
	}
}

// Send delivers a text message through the current client.
func (s *Supervisor) Send(ctx context.Context, to types.JID, text string) error {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	if h == nil {
		return ErrNotConnected
	}
	return h.client.SendText(ctx, to, text)
}

// Logout unlinks the account, wipes the stored session and schedules a fresh
// start, which will ask for a new pairing.
//
// It holds the start guard until the wipe is done, so a restart that fires
// meanwhile backs off instead of loading the session being wiped.
func (s *Supervisor) Logout(ctx context.Context) error {
	s.mu.Lock()
	if s.starting {
		s.mu.Unlock()
		return ErrStartInProgress
	}
	s.starting = true
	s.cancelRestartLocked()
	h := s.handle
	s.handle = nil
	s.mu.Unlock()

	if h != nil {
		h.client.Unsubscribe(h.subID)
		if err := h.client.Logout(ctx); err != nil {
			s.log.Warnf("Logout request failed: %v", err)
		}
		h.release()
	}
	s.state.SetDisconnected(StatusSessionClosed)

	err := s.wipe(ctx)
	s.mu.Lock()
	s.starting = false
	s.mu.Unlock()
	s.scheduleRestart()
	return err
}

// Stop cancels any pending restart and disconnects the current client.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.cancelRestartLocked()
	h := s.handle
	s.handle = nil
	s.mu.Unlock()
	if h != nil {
		h.release()
	}
}
