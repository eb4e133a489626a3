package main

import (
	"context"
	"errors"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
)

type sentMessage struct {
	to   types.JID
	text string
}

type fakeClient struct {
	device *store.Device

	mu          sync.Mutex
	nextID      uint32
	handlers    map[uint32]func(Event)
	connectErr  error
	sendErr     error
	downloadErr error
	media       []byte
	connects    int
	disconnects int
	logouts     int
	sent        []sentMessage
}

func (c *fakeClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	return c.connectErr
}

func (c *fakeClient) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
}

func (c *fakeClient) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logouts++
	return nil
}

func (c *fakeClient) SendText(ctx context.Context, to types.JID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, sentMessage{to: to, text: text})
	return nil
}

func (c *fakeClient) Download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.downloadErr != nil {
		return nil, c.downloadErr
	}
	return c.media, nil
}

func (c *fakeClient) Subscribe(handler func(Event)) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers == nil {
		c.handlers = make(map[uint32]func(Event))
	}
	c.nextID++
	c.handlers[c.nextID] = handler
	return c.nextID
}

func (c *fakeClient) Unsubscribe(id uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, id)
}

// emit delivers evt to every live subscription, like the real client would.
func (c *fakeClient) emit(evt Event) {
	c.mu.Lock()
	handlers := make([]func(Event), 0, len(c.handlers))
	for _, h := range c.handlers {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()
	for _, h := range handlers {
		h(evt)
	}
}

func (c *fakeClient) liveSubscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

func (c *fakeClient) connectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

func (c *fakeClient) disconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

type fakeFactory struct {
	mu      sync.Mutex
	clients []*fakeClient
	// connectErrs is consumed one per constructed client.
	connectErrs []error
}

func (f *fakeFactory) New(device *store.Device) Messenger {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeClient{device: device}
	if len(f.connectErrs) > 0 {
		c.connectErr = f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
	}
	f.clients = append(f.clients, c)
	return c
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *fakeFactory) client(i int) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[i]
}

func (f *fakeFactory) last() *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[len(f.clients)-1]
}

type fakeStore struct {
	mu        sync.Mutex
	devices   map[string]*store.Device
	ops       []string
	loadFails int
	wipeFails int
	// Load and Wipe block on these after recording the operation, when set.
	loadGate chan struct{}
	wipeGate chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{devices: make(map[string]*store.Device)}
}

func (s *fakeStore) record(op string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, op)
	if op == "load" {
		return s.loadGate
	}
	return s.wipeGate
}

func (s *fakeStore) setGates(load, wipe chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadGate = load
	s.wipeGate = wipe
}

func (s *fakeStore) Load(ctx context.Context, name string) (*store.Device, error) {
	if gate := s.record("load"); gate != nil {
		<-gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadFails > 0 {
		s.loadFails--
		return nil, errors.New("disk unavailable")
	}
	d, ok := s.devices[name]
	if !ok {
		d = &store.Device{}
		s.devices[name] = d
	}
	return d, nil
}

func (s *fakeStore) Wipe(ctx context.Context, name string) error {
	if gate := s.record("wipe"); gate != nil {
		<-gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wipeFails > 0 {
		s.wipeFails--
		return errors.New("disk unavailable")
	}
	delete(s.devices, name)
	return nil
}

func (s *fakeStore) operations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}
