package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// SessionStore persists WhatsApp credentials per session name.
type SessionStore interface {
	// Load returns the stored device for name, or a fresh unpaired one.
	Load(ctx context.Context, name string) (*store.Device, error)
	// Wipe forgets every credential stored for name.
	Wipe(ctx context.Context, name string) error
}

// SQLiteSessionStore keeps one whatsmeow sqlstore database per session under
// dir. Credential updates are written by the device store itself as they
// happen, so there is no separate save call.
type SQLiteSessionStore struct {
	dir string
	log waLog.Logger

	mu         sync.Mutex
	containers map[string]*sqlstore.Container
}

func NewSQLiteSessionStore(dir string, log waLog.Logger) *SQLiteSessionStore {
	return &SQLiteSessionStore{
		dir:        dir,
		log:        log,
		containers: make(map[string]*sqlstore.Container),
	}
}

func (s *SQLiteSessionStore) path(name string) string {
	return filepath.Join(s.dir, name+".db")
}

func (s *SQLiteSessionStore) container(ctx context.Context, name string) (*sqlstore.Container, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.containers[name]; ok {
		return c, nil
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}
	c, err := sqlstore.New(ctx, "sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on", s.path(name)), s.log)
	if err != nil {
		return nil, fmt.Errorf("open session %s: %w", name, err)
	}
	s.containers[name] = c
	return c, nil
}

func (s *SQLiteSessionStore) Load(ctx context.Context, name string) (*store.Device, error) {
	c, err := s.container(ctx, name)
	if err != nil {
		return nil, err
	}
	device, err := c.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}
	if device.ID == nil {
		s.log.Infof("🔐 No session found for %s, a new pairing is needed", name)
	} else {
		s.log.Infof("📱 Existing session found for %s (%s)", name, device.ID)
	}
	return device, nil
}

func (s *SQLiteSessionStore) Wipe(ctx context.Context, name string) error {
	c, err := s.container(ctx, name)
	if err != nil {
		return err
	}
	devices, err := c.GetAllDevices(ctx)
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	for _, device := range devices {
		if err := device.Delete(ctx); err != nil {
			return fmt.Errorf("delete device %s: %w", device.ID, err)
		}
	}
	s.log.Infof("🧹 Session %s wiped (%d device(s))", name, len(devices))
	return nil
}
