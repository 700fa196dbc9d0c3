package dbus

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
)

// BusConn is the part of a bus connection the dispatcher needs.
type BusConn interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
}

// DialFunc opens a bus connection.
type DialFunc func() (*dbus.Conn, error)

// ConnManager lazily opens one session bus connection and shares it
// for the lifetime of the process. A failed dial is not cached.
type ConnManager struct {
	mu     sync.Mutex
	dial   DialFunc
	conn   *dbus.Conn
	logger *slog.Logger
}

// NewConnManager creates a ConnManager. A nil dial uses the session bus.
func NewConnManager(dial DialFunc, logger *slog.Logger) *ConnManager {
	if dial == nil {
		dial = func() (*dbus.Conn, error) { return dbus.ConnectSessionBus() }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnManager{
		dial:   dial,
		logger: logger,
	}
}

// Get returns the shared connection, dialing it on first use.
// Concurrent first callers wait for the single dial in progress.
func (m *ConnManager) Get() (*dbus.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil {
		return m.conn, nil
	}

	conn, err := m.dial()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	m.conn = conn
	m.logger.Debug("connected to session bus")
	return conn, nil
}

// Bus returns the shared connection as a BusConn.
func (m *ConnManager) Bus() (BusConn, error) {
	conn, err := m.Get()
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Close closes the connection if one was opened.
func (m *ConnManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil {
		return nil
	}
	err := m.conn.Close()
	m.conn = nil
	return err
}
