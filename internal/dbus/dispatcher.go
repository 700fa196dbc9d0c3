package dbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/jmylchreest/shana/internal/backend"
)

// ErrNoNativeChooser is returned when the Native backend is selected but
// no in-process chooser was registered.
var ErrNoNativeChooser = errors.New("native file chooser is not available")

// NativeChooser serves calls routed to the Native backend in-process.
type NativeChooser interface {
	OpenFile(ctx context.Context, req *Request) (*Response, error)
	SaveFile(ctx context.Context, req *Request) (*Response, error)
	SaveFiles(ctx context.Context, req *Request) (*Response, error)
}

// BusProvider returns the connection used for forwarded calls.
type BusProvider func() (BusConn, error)

// Dispatcher forwards FileChooser calls to the selected backend.
// It never retries and never falls back to another backend.
type Dispatcher struct {
	bus    BusProvider
	logger *slog.Logger

	mu      sync.Mutex
	proxies map[string]dbus.BusObject // destination -> proxy
	native  NativeChooser
}

// NewDispatcher creates a Dispatcher using bus for outbound calls.
func NewDispatcher(bus BusProvider, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		bus:     bus,
		logger:  logger,
		proxies: make(map[string]dbus.BusObject),
	}
}

// SetNativeChooser registers the in-process chooser used for the Native backend.
func (d *Dispatcher) SetNativeChooser(native NativeChooser) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.native = native
}

// Forward invokes op on the backend named by sel with req's arguments unchanged.
// A D-Bus error reply from the backend is returned as-is (type dbus.Error).
func (d *Dispatcher) Forward(ctx context.Context, sel backend.Selection, op Operation, req *Request) (*Response, error) {
	if sel.IsNative() {
		return d.forwardNative(ctx, op, req)
	}

	dest := sel.ServiceName()
	obj, err := d.proxy(dest)
	if err != nil {
		return nil, err
	}

	call := obj.CallWithContext(ctx, op.Method(), 0, req.Args()...)
	if call.Err != nil {
		return nil, call.Err
	}

	resp := &Response{}
	if err := call.Store(&resp.Code, &resp.Results); err != nil {
		return nil, fmt.Errorf("invalid %s reply from %s: %w", op, dest, err)
	}
	return resp, nil
}

// proxy returns the cached proxy for dest, creating it on first use.
// The lock is not held across the outbound call.
func (d *Dispatcher) proxy(dest string) (dbus.BusObject, error) {
	if dest == "" {
		return nil, errors.New("backend has an empty bus name")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if obj, ok := d.proxies[dest]; ok {
		return obj, nil
	}

	conn, err := d.bus()
	if err != nil {
		return nil, err
	}

	obj := conn.Object(dest, PortalPath)
	d.proxies[dest] = obj
	d.logger.Debug("created backend proxy", "destination", dest, "path", PortalPath)
	return obj, nil
}

func (d *Dispatcher) forwardNative(ctx context.Context, op Operation, req *Request) (*Response, error) {
	d.mu.Lock()
	native := d.native
	d.mu.Unlock()

	if native == nil {
		return nil, ErrNoNativeChooser
	}

	switch op {
	case OpOpenFile:
		return native.OpenFile(ctx, req)
	case OpSaveFile:
		return native.SaveFile(ctx, req)
	case OpSaveFiles:
		return native.SaveFiles(ctx, req)
	default:
		return nil, fmt.Errorf("unknown operation %q", op)
	}
}
