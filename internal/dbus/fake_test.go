package dbus

import (
	"context"
	"sync"

	"github.com/godbus/dbus/v5"
)

// recordedCall is one method call seen by a fakeObject.
type recordedCall struct {
	Destination string
	Method      string
	Args        []any
}

// fakeObject is a dbus.BusObject that records calls instead of sending them.
type fakeObject struct {
	dbus.BusObject // nil; only CallWithContext is used

	bus  *fakeBus
	dest string
	path dbus.ObjectPath
}

func (o *fakeObject) CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...any) *dbus.Call {
	return o.bus.handle(o.dest, method, args)
}

func (o *fakeObject) Destination() string {
	return o.dest
}

func (o *fakeObject) Path() dbus.ObjectPath {
	return o.path
}

// fakeBus stands in for the session bus. Each destination answers with
// the configured reply, or with a D-Bus error if one is set.
type fakeBus struct {
	mu      sync.Mutex
	calls   []recordedCall
	objects map[string]int // destination -> Object() count
	dials   int

	code    uint32
	results map[string]dbus.Variant
	body    []any
	errs    map[string]error

	// gate, when set, blocks every call until it is closed.
	gate    chan struct{}
	entered chan string
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		objects: make(map[string]int),
		errs:    make(map[string]error),
		results: map[string]dbus.Variant{
			"uris": dbus.MakeVariant([]string{"file:///tmp/a.txt"}),
		},
	}
}

func (b *fakeBus) provider() BusProvider {
	return func() (BusConn, error) {
		b.mu.Lock()
		b.dials++
		b.mu.Unlock()
		return b, nil
	}
}

func (b *fakeBus) Object(dest string, path dbus.ObjectPath) dbus.BusObject {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[dest]++
	return &fakeObject{bus: b, dest: dest, path: path}
}

func (b *fakeBus) handle(dest, method string, args []any) *dbus.Call {
	b.mu.Lock()
	b.calls = append(b.calls, recordedCall{Destination: dest, Method: method, Args: args})
	gate, entered := b.gate, b.entered
	err := b.errs[dest]
	body := b.body
	if body == nil {
		body = []any{b.code, b.results}
	}
	b.mu.Unlock()

	if entered != nil {
		entered <- dest
	}
	if gate != nil {
		<-gate
	}

	return &dbus.Call{
		Destination: dest,
		Path:        PortalPath,
		Method:      method,
		Args:        args,
		Body:        body,
		Err:         err,
	}
}

func (b *fakeBus) recorded() []recordedCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]recordedCall, len(b.calls))
	copy(out, b.calls)
	return out
}

func (b *fakeBus) lastDestination() string {
	calls := b.recorded()
	if len(calls) == 0 {
		return ""
	}
	return calls[len(calls)-1].Destination
}

// fakeNative records the operations routed to the in-process chooser.
type fakeNative struct {
	mu    sync.Mutex
	ops   []Operation
	reply *Response
	err   error
}

func (n *fakeNative) record(op Operation) (*Response, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ops = append(n.ops, op)
	return n.reply, n.err
}

func (n *fakeNative) OpenFile(ctx context.Context, req *Request) (*Response, error) {
	return n.record(OpOpenFile)
}

func (n *fakeNative) SaveFile(ctx context.Context, req *Request) (*Response, error) {
	return n.record(OpSaveFile)
}

func (n *fakeNative) SaveFiles(ctx context.Context, req *Request) (*Response, error) {
	return n.record(OpSaveFiles)
}
