package dbus

import (
	"bytes"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/shana/internal/backend"
	"github.com/jmylchreest/shana/internal/config"
	"github.com/jmylchreest/shana/internal/store"
)

func testRouting() config.Routing {
	return config.Routing{
		OpenFile:              backend.KDE,
		SaveFile:              backend.GNOME,
		SaveFiles:             backend.GTK,
		OpenFileWhenDirectory: backend.LXQT,
	}
}

func newTestServer(t *testing.T, routing config.Routing) (*FileChooserServer, *fakeBus, *store.Store) {
	t.Helper()
	bus := newFakeBus()
	st := store.NewStore(routing)
	t.Cleanup(func() { _ = st.Close() })
	srv := NewFileChooserServer(st, NewDispatcher(bus.provider(), nil), nil)
	return srv, bus, st
}

func openOptions(directory bool) map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"directory": dbus.MakeVariant(directory),
	}
}

func TestServer_OpenFileRouting(t *testing.T) {
	tests := []struct {
		name    string
		options map[string]dbus.Variant
		dest    string
	}{
		{"no options", nil, backend.KDEName},
		{"directory false", openOptions(false), backend.KDEName},
		{"directory true", openOptions(true), backend.LXQTName},
		{"directory wrong type", map[string]dbus.Variant{"directory": dbus.MakeVariant("yes")}, backend.KDEName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, bus, _ := newTestServer(t, testRouting())

			code, results, dErr := srv.OpenFile("/request/1", "org.example.App", "", "Open", tt.options)
			require.Nil(t, dErr)
			assert.Equal(t, ResponseSuccess, code)
			assert.Equal(t, []string{"file:///tmp/a.txt"}, Results(results).URIs())
			assert.Equal(t, tt.dest, bus.lastDestination())
			assert.Equal(t, OpOpenFile.Method(), bus.recorded()[0].Method)
		})
	}
}

func TestServer_SaveFileRouting(t *testing.T) {
	srv, bus, _ := newTestServer(t, testRouting())

	_, _, dErr := srv.SaveFile("/request/2", "org.example.App", "", "Save", map[string]dbus.Variant{
		"current_name": dbus.MakeVariant("report.pdf"),
		"directory":    dbus.MakeVariant(true), // not meaningful for SaveFile
	})
	require.Nil(t, dErr)
	assert.Equal(t, backend.GNOMEName, bus.lastDestination())
	assert.Equal(t, OpSaveFile.Method(), bus.recorded()[0].Method)
}

func TestServer_SaveFilesRouting(t *testing.T) {
	srv, bus, _ := newTestServer(t, testRouting())

	_, _, dErr := srv.SaveFiles("/request/3", "org.example.App", "", "Save all", nil)
	require.Nil(t, dErr)
	assert.Equal(t, backend.GTKName, bus.lastDestination())
	assert.Equal(t, OpSaveFiles.Method(), bus.recorded()[0].Method)

	// A nil options map still goes out as an empty vardict
	assert.Equal(t, map[string]dbus.Variant{}, bus.recorded()[0].Args[4])
}

func TestServer_ReadsFreshSnapshotEachCall(t *testing.T) {
	srv, bus, st := newTestServer(t, testRouting())

	_, _, dErr := srv.SaveFile("/request/1", "app", "", "Save", nil)
	require.Nil(t, dErr)
	assert.Equal(t, backend.GNOMEName, bus.lastDestination())

	next := testRouting()
	next.SaveFile = backend.Other("org.example.Saver")
	st.Replace(next, "test")

	_, _, dErr = srv.SaveFile("/request/2", "app", "", "Save", nil)
	require.Nil(t, dErr)
	assert.Equal(t, "org.example.Saver", bus.lastDestination())
}

func TestServer_BackendErrorRelayed(t *testing.T) {
	srv, bus, _ := newTestServer(t, testRouting())
	bus.errs[backend.KDEName] = dbus.Error{
		Name: "org.freedesktop.DBus.Error.NameHasNoOwner",
		Body: []any{"no owner"},
	}

	code, results, dErr := srv.OpenFile("/request/1", "app", "", "Open", nil)
	require.NotNil(t, dErr)
	assert.Equal(t, "org.freedesktop.DBus.Error.NameHasNoOwner", dErr.Name)
	assert.Equal(t, []any{"no owner"}, dErr.Body)
	assert.Zero(t, code)
	assert.Nil(t, results)
}

func TestServer_NativeWithoutChooserFails(t *testing.T) {
	routing := testRouting()
	routing.SaveFile = backend.Native
	srv, bus, _ := newTestServer(t, routing)

	_, results, dErr := srv.SaveFile("/request/1", "app", "", "Save", nil)
	require.NotNil(t, dErr)
	assert.Equal(t, "org.freedesktop.DBus.Error.Failed", dErr.Name)
	assert.Nil(t, results)
	assert.Empty(t, bus.recorded())
}

func TestToDBusError(t *testing.T) {
	val := dbus.Error{Name: "org.example.Error.Value"}
	assert.Equal(t, "org.example.Error.Value", toDBusError(val).Name)

	ptr := &dbus.Error{Name: "org.example.Error.Pointer"}
	assert.Same(t, ptr, toDBusError(ptr))

	wrapped := toDBusError(errors.Join(errors.New("context"), val))
	assert.Equal(t, "org.example.Error.Value", wrapped.Name)

	plain := toDBusError(errors.New("boom"))
	assert.Equal(t, "org.freedesktop.DBus.Error.Failed", plain.Name)
	assert.Equal(t, []any{"boom"}, plain.Body)
}

// A call that read the routing before a reload finishes against the backend
// it already selected; the reload neither blocks nor fails it.
func TestServer_ReloadDuringCall(t *testing.T) {
	srv, bus, st := newTestServer(t, testRouting())
	bus.gate = make(chan struct{})
	bus.entered = make(chan string, 1)

	var wg sync.WaitGroup
	var dErr *dbus.Error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _, dErr = srv.OpenFile("/request/1", "app", "", "Open", openOptions(true))
	}()

	select {
	case dest := <-bus.entered:
		assert.Equal(t, backend.LXQTName, dest)
	case <-time.After(2 * time.Second):
		t.Fatal("call never reached the backend")
	}

	replaced := make(chan struct{})
	go func() {
		next := testRouting()
		next.OpenFileWhenDirectory = backend.GTK
		st.Replace(next, "test")
		close(replaced)
	}()

	select {
	case <-replaced:
	case <-time.After(2 * time.Second):
		t.Fatal("replace blocked on an in-flight call")
	}

	close(bus.gate)
	wg.Wait()
	require.Nil(t, dErr)

	bus.mu.Lock()
	bus.gate = nil
	bus.entered = nil
	bus.mu.Unlock()

	_, _, dErr = srv.OpenFile("/request/2", "app", "", "Open", openOptions(true))
	require.Nil(t, dErr)
	assert.Equal(t, backend.GTKName, bus.lastDestination())
}

func TestServer_ConcurrentCalls(t *testing.T) {
	srv, bus, _ := newTestServer(t, testRouting())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, dErr := srv.OpenFile("/request/n", "app", "", "Open", openOptions(i%2 == 0))
			assert.Nil(t, dErr)
		}(i)
	}
	wg.Wait()

	calls := bus.recorded()
	require.Len(t, calls, 20)
	counts := map[string]int{}
	for _, c := range calls {
		counts[c.Destination]++
	}
	assert.Equal(t, 10, counts[backend.LXQTName])
	assert.Equal(t, 10, counts[backend.KDEName])
	assert.Equal(t, 1, bus.objects[backend.LXQTName])
	assert.Equal(t, 1, bus.objects[backend.KDEName])
}

func TestFileChooserMethods(t *testing.T) {
	methods := fileChooserMethods()
	require.Len(t, methods, 3)

	names := []string{methods[0].Name, methods[1].Name, methods[2].Name}
	assert.Equal(t, []string{"OpenFile", "SaveFile", "SaveFiles"}, names)

	for _, m := range methods {
		var in, out string
		for _, a := range m.Args {
			if a.Direction == "in" {
				in += a.Type
			} else {
				out += a.Type
			}
		}
		assert.Equal(t, "osssa{sv}", in, m.Name)
		assert.Equal(t, "ua{sv}", out, m.Name)
	}
}

func TestServer_LogsCallOptions(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	bus := newFakeBus()
	st := store.NewStore(testRouting())
	t.Cleanup(func() { _ = st.Close() })
	srv := NewFileChooserServer(st, NewDispatcher(bus.provider(), nil), logger)

	_, _, dErr := srv.SaveFile("/request/7", "org.example.App", "", "Save", map[string]dbus.Variant{
		"accept_label": dbus.MakeVariant("Export"),
		"current_name": dbus.MakeVariant("report.pdf"),
		"modal":        dbus.MakeVariant(false),
	})
	require.Nil(t, dErr)

	out := buf.String()
	assert.Contains(t, out, "accept_label=Export")
	assert.Contains(t, out, "current_name=report.pdf")
	assert.Contains(t, out, "modal=false")
	assert.Contains(t, out, "writable=")
	assert.Contains(t, out, "destination="+backend.GNOMEName)
}
