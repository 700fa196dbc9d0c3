package dbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/shana/internal/backend"
	"github.com/jmylchreest/shana/internal/config"
)

// RoutingSource supplies the routing for a call.
type RoutingSource interface {
	Snapshot() config.Routing
}

// Forwarder performs a routed call.
type Forwarder interface {
	Forward(ctx context.Context, sel backend.Selection, op Operation, req *Request) (*Response, error)
}

// FileChooserServer implements org.freedesktop.impl.portal.FileChooser by
// routing every call to a backend chosen from the current configuration.
type FileChooserServer struct {
	conn      *dbus.Conn
	logger    *slog.Logger
	routing   RoutingSource
	forwarder Forwarder

	mu      sync.Mutex
	running bool
}

// NewFileChooserServer creates a new FileChooserServer.
func NewFileChooserServer(routing RoutingSource, forwarder Forwarder, logger *slog.Logger) *FileChooserServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileChooserServer{
		logger:    logger,
		routing:   routing,
		forwarder: forwarder,
	}
}

// Start exports the file chooser on conn and claims the bus name.
// With replace set, an existing owner of the name is asked to give it up.
func (s *FileChooserServer) Start(conn *dbus.Conn, replace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server already running")
	}
	s.conn = conn

	if err := conn.Export(s, PortalPath, FileChooserInterface); err != nil {
		return fmt.Errorf("failed to export object: %w", err)
	}

	node := &introspect.Node{
		Name: string(PortalPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name:    FileChooserInterface,
				Methods: fileChooserMethods(),
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), PortalPath,
		"org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("failed to export introspectable: %w", err)
	}

	flags := dbus.NameFlagDoNotQueue
	if replace {
		flags |= dbus.NameFlagReplaceExisting
	}
	reply, err := conn.RequestName(BusName, flags)
	if err != nil {
		return fmt.Errorf("failed to request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("bus name %s already taken", BusName)
	}

	s.running = true
	s.logger.Info("D-Bus file chooser started", "name", BusName, "interface", FileChooserInterface, "path", PortalPath)
	return nil
}

// Stop releases the bus name and unexports the object.
func (s *FileChooserServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	if _, err := s.conn.ReleaseName(BusName); err != nil {
		s.logger.Warn("failed to release bus name", "error", err)
	}
	_ = s.conn.Export(nil, PortalPath, FileChooserInterface)
	_ = s.conn.Export(nil, PortalPath, "org.freedesktop.DBus.Introspectable")

	s.logger.Info("D-Bus file chooser stopped")
	return nil
}

// OpenFile routes to the directory backend when options["directory"] is true.
// D-Bus method: OpenFile(osssa{sv}) -> (ua{sv})
func (s *FileChooserServer) OpenFile(
	handle dbus.ObjectPath,
	appID string,
	parentWindow string,
	title string,
	options map[string]dbus.Variant,
) (uint32, map[string]dbus.Variant, *dbus.Error) {
	routing := s.routing.Snapshot()
	sel := routing.ForOpen(Options(options).Directory())
	return s.dispatch(OpOpenFile, sel, &Request{
		Handle:       handle,
		AppID:        appID,
		ParentWindow: parentWindow,
		Title:        title,
		Options:      options,
	})
}

// SaveFile routes to the save_file backend.
// D-Bus method: SaveFile(osssa{sv}) -> (ua{sv})
func (s *FileChooserServer) SaveFile(
	handle dbus.ObjectPath,
	appID string,
	parentWindow string,
	title string,
	options map[string]dbus.Variant,
) (uint32, map[string]dbus.Variant, *dbus.Error) {
	sel := s.routing.Snapshot().SaveFile
	return s.dispatch(OpSaveFile, sel, &Request{
		Handle:       handle,
		AppID:        appID,
		ParentWindow: parentWindow,
		Title:        title,
		Options:      options,
	})
}

// SaveFiles routes to the save_files backend.
// D-Bus method: SaveFiles(osssa{sv}) -> (ua{sv})
func (s *FileChooserServer) SaveFiles(
	handle dbus.ObjectPath,
	appID string,
	parentWindow string,
	title string,
	options map[string]dbus.Variant,
) (uint32, map[string]dbus.Variant, *dbus.Error) {
	sel := s.routing.Snapshot().SaveFiles
	return s.dispatch(OpSaveFiles, sel, &Request{
		Handle:       handle,
		AppID:        appID,
		ParentWindow: parentWindow,
		Title:        title,
		Options:      options,
	})
}

func (s *FileChooserServer) dispatch(op Operation, sel backend.Selection, req *Request) (uint32, map[string]dbus.Variant, *dbus.Error) {
	logger := s.logger.With(
		"request_id", ulid.Make().String(),
		"method", string(op),
		"backend", sel.String(),
		"destination", sel.ServiceName(),
	)
	options := Options(req.Options)
	logger.Debug("forwarding call",
		"handle", req.Handle,
		"app_id", req.AppID,
		"directory", options.Directory(),
		"multiple", options.Multiple(),
		"modal", options.Modal(),
		"accept_label", options.AcceptLabel(),
		"current_name", options.CurrentName(),
	)

	// The caller going away does not cancel the forwarded call.
	resp, err := s.forwarder.Forward(context.Background(), sel, op, req)
	if err != nil {
		logger.Warn("forwarded call failed", "error", err)
		return 0, nil, toDBusError(err)
	}

	results := resp.Results
	if results == nil {
		results = map[string]dbus.Variant{}
	}
	logger.Debug("forwarded call finished",
		"response", ResponseString(resp.Code),
		"uris", len(Results(results).URIs()),
		"writable", Results(results).Writable(),
	)
	return resp.Code, results, nil
}

// toDBusError relays backend error replies unchanged and wraps anything else
// as org.freedesktop.DBus.Error.Failed.
func toDBusError(err error) *dbus.Error {
	var ptr *dbus.Error
	if errors.As(err, &ptr) && ptr != nil {
		return ptr
	}
	var val dbus.Error
	if errors.As(err, &val) {
		return &val
	}
	return dbus.MakeFailedError(err)
}

// fileChooserMethods returns the D-Bus method introspection data.
func fileChooserMethods() []introspect.Method {
	args := func() []introspect.Arg {
		return []introspect.Arg{
			{Name: "handle", Type: "o", Direction: "in"},
			{Name: "app_id", Type: "s", Direction: "in"},
			{Name: "parent_window", Type: "s", Direction: "in"},
			{Name: "title", Type: "s", Direction: "in"},
			{Name: "options", Type: "a{sv}", Direction: "in"},
			{Name: "response", Type: "u", Direction: "out"},
			{Name: "results", Type: "a{sv}", Direction: "out"},
		}
	}
	return []introspect.Method{
		{Name: string(OpOpenFile), Args: args()},
		{Name: string(OpSaveFile), Args: args()},
		{Name: string(OpSaveFiles), Args: args()},
	}
}
