package daemon

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/shana/internal/config"
	"github.com/jmylchreest/shana/internal/dbus"
	"github.com/jmylchreest/shana/internal/store"
)

// ErrBusClosed is returned by Run when the session bus connection drops.
var ErrBusClosed = errors.New("session bus connection closed")

// Options configures Run.
type Options struct {
	// ConfigPath overrides config.ConfigPath(). Empty uses the default.
	ConfigPath string
	// Replace takes over the bus name from a running instance.
	Replace bool
	// ReloadDelay coalesces file-system events. Zero reloads on every event.
	ReloadDelay time.Duration
	// Dial overrides the session bus dialer.
	Dial dbus.DialFunc
	// Native serves calls routed to the Native backend.
	Native dbus.NativeChooser
}

// Run serves the file chooser until ctx is cancelled or the bus goes away.
// Failing to reach the bus or to claim the name is fatal; failing to watch
// the configuration only disables hot reload.
func Run(ctx context.Context, opts Options, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = config.ConfigPath()
	}

	routing := config.Load(configPath)
	routingStore := store.NewStore(routing)
	defer func() { _ = routingStore.Close() }()
	logger.Info("routing loaded",
		"path", configPath,
		"open_file", routing.OpenFile,
		"save_file", routing.SaveFile,
		"save_files", routing.SaveFiles,
		"open_file_when_directory", routing.OpenFileWhenDirectory,
	)

	conns := dbus.NewConnManager(opts.Dial, logger)
	conn, err := conns.Get()
	if err != nil {
		return err
	}
	defer func() { _ = conns.Close() }()

	dispatcher := dbus.NewDispatcher(conns.Bus, logger)
	if opts.Native != nil {
		dispatcher.SetNativeChooser(opts.Native)
	}

	server := dbus.NewFileChooserServer(routingStore, dispatcher, logger)
	if err := server.Start(conn, opts.Replace); err != nil {
		return err
	}
	defer func() { _ = server.Stop() }()

	g, gctx := errgroup.WithContext(ctx)

	watcher := startWatcher(gctx, configPath, routingStore, opts.ReloadDelay, logger)
	if watcher != nil {
		defer watcher.Stop()
	}

	changes := routingStore.Subscribe()
	defer routingStore.Unsubscribe(changes)
	g.Go(func() error {
		logChanges(gctx, routingStore, changes, logger)
		return nil
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-conn.Context().Done():
			return ErrBusClosed
		}
	})

	logger.Info("file chooser router ready",
		"name", dbus.BusName,
		"hot_reload", watcher != nil && watcher.IsRunning(),
	)
	return g.Wait()
}

// startWatcher sets up hot reload. It returns nil when hot reload is unavailable.
func startWatcher(ctx context.Context, configPath string, st *store.Store, delay time.Duration, logger *slog.Logger) *ConfigWatcher {
	watcher, err := NewConfigWatcher(configPath, st, logger)
	if err != nil {
		logger.Warn("hot reload disabled", "error", err)
		return nil
	}
	watcher.SetDelay(delay)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("hot reload disabled", "error", err)
		return nil
	}
	return watcher
}

// logChanges reports selections that changed on reload.
func logChanges(ctx context.Context, st *store.Store, changes <-chan store.ChangeEvent, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-changes:
			if !ok {
				return
			}
			if !ev.Changed() {
				logger.Debug("config reloaded without routing changes", "generation", ev.Generation)
				continue
			}
			updated := humanize.Time(st.UpdatedAt())
			for _, diff := range diffRouting(ev.Previous, ev.Current) {
				logger.Info("routing changed",
					"operation", diff.Operation,
					"from", diff.From,
					"to", diff.To,
					"generation", ev.Generation,
					"updated", updated,
				)
			}
		}
	}
}

// RoutingDiff is one operation whose backend changed.
type RoutingDiff struct {
	Operation string
	From      string
	To        string
}

func diffRouting(prev, cur config.Routing) []RoutingDiff {
	pairs := []struct {
		op       string
		from, to string
	}{
		{"open_file", prev.OpenFile.String(), cur.OpenFile.String()},
		{"save_file", prev.SaveFile.String(), cur.SaveFile.String()},
		{"save_files", prev.SaveFiles.String(), cur.SaveFiles.String()},
		{"open_file_when_directory", prev.OpenFileWhenDirectory.String(), cur.OpenFileWhenDirectory.String()},
	}

	var diffs []RoutingDiff
	for _, p := range pairs {
		if p.from != p.to {
			diffs = append(diffs, RoutingDiff{Operation: p.op, From: p.from, To: p.to})
		}
	}
	return diffs
}
