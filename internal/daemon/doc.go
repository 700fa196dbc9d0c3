// Package daemon provides the main orchestration for the file chooser router.
// It connects to the session bus, exports the routing server and keeps the
// routing configuration current through hot reload.
package daemon
