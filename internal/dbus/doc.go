// Package dbus implements the org.freedesktop.impl.portal.FileChooser D-Bus
// interface as a router. Each OpenFile, SaveFile or SaveFiles call is
// forwarded verbatim to the backend selected by the current routing
// configuration, and the backend's reply (or error) is relayed to the caller.
package dbus
