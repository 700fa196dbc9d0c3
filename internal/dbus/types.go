package dbus

import (
	"github.com/godbus/dbus/v5"
)

const (
	// FileChooserInterface is the portal backend interface name.
	FileChooserInterface = "org.freedesktop.impl.portal.FileChooser"
	// PortalPath is the object path shared by every portal backend.
	PortalPath dbus.ObjectPath = "/org/freedesktop/portal/desktop"
	// BusName is the bus name to claim.
	BusName = "org.freedesktop.impl.portal.desktop.shana"
)

// Operation is one of the FileChooser methods.
type Operation string

const (
	OpOpenFile  Operation = "OpenFile"
	OpSaveFile  Operation = "SaveFile"
	OpSaveFiles Operation = "SaveFiles"
)

// Method returns the fully qualified D-Bus member name.
func (o Operation) Method() string {
	return FileChooserInterface + "." + string(o)
}

// Response codes defined by the portal request protocol.
const (
	ResponseSuccess   uint32 = 0
	ResponseCancelled uint32 = 1
	ResponseOther     uint32 = 2
)

// ResponseString returns a name for a response code, for logging.
func ResponseString(code uint32) string {
	switch code {
	case ResponseSuccess:
		return "success"
	case ResponseCancelled:
		return "cancelled"
	case ResponseOther:
		return "other"
	default:
		return "unknown"
	}
}

// Request carries the arguments of a FileChooser call.
// Options is forwarded unchanged; nothing in it is rewritten.
type Request struct {
	Handle       dbus.ObjectPath
	AppID        string
	ParentWindow string
	Title        string
	Options      map[string]dbus.Variant
}

// Args returns the call arguments in wire order.
func (r *Request) Args() []any {
	options := r.Options
	if options == nil {
		options = map[string]dbus.Variant{}
	}
	return []any{r.Handle, r.AppID, r.ParentWindow, r.Title, options}
}

// Response is the (ua{sv}) reply of a FileChooser call.
type Response struct {
	Code    uint32
	Results map[string]dbus.Variant
}

// Options gives read-only access to well-known vardict keys.
// Used for routing and logging only.
type Options map[string]dbus.Variant

// Directory reports whether the caller asked to select folders.
func (o Options) Directory() bool {
	return o.boolValue("directory")
}

// Multiple reports whether the caller allows selecting several files.
func (o Options) Multiple() bool {
	return o.boolValue("multiple")
}

// Modal reports the modal hint. Defaults to true per the portal documentation.
func (o Options) Modal() bool {
	if _, ok := o["modal"]; !ok {
		return true
	}
	return o.boolValue("modal")
}

// AcceptLabel extracts the accept_label option.
func (o Options) AcceptLabel() string {
	if v, ok := o["accept_label"]; ok {
		if s, ok := v.Value().(string); ok {
			return s
		}
	}
	return ""
}

// CurrentName extracts the suggested file name of a save call.
func (o Options) CurrentName() string {
	if v, ok := o["current_name"]; ok {
		if s, ok := v.Value().(string); ok {
			return s
		}
	}
	return ""
}

func (o Options) boolValue(key string) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.Value().(bool); ok {
			return b
		}
	}
	return false
}

// Results gives read-only access to the reply vardict.
type Results map[string]dbus.Variant

// URIs extracts the selected uris.
func (r Results) URIs() []string {
	if v, ok := r["uris"]; ok {
		if uris, ok := v.Value().([]string); ok {
			return uris
		}
	}
	return nil
}

// Writable extracts the writable flag returned by OpenFile.
func (r Results) Writable() bool {
	if v, ok := r["writable"]; ok {
		if b, ok := v.Value().(bool); ok {
			return b
		}
	}
	return false
}
