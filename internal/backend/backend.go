// Package backend defines which file-chooser implementation a call is routed to.
package backend

import (
	"fmt"
	"strings"
)

// Well-known bus names of the sibling file-chooser implementations.
const (
	KDEName   = "org.freedesktop.impl.portal.desktop.kde"
	GNOMEName = "org.gnome.Nautilus"
	LXQTName  = "org.freedesktop.impl.portal.desktop.lxqt"
	GTKName   = "org.freedesktop.impl.portal.desktop.gtk"
	// NativeName is the router's own name; native calls never leave the process.
	NativeName = "org.freedesktop.impl.portal.desktop.shana"
)

// Kind is the tag of a Selection.
type Kind uint8

const (
	KindGNOME Kind = iota
	KindKDE
	KindLXQT
	KindGTK
	KindNative
	KindOther
)

// String returns the configuration-file spelling of the kind.
func (k Kind) String() string {
	switch k {
	case KindGNOME:
		return "Gnome"
	case KindKDE:
		return "Kde"
	case KindLXQT:
		return "Lxqt"
	case KindGTK:
		return "Gtk"
	case KindNative:
		return "Native"
	case KindOther:
		return "Other"
	default:
		return "unknown"
	}
}

// Selection is a resolved backend choice. Only KindOther carries a name.
// The zero value selects GNOME.
type Selection struct {
	kind Kind
	name string
}

// Predefined selections.
var (
	GNOME  = Selection{kind: KindGNOME}
	KDE    = Selection{kind: KindKDE}
	LXQT   = Selection{kind: KindLXQT}
	GTK    = Selection{kind: KindGTK}
	Native = Selection{kind: KindNative}
)

// Other returns a selection that forwards to an arbitrary bus name.
func Other(name string) Selection {
	return Selection{kind: KindOther, name: name}
}

// Parse maps a configuration value to a Selection.
// Unrecognized values are never rejected; they become Other(value).
func Parse(value string) Selection {
	switch value {
	case "Gnome":
		return GNOME
	case "Kde":
		return KDE
	case "Lxqt":
		return LXQT
	case "Gtk":
		return GTK
	case "Native":
		return Native
	default:
		return Other(value)
	}
}

// Kind returns the selection's tag.
func (s Selection) Kind() Kind {
	return s.kind
}

// IsNative reports whether the call is served in-process.
func (s Selection) IsNative() bool {
	return s.kind == KindNative
}

// ServiceName returns the well-known bus name the selection is addressed as.
func (s Selection) ServiceName() string {
	switch s.kind {
	case KindKDE:
		return KDEName
	case KindLXQT:
		return LXQTName
	case KindGTK:
		return GTKName
	case KindNative:
		return NativeName
	case KindOther:
		return s.name
	default:
		return GNOMEName
	}
}

// String returns the value that Parse maps back to this selection.
func (s Selection) String() string {
	if s.kind == KindOther {
		return s.name
	}
	return s.kind.String()
}

// GoString makes test failures readable.
func (s Selection) GoString() string {
	if s.kind == KindOther {
		return fmt.Sprintf("backend.Other(%q)", s.name)
	}
	return "backend." + strings.ToUpper(s.kind.String())
}

// MarshalText implements encoding.TextMarshaler for TOML/YAML output.
func (s Selection) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. It never fails.
func (s *Selection) UnmarshalText(text []byte) error {
	*s = Parse(string(text))
	return nil
}
