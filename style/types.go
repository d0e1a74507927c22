package style

import "strings"

// Kind is the declared type of a source. It is descriptive only.
type Kind uint8

const (
	KindCustom Kind = iota
	KindVector
	KindRaster
	KindRasterDEM
	KindGeoJSON
	KindImage
	KindVideo
)

var kindNames = [...]string{
	KindCustom:    "custom",
	KindVector:    "vector",
	KindRaster:    "raster",
	KindRasterDEM: "raster-dem",
	KindGeoJSON:   "geojson",
	KindImage:     "image",
	KindVideo:     "video",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// ParseKind maps a style document type name to a Kind.
func ParseKind(s string) (Kind, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return KindCustom, true
	}
	for k, name := range kindNames {
		if name == s {
			return Kind(k), true
		}
	}
	return KindCustom, false
}

// Dropper is implemented by values installed in a Source's peer slot.
type Dropper interface {
	Drop()
}

// EventType identifies a style change notification.
type EventType uint8

const (
	EventAdded EventType = iota
	EventRemoved
	EventDestroyed
)

func (t EventType) String() string {
	switch t {
	case EventAdded:
		return "added"
	case EventRemoved:
		return "removed"
	case EventDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Event represents a change to a style's source set.
type Event struct {
	Source *Source
	ID     string
	Type   EventType
}

// Observer receives notifications about style changes.
// Observers are called without the style lock held.
type Observer interface {
	OnStyleEvent(Event)
}
