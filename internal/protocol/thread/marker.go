package thread

import "resv_relay/internal/model"

type MarkerType string

const (
	MarkerRoot  MarkerType = "root"
	MarkerReply MarkerType = "reply"
)

// Marker is the typed form of an ["e", id, relay, marker] reference tag.
type Marker struct {
	EventID string
	Relay   string
	Type    MarkerType
}

func (m Marker) Tag() model.Tag {
	return model.Tag{"e", m.EventID, m.Relay, string(m.Type)}
}

// ParseMarker returns ok=false for anything that is not a root/reply reference.
func ParseMarker(t model.Tag) (Marker, bool) {
	if t.Key() != "e" || t.Value() == "" {
		return Marker{}, false
	}
	typ := MarkerType(t.At(3))
	if typ != MarkerRoot && typ != MarkerReply {
		return Marker{}, false
	}
	return Marker{EventID: t.Value(), Relay: t.At(2), Type: typ}, true
}

// Markers parses every reference marker in tags, in order.
func Markers(tags model.Tags) []Marker {
	var res []Marker
	for _, t := range tags {
		if m, ok := ParseMarker(t); ok {
			res = append(res, m)
		}
	}
	return res
}
