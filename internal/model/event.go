package model

const (
	KindMetadata = 0
	KindSeal     = 13
	KindGiftWrap = 1059

	KindReservationRequest              = 9901
	KindReservationResponse             = 9902
	KindReservationModificationRequest  = 9903
	KindReservationModificationResponse = 9904
)

type (
	// Tag is one positional entry of an event's tag list, e.g. ["p", "<pubkey>"].
	Tag []string

	Tags []Tag

	// Event is the wire record relays store and forward. A rumor is an Event whose Sig
	// is empty; it only ever travels encrypted inside a seal.
	Event struct {
		ID        string `json:"id"`
		PubKey    string `json:"pubkey"`
		CreatedAt int64  `json:"created_at"`
		Kind      int    `json:"kind"`
		Tags      Tags   `json:"tags"`
		Content   string `json:"content"`
		Sig       string `json:"sig,omitempty"`
	}

	// Filter selects events on a relay subscription.
	Filter struct {
		IDs     []string `json:"ids,omitempty"`
		Kinds   []int    `json:"kinds,omitempty"`
		Authors []string `json:"authors,omitempty"`
		PTags   []string `json:"#p,omitempty"`
		Since   *int64   `json:"since,omitempty"`
		Until   *int64   `json:"until,omitempty"`
		Limit   int      `json:"limit,omitempty"`
	}

	// Subscription is an open relay query.
	Subscription interface {
		Close()
	}
)

func (t Tag) Key() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// At returns the i-th element or "" when the tag is shorter.
func (t Tag) At(i int) string {
	if i >= len(t) {
		return ""
	}
	return t[i]
}

// GetFirst returns the first tag whose key is key.
func (tags Tags) GetFirst(key string) Tag {
	for _, t := range tags {
		if t.Key() == key {
			return t
		}
	}
	return nil
}

func (tags Tags) GetAll(key string) Tags {
	var res Tags
	for _, t := range tags {
		if t.Key() == key {
			res = append(res, t)
		}
	}
	return res
}

// Clone copies the outer and inner slices so appends never alias the receiver.
func (tags Tags) Clone() Tags {
	res := make(Tags, 0, len(tags))
	for _, t := range tags {
		res = append(res, append(Tag(nil), t...))
	}
	return res
}

// Matches reports whether ev would be returned by a relay for f.
func (f Filter) Matches(ev *Event) bool {
	if ev == nil {
		return false
	}
	if len(f.IDs) > 0 && !contains(f.IDs, ev.ID) {
		return false
	}
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if k == ev.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Authors) > 0 && !contains(f.Authors, ev.PubKey) {
		return false
	}
	if len(f.PTags) > 0 {
		found := false
		for _, t := range ev.Tags.GetAll("p") {
			if contains(f.PTags, t.Value()) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Since != nil && ev.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && ev.CreatedAt > *f.Until {
		return false
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
