package reservation

import (
	"fmt"
	"strconv"
	"strings"

	"resv_relay/internal/model"
)

const (
	tagPartySize = "party_size"
	tagTime      = "time"
	tagTZID      = "tzid"
	tagDuration  = "duration"
	tagName      = "name"
	tagTelephone = "telephone"
	tagEmail     = "email"
	tagStatus    = "status"
	tagSchema    = "schema"

	MinPartySize = 1
	MaxPartySize = 20
)

// Encoded is the rumor-level form of a payload.
type Encoded struct {
	Kind    int
	Tags    model.Tags
	Content string
}

type Codec struct {
	Schema Schema
}

func NewCodec(schema Schema) *Codec {
	if schema == 0 {
		schema = DefaultSchema
	}
	return &Codec{Schema: schema}
}

// Encode validates p against the codec's schema and renders it as tags + content.
func (c *Codec) Encode(p model.Payload) (*Encoded, error) {
	var (
		tags    model.Tags
		content string
	)
	switch v := p.(type) {
	case *model.ReservationRequest:
		if err := validateParty(v.PartySize, v.Slot); err != nil {
			return nil, err
		}
		tags = appendParty(tags, v.PartySize, v.Slot)
		tags = appendContact(tags, v.Contact)
		content = v.Note
	case *model.ReservationModificationRequest:
		if err := validateParty(v.PartySize, v.Slot); err != nil {
			return nil, err
		}
		tags = appendParty(tags, v.PartySize, v.Slot)
		tags = appendContact(tags, v.Contact)
		content = v.Note
	case *model.ReservationResponse:
		if !c.Schema.allowsResponse(v.Status) {
			return nil, invalid(tagStatus, fmt.Sprintf("%q not allowed in schema %d", v.Status, c.Schema))
		}
		if v.Status == model.StatusSuggested && v.Slot == nil {
			return nil, missing(tagTime)
		}
		if err := validateOptionalSlot(v.Slot); err != nil {
			return nil, err
		}
		tags = append(tags, model.Tag{tagStatus, string(v.Status)})
		tags = appendSlot(tags, v.Slot)
		content = v.Message
	case *model.ReservationModificationResponse:
		if !c.Schema.allowsModification(v.Status) {
			return nil, invalid(tagStatus, fmt.Sprintf("%q not allowed in schema %d", v.Status, c.Schema))
		}
		if err := validateOptionalSlot(v.Slot); err != nil {
			return nil, err
		}
		tags = append(tags, model.Tag{tagStatus, string(v.Status)})
		tags = appendSlot(tags, v.Slot)
		content = v.Message
	default:
		return nil, fmt.Errorf("%w: payload %T", ErrUnknownKind, p)
	}

	if c.Schema != SchemaV1 {
		tags = append(tags, model.Tag{tagSchema, c.Schema.String()})
	}
	return &Encoded{Kind: p.MessageType().Kind(), Tags: tags, Content: content}, nil
}

// Decode parses the payload a rumor carries. Unknown tags are ignored; a missing
// required field yields an *InvalidPayloadError naming it.
func (c *Codec) Decode(ev *model.Event) (model.Payload, error) {
	schema, err := ParseSchema(ev.Tags.GetFirst(tagSchema).Value())
	if err != nil {
		return nil, invalid(tagSchema, err.Error())
	}

	switch model.MessageTypeOfKind(ev.Kind) {
	case model.MessageTypeRequest:
		size, slot, contact, err := parseParty(ev.Tags)
		if err != nil {
			return nil, err
		}
		return &model.ReservationRequest{PartySize: size, Slot: slot, Contact: contact, Note: ev.Content}, nil

	case model.MessageTypeModificationRequest:
		size, slot, contact, err := parseParty(ev.Tags)
		if err != nil {
			return nil, err
		}
		return &model.ReservationModificationRequest{PartySize: size, Slot: slot, Contact: contact, Note: ev.Content}, nil

	case model.MessageTypeResponse:
		st, err := parseStatus(ev.Tags, schema.allowsResponse, schema)
		if err != nil {
			return nil, err
		}
		slot, err := parseOptionalSlot(ev.Tags)
		if err != nil {
			return nil, err
		}
		if st == model.StatusSuggested && slot == nil {
			return nil, missing(tagTime)
		}
		return &model.ReservationResponse{Status: st, Slot: slot, Message: ev.Content}, nil

	case model.MessageTypeModificationResponse:
		st, err := parseStatus(ev.Tags, schema.allowsModification, schema)
		if err != nil {
			return nil, err
		}
		slot, err := parseOptionalSlot(ev.Tags)
		if err != nil {
			return nil, err
		}
		return &model.ReservationModificationResponse{Status: st, Slot: slot, Message: ev.Content}, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownKind, ev.Kind)
}

func validateParty(size int, slot model.Slot) error {
	if size < MinPartySize || size > MaxPartySize {
		return invalid(tagPartySize, fmt.Sprintf("must be between %d and %d", MinPartySize, MaxPartySize))
	}
	if slot.Time <= 0 {
		return missing(tagTime)
	}
	if slot.TZID == "" {
		return missing(tagTZID)
	}
	return nil
}

func validateOptionalSlot(slot *model.Slot) error {
	if slot == nil {
		return nil
	}
	if slot.Time <= 0 {
		return missing(tagTime)
	}
	if slot.TZID == "" {
		return missing(tagTZID)
	}
	return nil
}

func appendParty(tags model.Tags, size int, slot model.Slot) model.Tags {
	tags = append(tags, model.Tag{tagPartySize, strconv.Itoa(size)})
	return appendSlot(tags, &slot)
}

func appendSlot(tags model.Tags, slot *model.Slot) model.Tags {
	if slot == nil {
		return tags
	}
	if slot.Time > 0 {
		tags = append(tags, model.Tag{tagTime, strconv.FormatInt(slot.Time, 10)})
	}
	if slot.TZID != "" {
		tags = append(tags, model.Tag{tagTZID, slot.TZID})
	}
	if slot.Duration > 0 {
		tags = append(tags, model.Tag{tagDuration, strconv.FormatInt(slot.Duration, 10)})
	}
	return tags
}

func appendContact(tags model.Tags, c model.Contact) model.Tags {
	if c.Name != "" {
		tags = append(tags, model.Tag{tagName, c.Name})
	}
	if c.Telephone != "" {
		tags = append(tags, model.Tag{tagTelephone, withScheme("tel:", c.Telephone)})
	}
	if c.Email != "" {
		tags = append(tags, model.Tag{tagEmail, withScheme("mailto:", c.Email)})
	}
	return tags
}

func parseParty(tags model.Tags) (int, model.Slot, model.Contact, error) {
	var (
		slot    model.Slot
		contact model.Contact
	)
	raw := tags.GetFirst(tagPartySize).Value()
	if raw == "" {
		return 0, slot, contact, missing(tagPartySize)
	}
	size, err := strconv.Atoi(raw)
	if err != nil || size < MinPartySize || size > MaxPartySize {
		return 0, slot, contact, invalid(tagPartySize, fmt.Sprintf("%q", raw))
	}

	s, err := parseOptionalSlot(tags)
	if err != nil {
		return 0, slot, contact, err
	}
	if s == nil || s.Time == 0 {
		return 0, slot, contact, missing(tagTime)
	}
	if s.TZID == "" {
		return 0, slot, contact, missing(tagTZID)
	}

	contact.Name = tags.GetFirst(tagName).Value()
	contact.Telephone = strings.TrimPrefix(tags.GetFirst(tagTelephone).Value(), "tel:")
	contact.Email = strings.TrimPrefix(tags.GetFirst(tagEmail).Value(), "mailto:")
	return size, *s, contact, nil
}

// parseOptionalSlot returns nil when neither time nor tzid is present.
func parseOptionalSlot(tags model.Tags) (*model.Slot, error) {
	rawTime := tags.GetFirst(tagTime).Value()
	tzid := tags.GetFirst(tagTZID).Value()
	rawDuration := tags.GetFirst(tagDuration).Value()
	if rawTime == "" && tzid == "" {
		return nil, nil
	}

	slot := &model.Slot{TZID: tzid}
	if rawTime != "" {
		t, err := strconv.ParseInt(rawTime, 10, 64)
		if err != nil || t <= 0 {
			return nil, invalid(tagTime, fmt.Sprintf("%q", rawTime))
		}
		slot.Time = t
	}
	if rawDuration != "" {
		d, err := strconv.ParseInt(rawDuration, 10, 64)
		if err != nil || d < 0 {
			return nil, invalid(tagDuration, fmt.Sprintf("%q", rawDuration))
		}
		slot.Duration = d
	}
	if slot.Time != 0 && slot.TZID == "" {
		return nil, missing(tagTZID)
	}
	if slot.TZID != "" && slot.Time == 0 {
		return nil, missing(tagTime)
	}
	return slot, nil
}

func parseStatus(tags model.Tags, allowed func(model.Status) bool, schema Schema) (model.Status, error) {
	raw := tags.GetFirst(tagStatus).Value()
	if raw == "" {
		return "", missing(tagStatus)
	}
	st := model.Status(raw)
	if !allowed(st) {
		return "", invalid(tagStatus, fmt.Sprintf("%q not allowed in schema %d", raw, schema))
	}
	return st, nil
}

func withScheme(scheme, v string) string {
	if strings.HasPrefix(v, scheme) {
		return v
	}
	return scheme + v
}
