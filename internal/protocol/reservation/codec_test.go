package reservation

import (
	"errors"
	"testing"

	"resv_relay/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rumorOf(t *testing.T, c *Codec, p model.Payload) *model.Event {
	enc, err := c.Encode(p)
	require.NoError(t, err)
	return &model.Event{Kind: enc.Kind, Tags: enc.Tags, Content: enc.Content}
}

func TestRoundTripAllVariants(t *testing.T) {
	c := NewCodec(SchemaV2)
	payloads := []model.Payload{
		&model.ReservationRequest{
			PartySize: 4,
			Slot:      model.Slot{Time: 1767376800, TZID: "Europe/Lisbon", Duration: 5400},
			Contact:   model.Contact{Name: "Ana", Telephone: "+351900000000", Email: "ana@example.com"},
			Note:      "terrace if possible",
		},
		&model.ReservationResponse{Status: model.StatusConfirmed, Slot: &model.Slot{Time: 1767376800, TZID: "Europe/Lisbon"}},
		&model.ReservationResponse{Status: model.StatusSuggested, Slot: &model.Slot{Time: 1767380400, TZID: "Europe/Lisbon"}, Message: "20:00 is full"},
		&model.ReservationModificationRequest{PartySize: 4, Slot: model.Slot{Time: 1767380400, TZID: "Europe/Lisbon"}},
		&model.ReservationModificationResponse{Status: model.StatusAccepted},
	}
	for _, p := range payloads {
		ev := rumorOf(t, c, p)
		assert.Equal(t, p.MessageType().Kind(), ev.Kind)

		got, err := c.Decode(ev)
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
}

func TestEncodeOmitsEmptyOptionalFields(t *testing.T) {
	enc, err := NewCodec(SchemaV1).Encode(&model.ReservationRequest{
		PartySize: 2,
		Slot:      model.Slot{Time: 1767376800, TZID: "UTC"},
	})
	require.NoError(t, err)

	assert.Equal(t, model.Tags{{"party_size", "2"}, {"time", "1767376800"}, {"tzid", "UTC"}}, enc.Tags)
	assert.Equal(t, "", enc.Content)
	assert.Equal(t, model.KindReservationRequest, enc.Kind)
}

func TestEncodeAddsContactSchemes(t *testing.T) {
	enc, err := NewCodec(SchemaV2).Encode(&model.ReservationRequest{
		PartySize: 2,
		Slot:      model.Slot{Time: 1767376800, TZID: "UTC"},
		Contact:   model.Contact{Telephone: "tel:+1555", Email: "a@b.c"},
	})
	require.NoError(t, err)

	assert.Equal(t, model.Tag{"telephone", "tel:+1555"}, enc.Tags.GetFirst("telephone"))
	assert.Equal(t, model.Tag{"email", "mailto:a@b.c"}, enc.Tags.GetFirst("email"))
	assert.Equal(t, model.Tag{"schema", "2"}, enc.Tags.GetFirst("schema"))
}

func TestDecodeIgnoresUnknownTags(t *testing.T) {
	ev := &model.Event{
		Kind: model.KindReservationRequest,
		Tags: model.Tags{
			{"p", "merchant"},
			{"party_size", "3"},
			{"client", "some-agent/1.0"},
			{"time", "1767376800"},
			{"tzid", "UTC"},
			{"e", "x", "", "root"},
		},
	}
	got, err := NewCodec(0).Decode(ev)
	require.NoError(t, err)
	assert.Equal(t, 3, got.(*model.ReservationRequest).PartySize)
}

func TestDecodeMissingRequiredField(t *testing.T) {
	tests := []struct {
		name  string
		ev    *model.Event
		field string
	}{
		{"party size", &model.Event{Kind: model.KindReservationRequest, Tags: model.Tags{{"time", "1"}, {"tzid", "UTC"}}}, "party_size"},
		{"time", &model.Event{Kind: model.KindReservationModificationRequest, Tags: model.Tags{{"party_size", "2"}, {"tzid", "UTC"}}}, "time"},
		{"tzid", &model.Event{Kind: model.KindReservationRequest, Tags: model.Tags{{"party_size", "2"}, {"time", "1"}}}, "tzid"},
		{"status", &model.Event{Kind: model.KindReservationResponse}, "status"},
		{"suggested without time", &model.Event{Kind: model.KindReservationResponse, Tags: model.Tags{{"status", "suggested"}, {"schema", "2"}}}, "time"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewCodec(0).Decode(tc.ev)
			require.ErrorIs(t, err, ErrInvalidPayload)

			var perr *InvalidPayloadError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tc.field, perr.Field)
		})
	}
}

func TestStatusVocabularyIsSchemaVersioned(t *testing.T) {
	v1 := &model.Event{Kind: model.KindReservationResponse, Tags: model.Tags{{"status", "suggested"}, {"time", "1767376800"}, {"tzid", "UTC"}}}
	_, err := NewCodec(0).Decode(v1)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	v2 := &model.Event{Kind: model.KindReservationResponse, Tags: append(v1.Tags.Clone(), model.Tag{"schema", "2"})}
	got, err := NewCodec(0).Decode(v2)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuggested, got.(*model.ReservationResponse).Status)

	_, err = NewCodec(SchemaV1).Encode(&model.ReservationModificationResponse{Status: model.StatusExpired})
	assert.ErrorIs(t, err, ErrInvalidPayload)
	_, err = NewCodec(SchemaV2).Encode(&model.ReservationModificationResponse{Status: model.StatusExpired})
	assert.NoError(t, err)

	unknown := &model.Event{Kind: model.KindReservationResponse, Tags: model.Tags{{"status", "confirmed"}, {"schema", "9"}}}
	_, err = NewCodec(0).Decode(unknown)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestEncodeValidation(t *testing.T) {
	c := NewCodec(0)

	_, err := c.Encode(&model.ReservationRequest{PartySize: 0, Slot: model.Slot{Time: 1, TZID: "UTC"}})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = c.Encode(&model.ReservationRequest{PartySize: 2, Slot: model.Slot{Time: 1}})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = c.Encode(&model.ReservationResponse{Status: model.StatusSuggested})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = c.Encode(&model.ReservationResponse{Status: "maybe"})
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := NewCodec(0).Decode(&model.Event{Kind: 1, Content: "hello"})
	assert.ErrorIs(t, err, ErrUnknownKind)
}
