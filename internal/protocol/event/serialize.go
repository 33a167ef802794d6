package event

import (
	"strconv"
	"strings"

	"resv_relay/internal/model"
)

// Serialize returns the canonical form hashed into an event id:
// [0,"<pubkey>",<created_at>,<kind>,<tags>,"<content>"] with no whitespace.
func Serialize(ev *model.Event) []byte {
	var b strings.Builder
	b.Grow(128 + len(ev.Content))

	b.WriteString(`[0,`)
	writeString(&b, ev.PubKey)
	b.WriteByte(',')
	b.WriteString(strconv.FormatInt(ev.CreatedAt, 10))
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(ev.Kind))
	b.WriteString(`,[`)
	for i, tag := range ev.Tags {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('[')
		for j, s := range tag {
			if j > 0 {
				b.WriteByte(',')
			}
			writeString(&b, s)
		}
		b.WriteByte(']')
	}
	b.WriteString(`],`)
	writeString(&b, ev.Content)
	b.WriteByte(']')

	return []byte(b.String())
}

// writeString quotes s escaping only what the canonical form requires; everything else,
// including non-ASCII and HTML characters, is written verbatim.
func writeString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
}
