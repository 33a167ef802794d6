package thread

import "resv_relay/internal/model"

// MarkRoot returns a copy of tags with a root reference appended.
func MarkRoot(tags model.Tags, rootID, relay string) model.Tags {
	res := tags.Clone()
	return append(res, Marker{EventID: rootID, Relay: relay, Type: MarkerRoot}.Tag())
}

// MarkReply returns a copy of tags with root and reply references appended.
func MarkReply(tags model.Tags, rootID, replyID, rootRelay, replyRelay string) model.Tags {
	res := MarkRoot(tags, rootID, rootRelay)
	return append(res, Marker{EventID: replyID, Relay: replyRelay, Type: MarkerReply}.Tag())
}

// ReadContext returns the first root and the first reply marker of the rumor.
func ReadContext(ev *model.Event) model.ThreadContext {
	var ctx model.ThreadContext
	if ev == nil {
		return ctx
	}
	var haveRoot, haveReply bool
	for _, m := range Markers(ev.Tags) {
		switch {
		case m.Type == MarkerRoot && !haveRoot:
			ctx.RootID, ctx.RootRelay = m.EventID, m.Relay
			haveRoot = true
		case m.Type == MarkerReply && !haveReply:
			ctx.ReplyToID, ctx.ReplyRelay = m.EventID, m.Relay
			haveReply = true
		}
		if haveRoot && haveReply {
			break
		}
	}
	return ctx
}

// RootOf is the id grouping ev into a thread: its root marker, or its own id.
func RootOf(ev *model.Event) string {
	if root := ReadContext(ev).RootID; root != "" {
		return root
	}
	return ev.ID
}

// NextReplyTags builds the thread tags for a reply to prev. The author of prev and any
// extra participants are referenced once each.
func NextReplyTags(prev *model.Event, extraParticipants ...string) model.Tags {
	ctx := ReadContext(prev)

	var tags model.Tags
	if ctx.RootID != "" {
		tags = MarkReply(nil, ctx.RootID, prev.ID, ctx.RootRelay, "")
	} else {
		tags = MarkReply(nil, prev.ID, prev.ID, "", "")
	}
	return AddParticipants(tags, append([]string{prev.PubKey}, extraParticipants...)...)
}

// AddParticipants appends ["p", pubkey] for every pubkey not already referenced.
func AddParticipants(tags model.Tags, pubkeys ...string) model.Tags {
	res := tags.Clone()
	seen := make(map[string]struct{})
	for _, t := range res.GetAll("p") {
		seen[t.Value()] = struct{}{}
	}
	for _, pk := range pubkeys {
		if pk == "" {
			continue
		}
		if _, ok := seen[pk]; ok {
			continue
		}
		seen[pk] = struct{}{}
		res = append(res, model.Tag{"p", pk})
	}
	return res
}

// Participants returns the pubkeys referenced by p tags, in order.
func Participants(tags model.Tags) []string {
	var res []string
	for _, t := range tags.GetAll("p") {
		if v := t.Value(); v != "" {
			res = append(res, v)
		}
	}
	return res
}
