package threads

import (
	"sort"

	"resv_relay/internal/model"
	"resv_relay/internal/protocol/thread"
)

// Assemble groups messages into conversation threads. It does not modify its input;
// the returned threads hold the same *Message pointers.
//
// Messages are grouped by thread root (root marker, else the rumor's own id), ordered by
// created_at with ties broken by negotiation stage, and threads are returned most
// recently active first.
func Assemble(messages []*model.Message, localPubKey string) []*model.ConversationThread {
	groups := make(map[string][]*model.Message)
	var roots []string
	for _, m := range messages {
		if m == nil || m.Rumor == nil {
			continue
		}
		root := rootOf(m)
		if _, ok := groups[root]; !ok {
			roots = append(roots, root)
		}
		groups[root] = append(groups[root], m)
	}

	res := make([]*model.ConversationThread, 0, len(roots))
	for _, root := range roots {
		res = append(res, build(root, groups[root], localPubKey))
	}

	sort.SliceStable(res, func(i, j int) bool {
		ti, tj := res[i].Latest.CreatedAt(), res[j].Latest.CreatedAt()
		if ti != tj {
			return ti > tj
		}
		return res[i].RootID < res[j].RootID
	})
	return res
}

func rootOf(m *model.Message) string {
	if m.Context.RootID != "" {
		return m.Context.RootID
	}
	return thread.RootOf(m.Rumor)
}

func build(root string, msgs []*model.Message, localPubKey string) *model.ConversationThread {
	sorted := append([]*model.Message(nil), msgs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return Less(sorted[i], sorted[j])
	})

	return &model.ConversationThread{
		RootID:         root,
		Messages:       sorted,
		InitialRequest: initialRequest(sorted),
		Latest:         sorted[len(sorted)-1],
		PartnerPubKey:  partner(sorted, localPubKey),
	}
}

// Less orders two messages of one thread: by created_at, then by stage ordinal
// (request < modification request < modification response < response), then by id.
func Less(a, b *model.Message) bool {
	if ta, tb := a.CreatedAt(), b.CreatedAt(); ta != tb {
		return ta < tb
	}
	if a.Type != b.Type {
		return a.Type < b.Type
	}
	return a.ID() < b.ID()
}

func initialRequest(sorted []*model.Message) *model.Message {
	for _, want := range []model.MessageType{model.MessageTypeRequest, model.MessageTypeModificationRequest} {
		for _, m := range sorted {
			if m.Type == want {
				return m
			}
		}
	}
	return sorted[0]
}

// partner is the first author that is not us; when every message is ours it falls back
// to the first participant we addressed.
func partner(sorted []*model.Message, localPubKey string) string {
	for _, m := range sorted {
		if a := m.Author(); a != "" && a != localPubKey {
			return a
		}
	}
	for _, m := range sorted {
		for _, pk := range thread.Participants(m.Rumor.Tags) {
			if pk != localPubKey {
				return pk
			}
		}
	}
	return ""
}
