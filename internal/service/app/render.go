package app

import (
	"fmt"
	"time"

	"resv_relay/internal/model"

	"github.com/rivo/tview"
)

// FormatThread renders th as chat lines with tview color tags. partnerName labels the
// counterparty's messages.
func FormatThread(th *model.ConversationThread, localPubKey, partnerName string) []string {
	lines := make([]string, 0, len(th.Messages))
	for _, m := range th.Messages {
		who := "[green]" + tview.Escape(partnerName) + ":[-]"
		if m.Author() == localPubKey {
			who = "[yellow]You:[-]"
		}
		lines = append(lines, fmt.Sprintf("%s %s", who, Describe(m)))
	}
	return lines
}

// Describe is a one-line human summary of a message.
func Describe(m *model.Message) string {
	var s string
	switch p := m.Payload.(type) {
	case *model.ReservationRequest:
		s = fmt.Sprintf("table for %d, %s", p.PartySize, formatSlot(&p.Slot))
		s = withNote(s, p.Note)
	case *model.ReservationModificationRequest:
		s = fmt.Sprintf("proposes %d people, %s", p.PartySize, formatSlot(&p.Slot))
		s = withNote(s, p.Note)
	case *model.ReservationModificationResponse:
		s = fmt.Sprintf("%s the proposal", p.Status)
		s = withNote(s, p.Message)
	case *model.ReservationResponse:
		s = string(p.Status)
		if p.Slot != nil {
			s += ", " + formatSlot(p.Slot)
		}
		s = withNote(s, p.Message)
	default:
		s = m.Type.String()
	}
	return s
}

func formatSlot(slot *model.Slot) string {
	t := time.Unix(slot.Time, 0)
	if loc, err := time.LoadLocation(slot.TZID); err == nil {
		return t.In(loc).Format("Mon 2 Jan 15:04 MST")
	}
	return t.UTC().Format("Mon 2 Jan 15:04") + " " + slot.TZID
}

func withNote(s, note string) string {
	if note == "" {
		return s
	}
	return s + ` "` + tview.Escape(note) + `"`
}

// ThreadsWith keeps the threads whose counterparty is partner, preserving order.
func ThreadsWith(ths []*model.ConversationThread, partner string) []*model.ConversationThread {
	var res []*model.ConversationThread
	for _, th := range ths {
		if th.PartnerPubKey == partner {
			res = append(res, th)
		}
	}
	return res
}

// LatestThreadWith is the thread with partner that saw the most recent message.
func LatestThreadWith(ths []*model.ConversationThread, partner string) *model.ConversationThread {
	var best *model.ConversationThread
	for _, th := range ThreadsWith(ths, partner) {
		if th.Latest == nil {
			continue
		}
		if best == nil || th.Latest.CreatedAt() >= best.Latest.CreatedAt() {
			best = th
		}
	}
	return best
}
