package model

type (
	// ThreadContext is the parsed form of a rumor's root/reply markers.
	ThreadContext struct {
		RootID     string `json:"root_id,omitempty"`
		ReplyToID  string `json:"reply_to_id,omitempty"`
		RootRelay  string `json:"root_relay,omitempty"`
		ReplyRelay string `json:"reply_relay,omitempty"`
	}

	// Message is a delivered reservation message: an unwrapped rumor plus everything
	// parsed from it once at the boundary.
	Message struct {
		Rumor   *Event        `json:"rumor"`
		Type    MessageType   `json:"type"`
		Payload Payload       `json:"payload"`
		Context ThreadContext `json:"context"`

		// WrapID is the gift wrap the rumor arrived in; Relay the relay it came from.
		WrapID string `json:"wrap_id,omitempty"`
		Relay  string `json:"relay,omitempty"`
	}

	ConversationThread struct {
		RootID         string     `json:"root_id"`
		Messages       []*Message `json:"messages"`
		InitialRequest *Message   `json:"initial_request"`
		Latest         *Message   `json:"latest"`
		PartnerPubKey  string     `json:"partner_pubkey,omitempty"`
	}
)

func (c ThreadContext) IsRoot() bool {
	return c.RootID == "" && c.ReplyToID == ""
}

// ID returns the rumor id, which identifies the logical message across self-CC copies.
func (m *Message) ID() string {
	if m == nil || m.Rumor == nil {
		return ""
	}
	return m.Rumor.ID
}

func (m *Message) Author() string {
	if m == nil || m.Rumor == nil {
		return ""
	}
	return m.Rumor.PubKey
}

func (m *Message) CreatedAt() int64 {
	if m == nil || m.Rumor == nil {
		return 0
	}
	return m.Rumor.CreatedAt
}
