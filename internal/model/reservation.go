package model

type (
	// MessageType is the protocol stage a reservation message belongs to. The numeric
	// values are the stage ordinals used to break timestamp ties inside a thread.
	MessageType int

	Status string

	// Contact fields are optional on requests; empty values are not sent.
	Contact struct {
		Name      string `json:"name,omitempty"`
		Telephone string `json:"telephone,omitempty"`
		Email     string `json:"email,omitempty"`
	}

	// Slot is a requested or proposed time. Time is unix seconds; TZID is an IANA zone name.
	Slot struct {
		Time     int64  `json:"time"`
		TZID     string `json:"tzid"`
		Duration int64  `json:"duration,omitempty"`
	}

	ReservationRequest struct {
		PartySize int     `json:"party_size"`
		Slot      Slot    `json:"slot"`
		Contact   Contact `json:"contact,omitempty"`
		Note      string  `json:"note,omitempty"`
	}

	ReservationResponse struct {
		Status  Status `json:"status"`
		Slot    *Slot  `json:"slot,omitempty"`
		Message string `json:"message,omitempty"`
	}

	ReservationModificationRequest struct {
		PartySize int     `json:"party_size"`
		Slot      Slot    `json:"slot"`
		Contact   Contact `json:"contact,omitempty"`
		Note      string  `json:"note,omitempty"`
	}

	ReservationModificationResponse struct {
		Status  Status `json:"status"`
		Slot    *Slot  `json:"slot,omitempty"`
		Message string `json:"message,omitempty"`
	}

	// Payload is one of the four reservation payload structs above.
	Payload interface {
		MessageType() MessageType
	}
)

const (
	MessageTypeUnknown MessageType = iota
	MessageTypeRequest
	MessageTypeModificationRequest
	MessageTypeModificationResponse
	MessageTypeResponse
)

const (
	StatusConfirmed Status = "confirmed"
	StatusDeclined  Status = "declined"
	StatusCancelled Status = "cancelled"
	StatusAccepted  Status = "accepted"
	StatusSuggested Status = "suggested"
	StatusExpired   Status = "expired"
)

func (*ReservationRequest) MessageType() MessageType { return MessageTypeRequest }
func (*ReservationResponse) MessageType() MessageType { return MessageTypeResponse }
func (*ReservationModificationRequest) MessageType() MessageType {
	return MessageTypeModificationRequest
}
func (*ReservationModificationResponse) MessageType() MessageType {
	return MessageTypeModificationResponse
}

// Kind maps a message type to the rumor kind carrying it.
func (t MessageType) Kind() int {
	switch t {
	case MessageTypeRequest:
		return KindReservationRequest
	case MessageTypeResponse:
		return KindReservationResponse
	case MessageTypeModificationRequest:
		return KindReservationModificationRequest
	case MessageTypeModificationResponse:
		return KindReservationModificationResponse
	}
	return -1
}

func (t MessageType) String() string {
	switch t {
	case MessageTypeRequest:
		return "request"
	case MessageTypeResponse:
		return "response"
	case MessageTypeModificationRequest:
		return "modification_request"
	case MessageTypeModificationResponse:
		return "modification_response"
	}
	return "unknown"
}

// MessageTypeOfKind is the inverse of MessageType.Kind.
func MessageTypeOfKind(kind int) MessageType {
	switch kind {
	case KindReservationRequest:
		return MessageTypeRequest
	case KindReservationResponse:
		return MessageTypeResponse
	case KindReservationModificationRequest:
		return MessageTypeModificationRequest
	case KindReservationModificationResponse:
		return MessageTypeModificationResponse
	}
	return MessageTypeUnknown
}

func ParseMessageType(s string) MessageType {
	for t := MessageTypeRequest; t <= MessageTypeResponse; t++ {
		if t.String() == s {
			return t
		}
	}
	return MessageTypeUnknown
}
