package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"resv_relay/internal/cryptographic/dh"
	"resv_relay/internal/model"
	"resv_relay/internal/protocol/reservation"
	"resv_relay/internal/service/negotiation"
	"resv_relay/internal/service/node"
	"resv_relay/internal/utils/log"

	"github.com/gorilla/mux"
	"github.com/rcrowley/go-metrics"
	"go.uber.org/zap"
)

const maxBody = 64 << 10

type (
	HttpServer struct {
		node *node.Node
		srv  *http.Server
	}

	messageView struct {
		ID        string        `json:"id"`
		Author    string        `json:"author"`
		CreatedAt int64         `json:"created_at"`
		Type      string        `json:"type"`
		Payload   model.Payload `json:"payload"`
		RootID    string        `json:"root_id,omitempty"`
		ReplyTo   string        `json:"reply_to,omitempty"`
		Relay     string        `json:"relay,omitempty"`
	}

	threadView struct {
		RootID         string        `json:"root_id"`
		Partner        string        `json:"partner,omitempty"`
		Count          int           `json:"count"`
		InitialRequest *messageView  `json:"initial_request,omitempty"`
		Latest         *messageView  `json:"latest,omitempty"`
		Messages       []messageView `json:"messages,omitempty"`
	}

	sendResult struct {
		RumorID string            `json:"rumor_id"`
		Relays  map[string]string `json:"relays"`
	}

	// reservationForm is the body of POST /reservations.
	reservationForm struct {
		Merchant  string `json:"merchant"`
		PartySize int    `json:"party_size"`
		Time      int64  `json:"time"`
		TZID      string `json:"tzid"`
		Duration  int64  `json:"duration,omitempty"`
		Name      string `json:"name,omitempty"`
		Telephone string `json:"telephone,omitempty"`
		Email     string `json:"email,omitempty"`
		Note      string `json:"note,omitempty"`
	}

	// replyForm is the body of POST /threads/{root}/messages. Which fields are read
	// depends on Type.
	replyForm struct {
		Type      string `json:"type"`
		Status    string `json:"status,omitempty"`
		PartySize int    `json:"party_size,omitempty"`
		Time      int64  `json:"time,omitempty"`
		TZID      string `json:"tzid,omitempty"`
		Duration  int64  `json:"duration,omitempty"`
		Message   string `json:"message,omitempty"`
	}
)

func NewHttpServer(n *node.Node, addr string) *HttpServer {
	s := &HttpServer{node: n}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *HttpServer) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/identity", s.GetIdentity()).Methods(http.MethodGet)
	r.HandleFunc("/threads", s.ListThreads()).Methods(http.MethodGet)
	r.HandleFunc("/threads/{root}", s.GetThread()).Methods(http.MethodGet)
	r.HandleFunc("/threads/{root}/messages", s.PostReply()).Methods(http.MethodPost)
	r.HandleFunc("/reservations", s.PostReservation()).Methods(http.MethodPost)
	r.HandleFunc("/metrics", s.GetMetrics()).Methods(http.MethodGet)
	return r
}

// Run serves until Shutdown is called.
func (s *HttpServer) Run() error {
	log.Info("http server listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HttpServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *HttpServer) GetIdentity() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"pubkey": s.node.PublicKey()})
	}
}

func (s *HttpServer) ListThreads() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ths := s.node.Inbox.Threads()
		res := make([]threadView, 0, len(ths))
		for _, th := range ths {
			res = append(res, viewThread(th, false))
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *HttpServer) GetThread() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		root := mux.Vars(r)["root"]
		th, ok := s.node.Inbox.Thread(root)
		if !ok {
			http.Error(w, "thread not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, viewThread(th, true))
	}
}

func (s *HttpServer) PostReservation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var form reservationForm
		if err := decodeBody(w, r, &form); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		res, err := s.node.SendRequest(r.Context(), form.Merchant, &model.ReservationRequest{
			PartySize: form.PartySize,
			Slot:      model.Slot{Time: form.Time, TZID: form.TZID, Duration: form.Duration},
			Contact:   model.Contact{Name: form.Name, Telephone: form.Telephone, Email: form.Email},
			Note:      form.Note,
		})
		if err != nil {
			log.Error("send reservation request failed", zap.Error(err))
			http.Error(w, err.Error(), statusOf(err))
			return
		}
		writeJSON(w, http.StatusCreated, viewResult(res))
	}
}

func (s *HttpServer) PostReply() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		root := mux.Vars(r)["root"]

		var form replyForm
		if err := decodeBody(w, r, &form); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		payload, err := form.payload()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		res, err := s.node.Reply(r.Context(), root, payload)
		if err != nil {
			log.Error("reply failed", zap.String("root", root), zap.Error(err))
			http.Error(w, err.Error(), statusOf(err))
			return
		}
		writeJSON(w, http.StatusCreated, viewResult(res))
	}
}

func (s *HttpServer) GetMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		metrics.WriteJSONOnce(s.node.Registry(), w)
	}
}

func (f *replyForm) payload() (model.Payload, error) {
	var slot *model.Slot
	if f.Time != 0 || f.TZID != "" {
		slot = &model.Slot{Time: f.Time, TZID: f.TZID, Duration: f.Duration}
	}

	switch model.ParseMessageType(f.Type) {
	case model.MessageTypeResponse:
		return &model.ReservationResponse{Status: model.Status(f.Status), Slot: slot, Message: f.Message}, nil
	case model.MessageTypeModificationRequest:
		req := &model.ReservationModificationRequest{PartySize: f.PartySize, Note: f.Message}
		if slot != nil {
			req.Slot = *slot
		}
		return req, nil
	case model.MessageTypeModificationResponse:
		return &model.ReservationModificationResponse{Status: model.Status(f.Status), Slot: slot, Message: f.Message}, nil
	}
	return nil, errors.New("type must be response, modification_request or modification_response")
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, reservation.ErrInvalidPayload), errors.Is(err, dh.ErrInvalidPeerKey):
		return http.StatusBadRequest
	case errors.Is(err, node.ErrUnknownThread):
		return http.StatusNotFound
	case errors.Is(err, negotiation.ErrNoPartner), errors.Is(err, negotiation.ErrNothingToDo):
		return http.StatusConflict
	case errors.Is(err, negotiation.ErrNotPublished):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func viewMessage(m *model.Message) *messageView {
	if m == nil {
		return nil
	}
	return &messageView{
		ID:        m.ID(),
		Author:    m.Author(),
		CreatedAt: m.CreatedAt(),
		Type:      m.Type.String(),
		Payload:   m.Payload,
		RootID:    m.Context.RootID,
		ReplyTo:   m.Context.ReplyToID,
		Relay:     m.Relay,
	}
}

func viewThread(th *model.ConversationThread, full bool) threadView {
	v := threadView{
		RootID:         th.RootID,
		Partner:        th.PartnerPubKey,
		Count:          len(th.Messages),
		InitialRequest: viewMessage(th.InitialRequest),
		Latest:         viewMessage(th.Latest),
	}
	if full {
		v.Messages = make([]messageView, 0, len(th.Messages))
		for _, m := range th.Messages {
			v.Messages = append(v.Messages, *viewMessage(m))
		}
	}
	return v
}

func viewResult(res *negotiation.Result) sendResult {
	out := sendResult{RumorID: res.Message.ID(), Relays: make(map[string]string)}
	// a relay counts as ok when it took the recipient's copy
	for relay, err := range res.Recipient {
		if err != nil {
			out.Relays[relay] = err.Error()
		} else {
			out.Relays[relay] = "ok"
		}
	}
	return out
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("encode response failed", zap.Error(err))
		http.Error(w, "encode response failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
