package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

type WSHandler struct {
	rooms    *app.RoomService
	deps     app.SessionDeps
	weights  domain.Weights
	upgrader websocket.Upgrader
}

// NewWSHandler serves one app.Session per connection. weights are used when an
// applyScores message carries none.
func NewWSHandler(rooms *app.RoomService, deps app.SessionDeps, weights domain.Weights) *WSHandler {
	return &WSHandler{
		rooms:   rooms,
		deps:    deps,
		weights: weights,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type answerPayload struct {
	Choice string `json:"choice"`
}

type roundPayload struct {
	RoundID string `json:"roundId"`
}

type correctPayload struct {
	RoundID string `json:"roundId"`
	Choice  string `json:"choice"`
}

type scoresPayload struct {
	RoundID string `json:"roundId"`
	Weights []int  `json:"weights,omitempty"`
}

type joinedPayload struct {
	Role   app.Role       `json:"role"`
	Token  string         `json:"token,omitempty"`
	Player *domain.Player `json:"player,omitempty"`
}

type resultPayload struct {
	Action  string `json:"action"`
	Outcome string `json:"outcome"`
}

type errorPayload struct {
	Message string `json:"message"`
}

const writeWait = 10 * time.Second

var errUnsupported = errors.New("unsupported message type")

// ServeWS resolves who is connecting, then runs a client session for the socket.
//
//	/ws?room=4821&role=gm
//	/ws?room=4821&role=player&name=aya
//	/ws?role=player&token=...
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	roomCode := q.Get("room")
	role := app.Role(q.Get("role"))
	if role == "" {
		role = app.RolePlayer
	}

	joined := joinedPayload{Role: role}
	var identity domain.Identity
	switch role {
	case app.RoleGM:
		if _, err := h.rooms.Room(r.Context(), roomCode); err != nil {
			writeHTTPError(w, err)
			return
		}
	case app.RolePlayer:
		var err error
		identity, joined, err = h.resolvePlayer(r.Context(), roomCode, q.Get("name"), q.Get("token"))
		if err != nil {
			writeHTTPError(w, err)
			return
		}
		roomCode = identity.RoomCode
	default:
		http.Error(w, "role must be gm or player", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancelSession := context.WithCancel(context.Background())
	defer cancelSession()

	session := app.NewSession(h.deps, roomCode, role, identity)
	views, cancelViews := session.Updates()
	defer cancelViews()
	go func() {
		if err := session.Run(ctx); err != nil {
			log.Error().Err(err).Str("room", roomCode).Msg("session stopped")
		}
	}()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	viewsDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Str("room", roomCode).Msg("ws write error")
				// Unblocks ReadJSON so the read loop ends the session.
				_ = conn.Close()
				return
			}
		}
	}()

	// enqueue reports false once the writer has stopped.
	enqueue := func(msg outboundMessage[any]) bool {
		select {
		case send <- msg:
			return true
		case <-writerDone:
			return false
		}
	}

	go func() {
		defer close(viewsDone)
		for {
			select {
			case view, ok := <-views:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "view", Payload: view}:
				case <-writerDone:
					return
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	if enqueue(outboundMessage[any]{Type: "joined", Payload: joined}) {
		log.Info().Str("room", roomCode).Str("role", string(role)).Str("player", identity.PlayerID).Msg("client connected")
		h.readLoop(ctx, conn, session, role, joined.Token, identity, enqueue)
	}

	cancelSession()
	close(closeSignals)
	<-viewsDone
	close(send)
	<-writerDone
	log.Info().Str("room", roomCode).Str("role", string(role)).Msg("client disconnected")
}

// readLoop handles inbound frames until the socket fails, the player leaves or
// the writer stops.
func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, session *app.Session, role app.Role, token string, identity domain.Identity, enqueue func(outboundMessage[any]) bool) {
	roomCode := session.RoomCode()
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}
		if role == app.RolePlayer && inbound.Type == "leave" {
			if err := h.rooms.Leave(ctx, token, identity); err != nil {
				if !enqueue(errorMessage(err)) {
					return
				}
				continue
			}
			enqueue(outboundMessage[any]{Type: "result", Payload: resultPayload{Action: "leave", Outcome: "left"}})
			return
		}

		outcome, err := h.dispatch(ctx, session, inbound)
		sent := true
		switch {
		case err != nil:
			log.Debug().Err(err).Str("room", roomCode).Str("type", inbound.Type).Msg("client action rejected")
			sent = enqueue(errorMessage(err))
		case outcome == "":
			// Silent outcome: nothing to show.
		default:
			sent = enqueue(outboundMessage[any]{Type: "result", Payload: resultPayload{Action: inbound.Type, Outcome: outcome}})
		}
		if !sent {
			return
		}
	}
}

// resolvePlayer resumes a stored identity or joins the room as a new player.
func (h *WSHandler) resolvePlayer(ctx context.Context, roomCode, name, token string) (domain.Identity, joinedPayload, error) {
	if token != "" {
		identity, err := h.rooms.Resume(ctx, token)
		switch {
		case err == nil && (roomCode == "" || identity.RoomCode == roomCode):
			player := domain.Player{ID: identity.PlayerID, RoomCode: identity.RoomCode, DisplayName: identity.DisplayName}
			return identity, joinedPayload{Role: app.RolePlayer, Token: token, Player: &player}, nil
		case err != nil && !errors.Is(err, domain.ErrIdentityNotFound):
			return domain.Identity{}, joinedPayload{}, err
		}
	}

	player, newToken, err := h.rooms.Join(ctx, roomCode, name)
	if err != nil {
		return domain.Identity{}, joinedPayload{}, err
	}
	identity := domain.Identity{PlayerID: player.ID, RoomCode: player.RoomCode, DisplayName: player.DisplayName}
	return identity, joinedPayload{Role: app.RolePlayer, Token: newToken, Player: &player}, nil
}

// dispatch runs one client action and returns the outcome to report, or "" when
// the outcome is silent.
func (h *WSHandler) dispatch(ctx context.Context, s *app.Session, msg inboundMessage) (string, error) {
	switch msg.Type {
	case "answer":
		var p answerPayload
		if err := decode(msg.Payload, &p); err != nil {
			return "", err
		}
		choice, err := domain.ParseChoice(p.Choice)
		if err != nil {
			return "", err
		}
		outcome, err := s.Submit(ctx, choice)
		if err != nil || outcome == app.SubmitAlreadyAnswered {
			return "", err
		}
		return string(outcome), nil

	case "createRound":
		_, err := s.CreateRound(ctx)
		return ok(err)

	case "openRound", "closeRound", "startReveal", "pinRound":
		var p roundPayload
		if err := decode(msg.Payload, &p); err != nil {
			return "", err
		}
		return h.roundAction(ctx, s, msg.Type, p.RoundID)

	case "setCorrect":
		var p correctPayload
		if err := decode(msg.Payload, &p); err != nil {
			return "", err
		}
		choice, err := domain.ParseChoice(p.Choice)
		if err != nil {
			return "", err
		}
		_, err = s.SetCorrectChoice(ctx, p.RoundID, choice)
		return ok(err)

	case "applyScores":
		var p scoresPayload
		if err := decode(msg.Payload, &p); err != nil {
			return "", err
		}
		weights, err := h.weightsFor(p.Weights)
		if err != nil {
			return "", err
		}
		outcome, err := s.ApplyScores(ctx, p.RoundID, weights)
		if err != nil || outcome == app.ScoreInFlight {
			return "", err
		}
		return string(outcome), nil

	case "resetScores":
		if s.Role() != app.RoleGM {
			return "", app.ErrGMOnly
		}
		if err := h.rooms.ResetScores(ctx, s.RoomCode()); err != nil {
			return "", err
		}
		s.Refresh()
		return "ok", nil

	case "follow":
		return ok(s.Follow())
	}
	return "", errUnsupported
}

func (h *WSHandler) roundAction(ctx context.Context, s *app.Session, action, roundID string) (string, error) {
	var err error
	switch action {
	case "openRound":
		_, err = s.OpenRound(ctx, roundID)
	case "closeRound":
		_, err = s.CloseRound(ctx, roundID)
	case "startReveal":
		_, err = s.StartReveal(ctx, roundID)
	case "pinRound":
		err = s.PinRound(roundID)
	}
	return ok(err)
}

func (h *WSHandler) weightsFor(raw []int) (domain.Weights, error) {
	if len(raw) == 0 {
		return h.weights, nil
	}
	if len(raw) != 3 {
		return domain.Weights{}, errors.New("weights needs 3 values")
	}
	w := domain.Weights{First: raw[0], Second: raw[1], Other: raw[2]}
	return w, w.Validate()
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.New("invalid payload")
	}
	return nil
}

func ok(err error) (string, error) {
	if err != nil {
		return "", err
	}
	return "ok", nil
}

func errorMessage(err error) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
}

func writeHTTPError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrDisplayNameRequired):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		log.Error().Err(err).Msg("ws connect failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
