// Package http serves the quiz over websockets: one endpoint per role, a
// {type, payload} JSON envelope, and a writer goroutine per connection so the
// socket is never written concurrently.
package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/lifecycle"
	"live-quiz-service/internal/store"
)

// WSConfig carries the shared collaborators every connection needs. Banks may
// be nil when no question bank is configured.
type WSConfig struct {
	Store       store.Store
	Coordinator *app.Coordinator
	Banks       app.BankRepository
	Clock       clockwork.Clock
	Countdown   time.Duration
	Passcode    string
	MaxOptions  int
}

type WSHandler struct {
	cfg      WSConfig
	upgrader websocket.Upgrader
}

func NewWSHandler(cfg WSConfig) *WSHandler {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &WSHandler{
		cfg: cfg,
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

type errorPayload struct {
	Message string `json:"message"`
}

type draftPayload struct {
	Text         string   `json:"text"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correctIndex"`
}

type bankPayload struct {
	BankID string `json:"bankId"`
}

type answerPayload struct {
	Option string `json:"option"`
}

type questionPayload struct {
	ID             string    `json:"id,omitempty"`
	Text           string    `json:"text,omitempty"`
	Options        []string  `json:"options,omitempty"`
	CorrectAnswer  string    `json:"correctAnswer,omitempty"`
	CreatedAt      time.Time `json:"createdAt,omitempty"`
	Phase          string    `json:"phase"`
	ResultsVisible bool      `json:"resultsVisible,omitempty"`
	Submitted      bool      `json:"submitted,omitempty"`
	Selected       string    `json:"selected,omitempty"`
}

type queuePayload struct {
	Drafts []draftPayload `json:"drafts"`
}

type joinedPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type lobbyPayload struct {
	Players []joinedPayload `json:"players"`
}

type winnerPayload struct {
	Name      string    `json:"name"`
	Option    string    `json:"option"`
	Timestamp time.Time `json:"timestamp"`
}

type resultsPayload struct {
	Tally        domain.VoteTally `json:"tally"`
	TotalAnswers int              `json:"totalAnswers"`
	Winner       *winnerPayload   `json:"winner,omitempty"`
}

type leaderboardEntryPayload struct {
	Name           string `json:"name"`
	Score          int    `json:"score"`
	CorrectAnswers int    `json:"correctAnswers"`
	MeanLatencyMs  int64  `json:"meanLatencyMs"`
}

type leaderboardPayload struct {
	Entries []leaderboardEntryPayload `json:"entries"`
}

// ServeHost drives the authoring side: enqueue, broadcast, result visibility
// and bank loading. Guarded by the shared passcode when one is configured.
func (h *WSHandler) ServeHost(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Passcode != "" && r.URL.Query().Get("passcode") != h.cfg.Passcode {
		http.Error(w, "invalid passcode", http.StatusForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	session := app.NewHostSession(h.cfg.Store, h.cfg.Banks, lifecycle.New(h.cfg.Clock, h.cfg.Countdown))
	defer session.Lifecycle().Stop()

	views, cancelViews := h.cfg.Coordinator.Subscribe()
	defer cancelViews()
	states, cancelStates := session.Lifecycle().Subscribe()
	defer cancelStates()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go writeLoop(conn, send, writerDone)

	go func() {
		defer close(updatesDone)
		var (
			view      app.View
			state     lifecycle.State
			announced bool
			connected bool
		)
		for {
			select {
			case v, ok := <-views:
				if !ok {
					return
				}
				session.Observe(v)
				view = v
				if !announced || connected != v.Connected {
					announced = true
					connected = v.Connected
					if !trySend(send, closeSignals, connectionMessage(v.Connected)) {
						return
					}
				}
				if state.ResultsVisible {
					if !trySend(send, closeSignals, resultsMessage(view)) {
						return
					}
				}
			case s, ok := <-states:
				if !ok {
					return
				}
				becameVisible := s.ResultsVisible && !state.ResultsVisible
				state = s
				if !trySend(send, closeSignals, hostQuestionMessage(s)) {
					return
				}
				if becameVisible {
					if !trySend(send, closeSignals, resultsMessage(view)) {
						return
					}
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "enqueue":
			var payload draftPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- errorMessage("invalid enqueue payload")
				continue
			}
			if h.cfg.MaxOptions > 0 && len(payload.Options) > h.cfg.MaxOptions {
				send <- errorMessage("too many options")
				continue
			}
			draft := domain.Draft{Text: payload.Text, Options: payload.Options, CorrectIndex: payload.CorrectIndex}
			if err := session.Enqueue(draft); err != nil {
				sendError(send, err)
				continue
			}
			send <- queueMessage(session.Queue())
		case "loadBank":
			var payload bankPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- errorMessage("invalid loadBank payload")
				continue
			}
			if _, err := session.LoadBank(r.Context(), payload.BankID); err != nil {
				sendError(send, err)
				continue
			}
			send <- queueMessage(session.Queue())
		case "broadcast":
			if _, err := session.Broadcast(r.Context()); err != nil {
				sendError(send, err)
				continue
			}
			send <- queueMessage(session.Queue())
		case "reveal":
			session.RevealResults()
		case "hide":
			session.HideResults()
		default:
			send <- errorMessage("unsupported message type")
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// ServeJoin drives one participant: join on connect, then answers. The correct
// option never leaves the server on this endpoint.
func (h *WSHandler) ServeJoin(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "missing name", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	session := app.NewParticipantSession(h.cfg.Store, lifecycle.New(h.cfg.Clock, h.cfg.Countdown))
	defer session.Lifecycle().Stop()

	player, err := session.Join(r.Context(), name)
	if err != nil {
		_ = conn.WriteJSON(errorMessage(err.Error()))
		return
	}

	views, cancelViews := h.cfg.Coordinator.Subscribe()
	defer cancelViews()
	states, cancelStates := session.Lifecycle().Subscribe()
	defer cancelStates()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go writeLoop(conn, send, writerDone)

	go func() {
		defer close(updatesDone)
		var (
			announced bool
			connected bool
		)
		for {
			select {
			case v, ok := <-views:
				if !ok {
					return
				}
				session.Observe(v)
				if !announced || connected != v.Connected {
					announced = true
					connected = v.Connected
					if !trySend(send, closeSignals, connectionMessage(v.Connected)) {
						return
					}
				}
				if !trySend(send, closeSignals, lobbyMessage(v.Players)) {
					return
				}
			case s, ok := <-states:
				if !ok {
					return
				}
				if !trySend(send, closeSignals, participantQuestionMessage(s, session)) {
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "joined", Payload: joinedPayload{ID: player.ID, Name: player.Name}}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- errorMessage("invalid answer payload")
				continue
			}
			if _, err := session.SubmitAnswer(r.Context(), payload.Option); err != nil {
				sendError(send, err)
				continue
			}
			send <- participantQuestionMessage(session.Lifecycle().State(), session)
		default:
			send <- errorMessage("unsupported message type")
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// ServeLeaderboard streams the cross-question standings, read-only.
func (h *WSHandler) ServeLeaderboard(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	views, cancelViews := h.cfg.Coordinator.Subscribe()
	defer cancelViews()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go writeLoop(conn, send, writerDone)

	go func() {
		defer close(updatesDone)
		for {
			select {
			case v, ok := <-views:
				if !ok {
					return
				}
				if !trySend(send, closeSignals, leaderboardMessage(v.Leaderboard)) {
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	// Drain reads so we notice the peer going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func writeLoop(conn *websocket.Conn, send <-chan outboundMessage[any], done chan<- struct{}) {
	defer close(done)
	for msg := range send {
		if err := conn.WriteJSON(msg); err != nil {
			log.Debug().Err(err).Msg("ws write error")
			return
		}
	}
}

func trySend(send chan<- outboundMessage[any], closeSignals <-chan struct{}, msg outboundMessage[any]) bool {
	select {
	case send <- msg:
		return true
	case <-closeSignals:
		return false
	}
}

func errorMessage(message string) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: message}}
}

// sendError surfaces err inline. Validation mistakes are the client's problem;
// anything else is worth a log line.
func sendError(send chan<- outboundMessage[any], err error) {
	if !domain.IsValidation(err) {
		log.Warn().Err(err).Msg("ws request failed")
	}
	send <- errorMessage(err.Error())
}

func connectionMessage(connected bool) outboundMessage[any] {
	if connected {
		return outboundMessage[any]{Type: "connected", Payload: struct{}{}}
	}
	return outboundMessage[any]{Type: "disconnected", Payload: struct{}{}}
}

func queueMessage(drafts []domain.Draft) outboundMessage[any] {
	payload := queuePayload{Drafts: make([]draftPayload, 0, len(drafts))}
	for _, d := range drafts {
		payload.Drafts = append(payload.Drafts, draftPayload{Text: d.Text, Options: d.Options, CorrectIndex: d.CorrectIndex})
	}
	return outboundMessage[any]{Type: "queue", Payload: payload}
}

func hostQuestionMessage(state lifecycle.State) outboundMessage[any] {
	payload := questionPayload{Phase: state.Phase.String(), ResultsVisible: state.ResultsVisible}
	if state.HasQuestion {
		payload.ID = state.Question.ID
		payload.Text = state.Question.Text
		payload.Options = state.Question.Options
		payload.CorrectAnswer = state.Question.CorrectAnswer
		payload.CreatedAt = state.Question.CreatedAt
	}
	return outboundMessage[any]{Type: "question", Payload: payload}
}

func participantQuestionMessage(state lifecycle.State, session *app.ParticipantSession) outboundMessage[any] {
	payload := questionPayload{Phase: state.Phase.String()}
	if state.HasQuestion {
		payload.ID = state.Question.ID
		payload.Text = state.Question.Text
		payload.Options = state.Question.Options
		payload.CreatedAt = state.Question.CreatedAt
		payload.Submitted = session.Submitted()
		payload.Selected = session.Selected()
	}
	return outboundMessage[any]{Type: "question", Payload: payload}
}

func lobbyMessage(players []domain.Player) outboundMessage[any] {
	payload := lobbyPayload{Players: make([]joinedPayload, 0, len(players))}
	for _, p := range players {
		payload.Players = append(payload.Players, joinedPayload{ID: p.ID, Name: p.Name})
	}
	return outboundMessage[any]{Type: "lobby", Payload: payload}
}

func resultsMessage(view app.View) outboundMessage[any] {
	payload := resultsPayload{Tally: view.Tally, TotalAnswers: view.TotalAnswers}
	if view.Winner != nil {
		payload.Winner = &winnerPayload{
			Name:      view.Winner.StudentName,
			Option:    view.Winner.Answer,
			Timestamp: view.Winner.Timestamp,
		}
	}
	return outboundMessage[any]{Type: "results", Payload: payload}
}

func leaderboardMessage(entries []domain.LeaderboardEntry) outboundMessage[any] {
	payload := leaderboardPayload{Entries: make([]leaderboardEntryPayload, 0, len(entries))}
	for _, e := range entries {
		payload.Entries = append(payload.Entries, leaderboardEntryPayload{
			Name:           e.Name,
			Score:          e.Score,
			CorrectAnswers: e.CorrectAnswers,
			MeanLatencyMs:  e.MeanLatency.Milliseconds(),
		})
	}
	return outboundMessage[any]{Type: "leaderboard", Payload: payload}
}
