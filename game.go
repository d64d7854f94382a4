// Blindtest Session Coordinator
//
// One participant creates a room and becomes its host; everyone else joins
// with the room's 4-letter code. The host plays tracks from a video catalog,
// players send guesses, and the host validates each guess as matching the
// track's title or artist. Correct guesses score one point per category, a
// track is revealed once both of its categories have been found, and the
// first player to reach the room's score limit ends the session.
//
// Features:
// - Single websocket endpoint, rooms addressed by code inside each event
// - Random 4-letter room codes via crypto/rand, with server-side collision check
// - Rooms live only in memory and are destroyed when their last player leaves
// - Host is fixed at room creation and never reassigned, even on disconnect
// - Guesses are relayed privately to the host; validations broadcast to the room
// - A (pseudonym, category) pair is credited at most once per track
// - Reveal fires when both categories of the current track have been found
// - Session ends when a player's score reaches the limit; winners sorted by score
// - Actions naming an unknown room or player are dropped silently
// - In-browser QR button to share a room's join URL, backed by go-qrcode

package main

import (
	"crypto/rand"
	"log"
	"net/http"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	codeLength   = 4

	defaultScoreLimit = 12
)

// The two guessable categories of a track.
const (
	categoryTitle  = "title"
	categoryArtist = "artist"
)

// Player is one roster entry, serialized as-is in updatePlayers and endGame.
type Player struct {
	ConnectionID string `json:"id"`
	Pseudonym    string `json:"pseudonym"`
	Score        int    `json:"score"`
	Host         bool   `json:"isHost"`
}

// Room holds all state for one session. Every mutation happens under mu,
// so each inbound action is atomic with respect to all others.
type Room struct {
	mu sync.Mutex

	code       string
	players    []*Player
	hostConnID string
	scoreLimit int

	currentVideo   string
	satisfiedCount int
	satisfied      map[string]map[string]bool // pseudonym -> credited categories
}

// Messages coming from clients
type ClientMessage struct {
	Type       string `json:"type"`                 // "createRoom", "joinRoom", "startGame", "restartGame", "playVideo", "skipVideo", "forceReveal", "sendGuess", "validateGuess", "rejectGuess", "guessClose"
	Pseudonym  string `json:"pseudonym,omitempty"`  // createRoom / joinRoom / sendGuess / validateGuess / rejectGuess / guessClose
	RoomCode   string `json:"roomCode,omitempty"`   // all except createRoom
	ScoreLimit int    `json:"scoreLimit,omitempty"` // startGame
	VideoID    string `json:"videoId,omitempty"`    // playVideo
	Guess      string `json:"guess,omitempty"`      // sendGuess / validateGuess / rejectGuess / guessClose
	Category   string `json:"category,omitempty"`   // validateGuess
}

// RoomCodeMessage confirms creation or joining to a single client.
type RoomCodeMessage struct {
	Type     string `json:"type"` // "roomCreated" or "roomJoined"
	RoomCode string `json:"roomCode"`
}

// PlayersMessage carries the current roster in join order.
type PlayersMessage struct {
	Type    string   `json:"type"` // "updatePlayers"
	Players []Player `json:"players"`
}

// SimpleEvent is for notifications with no payload
// ("gameStarted", "videoSkipped", "revealVideo").
type SimpleEvent struct {
	Type string `json:"type"`
}

// VideoMessage announces the track to guess.
type VideoMessage struct {
	Type    string `json:"type"` // "playVideo"
	VideoID string `json:"videoId"`
}

// GuessMessage relays a guess and its outcome
// ("guessReceived", "guessValidated", "guessRejected", "guessClose").
type GuessMessage struct {
	Type      string `json:"type"`
	Pseudonym string `json:"pseudonym"`
	Guess     string `json:"guess"`
	Category  string `json:"category,omitempty"` // "guessValidated" only
}

// EndGameMessage carries the final standings, best score first.
type EndGameMessage struct {
	Type    string   `json:"type"` // "endGame"
	Winners []Player `json:"winners"`
}

// Registry owns the mapping from room code to live Room.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

func newRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
	}
}

// newCodeLocked samples crypto-random codes until one doesn't collide with
// a live room. Assumes reg.mu is already held.
func (reg *Registry) newCodeLocked() string {
	for {
		buf := make([]byte, codeLength)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, codeLength)
		for i := range out {
			out[i] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
		}
		code := string(out)

		if _, exists := reg.rooms[code]; !exists {
			return code
		}
	}
}

// create allocates a fresh unique code and registers an empty room under it.
func (reg *Registry) create() *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room := &Room{
		code:      reg.newCodeLocked(),
		satisfied: make(map[string]map[string]bool),
	}
	reg.rooms[room.code] = room

	return room
}

func (reg *Registry) get(code string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	room, ok := reg.rooms[code]
	return room, ok
}

func (reg *Registry) remove(code string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	delete(reg.rooms, code)
}

func (reg *Registry) count() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	return len(reg.rooms)
}

// rosterLocked copies the roster for serialization. Assumes r.mu is held.
func (r *Room) rosterLocked() []Player {
	roster := make([]Player, 0, len(r.players))
	for _, p := range r.players {
		roster = append(roster, *p)
	}
	return roster
}

// winnersLocked returns the roster sorted by score descending. The sort is
// stable, so tied players keep their join order. Assumes r.mu is held.
func (r *Room) winnersLocked() []Player {
	winners := r.rosterLocked()
	sort.SliceStable(winners, func(i, j int) bool {
		return winners[i].Score > winners[j].Score
	})
	return winners
}

// startTrackLocked begins a new guessing round: all category credit from the
// previous track is forgotten. Assumes r.mu is held.
func (r *Room) startTrackLocked(videoID string) {
	r.currentVideo = videoID
	r.satisfiedCount = 0
	r.satisfied = make(map[string]map[string]bool)
}

// removePlayerLocked drops the roster entry for a connection. Assumes r.mu
// is held.
func (r *Room) removePlayerLocked(connID string) bool {
	for i, p := range r.players {
		if p.ConnectionID == connID {
			r.players = append(r.players[:i], r.players[i+1:]...)
			return true
		}
	}
	return false
}

// validation is the outcome of a host validating a guess.
type validation struct {
	credited bool
	reveal   bool
	won      bool
	winners  []Player
}

// validateLocked credits a (pseudonym, category) pair for the current track.
// Unknown categories, unknown pseudonyms, and repeat credits are all no-ops.
// Players are matched by pseudonym, so two players sharing one pseudonym
// score as a single entry. Assumes r.mu is held.
func (r *Room) validateLocked(pseudonym, category string) validation {
	if category != categoryTitle && category != categoryArtist {
		return validation{}
	}

	var player *Player
	for _, p := range r.players {
		if p.Pseudonym == pseudonym {
			player = p
			break
		}
	}
	if player == nil {
		return validation{}
	}

	credited := r.satisfied[pseudonym]
	if credited[category] {
		return validation{}
	}
	if credited == nil {
		credited = make(map[string]bool)
		r.satisfied[pseudonym] = credited
	}
	credited[category] = true

	player.Score++
	r.satisfiedCount++

	result := validation{
		credited: true,
		reveal:   r.satisfiedCount == 2,
	}

	if r.scoreLimit > 0 && player.Score >= r.scoreLimit {
		result.won = true
		result.winners = r.winnersLocked()
	}

	return result
}

type Client struct {
	conn *websocket.Conn
	send chan any
	id   string
	room string // joined room code; guarded by the gateway mutex
}

// Gateway resolves inbound events against the registry and fans state
// changes back out to each room's connected clients.
type Gateway struct {
	cfg      *Config
	registry *Registry

	mu      sync.Mutex
	conns   map[*Client]bool
	members map[string]map[*Client]bool // room code -> connected clients
}

func newGateway(cfg *Config, registry *Registry) *Gateway {
	return &Gateway{
		cfg:      cfg,
		registry: registry,
		conns:    make(map[*Client]bool),
		members:  make(map[string]map[*Client]bool),
	}
}

func (g *Gateway) register(c *Client) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.conns[c] = true
}

// joinChannelLocked subscribes a client to a room's broadcasts. Assumes
// g.mu is held.
func (g *Gateway) joinChannelLocked(code string, c *Client) {
	if !g.conns[c] {
		return
	}
	if g.members[code] == nil {
		g.members[code] = make(map[*Client]bool)
	}
	g.members[code][c] = true
	c.room = code
}

// dropLocked disconnects a client from the gateway's bookkeeping and closes
// its send channel exactly once. Assumes g.mu is held.
func (g *Gateway) dropLocked(c *Client) {
	if !g.conns[c] {
		return
	}
	delete(g.conns, c)

	if clients, ok := g.members[c.room]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(g.members, c.room)
		}
	}

	close(c.send)
}

// sendLocked queues a message for one client, dropping the client if its
// send buffer is full. Assumes g.mu is held.
func (g *Gateway) sendLocked(c *Client, msg any) {
	if !g.conns[c] {
		return
	}

	select {
	case c.send <- msg:
	default:
		g.dropLocked(c)
	}
}

// unicast delivers a message to a single client, fire and forget.
func (g *Gateway) unicast(c *Client, msg any) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.sendLocked(c, msg)
}

// broadcast delivers a message to every client subscribed to a room code,
// fire and forget. An unknown code is a no-op.
func (g *Gateway) broadcast(code string, msg any) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for c := range g.members[code] {
		g.sendLocked(c, msg)
	}
}

// hostClient finds the connected client matching a room's host connection,
// or nil if the host has disconnected.
func (g *Gateway) hostClient(room *Room) *Client {
	room.mu.Lock()
	code := room.code
	hostID := room.hostConnID
	room.mu.Unlock()

	g.mu.Lock()
	defer g.mu.Unlock()

	for c := range g.members[code] {
		if c.id == hostID {
			return c
		}
	}
	return nil
}

// dispatch routes one inbound event. Actions naming a room that doesn't
// exist fall through without an error to the sender.
func (g *Gateway) dispatch(c *Client, msg ClientMessage) {
	switch msg.Type {
	case "createRoom":
		g.handleCreate(c, msg)
	case "joinRoom":
		g.handleJoin(c, msg)
	case "startGame":
		g.handleStart(c, msg)
	case "restartGame":
		g.handleRestart(c, msg)
	case "playVideo":
		g.handlePlay(c, msg)
	case "skipVideo":
		g.broadcast(msg.RoomCode, SimpleEvent{Type: "videoSkipped"})
	case "forceReveal":
		g.broadcast(msg.RoomCode, SimpleEvent{Type: "revealVideo"})
	case "sendGuess":
		g.handleSendGuess(c, msg)
	case "validateGuess":
		g.handleValidate(c, msg)
	case "rejectGuess":
		g.broadcast(msg.RoomCode, GuessMessage{
			Type:      "guessRejected",
			Pseudonym: msg.Pseudonym,
			Guess:     msg.Guess,
		})
	case "guessClose":
		g.broadcast(msg.RoomCode, GuessMessage{
			Type:      "guessClose",
			Pseudonym: msg.Pseudonym,
			Guess:     msg.Guess,
		})
	default:
		// ignore unknown types
	}
}

// handleCreate builds a fresh room with the sender as its sole player and
// permanent host.
func (g *Gateway) handleCreate(c *Client, msg ClientMessage) {
	room := g.registry.create()

	room.mu.Lock()
	room.hostConnID = c.id
	room.players = append(room.players, &Player{
		ConnectionID: c.id,
		Pseudonym:    msg.Pseudonym,
		Host:         true,
	})
	code := room.code
	roster := room.rosterLocked()
	room.mu.Unlock()

	g.mu.Lock()
	g.joinChannelLocked(code, c)
	g.mu.Unlock()

	g.unicast(c, RoomCodeMessage{Type: "roomCreated", RoomCode: code})
	g.broadcast(code, PlayersMessage{Type: "updatePlayers", Players: roster})

	logf(g.cfg, "ROOMS: %q created room %s", msg.Pseudonym, code)
}

func (g *Gateway) handleJoin(c *Client, msg ClientMessage) {
	room, ok := g.registry.get(msg.RoomCode)
	if !ok {
		return
	}

	room.mu.Lock()
	room.players = append(room.players, &Player{
		ConnectionID: c.id,
		Pseudonym:    msg.Pseudonym,
	})
	code := room.code
	roster := room.rosterLocked()
	room.mu.Unlock()

	g.mu.Lock()
	g.joinChannelLocked(code, c)
	g.mu.Unlock()

	g.unicast(c, RoomCodeMessage{Type: "roomJoined", RoomCode: code})
	g.broadcast(code, PlayersMessage{Type: "updatePlayers", Players: roster})

	logf(g.cfg, "ROOMS: %q joined room %s", msg.Pseudonym, code)
}

// handleStart arms the win condition. A missing or non-positive limit falls
// back to the default.
func (g *Gateway) handleStart(c *Client, msg ClientMessage) {
	room, ok := g.registry.get(msg.RoomCode)
	if !ok {
		return
	}

	limit := msg.ScoreLimit
	if limit <= 0 {
		limit = defaultScoreLimit
	}

	room.mu.Lock()
	room.scoreLimit = limit
	room.mu.Unlock()

	g.broadcast(msg.RoomCode, SimpleEvent{Type: "gameStarted"})

	logf(g.cfg, "ROOMS: Started room %s with score limit %d", msg.RoomCode, limit)
}

// handleRestart zeroes every score and starts a fresh cycle with the same
// roster and host.
func (g *Gateway) handleRestart(c *Client, msg ClientMessage) {
	room, ok := g.registry.get(msg.RoomCode)
	if !ok {
		return
	}

	room.mu.Lock()
	for _, p := range room.players {
		p.Score = 0
	}
	roster := room.rosterLocked()
	room.mu.Unlock()

	g.broadcast(msg.RoomCode, PlayersMessage{Type: "updatePlayers", Players: roster})
	g.broadcast(msg.RoomCode, SimpleEvent{Type: "gameStarted"})

	logf(g.cfg, "ROOMS: Restarted room %s", msg.RoomCode)
}

func (g *Gateway) handlePlay(c *Client, msg ClientMessage) {
	room, ok := g.registry.get(msg.RoomCode)
	if !ok {
		return
	}

	room.mu.Lock()
	room.startTrackLocked(msg.VideoID)
	room.mu.Unlock()

	g.broadcast(msg.RoomCode, VideoMessage{Type: "playVideo", VideoID: msg.VideoID})
}

// handleSendGuess relays a guess privately to the room's host. With no room
// or no connected host the guess is dropped; the sender is not told.
func (g *Gateway) handleSendGuess(c *Client, msg ClientMessage) {
	room, ok := g.registry.get(msg.RoomCode)
	if !ok {
		logf(g.cfg, "GUESS: Dropped guess for unknown room %s", msg.RoomCode)
		return
	}

	host := g.hostClient(room)
	if host == nil {
		logf(g.cfg, "GUESS: Dropped guess in room %s with no connected host", msg.RoomCode)
		return
	}

	g.unicast(host, GuessMessage{
		Type:      "guessReceived",
		Pseudonym: msg.Pseudonym,
		Guess:     msg.Guess,
	})
}

func (g *Gateway) handleValidate(c *Client, msg ClientMessage) {
	room, ok := g.registry.get(msg.RoomCode)
	if !ok {
		return
	}

	room.mu.Lock()
	result := room.validateLocked(msg.Pseudonym, msg.Category)
	room.mu.Unlock()

	if !result.credited {
		return
	}

	g.broadcast(msg.RoomCode, GuessMessage{
		Type:      "guessValidated",
		Pseudonym: msg.Pseudonym,
		Guess:     msg.Guess,
		Category:  msg.Category,
	})

	if result.reveal {
		g.broadcast(msg.RoomCode, SimpleEvent{Type: "revealVideo"})
	}

	if result.won {
		g.broadcast(msg.RoomCode, EndGameMessage{Type: "endGame", Winners: result.winners})
		logf(g.cfg, "GUESS: Room %s ended, %q reached the score limit", msg.RoomCode, msg.Pseudonym)
	}
}

// disconnect removes a dropped connection from its room's roster. The last
// player to leave takes the room with them; the host role is never handed
// to someone else.
func (g *Gateway) disconnect(c *Client) {
	g.mu.Lock()
	code := c.room
	g.dropLocked(c)
	g.mu.Unlock()

	if code == "" {
		return
	}

	room, ok := g.registry.get(code)
	if !ok {
		return
	}

	room.mu.Lock()
	removed := room.removePlayerLocked(c.id)
	empty := len(room.players) == 0
	roster := room.rosterLocked()
	room.mu.Unlock()

	if !removed {
		return
	}

	if empty {
		g.registry.remove(code)
		logf(g.cfg, "ROOMS: Destroyed empty room %s", code)
		return
	}

	g.broadcast(code, PlayersMessage{Type: "updatePlayers", Players: roster})
}

func (c *Client) readPump(g *Gateway) {
	defer func() {
		g.disconnect(c)
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		g.dispatch(c, msg)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// Websocket handler: one connection per participant, events carry room codes.
func serveWS(cfg *Config, g *Gateway) httprouter.Handle {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return cfg.originAllowed(r.Header.Get("Origin"))
		},
	}

	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn: conn,
			send: make(chan any, 8),
			id:   uuid.NewString(),
		}

		g.register(client)

		go client.writePump()
		client.readPump(g)
	}
}
