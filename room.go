// Atlas game room state machine.
//
// Every mutation of a room happens inside that room's run loop, which consumes
// one event at a time from its channels. Joins, starts, submissions, timer
// ticks, and disconnects for a single room are therefore totally ordered;
// different rooms run their loops independently. The registry mutex covers
// only the room map, never gameplay.

package main

import (
	"fmt"
	"sync"
	"time"
)

type gamePhase int

const (
	phaseLobby gamePhase = iota
	phaseInProgress
	phaseEnded
)

func (p gamePhase) String() string {
	switch p {
	case phaseLobby:
		return "lobby"
	case phaseInProgress:
		return "in_progress"
	default:
		return "ended"
	}
}

// Bounds applied to the first joiner's requested settings.
const (
	minTurnSeconds = 5
	maxTurnSeconds = 300
	minLives       = 1
	maxLives       = 10
)

// GameConfig is fixed by the first joiner and immutable afterward.
type GameConfig struct {
	TurnSeconds int
	Lives       int
}

// GamePlayer is owned by its room and only touched from the room's run loop.
// A player whose lives reach zero is eliminated but stays in the slice, so
// turn-order arithmetic and history attribution survive eliminations.
type GamePlayer struct {
	ID        string
	Name      string
	Lives     int
	Connected bool
}

func (p *GamePlayer) eligible() bool {
	return p.Connected && p.Lives > 0
}

type joinRequest struct {
	client *Client
	msg    ClientMessage
}

type submitRequest struct {
	client   *Client
	location string
}

type Room struct {
	id       string
	cfg      *Config
	matcher  *Matcher
	registry *Registry

	clients map[*Client]bool

	players       []*GamePlayer
	turnIndex     int
	currentLetter byte
	history       []string
	markers       []Marker
	guessed       map[string]bool
	phase         gamePhase
	config        GameConfig
	isSolo        bool

	timerGen    int
	timerStop   chan struct{}
	timerEvents chan timerEvent

	register chan *Client
	unreg    chan *Client
	joins    chan joinRequest
	starts   chan *Client
	submits  chan submitRequest
	stopc    chan struct{}
	done     chan struct{}

	mu         sync.RWMutex
	createdAt  time.Time
	lastActive time.Time
}

func newRoom(id string, cfg *Config, matcher *Matcher, registry *Registry) *Room {
	now := time.Now()

	return &Room{
		id:       id,
		cfg:      cfg,
		matcher:  matcher,
		registry: registry,

		clients: make(map[*Client]bool),
		guessed: make(map[string]bool),
		phase:   phaseLobby,
		config: GameConfig{
			TurnSeconds: cfg.turnTime,
			Lives:       cfg.lives,
		},
		currentLetter: startingLetter,

		timerEvents: make(chan timerEvent, 8),

		register: make(chan *Client),
		unreg:    make(chan *Client),
		joins:    make(chan joinRequest),
		starts:   make(chan *Client),
		submits:  make(chan submitRequest),
		stopc:    make(chan struct{}),
		done:     make(chan struct{}),

		createdAt:  now,
		lastActive: now,
	}
}

// startingLetter opens every game; the first answer must begin with it.
const startingLetter = 'A'

func (r *Room) run() {
	defer close(r.done)

	for {
		select {
		case c := <-r.register:
			r.handleRegister(c)
		case c := <-r.unreg:
			r.handleUnregister(c)
		case jr := <-r.joins:
			r.handleJoin(jr)
		case c := <-r.starts:
			r.handleStart(c)
		case sr := <-r.submits:
			r.handleSubmit(sr)
		case ev := <-r.timerEvents:
			r.handleTimer(ev)
		case <-r.stopc:
			r.closeAll()
			return
		}

		// Once the game has ended and the last socket has drained, the
		// room's loop has nothing left to serialize.
		if r.phase == phaseEnded && len(r.clients) == 0 {
			return
		}
	}
}

func (r *Room) touch() {
	r.mu.Lock()
	r.lastActive = time.Now()
	r.mu.Unlock()
}

func (r *Room) idle(cutoff time.Time) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.lastActive.Before(cutoff)
}

// broadcast delivers msg to every connected socket. A client whose send
// buffer is full is dropped, the same way the write pump would drop it.
func (r *Room) broadcast(msg any) {
	for client := range r.clients {
		select {
		case client.send <- msg:
		default:
			delete(r.clients, client)
			close(client.send)
		}
	}
}

// sendTo delivers msg to one client only. Validation failures and join errors
// are always private; they never reach the rest of the room.
func (r *Room) sendTo(c *Client, msg any) {
	if !r.clients[c] {
		return
	}

	select {
	case c.send <- msg:
	default:
		delete(r.clients, c)
		close(c.send)
	}
}

func (r *Room) playerByID(id string) *GamePlayer {
	for _, p := range r.players {
		if p.ID == id {
			return p
		}
	}

	return nil
}

func (r *Room) currentPlayer() *GamePlayer {
	if len(r.players) == 0 {
		return nil
	}

	return r.players[r.turnIndex]
}

// advanceTurn moves turnIndex to the next connected, non-eliminated player
// after the current one, wrapping around. Returns false if nobody qualifies.
func (r *Room) advanceTurn() bool {
	n := len(r.players)

	for i := 1; i <= n; i++ {
		next := (r.turnIndex + i) % n
		if r.players[next].eligible() {
			r.turnIndex = next
			return true
		}
	}

	return false
}

// ensureEligibleTurn keeps turnIndex where it is if the holder can still
// play, otherwise advances. Used at game start, when the first joiner may
// have disconnected during the lobby.
func (r *Room) ensureEligibleTurn() bool {
	if cur := r.currentPlayer(); cur != nil && cur.eligible() {
		return true
	}

	return r.advanceTurn()
}

func (r *Room) eligibleCount() int {
	count := 0
	for _, p := range r.players {
		if p.eligible() {
			count++
		}
	}

	return count
}

func (r *Room) lastEligible() *GamePlayer {
	for _, p := range r.players {
		if p.eligible() {
			return p
		}
	}

	return nil
}

func (r *Room) playerInfos() []PlayerInfo {
	infos := make([]PlayerInfo, 0, len(r.players))
	for _, p := range r.players {
		infos = append(infos, PlayerInfo{
			ID:         p.ID,
			Name:       p.Name,
			Lives:      p.Lives,
			Connected:  p.Connected,
			Eliminated: p.Lives == 0,
		})
	}

	return infos
}

func (r *Room) usersMessage() UsersMessage {
	return UsersMessage{Type: msgUpdateUsers, Players: r.playerInfos()}
}

func (r *Room) turnMessage() TurnMessage {
	msg := TurnMessage{Type: msgUpdateTurn}
	if cur := r.currentPlayer(); cur != nil {
		msg.PlayerID = cur.ID
		msg.PlayerName = cur.Name
	}

	return msg
}

func (r *Room) snapshot(c *Client) InitializeMessage {
	return InitializeMessage{
		Type:      msgInitializeGame,
		PlayerID:  c.playerID,
		Phase:     r.phase.String(),
		Letter:    string(r.currentLetter),
		Players:   r.playerInfos(),
		Locations: append([]string(nil), r.history...),
		Markers:   append([]Marker(nil), r.markers...),
		TurnTime:  r.config.TurnSeconds,
		Lives:     r.config.Lives,
		Solo:      r.isSolo,
	}
}

// handleRegister admits a new socket and sends it the current room snapshot.
// The connection only becomes a player once its join message is processed.
func (r *Room) handleRegister(c *Client) {
	r.touch()

	r.clients[c] = true
	r.sendTo(c, r.snapshot(c))
}

// handleJoin turns a registered socket into a player. The first joiner's
// requested settings, clamped to sane bounds, become the room config.
func (r *Room) handleJoin(jr joinRequest) {
	r.touch()

	c := jr.client
	name := trimName(jr.msg.Name)

	if name == "" || c.playerID == "" {
		return
	}

	if r.phase != phaseLobby {
		r.sendTo(c, errorMessage(reasonRoomStarted))
		return
	}

	if r.playerByID(c.playerID) != nil {
		// Duplicate join from the same socket; nothing to do.
		return
	}

	if len(r.players) == 0 {
		r.applyRequestedConfig(c, jr.msg)
	}

	r.players = append(r.players, &GamePlayer{
		ID:        c.playerID,
		Name:      name,
		Lives:     r.config.Lives,
		Connected: true,
	})

	if len(r.players) == 1 {
		r.turnIndex = 0
	}

	logf(r.cfg, "ATLAS: Player %q joined %s", name, r.id)

	r.sendTo(c, r.snapshot(c))
	r.broadcast(r.usersMessage())
	r.broadcast(r.turnMessage())
}

// applyRequestedConfig fixes the room config from the first joiner's message.
// Out-of-range values are clamped and reported privately, rather than
// rejecting the join outright.
func (r *Room) applyRequestedConfig(c *Client, msg ClientMessage) {
	clamped := false

	if msg.TurnTime != 0 {
		turn := msg.TurnTime
		if turn < minTurnSeconds {
			turn = minTurnSeconds
			clamped = true
		} else if turn > maxTurnSeconds {
			turn = maxTurnSeconds
			clamped = true
		}
		r.config.TurnSeconds = turn
	}

	if msg.Lives != 0 {
		lives := msg.Lives
		if lives < minLives {
			lives = minLives
			clamped = true
		} else if lives > maxLives {
			lives = maxLives
			clamped = true
		}
		r.config.Lives = lives
	}

	if clamped {
		r.sendTo(c, errorMessage(reasonInvalidConfig))
	}
}

// handleStart moves the room from lobby to in-progress. Any current member
// may press start.
func (r *Room) handleStart(c *Client) {
	r.touch()

	if r.phase != phaseLobby {
		r.sendTo(c, errorMessage(reasonAlreadyStarted))
		return
	}

	if r.playerByID(c.playerID) == nil {
		// Only players get to start the game; a spectator socket is ignored.
		return
	}

	if !r.ensureEligibleTurn() {
		return
	}

	r.phase = phaseInProgress
	r.isSolo = len(r.players) == 1
	r.currentLetter = startingLetter

	logf(r.cfg, "ATLAS: Game %s started with %d players (solo: %t)", r.id, len(r.players), r.isSolo)

	cur := r.currentPlayer()
	r.broadcast(GameStartedMessage{
		Type:       msgGameStarted,
		Letter:     string(r.currentLetter),
		PlayerID:   cur.ID,
		PlayerName: cur.Name,
		TurnTime:   r.config.TurnSeconds,
		Lives:      r.config.Lives,
		Solo:       r.isSolo,
		Players:    r.playerInfos(),
	})

	r.startTurnTimer()
}

// handleSubmit validates one answer from the current turn holder. Rejected
// answers never mutate room state and never consume the turn; the submitter
// may retry until the countdown expires.
func (r *Room) handleSubmit(sr submitRequest) {
	r.touch()

	if r.phase != phaseInProgress {
		return
	}

	c := sr.client

	cur := r.currentPlayer()
	if cur == nil || cur.ID != c.playerID {
		// A stale message racing a turn change; the turn already moved on,
		// so this is dropped rather than surfaced.
		return
	}

	place, _, ok := r.matcher.Lookup(sr.location)
	if !ok {
		r.sendTo(c, locationError(reasonNotFound,
			fmt.Sprintf("%q doesn't match any place we know.", sr.location)))
		return
	}

	// The duplicate check precedes the letter check, so renaming an already
	// accepted place always reports the repeat rather than a letter mismatch.
	if r.guessed[place.Key] {
		r.sendTo(c, locationError(reasonAlreadyGuessed,
			fmt.Sprintf("%q has already been named in this game.", place.Name)))
		return
	}

	first, ok := firstLetter(normalizePlace(sr.location))
	if !ok || first != r.currentLetter {
		r.sendTo(c, locationError(reasonWrongLetter,
			fmt.Sprintf("Your answer must start with the letter %q.", string(r.currentLetter))))
		return
	}

	r.guessed[place.Key] = true
	r.history = append(r.history, place.Name)

	marker := Marker{
		Name:      place.Name,
		Latitude:  place.Latitude,
		Longitude: place.Longitude,
	}
	r.markers = append(r.markers, marker)

	if next, ok := lastLetter(place.Key); ok {
		r.currentLetter = next
	}

	r.cancelTurnTimer()
	r.advanceTurn()

	logf(r.cfg, "ATLAS: %q accepted %q in %s, next letter %q", cur.Name, place.Name, r.id, string(r.currentLetter))

	r.broadcast(LetterMessage{Type: msgUpdateLetter, Letter: string(r.currentLetter)})
	r.broadcast(MarkerMessage{Type: msgAddMarker, Marker: marker})
	r.broadcast(LocationsMessage{Type: msgUpdateLocations, Locations: append([]string(nil), r.history...)})
	r.broadcast(r.turnMessage())

	r.startTurnTimer()
}

// handleTimer processes countdown ticks and expiries. Events from a canceled
// generation are dropped: whichever of answer and expiry was sequenced first
// in this loop wins exclusively.
func (r *Room) handleTimer(ev timerEvent) {
	if ev.gen != r.timerGen || r.phase != phaseInProgress {
		return
	}

	if !ev.expired {
		r.broadcast(TimerMessage{Type: msgUpdateTimer, Remaining: ev.remaining})
		return
	}

	// The countdown goroutine exits after sending its expiry.
	r.timerStop = nil

	cur := r.currentPlayer()
	if cur == nil {
		return
	}

	cur.Lives--
	r.touch()

	logf(r.cfg, "ATLAS: %q ran out of time in %s, %d lives left", cur.Name, r.id, cur.Lives)

	r.broadcast(r.usersMessage())

	if cur.Lives > 0 {
		r.advanceTurn()
		r.broadcast(r.turnMessage())
		r.startTurnTimer()
		return
	}

	if r.isSolo {
		r.endGame("Out of lives!", nil)
		return
	}

	if r.eligibleCount() <= 1 {
		r.endGame("Last player standing!", r.lastEligible())
		return
	}

	r.advanceTurn()
	r.broadcast(r.turnMessage())
	r.startTurnTimer()
}

// handleUnregister processes a dropped socket. The player stays in the slice,
// marked disconnected; a disconnect forfeits the turn but never costs a life.
func (r *Room) handleUnregister(c *Client) {
	r.touch()

	if _, ok := r.clients[c]; ok {
		delete(r.clients, c)
		close(c.send)
	}

	p := r.playerByID(c.playerID)
	if p == nil || !p.Connected {
		return
	}

	p.Connected = false

	logf(r.cfg, "ATLAS: Player %q disconnected from %s", p.Name, r.id)

	if r.phase != phaseInProgress {
		r.broadcast(r.usersMessage())
		r.broadcast(r.turnMessage())
		return
	}

	wasCurrent := r.currentPlayer() != nil && r.currentPlayer().ID == p.ID

	remaining := r.eligibleCount()

	switch {
	case remaining == 0:
		r.endGame("No players left!", nil)
	case !r.isSolo && remaining == 1:
		r.endGame("Last player standing!", r.lastEligible())
	default:
		if wasCurrent {
			r.cancelTurnTimer()
			r.advanceTurn()
			r.startTurnTimer()
		}
		r.broadcast(r.usersMessage())
		r.broadcast(r.turnMessage())
	}
}

// endGame finishes the room: final broadcast, registry removal, and socket
// teardown. The run loop exits once the last socket drains.
func (r *Room) endGame(reason string, winner *GamePlayer) {
	r.phase = phaseEnded
	r.cancelTurnTimer()

	msg := EndGameMessage{
		Type:           msgEndGame,
		Reason:         reason,
		TotalLocations: len(r.history),
		Solo:           r.isSolo,
		Markers:        append([]Marker(nil), r.markers...),
	}
	if winner != nil {
		msg.Winner = winner.Name
	}

	r.broadcast(msg)

	logf(r.cfg, "ATLAS: Game %s ended (%s), %d locations named", r.id, reason, len(r.history))

	if r.registry != nil {
		r.registry.remove(r.id)
	}

	for client := range r.clients {
		close(client.send)
		delete(r.clients, client)
	}
}

// closeAll disconnects every socket of this room (used by the reaper).
func (r *Room) closeAll() {
	r.cancelTurnTimer()

	for c := range r.clients {
		close(c.send)
		if c.conn != nil {
			_ = c.conn.Close()
		}
		delete(r.clients, c)
	}
}

// Registry is the process-wide room table. Its mutex only guards the map;
// rooms serialize their own gameplay.
type Registry struct {
	mu      sync.Mutex
	rooms   map[string]*Room
	cfg     *Config
	matcher *Matcher
}

func newRegistry(cfg *Config, matcher *Matcher) *Registry {
	reg := &Registry{
		rooms:   make(map[string]*Room),
		cfg:     cfg,
		matcher: matcher,
	}

	if cfg.sessionTimeout > 0 {
		go reg.reaperLoop()
	}

	return reg
}

// getOrCreate materializes a room on first join to its id.
func (reg *Registry) getOrCreate(gameID string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if room, ok := reg.rooms[gameID]; ok {
		return room
	}

	room := newRoom(gameID, reg.cfg, reg.matcher, reg)
	reg.rooms[gameID] = room
	go room.run()

	return room
}

func (reg *Registry) lookup(gameID string) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[gameID]

	return room, ok
}

func (reg *Registry) remove(gameID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	delete(reg.rooms, gameID)
}

// newGameID generates a crypto-random game ID that doesn't collide with any
// live room. Reserving an id does not materialize the room; that only happens
// on first join.
func (reg *Registry) newGameID() string {
	for {
		id := randomGameID(8)

		reg.mu.Lock()
		_, exists := reg.rooms[id]
		reg.mu.Unlock()

		if !exists {
			return id
		}
	}
}

// reaperLoop periodically stops rooms that have been idle longer than the
// configured session timeout.
func (reg *Registry) reaperLoop() {
	ticker := time.NewTicker(reg.cfg.sessionTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-reg.cfg.sessionTimeout)

		reg.mu.Lock()
		for id, room := range reg.rooms {
			if room.idle(cutoff) {
				delete(reg.rooms, id)
				close(room.stopc)
			}
		}
		reg.mu.Unlock()
	}
}
