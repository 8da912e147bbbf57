// Atlas session gateway and HTTP surface.
//
// Players take turns naming a geographic place whose first letter matches the
// last letter of the previous answer. Answers are validated fuzzily against a
// fixed gazetteer, duplicates are rejected, and a per-turn countdown with a
// life pool eliminates players until one remains.
//
// Features:
// - WebSockets per game ID: /atlas/:gameid and /atlas/:gameid/ws
// - Rooms materialize on first join; /create_game only reserves an id
// - First joiner's settings (turn time, lives) become the room config
// - Fuzzy place matching tolerant of minor misspellings
// - Per-turn countdown with broadcast ticks; timeouts cost a life
// - Disconnects forfeit the turn but never cost a life
// - Validation failures sent only to the offending client
// - Games auto-reaped after configurable idle timeout
// - Random 8-char game IDs via crypto/rand, with server-side collision check
// - In-browser QR button to share the current game, backed by go-qrcode

package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Messages coming from clients
type ClientMessage struct {
	Type     string `json:"type"`                // "join", "start_game", "add_location"
	Name     string `json:"name,omitempty"`      // join
	TurnTime int    `json:"turn_time,omitempty"` // join (first joiner only)
	Lives    int    `json:"lives,omitempty"`     // join (first joiner only)
	Location string `json:"location,omitempty"`  // add_location
}

// Outbound message type tags
const (
	msgInitializeGame  = "initialize_game"
	msgUpdateUsers     = "update_users"
	msgUpdateTurn      = "update_turn"
	msgGameStarted     = "game_started"
	msgUpdateLetter    = "update_current_letter"
	msgAddMarker       = "add_marker"
	msgUpdateLocations = "update_locations"
	msgUpdateTimer     = "update_timer"
	msgLocationError   = "location_error"
	msgError           = "error"
	msgEndGame         = "end_game"
)

// PlayerInfo is the client-facing view of one player.
type PlayerInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Lives      int    `json:"lives"`
	Connected  bool   `json:"connected"`
	Eliminated bool   `json:"eliminated"`
}

// Marker is a map pin for an accepted place.
type Marker struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// InitializeMessage is sent privately on connect and on join, so the client
// can render the full room state.
type InitializeMessage struct {
	Type      string       `json:"type"` // "initialize_game"
	PlayerID  string       `json:"player_id"`
	Phase     string       `json:"phase"`
	Letter    string       `json:"letter"`
	Players   []PlayerInfo `json:"players"`
	Locations []string     `json:"locations"`
	Markers   []Marker     `json:"markers"`
	TurnTime  int          `json:"turn_time"`
	Lives     int          `json:"lives"`
	Solo      bool         `json:"solo"`
}

type UsersMessage struct {
	Type    string       `json:"type"` // "update_users"
	Players []PlayerInfo `json:"players"`
}

type TurnMessage struct {
	Type       string `json:"type"` // "update_turn"
	PlayerID   string `json:"player_id,omitempty"`
	PlayerName string `json:"player_name,omitempty"`
}

type GameStartedMessage struct {
	Type       string       `json:"type"` // "game_started"
	Letter     string       `json:"letter"`
	PlayerID   string       `json:"player_id"`
	PlayerName string       `json:"player_name"`
	TurnTime   int          `json:"turn_time"`
	Lives      int          `json:"lives"`
	Solo       bool         `json:"solo"`
	Players    []PlayerInfo `json:"players"`
}

type LetterMessage struct {
	Type   string `json:"type"` // "update_current_letter"
	Letter string `json:"letter"`
}

type MarkerMessage struct {
	Type   string `json:"type"` // "add_marker"
	Marker Marker `json:"marker"`
}

type LocationsMessage struct {
	Type      string   `json:"type"` // "update_locations"
	Locations []string `json:"locations"`
}

type TimerMessage struct {
	Type      string `json:"type"` // "update_timer"
	Remaining int    `json:"remaining"`
}

// ErrorMessage covers both "location_error" (a rejected answer, with a
// machine-readable reason) and generic "error" notifications. Always private.
type ErrorMessage struct {
	Type    string `json:"type"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type EndGameMessage struct {
	Type           string   `json:"type"` // "end_game"
	Reason         string   `json:"reason"`
	Winner         string   `json:"winner,omitempty"`
	TotalLocations int      `json:"total_locations"`
	Solo           bool     `json:"solo"`
	Markers        []Marker `json:"markers"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	playerID string
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func randomGameID(n int) string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	const max = byte(255 - (256 % len(letters)))

	out := make([]byte, 0, n)
	buf := make([]byte, n*2)

	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			panic(err)
		}

		for _, b := range buf {
			if b <= max {
				out = append(out, letters[int(b)%len(letters)])
				if len(out) == n {
					return string(out)
				}
			}
		}
	}

	return string(out)
}

// newPlayerID returns the ephemeral per-connection identity. Each websocket
// gets a fresh one; there is no persistent account or rejoin.
func newPlayerID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		log.Println("rand.Read error:", err)
		return ""
	}

	return hex.EncodeToString(buf)
}

func trimName(name string) string {
	const maxNameLength = 32

	name = strings.TrimSpace(name)
	if len(name) > maxNameLength {
		name = name[:maxNameLength]
	}

	return name
}

// WebSocket handler that picks the room based on :gameid
func serveWSForRegistry(cfg *Config, reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		if gameID == "" {
			http.Error(w, "missing game id", http.StatusBadRequest)
			return
		}

		playerID := newPlayerID()
		if playerID == "" {
			http.Error(w, "unable to assign player id", http.StatusInternalServerError)
			return
		}

		room := reg.getOrCreate(gameID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 8),
			playerID: playerID,
		}

		select {
		case room.register <- client:
		case <-room.done:
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump(room)
	}
}

func (c *Client) readPump(r *Room) {
	defer func() {
		select {
		case r.unreg <- c:
		case <-r.done:
		}
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "join":
			select {
			case r.joins <- joinRequest{client: c, msg: msg}:
			case <-r.done:
				return
			}
		case "start_game":
			select {
			case r.starts <- c:
			case <-r.done:
				return
			}
		case "add_location":
			select {
			case r.submits <- submitRequest{client: c, location: msg.Location}:
			case <-r.done:
				return
			}
		default:
			// ignore unknown types
		}
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

func writeJSON(w http.ResponseWriter, cfg *Config, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	securityHeaders(cfg, w)
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(body)
}

// serveCreateGame hands out a fresh game id. The room itself only comes into
// existence when the first player joins it.
func serveCreateGame(cfg *Config, reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		id := reg.newGameID()

		logf(cfg, "ATLAS: Created game %s for %s", id, realIP(r))

		writeJSON(w, cfg, http.StatusOK, map[string]string{"gameId": id})
	}
}

func serveCheckRoom(cfg *Config, reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		_, exists := reg.lookup(ps.ByName("gameid"))

		writeJSON(w, cfg, http.StatusOK, map[string]bool{"exists": exists})
	}
}

// serveValidateLocation exposes the matcher for client-side pre-validation.
// Acceptance is only ever decided by the room's add_location path; this
// endpoint holds no game state.
func serveValidateLocation(cfg *Config, matcher *Matcher) httprouter.Handle {
	type request struct {
		Location string `json:"location"`
	}
	type response struct {
		Valid bool    `json:"valid"`
		Name  string  `json:"name,omitempty"`
		Score float64 `json:"score"`
	}

	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, cfg, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}

		place, score, ok := matcher.Lookup(req.Location)

		resp := response{Valid: ok, Score: score}
		if ok {
			resp.Name = place.Name
		}

		writeJSON(w, cfg, http.StatusOK, resp)
	}
}

// QR handler: generates a PNG QR code for the current game URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	gameID := ps.ByName("gameid")
	if gameID == "" {
		http.Error(w, "missing game id", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /atlas/:gameid/qr; strip trailing "/qr" to get the game URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// redirectNewGame handles GET /atlas by generating a new random game ID
// (with server-side collision detection) and redirecting to /atlas/:gameid.
func redirectNewGame(cfg *Config, path string, reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		gameID := reg.newGameID()
		logf(cfg, "ATLAS: Created game %s/%s", path, gameID)
		http.Redirect(w, r, path+"/"+gameID, http.StatusTemporaryRedirect)
	}
}

// registerAtlasGame sets up routes so that:
//   - $path                  → redirects to new random game (8-char ID)
//   - $path/:gameid          → HTML client
//   - $path/:gameid/ws       → WebSocket for that game
//   - $path/:gameid/qr       → PNG QR code for that game URL
//   - /create_game           → JSON {"gameId": ...}
//   - /check-room/:gameid    → JSON {"exists": ...}
//   - /validate_location     → matcher pre-validation (POST)
func registerAtlasGame(cfg *Config, path string, mux *httprouter.Router, reg *Registry) {
	// Root path → redirect to new random game
	mux.GET(cfg.prefix+path, redirectNewGame(cfg, cfg.prefix+path, reg))

	// Per-game client view (HTML)
	mux.GET(cfg.prefix+path+"/:gameid", getIndexHandler(cfg))

	// Shared assets (no gameid in route)
	mux.GET(cfg.prefix+"/assets/atlas/app.css", getCssHandler(cfg))
	mux.GET(cfg.prefix+"/assets/atlas/app.js", getJsHandler(cfg))

	// Per-game websocket
	mux.GET(cfg.prefix+path+"/:gameid/ws", serveWSForRegistry(cfg, reg))

	// Per-game QR code
	mux.GET(cfg.prefix+path+"/:gameid/qr", qrHandler)

	// Room lifecycle API
	mux.GET(cfg.prefix+"/create_game", serveCreateGame(cfg, reg))
	mux.GET(cfg.prefix+"/check-room/:gameid", serveCheckRoom(cfg, reg))
	mux.POST(cfg.prefix+"/validate_location", serveValidateLocation(cfg, reg.matcher))
}
