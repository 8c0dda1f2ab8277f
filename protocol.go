package main

import "encoding/json"

// Client -> Server message types
const (
	MsgJoinGame    = "joinGame"
	MsgPlayerInput = "playerInput"
	MsgPlayerShoot = "playerShoot"
	MsgLeave       = "leave"
	MsgRegister    = "register"
	MsgLogin       = "login"
	MsgAuth        = "auth" // resume with a previously issued token
	MsgProfile     = "profile"
)

// Server -> Client message types
const (
	MsgJoinedGame        = "joinedGame"
	MsgJoinFailed        = "joinFailed"
	MsgGameState         = "gameState"       // full snapshot, sent once on admission
	MsgGameStateUpdate   = "gameStateUpdate" // periodic full snapshot while playing
	MsgPlayerJoined      = "playerJoined"
	MsgPlayerLeft        = "playerLeft"
	MsgGameStarted       = "gameStarted"
	MsgProjectileCreated = "projectileCreated"
	MsgPlayerKilled      = "playerKilled"
	MsgGameEnded         = "gameEnded"
	MsgGameReset         = "gameReset"
	MsgError             = "error"
	MsgAuthOK            = "authOk"
	MsgProfileData       = "profileData"
)

// Envelope wraps all outgoing messages with a type field
type Envelope struct {
	T    string      `json:"t"`
	Data interface{} `json:"d,omitempty"`
}

// InEnvelope is used for incoming messages; json.RawMessage avoids double-unmarshal
type InEnvelope struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d,omitempty"`
}

// JoinGameMsg is sent when a player wants to enter a room
type JoinGameMsg struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// InputMsg carries the latest movement state. Last write wins; the
// simulation samples it on the next tick.
type InputMsg struct {
	DX       float64 `json:"dx"`
	DY       float64 `json:"dy"`
	Shooting bool    `json:"shooting"`
	Boosting bool    `json:"boosting"`
}

// JoinedGameMsg confirms room admission
type JoinedGameMsg struct {
	RoomID   string `json:"roomId"`
	PlayerID string `json:"playerId"`
}

// JoinFailedMsg reports a rejected join
type JoinFailedMsg struct {
	Reason string `json:"reason"`
}

// PlayerState is the serialized form of one player
type PlayerState struct {
	ID        string  `json:"id" msgpack:"id"`
	Name      string  `json:"name" msgpack:"name"`
	Color     string  `json:"color" msgpack:"color"`
	X         float64 `json:"x" msgpack:"x"`
	Y         float64 `json:"y" msgpack:"y"`
	GridX     int     `json:"gridX" msgpack:"gridX"`
	GridY     int     `json:"gridY" msgpack:"gridY"`
	Territory []Cell  `json:"territory" msgpack:"territory"`
	Trail     []Cell  `json:"trail" msgpack:"trail"`
	Kills     int     `json:"kills" msgpack:"kills"`
	Alive     bool    `json:"alive" msgpack:"alive"`
	Boosting  bool    `json:"boosting" msgpack:"boosting"`
}

// ProjectileState is the serialized form of one projectile
type ProjectileState struct {
	ID    string  `json:"id" msgpack:"id"`
	X     float64 `json:"x" msgpack:"x"`
	Y     float64 `json:"y" msgpack:"y"`
	DX    float64 `json:"dx" msgpack:"dx"`
	DY    float64 `json:"dy" msgpack:"dy"`
	Owner string  `json:"owner" msgpack:"owner"`
	Life  int64   `json:"life" msgpack:"life"` // remaining ms
}

// GameSnapshot is the full room state pushed to every connection.
// Deliberately a full push, not a delta.
type GameSnapshot struct {
	Players     []PlayerState     `json:"players" msgpack:"players"`
	Projectiles []ProjectileState `json:"projectiles" msgpack:"projectiles"`
	GameState   string            `json:"gameState" msgpack:"gameState"`
	GameTime    int64             `json:"gameTime" msgpack:"gameTime"` // elapsed ms, 0 outside Playing
}

// statePush is the msgpack frame carrying snapshots over the binary channel
type statePush struct {
	T     string       `msgpack:"t"`
	State GameSnapshot `msgpack:"d"`
}

// PlayerJoinedMsg is broadcast when a player enters the room
type PlayerJoinedMsg struct {
	Player       PlayerState `json:"player"`
	TotalPlayers int         `json:"totalPlayers"`
}

// PlayerLeftMsg is broadcast when a player disconnects
type PlayerLeftMsg struct {
	PlayerID     string `json:"playerId"`
	TotalPlayers int    `json:"totalPlayers"`
}

// GameStartedMsg is broadcast on the Lobby -> Playing transition
type GameStartedMsg struct {
	Duration  int64 `json:"duration"`  // match duration ms
	StartTime int64 `json:"startTime"` // unix ms
}

// PlayerKilledMsg is broadcast on every kill
type PlayerKilledMsg struct {
	Victim string `json:"victim"`
	Killer string `json:"killer,omitempty"`
}

// ResultEntry is one row of the final standings
type ResultEntry struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	TerritoryPercent string `json:"territoryPercent"` // one decimal place
	Kills            int    `json:"kills"`
	Alive            bool   `json:"alive"`
}

// GameEndedMsg is broadcast on the Playing -> Finished transition.
// Winner is empty when the match ended without one (timeout, forced end).
type GameEndedMsg struct {
	Winner   string        `json:"winner"`
	Results  []ResultEntry `json:"results"`
	Duration int64         `json:"duration"` // ms
}

// ErrorMsg sends an error to the client
type ErrorMsg struct {
	Msg string `json:"msg"`
}

// RegisterMsg creates an account
type RegisterMsg struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginMsg authenticates an account
type LoginMsg struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthMsg resumes a session from a token
type AuthMsg struct {
	Token string `json:"token"`
}

// AuthOKMsg confirms register/login/auth
type AuthOKMsg struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	PlayerID int64  `json:"playerId"`
}

// ProfileDataMsg returns account stats
type ProfileDataMsg struct {
	Username string `json:"username"`
	Kills    int    `json:"kills"`
	Deaths   int    `json:"deaths"`
	Wins     int    `json:"wins"`
	Losses   int    `json:"losses"`
	Matches  int    `json:"matches"`
	BestArea float64 `json:"bestArea"` // best territory percentage
}
