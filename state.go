package main

// uiState is the coarse client state driving the update loop. One state is
// active at a time; each has its own prepare and feedback handler.
type uiState int

const (
	stateInit uiState = iota
	stateMainMenu
	stateSettingsMenu
	stateConnectionMenu
	stateLobbySelection
	stateLobby
	stateGameSession
	stateGameEnd
	stateNetRecovery
	stateAlert
)

var uiStateNames = map[uiState]string{
	stateInit:           "INIT",
	stateMainMenu:       "MAIN_MENU",
	stateSettingsMenu:   "SETTINGS_MENU",
	stateConnectionMenu: "CONNECTION_MENU",
	stateLobbySelection: "LOBBY_SELECTION",
	stateLobby:          "LOBBY",
	stateGameSession:    "GAME_SESSION",
	stateGameEnd:        "GAME_END",
	stateNetRecovery:    "NET_RECOVERY",
	stateAlert:          "ALERT",
}

func (s uiState) String() string {
	if name, ok := uiStateNames[s]; ok {
		return name
	}
	return "UNKNOWN_STATE"
}

// networked reports whether the state implies active networking; only then
// is the connection status meaningful.
func (s uiState) networked() bool {
	switch s {
	case stateConnectionMenu, stateLobbySelection, stateLobby, stateGameSession, stateNetRecovery:
		return true
	}
	return false
}

// connStatus is the fine-grained sub-state used while networking operations
// are in flight.
type connStatus int

const (
	statusNotRunning connStatus = iota
	statusConnecting
	statusConnected
	statusConnectedInProgress
	statusFailed
	statusRequestedLobbies
	statusWaitingForLobbies
	statusReceivedLobbies
	statusRequestedLobby
	statusWaitingForPlayers
	statusTryingToJoin
	statusJoinedLobby
	statusLobbyFailed
	statusGameReady
	statusGameSession
	statusWaitingForOpponent
	statusGameSessionContinued
	statusGameSessionReconnected
	statusReconnected
	statusTko
	statusWin
	statusLose
)

var connStatusNames = map[connStatus]string{
	statusNotRunning:             "NOT_RUNNING",
	statusConnecting:             "CONNECTING",
	statusConnected:              "CONNECTED",
	statusConnectedInProgress:    "CONNECTED_IN_PROGRESS",
	statusFailed:                 "FAILED",
	statusRequestedLobbies:       "REQUESTED_LOBBIES",
	statusWaitingForLobbies:      "WAITING_FOR_LOBBIES",
	statusReceivedLobbies:        "RECEIVED_LOBBIES",
	statusRequestedLobby:         "REQUESTED_LOBBY",
	statusWaitingForPlayers:      "WAITING_FOR_PLAYERS",
	statusTryingToJoin:           "TRYING_TO_JOIN",
	statusJoinedLobby:            "JOINED_LOBBY",
	statusLobbyFailed:            "LOBBY_FAILED",
	statusGameReady:              "GAME_READY",
	statusGameSession:            "GAME_SESSION_ACTIVE",
	statusWaitingForOpponent:     "WAITING_FOR_OPPONENT",
	statusGameSessionContinued:   "GAME_SESSION_CONTINUED",
	statusGameSessionReconnected: "GAME_SESSION_RECONNECTED",
	statusReconnected:            "RECONNECTED",
	statusTko:                    "TKO",
	statusWin:                    "WIN",
	statusLose:                   "LOSE",
}

func (c connStatus) String() string {
	if name, ok := connStatusNames[c]; ok {
		return name
	}
	return "UNKNOWN_STATUS"
}

// sessionState pairs the coarse UI state with the connection sub-state.
type sessionState struct {
	ui     uiState
	status connStatus
}
