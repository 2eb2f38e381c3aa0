package main

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// pendingUpdates carries data from the network worker to the UI thread. The
// worker fills fields under the session lock and raises the updated flag; the
// UI copies everything out on its next tick.
type pendingUpdates struct {
	board           [][]int
	playerName      string
	hasPlayerName   bool
	playerOnTurn    string
	hasPlayerOnTurn bool
	opponentName    string
	hasOpponent     bool
	lastAction      string
	hasLastAction   bool
	score           int
	hasScore        bool
}

// netWorker is the single-slot handle of the one background network worker.
// Its stop channel unwinds the worker cooperatively; done is closed when the
// worker function returns.
type netWorker struct {
	name     string
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (w *netWorker) signalStop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// game is the client state machine and concurrency coordinator. The UI loop
// calls update once per tick; at most one background worker runs at a time.
// sessionMu guards the state and all shared session data, viewMu guards the
// active view. Neither lock is ever held across a blocking network call, and
// they are never held together.
type game struct {
	ctx context.Context

	sessionMu  sync.Mutex
	state      sessionState
	playerName string
	serverHost string
	serverPort int
	cfg        UserConfig

	lobbies        []string
	myLobby        string
	chosenLobby    string
	startingBoard  [][]int
	startingPlayer string
	opponentName   string
	score          int
	lastEndScore   int
	updates        pendingUpdates
	updated        bool
	storedState    *sessionState
	storedView     *boardView

	viewMu sync.Mutex
	view   view

	sess    *session
	worker  *netWorker
	actions chan [2]int

	dump          *netDump
	discord       bool
	lastUIState   uiState
	recoveryUntil time.Time

	alertMsg  string
	alertNext uiState
}

func newGame(ctx context.Context, dump *netDump) *game {
	return &game{
		ctx:         ctx,
		dump:        dump,
		state:       sessionState{ui: stateInit, status: statusNotRunning},
		lastUIState: stateInit,
	}
}

func (g *game) snapshotState() sessionState {
	g.sessionMu.Lock()
	defer g.sessionMu.Unlock()
	return g.state
}

func (g *game) setStatus(status connStatus) {
	g.sessionMu.Lock()
	g.state.status = status
	g.sessionMu.Unlock()
}

func (g *game) setState(ui uiState, status connStatus) {
	g.sessionMu.Lock()
	g.state = sessionState{ui: ui, status: status}
	g.sessionMu.Unlock()
}

func (g *game) player() string {
	g.sessionMu.Lock()
	defer g.sessionMu.Unlock()
	return g.playerName
}

func (g *game) currentView() view {
	g.viewMu.Lock()
	defer g.viewMu.Unlock()
	return g.view
}

func (g *game) setView(v view) {
	g.viewMu.Lock()
	g.view = v
	g.viewMu.Unlock()
}

func (g *game) clearView() {
	g.setView(nil)
}

// handleView feeds this tick's input to the active view.
func (g *game) handleView(in inputState) (viewResult, bool) {
	g.viewMu.Lock()
	defer g.viewMu.Unlock()
	if g.view == nil {
		return viewResult{}, false
	}
	return g.view.handleInput(in), true
}

// takeBoardView returns the active view if it is the in-game board.
func (g *game) takeBoardView() *boardView {
	g.viewMu.Lock()
	defer g.viewMu.Unlock()
	if bv, ok := g.view.(*boardView); ok {
		return bv
	}
	return nil
}

// spawnWorker starts the background worker. The handle is a single slot:
// starting a new worker while one is still held is a bug, so the stale one
// is joined first rather than leaked.
func (g *game) spawnWorker(name string, fn func(stop <-chan struct{})) {
	if g.worker != nil {
		logError("worker %v spawned while %v still held; joining first", name, g.worker.name)
		g.stopWorker()
	}
	w := &netWorker{name: name, stop: make(chan struct{}), done: make(chan struct{})}
	g.worker = w
	go func() {
		logDebug("%v worker started", name)
		fn(w.stop)
		close(w.done)
		logDebug("%v worker stopped", name)
	}()
}

// stopWorker signals the worker to stop and waits for it to unwind. Only the
// UI thread calls this.
func (g *game) stopWorker() {
	w := g.worker
	if w == nil {
		return
	}
	w.signalStop()
	<-w.done
	g.worker = nil
}

// awaitWorker joins a worker that already announced completion through a
// status transition.
func (g *game) awaitWorker() {
	w := g.worker
	if w == nil {
		return
	}
	<-w.done
	g.worker = nil
}

// transitionToNetRecovery captures the state to resume after a reconnect and
// moves the machine into recovery. Called from workers on transport failure.
func (g *game) transitionToNetRecovery(stored sessionState) {
	g.sessionMu.Lock()
	s := stored
	g.storedState = &s
	g.state = sessionState{ui: stateNetRecovery, status: statusConnecting}
	g.sessionMu.Unlock()
	g.clearView()
}

// storeGameView stashes the in-game view so a reconnect restores the exact
// board the player was looking at.
func (g *game) storeGameView() {
	bv := g.takeBoardView()
	if bv == nil {
		return
	}
	g.sessionMu.Lock()
	g.storedView = bv
	g.sessionMu.Unlock()
}

func (g *game) showAlert(msg string, next uiState) {
	g.sessionMu.Lock()
	g.alertMsg = msg
	g.alertNext = next
	g.state.ui = stateAlert
	g.sessionMu.Unlock()
	g.clearView()
}

func (g *game) toMainMenu() {
	g.setState(stateMainMenu, statusNotRunning)
	g.clearView()
}

// connectionCleanup tears down the connection and clears all shared session
// data so nothing leaks into the next session. Runs when the main menu is
// entered.
func (g *game) connectionCleanup() {
	g.stopWorker()
	if g.sess != nil {
		g.sess.stop()
		g.sess = nil
	}
	g.sessionMu.Lock()
	g.lobbies = nil
	g.myLobby = ""
	g.chosenLobby = ""
	g.startingBoard = nil
	g.startingPlayer = ""
	g.opponentName = ""
	g.score = 0
	g.lastEndScore = 0
	g.updates = pendingUpdates{}
	g.updated = false
	g.storedState = nil
	g.storedView = nil
	g.state.status = statusNotRunning
	g.sessionMu.Unlock()
	g.actions = nil
}

// update advances the state machine by one tick. Returns true when the
// player asked to quit.
func (g *game) update(in inputState) bool {
	exit := false
	switch g.snapshotState().ui {
	case stateInit:
		g.updateInit(in)
	case stateMainMenu:
		exit = g.updateMainMenu(in)
	case stateSettingsMenu:
		g.updateSettingsMenu(in)
	case stateConnectionMenu:
		g.updateConnectionMenu(in)
	case stateLobbySelection:
		g.updateLobbySelection(in)
	case stateLobby:
		g.updateLobby(in)
	case stateGameSession:
		g.updateGameSession(in)
	case stateGameEnd:
		g.updateGameEnd(in)
	case stateNetRecovery:
		g.updateNetRecovery(in)
	case stateAlert:
		g.updateAlert(in)
	default:
		logError("unknown state %v", g.snapshotState().ui)
	}

	if cur := g.snapshotState().ui; cur != g.lastUIState {
		logDebug("state changed: %v -> %v", g.lastUIState, cur)
		if g.discord {
			updateDiscordPresence(cur)
		}
		g.lastUIState = cur
	}
	return exit
}

func (g *game) updateInit(in inputState) {
	if g.currentView() == nil {
		g.setView(&inputMenu{label: "Enter your nickname:"})
	}
	res, ok := g.handleView(in)
	if !ok || !res.submit {
		return
	}
	name := normalizeNickname(res.text)
	if !validNickname(name) {
		g.showAlert("That nickname cannot be used.\nPress Enter to try again.", stateInit)
		return
	}
	cfg, err := loadUserConfig(name)
	if err != nil {
		logError("load user config: %v", err)
		g.showAlert("Could not read your player configuration.\nPress Enter to try again.", stateInit)
		return
	}
	host, port, err := splitServerAddress(cfg.ServerAddress)
	if err != nil {
		logError("user config server address: %v", err)
		g.showAlert("Your configured server address is invalid.\nPress Enter to try again.", stateInit)
		return
	}
	g.sessionMu.Lock()
	g.playerName = name
	g.cfg = cfg
	g.serverHost = host
	g.serverPort = port
	g.state.ui = stateMainMenu
	g.sessionMu.Unlock()
	g.clearView()
	logDebug("player %v, server %v:%d", name, host, port)
}

func (g *game) updateMainMenu(in inputState) bool {
	if g.currentView() == nil {
		g.connectionCleanup()
		g.setView(&selectMenu{
			title:   "Inverse Battleships",
			options: []string{"Play", "Settings", "Exit"},
		})
	}
	res, ok := g.handleView(in)
	if !ok || !res.submit {
		return false
	}
	switch res.choice {
	case 0:
		g.setState(stateConnectionMenu, statusNotRunning)
	case 1:
		g.sessionMu.Lock()
		g.state.ui = stateSettingsMenu
		g.sessionMu.Unlock()
	case 2:
		return true
	}
	g.clearView()
	return false
}

func (g *game) updateSettingsMenu(in inputState) {
	if g.currentView() == nil {
		g.sessionMu.Lock()
		address := g.cfg.ServerAddress
		g.sessionMu.Unlock()
		g.setView(&inputMenu{label: "Server address (host:port):", text: address})
	}
	res, ok := g.handleView(in)
	if !ok {
		return
	}
	switch {
	case res.submit:
		if !validServerAddress(res.text) {
			g.viewMu.Lock()
			if m, ok := g.view.(*inputMenu); ok {
				m.invalid = true
			}
			g.viewMu.Unlock()
			return
		}
		host, port, err := splitServerAddress(res.text)
		if err != nil {
			logError("settings address: %v", err)
			return
		}
		g.sessionMu.Lock()
		g.cfg.ServerAddress = res.text
		g.serverHost = host
		g.serverPort = port
		cfg := g.cfg
		g.state.ui = stateMainMenu
		g.sessionMu.Unlock()
		if err := saveUserConfig(cfg); err != nil {
			logError("save settings: %v", err)
		}
		g.clearView()
	case res.escape:
		g.sessionMu.Lock()
		g.state.ui = stateMainMenu
		g.sessionMu.Unlock()
		g.clearView()
	}
}

func (g *game) updateConnectionMenu(in inputState) {
	if g.currentView() == nil {
		g.prepareConnectionMenu()
	}
	res, ok := g.handleView(in)
	if !ok {
		return
	}
	switch g.snapshotState().status {
	case statusFailed:
		if res.submit || res.escape {
			logDebug("connection failure acknowledged")
			g.toMainMenu()
		}
	case statusConnectedInProgress:
		switch {
		case res.submit:
			g.stopWorker()
			switch res.choice {
			case 0:
				g.setState(stateLobbySelection, statusRequestedLobbies)
			case 1:
				g.setState(stateLobby, statusRequestedLobby)
			}
			g.clearView()
		case res.escape:
			g.toMainMenu()
		}
	}
}

func (g *game) prepareConnectionMenu() {
	st := g.snapshotState()
	switch st.status {
	case statusNotRunning:
		g.sessionMu.Lock()
		sess := newSession(g.serverHost, g.serverPort, g.dump)
		g.sess = sess
		g.sessionMu.Unlock()
		g.setView(&infoScreen{msg: fmt.Sprintf("Connecting to %v ...", sess.address())})
		g.spawnWorker("connect", func(stop <-chan struct{}) {
			g.establishConnection(sess)
		})
	case statusConnected:
		g.awaitWorker()
		g.sessionMu.Lock()
		sess := g.sess
		g.sessionMu.Unlock()
		g.setView(&selectMenu{options: []string{"Join an existing lobby", "Create a new lobby"}})
		g.spawnWorker("keep-alive", func(stop <-chan struct{}) {
			g.keepAliveLoop(sess, stop, true)
		})
		g.setStatus(statusConnectedInProgress)
	case statusFailed:
		g.awaitWorker()
		g.setView(&infoScreen{msg: "Could not connect to the server.\nPress Enter to return to the main menu."})
	}
}

func (g *game) updateLobbySelection(in inputState) {
	if g.currentView() == nil {
		g.prepareLobbySelection()
	}
	res, ok := g.handleView(in)
	if !ok {
		return
	}
	st := g.snapshotState()
	switch {
	case res.submit && st.status == statusReceivedLobbies:
		g.stopWorker()
		g.sessionMu.Lock()
		g.chosenLobby = res.text
		g.state = sessionState{ui: stateLobby, status: statusTryingToJoin}
		g.sessionMu.Unlock()
		g.clearView()
	case res.escape:
		if st.status == statusRequestedLobbies || st.status == statusWaitingForLobbies {
			// The request is a single bounded exchange; the escape is
			// dropped until it resolves.
			return
		}
		g.stopWorker()
		g.toMainMenu()
	}
}

func (g *game) prepareLobbySelection() {
	st := g.snapshotState()
	switch st.status {
	case statusRequestedLobbies:
		g.stopWorker()
		g.sessionMu.Lock()
		g.lobbies = nil
		sess := g.sess
		g.sessionMu.Unlock()
		g.setView(&infoScreen{msg: "Requesting lobbies ..."})
		g.spawnWorker("get-lobbies", func(stop <-chan struct{}) {
			g.getLobbiesWorker(sess)
		})
	case statusReceivedLobbies:
		g.awaitWorker()
		g.sessionMu.Lock()
		lobbies := append([]string(nil), g.lobbies...)
		sess := g.sess
		g.sessionMu.Unlock()
		g.spawnWorker("keep-alive", func(stop <-chan struct{}) {
			g.keepAliveLoop(sess, stop, false)
		})
		if len(lobbies) == 0 {
			g.setView(&infoScreen{msg: "No lobbies available.\nEscape to go back."})
		} else {
			g.setView(&selectMenu{title: "Choose a lobby:", options: lobbies})
		}
	}
}

func (g *game) updateLobby(in inputState) {
	if g.currentView() == nil {
		g.prepareLobby()
	}
	res, ok := g.handleView(in)
	if !ok || !res.escape {
		return
	}
	switch g.snapshotState().status {
	case statusLobbyFailed:
		g.setState(stateLobbySelection, statusRequestedLobbies)
		g.clearView()
	case statusWaitingForPlayers:
		g.stopWorker()
		g.toMainMenu()
	case statusFailed:
		g.toMainMenu()
	}
}

func (g *game) prepareLobby() {
	g.sessionMu.Lock()
	st := g.state
	sess := g.sess
	chosen := g.chosenLobby
	opponent := g.opponentName
	g.sessionMu.Unlock()
	switch st.status {
	case statusRequestedLobby:
		g.stopWorker()
		g.setView(&infoScreen{msg: "Creating a lobby ..."})
		g.spawnWorker("create-lobby", func(stop <-chan struct{}) {
			g.createLobbyWorker(sess)
		})
	case statusTryingToJoin:
		g.setView(&infoScreen{msg: fmt.Sprintf("Joining lobby %v ...", chosen)})
		g.spawnWorker("join-lobby", func(stop <-chan struct{}) {
			g.joinLobbyWorker(sess, chosen)
		})
	case statusJoinedLobby:
		g.awaitWorker()
		g.setView(&infoScreen{msg: "Waiting for an opponent ..."})
		g.spawnWorker("wait-for-players", func(stop <-chan struct{}) {
			g.waitForPlayersWorker(sess, stop)
		})
		g.sessionMu.Lock()
		g.chosenLobby = ""
		g.sessionMu.Unlock()
	case statusGameReady:
		g.awaitWorker()
		g.setView(&infoScreen{msg: fmt.Sprintf("Opponent found: %v\nPreparing the game ...", opponent)})
		g.spawnWorker("game-ready", func(stop <-chan struct{}) {
			g.gameReadyWorker(sess)
		})
	case statusLobbyFailed:
		g.awaitWorker()
		g.setView(&infoScreen{msg: "The lobby is unavailable.\nEscape to go back."})
	}
}

func (g *game) updateGameSession(in inputState) {
	if g.currentView() == nil {
		g.prepareGameSession()
	}

	// Copy out any async updates before input is processed, so this tick
	// already renders the freshest board.
	g.sessionMu.Lock()
	var u pendingUpdates
	apply := g.updated
	if apply {
		u = g.updates
		g.updates = pendingUpdates{}
		g.updated = false
	}
	g.sessionMu.Unlock()
	if apply {
		g.viewMu.Lock()
		if bv, ok := g.view.(*boardView); ok {
			bv.apply(u)
		}
		g.viewMu.Unlock()
	}

	res, ok := g.handleView(in)
	if !ok {
		return
	}
	switch {
	case res.hasCell:
		select {
		case g.actions <- res.cell:
		default:
			logDebug("action queue full, dropping %v", res.cell)
		}
	case res.escape:
		g.toMainMenu()
	}
}

func (g *game) prepareGameSession() {
	g.sessionMu.Lock()
	st := g.state
	sess := g.sess
	g.sessionMu.Unlock()
	switch st.status {
	case statusGameReady:
		g.awaitWorker()
		g.actions = make(chan [2]int, 8)
		actions := g.actions
		g.sessionMu.Lock()
		bv := newBoardView(g.startingBoard, g.playerName, g.opponentName, g.startingPlayer)
		g.score = 0
		g.sessionMu.Unlock()
		g.setView(bv)
		g.spawnWorker("game-session", func(stop <-chan struct{}) {
			g.gameSessionWorker(sess, stop, actions)
		})
	case statusWaitingForOpponent:
		// The worker keeps running; it owns the CONTINUE wait.
		g.setView(&infoScreen{msg: "Your opponent lost connection.\nWaiting for them to return ..."})
	case statusGameSessionContinued:
		g.sessionMu.Lock()
		bv := g.storedView
		g.storedView = nil
		if bv == nil {
			bv = newBoardView(nil, g.playerName, g.opponentName, "")
		}
		u := g.updates
		g.updates = pendingUpdates{}
		g.updated = false
		g.state.status = statusGameSession
		g.sessionMu.Unlock()
		bv.apply(u)
		g.setView(bv)
	case statusGameSessionReconnected:
		g.stopWorker()
		g.actions = make(chan [2]int, 8)
		actions := g.actions
		g.sessionMu.Lock()
		sess = g.sess
		bv := g.storedView
		g.storedView = nil
		if bv == nil {
			bv = newBoardView(nil, g.playerName, g.opponentName, "")
		}
		u := g.updates
		g.updates = pendingUpdates{}
		g.updated = false
		g.state.status = statusGameSession
		g.sessionMu.Unlock()
		bv.apply(u)
		g.setView(bv)
		g.spawnWorker("game-session", func(stop <-chan struct{}) {
			g.gameSessionWorker(sess, stop, actions)
		})
	}
}

func (g *game) updateGameEnd(in inputState) {
	if g.currentView() == nil {
		g.prepareGameEnd()
	}
	res, ok := g.handleView(in)
	if !ok {
		return
	}
	if res.submit || res.escape {
		g.stopWorker()
		g.setState(stateConnectionMenu, statusConnected)
		g.clearView()
	}
}

func (g *game) prepareGameEnd() {
	g.stopWorker()
	g.sessionMu.Lock()
	st := g.state
	score := g.lastEndScore
	sess := g.sess
	g.sessionMu.Unlock()
	var msg string
	switch st.status {
	case statusWin:
		msg = fmt.Sprintf("You won! Final score: %d", score)
	case statusLose:
		msg = fmt.Sprintf("You lost. Final score: %d", score)
	default:
		msg = "The game ended by technical knockout."
	}
	g.setView(&infoScreen{msg: msg + "\nPress Enter to continue."})
	if sess != nil && sess.isRunning() {
		g.spawnWorker("keep-alive", func(stop <-chan struct{}) {
			g.keepAliveLoop(sess, stop, false)
		})
	}
}

func (g *game) updateNetRecovery(in inputState) {
	if g.currentView() == nil {
		g.prepareNetRecovery()
	}
	res, ok := g.handleView(in)
	if !ok {
		return
	}
	if res.escape {
		// The user gives up on the recovery; the retry worker is joined
		// here so the main menu starts from a clean slate.
		g.stopWorker()
		g.toMainMenu()
		return
	}
	if g.snapshotState().status == statusFailed && res.submit {
		g.toMainMenu()
	}
}

func (g *game) prepareNetRecovery() {
	st := g.snapshotState()
	switch st.status {
	case statusFailed:
		g.stopWorker()
		g.setView(&infoScreen{msg: "The connection could not be restored.\nPress Enter to return to the main menu."})
	case statusReconnected:
		g.stopWorker()
		g.sessionMu.Lock()
		if g.storedState != nil {
			restored := *g.storedState
			g.storedState = nil
			if restored.ui == stateGameSession {
				restored.status = statusGameSessionReconnected
			}
			g.state = restored
			logDebug("restored state %v/%v after reconnect", g.state.ui, g.state.status)
		} else {
			g.state = sessionState{ui: stateConnectionMenu, status: statusConnected}
		}
		g.sessionMu.Unlock()
		g.clearView()
	default:
		g.stopWorker()
		g.sessionMu.Lock()
		sess := g.sess
		g.sessionMu.Unlock()
		if sess != nil {
			sess.stop()
		}
		g.recoveryUntil = time.Now().Add(reconnectWindow)
		g.setView(&infoScreen{
			msg:   "Connection lost. Reconnecting ...",
			extra: g.recoveryCountdown,
		})
		g.spawnWorker("reconnect", func(stop <-chan struct{}) {
			g.retryConnectionWorker(stop)
		})
	}
}

func (g *game) updateAlert(in inputState) {
	if g.currentView() == nil {
		g.sessionMu.Lock()
		msg := g.alertMsg
		g.sessionMu.Unlock()
		g.setView(&infoScreen{msg: msg})
	}
	res, ok := g.handleView(in)
	if !ok {
		return
	}
	if res.submit || res.escape {
		g.sessionMu.Lock()
		g.state.ui = g.alertNext
		g.sessionMu.Unlock()
		g.clearView()
	}
}
