package main

import (
	"errors"
	"strconv"
	"time"

	"github.com/hako/durafmt"
	"golang.org/x/time/rate"

	"github.com/milvl/inverse-battleships/ibproto"
)

const (
	// reconnectWindow bounds the whole recovery attempt in wall-clock time.
	reconnectWindow = 30 * time.Second
	// reconnectInterval paces individual reconnect attempts.
	reconnectInterval = time.Second
)

// exiting reports whether the worker should unwind: either the process is
// shutting down or the UI thread asked this worker to stop.
func (g *game) exiting(stop <-chan struct{}) bool {
	select {
	case <-g.ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

// isAlive probes the connection once the keep-alive window has elapsed with
// no traffic. Any ping failure means the connection is gone.
func (g *game) isAlive(sess *session) bool {
	if time.Since(sess.lastReplyTime()) <= keepAliveTimeout {
		return true
	}
	logDebug("connection to %v quiet, pinging", sess.address())
	if err := sess.ping(); err != nil {
		logError("keep-alive ping to %v failed: %v", sess.address(), err)
		return false
	}
	return true
}

// establishConnection connects and logs in. Runs once in the connection menu;
// the outcome is announced purely through the status.
func (g *game) establishConnection(sess *session) {
	g.setStatus(statusConnecting)
	ok := false
	if err := sess.start(); err != nil {
		logError("connecting to %v: %v", sess.address(), err)
	} else if logged, err := sess.login(g.player()); err != nil {
		logError("logging in to %v: %v", sess.address(), err)
	} else if !logged {
		logError("server %v refused the handshake", sess.address())
	} else {
		ok = true
	}
	if ok {
		g.setStatus(statusConnected)
	} else {
		sess.stop()
		g.setStatus(statusFailed)
	}
	g.clearView()
}

// keepAliveLoop keeps the connection warm while the player sits in a menu.
// It answers server pings and, in the connection menu, also accepts a
// CONTINUE push that resumes an interrupted game.
func (g *game) keepAliveLoop(sess *session, stop <-chan struct{}, allowResume bool) {
	for !g.exiting(stop) {
		if !g.isAlive(sess) {
			g.transitionToNetRecovery(sessionState{ui: stateConnectionMenu, status: statusConnected})
			return
		}
		resp, err := sess.receiveMessage()
		if errors.Is(err, errTimeout) {
			continue
		}
		if err != nil {
			logError("keep-alive receive from %v: %v", sess.address(), err)
			g.transitionToNetRecovery(sessionState{ui: stateConnectionMenu, status: statusConnected})
			return
		}
		switch resp.Command {
		case ibproto.CmdPing:
			if err := sess.pong(); err != nil {
				logError("keep-alive pong to %v: %v", sess.address(), err)
				g.transitionToNetRecovery(sessionState{ui: stateConnectionMenu, status: statusConnected})
				return
			}
		case ibproto.CmdContinue:
			if !allowResume {
				logError("unexpected CONTINUE from %v outside the connection menu", sess.address())
				continue
			}
			g.resumeFromContinue(resp)
			return
		default:
			logError("unexpected push %v from %v while idle", resp.Command, sess.address())
		}
	}
}

// resumeFromContinue rebuilds the in-game state from a CONTINUE push: lobby
// id, opponent, player on turn and the current board.
func (g *game) resumeFromContinue(resp ibproto.ParsedResponse) {
	if len(resp.Params) < 4 {
		logError("CONTINUE with %d params, want 4", len(resp.Params))
		return
	}
	board, err := ibproto.ParseBoard(resp.Params[3])
	if err != nil {
		logError("CONTINUE board: %v", err)
		return
	}
	g.sessionMu.Lock()
	g.myLobby = resp.Params[0]
	g.opponentName = resp.Params[1]
	g.updates.opponentName = resp.Params[1]
	g.updates.hasOpponent = true
	g.updates.playerOnTurn = resp.Params[2]
	g.updates.hasPlayerOnTurn = true
	g.updates.board = board
	g.updated = true
	g.state = sessionState{ui: stateGameSession, status: statusGameSessionReconnected}
	g.sessionMu.Unlock()
	g.clearView()
}

func (g *game) getLobbiesWorker(sess *session) {
	g.setStatus(statusWaitingForLobbies)
	lobbies, err := sess.getLobbies()
	if err != nil {
		logError("requesting lobbies from %v: %v", sess.address(), err)
		g.transitionToNetRecovery(sessionState{ui: stateConnectionMenu, status: statusConnected})
		return
	}
	g.sessionMu.Lock()
	g.lobbies = lobbies
	g.state.status = statusReceivedLobbies
	g.sessionMu.Unlock()
	g.clearView()
}

func (g *game) createLobbyWorker(sess *session) {
	g.requestLobbyWorker(sess, func() (string, error) {
		return sess.createLobby()
	})
}

func (g *game) joinLobbyWorker(sess *session, id string) {
	g.requestLobbyWorker(sess, func() (string, error) {
		return sess.joinLobby(id)
	})
}

// requestLobbyWorker runs one lobby request. A timeout means the lobby is
// gone or full and the player just picks again; anything else is a dead
// connection.
func (g *game) requestLobbyWorker(sess *session, request func() (string, error)) {
	g.setStatus(statusTryingToJoin)
	id, err := request()
	switch {
	case errors.Is(err, errTimeout) || errors.Is(err, errProtocol):
		logError("lobby request to %v: %v", sess.address(), err)
		g.setStatus(statusLobbyFailed)
	case err != nil:
		logError("lobby request to %v: %v", sess.address(), err)
		g.transitionToNetRecovery(sessionState{ui: stateConnectionMenu, status: statusConnected})
		return
	default:
		g.sessionMu.Lock()
		g.myLobby = id
		g.state.status = statusJoinedLobby
		g.sessionMu.Unlock()
	}
	g.clearView()
}

// waitForPlayersWorker blocks in the lobby until the server pairs an
// opponent in.
func (g *game) waitForPlayersWorker(sess *session, stop <-chan struct{}) {
	g.setStatus(statusWaitingForPlayers)
	for !g.exiting(stop) {
		if !g.isAlive(sess) {
			g.transitionToNetRecovery(sessionState{ui: stateConnectionMenu, status: statusConnected})
			return
		}
		opponent, err := sess.waitForOpponent()
		if errors.Is(err, errTimeout) || errors.Is(err, errProtocol) {
			continue
		}
		if err != nil {
			logError("waiting for players in %v: %v", sess.address(), err)
			g.transitionToNetRecovery(sessionState{ui: stateConnectionMenu, status: statusConnected})
			return
		}
		g.sessionMu.Lock()
		g.opponentName = opponent
		g.state.status = statusGameReady
		g.sessionMu.Unlock()
		g.clearView()
		return
	}
}

// gameReadyWorker reports readiness and collects the starting position.
func (g *game) gameReadyWorker(sess *session) {
	board, firstPlayer, tko, err := sess.confirmReady()
	if err != nil {
		logError("confirming readiness with %v: %v", sess.address(), err)
		g.setState(stateNetRecovery, statusFailed)
		g.clearView()
		return
	}
	g.sessionMu.Lock()
	if tko {
		g.lastEndScore = g.score
		g.state = sessionState{ui: stateGameEnd, status: statusTko}
	} else {
		g.startingBoard = board
		g.startingPlayer = firstPlayer
		g.state.ui = stateGameSession
	}
	g.sessionMu.Unlock()
	g.clearView()
}

// gameSessionWorker is the in-game loop: it consumes server pushes, keeps
// the connection alive and flushes queued player actions when the line is
// idle.
func (g *game) gameSessionWorker(sess *session, stop <-chan struct{}, actions <-chan [2]int) {
	g.setStatus(statusGameSession)
	fail := func() {
		g.storeGameView()
		g.transitionToNetRecovery(g.snapshotState())
	}
	for !g.exiting(stop) {
		if !g.isAlive(sess) {
			fail()
			return
		}
		resp, err := sess.receiveMessage()
		if errors.Is(err, errTimeout) {
			select {
			case cell := <-actions:
				if err := sess.sendAction(cell[0], cell[1]); err != nil {
					logError("sending action to %v: %v", sess.address(), err)
					fail()
					return
				}
			default:
			}
			continue
		}
		if errors.Is(err, errProtocol) {
			logError("in-game receive from %v: %v", sess.address(), err)
			continue
		}
		if err != nil {
			logError("in-game receive from %v: %v", sess.address(), err)
			fail()
			return
		}
		if done := g.handleGamePush(sess, resp, fail); done {
			return
		}
	}
}

// handleGamePush applies one server push to the shared game data. Returns
// true when the worker should unwind.
func (g *game) handleGamePush(sess *session, resp ibproto.ParsedResponse, fail func()) bool {
	switch resp.Command {
	case ibproto.CmdPing:
		if err := sess.pong(); err != nil {
			logError("in-game pong to %v: %v", sess.address(), err)
			fail()
			return true
		}
	case ibproto.CmdBoard:
		if len(resp.Params) < 1 {
			logError("BOARD without a field from %v", sess.address())
			return false
		}
		board, err := ibproto.ParseBoard(resp.Params[0])
		if err != nil {
			logError("BOARD from %v: %v", sess.address(), err)
			return false
		}
		g.sessionMu.Lock()
		g.updates.board = board
		g.updated = true
		g.sessionMu.Unlock()
	case ibproto.CmdTurn:
		if len(resp.Params) < 1 {
			logError("TURN without a player from %v", sess.address())
			return false
		}
		g.sessionMu.Lock()
		g.updates.playerOnTurn = resp.Params[0]
		g.updates.hasPlayerOnTurn = true
		g.updated = true
		g.sessionMu.Unlock()
	case ibproto.CmdHit:
		g.setLastAction("Hit!")
	case ibproto.CmdMiss:
		g.setLastAction("Miss.")
	case ibproto.CmdActionAck:
		g.setLastAction("Move accepted.")
	case ibproto.CmdGain:
		delta := 0
		if len(resp.Params) > 0 {
			var err error
			delta, err = strconv.Atoi(resp.Params[0])
			if err != nil {
				logError("GAIN from %v: %v", sess.address(), err)
				return false
			}
		}
		g.sessionMu.Lock()
		g.score += delta
		g.updates.score = g.score
		g.updates.hasScore = true
		g.updates.lastAction = "Gained " + strconv.Itoa(delta) + " points."
		g.updates.hasLastAction = true
		g.updated = true
		g.sessionMu.Unlock()
	case ibproto.CmdWait:
		if err := sess.sendWaitAck(); err != nil {
			logError("acknowledging WAIT to %v: %v", sess.address(), err)
			fail()
			return true
		}
		g.storeGameView()
		g.setStatus(statusWaitingForOpponent)
		g.clearView()
	case ibproto.CmdContinue:
		g.resumeInGame(resp)
	case ibproto.CmdWin:
		g.endGame(statusWin)
		return true
	case ibproto.CmdLose:
		g.endGame(statusLose)
		return true
	case ibproto.CmdTko:
		g.endGame(statusTko)
		return true
	default:
		logError("unexpected push %v from %v in game", resp.Command, sess.address())
	}
	return false
}

func (g *game) setLastAction(msg string) {
	g.sessionMu.Lock()
	g.updates.lastAction = msg
	g.updates.hasLastAction = true
	g.updated = true
	g.sessionMu.Unlock()
}

func (g *game) endGame(status connStatus) {
	g.sessionMu.Lock()
	g.lastEndScore = g.score
	g.state = sessionState{ui: stateGameEnd, status: status}
	g.sessionMu.Unlock()
	g.clearView()
}

// resumeInGame handles a CONTINUE received while the game worker is already
// running: the opponent came back, play resumes with the pushed position.
func (g *game) resumeInGame(resp ibproto.ParsedResponse) {
	g.sessionMu.Lock()
	if len(resp.Params) >= 4 {
		if board, err := ibproto.ParseBoard(resp.Params[3]); err == nil {
			g.updates.board = board
			g.updates.playerOnTurn = resp.Params[2]
			g.updates.hasPlayerOnTurn = true
		} else {
			logError("CONTINUE board: %v", err)
		}
	}
	g.updated = true
	g.state.status = statusGameSessionContinued
	g.sessionMu.Unlock()
	g.clearView()
}

// retryConnectionWorker tries to rebuild the session within a fixed
// wall-clock window, pacing attempts to one per second.
func (g *game) retryConnectionWorker(stop <-chan struct{}) {
	limiter := rate.NewLimiter(rate.Every(reconnectInterval), 1)
	deadline := time.Now().Add(reconnectWindow)
	g.sessionMu.Lock()
	host, port := g.serverHost, g.serverPort
	g.sessionMu.Unlock()
	for time.Now().Before(deadline) && !g.exiting(stop) {
		if !limiter.Allow() {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		sess := newSession(host, port, g.dump)
		if err := sess.start(); err != nil {
			logDebug("reconnect attempt: %v", err)
			continue
		}
		logged, err := sess.login(g.player())
		if err != nil || !logged {
			logDebug("reconnect login: logged=%v err=%v", logged, err)
			sess.stop()
			continue
		}
		g.sessionMu.Lock()
		g.sess = sess
		g.state.status = statusReconnected
		g.sessionMu.Unlock()
		g.clearView()
		logDebug("reconnected to %v", sess.address())
		return
	}
	g.setStatus(statusFailed)
	g.clearView()
}

// recoveryCountdown renders the time left in the reconnect window for the
// recovery screen.
func (g *game) recoveryCountdown() string {
	remaining := time.Until(g.recoveryUntil)
	if remaining <= 0 {
		return "Giving up ..."
	}
	return "Giving up in " + durafmt.Parse(remaining.Round(time.Second)).String()
}
