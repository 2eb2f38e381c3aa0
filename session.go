package main

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/milvl/inverse-battleships/ibproto"
)

const (
	// keepAliveTimeout is how long the connection may stay silent before a
	// worker probes it with a ping.
	keepAliveTimeout = 10 * time.Second
	// wholeMsgTimeout bounds the reassembly of one complete frame. It is
	// deliberately larger than the per-chunk timeout of the transport.
	wholeMsgTimeout = 5 * time.Second
)

// session implements the request/response vocabulary on top of the frame
// codec and the transport wrapper. Every public operation holds mu for its
// full duration, so only one logical exchange is ever outstanding and partial
// frame buffers are never interleaved.
type session struct {
	mu      sync.Mutex
	client  *netClient
	pending string
	// lastReply is bumped on every successfully received frame and drives
	// the keep-alive timing in the workers.
	lastReply time.Time
	// tolerateOnePing makes every wait-for-response transparently answer a
	// single keep-alive the server interleaves before the real response.
	tolerateOnePing bool
	dump            *netDump
}

func newSession(host string, port int, dump *netDump) *session {
	return &session{
		client:          newNetClient(host, port),
		tolerateOnePing: true,
		dump:            dump,
	}
}

// address returns the server address in host:port form.
func (s *session) address() string {
	return s.client.address()
}

func (s *session) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client.isConnected()
}

// lastReplyTime reports when the server was last heard from.
func (s *session) lastReplyTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReply
}

// start connects to the server.
func (s *session) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.client.connect(); err != nil {
		return err
	}
	s.lastReply = time.Now()
	logDebug("connected to %v", s.address())
	return nil
}

// stop performs a best-effort LEAVE/BYE exchange and always closes the
// transport, even when the exchange fails.
func (s *session) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.client.isConnected() {
		return
	}
	if err := s.logoutLocked(); err != nil {
		logError("disconnecting from %v uncleanly: %v", s.address(), err)
	}
	s.client.disconnect()
	s.pending = ""
}

// login performs the HAND/SHAKE/DEAL handshake. A false result without an
// error means the server answered with an unexpected command.
func (s *session) login(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sendCmd(ibproto.CmdHandshake, name); err != nil {
		return false, err
	}
	_, ok, err := s.recvExpect(ibproto.CmdHandshakeAck)
	if err != nil {
		return false, fmt.Errorf("handshake with %v: %w", s.address(), err)
	}
	if !ok {
		return false, nil
	}
	if err := s.sendCmd(ibproto.CmdHandshakeConfirm); err != nil {
		return false, fmt.Errorf("handshake confirm to %v: %w", s.address(), err)
	}
	return true, nil
}

// logout sends LEAVE and waits for BYE. The caller still force-closes the
// transport afterwards regardless of the result.
func (s *session) logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logoutLocked()
}

func (s *session) logoutLocked() error {
	if err := s.sendCmd(ibproto.CmdLeave); err != nil {
		return err
	}
	_, ok, err := s.recvExpect(ibproto.CmdLeaveAck)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: no BYE from %v", errProtocol, s.address())
	}
	return nil
}

// ping probes the connection and waits for the pong.
func (s *session) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sendCmd(ibproto.CmdPing); err != nil {
		return err
	}
	_, ok, err := s.recvExpect(ibproto.CmdPong)
	if err != nil {
		return fmt.Errorf("ping %v: %w", s.address(), err)
	}
	if !ok {
		return fmt.Errorf("%w: no PONG from %v", errProtocol, s.address())
	}
	return nil
}

// pong answers a server keep-alive.
func (s *session) pong() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendCmd(ibproto.CmdPong)
}

// getLobbies requests the list of joinable lobbies.
func (s *session) getLobbies() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sendCmd(ibproto.CmdLobbies); err != nil {
		return nil, err
	}
	resp, ok, err := s.recvExpect(ibproto.CmdLobbies)
	if err != nil {
		return nil, fmt.Errorf("list lobbies from %v: %w", s.address(), err)
	}
	if !ok {
		return nil, nil
	}
	return resp.Params, nil
}

// createLobby asks the server for a fresh lobby and returns its id.
func (s *session) createLobby() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestLobby(ibproto.CmdLobbyCreate)
}

// joinLobby joins the lobby with the given id and returns the id the server
// actually assigned.
func (s *session) joinLobby(id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestLobby(ibproto.CmdLobbyJoin, id)
}

func (s *session) requestLobby(cmd string, params ...string) (string, error) {
	if err := s.sendCmd(cmd, params...); err != nil {
		return "", err
	}
	resp, ok, err := s.recvExpect(ibproto.CmdPairing)
	if err != nil {
		return "", fmt.Errorf("lobby request to %v: %w", s.address(), err)
	}
	if !ok || len(resp.Params) < 1 {
		return "", fmt.Errorf("%w: no lobby id in PAIRING from %v", errProtocol, s.address())
	}
	return resp.Params[0], nil
}

// waitForOpponent blocks until the server pairs an opponent into the lobby
// and returns the opponent's name. Times out like any other receive; the
// caller loops.
func (s *session) waitForOpponent() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, ok, err := s.recvExpect(ibproto.CmdPaired)
	if err != nil {
		return "", err
	}
	if !ok || len(resp.Params) < 1 {
		return "", fmt.Errorf("%w: no opponent in PAIRED from %v", errProtocol, s.address())
	}
	return resp.Params[0], nil
}

// confirmReady reports readiness and collects the starting board and the
// player on turn. The server may answer with TKO instead when the opponent
// vanished between pairing and readiness.
func (s *session) confirmReady() (board [][]int, firstPlayer string, tko bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sendCmd(ibproto.CmdReady); err != nil {
		return nil, "", false, err
	}
	for board == nil || firstPlayer == "" {
		resp, err := s.recvMessage()
		if err != nil {
			return nil, "", false, fmt.Errorf("confirm ready with %v: %w", s.address(), err)
		}
		switch resp.Command {
		case ibproto.CmdPing:
			if err := s.sendCmd(ibproto.CmdPong); err != nil {
				return nil, "", false, err
			}
		case ibproto.CmdTko:
			return nil, "", true, nil
		case ibproto.CmdTurn:
			if len(resp.Params) < 1 {
				return nil, "", false, fmt.Errorf("%w: TURN without a player from %v", errProtocol, s.address())
			}
			firstPlayer = resp.Params[0]
		case ibproto.CmdBoard:
			if len(resp.Params) < 1 {
				return nil, "", false, fmt.Errorf("%w: BOARD without a field from %v", errProtocol, s.address())
			}
			board, err = ibproto.ParseBoard(resp.Params[0])
			if err != nil {
				return nil, "", false, fmt.Errorf("%w: %v", errProtocol, err)
			}
		default:
			return nil, "", false, fmt.Errorf("%w: unexpected %v while confirming ready", errProtocol, resp.Command)
		}
	}
	return board, firstPlayer, false, nil
}

// sendAction submits the player's move. The result arrives asynchronously as
// a push, so there is nothing to wait for here.
func (s *session) sendAction(row, col int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row < 0 || row >= ibproto.BoardSize || col < 0 || col >= ibproto.BoardSize {
		return fmt.Errorf("%w: action %d,%d out of board", errValidation, row, col)
	}
	return s.sendCmd(ibproto.CmdAction, strconv.Itoa(row)+":"+strconv.Itoa(col))
}

// sendWaitAck acknowledges a WAIT push.
func (s *session) sendWaitAck() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendCmd(ibproto.CmdWaitAck)
}

// receiveMessage blocks until one complete frame is reassembled or the
// whole-message timeout elapses. Used by the in-game worker to consume
// asynchronous pushes.
func (s *session) receiveMessage() (ibproto.ParsedResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recvMessage()
}

// sendCmd encodes and sends one frame. The caller holds mu.
func (s *session) sendCmd(command string, params ...string) error {
	if !s.client.isConnected() {
		return fmt.Errorf("%w: send to %v: not connected", errTransport, s.address())
	}
	frame, err := ibproto.Encode(command, params...)
	if err != nil {
		return fmt.Errorf("%w: %v", errValidation, err)
	}
	if err := s.client.send(frame); err != nil {
		return err
	}
	s.dump.record(dumpSend, frame)
	logDebug("sent to %v: '%s'", s.address(), escapeFrame(frame))
	return nil
}

// recvMessage accumulates transport chunks until a full frame is available,
// keeping any coalesced tail for the next call. The caller holds mu.
func (s *session) recvMessage() (ibproto.ParsedResponse, error) {
	if !s.client.isConnected() {
		return ibproto.ParsedResponse{}, fmt.Errorf("%w: receive from %v: not connected", errTransport, s.address())
	}
	buffer := s.pending
	s.pending = ""
	started := time.Now()
	for {
		complete, frame, tail := ibproto.SplitComplete(buffer)
		if complete {
			s.pending = tail
			s.lastReply = time.Now()
			s.dump.record(dumpRecv, frame)
			logDebug("received from %v: '%s'", s.address(), escapeFrame(frame))
			resp, err := ibproto.Parse(frame)
			if err != nil {
				return ibproto.ParsedResponse{}, fmt.Errorf("%w: %v", errProtocol, err)
			}
			return resp, nil
		}
		if time.Since(started) > wholeMsgTimeout {
			s.pending = buffer
			return ibproto.ParsedResponse{}, errTimeout
		}
		chunk, err := s.client.receiveChunk()
		if errors.Is(err, errTimeout) {
			continue
		}
		if err != nil {
			s.pending = buffer
			return ibproto.ParsedResponse{}, err
		}
		buffer += chunk
	}
}

// recvExpect waits for a response with the expected command. When the server
// interleaves a keep-alive first, it is answered transparently and the wait
// continues (single uniform policy). A mismatched command is a soft failure:
// logged, reported via ok=false, and left to the caller to escalate.
func (s *session) recvExpect(expected string) (ibproto.ParsedResponse, bool, error) {
	resp, err := s.recvMessage()
	if err != nil {
		return ibproto.ParsedResponse{}, false, err
	}
	if s.tolerateOnePing && resp.Command == ibproto.CmdPing {
		if err := s.sendCmd(ibproto.CmdPong); err != nil {
			return ibproto.ParsedResponse{}, false, err
		}
		resp, err = s.recvMessage()
		if err != nil {
			return ibproto.ParsedResponse{}, false, err
		}
	}
	if resp.Command != expected {
		logError("unexpected response from %v: got %v, want %v", s.address(), resp.Command, expected)
		return resp, false, nil
	}
	return resp, true, nil
}
