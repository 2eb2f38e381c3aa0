package main

import (
	"bufio"
	"errors"
	"net"
	"testing"
	"time"
)

// startScriptedServer runs script against the first accepted connection and
// returns the address to dial.
func startScriptedServer(t *testing.T, script func(t *testing.T, conn net.Conn)) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		script(t, conn)
	}()
	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	if err != nil {
		t.Errorf("server read: %v", err)
		return ""
	}
	return line
}

func writeFrame(t *testing.T, conn net.Conn, frame string) {
	t.Helper()
	if _, err := conn.Write([]byte(frame)); err != nil {
		t.Errorf("server write: %v", err)
	}
}

func TestLogin(t *testing.T) {
	host, port := startScriptedServer(t, func(t *testing.T, conn net.Conn) {
		r := bufio.NewReader(conn)
		if got := readLine(t, r); got != "IBGAME;HAND;alice\n" {
			t.Errorf("expected handshake frame, got %q", got)
		}
		writeFrame(t, conn, "IBGAME;SHAKE\n")
		if got := readLine(t, r); got != "IBGAME;DEAL\n" {
			t.Errorf("expected handshake confirm, got %q", got)
		}
	})

	sess := newSession(host, port, nil)
	if err := sess.start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sess.stop()
	ok, err := sess.login("alice")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !ok {
		t.Fatalf("expected login to succeed")
	}
}

func TestLogin_AnswersInterleavedPing(t *testing.T) {
	host, port := startScriptedServer(t, func(t *testing.T, conn net.Conn) {
		r := bufio.NewReader(conn)
		readLine(t, r) // HAND
		writeFrame(t, conn, "IBGAME;PING\n")
		if got := readLine(t, r); got != "IBGAME;PONG\n" {
			t.Errorf("expected pong for the interleaved ping, got %q", got)
		}
		writeFrame(t, conn, "IBGAME;SHAKE\n")
		readLine(t, r) // DEAL
	})

	sess := newSession(host, port, nil)
	if err := sess.start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sess.stop()
	ok, err := sess.login("alice")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !ok {
		t.Fatalf("expected login to succeed despite the interleaved ping")
	}
}

func TestLogin_UnexpectedResponse(t *testing.T) {
	host, port := startScriptedServer(t, func(t *testing.T, conn net.Conn) {
		r := bufio.NewReader(conn)
		readLine(t, r) // HAND
		writeFrame(t, conn, "IBGAME;LOBBIES\n")
	})

	sess := newSession(host, port, nil)
	if err := sess.start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { sess.client.disconnect() }()
	ok, err := sess.login("alice")
	if err != nil {
		t.Fatalf("expected a soft failure, got error %v", err)
	}
	if ok {
		t.Fatalf("expected login to report failure on an unexpected response")
	}
}

func TestGetLobbies(t *testing.T) {
	host, port := startScriptedServer(t, func(t *testing.T, conn net.Conn) {
		r := bufio.NewReader(conn)
		if got := readLine(t, r); got != "IBGAME;LOBBIES\n" {
			t.Errorf("expected lobbies request, got %q", got)
		}
		writeFrame(t, conn, "IBGAME;LOBBIES;alpha;beta\n")
	})

	sess := newSession(host, port, nil)
	if err := sess.start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { sess.client.disconnect() }()
	lobbies, err := sess.getLobbies()
	if err != nil {
		t.Fatalf("getLobbies: %v", err)
	}
	if len(lobbies) != 2 || lobbies[0] != "alpha" || lobbies[1] != "beta" {
		t.Fatalf("expected [alpha beta], got %v", lobbies)
	}
}

func TestReceiveMessage_SplitAcrossChunks(t *testing.T) {
	frame := "IBGAME;BOARD;" + boardField(t) + "\n"
	host, port := startScriptedServer(t, func(t *testing.T, conn net.Conn) {
		half := len(frame) / 2
		writeFrame(t, conn, frame[:half])
		time.Sleep(100 * time.Millisecond)
		writeFrame(t, conn, frame[half:])
		time.Sleep(time.Second)
	})

	sess := newSession(host, port, nil)
	if err := sess.start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { sess.client.disconnect() }()
	resp, err := sess.receiveMessage()
	if err != nil {
		t.Fatalf("receiveMessage: %v", err)
	}
	if resp.Command != "BOARD" {
		t.Fatalf("expected BOARD, got %v", resp.Command)
	}
}

func TestReceiveMessage_CoalescedFrames(t *testing.T) {
	host, port := startScriptedServer(t, func(t *testing.T, conn net.Conn) {
		writeFrame(t, conn, "IBGAME;TURN;alice\nIBGAME;PING\n")
		time.Sleep(time.Second)
	})

	sess := newSession(host, port, nil)
	if err := sess.start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { sess.client.disconnect() }()
	first, err := sess.receiveMessage()
	if err != nil {
		t.Fatalf("first receive: %v", err)
	}
	if first.Command != "TURN" || len(first.Params) != 1 || first.Params[0] != "alice" {
		t.Fatalf("expected TURN alice, got %v %v", first.Command, first.Params)
	}
	second, err := sess.receiveMessage()
	if err != nil {
		t.Fatalf("second receive: %v", err)
	}
	if second.Command != "PING" {
		t.Fatalf("expected the coalesced PING, got %v", second.Command)
	}
}

func TestReceiveMessage_Timeout(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the whole-message timeout")
	}
	host, port := startScriptedServer(t, func(t *testing.T, conn net.Conn) {
		time.Sleep(wholeMsgTimeout + 2*time.Second)
	})

	sess := newSession(host, port, nil)
	if err := sess.start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { sess.client.disconnect() }()
	_, err := sess.receiveMessage()
	if !errors.Is(err, errTimeout) {
		t.Fatalf("expected a timeout, got %v", err)
	}
	if !sess.isRunning() {
		t.Fatalf("expected the connection to survive a receive timeout")
	}
}

func TestStop_SendsLeave(t *testing.T) {
	got := make(chan string, 1)
	host, port := startScriptedServer(t, func(t *testing.T, conn net.Conn) {
		r := bufio.NewReader(conn)
		got <- readLine(t, r)
		writeFrame(t, conn, "IBGAME;BYE\n")
	})

	sess := newSession(host, port, nil)
	if err := sess.start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	sess.stop()
	if sess.isRunning() {
		t.Fatalf("expected the session to be stopped")
	}
	select {
	case frame := <-got:
		if frame != "IBGAME;LEAVE\n" {
			t.Fatalf("expected a LEAVE frame, got %q", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server never saw the LEAVE frame")
	}
}

func TestSendAction_RejectsOutOfBoard(t *testing.T) {
	sess := newSession("127.0.0.1", 1, nil)
	err := sess.sendAction(9, 0)
	if !errors.Is(err, errValidation) {
		t.Fatalf("expected a validation error, got %v", err)
	}
}

// boardField builds a syntactically valid 9x9 board field.
func boardField(t *testing.T) string {
	t.Helper()
	row := "0:0:0:0:0:0:0:0:0"
	field := row
	for i := 1; i < 9; i++ {
		field += "," + row
	}
	return field
}
