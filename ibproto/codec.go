// Package ibproto implements the Inverse Battleships wire format: a
// line-oriented text frame `IBGAME;COMMAND;FIELD;...\n` with backslash
// escaping of the field delimiter.
package ibproto

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// Header is the fixed literal every frame starts with.
	Header = "IBGAME"
	// Delimiter separates the header, the command and the fields.
	Delimiter = ';'
	// Escape makes the next character literal inside a field.
	Escape = '\\'
	// Terminator marks the end of a frame and may not appear unescaped
	// inside a field.
	Terminator = '\n'
)

// BoardSize is the side length of the game board.
const BoardSize = 9

const (
	boardRowDelimiter  = ","
	boardCellDelimiter = ":"
)

// Command vocabulary. Direction noted where it is one-way.
const (
	CmdHandshake        = "HAND"  // client -> server, carries the nickname
	CmdHandshakeAck     = "SHAKE" // server -> client
	CmdHandshakeConfirm = "DEAL"  // client -> server
	CmdPing             = "PING"
	CmdPong             = "PONG"
	CmdLeave            = "LEAVE" // client -> server
	CmdLeaveAck         = "BYE"   // server -> client
	CmdLobbies          = "LOBBIES"
	CmdLobbyCreate      = "CREATE"   // client -> server
	CmdLobbyJoin        = "BRING_IT" // client -> server, carries the lobby id
	CmdPairing          = "PAIRING"  // server -> client, carries the lobby id
	CmdPaired           = "PAIRED"   // server -> client, carries the opponent
	CmdReady            = "READY"    // client -> server
	CmdTurn             = "TURN"     // server -> client, player on turn
	CmdAction           = "ACTION"   // client -> server, "row:col"
	CmdBoard            = "BOARD"    // server -> client, board push
	CmdWait             = "WAIT"     // server -> client, opponent dropped
	CmdWaitAck          = "ACK"      // client -> server
	CmdHit              = "HIT"      // server -> client
	CmdMiss             = "MISS"     // server -> client
	CmdGain             = "GAIN"     // server -> client, score delta
	CmdActionAck        = "ACTION_ACK"
	CmdWin              = "WIN"
	CmdLose             = "LOST"
	CmdTko              = "TKO"
	CmdContinue         = "CONTINUE" // server -> client, session resumption
)

var (
	// ErrInvalidHeader reports a frame that does not start with the header.
	ErrInvalidHeader = errors.New("invalid frame header")
	// ErrInvalidField reports a field that cannot be put on the wire.
	ErrInvalidField = errors.New("invalid field")
)

// ParsedResponse is one decoded server frame.
type ParsedResponse struct {
	Command string
	Params  []string
}

// escapeField makes a field safe for the wire. The escape character itself
// is escaped first so decoding is an exact inverse.
func escapeField(field string) string {
	field = strings.ReplaceAll(field, string(Escape), string(Escape)+string(Escape))
	return strings.ReplaceAll(field, string(Delimiter), string(Escape)+string(Delimiter))
}

// Encode builds a complete frame from a command and its fields. It fails if
// any field contains the terminator; nothing is ever silently dropped.
func Encode(command string, fields ...string) (string, error) {
	var b strings.Builder
	b.WriteString(Header)
	b.WriteByte(Delimiter)
	if strings.ContainsRune(command, Terminator) {
		return "", fmt.Errorf("%w: command %q contains the terminator", ErrInvalidField, command)
	}
	b.WriteString(escapeField(command))
	for i, field := range fields {
		if strings.ContainsRune(field, Terminator) {
			return "", fmt.Errorf("%w: field %d %q contains the terminator", ErrInvalidField, i, field)
		}
		b.WriteByte(Delimiter)
		b.WriteString(escapeField(field))
	}
	b.WriteByte(Terminator)
	return b.String(), nil
}

// Decode parses a raw frame into its ordered fields; field 0 is the command.
// The frame must begin with the header and its delimiter. An escape consumes
// exactly the next character; an unescaped delimiter ends a field; the
// terminator ends the frame.
func Decode(raw string) ([]string, error) {
	prefix := Header + string(Delimiter)
	if !strings.HasPrefix(raw, prefix) {
		got := raw
		if len(got) > len(prefix) {
			got = got[:len(prefix)]
		}
		return nil, fmt.Errorf("%w: %q", ErrInvalidHeader, got)
	}

	var fields []string
	var part strings.Builder
	escaped := false
	for _, ch := range raw[len(prefix):] {
		if escaped {
			part.WriteRune(ch)
			escaped = false
			continue
		}
		switch ch {
		case rune(Terminator):
			fields = append(fields, part.String())
			return fields, nil
		case rune(Escape):
			escaped = true
		case rune(Delimiter):
			fields = append(fields, part.String())
			part.Reset()
		default:
			part.WriteRune(ch)
		}
	}
	if escaped {
		return nil, fmt.Errorf("%w: frame ends inside an escape sequence", ErrInvalidField)
	}
	// No terminator seen; the caller fed a partial frame.
	fields = append(fields, part.String())
	return fields, nil
}

// Parse decodes a raw frame into a ParsedResponse.
func Parse(raw string) (ParsedResponse, error) {
	fields, err := Decode(raw)
	if err != nil {
		return ParsedResponse{}, err
	}
	if len(fields) == 0 || fields[0] == "" {
		return ParsedResponse{}, fmt.Errorf("%w: empty command", ErrInvalidField)
	}
	return ParsedResponse{Command: fields[0], Params: fields[1:]}, nil
}

// SplitComplete looks for the first terminator in buffer. If none is found
// the buffer is an incomplete frame and must be retained for the next read.
// Otherwise it returns the frame up to and including the terminator plus
// whatever the transport coalesced after it.
func SplitComplete(buffer string) (complete bool, frame, remainder string) {
	i := strings.IndexByte(buffer, Terminator)
	if i < 0 {
		return false, buffer, ""
	}
	return true, buffer[:i+1], buffer[i+1:]
}

// EncodeBoard serializes a board as rows joined by "," with cells joined
// by ":".
func EncodeBoard(board [][]int) string {
	rows := make([]string, len(board))
	for i, row := range board {
		cells := make([]string, len(row))
		for j, cell := range row {
			cells[j] = strconv.Itoa(cell)
		}
		rows[i] = strings.Join(cells, boardCellDelimiter)
	}
	return strings.Join(rows, boardRowDelimiter)
}

// ParseBoard parses a board field into a BoardSize x BoardSize grid.
func ParseBoard(field string) ([][]int, error) {
	rows := strings.Split(field, boardRowDelimiter)
	if len(rows) != BoardSize {
		return nil, fmt.Errorf("%w: board has %d rows, want %d", ErrInvalidField, len(rows), BoardSize)
	}
	board := make([][]int, len(rows))
	for i, row := range rows {
		cells := strings.Split(row, boardCellDelimiter)
		if len(cells) != BoardSize {
			return nil, fmt.Errorf("%w: board row %d has %d cells, want %d", ErrInvalidField, i, len(cells), BoardSize)
		}
		board[i] = make([]int, len(cells))
		for j, cell := range cells {
			v, err := strconv.Atoi(cell)
			if err != nil {
				return nil, fmt.Errorf("%w: board cell %d,%d: %v", ErrInvalidField, i, j, err)
			}
			board[i][j] = v
		}
	}
	return board, nil
}
