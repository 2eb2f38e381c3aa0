package ibproto

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestEncode_Handshake(t *testing.T) {
	frame, err := Encode(CmdHandshake, "alice")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if frame != "IBGAME;HAND;alice\n" {
		t.Fatalf("expected IBGAME;HAND;alice\\n, got %q", frame)
	}
}

func TestEncode_EscapesDelimiter(t *testing.T) {
	frame, err := Encode(CmdHandshake, "a;b")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(frame, `a\;b`) {
		t.Fatalf("expected escaped delimiter in %q", frame)
	}
	fields, err := Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(fields) != 2 || fields[1] != "a;b" {
		t.Fatalf("expected [HAND a;b], got %v", fields)
	}
}

func TestEncode_RejectsTerminator(t *testing.T) {
	if _, err := Encode(CmdHandshake, "al\nice"); !errors.Is(err, ErrInvalidField) {
		t.Fatalf("expected ErrInvalidField, got %v", err)
	}
}

func TestDecode_Board(t *testing.T) {
	fields, err := Decode("IBGAME;BOARD;0:0:1,1:-1:0\n")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []string{"BOARD", "0:0:1,1:-1:0"}
	if !reflect.DeepEqual(fields, want) {
		t.Fatalf("expected %v, got %v", want, fields)
	}
}

func TestDecode_InvalidHeader(t *testing.T) {
	if _, err := Decode("NOPE;PING\n"); !errors.Is(err, ErrInvalidHeader) {
		t.Fatalf("expected ErrInvalidHeader, got %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	cases := [][]string{
		{"one"},
		{"a;b", "plain", ""},
		{`back\slash`, `both\;mixed`},
		{"trailing backslash" + `\`},
	}
	for _, fields := range cases {
		frame, err := Encode(CmdBoard, fields...)
		if err != nil {
			t.Fatalf("encode %v: %v", fields, err)
		}
		decoded, err := Decode(frame)
		if err != nil {
			t.Fatalf("decode %q: %v", frame, err)
		}
		if !reflect.DeepEqual(decoded[1:], fields) {
			t.Fatalf("round trip %v: got %v", fields, decoded[1:])
		}
	}
}

func TestParse_SplitsCommand(t *testing.T) {
	resp, err := Parse("IBGAME;TURN;alice\n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if resp.Command != CmdTurn || len(resp.Params) != 1 || resp.Params[0] != "alice" {
		t.Fatalf("expected TURN [alice], got %v", resp)
	}
}

func TestSplitComplete_SingleFrame(t *testing.T) {
	complete, frame, rest := SplitComplete("IBGAME;PONG\n")
	if !complete || frame != "IBGAME;PONG\n" || rest != "" {
		t.Fatalf("expected whole buffer as frame, got %v %q %q", complete, frame, rest)
	}
}

func TestSplitComplete_Incomplete(t *testing.T) {
	complete, frame, rest := SplitComplete("IBGAME;PO")
	if complete || frame != "IBGAME;PO" || rest != "" {
		t.Fatalf("expected incomplete buffer retained, got %v %q %q", complete, frame, rest)
	}
}

func TestSplitComplete_Remainder(t *testing.T) {
	complete, frame, rest := SplitComplete("IBGAME;PONG\nIBGAME;PI")
	if !complete || frame != "IBGAME;PONG\n" || rest != "IBGAME;PI" {
		t.Fatalf("expected remainder after terminator, got %v %q %q", complete, frame, rest)
	}
	// The remainder must itself reassemble into a valid frame.
	complete, frame, rest = SplitComplete(rest + "NG\n")
	if !complete || frame != "IBGAME;PING\n" || rest != "" {
		t.Fatalf("expected reassembled second frame, got %v %q %q", complete, frame, rest)
	}
	if _, err := Decode(frame); err != nil {
		t.Fatalf("decode reassembled frame: %v", err)
	}
}

func TestSplitComplete_ArbitrarySegmentation(t *testing.T) {
	const stream = "IBGAME;TURN;bob\nIBGAME;BOARD;0:1\nIBGAME;WIN\n"
	want := []string{"IBGAME;TURN;bob\n", "IBGAME;BOARD;0:1\n", "IBGAME;WIN\n"}
	for cut := 1; cut < len(stream); cut++ {
		var frames []string
		buffer := ""
		for _, chunk := range []string{stream[:cut], stream[cut:]} {
			buffer += chunk
			for {
				complete, frame, rest := SplitComplete(buffer)
				if !complete {
					break
				}
				frames = append(frames, frame)
				buffer = rest
			}
		}
		if !reflect.DeepEqual(frames, want) {
			t.Fatalf("cut at %d: expected %v, got %v", cut, want, frames)
		}
	}
}

func TestBoardRoundTrip(t *testing.T) {
	board := make([][]int, BoardSize)
	for i := range board {
		board[i] = make([]int, BoardSize)
		board[i][i%BoardSize] = 1
		board[i][(i+3)%BoardSize] = -1
	}
	parsed, err := ParseBoard(EncodeBoard(board))
	if err != nil {
		t.Fatalf("parse board: %v", err)
	}
	if !reflect.DeepEqual(parsed, board) {
		t.Fatalf("expected %v, got %v", board, parsed)
	}
}

func TestParseBoard_WrongShape(t *testing.T) {
	if _, err := ParseBoard("0:1,2:3"); !errors.Is(err, ErrInvalidField) {
		t.Fatalf("expected ErrInvalidField, got %v", err)
	}
	bad := EncodeBoard(make([][]int, BoardSize)) // rows with zero cells
	if _, err := ParseBoard(bad); !errors.Is(err, ErrInvalidField) {
		t.Fatalf("expected ErrInvalidField for empty rows, got %v", err)
	}
}
