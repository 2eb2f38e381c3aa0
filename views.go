package main

import (
	"fmt"
	"strings"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"

	"github.com/milvl/inverse-battleships/ibproto"
)

// inputState is one tick's worth of processed input events.
type inputState struct {
	chars                 []rune
	up, down, left, right bool
	backspace             bool
	enter                 bool
	escape                bool
}

// viewResult is what a view hands back to the state machine after input.
type viewResult struct {
	submit  bool
	escape  bool
	text    string
	choice  int
	cell    [2]int
	hasCell bool
}

// view is the capability every screen implements. handleInput is pure state;
// render draws onto the surface. The two are never called concurrently: the
// UI loop owns both, and workers only replace the active view under the
// presentation lock.
type view interface {
	handleInput(in inputState) viewResult
	render(screen *ebiten.Image)
}

const (
	textLeft   = 24
	textTop    = 24
	lineHeight = 16
)

// inputMenu is a single-line text prompt (nickname, server address).
type inputMenu struct {
	label   string
	text    string
	invalid bool
}

func (m *inputMenu) handleInput(in inputState) viewResult {
	for _, ch := range in.chars {
		m.text += string(ch)
		m.invalid = false
	}
	if in.backspace && len(m.text) > 0 {
		runes := []rune(m.text)
		m.text = string(runes[:len(runes)-1])
		m.invalid = false
	}
	if in.enter {
		return viewResult{submit: true, text: m.text}
	}
	if in.escape {
		return viewResult{escape: true}
	}
	return viewResult{}
}

func (m *inputMenu) render(screen *ebiten.Image) {
	ebitenutil.DebugPrintAt(screen, m.label, textLeft, textTop)
	ebitenutil.DebugPrintAt(screen, "> "+m.text+"_", textLeft, textTop+2*lineHeight)
	if m.invalid {
		ebitenutil.DebugPrintAt(screen, "Invalid input, try again.", textLeft, textTop+4*lineHeight)
	}
}

// selectMenu is a vertical list with a cursor.
type selectMenu struct {
	title   string
	options []string
	idx     int
}

func (m *selectMenu) handleInput(in inputState) viewResult {
	if len(m.options) > 0 {
		if in.up {
			m.idx = (m.idx + len(m.options) - 1) % len(m.options)
		}
		if in.down {
			m.idx = (m.idx + 1) % len(m.options)
		}
	}
	if in.enter && len(m.options) > 0 {
		return viewResult{submit: true, choice: m.idx, text: m.options[m.idx]}
	}
	if in.escape {
		return viewResult{escape: true}
	}
	return viewResult{}
}

func (m *selectMenu) render(screen *ebiten.Image) {
	y := textTop
	if m.title != "" {
		ebitenutil.DebugPrintAt(screen, m.title, textLeft, y)
		y += 2 * lineHeight
	}
	for i, opt := range m.options {
		marker := "  "
		if i == m.idx {
			marker = "> "
		}
		ebitenutil.DebugPrintAt(screen, marker+opt, textLeft, y)
		y += lineHeight
	}
}

// infoScreen shows a message and waits for an acknowledgment.
type infoScreen struct {
	msg string
	// extra is re-rendered every frame by a callback so screens like the
	// recovery countdown can tick without input.
	extra func() string
}

func (m *infoScreen) handleInput(in inputState) viewResult {
	if in.enter {
		return viewResult{submit: true}
	}
	if in.escape {
		return viewResult{escape: true}
	}
	return viewResult{}
}

func (m *infoScreen) render(screen *ebiten.Image) {
	y := textTop
	for _, line := range strings.Split(m.msg, "\n") {
		ebitenutil.DebugPrintAt(screen, line, textLeft, y)
		y += lineHeight
	}
	if m.extra != nil {
		ebitenutil.DebugPrintAt(screen, m.extra(), textLeft, y+lineHeight)
	}
}

// boardView is the in-game screen: the 9x9 grid, whose turn it is, the last
// action and the running score.
type boardView struct {
	board        [][]int
	cursor       [2]int
	playerName   string
	opponentName string
	playerOnTurn string
	lastAction   string
	score        int
}

func newBoardView(board [][]int, playerName, opponentName, playerOnTurn string) *boardView {
	if board == nil {
		board = make([][]int, ibproto.BoardSize)
		for i := range board {
			board[i] = make([]int, ibproto.BoardSize)
		}
	}
	return &boardView{
		board:        board,
		playerName:   playerName,
		opponentName: opponentName,
		playerOnTurn: playerOnTurn,
	}
}

// myTurn reports whether the local player may act.
func (v *boardView) myTurn() bool {
	return v.playerOnTurn == v.playerName
}

func (v *boardView) handleInput(in inputState) viewResult {
	if in.up && v.cursor[0] > 0 {
		v.cursor[0]--
	}
	if in.down && v.cursor[0] < ibproto.BoardSize-1 {
		v.cursor[0]++
	}
	if in.left && v.cursor[1] > 0 {
		v.cursor[1]--
	}
	if in.right && v.cursor[1] < ibproto.BoardSize-1 {
		v.cursor[1]++
	}
	if in.enter && v.myTurn() {
		return viewResult{submit: true, cell: v.cursor, hasCell: true}
	}
	if in.escape {
		return viewResult{escape: true}
	}
	return viewResult{}
}

// apply merges pending updates from the network worker into the view. Runs
// on the UI thread under the presentation lock.
func (v *boardView) apply(u pendingUpdates) {
	if u.board != nil {
		v.board = u.board
	}
	if u.hasPlayerName {
		v.playerName = u.playerName
	}
	if u.hasPlayerOnTurn {
		v.playerOnTurn = u.playerOnTurn
	}
	if u.hasOpponent {
		v.opponentName = u.opponentName
	}
	if u.hasLastAction {
		v.lastAction = u.lastAction
	}
	if u.hasScore {
		v.score = u.score
	}
}

func cellGlyph(cell int) string {
	switch {
	case cell > 0:
		return "#"
	case cell < 0:
		return "x"
	default:
		return "."
	}
}

func (v *boardView) render(screen *ebiten.Image) {
	turn := "opponent's turn"
	if v.myTurn() {
		turn = "your turn"
	}
	ebitenutil.DebugPrintAt(screen,
		fmt.Sprintf("%s vs %s  |  %s  |  score %d", v.playerName, v.opponentName, turn, v.score),
		textLeft, textTop)
	for i, row := range v.board {
		var b strings.Builder
		for j, cell := range row {
			if i == v.cursor[0] && j == v.cursor[1] {
				b.WriteString("[" + cellGlyph(cell) + "]")
			} else {
				b.WriteString(" " + cellGlyph(cell) + " ")
			}
		}
		ebitenutil.DebugPrintAt(screen, b.String(), textLeft, textTop+(i+2)*lineHeight)
	}
	if v.lastAction != "" {
		ebitenutil.DebugPrintAt(screen, v.lastAction, textLeft, textTop+(ibproto.BoardSize+3)*lineHeight)
	}
}
