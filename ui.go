package main

import (
	"fmt"

	humanize "github.com/dustin/go-humanize"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
)

const (
	windowWidth  = 640
	windowHeight = 480
)

// uiShell adapts the game state machine to ebiten's run loop. Update runs on
// the UI thread and is the only caller of game.update; Draw renders whatever
// view is active at that moment.
type uiShell struct {
	g         *game
	charBuf   []rune
	debugMode bool
}

// collectInput folds this frame's raw events into one inputState.
func (u *uiShell) collectInput() inputState {
	u.charBuf = ebiten.AppendInputChars(u.charBuf[:0])
	in := inputState{
		up:        inpututil.IsKeyJustPressed(ebiten.KeyArrowUp),
		down:      inpututil.IsKeyJustPressed(ebiten.KeyArrowDown),
		left:      inpututil.IsKeyJustPressed(ebiten.KeyArrowLeft),
		right:     inpututil.IsKeyJustPressed(ebiten.KeyArrowRight),
		backspace: inpututil.IsKeyJustPressed(ebiten.KeyBackspace),
		enter:     inpututil.IsKeyJustPressed(ebiten.KeyEnter) || inpututil.IsKeyJustPressed(ebiten.KeyNumpadEnter),
		escape:    inpututil.IsKeyJustPressed(ebiten.KeyEscape),
	}
	for _, ch := range u.charBuf {
		if ch >= ' ' {
			in.chars = append(in.chars, ch)
		}
	}
	return in
}

func (u *uiShell) Update() error {
	select {
	case <-u.g.ctx.Done():
		return ebiten.Termination
	default:
	}
	if u.g.update(u.collectInput()) {
		return ebiten.Termination
	}
	return nil
}

func (u *uiShell) Draw(screen *ebiten.Image) {
	u.g.viewMu.Lock()
	if u.g.view != nil {
		u.g.view.render(screen)
	}
	u.g.viewMu.Unlock()
	if u.debugMode {
		u.drawDebugOverlay(screen)
	}
}

// drawDebugOverlay prints the live state in the bottom left corner.
func (u *uiShell) drawDebugOverlay(screen *ebiten.Image) {
	st := u.g.snapshotState()
	line := st.ui.String()
	if st.ui.networked() {
		line = fmt.Sprintf("%v / %v", st.ui, st.status)
	}
	u.g.sessionMu.Lock()
	sess := u.g.sess
	u.g.sessionMu.Unlock()
	if sess != nil && sess.isRunning() {
		if last := sess.lastReplyTime(); !last.IsZero() {
			line += "  last reply " + humanize.Time(last)
		}
	}
	ebitenutil.DebugPrintAt(screen, line, textLeft, windowHeight-2*lineHeight)
	ebitenutil.DebugPrintAt(screen,
		fmt.Sprintf("%.0f fps / %.0f tps", ebiten.ActualFPS(), ebiten.ActualTPS()),
		textLeft, windowHeight-lineHeight)
}

func (u *uiShell) Layout(outsideWidth, outsideHeight int) (int, int) {
	return windowWidth, windowHeight
}
