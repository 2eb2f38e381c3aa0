package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/hajimehoshi/ebiten/v2"
)

// baseDir is where logs, captures and per-user configuration live. It is the
// directory of the executable, falling back to the working directory.
var baseDir string

func resolveBaseDir() string {
	exe, err := os.Executable()
	if err == nil {
		return filepath.Dir(exe)
	}
	wd, err := os.Getwd()
	if err == nil {
		return wd
	}
	return "."
}

func main() {
	debugFlag := flag.Bool("debug", false, "enable debug logging and the state overlay")
	netLogFlag := flag.String("netlog", "", "record all traffic into a pcap file at the given path")
	discordFlag := flag.Bool("discord", false, "publish the session state as Discord rich presence")
	flag.Parse()

	baseDir = resolveBaseDir()
	setupLogging(*debugFlag)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var dump *netDump
	if *netLogFlag != "" {
		var err error
		dump, err = newNetDump(*netLogFlag)
		if err != nil {
			fmt.Printf("could not open the capture file: %v\n", err)
			os.Exit(1)
		}
		defer dump.close()
		logDebug("capturing traffic to %v", *netLogFlag)
	}

	g := newGame(ctx, dump)
	g.discord = *discordFlag
	if *discordFlag {
		initDiscordRPC(ctx)
	}

	ebiten.SetWindowTitle("Inverse Battleships")
	ebiten.SetWindowSize(windowWidth, windowHeight)
	ebiten.SetTPS(30)

	shell := &uiShell{g: g, debugMode: *debugFlag}
	if err := ebiten.RunGame(shell); err != nil {
		logError("game loop: %v", err)
	}

	// Unwind whatever is still running before the process exits.
	cancel()
	g.connectionCleanup()
}
