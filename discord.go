package main

import (
	"context"
	"time"

	client "github.com/hugolgst/rich-go/client"
)

var discordReady bool

var discordDetails = map[uiState]string{
	stateInit:           "Starting up",
	stateMainMenu:       "In the main menu",
	stateSettingsMenu:   "In the main menu",
	stateConnectionMenu: "Connecting",
	stateLobbySelection: "Browsing lobbies",
	stateLobby:          "Waiting in a lobby",
	stateGameSession:    "In a game",
	stateGameEnd:        "Finished a game",
	stateNetRecovery:    "Reconnecting",
}

func initDiscordRPC(ctx context.Context) {
	if err := client.Login("1406171210240360508"); err != nil {
		logError("discord rpc login: %v", err)
		return
	}
	discordReady = true
	go func() {
		<-ctx.Done()
		client.Logout()
	}()
}

// updateDiscordPresence mirrors the session state into the presence. Called
// from the UI loop on state changes only.
func updateDiscordPresence(state uiState) {
	if !discordReady {
		return
	}
	details, ok := discordDetails[state]
	if !ok {
		details = "Playing"
	}
	now := time.Now()
	if err := client.SetActivity(client.Activity{
		State:   "Inverse Battleships",
		Details: details,
		Timestamps: &client.Timestamps{
			Start: &now,
		},
	}); err != nil {
		logError("discord rpc activity: %v", err)
	}
}
