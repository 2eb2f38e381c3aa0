package main

import "testing"

func TestNetworkedStates(t *testing.T) {
	networked := []uiState{
		stateConnectionMenu, stateLobbySelection, stateLobby,
		stateGameSession, stateNetRecovery,
	}
	for _, s := range networked {
		if !s.networked() {
			t.Errorf("expected %v to be networked", s)
		}
	}
	idle := []uiState{
		stateInit, stateMainMenu, stateSettingsMenu, stateGameEnd, stateAlert,
	}
	for _, s := range idle {
		if s.networked() {
			t.Errorf("expected %v not to be networked", s)
		}
	}
}

func TestStateNames(t *testing.T) {
	if got := stateGameSession.String(); got != "GAME_SESSION" {
		t.Errorf("expected GAME_SESSION, got %v", got)
	}
	if got := statusGameSessionReconnected.String(); got != "GAME_SESSION_RECONNECTED" {
		t.Errorf("expected GAME_SESSION_RECONNECTED, got %v", got)
	}
	if got := uiState(99).String(); got != "UNKNOWN_STATE" {
		t.Errorf("expected UNKNOWN_STATE, got %v", got)
	}
}
