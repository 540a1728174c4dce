package script

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/loadshear/loadshear/internal/resolve"
)

func writeTempPacket(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write temp packet: %v", err)
	}
	return path
}

func baseProgram(t *testing.T, dir string) *Program {
	t.Helper()
	writeTempPacket(t, dir, "p1.bin", 12)

	return &Program{
		Settings: SettingsBlock{
			Identifier:   "s1",
			Protocol:     TCP,
			Shards:       1,
			HandlerValue: "NOP",
			Endpoints:    []string{"127.0.0.1:9"},
			PacketIdentifiers: map[string]string{
				"p1": "p1.bin",
			},
		},
		Orchestrator: OrchestratorBlock{
			Identifier:         "o1",
			SettingsIdentifier: "s1",
			Actions: []Action{
				{Type: Create, Count: 1},
				{Type: Connect, SessionStart: 0, SessionEnd: 1},
			},
		},
	}
}

func verifyOpts(dir string) VerifyOptions {
	return VerifyOptions{
		ResolveOpts: resolve.Options{BaseDir: dir},
		PacketSizes: map[string]int{"p1": 12},
	}
}

func TestVerifyAcceptsMinimalProgram(t *testing.T) {
	dir := t.TempDir()
	p := baseProgram(t, dir)

	if _, err := Verify(p, verifyOpts(dir)); err != nil {
		t.Fatalf("expected minimal program to verify, got %v", err)
	}
}

// TestVerifyRejectsOverlap is S6 from spec.md §8: two modifications on
// one SEND whose ranges (0..8 and 4..12) overlap must be rejected.
func TestVerifyRejectsOverlap(t *testing.T) {
	dir := t.TempDir()
	p := baseProgram(t, dir)
	p.Orchestrator.Actions = append(p.Orchestrator.Actions, Action{
		Type:         Send,
		SessionStart: 0,
		SessionEnd:   1,
		Count:        1,
		PacketID:     "p1",
		Modifications: []Modification{
			{Start: 0, Length: 8, Endian: Little, IsCounter: false, TimestampUnit: Seconds},
			{Start: 4, Length: 8, Endian: Little, IsCounter: true, CounterStep: 1},
		},
	})

	_, err := Verify(p, verifyOpts(dir))
	if err == nil {
		t.Fatal("expected overlap rejection, got nil error")
	}

	ve, ok := err.(*VerifyError)
	if !ok {
		t.Fatalf("expected *VerifyError, got %T", err)
	}
	if ve.Rule != "mod-overlap" {
		t.Errorf("expected mod-overlap rule, got %q", ve.Rule)
	}
}

func TestVerifyRejectsDoubleCreate(t *testing.T) {
	dir := t.TempDir()
	p := baseProgram(t, dir)
	p.Orchestrator.Actions = append(p.Orchestrator.Actions, Action{Type: Create, Count: 1})

	if _, err := Verify(p, verifyOpts(dir)); err == nil {
		t.Fatal("expected rejection of second CREATE")
	}
}

// TestVerifyAcceptsDrainThenDisconnect follows the DRAIN-then-DISCONNECT
// tail of S1 from spec.md §8 on a single session: DRAIN clears the
// connected bit, but a DISCONNECT over the same range
// afterward must still be accepted — disconnectCalled is tracked
// separately from connected (rule 10).
func TestVerifyAcceptsDrainThenDisconnect(t *testing.T) {
	dir := t.TempDir()
	p := baseProgram(t, dir)
	p.Orchestrator.Actions = append(p.Orchestrator.Actions,
		Action{Type: Drain, SessionStart: 0, SessionEnd: 1, DrainTimeoutMS: 10000},
		Action{Type: Disconnect, SessionStart: 0, SessionEnd: 1},
	)

	if _, err := Verify(p, verifyOpts(dir)); err != nil {
		t.Fatalf("expected DRAIN followed by DISCONNECT to verify, got %v", err)
	}
}

func TestVerifyRejectsDoubleDisconnectAfterDrain(t *testing.T) {
	dir := t.TempDir()
	p := baseProgram(t, dir)
	p.Orchestrator.Actions = append(p.Orchestrator.Actions,
		Action{Type: Drain, SessionStart: 0, SessionEnd: 1, DrainTimeoutMS: 10000},
		Action{Type: Disconnect, SessionStart: 0, SessionEnd: 1},
		Action{Type: Disconnect, SessionStart: 0, SessionEnd: 1},
	)

	_, err := Verify(p, verifyOpts(dir))
	if err == nil {
		t.Fatal("expected rejection of a second DISCONNECT over the same range")
	}
	ve, ok := err.(*VerifyError)
	if !ok {
		t.Fatalf("expected *VerifyError, got %T", err)
	}
	if ve.Rule != "double-disconnect" {
		t.Errorf("expected double-disconnect rule, got %q", ve.Rule)
	}
}

func TestVerifyRejectsSendBeforeConnect(t *testing.T) {
	dir := t.TempDir()
	p := &Program{
		Settings: SettingsBlock{
			Identifier:        "s1",
			Protocol:          TCP,
			Shards:            1,
			HandlerValue:      "NOP",
			Endpoints:         []string{"127.0.0.1:9"},
			PacketIdentifiers: map[string]string{"p1": "p1.bin"},
		},
		Orchestrator: OrchestratorBlock{
			Identifier:         "o1",
			SettingsIdentifier: "s1",
			Actions: []Action{
				{Type: Create, Count: 1},
				{Type: Send, SessionStart: 0, SessionEnd: 1, Count: 1, PacketID: "p1"},
			},
		},
	}
	writeTempPacket(t, dir, "p1.bin", 4)

	_, err := Verify(p, VerifyOptions{ResolveOpts: resolve.Options{BaseDir: dir}, PacketSizes: map[string]int{"p1": 4}})
	if err == nil {
		t.Fatal("expected rejection of SEND before CONNECT")
	}
}
