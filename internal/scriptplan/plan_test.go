package scriptplan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/loadshear/loadshear/internal/resolve"
	"github.com/loadshear/loadshear/internal/script"
)

func writePacket(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing fixture packet: %v", err)
	}
	return name
}

// bareProgram builds the CREATE/CONNECT/FLOOD/DRAIN/DISCONNECT-only
// shape from spec §8's S1 scenario: no SEND action anywhere, so
// payload variants must fall back to one identity variant per catalog
// packet.
func bareProgram(packetIDs map[string]string) *script.Program {
	return &script.Program{
		Settings: script.SettingsBlock{
			Identifier:        "s1",
			Protocol:          script.TCP,
			HeaderSize:        0,
			BodyMax:           1500,
			Shards:            1,
			HandlerValue:      "NOP",
			Endpoints:         []string{"127.0.0.1:9"},
			PacketIdentifiers: packetIDs,
		},
		Orchestrator: script.OrchestratorBlock{
			Identifier:         "orch",
			SettingsIdentifier: "s1",
			Actions: []script.Action{
				{Type: script.Create, SessionStart: 0, SessionEnd: 4, OffsetMS: 0},
				{Type: script.Connect, SessionStart: 0, SessionEnd: 4, OffsetMS: 0},
				{Type: script.Flood, SessionStart: 0, SessionEnd: 4, OffsetMS: 100},
				{Type: script.Drain, SessionStart: 0, SessionEnd: 4, DrainTimeoutMS: 50, OffsetMS: 200},
				{Type: script.Disconnect, SessionStart: 0, SessionEnd: 4, OffsetMS: 50},
			},
		},
	}
}

func TestBuildPureFloodFallsBackToOneVariantPerPacket(t *testing.T) {
	dir := t.TempDir()
	writePacket(t, dir, "a.bin", []byte{1, 2, 3, 4})
	writePacket(t, dir, "b.bin", []byte{5, 6, 7, 8, 9})

	p := bareProgram(map[string]string{"a": "a.bin", "b": "b.bin"})

	plan, err := Build(p, Options{ResolveOpts: resolve.Options{BaseDir: dir}, ArenaInitMB: 1})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if got, want := plan.Payloads.Count(), 2; got != want {
		t.Fatalf("payload variant count = %d, want %d (len of packet catalog)", got, want)
	}
	if got, want := len(plan.Config.Sequence), 2; got != want {
		t.Fatalf("len(Sequence) = %d, want %d", got, want)
	}
	if got, want := len(plan.Actions), 5; got != want {
		t.Fatalf("len(Actions) = %d, want %d", got, want)
	}

	// Absolute offsets are a prefix sum of each action's own OffsetMS.
	wantAbs := []uint64{0, 0, 100, 300, 350}
	for i, a := range plan.Actions {
		if a.OffsetMS != wantAbs[i] {
			t.Errorf("action %d OffsetMS = %d, want %d", i, a.OffsetMS, wantAbs[i])
		}
	}
}

func TestBuildSendBuildsSequenceFromCopies(t *testing.T) {
	dir := t.TempDir()
	writePacket(t, dir, "ping.bin", []byte{0, 0, 0, 0, 0, 0, 0, 0})

	p := &script.Program{
		Settings: script.SettingsBlock{
			Identifier:        "s2",
			Protocol:          script.TCP,
			BodyMax:           1500,
			Shards:            1,
			HandlerValue:      "NOP",
			Endpoints:         []string{"127.0.0.1:9"},
			PacketIdentifiers: map[string]string{"ping": "ping.bin"},
		},
		Orchestrator: script.OrchestratorBlock{
			Identifier:         "orch",
			SettingsIdentifier: "s2",
			Actions: []script.Action{
				{Type: script.Create, SessionStart: 0, SessionEnd: 2, OffsetMS: 0},
				{Type: script.Connect, SessionStart: 0, SessionEnd: 2, OffsetMS: 0},
				{
					Type: script.Send, SessionStart: 0, SessionEnd: 2, Count: 3, OffsetMS: 10,
					PacketID: "ping",
					Modifications: []script.Modification{
						{Start: 0, Length: 4, IsCounter: true, CounterStep: 1},
					},
				},
			},
		},
	}

	plan, err := Build(p, Options{ResolveOpts: resolve.Options{BaseDir: dir}, ArenaInitMB: 1})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if got, want := plan.Payloads.Count(), 1; got != want {
		t.Fatalf("payload variant count = %d, want %d", got, want)
	}
	if got, want := len(plan.Config.Sequence), 3; got != want {
		t.Fatalf("len(Sequence) = %d, want %d (SEND copies)", got, want)
	}
	for _, idx := range plan.Config.Sequence {
		if idx != 0 {
			t.Errorf("Sequence entry = %d, want 0 (single variant)", idx)
		}
	}
}

func TestBuildOpsFillsIdentityGapsAroundModifications(t *testing.T) {
	mods := []script.Modification{
		{Start: 4, Length: 4, IsCounter: true, CounterStep: 2},
	}
	var steps []uint32
	ops := buildOps(10, mods, &steps)

	if len(ops) != 3 {
		t.Fatalf("len(ops) = %d, want 3 (leading identity, counter, trailing identity)", len(ops))
	}
	if ops[0].Length != 4 {
		t.Errorf("leading identity length = %d, want 4", ops[0].Length)
	}
	if ops[1].Length != 4 {
		t.Errorf("counter op length = %d, want 4", ops[1].Length)
	}
	if ops[2].Length != 2 {
		t.Errorf("trailing identity length = %d, want 2", ops[2].Length)
	}
	if len(steps) != 1 || steps[0] != 2 {
		t.Errorf("counterStepsOut = %v, want [2]", steps)
	}
}

func TestPacketArenaCopyPreservesPreviousSlices(t *testing.T) {
	arena := NewPacketArena(1)

	first := arena.Copy([]byte{1, 2, 3})
	second := arena.Copy(make([]byte, 64))

	_ = second
	for i, want := range []byte{1, 2, 3} {
		if first[i] != want {
			t.Fatalf("first slice corrupted after growth: got %v, want prefix [1 2 3]", first)
		}
	}
}
