package scriptplan

import (
	"sort"

	"github.com/loadshear/loadshear/internal/action"
	"github.com/loadshear/loadshear/internal/payload"
	"github.com/loadshear/loadshear/internal/resolve"
	"github.com/loadshear/loadshear/internal/script"
	"github.com/loadshear/loadshear/internal/session"
)

// Options carries the CLI-layer choices that affect how a Program is
// lowered but aren't part of the script itself.
type Options struct {
	ResolveOpts resolve.Options
	ArenaInitMB int
}

// Plan is everything the orchestrator needs to run one verified
// Program: the broadcast action timeline, the shared payload catalog,
// and the shared session configuration. Endpoint resolution stays with
// the CLI layer (resolve.Endpoints), since it needs the verified
// Program's Settings.Endpoints/Protocol but isn't part of the lowering
// itself.
type Plan struct {
	Settings *script.SettingsBlock
	Actions  []action.Descriptor
	Payloads *payload.Manager
	Config   *session.Config

	// PacketSizes is exposed for CLI callers that re-verify after
	// resolving (script.VerifyOptions.PacketSizes).
	PacketSizes map[string]int
}

// Build lowers an already-Verify'd Program. Verify must run first:
// Build trusts range/ordering correctness completely, the same way
// the pool trusts the verifier (spec §4.5).
func Build(p *script.Program, opts Options) (*Plan, error) {
	arena := NewPacketArena(opts.ArenaInitMB * 1024 * 1024)

	ids := sortedPacketIDs(p.Settings.PacketIdentifiers)
	rawBytes := make(map[string][]byte, len(ids))
	packetSizes := make(map[string]int, len(ids))

	for _, id := range ids {
		path, err := resolve.File(p.Settings.PacketIdentifiers[id], opts.ResolveOpts)
		if err != nil {
			return nil, err
		}
		data, err := resolve.ReadBinary(path)
		if err != nil {
			return nil, err
		}
		body := arena.Copy(data)
		rawBytes[id] = body
		packetSizes[id] = len(body)
	}

	variants := make([]payload.Descriptor, 0, len(ids))
	counterSteps := make([][]uint32, 0, len(ids))
	sequence := make([]int, 0)

	sendSeen := false
	var actions []action.Descriptor
	var abs uint64

	for _, a := range p.Orchestrator.Actions {
		abs += a.OffsetMS

		switch a.Type {
		case script.Create:
			actions = append(actions, action.MakeCreate(0, a.Count, abs))

		case script.Connect:
			actions = append(actions, action.MakeConnect(a.SessionStart, a.SessionEnd, abs))

		case script.Send:
			sendSeen = true
			steps := []uint32{}
			ops := buildOps(packetSizes[a.PacketID], a.Modifications, &steps)
			variantIdx := len(variants)
			variants = append(variants, payload.Descriptor{PacketBytes: rawBytes[a.PacketID], Ops: ops})
			counterSteps = append(counterSteps, steps)

			for i := uint32(0); i < a.Count; i++ {
				sequence = append(sequence, variantIdx)
			}

			actions = append(actions, action.MakeSend(a.SessionStart, a.SessionEnd, a.Count, abs))

		case script.Flood:
			actions = append(actions, action.MakeFlood(a.SessionStart, a.SessionEnd, abs))

		case script.Drain:
			actions = append(actions, action.MakeDrain(a.SessionStart, a.SessionEnd, a.DrainTimeoutMS, abs))

		case script.Disconnect:
			actions = append(actions, action.MakeDisconnect(a.SessionStart, a.SessionEnd, abs))
		}
	}

	// A script with no SEND action at all (S1: bare CREATE/CONNECT/
	// FLOOD/DRAIN/DISCONNECT) still needs something for FLOOD to draw
	// from: one identity-only variant per catalog packet, in sorted id
	// order, giving "P = number of payload variants" its S1 value of
	// len(packet catalog).
	if !sendSeen {
		for _, id := range ids {
			variants = append(variants, payload.Descriptor{
				PacketBytes: rawBytes[id],
				Ops:         []payload.Op{{Type: payload.Identity, Length: uint32(packetSizes[id])}},
			})
			counterSteps = append(counterSteps, nil)
			sequence = append(sequence, len(variants)-1)
		}
	}

	manager := payload.NewManager(variants, counterSteps)

	cfg := &session.Config{
		HeaderSize:  p.Settings.HeaderSize,
		BodyMax:     p.Settings.BodyMax,
		ReadEnabled: p.Settings.ReadEnabled,
		Repeat:      p.Settings.Repeat,
		Sequence:    sequence,
	}

	return &Plan{
		Settings:    &p.Settings,
		Actions:     actions,
		Payloads:    manager,
		Config:      cfg,
		PacketSizes: packetSizes,
	}, nil
}

// buildOps turns one SEND action's modification list into an ordered
// payload.Op sequence covering every byte of the packet exactly once:
// identity ops fill the gaps between (and after) modifications, which
// Verify has already guaranteed are sorted-disjoint... except Verify
// doesn't sort them, so buildOps does, to assemble a well-formed op
// list regardless of the order modifications were declared in.
func buildOps(packetLen int, mods []script.Modification, counterStepsOut *[]uint32) []payload.Op {
	sorted := make([]script.Modification, len(mods))
	copy(sorted, mods)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	ops := make([]payload.Op, 0, len(sorted)*2+1)
	var cursor uint32
	counterIdx := 0

	for _, m := range sorted {
		if m.Start > cursor {
			ops = append(ops, payload.Op{Type: payload.Identity, Length: m.Start - cursor})
		}

		if m.IsCounter {
			ops = append(ops, payload.Op{
				Type:         payload.Counter,
				Length:       m.Length,
				LittleEndian: m.Endian == script.Little,
				CounterIndex: counterIdx,
			})
			*counterStepsOut = append(*counterStepsOut, m.CounterStep)
			counterIdx++
		} else {
			ops = append(ops, payload.Op{
				Type:         payload.Timestamp,
				Length:       m.Length,
				LittleEndian: m.Endian == script.Little,
				Unit:         payload.TimestampUnit(m.TimestampUnit),
			})
		}

		cursor = m.End()
	}

	if int(cursor) < packetLen {
		ops = append(ops, payload.Op{Type: payload.Identity, Length: uint32(packetLen) - cursor})
	}

	return ops
}

func sortedPacketIDs(m map[string]string) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
