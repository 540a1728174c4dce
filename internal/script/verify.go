package script

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/loadshear/loadshear/internal/resolve"
	"github.com/loadshear/loadshear/internal/scripterr"
)

// VerifyError is the structured diagnostic a failed Verify call
// returns: which §4.8 rule failed, and at which action index.
type VerifyError = scripterr.ScriptError

// VerifyOptions carries the bits the verifier needs from the CLI layer
// to check file resolvability without owning file I/O policy itself.
type VerifyOptions struct {
	ResolveOpts resolve.Options

	// PacketSizes maps a packet id to its resolved byte length, used
	// by rule 11 to bound-check modification ranges. Populated by the
	// CLI after resolving every packet path but before calling Verify.
	PacketSizes map[string]int
}

// Verify runs all twelve rules from spec.md §4.8 in order, stopping at
// the first failure. A passing Program is safe to lower into an
// execution plan without further range/ordering checks — the pool and
// shard layers trust the verifier completely (§4.5: "the pool does not
// re-check").
func Verify(p *Program, opts VerifyOptions) (*Program, error) {
	s := &p.Settings
	o := &p.Orchestrator

	// Rule 1.
	if strings.TrimSpace(s.Identifier) == "" {
		return nil, scripterr.NewScriptError("identifier", -1, fmt.Errorf("settings identifier must be non-empty"))
	}
	if s.Protocol != TCP {
		return nil, scripterr.NewScriptError("protocol", -1, fmt.Errorf("only TCP is supported, got %v", s.Protocol))
	}
	if s.ReadEnabled && s.BodyMax == 0 {
		return nil, scripterr.NewScriptError("body-max", -1, fmt.Errorf("body_max must be > 0 when read is enabled"))
	}

	// Rule 2.
	if s.Shards == 0 {
		s.Shards = uint32(runtime.GOMAXPROCS(0))
		if s.Shards == 0 {
			s.Shards = 1
		}
	}

	// Rule 3.
	if len(s.Endpoints) == 0 {
		return nil, scripterr.NewScriptError("endpoints", -1, fmt.Errorf("at least one endpoint is required"))
	}
	if len(s.PacketIdentifiers) == 0 {
		return nil, scripterr.NewScriptError("packets", -1, fmt.Errorf("at least one packet must be defined"))
	}
	for id, path := range s.PacketIdentifiers {
		if _, err := resolve.File(path, opts.ResolveOpts); err != nil {
			return nil, scripterr.NewScriptError("packet-path", -1, fmt.Errorf("packet %q: %w", id, err))
		}
	}

	// Rule 4.
	if s.ReadEnabled {
		if s.HandlerValue != "NOP" {
			if !strings.HasSuffix(s.HandlerValue, ".wasm") {
				return nil, scripterr.NewScriptError("handler", -1, fmt.Errorf("handler_value must be \"NOP\" or a .wasm path, got %q", s.HandlerValue))
			}
			if _, err := resolve.File(s.HandlerValue, opts.ResolveOpts); err != nil {
				return nil, scripterr.NewScriptError("handler-path", -1, err)
			}
		}
	}

	// Rule 5.
	if o.SettingsIdentifier != s.Identifier {
		return nil, scripterr.NewScriptError("settings-match", -1, fmt.Errorf("orchestrator settings_identifier %q does not match settings block %q", o.SettingsIdentifier, s.Identifier))
	}

	if err := verifyActions(s, o, opts.PacketSizes); err != nil {
		return nil, err
	}

	return p, nil
}

func verifyActions(s *SettingsBlock, o *OrchestratorBlock, packetSizes map[string]int) error {
	actions := o.Actions

	// Rule 6.
	if len(actions) == 0 || actions[0].Type != Create {
		return scripterr.NewScriptError("create-first", 0, fmt.Errorf("program must begin with exactly one CREATE action"))
	}
	for i := 1; i < len(actions); i++ {
		if actions[i].Type == Create {
			return scripterr.NewScriptError("create-first", i, fmt.Errorf("CREATE may appear only once, as the first action"))
		}
	}

	createCount := actions[0].Count
	if createCount < s.Shards {
		return scripterr.NewScriptError("create-first", 0, fmt.Errorf("CREATE count %d must be >= shard count %d", createCount, s.Shards))
	}

	connected := make([]bool, createCount)
	// disconnectCalled is tracked separately from connected: DRAIN
	// clears the connected bit (rule 9 must reject SEND/FLOOD/DRAIN
	// after a DRAIN without a CONNECT in between), but DISCONNECT's
	// own "already disconnected" check must survive a DRAIN that came
	// first — a script may legitimately DRAIN then DISCONNECT the same
	// range (spec §4.8 rule 10; original interpreter.cpp's
	// session_disconnect_called bitmap exists for exactly this reason).
	disconnectCalled := make([]bool, createCount)

	for i, a := range actions {
		if a.Type == Create {
			continue
		}

		// Rule 7.
		if a.SessionEnd > createCount || a.SessionStart >= a.SessionEnd {
			return scripterr.NewScriptError("range-bounds", i, fmt.Errorf("range [%d, %d) escapes [0, %d)", a.SessionStart, a.SessionEnd, createCount))
		}

		switch a.Type {
		case Connect:
			for idx := a.SessionStart; idx < a.SessionEnd; idx++ {
				// Rule 8.
				if connected[idx] {
					return scripterr.NewScriptError("double-connect", i, fmt.Errorf("session %d is already connected", idx))
				}
				connected[idx] = true
			}

		case Send, Flood, Drain:
			for idx := a.SessionStart; idx < a.SessionEnd; idx++ {
				// Rule 9.
				if !connected[idx] {
					return scripterr.NewScriptError("not-connected", i, fmt.Errorf("session %d is not connected", idx))
				}
			}
			if a.Type == Drain {
				for idx := a.SessionStart; idx < a.SessionEnd; idx++ {
					connected[idx] = false
				}
				// Rule 12.
				if a.DrainTimeoutMS == 0 {
					return scripterr.NewScriptError("drain-timeout", i, fmt.Errorf("DRAIN timeout must be > 0"))
				}
			}
			if a.Type == Send {
				if err := verifySend(s, a, i, packetSizes); err != nil {
					return err
				}
			}

		case Disconnect:
			for idx := a.SessionStart; idx < a.SessionEnd; idx++ {
				// Rule 10.
				if disconnectCalled[idx] {
					return scripterr.NewScriptError("double-disconnect", i, fmt.Errorf("session %d is already disconnected", idx))
				}
				disconnectCalled[idx] = true
				connected[idx] = false
			}
		}
	}

	return nil
}

func verifySend(s *SettingsBlock, a Action, actionIndex int, packetSizes map[string]int) error {
	// Rule 11.
	if a.Count < 1 {
		return scripterr.NewScriptError("send-copies", actionIndex, fmt.Errorf("COPIES must be >= 1"))
	}

	if _, known := s.PacketIdentifiers[a.PacketID]; !known {
		return scripterr.NewScriptError("unknown-packet", actionIndex, fmt.Errorf("packet id %q is not defined", a.PacketID))
	}

	packetSize, haveSize := packetSizes[a.PacketID]

	covered := make([]bool, 0)
	ensureCovered := func(n int) {
		for len(covered) < n {
			covered = append(covered, false)
		}
	}

	for _, mod := range a.Modifications {
		if mod.Length == 0 || mod.Length > 8 {
			return scripterr.NewScriptError("mod-length", actionIndex, fmt.Errorf("modification length %d must be in [1, 8]", mod.Length))
		}
		if mod.IsCounter && mod.CounterStep == 0 {
			return scripterr.NewScriptError("counter-step", actionIndex, fmt.Errorf("counter step must be > 0"))
		}
		if haveSize && int(mod.End()) > packetSize {
			return scripterr.NewScriptError("mod-range", actionIndex, fmt.Errorf("modification range [%d, %d) exceeds packet size %d", mod.Start, mod.End(), packetSize))
		}

		ensureCovered(int(mod.End()))
		for i := mod.Start; i < mod.End(); i++ {
			// Rule 11: overlap check.
			if covered[i] {
				return scripterr.NewScriptError("mod-overlap", actionIndex, fmt.Errorf("modification range [%d, %d) overlaps a previous modification", mod.Start, mod.End()))
			}
			covered[i] = true
		}
	}

	return nil
}
