// Package script models the parsed DSL program (spec.md §3, §6.2) and
// implements the semantic verifier (§4.8). The lexer/parser that
// produces a Program is an external collaborator (§1); this package
// only consumes its output.
package script

// Protocol is the transport the SettingsBlock targets. Only TCP is
// accepted by the verifier today (§4.8 rule 1); UDP sessions exist in
// the runtime (§4.4) but script-level UDP programs are not yet
// reachable through the DSL, matching the source's own scope.
type Protocol uint8

const (
	TCP Protocol = iota
	UDP
)

func (p Protocol) String() string {
	if p == UDP {
		return "UDP"
	}
	return "TCP"
}

// Endian selects byte order for a modification.
type Endian uint8

const (
	Little Endian = iota
	Big
)

// TimestampUnit mirrors payload.TimestampUnit at the script level, kept
// distinct so this package has no dependency on internal/payload.
type TimestampUnit uint8

const (
	Seconds TimestampUnit = iota
	Milliseconds
	Microseconds
	Nanoseconds
)

// Modification is one byte-range patch declared on a SEND action:
// `[Start, Start+Length)`, either a monotonic counter or a wall-clock
// timestamp.
type Modification struct {
	Start    uint32
	Length   uint32
	Endian   Endian
	IsCounter bool

	// CounterStep is used when IsCounter; must be 1..MaxUint32 per
	// rule 11 ("counter step > 0").
	CounterStep uint32

	// TimestampUnit is used when !IsCounter.
	TimestampUnit TimestampUnit
}

func (m Modification) End() uint32 {
	return m.Start + m.Length
}

// ActionType enumerates the six script-level action kinds (§3).
type ActionType uint8

const (
	Create ActionType = iota
	Connect
	Send
	Flood
	Drain
	Disconnect
)

func (t ActionType) String() string {
	switch t {
	case Create:
		return "CREATE"
	case Connect:
		return "CONNECT"
	case Send:
		return "SEND"
	case Flood:
		return "FLOOD"
	case Drain:
		return "DRAIN"
	case Disconnect:
		return "DISCONNECT"
	default:
		return "UNKNOWN"
	}
}

// Action is one parsed timeline step, a tagged variant over the fields
// relevant to its Type (spec §3).
type Action struct {
	Type            ActionType
	SessionStart    uint32
	SessionEnd      uint32
	Count           uint32 // CREATE session count; SEND copies
	OffsetMS        uint64
	PacketID        string // SEND only
	Modifications   []Modification
	DrainTimeoutMS  uint32 // DRAIN only
}

// SettingsBlock is the script-level `SETTINGS <id> { ... }` block.
type SettingsBlock struct {
	Identifier  string
	Protocol    Protocol
	HeaderSize  uint32
	BodyMax     uint32
	ReadEnabled bool
	Repeat      bool
	Shards      uint32

	// HandlerValue is "NOP" or a path to a .wasm handler (§3).
	HandlerValue string

	Endpoints []string

	// PacketIdentifiers maps a script-level packet id to its file
	// path, resolved by internal/resolve at plan-build time.
	PacketIdentifiers map[string]string
}

// OrchestratorBlock is the script-level `ORCHESTRATOR <id> { ... }`
// block: the settings it targets plus the action timeline.
type OrchestratorBlock struct {
	Identifier          string
	SettingsIdentifier  string
	Actions             []Action
}

// Program is the full parsed-and-not-yet-verified script.
type Program struct {
	Settings     SettingsBlock
	Orchestrator OrchestratorBlock
}
