// Package resolve implements the file and endpoint resolution
// collaborator referenced throughout spec.md (§1 "file I/O and path
// resolution" is named an external collaborator for the DSL/CLI
// layer, but HostInfo's own endpoint resolution, §3, is core). It is
// grounded on original_source/src/resolver/resolver.h's
// resolve_file/read_binary_file contract, rendered without the
// filesystem-arena plumbing that belongs to the CLI layer, not the
// core.
package resolve

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/loadshear/loadshear/internal/scripterr"
)

// Options controls how script-relative paths are resolved, mirroring
// ResolverOptions in the original source.
type Options struct {
	// BaseDir is the directory script-relative paths are joined
	// against (typically the script file's own directory).
	BaseDir string

	// ExpandEnvs enables `$VAR`/`${VAR}` substitution in raw paths
	// before joining, matching the CLI's --expand-envs flag (§6.3).
	ExpandEnvs bool
}

// File resolves a raw path (a packet body or a .wasm handler path, as
// named in SettingsBlock.packet_identifiers / handler_value) to an
// absolute, existence-checked path.
func File(raw string, opts Options) (string, error) {
	candidate := raw
	if opts.ExpandEnvs {
		candidate = os.ExpandEnv(candidate)
	}

	if !filepath.IsAbs(candidate) && opts.BaseDir != "" {
		candidate = filepath.Join(opts.BaseDir, candidate)
	}

	info, err := os.Stat(candidate)
	if err != nil {
		return "", scripterr.NewResolveError(raw, err)
	}
	if info.IsDir() {
		return "", scripterr.NewResolveError(raw, fmt.Errorf("is a directory, not a file"))
	}

	return candidate, nil
}

// ReadBinary reads the full contents of a resolved path, matching
// read_binary_file's "whole file into memory" contract — packet
// bodies and compiled WASM modules are both small enough that
// streaming isn't warranted.
func ReadBinary(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, scripterr.NewResolveError(path, err)
	}
	return data, nil
}

// Protocol selects the address family HostInfo resolves endpoints
// into.
type Protocol uint8

const (
	TCP Protocol = iota
	UDP
)

// Endpoints resolves a script's raw "host:port" endpoint list into
// net.Addr values of the right family, forming HostInfo (§3). Any
// single unresolvable endpoint fails the whole batch. The verifier only
// checks that at least one endpoint is listed, so this is where an
// invalid endpoint is rejected before a run starts.
func Endpoints(proto Protocol, raw []string) ([]net.Addr, error) {
	out := make([]net.Addr, 0, len(raw))

	for _, hostport := range raw {
		var addr net.Addr
		var err error

		switch proto {
		case TCP:
			addr, err = net.ResolveTCPAddr("tcp", hostport)
		case UDP:
			addr, err = net.ResolveUDPAddr("udp", hostport)
		default:
			err = fmt.Errorf("unknown protocol %v", proto)
		}

		if err != nil {
			return nil, scripterr.NewResolveError(hostport, err)
		}

		out = append(out, addr)
	}

	return out, nil
}
