// Command loadshear runs a verified script program against the
// sharded execution engine (spec.md §6.3). The DSL lexer/parser is an
// external collaborator (§1) the core never depends on; this binary
// accepts a script already lowered to JSON-encoded script.Program, the
// concrete boundary format an external lexer/parser would emit.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/loadshear/loadshear/internal/handler"
	"github.com/loadshear/loadshear/internal/metricsexport"
	"github.com/loadshear/loadshear/internal/orchestrator"
	"github.com/loadshear/loadshear/internal/resolve"
	"github.com/loadshear/loadshear/internal/script"
	"github.com/loadshear/loadshear/internal/scriptplan"
	"github.com/loadshear/loadshear/internal/session"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

const exitUsage = 1
const exitRuntime = 2

func run(args []string) int {
	fs := flag.NewFlagSet("loadshear", flag.ContinueOnError)
	dryRun := fs.Bool("dry-run", false, "build and verify the execution plan, print a summary, and exit without running it")
	expandEnvs := fs.Bool("expand-envs", false, "expand $VAR/${VAR} references in packet/handler paths before resolving")
	quiet := fs.Bool("quiet", false, "only log warnings and errors")
	arenaInitMB := fs.Int("arena-init-mb", 4, "initial size, in MiB, of the packet arena")
	ack := fs.Bool("ack", false, "print the resolved endpoint list and require a y/yes confirmation before running")
	metricsAddr := fs.String("metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9090)")

	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: loadshear <script-path> [flags]")
		return exitUsage
	}
	scriptPath := fs.Arg(0)
	// Flag parsing stops at the first positional argument, so parse
	// whatever follows the script path as flags too.
	if err := fs.Parse(fs.Args()[1:]); err != nil {
		return exitUsage
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *quiet {
		log.SetLevel(logrus.WarnLevel)
	}

	program, err := loadProgram(scriptPath)
	if err != nil {
		printScriptError(err)
		return exitUsage
	}

	resolveOpts := resolve.Options{BaseDir: filepath.Dir(scriptPath), ExpandEnvs: *expandEnvs}

	packetSizes, err := preflightPacketSizes(program, resolveOpts)
	if err != nil {
		printScriptError(err)
		return exitUsage
	}

	verified, err := script.Verify(program, script.VerifyOptions{ResolveOpts: resolveOpts, PacketSizes: packetSizes})
	if err != nil {
		printScriptError(err)
		return exitUsage
	}

	plan, err := scriptplan.Build(verified, scriptplan.Options{ResolveOpts: resolveOpts, ArenaInitMB: *arenaInitMB})
	if err != nil {
		printScriptError(err)
		return exitUsage
	}

	endpoints, err := resolve.Endpoints(resolve.TCP, verified.Settings.Endpoints)
	if err != nil {
		printScriptError(err)
		return exitUsage
	}

	if *dryRun {
		printDryRunSummary(plan, endpoints)
		return 0
	}

	if *ack {
		if !confirmEndpoints(endpoints) {
			fmt.Fprintln(os.Stderr, "aborted: endpoint list not confirmed")
			return exitUsage
		}
	}

	handlerFactory, handlerCleanup, err := buildHandlerFactory(verified.Settings.HandlerValue, resolveOpts)
	if err != nil {
		printScriptError(err)
		return exitUsage
	}
	defer handlerCleanup()

	runID := xid.New().String()
	collector := metricsexport.New(runID)
	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collector)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.WithError(err).Warn("metrics listener stopped")
			}
		}()
		log.Infof("serving metrics on %s/metrics", *metricsAddr)
	}

	cfg := orchestrator.Config{
		RunID:          runID,
		Actions:        plan.Actions,
		ShardCount:     int(verified.Settings.Shards),
		Endpoints:      endpoints,
		SessionCfg:     plan.Config,
		Payloads:       plan.Payloads,
		NewSession: func(index int, sessCfg *session.Config, deps session.Deps, onDisconnect func(int)) session.Session {
			return session.NewTCP(index, sessCfg, deps, onDisconnect)
		},
		HandlerFactory: handlerFactory,
		Logger:         log,
		Collector:      collector,
	}

	o := orchestrator.New(cfg)
	log.Infof("starting run: %d shard(s), %d action(s)", cfg.ShardCount, len(cfg.Actions))

	result := o.Run(context.Background())
	log.Infof("run %s complete", result.RunID)

	return 0
}

// loadProgram decodes the JSON-encoded script.Program at path. A real
// deployment would hand this off to a DSL lexer/parser (out of scope
// per spec §1); this is the boundary format that collaborator would
// produce.
func loadProgram(path string) (*script.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, scriptLoadError(path, err)
	}
	var p script.Program
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, scriptLoadError(path, err)
	}
	return &p, nil
}

func scriptLoadError(path string, err error) error {
	return fmt.Errorf("loading script %q: %w", path, err)
}

// preflightPacketSizes resolves and reads every declared packet so
// Verify's rule 11 (modification ranges bounded by packet size) has
// real sizes to check against, before any plan is built.
func preflightPacketSizes(p *script.Program, opts resolve.Options) (map[string]int, error) {
	sizes := make(map[string]int, len(p.Settings.PacketIdentifiers))
	for id, raw := range p.Settings.PacketIdentifiers {
		path, err := resolve.File(raw, opts)
		if err != nil {
			// Verify itself re-checks resolvability and produces the
			// structured ScriptError; here we only need a size if the
			// file exists, so a miss is left for Verify to report.
			continue
		}
		data, err := resolve.ReadBinary(path)
		if err != nil {
			continue
		}
		sizes[id] = len(data)
	}
	return sizes, nil
}

// buildHandlerFactory resolves SettingsBlock.HandlerValue into a
// handler.Factory: "NOP" or a .wasm path (spec §3, §4.8 rule 4). The
// returned cleanup releases the compiled WASM engine, a no-op for NOP.
func buildHandlerFactory(handlerValue string, opts resolve.Options) (handler.Factory, func(), error) {
	if handlerValue == "" || handlerValue == "NOP" {
		return handler.NewNOPFactory(), func() {}, nil
	}

	path, err := resolve.File(handlerValue, opts)
	if err != nil {
		return nil, func() {}, err
	}

	engine, err := handler.CompileFile(context.Background(), path)
	if err != nil {
		return nil, func() {}, err
	}

	return engine.Factory(), func() { _ = engine.Close() }, nil
}

func printDryRunSummary(plan *scriptplan.Plan, endpoints []net.Addr) {
	fmt.Printf("settings: %q protocol=%v shards=%d header_size=%d body_max=%d read_enabled=%v repeat=%v\n",
		plan.Settings.Identifier, plan.Settings.Protocol, plan.Settings.Shards,
		plan.Settings.HeaderSize, plan.Settings.BodyMax, plan.Settings.ReadEnabled, plan.Settings.Repeat)
	fmt.Printf("actions: %d\n", len(plan.Actions))
	for i, a := range plan.Actions {
		fmt.Printf("  [%d] %s\n", i, a)
	}
	fmt.Printf("payload variants: %d\n", plan.Payloads.Count())
	fmt.Printf("endpoints:\n")
	for _, e := range endpoints {
		fmt.Printf("  %s\n", e)
	}
}

// confirmEndpoints prints the resolved endpoint list and requires a
// y/yes confirmation on stdin before the run proceeds.
func confirmEndpoints(endpoints []net.Addr) bool {
	fmt.Println("this run will target:")
	for _, e := range endpoints {
		fmt.Printf("  %s\n", e)
	}
	fmt.Print("proceed? [y/N] ")

	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "y" || line == "yes"
}

// printScriptError renders a startup-time failure the way
// original_source/src/interpreter/diagnostic-colors.cpp colors verifier
// diagnostics: red at the presentation boundary only, since the core
// itself never touches a terminal (spec §1, §7).
func printScriptError(err error) {
	fmt.Fprintf(os.Stderr, "\033[31m%s\033[0m\n", err.Error())
}
