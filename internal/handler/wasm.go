package handler

import (
	"context"
	"fmt"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/loadshear/loadshear/internal/wasmerr"
)

// WASM exports required by the ABI in spec.md §6.4. There are no
// imports: the sandbox is pure, no WASI.
const (
	exportAlloc        = "alloc"
	exportDealloc      = "dealloc"
	exportHandleBody   = "handle_body"
	exportHandleHeader = "handle_header"
)

// Engine compiles a WASM module once and hands out per-shard Handler
// instances. The compiled module and the wazero Runtime are safe to
// share across shard goroutines (spec §4.2: "engine and compiled
// module are shared"); every call of the Factory produces an
// independently instantiated api.Module with its own linear memory,
// matching "Instances are not shared across threads".
type Engine struct {
	ctx      context.Context
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
}

// CompileFile loads and compiles the .wasm file at path. Errors here
// are wasmerr.Error, surfaced at orchestrator setup time per §7.
func CompileFile(ctx context.Context, path string) (*Engine, error) {
	bytecode, err := os.ReadFile(path)
	if err != nil {
		return nil, wasmerr.Compile(fmt.Errorf("read %q: %w", path, err))
	}
	return Compile(ctx, bytecode)
}

// Compile compiles raw WASM bytecode into a reusable Engine.
func Compile(ctx context.Context, bytecode []byte) (*Engine, error) {
	runtime := wazero.NewRuntime(ctx)

	compiled, err := runtime.CompileModule(ctx, bytecode)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, wasmerr.Compile(err)
	}

	return &Engine{ctx: ctx, runtime: runtime, compiled: compiled}, nil
}

// Close releases the engine's runtime and every instance it created.
func (e *Engine) Close() error {
	return e.runtime.Close(e.ctx)
}

// Factory returns a handler.Factory that instantiates a fresh module
// instance per call — exactly once per shard goroutine.
func (e *Engine) Factory() Factory {
	return func() (Handler, error) {
		return e.newInstance()
	}
}

func (e *Engine) newInstance() (*WASM, error) {
	cfg := wazero.NewModuleConfig().WithName("")

	instance, err := e.runtime.InstantiateModule(e.ctx, e.compiled, cfg)
	if err != nil {
		return nil, wasmerr.Instantiate(err)
	}

	w := &WASM{ctx: e.ctx, instance: instance}

	w.alloc = instance.ExportedFunction(exportAlloc)
	w.dealloc = instance.ExportedFunction(exportDealloc)
	w.handleBody = instance.ExportedFunction(exportHandleBody)
	w.handleHeader = instance.ExportedFunction(exportHandleHeader)
	w.memory = instance.Memory()

	if w.alloc == nil || w.dealloc == nil || w.handleBody == nil || w.memory == nil {
		_ = instance.Close(e.ctx)
		return nil, wasmerr.Instantiate(fmt.Errorf("module is missing a required export (alloc/dealloc/handle_body)"))
	}

	return w, nil
}

// WASM is one per-shard-goroutine module instance. Every method must
// only ever be called from the goroutine that obtained it.
type WASM struct {
	ctx      context.Context
	instance api.Module
	memory   api.Memory

	alloc        api.Function
	dealloc      api.Function
	handleBody   api.Function
	handleHeader api.Function // optional; nil if the module doesn't export it
}

// Close tears down this instance's linear memory.
func (w *WASM) Close() error {
	return w.instance.Close(w.ctx)
}

func (w *WASM) copyIn(buf []byte) (ptr, size uint32, err error) {
	size = uint32(len(buf))

	res, err := w.alloc.Call(w.ctx, uint64(size))
	if err != nil {
		return 0, 0, fmt.Errorf("wasm alloc(%d): %w", size, err)
	}
	ptr = uint32(res[0])

	if size > 0 {
		if !w.memory.Write(ptr, buf) {
			return 0, 0, fmt.Errorf("wasm alloc returned out-of-bounds pointer %d for %d bytes", ptr, size)
		}
	}

	return ptr, size, nil
}

func (w *WASM) free(ptr, size uint32) {
	if ptr == 0 {
		return
	}
	// Best-effort: a dealloc failure shouldn't crash the session; the
	// instance is torn down wholesale when the shard stops anyway.
	_, _ = w.dealloc.Call(w.ctx, uint64(ptr), uint64(size))
}

// ParseHeader calls the module's optional handle_header export. If the
// module does not export it, the header length defaults to 0 (as if
// NOP), since §6.4 marks handle_header optional.
func (w *WASM) ParseHeader(buf []byte) HeaderResult {
	if w.handleHeader == nil {
		return HeaderResult{Length: 0, Status: StatusOK}
	}

	ptr, size, err := w.copyIn(buf)
	if err != nil {
		return HeaderResult{Status: StatusError}
	}
	defer w.free(ptr, size)

	res, err := w.handleHeader.Call(w.ctx, uint64(ptr), uint64(size))
	if err != nil {
		return HeaderResult{Status: StatusError}
	}

	return HeaderResult{Length: res[0], Status: StatusOK}
}

// ParseMessage copies the body into the module's linear memory (the
// header is not passed to the module), invokes handle_body, copies the response back out, and frees both
// sides — every call is stateless from the host's perspective. A
// returned packed value of 0 means "no reply" per §6.4.
func (w *WASM) ParseMessage(header, body []byte) (Response, error) {
	ptr, size, err := w.copyIn(body)
	if err != nil {
		return Response{}, err
	}
	defer w.free(ptr, size)

	res, err := w.handleBody.Call(w.ctx, uint64(ptr), uint64(size))
	if err != nil {
		return Response{}, fmt.Errorf("wasm handle_body: %w", err)
	}

	packed := res[0]
	if packed == 0 {
		return Response{}, nil
	}

	respLen := uint32(packed >> 32)
	respPtr := uint32(packed)

	out, ok := w.memory.Read(respPtr, respLen)
	if !ok {
		return Response{}, fmt.Errorf("wasm handle_body returned out-of-bounds response (ptr=%d len=%d)", respPtr, respLen)
	}

	// Copy out of linear memory before freeing: the module's dealloc
	// may legitimately reuse that region for the next call.
	owned := make([]byte, len(out))
	copy(owned, out)

	w.free(respPtr, respLen)

	return Response{Bytes: owned}, nil
}
