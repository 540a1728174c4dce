// Package wasmerr defines the WasmError kind from spec.md §7: module
// compile or instantiation failures, surfaced at setup time, or (if
// encountered on shard thread start) reported via the shard's
// on-closed callback rather than propagated.
package wasmerr

import "fmt"

type Error struct {
	Stage string // "compile" or "instantiate"
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("wasm %s error: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Compile(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Stage: "compile", Err: err}
}

func Instantiate(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Stage: "instantiate", Err: err}
}
