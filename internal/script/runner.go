// Package script runs destination transform scripts. A script defines
// transform(payload, meta) and returns the object to deliver in place of the
// templated payload.
package script

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

const (
	maxScriptSize = 64 * 1024
	execTimeout   = 500 * time.Millisecond
	entryPoint    = "transform"
)

var (
	ErrScriptTooLarge = errors.New("script exceeds 64KB limit")
	ErrScriptTimeout  = errors.New("script execution timed out")
	ErrNoTransform    = errors.New("script must define a 'transform' function")
	ErrNoPayload      = errors.New("script must return an object payload")
)

func compile(body string) (*goja.Program, error) {
	if len(body) > maxScriptSize {
		return nil, ErrScriptTooLarge
	}
	prog, err := goja.Compile("transform.js", body, false)
	if err != nil {
		return nil, fmt.Errorf("compile script: %w", err)
	}
	return prog, nil
}

// load evaluates prog in vm and returns its entry point.
func load(vm *goja.Runtime, prog *goja.Program) (goja.Callable, error) {
	if _, err := vm.RunProgram(prog); err != nil {
		return nil, fmt.Errorf("evaluate script: %w", err)
	}
	fn := vm.Get(entryPoint)
	if fn == nil || goja.IsUndefined(fn) || goja.IsNull(fn) {
		return nil, ErrNoTransform
	}
	callable, ok := goja.AssertFunction(fn)
	if !ok {
		return nil, ErrNoTransform
	}
	return callable, nil
}

// Validate checks that body compiles and defines transform.
func Validate(body string) error {
	prog, err := compile(body)
	if err != nil {
		return err
	}
	_, err = load(goja.New(), prog)
	return err
}

// Transform calls transform(payload, meta) with a fresh runtime and returns
// the result as plain Go values. meta is read-only delivery metadata. A null,
// undefined or non-object result is ErrNoPayload.
func Transform(body string, payload, meta map[string]any) (result map[string]any, err error) {
	prog, err := compile(body)
	if err != nil {
		return nil, err
	}

	vm := goja.New()
	timer := time.AfterFunc(execTimeout, func() { vm.Interrupt(ErrScriptTimeout) })
	defer timer.Stop()

	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("script panic: %v", r)
		}
	}()

	callable, err := load(vm, prog)
	if err != nil {
		return nil, interrupted(err)
	}
	ret, err := callable(goja.Undefined(), vm.ToValue(payload), vm.ToValue(meta))
	if err != nil {
		return nil, interrupted(fmt.Errorf("run transform: %w", err))
	}
	if ret == nil || goja.IsUndefined(ret) || goja.IsNull(ret) {
		return nil, ErrNoPayload
	}
	if _, ok := ret.Export().(map[string]any); !ok {
		return nil, ErrNoPayload
	}

	raw, err := json.Marshal(ret.Export())
	if err != nil {
		return nil, fmt.Errorf("encode transform result: %w", err)
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, ErrNoPayload
	}
	return result, nil
}

func interrupted(err error) error {
	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		return ErrScriptTimeout
	}
	return err
}
