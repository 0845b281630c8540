// Package sandbox evaluates compiled snippet code against a capability scope.
// The scope is the only channel into the evaluated code: the code runs as the
// body of a fresh function whose parameters are exactly the scope's names.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/dop251/goja"

	"livenote/internal/capability"
	"livenote/internal/jsloop"
	"livenote/internal/logging"
	"livenote/internal/rewrite"
	"livenote/internal/transpile"
	"livenote/internal/types"
)

// =============================================================================
// EVALUATOR
// =============================================================================

// Evaluator runs compiled code and returns the settled result. Implementations
// decide where the code runs; callers only see the value or an error.
type Evaluator interface {
	Evaluate(ctx context.Context, code string, scope capability.Scope) (goja.Value, error)
}

// GojaEvaluator runs code on a jsloop.Loop. Evaluate must not be called from
// the loop goroutine.
type GojaEvaluator struct {
	loop *jsloop.Loop
}

// NewGojaEvaluator creates an evaluator bound to loop.
func NewGojaEvaluator(loop *jsloop.Loop) *GojaEvaluator {
	return &GojaEvaluator{loop: loop}
}

type settled struct {
	value goja.Value
	err   error
}

// Evaluate implements Evaluator. The body's async result is awaited; a
// rejection is returned as an error.
func (g *GojaEvaluator) Evaluate(ctx context.Context, code string, scope capability.Scope) (goja.Value, error) {
	result := make(chan settled, 1)
	settle := func(v goja.Value, err error) {
		select {
		case result <- settled{v, err}:
		default:
		}
	}

	err := g.loop.Call(ctx, func(rt *goja.Runtime) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = types.NewFailure(types.RuntimeFailure, "panic during evaluation: %v", r).WithStack(string(debug.Stack()))
			}
		}()

		fn, err := compileBody(rt, code, scope.Names)
		if err != nil {
			return err
		}
		v, err := fn(goja.Undefined(), scope.Values...)
		if err != nil {
			return err
		}
		await(rt, v, settle)
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			g.abort(ctx.Err())
		}
		return nil, err
	}

	select {
	case s := <-result:
		return s.value, s.err
	case <-ctx.Done():
		g.abort(ctx.Err())
		return nil, ctx.Err()
	}
}

// abort stops whatever JS is running for a cancelled evaluation and leaves
// the runtime reusable.
func (g *GojaEvaluator) abort(reason error) {
	logging.Get(logging.CategorySandbox).Warn("interrupting evaluation: %v", reason)
	g.loop.Interrupt(reason)
	g.loop.Post(func(*goja.Runtime) { g.loop.ClearInterrupt() })
}

// compileBody wraps code in a fresh function taking the scope names.
func compileBody(rt *goja.Runtime, code string, names []string) (goja.Callable, error) {
	var b strings.Builder
	b.WriteString("(function(")
	b.WriteString(strings.Join(names, ", "))
	b.WriteString(") {\nvar " + rewrite.ResultName + ";\n")
	b.WriteString(code)
	b.WriteString("\nreturn " + rewrite.ResultName + ";\n})")

	prog, err := goja.Compile("snippet.js", b.String(), false)
	if err != nil {
		return nil, err
	}
	v, err := rt.RunProgram(prog)
	if err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, fmt.Errorf("compiled body is not a function")
	}
	return fn, nil
}

// await settles v, or the promise v resolves to, through settle.
func await(rt *goja.Runtime, v goja.Value, settle func(goja.Value, error)) {
	p, ok := v.Export().(*goja.Promise)
	if !ok {
		settle(v, nil)
		return
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		settle(p.Result(), nil)
		return
	case goja.PromiseStateRejected:
		settle(nil, &rejection{value: p.Result()})
		return
	}
	then, _ := goja.AssertFunction(v.ToObject(rt).Get("then"))
	_, _ = then(v,
		rt.ToValue(func(call goja.FunctionCall) goja.Value {
			settle(call.Argument(0), nil)
			return goja.Undefined()
		}),
		rt.ToValue(func(call goja.FunctionCall) goja.Value {
			settle(nil, &rejection{value: call.Argument(0)})
			return goja.Undefined()
		}),
	)
}

// rejection is a rejected promise's reason.
type rejection struct {
	value goja.Value
}

func (r *rejection) Error() string { return fmt.Sprint(r.value) }

// =============================================================================
// EXECUTOR
// =============================================================================

// DefaultTimeout bounds one execution.
const DefaultTimeout = 10 * time.Second

// Executor is the error-containment boundary of the pipeline: whatever
// happens inside, Execute returns a RenderOutcome.
type Executor struct {
	eval    Evaluator
	timeout time.Duration
}

// NewExecutor creates an executor. A zero timeout uses DefaultTimeout.
func NewExecutor(eval Evaluator, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{eval: eval, timeout: timeout}
}

// Execute runs unit against scope.
func (e *Executor) Execute(ctx context.Context, unit transpile.CompiledUnit, scope capability.Scope) (out types.RenderOutcome) {
	timer := logging.StartTimer(logging.CategorySandbox, "execute")
	defer timer.StopWithThreshold(e.timeout / 2)

	defer func() {
		if r := recover(); r != nil {
			f := types.NewFailure(types.RuntimeFailure, "panic during execution: %v", r).WithStack(string(debug.Stack()))
			logging.SandboxError("%s", f.Error())
			out = types.Failed(f)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	v, err := e.eval.Evaluate(ctx, unit.Code, scope)
	if err != nil {
		f := Classify(err)
		if errors.Is(err, context.DeadlineExceeded) {
			f = types.WrapFailure(types.RuntimeFailure, fmt.Errorf("execution timed out after %s: %w", e.timeout, err))
		}
		logging.SandboxError("execution failed: %s", f.Error())
		return types.Failed(f)
	}
	logging.Sandbox("execution settled with %s", typeOf(v))
	return types.Rendered(v)
}

// Classify converts an evaluation error into a Failure.
func Classify(err error) *types.Failure {
	var (
		existing  *types.Failure
		syntax    *goja.CompilerSyntaxError
		exception *goja.Exception
		interrupt *goja.InterruptedError
		rejected  *rejection
	)
	switch {
	case errors.As(err, &existing):
		return existing
	case errors.As(err, &syntax):
		return types.WrapFailure(types.SyntaxFailure, err)
	case errors.As(err, &interrupt):
		return types.WrapFailure(types.RuntimeFailure, fmt.Errorf("execution interrupted: %v", interrupt.Value()))
	case errors.As(err, &exception):
		return fromThrown(exception.Value(), exception.String(), err)
	case errors.As(err, &rejected):
		return fromThrown(rejected.value, "", err)
	}
	return types.WrapFailure(types.RuntimeFailure, err)
}

// fromThrown maps a thrown JS value onto the failure taxonomy.
func fromThrown(v goja.Value, stack string, cause error) *types.Failure {
	kind := types.RuntimeFailure
	msg := cause.Error()
	if obj, ok := v.(*goja.Object); ok {
		if name := obj.Get("name"); name != nil && name.String() == capability.MissingEntityError {
			kind = types.MissingEntityFailure
		}
		if m := obj.Get("message"); m != nil && !goja.IsUndefined(m) {
			msg = m.String()
			if name := obj.Get("name"); name != nil && !goja.IsUndefined(name) && kind == types.RuntimeFailure {
				msg = name.String() + ": " + msg
			}
		}
		if s := obj.Get("stack"); stack == "" && s != nil && !goja.IsUndefined(s) {
			stack = s.String()
		}
	} else if v != nil {
		msg = v.String()
	}
	f := types.WrapFailure(kind, cause)
	f.Message = msg
	if stack != "" {
		f = f.WithStack(stack)
	}
	return f
}

func typeOf(v goja.Value) string {
	switch {
	case v == nil || goja.IsUndefined(v):
		return "undefined"
	case goja.IsNull(v):
		return "null"
	}
	if t := v.ExportType(); t != nil {
		return t.String()
	}
	return "value"
}
