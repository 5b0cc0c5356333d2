package script

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/dop251/goja"

	"github.com/agentd-run/agentd/internal/bus"
	"github.com/agentd-run/agentd/internal/types"
	"github.com/agentd-run/agentd/internal/workspace"
)

// DefaultQueueCapacity is the reactor's bounded command channel size.
const DefaultQueueCapacity = 64

// Host runs a single goja.Runtime on a dedicated OS thread. The Host value
// itself is only a sender handle — freely cloneable — since the isolate is
// owned exclusively by the reactor goroutine.
type Host struct {
	cmds   chan command
	logger *slog.Logger
}

// New starts the reactor goroutine and returns a Host handle.
func New(policy Policy, sender bus.Sender, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Host{cmds: make(chan command, DefaultQueueCapacity), logger: logger}
	go runReactor(h.cmds, policy, sender, logger)
	return h
}

// LoadScript compiles and runs source under name, registering any tools or
// status providers the script declares via the capability surface. A
// top-level throw is returned as an error and does NOT terminate the host.
func (h *Host) LoadScript(name, source string) error {
	res := h.send(command{kind: cmdLoadScript, name: name, source: source})
	return res.err
}

// ExecuteTool invokes a script-registered tool by name, pumping any
// returned Promise to settlement and serializing the result to JSON text.
func (h *Host) ExecuteTool(name string, args json.RawMessage) (string, error) {
	res := h.send(command{kind: cmdExecuteTool, toolName: name, args: args})
	return res.value, res.err
}

// Tools returns every currently registered script tool.
func (h *Host) Tools() ([]ToolDescriptor, error) {
	res := h.send(command{kind: cmdGetTools})
	return res.tools, res.err
}

// Status calls the script's registered status-line provider, if any, and
// returns its text.
func (h *Host) Status() (string, error) {
	res := h.send(command{kind: cmdGetStatus})
	return res.value, res.err
}

// EvaluateGenerator evaluates expr and, if it produces a generator object,
// steps it once — returning the first yielded (or returned) value
// serialized as JSON text. Plain expressions are evaluated and returned
// directly.
func (h *Host) EvaluateGenerator(expr string) (string, error) {
	res := h.send(command{kind: cmdEvaluateGenerator, expr: expr})
	return res.value, res.err
}

func (h *Host) send(cmd command) commandResult {
	cmd.reply = make(chan commandResult, 1)
	h.cmds <- cmd
	return <-cmd.reply
}

// reactor owns the goja.Runtime exclusively on its dedicated OS thread.
type reactor struct {
	vm       *goja.Runtime
	policy   Policy
	sender   bus.Sender
	logger   *slog.Logger
	tools    map[string]scriptTool
	statusFn goja.Callable
}

type scriptTool struct {
	descriptor ToolDescriptor
	fn         goja.Callable
}

func runReactor(cmds chan command, policy Policy, sender bus.Sender, logger *slog.Logger) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	r := &reactor{
		vm:     goja.New(),
		policy: policy,
		sender: sender,
		logger: logger,
		tools:  make(map[string]scriptTool),
	}
	r.installCapabilities()

	for cmd := range cmds {
		cmd.reply <- r.handle(cmd)
	}
}

func (r *reactor) handle(cmd command) (res commandResult) {
	defer func() {
		if v := recover(); v != nil {
			r.logger.Error("script: top-level throw, continuing command loop", "error", fmt.Sprint(v))
			res = commandResult{err: fmt.Errorf("script error: %v", v)}
		}
	}()

	switch cmd.kind {
	case cmdLoadScript:
		_, err := r.vm.RunString(cmd.source)
		return commandResult{err: err}
	case cmdExecuteTool:
		return r.executeTool(cmd.toolName, cmd.args)
	case cmdGetTools:
		out := make([]ToolDescriptor, 0, len(r.tools))
		for _, t := range r.tools {
			out = append(out, t.descriptor)
		}
		return commandResult{tools: out}
	case cmdGetStatus:
		return r.getStatus()
	case cmdEvaluateGenerator:
		return r.evaluateGenerator(cmd.expr)
	default:
		return commandResult{err: fmt.Errorf("script: unknown command")}
	}
}

func (r *reactor) executeTool(name string, args json.RawMessage) commandResult {
	t, ok := r.tools[name]
	if !ok {
		return commandResult{err: fmt.Errorf("script: unknown tool %q", name)}
	}

	var parsed any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &parsed); err != nil {
			return commandResult{err: fmt.Errorf("script: invalid arguments: %w", err)}
		}
	}

	result, err := t.fn(goja.Undefined(), r.vm.ToValue(parsed))
	if err != nil {
		return commandResult{err: err}
	}

	value, err := r.pumpPromise(result)
	if err != nil {
		return commandResult{err: err}
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return commandResult{err: err}
	}
	return commandResult{value: string(encoded)}
}

func (r *reactor) getStatus() commandResult {
	if r.statusFn == nil {
		return commandResult{value: ""}
	}
	result, err := r.statusFn(goja.Undefined())
	if err != nil {
		return commandResult{err: err}
	}
	return commandResult{value: fmt.Sprint(result.Export())}
}

func (r *reactor) evaluateGenerator(expr string) commandResult {
	v, err := r.vm.RunString(expr)
	if err != nil {
		return commandResult{err: err}
	}

	obj := v.ToObject(r.vm)
	if obj != nil {
		if nextFn, ok := goja.AssertFunction(obj.Get("next")); ok {
			step, err := nextFn(v)
			if err == nil {
				stepObj := step.ToObject(r.vm)
				value := stepObj.Get("value")
				encoded, marshalErr := json.Marshal(value.Export())
				if marshalErr == nil {
					return commandResult{value: string(encoded)}
				}
			}
		}
	}

	encoded, err := json.Marshal(v.Export())
	if err != nil {
		return commandResult{err: err}
	}
	return commandResult{value: string(encoded)}
}

// pumpPromise yields the reactor until p settles, per spec.md's "bounded
// Promise-resolution pump". goja resolves microtasks synchronously within
// RunString/function calls, so a settled promise is typically immediate;
// this loop exists for the rare case of a pending promise driven by a
// scheduled job registered through setTimeout-style host shims.
func (r *reactor) pumpPromise(v goja.Value) (any, error) {
	promise, ok := v.Export().(*goja.Promise)
	if !ok {
		return v.Export(), nil
	}

	const maxSpins = 1000
	for i := 0; i < maxSpins; i++ {
		switch promise.State() {
		case goja.PromiseStateFulfilled:
			return promise.Result().Export(), nil
		case goja.PromiseStateRejected:
			return nil, fmt.Errorf("script: promise rejected: %v", promise.Result().Export())
		default:
			// goja settles promises synchronously as part of script
			// execution; a still-pending promise here means the script
			// is waiting on something this host never drives forward
			// (no timers or async I/O are wired in). Yield briefly and
			// re-check rather than spin-loop the dedicated thread.
			time.Sleep(time.Millisecond)
		}
	}
	return nil, fmt.Errorf("script: promise did not settle")
}

func (r *reactor) installCapabilities() {
	_ = r.vm.Set("log", func(msg string) {
		r.logger.Info("script log", "message", msg)
	})

	_ = r.vm.Set("readFile", func(path string) (string, error) {
		resolved, err := r.policy.Gate.Check(path, workspace.ModeRead)
		if err != nil {
			return "", fmt.Errorf("access denied")
		}
		return readFileCapability(resolved)
	})

	_ = r.vm.Set("writeFile", func(path, content string) error {
		resolved, err := r.policy.Gate.Check(path, workspace.ModeWrite)
		if err != nil {
			return fmt.Errorf("access denied")
		}
		return writeFileCapability(resolved, content)
	})

	_ = r.vm.Set("httpFetch", func(url string) (string, error) {
		if !r.policy.NetworkAllowed {
			return "", fmt.Errorf("network access denied by policy")
		}
		return httpFetchCapability(url)
	})

	_ = r.vm.Set("registerTool", func(name, description string, parameters json.RawMessage, fn goja.Callable) {
		r.tools[name] = scriptTool{
			descriptor: ToolDescriptor{Name: name, Description: description, Parameters: parameters},
			fn:         fn,
		}
	})

	_ = r.vm.Set("registerStatusProvider", func(fn goja.Callable) {
		r.statusFn = fn
	})

	_ = r.vm.Set("pushEvent", func(source, payload, trust string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return r.sender.Send(ctx, types.IngressEvent{Source: source, Payload: payload, Trust: types.TrustLevel(trust)})
	})
}

func readFileCapability(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func writeFileCapability(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func httpFetchCapability(url string) (string, error) {
	resp, err := http.Get(url) //nolint:gosec // URL is script-supplied by design; network policy already gated the call
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256*1024))
	if err != nil {
		return "", err
	}
	return string(body), nil
}
