package sandbox

import (
	"fmt"

	"github.com/dop251/goja"
)

// installBridge injects the `nexus` object into the runtime before any
// plugin code evaluates. The bridge is the plugin's entire capability set:
// logging, hook registration, and mediated generation calls. Nothing else
// is ambient in the context.
func (w *worker) installBridge() {
	vm := w.vm

	nexus := vm.NewObject()

	logFn := func(call goja.FunctionCall) goja.Value {
		// Logging never throws, whatever the arguments look like.
		defer func() { _ = recover() }()
		values := make([]interface{}, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			values = append(values, export(arg))
		}
		w.send(workerMessage{Kind: KindLog, Values: values})
		return goja.Undefined()
	}
	_ = nexus.Set("log", logFn)

	hooks := vm.NewObject()
	_ = hooks.Set("register", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		callback, ok := goja.AssertFunction(call.Argument(1))
		if !ok {
			// A plugin author's mistake must not crash plugin load.
			w.send(workerMessage{Kind: KindLog, Values: []interface{}{
				fmt.Sprintf("hooks.register(%q): second argument is not a function, ignoring", name),
			}})
			return goja.Undefined()
		}
		// Last registration wins.
		w.handlers[name] = callback
		return goja.Undefined()
	})
	_ = nexus.Set("hooks", hooks)

	_ = nexus.Set("generateText", func(call goja.FunctionCall) goja.Value {
		prompt := call.Argument(0).String()
		result, err := w.invokeCapability(CapabilityGenerateText, prompt, nil)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(result)
	})

	_ = nexus.Set("generateImage", func(call goja.FunctionCall) goja.Value {
		prompt := call.Argument(0).String()
		var overrides map[string]interface{}
		if settings, ok := export(call.Argument(1)).(map[string]interface{}); ok {
			overrides = settings
		}
		result, err := w.invokeCapability(CapabilityGenerateImage, prompt, overrides)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(result)
	})

	_ = vm.Set("nexus", nexus)

	// console.log and friends alias nexus.log so ordinary plugin code
	// logs somewhere visible instead of throwing on a missing global.
	console := vm.NewObject()
	_ = console.Set("log", logFn)
	_ = console.Set("warn", logFn)
	_ = console.Set("error", logFn)
	_ = vm.Set("console", console)
}
