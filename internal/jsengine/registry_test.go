package jsengine_test

import (
	"testing"

	"github.com/seantiz/jsworker/internal/jsengine"
	"github.com/seantiz/jsworker/internal/worker"
)

func TestDefaultRegistryList(t *testing.T) {
	list := jsengine.DefaultRegistry().List()
	if len(list) != 2 {
		t.Fatalf("List() returned %d engines, want 2", len(list))
	}
	if list[0].Name != "goja" || list[1].Name != "quickjs" {
		t.Errorf("List() names = [%s %s], want sorted [goja quickjs]", list[0].Name, list[1].Name)
	}
	if !list[0].Default || list[1].Default {
		t.Error("goja should be the only default engine")
	}
	if !list[0].Capabilities.Timers || list[1].Capabilities.Timers {
		t.Errorf("unexpected timer capabilities: %+v", list)
	}
}

func TestRegistryResolveDefault(t *testing.T) {
	factory, err := jsengine.DefaultRegistry().Resolve("")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	w, err := worker.New(factory, worker.Options{Logger: discardLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Stop()

	got, err := worker.As[int](w.Eval("6 * 7"))
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if got != 42 {
		t.Errorf("Eval = %d, want 42", got)
	}
}

func TestRegistryResolveUnknown(t *testing.T) {
	if _, err := jsengine.DefaultRegistry().Resolve("v8"); err == nil {
		t.Error("expected error for unregistered engine")
	}
}

func TestRegistryFirstRegisteredIsDefault(t *testing.T) {
	reg := jsengine.NewRegistry()
	reg.Register("quickjs", jsengine.Erase(jsengine.NewQuickJS), jsengine.Capabilities{})
	reg.Register("goja", jsengine.Erase(jsengine.NewGoja), jsengine.Capabilities{})

	for _, info := range reg.List() {
		if info.Default != (info.Name == "quickjs") {
			t.Errorf("engine %s default = %v", info.Name, info.Default)
		}
	}
}

func TestRegistryDefaultName(t *testing.T) {
	reg := jsengine.DefaultRegistry()
	if got := reg.Default(); got != "goja" {
		t.Errorf("Default() = %q, want goja", got)
	}
	reg.SetDefault("quickjs")
	if got := reg.Default(); got != "quickjs" {
		t.Errorf("Default() after SetDefault = %q, want quickjs", got)
	}
}
