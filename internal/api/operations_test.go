package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/seantiz/jsworker/internal/model"
)

const mathModule = `export function add(a, b) { return a + b; }
export const pi = 3;
export function load(name) { return "hello " + name; }
`

func TestEvalReturnsExecution(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var exec model.Execution
	resp := doJSON(t, "POST", ts.URL+"/v1/eval", evalRequest{Code: "3 + 2"}, &exec)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if exec.Status != model.StatusCompleted || string(exec.Result) != "5" {
		t.Errorf("execution = %+v, want completed with 5", exec)
	}
	if exec.Kind != model.KindEval || exec.Engine != "goja" {
		t.Errorf("kind/engine = %q/%q", exec.Kind, exec.Engine)
	}
}

func TestEvalInvalidJSON(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/eval", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestEvalMissingCode(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := doJSON(t, "POST", ts.URL+"/v1/eval", evalRequest{}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestEvalScriptErrorRecordsFailure(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var body operationError
	resp := doJSON(t, "POST", ts.URL+"/v1/eval", evalRequest{Code: "throw new Error('boom')"}, &body)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	if !strings.Contains(body.Error, "boom") {
		t.Errorf("error = %q, want it to mention boom", body.Error)
	}
	if body.Execution == nil || body.Execution.Status != model.StatusFailed {
		t.Fatalf("execution = %+v, want failed", body.Execution)
	}

	var stored model.Execution
	resp = doJSON(t, "GET", ts.URL+"/v1/executions/"+body.Execution.ID, nil, &stored)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get execution: status = %d", resp.StatusCode)
	}
	if stored.Status != model.StatusFailed {
		t.Errorf("stored status = %q, want failed", stored.Status)
	}
}

func TestLoadModuleAndCallFunction(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var m model.Module
	resp := doJSON(t, "POST", ts.URL+"/v1/modules", loadModuleRequest{Name: "math", Source: mathModule}, &m)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("load: status = %d, want 201", resp.StatusCode)
	}
	if m.ID == "" || m.Name != "math" || m.Handle == 0 {
		t.Fatalf("module = %+v", m)
	}

	var exec model.Execution
	resp = doJSON(t, "POST", ts.URL+"/v1/modules/"+m.ID+"/functions/add",
		map[string]any{"args": []int{2, 3}}, &exec)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("call: status = %d, want 200", resp.StatusCode)
	}
	if string(exec.Result) != "5" || exec.Target != "add" || exec.ModuleID != m.ID {
		t.Errorf("execution = %+v", exec)
	}

	resp = doJSON(t, "GET", ts.URL+"/v1/modules/"+m.ID+"/values/pi", nil, &exec)
	if resp.StatusCode != http.StatusOK || string(exec.Result) != "3" {
		t.Errorf("value: status = %d result = %s", resp.StatusCode, exec.Result)
	}

	resp = doJSON(t, "POST", ts.URL+"/v1/modules/"+m.ID+"/entrypoint",
		map[string]any{"args": []string{"world"}}, &exec)
	if resp.StatusCode != http.StatusOK || string(exec.Result) != `"hello world"` {
		t.Errorf("entrypoint: status = %d result = %s", resp.StatusCode, exec.Result)
	}
}

func TestCallWithEmptyBody(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	doJSON(t, "POST", ts.URL+"/v1/eval", evalRequest{Code: "function seven() { return 7; }"}, nil)

	var exec model.Execution
	resp := doJSON(t, "POST", ts.URL+"/v1/functions/seven", nil, &exec)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if string(exec.Result) != "7" {
		t.Errorf("result = %s, want 7", exec.Result)
	}
}

func TestMainModuleAlias(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := doJSON(t, "POST", ts.URL+"/v1/modules/main/entrypoint", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("entrypoint without main module: status = %d, want 404", resp.StatusCode)
	}

	resp = doJSON(t, "POST", ts.URL+"/v1/modules", loadModuleRequest{Name: "app", Source: mathModule, Main: true}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("load main: status = %d, want 201", resp.StatusCode)
	}

	var exec model.Execution
	resp = doJSON(t, "POST", ts.URL+"/v1/modules/main/entrypoint", map[string]any{"args": []string{"main"}}, &exec)
	if resp.StatusCode != http.StatusOK || string(exec.Result) != `"hello main"` {
		t.Errorf("entrypoint: status = %d result = %s", resp.StatusCode, exec.Result)
	}

	// Main module exports are reachable from the global scope.
	resp = doJSON(t, "GET", ts.URL+"/v1/values/pi", nil, &exec)
	if resp.StatusCode != http.StatusOK || string(exec.Result) != "3" {
		t.Errorf("global value: status = %d result = %s", resp.StatusCode, exec.Result)
	}
}

func TestUnknownModuleReturns404(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for _, tc := range []struct{ method, path string }{
		{"GET", "/v1/modules/nope"},
		{"POST", "/v1/modules/nope/entrypoint"},
		{"POST", "/v1/modules/nope/functions/add"},
		{"GET", "/v1/modules/nope/values/pi"},
	} {
		resp := doJSON(t, tc.method, ts.URL+tc.path, nil, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s %s: status = %d, want 404", tc.method, tc.path, resp.StatusCode)
		}
	}
}

func TestLoadModuleErrors(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := doJSON(t, "POST", ts.URL+"/v1/modules", loadModuleRequest{Source: mathModule}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing name: status = %d, want 400", resp.StatusCode)
	}

	resp = doJSON(t, "POST", ts.URL+"/v1/modules", loadModuleRequest{Name: "math", Source: mathModule}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first load: status = %d, want 201", resp.StatusCode)
	}
	var body operationError
	resp = doJSON(t, "POST", ts.URL+"/v1/modules", loadModuleRequest{Name: "math", Source: mathModule}, &body)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("duplicate: status = %d, want 422", resp.StatusCode)
	}
	if body.Execution == nil || body.Execution.Kind != model.KindLoadModule {
		t.Errorf("duplicate execution = %+v", body.Execution)
	}

	resp = doJSON(t, "POST", ts.URL+"/v1/modules", loadModuleRequest{Name: "broken", Source: "export function ("}, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("syntax error: status = %d, want 422", resp.StatusCode)
	}
}

func TestListAndGetModules(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var list listModulesResponse
	doJSON(t, "GET", ts.URL+"/v1/modules", nil, &list)
	if list.Modules == nil || len(list.Modules) != 0 {
		t.Fatalf("empty list = %+v, want []", list.Modules)
	}

	var first, second model.Module
	doJSON(t, "POST", ts.URL+"/v1/modules", loadModuleRequest{Name: "a", Source: "export const x = 1;"}, &first)
	doJSON(t, "POST", ts.URL+"/v1/modules", loadModuleRequest{Name: "b", Source: "export const y = 2;"}, &second)

	doJSON(t, "GET", ts.URL+"/v1/modules", nil, &list)
	if len(list.Modules) != 2 || list.Modules[0].Name != "a" || list.Modules[1].Name != "b" {
		t.Fatalf("modules = %+v, want a then b", list.Modules)
	}

	var got model.Module
	resp := doJSON(t, "GET", ts.URL+"/v1/modules/"+second.ID, nil, &got)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: status = %d", resp.StatusCode)
	}
	if got.Name != "b" || got.Handle != second.Handle {
		t.Errorf("module = %+v, want b with handle %d", got, second.Handle)
	}
}
