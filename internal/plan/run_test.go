package plan

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/jsworker/internal/jsengine"
	"github.com/seantiz/jsworker/internal/worker"
)

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func runString(t *testing.T, content string) *Report {
	t.Helper()
	p, err := Parse(strings.NewReader(content))
	require.NoError(t, err)
	require.NoError(t, p.Validate())

	report, err := Run(p, jsengine.DefaultRegistry())
	require.NoError(t, err)
	return report
}

func TestRun_TextReportGolden(t *testing.T) {
	p, err := Load("testdata/arithmetic.yaml")
	require.NoError(t, err)

	report, err := Run(p, jsengine.DefaultRegistry())
	require.NoError(t, err)
	assert.False(t, report.Passed)
	assert.Equal(t, 4, report.PassedCount())

	var buf bytes.Buffer
	require.NoError(t, report.WriteText(&buf))
	newGoldie(t).Assert(t, "arithmetic", buf.Bytes())
}

func TestRun_JSONReportGolden(t *testing.T) {
	p, err := Load("testdata/greeting.yaml")
	require.NoError(t, err)

	report, err := Run(p, jsengine.DefaultRegistry())
	require.NoError(t, err)
	assert.True(t, report.Passed)

	var buf bytes.Buffer
	require.NoError(t, report.WriteJSON(&buf))
	newGoldie(t).Assert(t, "greeting", buf.Bytes())
}

func TestRun_UnknownEngine(t *testing.T) {
	p := &Plan{Name: "p", Engine: "v8", Steps: []Step{{Action: ActionEval, Code: "1"}}}
	_, err := Run(p, jsengine.DefaultRegistry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `engine "v8" is not registered`)
}

func TestRun_DefaultEngineName(t *testing.T) {
	report := runString(t, `
name: defaults
steps:
  - action: eval
    code: "'ok'"
`)
	assert.Equal(t, "goja", report.Engine)
	assert.True(t, report.Passed)
	assert.JSONEq(t, `"ok"`, string(report.Steps[0].Value))
}

func TestRun_StructuredExpectation(t *testing.T) {
	report := runString(t, `
name: objects
steps:
  - action: eval
    code: "({b: [1, 2], a: {c: true}})"
    expect:
      a:
        c: true
      b: [1, 2]
  - action: eval
    code: "null"
    expect: null
  - action: eval
    code: "1"
    expect: null
`)
	require.Len(t, report.Steps, 3)
	assert.True(t, report.Steps[0].Passed, report.Steps[0].Message)
	assert.True(t, report.Steps[1].Passed, report.Steps[1].Message)
	assert.False(t, report.Steps[2].Passed)
	assert.Equal(t, "expected null, got 1", report.Steps[2].Message)
}

func TestRun_UnexpectedErrorFailsStep(t *testing.T) {
	report := runString(t, `
name: errors
steps:
  - action: eval
    code: "throw new Error('kaboom')"
  - action: eval
    code: "1"
    expect_error: kaboom
`)
	assert.False(t, report.Passed)
	assert.False(t, report.Steps[0].Passed)
	assert.Contains(t, report.Steps[0].Error, "kaboom")
	assert.Contains(t, report.Steps[0].Message, "kaboom")
	assert.False(t, report.Steps[1].Passed)
	assert.Equal(t, `expected error containing "kaboom", got 1`, report.Steps[1].Message)
}

func TestRun_EntrypointWithoutMainModule(t *testing.T) {
	report := runString(t, `
name: no-main
steps:
  - action: load_main_module
    module:
      name: broken.js
      source: "export function load( {"
  - action: call_entrypoint
    expect_error: no main module
`)
	require.Len(t, report.Steps, 2)
	assert.True(t, report.Steps[1].Passed)
	assert.Equal(t, worker.ErrNoMainModule.Error(), report.Steps[1].Error)
}

func TestRun_FailedLoadCascades(t *testing.T) {
	report := runString(t, `
name: cascade
steps:
  - id: broken
    action: load_module
    module:
      name: broken
      source: "export function ("
  - action: get_value
    handle: broken
    name: x
    expect_error: was not loaded
`)
	assert.False(t, report.Steps[0].Passed)
	assert.True(t, report.Steps[1].Passed, report.Steps[1].Message)
}

func TestRun_ConsoleCapturedPerStep(t *testing.T) {
	report := runString(t, `
name: console
steps:
  - action: eval
    code: "console.info('one'); console.error('two'); 0"
  - action: eval
    code: "1"
`)
	assert.Equal(t, []ConsoleLine{{Level: "info", Line: "one"}, {Level: "error", Line: "two"}}, report.Steps[0].Console)
	assert.Empty(t, report.Steps[1].Console)
}

func TestRun_ImportBetweenModules(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "util.js"), []byte("export function double(x) {\n  return x * 2;\n}\n"), 0644))
	plan := `
name: imports
steps:
  - action: load_module
    module_file: util.js
  - id: app
    action: load_module
    module:
      name: app
      source: |
        import { double } from "./util.js";
        export function quad(x) {
          return double(double(x));
        }
  - action: call_function
    handle: app
    name: quad
    args: [3]
    expect: 12
`
	path := filepath.Join(dir, "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(plan), 0644))

	p, err := Load(path)
	require.NoError(t, err)
	report, err := Run(p, jsengine.DefaultRegistry())
	require.NoError(t, err)
	for _, s := range report.Steps {
		assert.True(t, s.Passed, "step %d: %s", s.Index, s.Message)
	}
}

func TestRun_QuickJS(t *testing.T) {
	report := runString(t, `
name: quick
engine: quickjs
steps:
  - id: lib
    action: load_module
    module:
      name: lib
      source: |
        export function add(a, b) {
          return a + b;
        }
  - action: call_function
    handle: lib
    name: add
    args: [20, 22]
    expect: 42
`)
	assert.Equal(t, "quickjs", report.Engine)
	assert.True(t, report.Passed, "%+v", report.Steps)
}

func TestReport_WriteTextAllPassed(t *testing.T) {
	report := &Report{
		Plan:   "tiny",
		Engine: "goja",
		Passed: true,
		Steps: []StepResult{
			{Index: 1, Action: ActionEval, Passed: true, Value: []byte(`"hi"`)},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, report.WriteText(&buf))
	assert.Equal(t, "plan tiny (engine goja)\nPASS 1 eval = \"hi\"\nPASS 1/1 steps passed\n", buf.String())
}
