package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/srcgenhost/internal/buildenv"
	ferrors "git.home.luguber.info/inful/srcgenhost/internal/foundation/errors"
	"git.home.luguber.info/inful/srcgenhost/internal/generators"
)

type cliFixture struct {
	dir      string
	config   string
	response string
	output   string
	binlog   string
}

func newCLIFixture(t *testing.T, binlog bool, gens ...string) cliFixture {
	t.Helper()
	dir := t.TempDir()
	yaml := "name: demo\ncompile:\n  - \"*.go\"\ngenerators:\n"
	for _, g := range gens {
		yaml += "  - " + g + "\n"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.yaml"), []byte(yaml), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package demo\n\nfunc Main() {}\n"), 0o600))
	fx := cliFixture{
		dir:      dir,
		config:   filepath.Join(dir, "srcgenhost.yaml"),
		response: filepath.Join(dir, "env.yaml"),
		output:   filepath.Join(dir, "out.txt"),
		binlog:   filepath.Join(dir, "logs", "gen.binlog"),
	}
	require.NoError(t, buildenv.Write(fx.response, buildenv.Environment{
		ProjectFile:   "app.yaml",
		Configuration: "Release",
		OutputPath:    "gen",
		BinLogEnabled: binlog,
	}))
	return fx
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Generate(t *testing.T) {
	fx := newCLIFixture(t, false, generators.ProjectInfoName)

	code, _, stderr := runCLI(t, "--config="+fx.config, "generate", fx.response, fx.output, fx.binlog)
	require.Equal(t, ferrors.ExitSuccess, code, stderr)

	data, err := os.ReadFile(fx.output)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), "ProjectInfo.g.go"), string(data))
	_, err = os.Stat(fx.binlog)
	assert.ErrorIs(t, err, os.ErrNotExist, "binlog is only written when enabled")
}

func TestRun_LegacySingleUseWritesBinLog(t *testing.T) {
	fx := newCLIFixture(t, true, generators.ProjectInfoName)

	code, _, stderr := runCLI(t, fx.response, fx.output, fx.binlog, "-console", "--config="+fx.config)
	require.Equal(t, ferrors.ExitSuccess, code, stderr)

	data, err := os.ReadFile(fx.binlog)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"Generation completed"`)
}

func TestRun_ExitCodes(t *testing.T) {
	fx := newCLIFixture(t, false, "NoSuchGenerator")

	code, _, _ := runCLI(t, "--config="+fx.config, "generate", filepath.Join(fx.dir, "missing.yaml"), fx.output)
	assert.Equal(t, ferrors.ExitInvalidInput, code)

	code, _, stderr := runCLI(t, "--config="+fx.config, "generate", "--console", fx.response, fx.output)
	assert.Equal(t, ferrors.ExitGenerationFailed, code)
	assert.Contains(t, stderr, "unknown generator")

	code, _, _ = runCLI(t, "--config="+fx.config, "bogus")
	assert.Equal(t, ferrors.ExitInvalidInput, code)
}

func TestRun_BadConfig(t *testing.T) {
	fx := newCLIFixture(t, false)
	require.NoError(t, os.WriteFile(fx.config, []byte("server: [\n"), 0o600))

	code, _, _ := runCLI(t, "--config="+fx.config, "history")
	assert.Equal(t, ferrors.ExitInvalidInput, code)
}

func TestRun_History(t *testing.T) {
	fx := newCLIFixture(t, false, generators.ProjectInfoName)
	journal := filepath.Join(fx.dir, "runs.db")
	require.NoError(t, os.WriteFile(fx.config, []byte("journal:\n  path: "+journal+"\n"), 0o600))

	code, out, stderr := runCLI(t, "--config="+fx.config, "history")
	require.Equal(t, ferrors.ExitSuccess, code, stderr)
	assert.Contains(t, out, "No runs recorded")

	code, _, stderr = runCLI(t, "--config="+fx.config, "generate", fx.response, fx.output)
	require.Equal(t, ferrors.ExitSuccess, code, stderr)

	code, out, stderr = runCLI(t, "--config="+fx.config, "history", "-n", "5")
	require.Equal(t, ferrors.ExitSuccess, code, stderr)
	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, "succeeded")
	assert.Contains(t, out, "Release")
}

func TestRun_HistoryRequiresJournal(t *testing.T) {
	fx := newCLIFixture(t, false)
	code, _, _ := runCLI(t, "--config="+fx.config, "history")
	assert.Equal(t, ferrors.ExitInvalidInput, code)
}

func TestRun_RunWithoutServer(t *testing.T) {
	fx := newCLIFixture(t, false, generators.ProjectInfoName)
	code, out, stderr := runCLI(t, "--config="+fx.config, "run", "--no-server", fx.response)
	require.Equal(t, ferrors.ExitSuccess, code, stderr)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), "ProjectInfo.g.go"), out)
}

func TestRun_ShutdownWithoutServer(t *testing.T) {
	fx := newCLIFixture(t, false)
	t.Setenv("TMPDIR", t.TempDir())
	code, _, _ := runCLI(t, "--config="+fx.config, "shutdown", "--pipename=nobody")
	assert.Equal(t, ferrors.ExitInvalidInput, code)
}

func TestRun_GenerateExportsSpans(t *testing.T) {
	fx := newCLIFixture(t, false, generators.ProjectInfoName)
	require.NoError(t, os.WriteFile(fx.config, []byte("tracing:\n  exporter: stdout\n"), 0o600))

	code, _, stderr := runCLI(t, "--config="+fx.config, "generate", fx.response, fx.output)
	require.Equal(t, ferrors.ExitSuccess, code, stderr)
	assert.Contains(t, stderr, `"Name":"engine.generate"`)
	assert.Contains(t, stderr, `"Name":"generator.execute"`)
}
