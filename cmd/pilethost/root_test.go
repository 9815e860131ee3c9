package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/HerbHall/pilethost/internal/host"
	"github.com/HerbHall/pilethost/internal/inspect"
	"github.com/HerbHall/pilethost/internal/loader"
	"github.com/HerbHall/pilethost/internal/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const localDir = testutil.DefaultLocalDir

func writePlugin(t *testing.T, fs afero.Fs, name, src string) {
	t.Helper()
	testutil.WritePlugin(t, fs, testutil.NewPlugin(testutil.WithName(name), testutil.WithSource(src)))
}

func fixtureFs(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	writePlugin(t, fs, "pilethost-cli-home", `
return function(api)
  api.registerExtension("menu", function(p) return "<li>" .. p.label .. "</li>" end, { label = "Home" })
end
`)
	writePlugin(t, fs, "pilethost-cli-more", `
return function(api)
  api.registerExtension("menu", function(p) return "<li>More</li>" end)
  api.setData("theme", "dark")
end
`)
	require.NoError(t, fs.MkdirAll(filepath.Join(localDir, "unrelated"), 0o755))
	testutil.WritePlugin(t, fs, testutil.NewPlugin(
		testutil.WithName("pilethost-cli-footer"),
		testutil.WithExtension("footer", "<footer>f</footer>"),
	))
	return fs
}

func run(t *testing.T, fs afero.Fs, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(host.WithFs(fs), host.WithResolverStrategies())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--local-dir", localDir, "--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestListCommand(t *testing.T) {
	out, err := run(t, fixtureFs(t), "list")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "NAME")
	assert.Contains(t, lines[1], "pilethost-cli-footer")
	assert.Contains(t, lines[2], "pilethost-cli-home")
	assert.Contains(t, lines[3], "pilethost-cli-more")
	assert.NotContains(t, out, "unrelated")
}

func TestListCommandJSON(t *testing.T) {
	out, err := run(t, fixtureFs(t), "list", "--json")
	require.NoError(t, err)

	var candidates []loader.Candidate
	require.NoError(t, json.Unmarshal([]byte(out), &candidates))
	require.Len(t, candidates, 3)
	assert.Equal(t, loader.SourceLocal, candidates[1].Source)
	assert.Equal(t, filepath.Join(localDir, "pilethost-cli-home"), candidates[1].Path)
}

func TestListCommandEmptyJSON(t *testing.T) {
	out, err := run(t, afero.NewMemMapFs(), "list", "--json")
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(out))
}

func TestRenderCommand(t *testing.T) {
	fs := fixtureFs(t)

	out, err := run(t, fs, "render", "menu")
	require.NoError(t, err)
	assert.Equal(t, "<li>Home</li><li>More</li>\n", out)

	out, err = run(t, fs, "render", "menu", "label=Start", "--separator", "|")
	require.NoError(t, err)
	assert.Equal(t, "<li>Start</li>|<li>More</li>\n", out)

	out, err = run(t, fs, "render", "footer")
	require.NoError(t, err)
	assert.Equal(t, "<footer>f</footer>\n", out)

	out, err = run(t, fs, "render", "sidebar", "--empty", "nothing here")
	require.NoError(t, err)
	assert.Equal(t, "nothing here\n", out)
}

func TestRenderCommandBadParam(t *testing.T) {
	_, err := run(t, fixtureFs(t), "render", "menu", "label")
	assert.ErrorContains(t, err, "want key=value")
}

func TestLoadCommand(t *testing.T) {
	fs := fixtureFs(t)
	writePlugin(t, fs, "pilethost-cli-broken", `return function(api) error("nope") end`)

	out, err := run(t, fs, "load")
	require.NoError(t, err)
	assert.Contains(t, out, "invoke-failed")
	assert.Contains(t, out, "3 invoked, 1 failed, 0 skipped; 0 pages, 3 extensions, 1 data entries")

	_, err = run(t, fs, "load", "--strict")
	var exitErr *exitError
	require.True(t, errors.As(err, &exitErr), "error = %v", err)
	assert.Equal(t, 2, exitErr.code)
	assert.Contains(t, exitErr.Error(), "pilethost-cli-broken")
}

func TestLoadCommandStrictClean(t *testing.T) {
	_, err := run(t, fixtureFs(t), "load", "--strict")
	assert.NoError(t, err)
}

func TestInvalidLogLevel(t *testing.T) {
	cmd := newRootCmd(host.WithFs(afero.NewMemMapFs()), host.WithResolverStrategies())
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--log-level", "loud", "list"})
	assert.ErrorContains(t, cmd.Execute(), "invalid log level")
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, afero.NewMemMapFs(), "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "pilethost "), "output = %q", out)
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"a=1", "b=x=y", "c="})
	require.NoError(t, err)
	assert.Equal(t, "1", params["a"])
	assert.Equal(t, "x=y", params["b"])
	assert.Equal(t, "", params["c"])

	_, err = parseParams([]string{"=v"})
	assert.Error(t, err)
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("PILETHOST_INSPECT_TOKEN_SECRET", "s3cret")

	out, err := run(t, afero.NewMemMapFs(), "token", "--subject", "ci")
	require.NoError(t, err)

	tokens, err := inspect.NewTokenService("s3cret", time.Hour)
	require.NoError(t, err)
	claims, err := tokens.Validate(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ci", claims.Subject)
}

func TestTokenCommandWithoutSecret(t *testing.T) {
	t.Setenv("PILETHOST_INSPECT_TOKEN_SECRET", "")
	_, err := run(t, afero.NewMemMapFs(), "token")
	assert.ErrorIs(t, err, inspect.ErrNoSecret)
}
