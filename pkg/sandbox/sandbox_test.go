package sandbox

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HelloEveryboby/Butler/pkg/apperr"
)

func TestRestrictedAllowsAllowListedCall(t *testing.T) {
	r := New(false, NewAllowList("double"))
	env := map[string]any{"double": func(x int) int { return x * 2 }}

	out, err := r.Eval("double(21)", env)
	require.NoError(t, err)
	assert.Equal(t, "42", out)
}

func TestRestrictedRejectsIdentifierOutsideAllowList(t *testing.T) {
	r := New(false, NewAllowList("double"))
	env := map[string]any{
		"double": func(x int) int { return x * 2 },
		"secret": func() string { return "leaked" },
	}

	_, err := r.Eval("secret()", env)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.Of(apperr.SandboxDenied)))
}

func TestRestrictedAlwaysBlocksDangerousNamesEvenIfAllowed(t *testing.T) {
	r := New(false, NewAllowList("open", "eval"))
	env := map[string]any{
		"open": func(string) string { return "file contents" },
		"eval": func(string) string { return "evaluated" },
	}

	_, err := r.Eval(`open("/etc/passwd")`, env)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.Of(apperr.SandboxDenied)))
}

func TestNewAllowListStripsAlwaysBlockedNames(t *testing.T) {
	al := NewAllowList("safe_fn", "exec", "open")
	assert.True(t, al["safe_fn"])
	assert.False(t, al["exec"])
	assert.False(t, al["open"])
}

func TestUnsafeModeAllowsAnyEnvIdentifier(t *testing.T) {
	r := New(true, nil)
	env := map[string]any{"triple": func(x int) int { return x * 3 }}

	out, err := r.Eval("triple(3)", env)
	require.NoError(t, err)
	assert.Equal(t, "9", out)
}

func TestRestrictedCompileErrorWrappedAsSandboxDenied(t *testing.T) {
	r := New(false, NewAllowList())
	_, err := r.Eval("this is not valid expr syntax (((", map[string]any{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.Of(apperr.SandboxDenied)))
}
