package secret

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	result CommandResult
	err    error
	calls  [][]string
}

func (r *fakeRunner) Run(_ context.Context, argv []string) (CommandResult, error) {
	r.calls = append(r.calls, argv)
	return r.result, r.err
}

type mapKeyring map[string]string

func (k mapKeyring) Get(key string) (string, error) {
	v, ok := k[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (k mapKeyring) Set(key, value string) error {
	k[key] = value
	return nil
}

func (k mapKeyring) Delete(key string) error {
	delete(k, key)
	return nil
}

func lookupIn(m map[string]any) func(string) (any, bool) {
	return func(key string) (any, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestResolveLiteral(t *testing.T) {
	got, err := Literal("hunter2").Resolve(context.Background(), Env{})
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)
}

func TestResolveCommandStripsOneNewline(t *testing.T) {
	runner := &fakeRunner{result: CommandResult{Stdout: []byte("hunter2\n\n")}}
	src := Command("pass", "show", "mail")

	got, err := src.Resolve(context.Background(), Env{Runner: runner})
	require.NoError(t, err)
	assert.Equal(t, "hunter2\n", got)
	assert.Equal(t, [][]string{{"pass", "show", "mail"}}, runner.calls)

	runner.result.Stdout = []byte("token\r\n")
	got, err = src.Resolve(context.Background(), Env{Runner: runner})
	require.NoError(t, err)
	assert.Equal(t, "token", got)
	assert.Len(t, runner.calls, 2, "command sources are not cached")
}

func TestResolveCommandFailure(t *testing.T) {
	runner := &fakeRunner{result: CommandResult{ExitCode: 3, Stderr: []byte("no such entry\n")}}
	src := Command("pass", "show", "mail").WithField("imap-passwd-cmd")

	_, err := src.Resolve(context.Background(), Env{Runner: runner})
	var secretErr *Error
	require.ErrorAs(t, err, &secretErr)
	assert.Equal(t, CommandFailed, secretErr.Kind)
	assert.Equal(t, 3, secretErr.ExitCode)
	assert.Equal(t, "no such entry", secretErr.Stderr)

	runner.err = errors.New("executable not found")
	_, err = src.Resolve(context.Background(), Env{Runner: runner})
	require.ErrorAs(t, err, &secretErr)
	assert.Equal(t, -1, secretErr.ExitCode)
}

func TestExecRunnerShellCommand(t *testing.T) {
	got, err := ShellCommand(`printf 'secret\n'`).Resolve(context.Background(), Env{})
	require.NoError(t, err)
	assert.Equal(t, "secret", got)

	_, err = ShellCommand("echo oops >&2; exit 2").Resolve(context.Background(), Env{})
	var secretErr *Error
	require.ErrorAs(t, err, &secretErr)
	assert.Equal(t, 2, secretErr.ExitCode)
	assert.Equal(t, "oops", secretErr.Stderr)
}

func TestResolveKeyring(t *testing.T) {
	ring := mapKeyring{"work-imap": "hunter2"}

	got, err := KeyringRef("work-imap").Resolve(context.Background(), Env{Keyring: ring})
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)

	_, err = KeyringRef("missing").Resolve(context.Background(), Env{Keyring: ring})
	assert.True(t, IsKind(err, KeyringMiss))

	_, err = KeyringRef("work-imap").Resolve(context.Background(), Env{})
	assert.True(t, IsKind(err, KeyringUnavailable))
}

func TestParseForms(t *testing.T) {
	tests := []struct {
		name string
		doc  map[string]any
		want Source
	}{
		{
			name: "literal",
			doc:  map[string]any{"smtp-passwd": "hunter2"},
			want: Literal("hunter2").WithField("smtp-passwd"),
		},
		{
			name: "command string",
			doc:  map[string]any{"smtp-passwd-cmd": "pass show mail"},
			want: ShellCommand("pass show mail").WithField("smtp-passwd-cmd"),
		},
		{
			name: "command array",
			doc:  map[string]any{"smtp-passwd-cmd": []any{"pass", "show", "mail"}},
			want: Command("pass", "show", "mail").WithField("smtp-passwd-cmd"),
		},
		{
			name: "keyring",
			doc:  map[string]any{"smtp-passwd-keyring": "work-smtp"},
			want: KeyringRef("work-smtp").WithField("smtp-passwd-keyring"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse("smtp-passwd", lookupIn(tt.doc))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAmbiguousAndMissing(t *testing.T) {
	_, err := Parse("smtp-passwd", lookupIn(map[string]any{
		"smtp-passwd":     "hunter2",
		"smtp-passwd-cmd": "pass show mail",
	}))
	assert.True(t, IsKind(err, AmbiguousSource))

	_, err = Parse("smtp-passwd", lookupIn(map[string]any{}))
	assert.True(t, IsKind(err, MissingSource))

	_, err = Parse("smtp-passwd", lookupIn(map[string]any{"smtp-passwd": 42}))
	assert.True(t, IsKind(err, MalformedSource))
}

func TestStoreWriteBack(t *testing.T) {
	ctx := context.Background()
	ring := mapKeyring{}
	env := Env{Keyring: ring}

	next, err := Literal("old").Store(ctx, env, "new")
	require.NoError(t, err)
	assert.Equal(t, Literal("new"), next)

	ref := KeyringRef("work-token")
	next, err = ref.Store(ctx, env, "new")
	require.NoError(t, err)
	assert.Equal(t, ref, next)
	assert.Equal(t, "new", ring["work-token"])

	_, err = Command("get-token").Store(ctx, env, "new")
	assert.True(t, IsKind(err, NotPersistable))
}

func TestEncodeRoundTrip(t *testing.T) {
	for _, src := range []Source{
		Literal("hunter2"),
		ShellCommand("pass show mail"),
		Command("pass", "show", "mail"),
		KeyringRef("work"),
	} {
		out := map[string]any{}
		src.Encode("imap-passwd", out)

		got, err := Parse("imap-passwd", lookupIn(out))
		require.NoError(t, err)
		assert.Equal(t, src.Kind, got.Kind)
		assert.Equal(t, src.Value, got.Value)
		assert.Equal(t, src.Argv, got.Argv)
	}
}

func TestStringRedactsLiteral(t *testing.T) {
	src := Literal("hunter2")
	assert.NotContains(t, src.String(), "hunter2")
	assert.NotContains(t, src.GoString(), "hunter2")
}
