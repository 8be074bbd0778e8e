package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const playerID = "069a79f4-44e9-4726-a5be-fca90e38aaf5"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func useRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	t.Setenv("APP_ENV", "development")
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("REDIS_URL", "redis://"+mr.Addr())
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("WEBSITE_URL", "")
	t.Setenv("KEY_PREFIX", "")
	return mr
}

func TestRootCommands(t *testing.T) {
	cmd := NewRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"serve", "login", "verify", "consume"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestLoginReusesCodeAcrossInvocations(t *testing.T) {
	useRedis(t)

	first, err := execute(t, "login", "--uuid", playerID, "--name", "Notch")
	require.NoError(t, err)
	assert.Contains(t, first, "Login Code: ")
	assert.Contains(t, first, "Expires in 5 minutes")

	second, err := execute(t, "login", "--uuid", playerID)
	require.NoError(t, err)
	assert.Equal(t, strings.Split(first, "\n")[0], strings.Split(second, "\n")[0])
}

func TestVerifyAndConsume(t *testing.T) {
	mr := useRedis(t)
	mr.HSet("web:Qw3rTy12", "uuid", "someone-else", "username", "", "isOp", "false")
	mr.SetTTL("web:Qw3rTy12", 10*time.Minute)

	out, err := execute(t, "verify", "Qw3rTy12", "--uuid", playerID)
	require.NoError(t, err)
	assert.Equal(t, "✓ Verification successful\n", out)

	out, err = execute(t, "verify", "nope", "--uuid", playerID)
	require.NoError(t, err)
	assert.Equal(t, "Invalid verification code\n", out)

	out, err = execute(t, "consume", "Qw3rTy12", "--uuid", playerID)
	require.NoError(t, err)
	assert.Equal(t, "consumed\n", out)

	out, err = execute(t, "consume", "Qw3rTy12", "--uuid", playerID)
	require.NoError(t, err)
	assert.Equal(t, "rejected\n", out)
}

func TestPlayerFlagsValidated(t *testing.T) {
	useRedis(t)

	_, err := execute(t, "login")
	assert.Error(t, err)

	_, err = execute(t, "login", "--uuid", "not-a-uuid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --uuid")

	_, err = execute(t, "verify", "--uuid", playerID)
	assert.Error(t, err)
}

func TestConfigErrorsSurface(t *testing.T) {
	t.Setenv("STORE_BACKEND", "etcd")

	_, err := execute(t, "login", "--uuid", playerID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}
