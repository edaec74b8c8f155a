package systemd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifierStates(t *testing.T) {
	var got []string
	n := Notifier{send: func(state string) (bool, error) {
		got = append(got, state)
		return true, nil
	}}

	ok, err := n.Ready("3 supplements scheduled")
	require.NoError(t, err)
	assert.True(t, ok)
	_, _ = n.Reloading()
	_, _ = n.Status("next fire %s", "08:00")
	_, _ = n.Stopping()

	assert.Equal(t, []string{
		"READY=1\nSTATUS=3 supplements scheduled",
		"RELOADING=1",
		"STATUS=next fire 08:00",
		"STOPPING=1",
	}, got)
}

func TestZeroNotifierOutsideSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")
	ok, err := Notifier{}.Ready("ok")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, Notifier{}.Watchdog(context.Background()))
}
