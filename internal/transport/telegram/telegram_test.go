package telegram

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emberon/internal/transport"
	logx "emberon/pkg/logx"
)

func TestRender(t *testing.T) {
	got := Render(transport.Delivery{Title: "EMBER ON", Body: "Have you taken your <Fish & Oil> supplement yet?"})
	assert.Equal(t, "<b>EMBER ON</b>\nHave you taken your &lt;Fish &amp; Oil&gt; supplement yet?", got)
	assert.Equal(t, "<b>T</b>", Render(transport.Delivery{Title: "T"}))
	assert.Equal(t, "b", Render(transport.Delivery{Body: " b "}))
}

func TestNewRequiresToken(t *testing.T) {
	_, err := New(Config{}, logx.Nop())
	assert.Error(t, err)
}

func TestOfflineAdapterRejectsMissingChat(t *testing.T) {
	a, err := New(Config{Token: "123:abc", Offline: true}, logx.Nop())
	require.NoError(t, err)
	assert.Equal(t, "telegram", a.Name())
	_, err = a.Send(context.Background(), transport.Delivery{Title: "x"})
	assert.ErrorIs(t, err, transport.ErrNoAddress)
}
