package debugsrv

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "emberon/pkg/logx"
)

func TestHandlerServesState(t *testing.T) {
	s := New(Config{Enabled: true}, func() any { return map[string]int{"jobs": 2} }, logx.Nop())
	rec := httptest.NewRecorder()
	s.handler("").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/schedules", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"jobs":2}`, rec.Body.String())
}

func TestHandlerRequiresToken(t *testing.T) {
	s := New(Config{Enabled: true, Token: "t0k"}, nil, logx.Nop())
	h := s.handler("t0k")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Authorization", "Bearer t0k")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz?token=t0k", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartRefusesPublicBindWithoutToken(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, nil, logx.Nop())
	assert.ErrorIs(t, s.Start(context.Background()), ErrInsecureBind)
}

func TestStartStop(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, nil, logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	addr := s.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
	assert.Empty(t, s.Addr())
}

func TestDisabledStartIsNoop(t *testing.T) {
	s := New(Config{}, nil, logx.Nop())
	assert.NoError(t, s.Start(context.Background()))
	assert.Empty(t, s.Addr())
}
