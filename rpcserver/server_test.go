package rpcserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoMethods() map[string]Handler {
	return map[string]Handler{
		"ping": func(_ httpContext, _ json.RawMessage) (interface{}, *Error) {
			return "pong", nil
		},
		"boom": func(_ httpContext, _ json.RawMessage) (interface{}, *Error) {
			return nil, internalError(assertErr{"boom"})
		},
	}
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }

func newTestServer() *Server {
	return New(echoMethods(), 0, 0, []string{"*"})
}

func doRequest(t *testing.T, srv *Server, body string) (*httptest.ResponseRecorder, response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var resp response
	if rec.Body.Len() > 0 && rec.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestSingleRequestSuccess(t *testing.T) {
	srv := newTestServer()
	rec, resp := doRequest(t, srv, `{"jsonrpc":"2.0","method":"ping","id":1}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "pong", resp.Result)
}

func TestUnknownMethodIsLogicalError(t *testing.T) {
	srv := newTestServer()
	rec, resp := doRequest(t, srv, `{"jsonrpc":"2.0","method":"nope","id":1}`)
	assert.Equal(t, http.StatusOK, rec.Code, "logical errors still return HTTP 200")
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestHandlerErrorIsLogicalError(t *testing.T) {
	srv := newTestServer()
	rec, resp := doRequest(t, srv, `{"jsonrpc":"2.0","method":"boom","id":1}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInternalError, resp.Error.Code)
}

func TestMissingJSONRPCVersionIsInvalidRequest(t *testing.T) {
	srv := newTestServer()
	rec, resp := doRequest(t, srv, `{"method":"ping","id":1}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidRequest, resp.Error.Code)
}

func TestMalformedEnvelopeIsHTTP400WithParseError(t *testing.T) {
	srv := newTestServer()
	rec, resp := doRequest(t, srv, `{not valid json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeParseError, resp.Error.Code)
}

func TestEmptyBodyIsHTTP400(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEmptyBatchIsHTTP400(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`[]`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchPreservesOrder(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(
		`[{"jsonrpc":"2.0","method":"ping","id":1},{"jsonrpc":"2.0","method":"nope","id":2},{"jsonrpc":"2.0","method":"ping","id":3}]`,
	))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resps []response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resps))
	require.Len(t, resps, 3)
	assert.Equal(t, "pong", resps[0].Result)
	assert.NotNil(t, resps[1].Error)
	assert.Equal(t, "pong", resps[2].Result)
}

func TestGetMethodNotAllowed(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
