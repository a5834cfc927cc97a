package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRequest struct {
	Symbol  string `query:"symbol" json:"symbol" validate:"required,max=8"`
	Horizon int    `query:"horizon" json:"horizon" default:"6" validate:"gte=1,lte=100"`
	Mode    string `query:"mode" json:"mode" default:"fast" validate:"oneof=fast slow"`
}

func TestPrepareAndValidate_Defaults(t *testing.T) {
	req := &sampleRequest{Symbol: "AAPL"}
	require.Nil(t, PrepareAndValidate(context.Background(), req))
	assert.Equal(t, 6, req.Horizon)
	assert.Equal(t, "fast", req.Mode)
}

func TestPrepareAndValidate_Errors(t *testing.T) {
	req := &sampleRequest{Horizon: 500, Mode: "medium"}
	verrs := PrepareAndValidate(context.Background(), req)
	require.Len(t, verrs, 3)

	byField := map[string]ValidationError{}
	for _, v := range verrs {
		byField[v.Field] = v
	}
	assert.Equal(t, "ERR_REQUIRED", byField["symbol"].Code)
	assert.Equal(t, "symbol is required", byField["symbol"].Message)
	assert.Equal(t, "horizon must be less than or equal to 100", byField["horizon"].Message)
	assert.Equal(t, map[string]interface{}{"max": "100"}, byField["horizon"].Params)
	assert.Equal(t, "mode must be one of: fast, slow", byField["mode"].Message)
}

func TestReadAndValidateRequest_Query(t *testing.T) {
	e := echo.New()
	r := httptest.NewRequest(http.MethodGet, "/?symbol=MSFT&horizon=3", nil)
	c := e.NewContext(r, httptest.NewRecorder())

	req := &sampleRequest{}
	require.Nil(t, ReadAndValidateRequest(c, req))
	assert.Equal(t, "MSFT", req.Symbol)
	assert.Equal(t, 3, req.Horizon)
	assert.Equal(t, "fast", req.Mode)

	r = httptest.NewRequest(http.MethodGet, "/?symbol=MSFT&horizon=abc", nil)
	c = e.NewContext(r, httptest.NewRecorder())
	verrs := ReadAndValidateRequest(c, &sampleRequest{})
	require.Len(t, verrs, 1)
	assert.Equal(t, "ERR_BIND", verrs[0].Code)
}

func TestServer_Healthz(t *testing.T) {
	s := NewServer(nil, WithMetricsPath(""))
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAppErrorResponse(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	require.NoError(t, AppErrorResponse(c, NotFoundError("series not found")))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_NOT_FOUND")

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	require.NoError(t, AppErrorResponse(c, assert.AnError))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
