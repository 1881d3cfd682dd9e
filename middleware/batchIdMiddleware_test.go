package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo"
	"github.com/stretchr/testify/assert"
)

func TestMandateBatchIdAttribute(t *testing.T) {
	handler := MandateBatchIdAttribute(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	call := func(id string) int {
		e := echo.New()
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/batches/"+id, nil), rec)
		c.SetParamNames("id")
		c.SetParamValues(id)
		assert.NoError(t, handler(c))
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, call("5b8e6a1c-2f4d-4c1e-9a3b-7d2f0e6c1a90"))
	assert.Equal(t, http.StatusBadRequest, call("not-a-uuid"))
	assert.Equal(t, http.StatusBadRequest, call(""))
}
