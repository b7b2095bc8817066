package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/campus-attendance-api/pkg/errors"
)

func newContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	return c, w
}

func TestJSONMeta(t *testing.T) {
	c, w := newContext()
	JSON(c, http.StatusOK, []string{"a"}, map[string]interface{}{"count": 1})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	var env map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, float64(1), env["meta"].(map[string]interface{})["count"])

	c, w = newContext()
	JSON(c, http.StatusOK, "x", map[string]interface{}{})
	assert.NotContains(t, w.Body.String(), "meta")
}

func TestErrorEnvelope(t *testing.T) {
	c, w := newContext()
	Error(c, appErrors.Clone(appErrors.ErrLinkExpired, "download link expired"))
	assert.Equal(t, http.StatusGone, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"LINK_EXPIRED"`)

	c, w = newContext()
	Error(c, errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAttachmentAndStream(t *testing.T) {
	c, w := newContext()
	Attachment(c, "sessions.csv", "text/csv", []byte("a,b\n"))
	assert.Equal(t, `attachment; filename="sessions.csv"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Equal(t, "a,b\n", w.Body.String())

	c, w = newContext()
	Stream(c, "", "application/pdf", -1, strings.NewReader("%PDF"))
	assert.Equal(t, "attachment", w.Header().Get("Content-Disposition"))
	assert.Equal(t, "%PDF", w.Body.String())
}
