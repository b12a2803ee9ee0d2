package generichttp

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type teapot struct{}

func (teapot) Error() string { return "short and stout" }
func (teapot) HTTPStatus() int { return http.StatusTeapot }

func TestStatus(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, Status(errors.New("x")))
	assert.Equal(t, http.StatusTeapot, Status(teapot{}))
	assert.Equal(t, http.StatusTeapot, Status(fmt.Errorf("wrapped: %w", teapot{})))
}

func TestSetIntRejectsBadBody(t *testing.T) {
	called := false
	h := SetInt(func(int) error { called = true; return nil })
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/count", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, called)
}

func TestGetBoolError(t *testing.T) {
	h := GetBool(func() (bool, error) { return false, teapot{} })
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/enabled", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func ExampleSubMuxSanitize() {
	fmt.Println(SubMuxSanitize("uart2/tx/*"))
	// Output: /uart2/tx
}
