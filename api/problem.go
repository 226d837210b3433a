package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/relicmarket/settlement/pkg/errors"
)

// Problem is the problem+json error body callers branch on. Code is the
// stable reason code; the HTTP status follows the error kind.
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func statusFor(kind errors.Kind) int {
	switch kind {
	case errors.KindValidation:
		return http.StatusBadRequest
	case errors.KindState:
		return http.StatusConflict
	case errors.KindAuthorization:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// writeError converts any error into a problem+json response. Unknown
// errors surface as internal faults, never silently downgraded.
func writeError(c *gin.Context, err error) {
	status := statusFor(errors.KindOf(err))
	p := Problem{
		Type:   "about:blank",
		Title:  http.StatusText(status),
		Status: status,
		Code:   errors.CodeOf(err),
		Detail: err.Error(),
	}
	c.Header("Content-Type", "application/problem+json")
	c.AbortWithStatusJSON(status, p)
}
