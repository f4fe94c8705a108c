package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/fetch"
)

// Kinds reported for failures outside the fetch package.
const (
	kindInvalidRequest  = "InvalidRequest"
	kindSessionNotFound = "SessionNotFound"
	kindUnavailable     = "Unavailable"
)

// statusFor maps a fetch error kind to the HTTP status it is reported with.
func statusFor(kind fetch.Kind) int {
	switch {
	case kind.Construction():
		return http.StatusBadRequest
	case kind == fetch.KindResourceNotFound:
		return http.StatusNotFound
	case kind == fetch.KindRequestCanceled:
		return http.StatusConflict
	case kind == fetch.KindNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError writes err as {error, kind} and records it on the context
// for the request logger.
func abortWithError(c *gin.Context, err error) {
	kind := fetch.KindOf(err)
	_ = c.Error(err)

	body := gin.H{"error": err.Error(), "kind": kind.String()}
	var fe *fetch.Error
	if errors.As(err, &fe) && fe.Phase != "" {
		body["phase"] = string(fe.Phase)
	}
	c.AbortWithStatusJSON(statusFor(kind), body)
}

func abortWith(c *gin.Context, status int, kind, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "kind": kind})
}
