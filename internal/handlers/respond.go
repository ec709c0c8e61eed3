package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/inspectsync/internal/remote"
	appErrors "github.com/charlesng35/inspectsync/pkg/errors"
	"github.com/charlesng35/inspectsync/pkg/response"
)

var errUpstream = appErrors.New("UPSTREAM_ERROR", "Remote service rejected the request", http.StatusBadGateway)

// writeError maps remote and local failures onto the response envelope.
func writeError(c *gin.Context, err error) {
	var apiErr *remote.APIError
	switch {
	case errors.As(err, &apiErr):
		if apiErr.StatusCode == http.StatusNotFound {
			response.Error(c, appErrors.ErrNotFound.WithInternal(err))
			return
		}
		mapped := errUpstream.WithInternal(err)
		if apiErr.Message != "" {
			mapped = mapped.WithMessage(apiErr.Message)
		}
		response.Error(c, mapped)
	case remote.IsNetworkError(err):
		response.Error(c, appErrors.ErrOffline.WithInternal(err))
	default:
		response.Error(c, err)
	}
}

// requestContext falls back to Background for handlers invoked without a request.
func requestContext(c *gin.Context) context.Context {
	if c == nil || c.Request == nil {
		return context.Background()
	}
	return c.Request.Context()
}
