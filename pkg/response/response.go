// Package response writes the agent's JSON envelope.
package response

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	appErrors "github.com/charlesng35/inspectsync/pkg/errors"
)

// Provenance headers mirror Meta for clients that do not parse the body.
const (
	HeaderDataSource = "X-Data-Source"
	HeaderCachedAt   = "X-Cached-At"
)

// Response is the envelope every agent endpoint answers with.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Meta describes list size and where read data came from. Source is "live"
// or "cache"; cached data is always reported stale.
type Meta struct {
	Total    int        `json:"total,omitempty"`
	Source   string     `json:"source,omitempty"`
	Stale    bool       `json:"stale,omitempty"`
	CachedAt *time.Time `json:"cached_at,omitempty"`
}

// Sourced builds read metadata for data served from source at cachedAt.
func Sourced(source string, cachedAt time.Time) *Meta {
	meta := &Meta{Source: source, Stale: source == "cache"}
	if !cachedAt.IsZero() {
		at := cachedAt.UTC()
		meta.CachedAt = &at
	}
	return meta
}

func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, Response{Success: true, Data: data})
}

// SuccessWithMeta writes data with metadata. Provenance in meta is also
// exposed through the X-Data-Source and X-Cached-At headers.
func SuccessWithMeta(c *gin.Context, statusCode int, data interface{}, meta *Meta) {
	if meta != nil && meta.Source != "" {
		c.Header(HeaderDataSource, meta.Source)
		if meta.CachedAt != nil {
			c.Header(HeaderCachedAt, meta.CachedAt.Format(time.RFC3339))
		}
	}
	c.JSON(statusCode, Response{Success: true, Data: data, Meta: meta})
}

// Error writes the failure envelope. Errors that are not AppErrors become a
// generic 500 without leaking their text.
func Error(c *gin.Context, err error) {
	if err == nil {
		err = appErrors.ErrInternalServer
	}

	appErr := appErrors.FromError(err)
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}

	c.JSON(status, Response{
		Success: false,
		Error:   &ErrorInfo{Code: appErr.Code, Message: appErr.Message},
	})
}
