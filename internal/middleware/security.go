package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/inspectsync/pkg/response"
)

// DefaultContentSecurityPolicy: the agent serves JSON only, nothing may be embedded.
const DefaultContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"

var securityHeaders = [][2]string{
	{"X-Frame-Options", "DENY"},
	{"X-Content-Type-Options", "nosniff"},
	{"Content-Security-Policy", DefaultContentSecurityPolicy},
	{"Referrer-Policy", "no-referrer"},
	{"Cache-Control", "no-store"},
}

// SecurityHeaders sets response hardening headers. No HSTS: the agent listens
// on plain HTTP on the device.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, header := range securityHeaders {
			c.Header(header[0], header[1])
		}
		c.Next()
	}
}

var (
	corsMethods = strings.Join([]string{
		http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions,
	}, ", ")
	corsHeaders = strings.Join([]string{
		"Authorization", "Content-Type", RequestIDHeader,
	}, ", ")
	// Browser clients can only read provenance headers that are exposed.
	corsExposed = strings.Join([]string{
		RequestIDHeader, response.HeaderDataSource, response.HeaderCachedAt,
	}, ", ")
)

// CORS lets the field application, served from its own origin, call the agent.
// Preflight requests are answered directly.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", corsMethods)
		c.Header("Access-Control-Allow-Headers", corsHeaders)
		c.Header("Access-Control-Expose-Headers", corsExposed)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
