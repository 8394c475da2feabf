package cors

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	allowHeaders  = "Authorization, Content-Type, X-Request-ID"
	allowMethods  = "GET, POST, DELETE, OPTIONS"
	exposeHeaders = "X-Request-ID"
)

// Options configures the CORS middleware.
type Options struct {
	// AllowedOrigins lists exact origins. Empty allows any origin without credentials.
	AllowedOrigins []string
	MaxAge         time.Duration
}

// New returns CORS middleware for the given origins with a ten minute preflight cache.
func New(allowedOrigins []string) gin.HandlerFunc {
	return WithOptions(Options{AllowedOrigins: allowedOrigins, MaxAge: 10 * time.Minute})
}

// WithOptions returns CORS middleware honouring opts. Credentials are only
// allowed for explicitly listed origins.
func WithOptions(opts Options) gin.HandlerFunc {
	allowAll := len(opts.AllowedOrigins) == 0
	origins := make(map[string]struct{}, len(opts.AllowedOrigins))
	for _, origin := range opts.AllowedOrigins {
		origins[strings.TrimRight(origin, "/")] = struct{}{}
	}
	maxAge := strconv.Itoa(int(opts.MaxAge.Seconds()))

	return func(c *gin.Context) {
		header := c.Writer.Header()
		header.Add("Vary", "Origin")

		origin := c.GetHeader("Origin")
		switch {
		case origin == "":
		case allowAll:
			header.Set("Access-Control-Allow-Origin", "*")
		default:
			if _, ok := origins[strings.TrimRight(origin, "/")]; !ok {
				break
			}
			header.Set("Access-Control-Allow-Origin", origin)
			header.Set("Access-Control-Allow-Credentials", "true")
		}
		header.Set("Access-Control-Expose-Headers", exposeHeaders)

		if c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != "" {
			header.Set("Access-Control-Allow-Headers", allowHeaders)
			header.Set("Access-Control-Allow-Methods", allowMethods)
			header.Set("Access-Control-Max-Age", maxAge)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
