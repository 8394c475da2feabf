package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/counseling-booking-api/internal/models"
	appErrors "github.com/noah-isme/counseling-booking-api/pkg/errors"
)

type validatorStub struct {
	claims *models.JWTClaims
	err    error
	seen   string
}

func (v *validatorStub) ValidateToken(token string) (*models.JWTClaims, error) {
	v.seen = token
	return v.claims, v.err
}

func protectedEngine(tokens TokenValidator, roles ...models.UserRole) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers := []gin.HandlerFunc{JWT(tokens)}
	if len(roles) > 0 {
		handlers = append(handlers, RequireRoles(roles...))
	}
	handlers = append(handlers, func(c *gin.Context) {
		value, _ := c.Get(ContextUserKey)
		c.String(http.StatusOK, value.(*models.JWTClaims).UserID)
	})
	r.GET("/protected", handlers...)
	return r
}

func doGet(r http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestJWTStoresClaims(t *testing.T) {
	tokens := &validatorStub{claims: &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}}
	r := protectedEngine(tokens)

	rec := doGet(r, "bearer  abc.def.ghi")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s1", rec.Body.String())
	assert.Equal(t, "abc.def.ghi", tokens.seen)
}

func TestJWTRejectsMissingOrMalformedHeader(t *testing.T) {
	r := protectedEngine(&validatorStub{claims: &models.JWTClaims{UserID: "s1"}})

	assert.Equal(t, http.StatusUnauthorized, doGet(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, doGet(r, "Basic dXNlcg==").Code)
	assert.Equal(t, http.StatusUnauthorized, doGet(r, "Bearer").Code)
}

func TestJWTPropagatesValidatorError(t *testing.T) {
	r := protectedEngine(&validatorStub{err: appErrors.Clone(appErrors.ErrUnauthorized, "expired")})

	rec := doGet(r, "Bearer token")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "expired")
}

func TestRequireRoles(t *testing.T) {
	counselor := &validatorStub{claims: &models.JWTClaims{UserID: "c1", Role: models.RoleCounselor}}
	student := &validatorStub{claims: &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}}

	assert.Equal(t, http.StatusOK, doGet(protectedEngine(counselor, models.RoleCounselor, models.RoleAdmin), "Bearer t").Code)
	assert.Equal(t, http.StatusForbidden, doGet(protectedEngine(student, models.RoleCounselor, models.RoleAdmin), "Bearer t").Code)
}

func TestRequireRolesWithoutClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", RequireRoles(models.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusUnauthorized, doGet(r, "").Code)
}

type recordingObserver struct {
	method string
	path   string
	status int
}

func (o *recordingObserver) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	o.method, o.path, o.status = method, path, status
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	observer := &recordingObserver{}
	r := gin.New()
	r.Use(Metrics(observer))
	r.GET("/slots/:id", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/slots/abc", nil))

	assert.Equal(t, http.MethodGet, observer.method)
	assert.Equal(t, "/slots/:id", observer.path)
	assert.Equal(t, http.StatusAccepted, observer.status)
}

func TestMetricsWithoutObserver(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics(nil))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
