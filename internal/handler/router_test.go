package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/counseling-booking-api/internal/models"
	appErrors "github.com/noah-isme/counseling-booking-api/pkg/errors"
)

type tokenStub map[string]*models.JWTClaims

func (s tokenStub) ValidateToken(token string) (*models.JWTClaims, error) {
	claims, ok := s[token]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return claims, nil
}

type observerStub struct {
	paths []string
}

func (o *observerStub) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	o.paths = append(o.paths, path)
}

type pingStub struct{ err error }

func (p pingStub) PingContext(ctx context.Context) error { return p.err }

func newTestRouter(observer *observerStub, deps map[string]Pinger) http.Handler {
	tokens := tokenStub{
		"student":   {UserID: "s1", Role: models.RoleStudent},
		"counselor": {UserID: "c1", Role: models.RoleCounselor},
		"admin":     {UserID: "a1", Role: models.RoleAdmin},
	}
	return NewRouter(RouterConfig{
		Tokens:       tokens,
		Observer:     observer,
		Metrics:      NewMetricsHandler(nil, deps),
		Slots:        NewSlotHandler(&slotServiceMock{createResp: &models.TimeSlot{ID: "slot-1"}}),
		Appointments: NewAppointmentHandler(&bookingServiceMock{appt: &models.Appointment{ID: "appt-1"}}),
	})
}

func serve(router http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRouterRequiresToken(t *testing.T) {
	router := newTestRouter(&observerStub{}, nil)

	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/api/v1/slots/recent", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/api/v1/slots/recent", "forged", "").Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/api/v1/slots/recent", "student", "").Code)
}

func TestRouterRoleGates(t *testing.T) {
	router := newTestRouter(&observerStub{}, nil)
	slotBody := `{"startTime":"2026-03-02T09:00:00Z","endTime":"2026-03-02T10:00:00Z"}`

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		status int
	}{
		{"student cannot publish slots", http.MethodPost, "/api/v1/slots", "student", slotBody, http.StatusForbidden},
		{"counselor publishes slots", http.MethodPost, "/api/v1/slots", "counselor", slotBody, http.StatusCreated},
		{"counselor cannot book", http.MethodPost, "/api/v1/appointments", "counselor", `{"timeSlotId":"slot-1"}`, http.StatusForbidden},
		{"student books", http.MethodPost, "/api/v1/appointments", "student", `{"timeSlotId":"slot-1"}`, http.StatusCreated},
		{"student cannot confirm", http.MethodPost, "/api/v1/appointments/appt-1/confirm", "student", "", http.StatusForbidden},
		{"admin cannot confirm", http.MethodPost, "/api/v1/appointments/appt-1/confirm", "admin", "", http.StatusForbidden},
		{"counselor confirms", http.MethodPost, "/api/v1/appointments/appt-1/confirm", "counselor", "", http.StatusOK},
		{"anyone may attempt cancel", http.MethodPost, "/api/v1/appointments/appt-1/cancel", "student", "", http.StatusOK},
		{"only admins sweep", http.MethodPost, "/api/v1/slots/sweep", "counselor", "", http.StatusForbidden},
		{"admin sweeps", http.MethodPost, "/api/v1/slots/sweep", "admin", "", http.StatusOK},
		{"only admins list all", http.MethodGet, "/api/v1/appointments", "student", "", http.StatusForbidden},
		{"student agenda", http.MethodGet, "/api/v1/students/me/appointments", "student", "", http.StatusOK},
		{"counselor has no student agenda", http.MethodGet, "/api/v1/students/me/appointments", "counselor", "", http.StatusForbidden},
		{"counselor today", http.MethodGet, "/api/v1/counselors/me/appointments/today", "counselor", "", http.StatusOK},
		{"student has no counselor agenda", http.MethodGet, "/api/v1/counselors/me/appointments/pending-count", "student", "", http.StatusForbidden},
		{"counselor slots are public to callers", http.MethodGet, "/api/v1/counselors/3f2b8c1d-6a4e-4f0b-9c7d-2e1a5b6c7d8e/slots", "student", "", http.StatusOK},
		{"student cannot delete slots", http.MethodDelete, "/api/v1/slots/slot-1", "student", "", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(router, tc.method, tc.path, tc.token, tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
}

func TestRouterObservesRouteTemplates(t *testing.T) {
	observer := &observerStub{}
	router := newTestRouter(observer, nil)

	serve(router, http.MethodPost, "/api/v1/appointments/appt-1/cancel", "student", "")
	serve(router, http.MethodGet, "/nope", "", "")

	require.Len(t, observer.paths, 2)
	assert.Equal(t, "/api/v1/appointments/:id/cancel", observer.paths[0])
	assert.Equal(t, "unmatched", observer.paths[1])
}

func TestRouterHealthAndReady(t *testing.T) {
	router := newTestRouter(&observerStub{}, map[string]Pinger{"postgres": pingStub{}})
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/health", "", "").Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/ready", "", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(router, http.MethodGet, "/metrics", "", "").Code)

	degraded := newTestRouter(&observerStub{}, map[string]Pinger{"postgres": pingStub{}, "redis": pingStub{err: errors.New("refused")}})
	rec := serve(degraded, http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
	assert.Contains(t, rec.Body.String(), "refused")
}
