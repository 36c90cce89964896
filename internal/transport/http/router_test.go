package httptransport_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"github.com/thupa-pro/lipo-sub001/internal/consent/handler"
	"github.com/thupa-pro/lipo-sub001/internal/consent/policy"
	"github.com/thupa-pro/lipo-sub001/internal/consent/scripts"
	"github.com/thupa-pro/lipo-sub001/internal/consent/service"
	"github.com/thupa-pro/lipo-sub001/internal/consent/store"
	jwttoken "github.com/thupa-pro/lipo-sub001/internal/jwt_token"
	"github.com/thupa-pro/lipo-sub001/internal/platform/health"
	httptransport "github.com/thupa-pro/lipo-sub001/internal/transport/http"
	"github.com/thupa-pro/lipo-sub001/pkg/platform/middleware/request"
)

type RouterSuite struct {
	suite.Suite
	router http.Handler
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	p := policy.New("1", 90*24*time.Hour)

	users := service.NewUserService(store.NewUserInMemory(), p)
	svc := service.NewService(store.NewConsentStore(store.NewMemorySlot(), p), p, service.WithSyncer(users))
	catalog, err := scripts.NewCatalog(scripts.DefaultProviders())
	s.Require().NoError(err)
	jwt := jwttoken.NewJWTService("test-key", "lipo", "lipo-consent", time.Hour)

	s.router = httptransport.NewRouter(httptransport.Config{
		Namespace:      "lipo",
		RequestTimeout: time.Second,
		MaxBodyBytes:   256,
	}, httptransport.Dependencies{
		Logger:    logger,
		Consent:   handler.New(svc, catalog, logger),
		Users:     handler.NewUserHandler(users, logger),
		Health:    health.New("memory"),
		Validator: jwttoken.NewJWTServiceAdapter(jwt),
		Metrics:   request.NewMetrics(reg),
		Gatherer:  reg,
	})
}

func (s *RouterSuite) serve(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *RouterSuite) TestHealthAndMetrics() {
	w := s.serve(httptest.NewRequest(http.MethodGet, "/health/live", nil))
	s.Equal(http.StatusOK, w.Code)
	s.Empty(w.Result().Cookies())

	s.serve(httptest.NewRequest(http.MethodGet, "/consent", nil))
	w = s.serve(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), `lipo_http_endpoint_latency_seconds_count{endpoint="GET /consent"} 1`)
}

func (s *RouterSuite) TestConsentRoutesCarryVisitorAndRequestID() {
	w := s.serve(httptest.NewRequest(http.MethodGet, "/consent", nil))
	s.Equal(http.StatusOK, w.Code)
	s.NotEmpty(w.Header().Get("X-Request-ID"))
	s.Require().Len(w.Result().Cookies(), 1)
	s.Equal("lipo_visitor", w.Result().Cookies()[0].Name)
}

func (s *RouterSuite) TestRejectsNonJSONBodies() {
	req := httptest.NewRequest(http.MethodPut, "/consent", strings.NewReader("analytics=true"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := s.serve(req)
	s.Equal(http.StatusUnsupportedMediaType, w.Code)
}

func (s *RouterSuite) TestBodyLimit() {
	body := `{"categories":{"analytics":true},"padding":"` + strings.Repeat("x", 512) + `"}`
	req := httptest.NewRequest(http.MethodPut, "/consent", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := s.serve(req)
	s.Equal(http.StatusRequestEntityTooLarge, w.Code)
}

func (s *RouterSuite) TestUserConsentRequiresAuth() {
	w := s.serve(httptest.NewRequest(http.MethodGet, "/api/user/consent", nil))
	s.Equal(http.StatusUnauthorized, w.Code)
}
