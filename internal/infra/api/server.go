package api

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"shop-fulfillment/internal/config"
	"shop-fulfillment/internal/domain"
	"shop-fulfillment/internal/infra/api/apiv1"
	"shop-fulfillment/internal/infra/i18n"
	"shop-fulfillment/internal/infra/logging"
	"shop-fulfillment/internal/infra/metrics"
	"shop-fulfillment/internal/usecase"
)

// Server is the public HTTP surface: gateway callback pages, health,
// metrics and the JSON API.
type Server struct {
	cfg      config.HTTPConfig
	checkout usecase.CheckoutUseCase
	api      *apiv1.Server
	auth     *AuthManager
	tr       *i18n.Translator
	log      *zerolog.Logger
}

// NewServer wires the router. auth may be nil to leave admin routes out.
func NewServer(cfg config.HTTPConfig, checkout usecase.CheckoutUseCase, api *apiv1.Server, auth *AuthManager, tr *i18n.Translator, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "HTTP").Logger()
	return &Server{cfg: cfg, checkout: checkout, api: api, auth: auth, tr: tr, log: &l}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), Recover(s.log), RequestLog(s.log), Timeout(s.cfg.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/payments/{method}/callback", s.handleCallback)
	r.Post("/payments/{method}/callback", s.handleCallback)

	if s.api != nil {
		var auth apiv1.Authenticator
		if s.auth != nil {
			auth = s.auth
		}
		apiv1.RegisterAPIV1(r, s.api, auth)
	}
	return r
}

// Run serves until ctx is cancelled, then drains within ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.log.Info().Msg("HTTP server shutting down")
	return srv.Shutdown(shutdownCtx)
}

// handleCallback is where gateways send the buyer back. It confirms the
// payment and renders a result page.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	method := chi.URLParam(r, "method")
	if err := r.ParseForm(); err != nil {
		s.renderHTML(w, http.StatusBadRequest, false, s.t("payment_verify_failed"))
		return
	}
	params := make(map[string]string, len(r.Form))
	for k, v := range r.Form {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}

	res, err := s.checkout.ConfirmPayment(r.Context(), method, nil, params)
	if err != nil {
		code, reason, msg := s.callbackFailure(err)
		metrics.ObservePaymentCallback(method, "fail", reason, time.Since(start).Seconds())
		logging.With(r.Context(), s.log).Warn().Err(err).Str("method", method).Str("reason", reason).Msg("payment callback failed")
		s.renderHTML(w, code, false, msg)
		return
	}

	metrics.ObservePaymentCallback(method, "ok", "", time.Since(start).Seconds())
	if n := len(res.Failures); n > 0 {
		s.renderHTML(w, http.StatusOK, true, s.t("payment_ok_partial", n))
		return
	}
	s.renderHTML(w, http.StatusOK, true, s.t("payment_ok"))
}

func (s *Server) callbackFailure(err error) (int, string, string) {
	switch {
	case errors.Is(err, domain.ErrMethodNotSupported):
		return http.StatusNotFound, "unknown_method", s.t("payment_method_unknown")
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found", s.t("payment_not_found")
	case errors.Is(err, domain.ErrPaymentNotPending):
		return http.StatusConflict, "already_processed", s.t("payment_already_processed")
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, "not_verified", s.t("payment_not_approved")
	default:
		return http.StatusBadRequest, "error", s.t("payment_verify_failed")
	}
}

func (s *Server) t(key string, args ...interface{}) string {
	if s.tr == nil {
		return key
	}
	return s.tr.T(key, args...)
}

var page = template.Must(template.New("cb").Parse(`<!doctype html>
<html lang="{{.Lang}}"{{if eq .Lang "fa"}} dir="rtl"{{end}}>
<head>
<meta charset="utf-8" />
<meta name="viewport" content="width=device-width,initial-scale=1" />
<title>{{.Title}}</title>
<style>
body{font-family:system-ui,Arial,sans-serif;margin:2rem;}
.card{max-width:560px;border:1px solid #ddd;border-radius:12px;padding:24px;}
.ok{color:#057a55} .fail{color:#b00020}
.btn{display:inline-block;margin-top:16px;padding:10px 16px;border-radius:8px;border:1px solid #888;text-decoration:none}
</style>
</head>
<body>
<div class="card">
  <h2 class="{{if .OK}}ok{{else}}fail{{end}}">{{.Title}}</h2>
  <p>{{.Msg}}</p>
  {{if .BackURL}}<a class="btn" href="{{.BackURL}}">{{.Back}}</a>{{end}}
</div>
</body>
</html>`))

func (s *Server) renderHTML(w http.ResponseWriter, code int, ok bool, msg string) {
	title := s.t("page_title_fail")
	if ok {
		title = s.t("page_title_ok")
	}
	lang := i18n.FallbackLang
	if s.tr != nil && s.tr.Lang() != "" {
		lang = s.tr.Lang()
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	_ = page.Execute(w, struct {
		Lang    string
		OK      bool
		Title   string
		Msg     string
		BackURL string
		Back    string
	}{
		Lang:    lang,
		OK:      ok,
		Title:   title,
		Msg:     msg,
		BackURL: s.cfg.PublicURL,
		Back:    s.t("back_to_shop"),
	})
}
