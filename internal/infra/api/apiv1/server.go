package apiv1

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"shop-fulfillment/internal/domain/model"
	"shop-fulfillment/internal/infra/logging"
	"shop-fulfillment/internal/usecase"
)

// Server holds the JSON handlers of /api/v1. Any use case may be nil, its
// routes then answer 501.
type Server struct {
	checkout        usecase.CheckoutUseCase
	catalog         usecase.CatalogUseCase
	expiration      usecase.ExpirationUseCase
	prices          model.PriceFormatter
	defaultCurrency string
	log             *zerolog.Logger
}

func NewServer(
	checkout usecase.CheckoutUseCase,
	catalog usecase.CatalogUseCase,
	expiration usecase.ExpirationUseCase,
	prices model.PriceFormatter,
	defaultCurrency string,
	logger *zerolog.Logger,
) *Server {
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	return &Server{
		checkout:        checkout,
		catalog:         catalog,
		expiration:      expiration,
		prices:          prices,
		defaultCurrency: defaultCurrency,
		log:             logger,
	}
}

// Authenticator guards the admin routes.
type Authenticator interface {
	CheckCredentials(username, password string) bool
	Mint(w http.ResponseWriter) (string, error)
	RequireAdmin(next http.Handler) http.Handler
}

// RegisterAPIV1 mounts the routes on r. Admin routes are only mounted when
// auth is non-nil.
func RegisterAPIV1(r chi.Router, s *Server, auth Authenticator) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/payment-methods", s.listMethods)
		r.Get("/catalog", s.getCatalog)
		r.Post("/checkout", s.postCheckout)
		r.Post("/payments/{method}/confirm", s.confirmPayment)
		r.Get("/users/{id}/items", s.listUserItems)

		if auth == nil {
			return
		}
		r.Post("/admin/login", login(auth))
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAdmin)
			r.Post("/admin/items/{id}/revoke", s.revokeItem)
			r.Post("/admin/items/{id}/deliver", s.deliverItem)
			r.Post("/admin/payments/{id}/complete", s.completePayment)
			r.Post("/admin/sweep", s.sweep)
			r.Put("/admin/packages/{id}", s.putPackage)
			r.Put("/admin/offers/{id}", s.putOffer)
		})
	})
}

// ---- public ----

type Method struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Fees int    `json:"fees,omitempty"`
}

func (s *Server) listMethods(w http.ResponseWriter, r *http.Request) {
	if s.checkout == nil {
		writeNotImplemented(w)
		return
	}
	methods, err := s.checkout.Methods(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	items := make([]Method, 0, len(methods))
	for _, m := range methods {
		// gateway data carries credentials and never leaves the server
		out := Method{ID: m.ID}
		if m.Gateway != nil {
			out.Name = m.Gateway.Name
			out.Fees = m.Gateway.Fees
		}
		items = append(items, out)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type CatalogEntry struct {
	Ref           string `json:"ref"`
	Name          string `json:"name"`
	Price         int64  `json:"price"`
	PriceDisplay  string `json:"price_display,omitempty"`
	BillingPeriod string `json:"billing_period,omitempty"`
	Money         int64  `json:"money,omitempty"`
}

func (s *Server) getCatalog(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		writeNotImplemented(w)
		return
	}
	currency := r.URL.Query().Get("currency")
	if currency == "" {
		currency = s.defaultCurrency
	}

	pkgs, err := s.catalog.ListPackages(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	offers, err := s.catalog.ListOffers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]CatalogEntry, 0, len(pkgs)+len(offers))
	for _, p := range pkgs {
		if !p.Enabled {
			continue
		}
		e := CatalogEntry{
			Ref:   model.BuyableRef{Type: model.BuyablePackage, ID: p.ID}.String(),
			Name:  p.Name,
			Price: p.Price,
		}
		if p.BillingPeriod != nil {
			e.BillingPeriod = p.BillingPeriod.String()
		}
		items = append(items, s.display(e, currency))
	}
	for _, o := range offers {
		if !o.Enabled {
			continue
		}
		e := CatalogEntry{
			Ref:   model.BuyableRef{Type: model.BuyableOffer, ID: o.ID}.String(),
			Name:  o.Name,
			Price: o.Price,
			Money: o.Money,
		}
		items = append(items, s.display(e, currency))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) display(e CatalogEntry, currency string) CatalogEntry {
	if s.prices != nil {
		e.PriceDisplay = s.prices.FormatCurrency(e.Price, currency)
	}
	return e
}

type CheckoutRequest struct {
	UserID   string                    `json:"user_id"`
	Currency string                    `json:"currency,omitempty"`
	Method   string                    `json:"method"`
	Lines    []usecase.CartLineRequest `json:"lines"`
}

func (s *Server) postCheckout(w http.ResponseWriter, r *http.Request) {
	if s.checkout == nil || s.catalog == nil {
		writeNotImplemented(w)
		return
	}
	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.Currency == "" {
		req.Currency = s.defaultCurrency
	}
	ctx := logging.WithUserID(r.Context(), req.UserID)

	cart, err := s.catalog.BuildCart(ctx, req.UserID, req.Currency, req.Lines)
	if err != nil {
		writeError(w, err)
		return
	}
	session, err := s.checkout.Checkout(ctx, cart, req.Method, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

type PurchaseResponse struct {
	PaymentID string          `json:"payment_id"`
	Status    string          `json:"status"`
	Items     []ItemResponse  `json:"items"`
	Skipped   int             `json:"skipped,omitempty"`
	Failures  []FailureDetail `json:"failures,omitempty"`
}

type FailureDetail struct {
	Line    int    `json:"line,omitempty"`
	ItemID  string `json:"item_id,omitempty"`
	Buyable string `json:"buyable"`
	Error   string `json:"error"`
}

func (s *Server) confirmPayment(w http.ResponseWriter, r *http.Request) {
	if s.checkout == nil {
		writeNotImplemented(w)
		return
	}
	params := map[string]string{}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			writeBadRequest(w, "invalid request body")
			return
		}
	}
	for k, v := range r.URL.Query() {
		if _, ok := params[k]; !ok && len(v) > 0 {
			params[k] = v[0]
		}
	}

	res, err := s.checkout.ConfirmPayment(r.Context(), chi.URLParam(r, "method"), nil, params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.purchaseResponse(res))
}

func (s *Server) purchaseResponse(res *usecase.PurchaseResult) PurchaseResponse {
	out := PurchaseResponse{Skipped: res.Skipped, Items: make([]ItemResponse, 0, len(res.Items))}
	if res.Payment != nil {
		out.PaymentID = res.Payment.ID
		out.Status = string(res.Payment.Status)
	}
	for _, it := range res.Items {
		out.Items = append(out.Items, s.itemResponse(it))
	}
	for _, f := range res.Failures {
		out.Failures = append(out.Failures, FailureDetail{
			Line:    f.Line,
			ItemID:  f.ItemID,
			Buyable: f.Buyable,
			Error:   f.Err.Error(),
		})
	}
	return out
}

type ItemResponse struct {
	ID           string            `json:"id"`
	PaymentID    string            `json:"payment_id"`
	Name         string            `json:"name"`
	Buyable      string            `json:"buyable"`
	Quantity     int               `json:"quantity"`
	UnitPrice    int64             `json:"unit_price"`
	PriceDisplay string            `json:"price_display,omitempty"`
	Variables    map[string]string `json:"variables,omitempty"`
	ExpiresAt    *time.Time        `json:"expires_at,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

func (s *Server) itemResponse(it *model.PurchaseItem) ItemResponse {
	out := ItemResponse{
		ID:        it.ID,
		PaymentID: it.PaymentID,
		Name:      it.Name,
		Buyable:   it.Buyable.String(),
		Quantity:  it.Quantity,
		UnitPrice: it.UnitPrice,
		Variables: it.Variables,
		ExpiresAt: it.ExpiresAt,
		CreatedAt: it.CreatedAt,
	}
	if s.prices != nil {
		out.PriceDisplay = it.FormatPrice(s.prices)
	}
	return out
}

func (s *Server) listUserItems(w http.ResponseWriter, r *http.Request) {
	if s.checkout == nil {
		writeNotImplemented(w)
		return
	}
	items, err := s.checkout.ActiveItems(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]ItemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, s.itemResponse(it))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

// ---- admin ----

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func login(auth Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid request body")
			return
		}
		if !auth.CheckCredentials(req.Username, req.Password) {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid credentials", Code: "unauthorized"})
			return
		}
		token, err := auth.Mint(w)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"token": token})
	}
}

type revokeRequest struct {
	Trigger string `json:"trigger"`
}

func (s *Server) revokeItem(w http.ResponseWriter, r *http.Request) {
	if s.expiration == nil {
		writeNotImplemented(w)
		return
	}
	var req revokeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid request body")
			return
		}
	}
	id := chi.URLParam(r, "id")
	if err := s.expiration.Revoke(r.Context(), id, req.Trigger); err != nil {
		writeError(w, err)
		return
	}
	s.log.Info().Str("item_id", id).Str("trigger", req.Trigger).Msg("item revoked by admin")
	w.WriteHeader(http.StatusNoContent)
}

type deliverRequest struct {
	Renewal bool `json:"renewal"`
}

func (s *Server) deliverItem(w http.ResponseWriter, r *http.Request) {
	if s.checkout == nil {
		writeNotImplemented(w)
		return
	}
	var req deliverRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid request body")
			return
		}
	}
	if err := s.checkout.Redeliver(r.Context(), chi.URLParam(r, "id"), req.Renewal); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// completePayment records and delivers the lines of a succeeded payment
// that never made it to storage.
func (s *Server) completePayment(w http.ResponseWriter, r *http.Request) {
	if s.checkout == nil {
		writeNotImplemented(w)
		return
	}
	res, err := s.checkout.ResumePurchase(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.purchaseResponse(res))
}

type SweepResponse struct {
	Revoked  int      `json:"revoked"`
	Skipped  int      `json:"skipped"`
	Failures []string `json:"failures,omitempty"`
}

func (s *Server) sweep(w http.ResponseWriter, r *http.Request) {
	if s.expiration == nil {
		writeNotImplemented(w)
		return
	}
	res, err := s.expiration.Sweep(r.Context(), time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	out := SweepResponse{Revoked: res.Revoked, Skipped: res.Skipped}
	for _, f := range res.Failures {
		out.Failures = append(out.Failures, f.Error())
	}
	writeJSON(w, http.StatusOK, out)
}

type PackageRequest struct {
	Name           string   `json:"name"`
	Price          int64    `json:"price"`
	BillingPeriod  string   `json:"billing_period,omitempty"`
	Commands       []string `json:"commands"`
	ExpireCommands []string `json:"expire_commands,omitempty"`
	Enabled        *bool    `json:"enabled,omitempty"`
}

func (s *Server) putPackage(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		writeNotImplemented(w)
		return
	}
	var req PackageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	period, err := model.ParsePeriod(req.BillingPeriod)
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := model.NewPackage(chi.URLParam(r, "id"), req.Name, req.Price, period, req.Commands, req.ExpireCommands)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Enabled != nil {
		p.Enabled = *req.Enabled
	}
	if err := s.catalog.SavePackage(r.Context(), p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type OfferRequest struct {
	Name    string `json:"name"`
	Price   int64  `json:"price"`
	Money   int64  `json:"money"`
	Enabled *bool  `json:"enabled,omitempty"`
}

func (s *Server) putOffer(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		writeNotImplemented(w)
		return
	}
	var req OfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	o, err := model.NewOffer(chi.URLParam(r, "id"), req.Name, req.Price, req.Money)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Enabled != nil {
		o.Enabled = *req.Enabled
	}
	if err := s.catalog.SaveOffer(r.Context(), o); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
