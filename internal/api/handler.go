// Package api exposes the catalog, wallet and checkout over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/xenking/grup/internal/domain/account"
	"github.com/xenking/grup/internal/domain/auth"
	"github.com/xenking/grup/internal/domain/checkout"
	"github.com/xenking/grup/internal/domain/product"
	"github.com/xenking/grup/pkg/httpmiddleware"
)

// Checkout prices carts and places orders.
type Checkout interface {
	Quote(ctx context.Context, req checkout.Request) (*checkout.Quote, error)
	PlaceOrder(ctx context.Context, req checkout.Request) (*checkout.PlaceOrderResult, error)
}

var _ Checkout = (*checkout.Service)(nil)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ImageBaseURL is prepended to relative image paths in product responses.
	ImageBaseURL string
	// APIKeyPepper is the HMAC key API keys are hashed with.
	APIKeyPepper []byte
	// CheckoutLimit wraps the quote and order routes. Nil leaves them
	// unwrapped.
	CheckoutLimit httpmiddleware.Middleware
}

// Handler serves the /api routes.
type Handler struct {
	cfg      Config
	products product.Repository
	accounts account.Repository
	checkout Checkout
	apikeys  auth.Repository
	validate *validator.Validate
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg Config,
	products product.Repository,
	accounts account.Repository,
	checkout Checkout,
	apikeys auth.Repository,
) *Handler {
	return &Handler{
		cfg:      cfg,
		products: products,
		accounts: accounts,
		checkout: checkout,
		apikeys:  apikeys,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Register mounts every API route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	limit := h.cfg.CheckoutLimit
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}

	mux.HandleFunc("GET /api/products", h.listProducts)
	mux.HandleFunc("GET /api/products/{id}", h.getProduct)
	mux.Handle("PUT /api/admin/products/{id}", h.requireScope(auth.ScopeCatalogWrite, http.HandlerFunc(h.upsertProduct)))
	mux.HandleFunc("POST /api/selling-units/validate", h.validateSellingUnit)
	mux.HandleFunc("GET /api/wallets/{userId}", h.getWallet)
	mux.Handle("POST /api/checkout/quote", limit(http.HandlerFunc(h.quote)))
	mux.Handle("POST /api/orders", limit(http.HandlerFunc(h.placeOrder)))
}
