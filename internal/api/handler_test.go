package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xenking/grup/internal/domain/account"
	"github.com/xenking/grup/internal/domain/auth"
	"github.com/xenking/grup/internal/domain/checkout"
	"github.com/xenking/grup/internal/domain/order"
	"github.com/xenking/grup/internal/domain/product"
	"github.com/xenking/grup/internal/sellingunit"
)

// --- In-memory repositories ---

type memProducts struct {
	mu   sync.Mutex
	byID map[string]product.Product
	ids  []string
}

func newMemProducts(products ...product.Product) *memProducts {
	m := &memProducts{byID: make(map[string]product.Product)}
	for _, p := range products {
		m.byID[p.ID] = p
		m.ids = append(m.ids, p.ID)
	}
	return m
}

func (m *memProducts) List(context.Context) ([]product.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]product.Product, 0, len(m.ids))
	for _, id := range m.ids {
		out = append(out, m.byID[id])
	}
	return out, nil
}

func (m *memProducts) GetByID(_ context.Context, id string) (*product.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (m *memProducts) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memProducts) Upsert(_ context.Context, p *product.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[p.ID]; !ok {
		m.ids = append(m.ids, p.ID)
	}
	m.byID[p.ID] = *p
	return nil
}

type memWallets struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
}

func (m *memWallets) Get(_ context.Context, userID string) (*account.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[userID]
	if !ok {
		return nil, account.ErrNotFound
	}
	return &account.Account{UserID: userID, Balance: b, UpdatedAt: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}, nil
}

func (m *memWallets) Credit(_ context.Context, userID string, amount decimal.Decimal) (*account.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] = m.balances[userID].Add(amount)
	return &account.Account{UserID: userID, Balance: m.balances[userID]}, nil
}

type memOrders struct {
	wallets *memWallets
	created []*order.Order
	err     error
}

func (m *memOrders) Create(_ context.Context, o *order.Order) error {
	if m.err != nil {
		return m.err
	}
	m.wallets.mu.Lock()
	defer m.wallets.mu.Unlock()
	if o.WalletUsed.IsPositive() {
		b := m.wallets.balances[o.UserID]
		if b.LessThan(o.WalletUsed) {
			return account.ErrInsufficientBalance
		}
		m.wallets.balances[o.UserID] = b.Sub(o.WalletUsed)
	}
	m.created = append(m.created, o)
	return nil
}

type memKeys struct {
	byHash map[string]*auth.APIKeyInfo
}

func (m *memKeys) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	info, ok := m.byHash[hash]
	if !ok {
		return nil, auth.ErrUnauthorized
	}
	return info, nil
}

func (m *memKeys) Upsert(_ context.Context, info *auth.APIKeyInfo) error {
	m.byHash[info.KeyHash] = info
	return nil
}

// --- Fixtures ---

var pepper = []byte("test-pepper")

const (
	adminKey    = "admin-secret"
	readOnlyKey = "read-only-secret"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func eggs() product.Product {
	return product.Product{
		ID:        "eggs",
		Name:      "Farm Eggs",
		Category:  "Dairy",
		Image:     product.Image{Thumbnail: "eggs/thumb.jpg", Desktop: "https://cdn.example.com/eggs.jpg"},
		BasePrice: decimal.NewNullDecimal(d("1200")),
		UnitTag:   "crates",
		SellingUnits: &sellingunit.Options{
			Enabled: true,
			Options: []sellingunit.SellingUnit{
				{BaseUnitQuantity: d("12"), DisplayName: "Dozen", BaseUnitName: "egg", PriceType: sellingunit.PriceDerived},
				{BaseUnitQuantity: d("6"), DisplayName: "Half Dozen", BaseUnitName: "egg", PriceType: sellingunit.PriceManual, CustomPrice: d("650")},
			},
		},
	}
}

func rice() product.Product {
	return product.Product{ID: "rice", Name: "Rice", Price: decimal.NewNullDecimal(d("4500")), UnitTag: "bags"}
}

type fixture struct {
	products *memProducts
	wallets  *memWallets
	orders   *memOrders
	handler  *Handler
	mux      *http.ServeMux
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	f := &fixture{
		products: newMemProducts(eggs(), rice()),
		wallets:  &memWallets{balances: map[string]decimal.Decimal{"alice": d("1000")}},
	}
	f.orders = &memOrders{wallets: f.wallets}

	keys := &memKeys{byHash: make(map[string]*auth.APIKeyInfo)}
	for _, k := range []*auth.APIKeyInfo{
		{ID: "admin", KeyHash: auth.HashHex(pepper, adminKey), Scopes: []string{auth.ScopeCatalogWrite}},
		{ID: "viewer", KeyHash: auth.HashHex(pepper, readOnlyKey)},
	} {
		require.NoError(t, keys.Upsert(context.Background(), k))
	}

	svc, err := checkout.NewService(f.products, f.wallets, f.orders, tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
	require.NoError(t, err)

	cfg.APIKeyPepper = pepper
	f.handler = NewHandler(cfg, f.products, f.wallets, svc, keys)
	f.mux = http.NewServeMux()
	f.handler.Register(f.mux)
	return f
}

func (f *fixture) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type optionBody struct {
	DisplayName       string  `json:"displayName"`
	BaseUnitQuantity  float64 `json:"baseUnitQuantity"`
	PriceType         string  `json:"priceType"`
	OriginalUnitPrice float64 `json:"originalUnitPrice"`
}

type productBody struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	BasePrice    *float64          `json:"basePrice"`
	Price        *float64          `json:"price"`
	DisplayPrice *float64          `json:"displayPrice"`
	Image        map[string]string `json:"image"`
	SellingUnits *struct {
		Enabled bool         `json:"enabled"`
		Options []optionBody `json:"options"`
	} `json:"sellingUnits"`
}

type lineBody struct {
	ProductID         string  `json:"productId"`
	Quantity          int     `json:"quantity"`
	SellingUnit       *string `json:"sellingUnit"`
	BaseUnits         float64 `json:"baseUnits"`
	OriginalUnitPrice float64 `json:"originalUnitPrice"`
	Total             float64 `json:"total"`
	Display           struct {
		DisplayName     string  `json:"displayName"`
		BaseUnitDisplay string  `json:"baseUnitDisplay"`
		TotalBaseUnits  float64 `json:"totalBaseUnits"`
	} `json:"display"`
}

type quoteBody struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	CreatedAt      string     `json:"createdAt"`
	Lines          []lineBody `json:"lines"`
	Subtotal       float64    `json:"subtotal"`
	WalletBalance  float64    `json:"walletBalance"`
	WalletUsed     float64    `json:"walletUsed"`
	RemainingToPay float64    `json:"remainingToPay"`
	WalletCovers   bool       `json:"walletCovers"`
}

const cart = `{
	"userId": "alice",
	"useWallet": true,
	"items": [
		{"productId": "eggs", "quantity": 2, "sellingUnit": "Half Dozen"},
		{"productId": "rice", "quantity": 3}
	]
}`

// --- Tests ---

func TestListProducts(t *testing.T) {
	f := newFixture(t, Config{ImageBaseURL: "https://img.grup.dev/"})

	w := f.do(http.MethodGet, "/api/products", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	body := decode[[]productBody](t, w)
	require.Len(t, body, 2)

	e := body[0]
	assert.Equal(t, "eggs", e.ID)
	require.NotNil(t, e.BasePrice)
	assert.Equal(t, 1200.0, *e.BasePrice)
	assert.Nil(t, e.Price)
	require.NotNil(t, e.DisplayPrice)
	assert.Equal(t, 1200.0, *e.DisplayPrice)
	assert.Equal(t, "https://img.grup.dev/eggs/thumb.jpg", e.Image["thumbnail"])
	assert.Equal(t, "https://cdn.example.com/eggs.jpg", e.Image["desktop"], "absolute URLs are kept")
	assert.Equal(t, "", e.Image["mobile"])

	require.NotNil(t, e.SellingUnits)
	require.Len(t, e.SellingUnits.Options, 2)
	assert.Equal(t, 1200.0, e.SellingUnits.Options[0].OriginalUnitPrice)
	assert.Equal(t, 650.0, e.SellingUnits.Options[1].OriginalUnitPrice)

	assert.Nil(t, body[1].SellingUnits)
	assert.Equal(t, 4500.0, *body[1].DisplayPrice)
}

func TestGetProduct(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(http.MethodGet, "/api/products/rice", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Rice", decode[productBody](t, w).Name)

	w = f.do(http.MethodGet, "/api/products/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, errorBody{Code: 404, Message: "product not found"}, decode[errorBody](t, w))
}

func TestUpsertProduct(t *testing.T) {
	const doc = `{
		"name": "Tomato Paste",
		"category": "Pantry",
		"basePrice": "9600",
		"unitTag": "cartons",
		"image": {"thumbnail": "tomato.jpg"},
		"sellingUnits": {"enabled": true, "options": [
			{"baseUnitQuantity": 24, "displayName": "Carton", "baseUnitName": "tin", "priceType": "derived"},
			{"baseUnitQuantity": 1, "displayName": "Single Tin", "baseUnitName": "tin", "priceType": "manual", "customPrice": 450}
		]}
	}`

	tests := []struct {
		name   string
		header []string
		body   string
		status int
		msg    string
	}{
		{name: "no key", body: doc, status: http.StatusUnauthorized},
		{name: "unknown key", header: []string{"api_key", "guess"}, body: doc, status: http.StatusUnauthorized},
		{name: "missing scope", header: []string{"api_key", readOnlyKey}, body: doc, status: http.StatusForbidden},
		{name: "malformed", header: []string{"api_key", adminKey}, body: `{"name":`, status: http.StatusBadRequest},
		{name: "missing name", header: []string{"api_key", adminKey}, body: `{"price": 10}`, status: http.StatusBadRequest, msg: "productDoc.Name failed required"},
		{
			name:   "invalid selling unit",
			header: []string{"api_key", adminKey},
			body:   `{"name": "X", "price": 10, "sellingUnits": {"enabled": true, "options": [{"baseUnitQuantity": 0, "displayName": "Box"}]}}`,
			status: http.StatusUnprocessableEntity,
			msg:    "selling unit 0: base unit quantity must be greater than 0",
		},
		{
			name:   "negative price",
			header: []string{"api_key", adminKey},
			body:   `{"name": "X", "price": -1}`,
			status: http.StatusUnprocessableEntity,
			msg:    "price must not be negative",
		},
		{name: "bearer token", header: []string{"Authorization", "Bearer " + adminKey}, body: doc, status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})

			w := f.do(http.MethodPut, "/api/admin/products/tomato", tt.body, tt.header...)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.msg != "" {
				assert.Equal(t, tt.msg, decode[errorBody](t, w).Message)
			}
			if tt.status != http.StatusOK {
				_, err := f.products.GetByID(context.Background(), "tomato")
				assert.ErrorIs(t, err, product.ErrNotFound)
				return
			}

			body := decode[productBody](t, w)
			require.NotNil(t, body.SellingUnits)
			assert.Equal(t, 9600.0, body.SellingUnits.Options[0].OriginalUnitPrice)
			assert.Equal(t, 450.0, body.SellingUnits.Options[1].OriginalUnitPrice)

			stored, err := f.products.GetByID(context.Background(), "tomato")
			require.NoError(t, err)
			assert.Equal(t, "Tomato Paste", stored.Name)
			assert.True(t, stored.BasePrice.Decimal.Equal(d("9600")))
			assert.False(t, stored.Price.Valid)
		})
	}
}

func TestUpsertProduct_LogsKeyID(t *testing.T) {
	f := newFixture(t, Config{})
	core, logs := observer.New(zapcore.InfoLevel)

	req := httptest.NewRequest(http.MethodPut, "/api/admin/products/salt", strings.NewReader(`{"name":"Salt","price":300}`))
	req = req.WithContext(zctx.Base(req.Context(), zap.New(core)))
	req.Header.Set("api_key", adminKey)
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	entries := logs.FilterMessage("Product upserted").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "admin", fields["api_key_id"])
	assert.Equal(t, "salt", fields["product_id"])
}

func TestValidateSellingUnit(t *testing.T) {
	f := newFixture(t, Config{})

	type result struct {
		Valid bool   `json:"valid"`
		Error string `json:"error"`
	}
	tests := []struct {
		body string
		want result
	}{
		{body: `{"baseUnitQuantity": 6, "displayName": "Half Dozen"}`, want: result{Valid: true}},
		{body: `{"baseUnitQuantity": "0.5", "displayName": "Half kg"}`, want: result{Valid: true}},
		{body: `{"baseUnitQuantity": 0, "displayName": "Box"}`, want: result{Error: sellingunit.ErrInvalidQuantity.Error()}},
		{body: `{"displayName": "Box"}`, want: result{Error: sellingunit.ErrInvalidQuantity.Error()}},
		{body: `{"baseUnitQuantity": 3}`, want: result{Error: sellingunit.ErrMissingDisplayName.Error()}},
		{body: `null`, want: result{Error: sellingunit.ErrMissingData.Error()}},
	}
	for _, tt := range tests {
		w := f.do(http.MethodPost, "/api/selling-units/validate", tt.body)
		require.Equal(t, http.StatusOK, w.Code, tt.body)
		assert.Equal(t, tt.want, decode[result](t, w), tt.body)
	}

	w := f.do(http.MethodPost, "/api/selling-units/validate", `{"baseUnitQuantity": true}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetWallet(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(http.MethodGet, "/api/wallets/alice", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		UserID    string  `json:"userId"`
		Balance   float64 `json:"balance"`
		UpdatedAt string  `json:"updatedAt"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "alice", body.UserID)
	assert.Equal(t, 1000.0, body.Balance)
	assert.Equal(t, "2026-05-01T10:00:00Z", body.UpdatedAt)

	w = f.do(http.MethodGet, "/api/wallets/bob", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQuote(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(http.MethodPost, "/api/checkout/quote", cart)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	q := decode[quoteBody](t, w)
	require.Len(t, q.Lines, 2)

	egg := q.Lines[0]
	require.NotNil(t, egg.SellingUnit)
	assert.Equal(t, "Half Dozen", *egg.SellingUnit)
	assert.Equal(t, 12.0, egg.BaseUnits)
	assert.Equal(t, 650.0, egg.OriginalUnitPrice)
	assert.Equal(t, 1300.0, egg.Total)
	assert.Equal(t, "2 Half Dozen", egg.Display.DisplayName)
	assert.Equal(t, "12 eggs", egg.Display.BaseUnitDisplay)

	r := q.Lines[1]
	assert.Nil(t, r.SellingUnit)
	assert.Equal(t, 13500.0, r.Total)
	assert.Equal(t, "3 bags", r.Display.DisplayName)
	assert.Empty(t, r.Display.BaseUnitDisplay)

	assert.Equal(t, 14800.0, q.Subtotal)
	assert.Equal(t, 1000.0, q.WalletBalance)
	assert.Equal(t, 1000.0, q.WalletUsed)
	assert.Equal(t, 13800.0, q.RemainingToPay)
	assert.False(t, q.WalletCovers)

	assert.Empty(t, f.orders.created, "quoting has no side effects")
	bal, err := f.wallets.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, bal.Balance.Equal(d("1000")))
}

func TestQuote_WalletCovers(t *testing.T) {
	f := newFixture(t, Config{})
	f.wallets.balances["alice"] = d("20000")

	w := f.do(http.MethodPost, "/api/checkout/quote", cart)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	q := decode[quoteBody](t, w)
	assert.Equal(t, 14800.0, q.WalletUsed)
	assert.Zero(t, q.RemainingToPay)
	assert.True(t, q.WalletCovers)
}

func TestQuote_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		msg    string
	}{
		{name: "malformed", body: `[`, status: http.StatusBadRequest},
		{name: "empty items", body: `{"items": []}`, status: http.StatusBadRequest, msg: "items required"},
		{name: "missing product id", body: `{"items": [{"quantity": 1}]}`, status: http.StatusBadRequest},
		{name: "wallet without user", body: `{"useWallet": true, "items": [{"productId": "rice", "quantity": 1}]}`, status: http.StatusBadRequest, msg: "user id required"},
		{name: "zero quantity", body: `{"items": [{"productId": "rice", "quantity": 0}]}`, status: http.StatusUnprocessableEntity, msg: "quantity must be greater than 0 for product rice"},
		{name: "unknown product", body: `{"items": [{"productId": "caviar", "quantity": 1}]}`, status: http.StatusUnprocessableEntity, msg: "product caviar not found"},
		{name: "unknown selling unit", body: `{"items": [{"productId": "eggs", "quantity": 1, "sellingUnit": "Crate"}]}`, status: http.StatusUnprocessableEntity},
		{name: "selling unit on plain product", body: `{"items": [{"productId": "rice", "quantity": 1, "sellingUnit": "Bag"}]}`, status: http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			w := f.do(http.MethodPost, "/api/checkout/quote", tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			body := decode[errorBody](t, w)
			assert.Equal(t, tt.status, body.Code)
			if tt.msg != "" {
				assert.Equal(t, tt.msg, body.Message)
			}
		})
	}
}

func TestPlaceOrder(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(http.MethodPost, "/api/orders", cart)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	o := decode[quoteBody](t, w)
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, "alice", o.UserID)
	assert.NotEmpty(t, o.CreatedAt)
	assert.Equal(t, 14800.0, o.Subtotal)
	assert.Equal(t, 1000.0, o.WalletUsed)
	assert.Equal(t, 13800.0, o.RemainingToPay)

	require.Len(t, f.orders.created, 1)
	assert.Equal(t, o.ID, f.orders.created[0].ID)
	assert.Equal(t, "Half Dozen", f.orders.created[0].Lines[0].SellingUnit)

	bal, err := f.wallets.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, bal.Balance.IsZero())

	// The wallet is empty now; a second order pays everything in cash.
	w = f.do(http.MethodPost, "/api/orders", cart)
	require.Equal(t, http.StatusCreated, w.Code)
	o = decode[quoteBody](t, w)
	assert.Equal(t, 0.0, o.WalletUsed)
	assert.Equal(t, 14800.0, o.RemainingToPay)
}

func TestPlaceOrder_Errors(t *testing.T) {
	t.Run("user required", func(t *testing.T) {
		f := newFixture(t, Config{})
		w := f.do(http.MethodPost, "/api/orders", `{"items": [{"productId": "rice", "quantity": 1}]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
	t.Run("wallet race", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.orders.err = account.ErrInsufficientBalance
		w := f.do(http.MethodPost, "/api/orders", cart)
		assert.Equal(t, http.StatusConflict, w.Code)
	})
	t.Run("storage failure", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.orders.err = errors.New("connection reset")
		w := f.do(http.MethodPost, "/api/orders", cart)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "internal server error", decode[errorBody](t, w).Message)
	})
}

func TestCheckoutLimit(t *testing.T) {
	var wrapped int
	f := newFixture(t, Config{
		CheckoutLimit: func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				wrapped++
				next.ServeHTTP(w, r)
			})
		},
	})

	f.do(http.MethodGet, "/api/products", "")
	f.do(http.MethodPost, "/api/checkout/quote", cart)
	f.do(http.MethodPost, "/api/orders", cart)
	assert.Equal(t, 2, wrapped)
}

func TestRequestBodyTooLarge(t *testing.T) {
	f := newFixture(t, Config{})
	big := `{"items": [], "userId": "` + strings.Repeat("x", maxBodySize) + `"}`

	w := f.do(http.MethodPost, "/api/checkout/quote", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
