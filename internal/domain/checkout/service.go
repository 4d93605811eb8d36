// Package checkout prices carts and places orders. It is the caller the
// selling unit and wallet calculators were written for: each line is priced
// with the sellingunit package, the lines are summed, and the wallet is
// applied once to the subtotal.
package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/grup/internal/domain/account"
	"github.com/xenking/grup/internal/domain/order"
	"github.com/xenking/grup/internal/domain/product"
	"github.com/xenking/grup/internal/sellingunit"
	"github.com/xenking/grup/internal/wallet"
)

const instrumentationName = "github.com/xenking/grup/internal/domain/checkout"

// LineRequest is a cart line as submitted by the storefront.
type LineRequest struct {
	ProductID string
	Quantity  int
	// SellingUnit is the display name of the chosen option. Empty means the
	// product is bought in its plain unit.
	SellingUnit string
}

// Request holds the input for quoting or placing an order.
type Request struct {
	UserID    string
	Items     []LineRequest
	UseWallet bool
}

// Line is a priced cart line.
type Line struct {
	Product     product.Product
	Quantity    int
	SellingUnit *sellingunit.SellingUnit
	BaseUnits   decimal.Decimal
	Total       decimal.Decimal
	// OriginalUnitPrice is the struck-through price of one unit.
	OriginalUnitPrice decimal.Decimal
	Display           sellingunit.DisplayInfo
}

// Quote is the priced cart with its wallet split.
type Quote struct {
	Lines         []Line
	Subtotal      decimal.Decimal
	WalletBalance decimal.Decimal
	Payment       wallet.Split
}

// PlaceOrderResult holds the output of a successfully placed order.
type PlaceOrderResult struct {
	Order *order.Order
	Quote *Quote
}

// Service encapsulates cart pricing and order placement.
type Service struct {
	products product.Repository
	accounts account.Repository
	orders   order.Repository
	now      func() time.Time

	tracer     trace.Tracer
	quotes     metric.Int64Counter
	placed     metric.Int64Counter
	walletUsed metric.Float64Counter
}

// NewService creates a checkout Service with the required domain dependencies.
func NewService(
	products product.Repository,
	accounts account.Repository,
	orders order.Repository,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
) (*Service, error) {
	meter := mp.Meter(instrumentationName)

	quotes, err := meter.Int64Counter("grup.checkout.quotes",
		metric.WithDescription("Number of priced carts"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "quotes counter")
	}
	placed, err := meter.Int64Counter("grup.checkout.orders",
		metric.WithDescription("Number of placed orders"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "orders counter")
	}
	walletUsed, err := meter.Float64Counter("grup.checkout.wallet_used",
		metric.WithDescription("Wallet amount applied to placed orders"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "wallet counter")
	}

	return &Service{
		products:   products,
		accounts:   accounts,
		orders:     orders,
		now:        time.Now,
		tracer:     tp.Tracer(instrumentationName),
		quotes:     quotes,
		placed:     placed,
		walletUsed: walletUsed,
	}, nil
}

// Quote prices every line of the request and applies the user's wallet when
// asked to. It has no side effects.
func (s *Service) Quote(ctx context.Context, req Request) (_ *Quote, rerr error) {
	ctx, span := s.tracer.Start(ctx, "checkout.Quote",
		trace.WithAttributes(
			attribute.Int("checkout.lines", len(req.Items)),
			attribute.Bool("checkout.use_wallet", req.UseWallet),
		),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	if req.UseWallet && req.UserID == "" {
		return nil, ErrUserRequired
	}

	// Validate quantities and collect product IDs.
	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		ids[i] = item.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	q := &Quote{
		Lines:    make([]Line, 0, len(req.Items)),
		Subtotal: decimal.Zero,
	}
	for _, item := range req.Items {
		p, ok := byID[item.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: item.ProductID}
		}
		line, err := priceLine(p, item)
		if err != nil {
			return nil, err
		}
		q.Lines = append(q.Lines, line)
		q.Subtotal = q.Subtotal.Add(line.Total)
	}

	q.WalletBalance = decimal.Zero
	if req.UseWallet {
		balance, err := s.balance(ctx, req.UserID)
		if err != nil {
			return nil, err
		}
		q.WalletBalance = balance
	}
	q.Payment = wallet.Apply(q.Subtotal, q.WalletBalance)

	s.quotes.Add(ctx, 1, metric.WithAttributes(attribute.Bool("wallet", req.UseWallet)))
	span.SetAttributes(
		attribute.String("checkout.subtotal", q.Subtotal.String()),
		attribute.String("checkout.wallet_used", q.Payment.WalletUsed.String()),
		attribute.Bool("checkout.wallet_covers", q.Payment.Covered()),
	)

	return q, nil
}

// PlaceOrder quotes the request, then persists the order and debits the
// wallet in one step.
func (s *Service) PlaceOrder(ctx context.Context, req Request) (*PlaceOrderResult, error) {
	if req.UserID == "" {
		return nil, ErrUserRequired
	}

	q, err := s.Quote(ctx, req)
	if err != nil {
		return nil, err
	}

	lines := make([]order.Line, len(q.Lines))
	for i, l := range q.Lines {
		lines[i] = order.Line{
			ProductID: l.Product.ID,
			Quantity:  l.Quantity,
			BaseUnits: l.BaseUnits,
			Total:     l.Total,
		}
		if l.SellingUnit != nil {
			lines[i].SellingUnit = l.SellingUnit.DisplayName
		}
	}

	o := &order.Order{
		ID:             uuid.New().String(),
		UserID:         req.UserID,
		Lines:          lines,
		Subtotal:       q.Subtotal,
		WalletUsed:     q.Payment.WalletUsed,
		RemainingToPay: q.Payment.RemainingToPay,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	s.placed.Add(ctx, 1)
	s.walletUsed.Add(ctx, o.WalletUsed.InexactFloat64())

	return &PlaceOrderResult{Order: o, Quote: q}, nil
}

// balance returns the user's wallet balance; users without a wallet have
// nothing to spend.
func (s *Service) balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	acc, err := s.accounts.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, errors.Wrap(err, "get wallet")
	}
	if acc.Balance.IsNegative() {
		return decimal.Zero, ErrNegativeAmount
	}
	return acc.Balance, nil
}

// priceLine resolves the chosen selling unit of p and prices the line.
//
// The line's unit price is captured the way the cart does at add-to-cart
// time: the selling unit's display price, or the product price for plain
// lines. An explicit PricePerUnit on the option still takes precedence.
func priceLine(p product.Product, req LineRequest) (Line, error) {
	view := p.Pricing()
	item := sellingunit.CartItem{
		Quantity: req.Quantity,
		Product:  view,
	}

	if req.SellingUnit != "" {
		su, err := resolveSellingUnit(p, req.SellingUnit)
		if err != nil {
			return Line{}, err
		}
		item.SellingUnit = &su
		item.UnitPrice = decimal.NewNullDecimal(sellingunit.OriginalUnitPrice(view, &su))
	} else if price, ok := sellingunit.FirstPresent(p.Price, p.BasePrice); ok {
		item.UnitPrice = decimal.NewNullDecimal(price)
	}

	line := Line{
		Product:           p,
		Quantity:          req.Quantity,
		SellingUnit:       item.SellingUnit,
		BaseUnits:         sellingunit.BaseUnitQuantity(item),
		Total:             sellingunit.ItemTotalPrice(item),
		OriginalUnitPrice: sellingunit.OriginalUnitPrice(view, item.SellingUnit),
		Display:           sellingunit.Display(item),
	}
	if line.Total.IsNegative() || line.OriginalUnitPrice.IsNegative() {
		return Line{}, ErrNegativeAmount
	}
	return line, nil
}

func resolveSellingUnit(p product.Product, name string) (sellingunit.SellingUnit, error) {
	if !p.SellingUnitsEnabled() {
		return sellingunit.SellingUnit{}, &InvalidSellingUnitError{ProductID: p.ID, SellingUnit: name, Err: ErrUnknownSellingUnit}
	}
	su, ok := p.SellingUnits.Find(name)
	if !ok {
		return sellingunit.SellingUnit{}, &InvalidSellingUnitError{ProductID: p.ID, SellingUnit: name, Err: ErrUnknownSellingUnit}
	}
	if v := sellingunit.Validate(&su); !v.Valid {
		return sellingunit.SellingUnit{}, &InvalidSellingUnitError{ProductID: p.ID, SellingUnit: name, Err: v.Err}
	}
	return su, nil
}
