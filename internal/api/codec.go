package api

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/grup/internal/domain/checkout"
	"github.com/xenking/grup/internal/domain/product"
	"github.com/xenking/grup/internal/sellingunit"
)

const maxBodySize = 1 << 20

// badRequestError marks a body that could not be read or parsed.
type badRequestError struct {
	err error
}

func (e *badRequestError) Error() string {
	return "invalid request body: " + e.err.Error()
}

func (e *badRequestError) Unwrap() error {
	return e.err
}

// readBody decodes the request body with decode. The body is capped at
// maxBodySize.
func readBody(w http.ResponseWriter, r *http.Request, decode func(d *jx.Decoder) error) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return &badRequestError{err: err}
	}
	if err := decode(jx.DecodeBytes(body)); err != nil {
		return &badRequestError{err: err}
	}
	return nil
}

// writeJSON renders the document produced by encode with the given status.
func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encode(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// Requests.

type lineRequest struct {
	ProductID   string `validate:"required,max=128"`
	Quantity    int
	SellingUnit string `validate:"max=128"`
}

type checkoutRequest struct {
	UserID    string        `validate:"max=128"`
	Items     []lineRequest `validate:"max=100,dive"`
	UseWallet bool
}

func (c checkoutRequest) domain() checkout.Request {
	items := make([]checkout.LineRequest, len(c.Items))
	for i, it := range c.Items {
		items[i] = checkout.LineRequest{
			ProductID:   it.ProductID,
			Quantity:    it.Quantity,
			SellingUnit: it.SellingUnit,
		}
	}
	return checkout.Request{UserID: c.UserID, Items: items, UseWallet: c.UseWallet}
}

func (c *checkoutRequest) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "userId":
			c.UserID, err = decodeString(d)
		case "useWallet":
			c.UseWallet, err = d.Bool()
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				var line lineRequest
				if err := line.Decode(d); err != nil {
					return err
				}
				c.Items = append(c.Items, line)
				return nil
			})
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
}

func (l *lineRequest) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "productId":
			l.ProductID, err = decodeString(d)
		case "quantity":
			l.Quantity, err = d.Int()
		case "sellingUnit":
			l.SellingUnit, err = decodeString(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
}

type imageDoc struct {
	Thumbnail string `validate:"max=2048"`
	Mobile    string `validate:"max=2048"`
	Tablet    string `validate:"max=2048"`
	Desktop   string `validate:"max=2048"`
}

// productDoc is the body of an admin product upsert.
type productDoc struct {
	Name         string               `validate:"required,max=200"`
	Category     string               `validate:"max=100"`
	UnitTag      string               `validate:"max=50"`
	Image        imageDoc
	BasePrice    decimal.NullDecimal  `validate:"-"`
	Price        decimal.NullDecimal  `validate:"-"`
	SellingUnits *sellingunit.Options `validate:"-"`
}

func (p productDoc) product(id string) *product.Product {
	return &product.Product{
		ID:       id,
		Name:     p.Name,
		Category: p.Category,
		Image: product.Image{
			Thumbnail: p.Image.Thumbnail,
			Mobile:    p.Image.Mobile,
			Tablet:    p.Image.Tablet,
			Desktop:   p.Image.Desktop,
		},
		BasePrice:    p.BasePrice,
		Price:        p.Price,
		UnitTag:      p.UnitTag,
		SellingUnits: p.SellingUnits,
	}
}

func (p *productDoc) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "name":
			p.Name, err = decodeString(d)
		case "category":
			p.Category, err = decodeString(d)
		case "unitTag":
			p.UnitTag, err = decodeString(d)
		case "basePrice":
			p.BasePrice, err = decodeMoney(d)
		case "price":
			p.Price, err = decodeMoney(d)
		case "sellingUnits":
			p.SellingUnits, err = decodeOptions(d)
		case "image":
			err = d.Obj(func(d *jx.Decoder, key string) error {
				var err error
				switch key {
				case "thumbnail":
					p.Image.Thumbnail, err = decodeString(d)
				case "mobile":
					p.Image.Mobile, err = decodeString(d)
				case "tablet":
					p.Image.Tablet, err = decodeString(d)
				case "desktop":
					p.Image.Desktop, err = decodeString(d)
				default:
					err = d.Skip()
				}
				if err != nil {
					return errors.Wrap(err, key)
				}
				return nil
			})
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
}

func decodeOptions(d *jx.Decoder) (*sellingunit.Options, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	opts := &sellingunit.Options{}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "enabled":
			opts.Enabled, err = d.Bool()
		case "options":
			err = d.Arr(func(d *jx.Decoder) error {
				var su sellingunit.SellingUnit
				if err := decodeSellingUnit(d, &su); err != nil {
					return err
				}
				opts.Options = append(opts.Options, su)
				return nil
			})
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	return opts, err
}

func decodeSellingUnit(d *jx.Decoder, su *sellingunit.SellingUnit) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "baseUnitQuantity":
			su.BaseUnitQuantity, err = decodeDecimal(d)
		case "displayName":
			su.DisplayName, err = decodeString(d)
		case "baseUnitName":
			su.BaseUnitName, err = decodeString(d)
		case "pricePerUnit":
			su.PricePerUnit, err = decodeMoney(d)
		case "customPrice":
			su.CustomPrice, err = decodeDecimal(d)
		case "priceType":
			var s string
			s, err = decodeString(d)
			su.PriceType = sellingunit.PriceType(s)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
}

// decodeString reads a string, treating null as empty.
func decodeString(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

// decodeMoney reads a number, a numeric string or null.
func decodeMoney(d *jx.Decoder) (decimal.NullDecimal, error) {
	var raw string
	switch tt := d.Next(); tt {
	case jx.Null:
		return decimal.NullDecimal{}, d.Null()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.NullDecimal{}, err
		}
		raw = s
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.NullDecimal{}, err
		}
		raw = n.String()
	default:
		return decimal.NullDecimal{}, errors.Errorf("expected number, got %s", tt)
	}

	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, errors.Wrapf(err, "parse %q", raw)
	}
	return decimal.NewNullDecimal(v), nil
}

// decodeDecimal is decodeMoney with null read as zero.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	v, err := decodeMoney(d)
	return v.Decimal, err
}

// Responses.

func encodeMoney(e *jx.Encoder, v decimal.Decimal) {
	e.RawStr(v.String())
}

func encodeNullMoney(e *jx.Encoder, v decimal.NullDecimal) {
	if !v.Valid {
		e.Null()
		return
	}
	encodeMoney(e, v.Decimal)
}

func (h *Handler) imageURL(path string) string {
	base := h.cfg.ImageBaseURL
	if base == "" || path == "" || strings.Contains(path, "://") {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// encodeProduct writes the storefront view of p: stored prices, the display
// price and the struck-through price of every selling unit.
func (h *Handler) encodeProduct(e *jx.Encoder, p *product.Product) {
	view := p.Pricing()

	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("category")
	e.Str(p.Category)
	e.FieldStart("unitTag")
	e.Str(p.UnitTag)

	e.FieldStart("image")
	e.ObjStart()
	e.FieldStart("thumbnail")
	e.Str(h.imageURL(p.Image.Thumbnail))
	e.FieldStart("mobile")
	e.Str(h.imageURL(p.Image.Mobile))
	e.FieldStart("tablet")
	e.Str(h.imageURL(p.Image.Tablet))
	e.FieldStart("desktop")
	e.Str(h.imageURL(p.Image.Desktop))
	e.ObjEnd()

	e.FieldStart("basePrice")
	encodeNullMoney(e, p.BasePrice)
	e.FieldStart("price")
	encodeNullMoney(e, p.Price)
	e.FieldStart("displayPrice")
	if v, ok := sellingunit.FirstPresent(p.Price, p.BasePrice); ok {
		encodeMoney(e, v)
	} else {
		e.Null()
	}

	if p.SellingUnits != nil {
		e.FieldStart("sellingUnits")
		e.ObjStart()
		e.FieldStart("enabled")
		e.Bool(p.SellingUnits.Enabled)
		e.FieldStart("options")
		e.ArrStart()
		for i := range p.SellingUnits.Options {
			su := &p.SellingUnits.Options[i]
			encodeSellingUnit(e, su, func(e *jx.Encoder) {
				e.FieldStart("originalUnitPrice")
				encodeMoney(e, sellingunit.OriginalUnitPrice(view, su))
			})
		}
		e.ArrEnd()
		e.ObjEnd()
	}
	e.ObjEnd()
}

// encodeSellingUnit writes su; extra may append fields before the object is
// closed.
func encodeSellingUnit(e *jx.Encoder, su *sellingunit.SellingUnit, extra func(e *jx.Encoder)) {
	e.ObjStart()
	e.FieldStart("displayName")
	e.Str(su.DisplayName)
	e.FieldStart("baseUnitQuantity")
	encodeMoney(e, su.BaseUnitQuantity)
	e.FieldStart("baseUnitName")
	e.Str(su.BaseUnitName)
	e.FieldStart("priceType")
	e.Str(string(su.PriceType))
	e.FieldStart("customPrice")
	encodeMoney(e, su.CustomPrice)
	e.FieldStart("pricePerUnit")
	encodeNullMoney(e, su.PricePerUnit)
	if extra != nil {
		extra(e)
	}
	e.ObjEnd()
}

func encodeLine(e *jx.Encoder, l *checkout.Line) {
	e.ObjStart()
	e.FieldStart("productId")
	e.Str(l.Product.ID)
	e.FieldStart("name")
	e.Str(l.Product.Name)
	e.FieldStart("quantity")
	e.Int(l.Quantity)
	e.FieldStart("sellingUnit")
	if l.SellingUnit != nil {
		e.Str(l.SellingUnit.DisplayName)
	} else {
		e.Null()
	}
	e.FieldStart("baseUnits")
	encodeMoney(e, l.BaseUnits)
	e.FieldStart("originalUnitPrice")
	encodeMoney(e, l.OriginalUnitPrice)
	e.FieldStart("total")
	encodeMoney(e, l.Total)

	e.FieldStart("display")
	e.ObjStart()
	e.FieldStart("displayName")
	e.Str(l.Display.DisplayName)
	if l.Display.BaseUnitDisplay != "" {
		e.FieldStart("baseUnitDisplay")
		e.Str(l.Display.BaseUnitDisplay)
	}
	e.FieldStart("totalBaseUnits")
	encodeMoney(e, l.Display.TotalBaseUnits)
	e.ObjEnd()

	e.ObjEnd()
}

// encodeQuoteFields writes the fields of q into an already open object.
func encodeQuoteFields(e *jx.Encoder, q *checkout.Quote) {
	e.FieldStart("lines")
	e.ArrStart()
	for i := range q.Lines {
		encodeLine(e, &q.Lines[i])
	}
	e.ArrEnd()
	e.FieldStart("subtotal")
	encodeMoney(e, q.Subtotal)
	e.FieldStart("walletBalance")
	encodeMoney(e, q.WalletBalance)
	e.FieldStart("walletUsed")
	encodeMoney(e, q.Payment.WalletUsed)
	e.FieldStart("remainingToPay")
	encodeMoney(e, q.Payment.RemainingToPay)
	e.FieldStart("walletCovers")
	e.Bool(q.Payment.Covered())
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}
