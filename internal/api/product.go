package api

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/grup/internal/domain/auth"
	"github.com/xenking/grup/internal/domain/product"
	"github.com/xenking/grup/internal/sellingunit"
)

// listProducts returns every product in the catalog.
func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		h.fail(w, r, errors.Wrap(err, "list products"))
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range products {
			h.encodeProduct(e, &products[i])
		}
		e.ArrEnd()
	})
}

// getProduct returns a single product by ID.
func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, errors.Wrap(err, "get product"))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		h.encodeProduct(e, p)
	})
}

// upsertProduct creates or replaces the product named by the path. Selling
// unit options are validated before anything is stored.
func (h *Handler) upsertProduct(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.validate.Var(id, "required,max=128,printascii"); err != nil {
		h.fail(w, r, err)
		return
	}

	var doc productDoc
	if err := readBody(w, r, doc.Decode); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.validate.Struct(doc); err != nil {
		h.fail(w, r, err)
		return
	}

	p := doc.product(id)
	if err := product.Check(p); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.products.Upsert(r.Context(), p); err != nil {
		h.fail(w, r, errors.Wrap(err, "upsert product"))
		return
	}

	lg := zctx.From(r.Context())
	if key, ok := auth.KeyFrom(r.Context()); ok {
		lg = lg.With(zap.String("api_key_id", key.ID))
	}
	lg.Info("Product upserted",
		zap.String("product_id", p.ID),
		zap.Bool("selling_units", p.SellingUnitsEnabled()),
	)

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		h.encodeProduct(e, p)
	})
}

// validateSellingUnit reports whether the posted selling unit is usable. The
// outcome is always a 200; malformed JSON is a 400.
func (h *Handler) validateSellingUnit(w http.ResponseWriter, r *http.Request) {
	var su *sellingunit.SellingUnit
	err := readBody(w, r, func(d *jx.Decoder) error {
		if d.Next() == jx.Null {
			return d.Null()
		}
		su = &sellingunit.SellingUnit{}
		return decodeSellingUnit(d, su)
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	v := sellingunit.Validate(su)
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("valid")
		e.Bool(v.Valid)
		if v.Err != nil {
			e.FieldStart("error")
			e.Str(v.Err.Error())
		}
		e.ObjEnd()
	})
}
