package api

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

func (h *Handler) readCheckout(w http.ResponseWriter, r *http.Request) (checkoutRequest, error) {
	var req checkoutRequest
	if err := readBody(w, r, req.Decode); err != nil {
		return req, err
	}
	if err := h.validate.Struct(req); err != nil {
		return req, err
	}
	return req, nil
}

// quote prices a cart without side effects.
func (h *Handler) quote(w http.ResponseWriter, r *http.Request) {
	req, err := h.readCheckout(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	q, err := h.checkout.Quote(r.Context(), req.domain())
	if err != nil {
		h.fail(w, r, errors.Wrap(err, "quote"))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		encodeQuoteFields(e, q)
		e.ObjEnd()
	})
}

// placeOrder prices the cart, stores the order and debits the wallet.
func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	req, err := h.readCheckout(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.checkout.PlaceOrder(r.Context(), req.domain())
	if err != nil {
		h.fail(w, r, errors.Wrap(err, "place order"))
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(res.Order.ID)
		e.FieldStart("userId")
		e.Str(res.Order.UserID)
		e.FieldStart("createdAt")
		encodeTime(e, res.Order.CreatedAt)
		encodeQuoteFields(e, res.Quote)
		e.ObjEnd()
	})
}
