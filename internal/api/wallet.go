package api

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

func (h *Handler) getWallet(w http.ResponseWriter, r *http.Request) {
	acc, err := h.accounts.Get(r.Context(), r.PathValue("userId"))
	if err != nil {
		h.fail(w, r, errors.Wrap(err, "get wallet"))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("userId")
		e.Str(acc.UserID)
		e.FieldStart("balance")
		encodeMoney(e, acc.Balance)
		e.FieldStart("updatedAt")
		encodeTime(e, acc.UpdatedAt)
		e.ObjEnd()
	})
}
