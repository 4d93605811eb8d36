package api

import (
	"fmt"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xenking/grup/internal/domain/account"
	"github.com/xenking/grup/internal/domain/auth"
	"github.com/xenking/grup/internal/domain/checkout"
	"github.com/xenking/grup/internal/domain/product"
	"github.com/xenking/grup/pkg/httpmiddleware"
)

// fail maps err to a status and writes the error document. Unrecognised
// errors are logged and reported as 500 without detail.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := classify(err)
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	}
	httpmiddleware.WriteError(w, status, msg)
}

func classify(err error) (int, string) {
	var (
		tooLarge    *http.MaxBytesError
		badBody     *badRequestError
		invalid     validator.ValidationErrors
		missing     *checkout.ProductNotFoundError
		quantity    *checkout.InvalidQuantityError
		lineUnit    *checkout.InvalidSellingUnitError
		productUnit *product.InvalidSellingUnitError
	)
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, "request body too large"
	case errors.As(err, &badBody):
		return http.StatusBadRequest, badBody.Error()
	case errors.As(err, &invalid):
		return http.StatusBadRequest, validationMessage(invalid)
	case errors.Is(err, checkout.ErrEmptyItems),
		errors.Is(err, checkout.ErrUserRequired):
		return http.StatusBadRequest, rootMessage(err)
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, errForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.As(err, &missing):
		return http.StatusUnprocessableEntity, missing.Error()
	case errors.As(err, &quantity):
		return http.StatusUnprocessableEntity, quantity.Error()
	case errors.As(err, &lineUnit):
		return http.StatusUnprocessableEntity, lineUnit.Error()
	case errors.As(err, &productUnit):
		return http.StatusUnprocessableEntity, productUnit.Error()
	case errors.Is(err, checkout.ErrNegativeAmount),
		errors.Is(err, product.ErrNegativePrice):
		return http.StatusUnprocessableEntity, rootMessage(err)
	case errors.Is(err, product.ErrNotFound):
		return http.StatusNotFound, "product not found"
	case errors.Is(err, account.ErrNotFound):
		return http.StatusNotFound, "wallet not found"
	case errors.Is(err, account.ErrInsufficientBalance):
		return http.StatusConflict, "wallet balance changed, please retry"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// rootMessage returns the message of the innermost error, without the
// handler's wrapping context.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

func validationMessage(errs validator.ValidationErrors) string {
	if len(errs) == 0 {
		return "invalid request"
	}
	fe := errs[0]
	field := fe.Namespace()
	if field == "" {
		field = "value"
	}
	if fe.Param() != "" {
		return fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s", field, fe.Tag())
}
