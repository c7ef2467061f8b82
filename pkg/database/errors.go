package database

import (
	"database/sql"
	stderrors "errors"
	"strings"

	"github.com/clinicflow/clinic-inventory/pkg/errors"
	"github.com/lib/pq"
)

// MapPQError converts a PostgreSQL error to an AppError.
// Returns nil if the error is not a pq.Error or has no mapping.
func MapPQError(err error) *errors.AppError {
	var pqErr *pq.Error
	if !stderrors.As(err, &pqErr) {
		return nil
	}

	switch pqErr.Code {
	case "23514":
		return mapCheckConstraint(pqErr)
	case "23505":
		return errors.Conflict(formatConstraintMessage(pqErr))
	case "23503":
		return errors.BadRequest("referenced record does not exist")
	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})
	default:
		return nil
	}
}

// Translate maps sql.ErrNoRows to NotFound(resource) and pq errors via
// MapPQError; anything else is returned unchanged.
func Translate(err error, resource string) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.NotFound(resource)
	}
	if appErr := MapPQError(err); appErr != nil {
		return appErr
	}
	return err
}

func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "received_within_ordered"):
		return errors.OverReceipt("received quantity would exceed ordered quantity")
	case strings.Contains(constraint, "quantity_non_negative"):
		return errors.Validation(map[string]string{
			"quantity": "must not be negative",
		})
	case strings.Contains(constraint, "price_non_negative"):
		return errors.Validation(map[string]string{
			"price": "must not be negative",
		})
	case strings.Contains(constraint, "status_valid"):
		return errors.Validation(map[string]string{
			"status": "must be one of: draft, ordered, partially_received, received, cancelled",
		})
	default:
		return errors.BadRequest("data validation failed: " + constraint)
	}
}

func formatConstraintMessage(pqErr *pq.Error) string {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "sku"):
		return "an item with this SKU already exists"
	case strings.Contains(constraint, "barcode"):
		return "an item with this barcode already exists"
	case strings.Contains(constraint, "batch_number"):
		return "a batch with this number already exists for the item"
	case strings.Contains(constraint, "po_number"):
		return "a purchase order with this number already exists"
	case strings.Contains(constraint, "receipt_number"):
		return "a goods receipt with this number already exists"
	case strings.Contains(constraint, "category_name"):
		return "a category with this name already exists"
	default:
		return "a record with these values already exists"
	}
}
