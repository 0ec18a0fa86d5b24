package services

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	apperrors "github.com/lifelink/lifelink/pkg/errors"
)

// Domain failures surfaced to API callers.
var (
	ErrRequisitionNotFound = apperrors.New("REQUISITION_NOT_FOUND", "Requisition not found", http.StatusNotFound)
	ErrRequisitionInactive = apperrors.New("REQUISITION_INACTIVE", "This requisition is no longer active or has expired", http.StatusConflict)
	ErrAlreadyResponded    = apperrors.New("ALREADY_RESPONDED", "You have already responded to this requisition", http.StatusConflict)
	ErrDonorNotEligible    = apperrors.New("DONOR_NOT_ELIGIBLE", "Donor is not eligible for this action", http.StatusConflict)
	ErrRequisitionConflict = apperrors.New("REQUISITION_CONFLICT", "Requisition was modified concurrently, reload and retry", http.StatusConflict)
	ErrInvalidTransition   = apperrors.New("INVALID_STATUS_TRANSITION", "Requisition status cannot change that way", http.StatusConflict)
	ErrBloodGroupRequired  = apperrors.New("BLOOD_GROUP_REQUIRED", "Set your blood group in your profile first", http.StatusBadRequest)
	ErrNotRequisitionOwner = apperrors.ErrForbidden.WithMessage("Only the requester or an administrator can do this")
)

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique constraint") ||
		strings.Contains(lower, "duplicate key") ||
		strings.Contains(lower, "duplicate entry")
}
