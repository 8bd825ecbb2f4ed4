package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"safetrack/internal/models"
)

// SharedWith lists the users allowed to see userID's location
func SharedWith(db *sqlx.DB, userID string) ([]models.UserRef, error) {
	return grantRefs(db, `
		SELECT u.id, u.name FROM share_grants g
		JOIN users u ON u.id = g.viewer_id
		WHERE g.owner_id = $1
		ORDER BY g.created_at`, userID)
}

// ReceivingFrom lists the users whose location userID may see
func ReceivingFrom(db *sqlx.DB, userID string) ([]models.UserRef, error) {
	return grantRefs(db, `
		SELECT u.id, u.name FROM share_grants g
		JOIN users u ON u.id = g.owner_id
		WHERE g.viewer_id = $1
		ORDER BY g.created_at`, userID)
}

func grantRefs(db *sqlx.DB, query, userID string) ([]models.UserRef, error) {
	type row struct {
		ID   string `db:"id"`
		Name string `db:"name"`
	}
	var raw []row
	if err := db.Select(&raw, query, userID); err != nil {
		return nil, fmt.Errorf("failed to load share grants: %w", err)
	}

	refs := make([]models.UserRef, 0, len(raw))
	for _, r := range raw {
		ref := models.UserRef{ID: r.ID, Name: r.Name}
		if ref.Name == "" {
			ref.Name = ref.ID
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// PendingRequestsFor lists unanswered share requests addressed to userID
func PendingRequestsFor(db *sqlx.DB, userID string) ([]models.PendingShareRequest, error) {
	requests := []models.PendingShareRequest{}
	err := db.Select(&requests, `
		SELECT request_id, requester_id, target_id, created_at
		FROM pending_share_requests
		WHERE target_id = $1
		ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending requests: %w", err)
	}
	return requests, nil
}

// RevokeGrant removes one direction of a share. Returns whether a grant
// actually existed.
func RevokeGrant(db *sqlx.DB, ownerID, viewerID string) (bool, error) {
	res, err := db.Exec(`DELETE FROM share_grants WHERE owner_id = $1 AND viewer_id = $2`, ownerID, viewerID)
	if err != nil {
		return false, fmt.Errorf("failed to revoke grant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// LastKnownLocation returns the stored position for userID, or nil when
// none has ever been recorded
func LastKnownLocation(db *sqlx.DB, userID string) (*models.UserLocation, error) {
	var loc models.UserLocation
	err := db.Get(&loc, `SELECT * FROM user_locations WHERE user_id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load location: %w", err)
	}
	return &loc, nil
}
