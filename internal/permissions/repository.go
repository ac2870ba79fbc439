package permissions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helixdesk/helixdesk/internal/platform/db"
)

const defaultStoreTimeout = 5 * time.Second

// Repository provides PostgreSQL backed persistence for the engine. Every
// call runs under a store timeout so no operation blocks indefinitely; a
// missed deadline is reported as ErrStoreTimeout.
type Repository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewRepository constructs a repository. A non-positive timeout falls back to
// the default.
func NewRepository(pool *pgxpool.Pool, timeout time.Duration) *Repository {
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return &Repository{pool: pool, timeout: timeout}
}

func (r *Repository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func storeErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrStoreTimeout, op)
	}
	return fmt.Errorf("permissions: %s: %w", op, err)
}

// txErr maps transaction begin/commit failures; errors raised inside the
// transaction body are already classified and pass through untouched.
func txErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrStoreTimeout, op)
	}
	return err
}

// FetchCatalog returns every active permission joined with its category.
func (r *Repository) FetchCatalog(ctx context.Context) ([]Permission, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.key, p.name, p.description, p.resource_type, p.action_type, p.is_system, p.display_order,
		       c.key, c.name, c.display_order
		FROM permissions p
		JOIN permission_categories c ON c.key = p.category_key
		WHERE p.is_active
		ORDER BY c.display_order, p.display_order, p.key`)
	if err != nil {
		return nil, storeErr("fetch catalog", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Key, &p.Name, &p.Description, &p.ResourceType, &p.ActionType,
			&p.IsSystem, &p.DisplayOrder, &p.Category.Key, &p.Category.Name, &p.Category.DisplayOrder); err != nil {
			return nil, storeErr("scan catalog row", err)
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate catalog", err)
	}
	return perms, nil
}

// FetchPermission returns one active permission by key.
func (r *Repository) FetchPermission(ctx context.Context, key string) (Permission, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var p Permission
	err := r.pool.QueryRow(ctx, `
		SELECT p.id, p.key, p.name, p.description, p.resource_type, p.action_type, p.is_system, p.display_order,
		       c.key, c.name, c.display_order
		FROM permissions p
		JOIN permission_categories c ON c.key = p.category_key
		WHERE p.key = $1 AND p.is_active`, key).
		Scan(&p.ID, &p.Key, &p.Name, &p.Description, &p.ResourceType, &p.ActionType,
			&p.IsSystem, &p.DisplayOrder, &p.Category.Key, &p.Category.Name, &p.Category.DisplayOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, ErrPermissionNotFound
		}
		return Permission{}, storeErr("fetch permission", err)
	}
	return p, nil
}

// FetchRole returns a role template by name, case-insensitive.
func (r *Repository) FetchRole(ctx context.Context, name string) (RoleTemplate, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var role RoleTemplate
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, hierarchy_level, is_system
		FROM role_templates
		WHERE lower(name) = lower($1)`, name).
		Scan(&role.ID, &role.Name, &role.HierarchyLevel, &role.IsSystem)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RoleTemplate{}, ErrRoleNotFound
		}
		return RoleTemplate{}, storeErr("fetch role", err)
	}
	return role, nil
}

// FetchRolePermissionKeys returns the active default keys for a role.
func (r *Repository) FetchRolePermissionKeys(ctx context.Context, roleID int64) ([]string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	keys, err := fetchRoleKeys(ctx, r.pool, roleID)
	if err != nil {
		return nil, storeErr("fetch role permissions", err)
	}
	return keys, nil
}

// ReplaceRolePermissions swaps the role's whole default set inside one
// repeatable-read transaction: read the prior set, delete everything,
// re-insert only keys that resolve to known active permissions. Unknown keys
// are dropped, not errors. On any failure the transaction rolls back and the
// prior set stays fully intact.
func (r *Repository) ReplaceRolePermissions(ctx context.Context, roleID int64, keys []string) (previous, applied []string, err error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	err = db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		previous, err = fetchRoleKeys(ctx, tx, roleID)
		if err != nil {
			return storeErr("read prior role permissions", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return storeErr("clear role permissions", err)
		}

		rows, err := tx.Query(ctx, `SELECT id, key FROM permissions WHERE key = ANY($1) AND is_active`, keys)
		if err != nil {
			return storeErr("resolve permission keys", err)
		}
		type resolved struct {
			id  int64
			key string
		}
		var known []resolved
		for rows.Next() {
			var item resolved
			if err := rows.Scan(&item.id, &item.key); err != nil {
				rows.Close()
				return storeErr("scan permission key", err)
			}
			known = append(known, item)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return storeErr("iterate permission keys", err)
		}

		applied = make([]string, 0, len(known))
		for _, item := range known {
			if _, err := tx.Exec(ctx,
				`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`,
				roleID, item.id); err != nil {
				return storeErr("insert role permission", err)
			}
			applied = append(applied, item.key)
		}
		return nil
	})
	if err != nil {
		return nil, nil, txErr("role replace", err)
	}
	return previous, applied, nil
}

// FetchUser returns the authorization-relevant slice of a user record.
func (r *Repository) FetchUser(ctx context.Context, userID int64) (User, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var (
		user User
		role pgtype.Text
	)
	err := r.pool.QueryRow(ctx, `
		SELECT u.id, u.email, rt.name, u.is_active, u.has_custom_permissions
		FROM users u
		LEFT JOIN role_templates rt ON rt.id = u.role_id
		WHERE u.id = $1`, userID).
		Scan(&user.ID, &user.Email, &role, &user.IsActive, &user.HasOverrides)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, storeErr("fetch user", err)
	}
	if role.Valid {
		user.RoleName = role.String
	}
	return user, nil
}

// FetchUserOverrides returns all override rows for a user, newest first.
// Expired rows are included; expiry is the resolver's concern.
func (r *Repository) FetchUserOverrides(ctx context.Context, userID int64) ([]Override, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT o.user_id, o.permission_id, p.key, o.is_granted, o.granted_by, o.granted_at, o.reason, o.expires_at
		FROM user_custom_permissions o
		JOIN permissions p ON p.id = o.permission_id
		WHERE o.user_id = $1
		ORDER BY o.granted_at DESC, p.key`, userID)
	if err != nil {
		return nil, storeErr("fetch user overrides", err)
	}
	defer rows.Close()

	var overrides []Override
	for rows.Next() {
		var (
			ov      Override
			expires pgtype.Timestamptz
		)
		if err := rows.Scan(&ov.UserID, &ov.PermissionID, &ov.PermissionKey, &ov.IsGranted,
			&ov.GrantedBy, &ov.GrantedAt, &ov.Reason, &expires); err != nil {
			return nil, storeErr("scan override", err)
		}
		if expires.Valid {
			value := expires.Time
			ov.ExpiresAt = &value
		}
		overrides = append(overrides, ov)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate overrides", err)
	}
	return overrides, nil
}

// UpsertUserOverride writes the single (user, permission) override row. A
// second write for the same pair replaces the record, so duplicates never
// accumulate; concurrent writers serialize through the upsert and the last
// one wins. The user's customization marker is set in the same transaction.
func (r *Repository) UpsertUserOverride(ctx context.Context, ov Override) (*Override, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var previous *Override
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var (
			prior   Override
			expires pgtype.Timestamptz
		)
		err := tx.QueryRow(ctx, `
			SELECT user_id, permission_id, is_granted, granted_by, granted_at, reason, expires_at
			FROM user_custom_permissions
			WHERE user_id = $1 AND permission_id = $2
			FOR UPDATE`, ov.UserID, ov.PermissionID).
			Scan(&prior.UserID, &prior.PermissionID, &prior.IsGranted, &prior.GrantedBy,
				&prior.GrantedAt, &prior.Reason, &expires)
		switch {
		case err == nil:
			if expires.Valid {
				value := expires.Time
				prior.ExpiresAt = &value
			}
			prior.PermissionKey = ov.PermissionKey
			previous = &prior
		case errors.Is(err, pgx.ErrNoRows):
			// first override for this pair
		default:
			return storeErr("read prior override", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO user_custom_permissions (user_id, permission_id, is_granted, granted_by, granted_at, reason, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (user_id, permission_id) DO UPDATE SET
				is_granted = EXCLUDED.is_granted,
				granted_by = EXCLUDED.granted_by,
				granted_at = EXCLUDED.granted_at,
				reason     = EXCLUDED.reason,
				expires_at = EXCLUDED.expires_at`,
			ov.UserID, ov.PermissionID, ov.IsGranted, ov.GrantedBy, ov.GrantedAt, ov.Reason, optionalTimestamp(ov.ExpiresAt))
		if err != nil {
			if isForeignKeyViolation(err) {
				return ErrUserNotFound
			}
			return storeErr("upsert override", err)
		}

		tag, err := tx.Exec(ctx, `UPDATE users SET has_custom_permissions = TRUE WHERE id = $1`, ov.UserID)
		if err != nil {
			return storeErr("mark user customized", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrUserNotFound
		}
		return nil
	})
	if err != nil {
		return nil, txErr("override upsert", err)
	}
	return previous, nil
}

// DeleteUserOverrides removes every override row for the user and clears the
// customization marker, returning the number of rows removed.
func (r *Repository) DeleteUserOverrides(ctx context.Context, userID int64) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var removed int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM user_custom_permissions WHERE user_id = $1`, userID)
		if err != nil {
			return storeErr("delete overrides", err)
		}
		removed = tag.RowsAffected()

		tag, err = tx.Exec(ctx, `UPDATE users SET has_custom_permissions = FALSE WHERE id = $1`, userID)
		if err != nil {
			return storeErr("clear user marker", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrUserNotFound
		}
		return nil
	})
	if err != nil {
		return 0, txErr("override clear", err)
	}
	return removed, nil
}

// DeleteExpiredOverrides physically removes override rows whose expiry lies
// before the cutoff. Resolution never depends on this; it is purely storage
// hygiene driven by the background sweep.
func (r *Repository) DeleteExpiredOverrides(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `
		DELETE FROM user_custom_permissions
		WHERE expires_at IS NOT NULL AND expires_at < $1`, before)
	if err != nil {
		return 0, storeErr("delete expired overrides", err)
	}
	if _, err := r.pool.Exec(ctx, `
		UPDATE users u SET has_custom_permissions = FALSE
		WHERE u.has_custom_permissions
		  AND NOT EXISTS (SELECT 1 FROM user_custom_permissions o WHERE o.user_id = u.id)`); err != nil {
		return tag.RowsAffected(), storeErr("refresh user markers", err)
	}
	return tag.RowsAffected(), nil
}

type roleKeyQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func fetchRoleKeys(ctx context.Context, q roleKeyQuerier, roleID int64) ([]string, error) {
	rows, err := q.Query(ctx, `
		SELECT p.key
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1 AND p.is_active
		ORDER BY p.key`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func optionalTimestamp(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
