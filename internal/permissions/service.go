package permissions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/helixdesk/helixdesk/internal/audit"
)

// RepositoryPort describes the backing-store operations used by Service.
// Every call carries the configured store timeout; a missed deadline surfaces
// as ErrStoreTimeout.
type RepositoryPort interface {
	FetchPermission(ctx context.Context, key string) (Permission, error)
	FetchRole(ctx context.Context, name string) (RoleTemplate, error)
	FetchRolePermissionKeys(ctx context.Context, roleID int64) ([]string, error)
	// ReplaceRolePermissions swaps the whole default set in one transaction
	// and reports the prior set alongside the keys actually applied. Unknown
	// keys are dropped by the store, never inserted partially.
	ReplaceRolePermissions(ctx context.Context, roleID int64, keys []string) (previous, applied []string, err error)
	FetchUser(ctx context.Context, userID int64) (User, error)
	FetchUserOverrides(ctx context.Context, userID int64) ([]Override, error)
	// UpsertUserOverride writes the single (user, permission) override row and
	// returns the record it replaced, if any.
	UpsertUserOverride(ctx context.Context, ov Override) (*Override, error)
	DeleteUserOverrides(ctx context.Context, userID int64) (int64, error)
}

// AuditPort appends mutation records. Append failures never propagate into
// the mutation result; the recorder reports them on its own channel.
type AuditPort interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Service is the permission resolution engine: role default sets, per-user
// overrides, and the effective-set resolver, with write-through cache
// invalidation and best-effort audit appends.
type Service struct {
	repo   RepositoryPort
	cache  Cache
	audits AuditPort
	logger *slog.Logger
	now    func() time.Time
	group  singleflight.Group
}

// NewService constructs the engine. A nil clock defaults to time.Now.
func NewService(repo RepositoryPort, cache Cache, audits AuditPort, logger *slog.Logger, now func() time.Time) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Service{repo: repo, cache: cache, audits: audits, logger: logger, now: now}
}

// GetRolePermissions returns the default permission keys for a role. Unknown
// roles yield an empty set, not an error, mirroring the deny-by-default
// posture of resolution.
func (s *Service) GetRolePermissions(ctx context.Context, roleName string) ([]string, error) {
	roleName = strings.TrimSpace(roleName)
	if keys, ok := s.cache.Role(ctx, roleName); ok {
		return keys, nil
	}
	v, err, _ := s.group.Do("role:"+roleName, func() (any, error) {
		role, err := s.repo.FetchRole(ctx, roleName)
		if errors.Is(err, ErrRoleNotFound) {
			empty := []string{}
			s.cache.SetRole(ctx, roleName, empty)
			return empty, nil
		}
		if err != nil {
			return nil, err
		}
		keys, err := s.repo.FetchRolePermissionKeys(ctx, role.ID)
		if err != nil {
			return nil, err
		}
		sort.Strings(keys)
		s.cache.SetRole(ctx, roleName, keys)
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// ReplaceRolePermissions atomically replaces a role's default set. The
// protected system role is rejected before any side effect. Keys that do not
// resolve to a known active permission are silently dropped. On success the
// role cache and every user decision are invalidated, then a ROLE_UPDATE
// audit entry records the before/after sets.
func (s *Service) ReplaceRolePermissions(ctx context.Context, roleName string, keys []string, performedBy int64, reason string) ([]string, error) {
	roleName = strings.TrimSpace(roleName)
	if strings.EqualFold(roleName, ProtectedRoleName) {
		return nil, ErrProtectedRole
	}
	role, err := s.repo.FetchRole(ctx, roleName)
	if err != nil {
		return nil, err
	}
	if role.IsSystem {
		return nil, ErrProtectedRole
	}
	previous, applied, err := s.repo.ReplaceRolePermissions(ctx, role.ID, dedupeKeys(keys))
	if err != nil {
		return nil, err
	}

	// Invalidation strictly follows the committed write; audit strictly
	// follows invalidation.
	s.cache.InvalidateRole(ctx, role.Name)
	s.recordAudit(ctx, audit.Entry{
		ActionType:  audit.ActionRoleUpdate,
		TargetType:  audit.TargetRole,
		TargetID:    role.Name,
		OldValue:    encodeKeySet(previous),
		NewValue:    encodeKeySet(applied),
		PerformedBy: performedBy,
		Reason:      reason,
	})
	return applied, nil
}

// GrantInput describes a per-user grant.
type GrantInput struct {
	UserID    int64
	Key       string
	GrantedBy int64
	Reason    string
	ExpiresAt *time.Time
}

// Grant upserts a grant override for the (user, permission) pair, marks the
// user as customized, invalidates the user's decision, and appends a GRANT
// audit entry.
func (s *Service) Grant(ctx context.Context, input GrantInput) error {
	return s.upsertOverride(ctx, Override{
		UserID:    input.UserID,
		IsGranted: true,
		GrantedBy: input.GrantedBy,
		Reason:    input.Reason,
		ExpiresAt: input.ExpiresAt,
	}, input.Key, audit.ActionGrant, "granted")
}

// RevokeInput describes a per-user explicit revoke.
type RevokeInput struct {
	UserID    int64
	Key       string
	RevokedBy int64
	Reason    string
}

// Revoke upserts a revoke override for the (user, permission) pair. A revoke
// carries no expiry and always wins over the role default.
func (s *Service) Revoke(ctx context.Context, input RevokeInput) error {
	return s.upsertOverride(ctx, Override{
		UserID:    input.UserID,
		IsGranted: false,
		GrantedBy: input.RevokedBy,
		Reason:    input.Reason,
	}, input.Key, audit.ActionRevoke, "revoked")
}

func (s *Service) upsertOverride(ctx context.Context, ov Override, key, action, newState string) error {
	perm, err := s.repo.FetchPermission(ctx, strings.TrimSpace(key))
	if err != nil {
		return err
	}
	ov.PermissionID = perm.ID
	ov.PermissionKey = perm.Key
	ov.GrantedAt = s.now()

	previous, err := s.repo.UpsertUserOverride(ctx, ov)
	if err != nil {
		return err
	}

	s.cache.InvalidateUser(ctx, ov.UserID)
	permKey := perm.Key
	s.recordAudit(ctx, audit.Entry{
		ActionType:    action,
		TargetType:    audit.TargetUser,
		TargetID:      strconv.FormatInt(ov.UserID, 10),
		PermissionKey: &permKey,
		OldValue:      overrideState(previous),
		NewValue:      newState,
		PerformedBy:   ov.GrantedBy,
		Reason:        ov.Reason,
	})
	return nil
}

// ClearOverrides removes every override for a user, resetting them to role
// defaults, and clears the customization marker.
func (s *Service) ClearOverrides(ctx context.Context, userID, performedBy int64, reason string) error {
	removed, err := s.repo.DeleteUserOverrides(ctx, userID)
	if err != nil {
		return err
	}

	s.cache.InvalidateUser(ctx, userID)
	s.recordAudit(ctx, audit.Entry{
		ActionType:  audit.ActionRevoke,
		TargetType:  audit.TargetUser,
		TargetID:    strconv.FormatInt(userID, 10),
		OldValue:    strconv.FormatInt(removed, 10) + " override(s)",
		NewValue:    "cleared",
		PerformedBy: performedBy,
		Reason:      reason,
	})
	return nil
}

// ListOverrides returns a user's override records partitioned by direction,
// most recent first. Expired records are still listed; expiry only affects
// resolution.
func (s *Service) ListOverrides(ctx context.Context, userID int64) (granted, revoked []Override, err error) {
	rows, err := s.repo.FetchUserOverrides(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	for _, ov := range rows {
		if ov.IsGranted {
			granted = append(granted, ov)
		} else {
			revoked = append(revoked, ov)
		}
	}
	return granted, revoked, nil
}

// Resolve computes the effective permission set for a user: role defaults,
// plus unexpired grants, minus unexpired revokes. Revokes are applied last so
// they win even if both directions somehow coexist for one key. Unknown and
// inactive users resolve to an empty set without error, keeping callers
// deny-by-default. Results are cached per user.
func (s *Service) Resolve(ctx context.Context, userID int64) ([]string, error) {
	if keys, ok := s.cache.User(ctx, userID); ok {
		return keys, nil
	}
	v, err, _ := s.group.Do("user:"+strconv.FormatInt(userID, 10), func() (any, error) {
		keys, err := s.resolveUncached(ctx, userID)
		if err != nil {
			return nil, err
		}
		s.cache.SetUser(ctx, userID, keys)
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

func (s *Service) resolveUncached(ctx context.Context, userID int64) ([]string, error) {
	user, err := s.repo.FetchUser(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		s.logger.Debug("resolve unknown user", slog.Int64("user_id", userID))
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return []string{}, nil
	}

	defaults, err := s.GetRolePermissions(ctx, user.RoleName)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(defaults))
	for _, key := range defaults {
		set[key] = struct{}{}
	}

	overrides, err := s.repo.FetchUserOverrides(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for _, ov := range overrides {
		if ov.Expired(now) || !ov.IsGranted {
			continue
		}
		set[ov.PermissionKey] = struct{}{}
	}
	for _, ov := range overrides {
		if ov.Expired(now) || ov.IsGranted {
			continue
		}
		delete(set, ov.PermissionKey)
	}

	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// HasPermission reports whether the user's effective set contains the key.
func (s *Service) HasPermission(ctx context.Context, userID int64, key string) (bool, error) {
	keys, err := s.Resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, k := range keys {
		if k == key {
			return true, nil
		}
	}
	return false, nil
}

// HasAny reports whether the user holds at least one of the keys.
func (s *Service) HasAny(ctx context.Context, userID int64, keys ...string) (bool, error) {
	resolved, err := s.Resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	set := make(map[string]struct{}, len(resolved))
	for _, k := range resolved {
		set[k] = struct{}{}
	}
	for _, k := range keys {
		if _, ok := set[k]; ok {
			return true, nil
		}
	}
	return false, nil
}

// HasAll reports whether the user holds every key.
func (s *Service) HasAll(ctx context.Context, userID int64, keys ...string) (bool, error) {
	resolved, err := s.Resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	set := make(map[string]struct{}, len(resolved))
	for _, k := range resolved {
		set[k] = struct{}{}
	}
	for _, k := range keys {
		if _, ok := set[k]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// InvalidateAll clears every cache table. Used by bulk administrative resets.
func (s *Service) InvalidateAll(ctx context.Context) {
	s.cache.InvalidateAll(ctx)
}

func (s *Service) recordAudit(ctx context.Context, entry audit.Entry) {
	if s.audits == nil {
		return
	}
	if err := s.audits.Record(ctx, entry); err != nil {
		// Audit is observability, not a correctness gate: the mutation has
		// already committed and must not be rolled back or failed here.
		s.logger.Warn("audit append failed",
			slog.String("action", entry.ActionType),
			slog.String("target", entry.TargetID),
			slog.Any("error", err))
	}
}

func overrideState(ov *Override) string {
	if ov == nil {
		return ""
	}
	if ov.IsGranted {
		return "granted"
	}
	return "revoked"
}

func encodeKeySet(keys []string) string {
	if keys == nil {
		keys = []string{}
	}
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	raw, err := json.Marshal(sorted)
	if err != nil {
		return fmt.Sprintf("%v", sorted)
	}
	return string(raw)
}

func dedupeKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}
