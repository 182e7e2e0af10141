package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/clinic/referrals/internal/platform/apperr"
	"github.com/clinic/referrals/internal/platform/auth"
)

const (
	bcryptCost        = 10
	minPasswordLength = 6
)

type Service struct {
	users    Repository
	issuer   *auth.TokenIssuer
	revoked  auth.RevocationStore
	policy   auth.Policy
	validate *validator.Validate
}

func NewService(users Repository, issuer *auth.TokenIssuer, revoked auth.RevocationStore, policy auth.Policy) *Service {
	return &Service{
		users:    users,
		issuer:   issuer,
		revoked:  revoked,
		policy:   policy,
		validate: validator.New(),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (s *Service) validateCreate(in CreateInput) (*User, error) {
	verr := &apperr.ValidationError{}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		verr.Add("name", "Name is required")
	}
	email := normalizeEmail(in.Email)
	if err := s.validate.Var(email, "required,email"); err != nil {
		verr.Add("email", "Invalid email")
	}
	if len(in.Password) < minPasswordLength {
		verr.Add("password", "Password must be at least 6 characters")
	}
	role := auth.Role(strings.ToUpper(strings.TrimSpace(in.Role)))
	if !role.Valid() {
		verr.Add("role", "Invalid role")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return &User{Name: name, Email: email, Role: role}, nil
}

func (s *Service) create(ctx context.Context, in CreateInput) (*User, error) {
	u, err := s.validateCreate(in)
	if err != nil {
		return nil, err
	}
	if u.PasswordHash, err = hashPassword(in.Password); err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	log.Ctx(ctx).Info().Str("user_id", u.ID.String()).Str("role", string(u.Role)).Msg("user created")
	return u, nil
}

// Create adds a staff account. Admin only.
func (s *Service) Create(ctx context.Context, in CreateInput) (*User, error) {
	if err := s.policy.Authorize(ctx, auth.ResourceUser, auth.ActionCreate); err != nil {
		return nil, err
	}
	return s.create(ctx, in)
}

// BootstrapAdmin creates an admin account without a caller. It backs the
// create-admin command.
func (s *Service) BootstrapAdmin(ctx context.Context, name, email, password string) (*User, error) {
	return s.create(ctx, CreateInput{Name: name, Email: email, Password: password, Role: string(auth.RoleAdmin)})
}

func (s *Service) List(ctx context.Context) ([]*User, error) {
	if err := s.policy.Authorize(ctx, auth.ResourceUser, auth.ActionRead); err != nil {
		return nil, err
	}
	out, err := s.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return out, nil
}

func (s *Service) UpdateRole(ctx context.Context, id uuid.UUID, raw string) error {
	if err := s.policy.Authorize(ctx, auth.ResourceUser, auth.ActionUpdate); err != nil {
		return err
	}
	if auth.UserIDFromContext(ctx) == id {
		return apperr.SelfModification("You cannot change your own role.")
	}
	role := auth.Role(strings.ToUpper(strings.TrimSpace(raw)))
	if !role.Valid() {
		return apperr.Invalid("role", "Invalid role")
	}
	if err := s.users.UpdateRole(ctx, id, role); err != nil {
		return fmt.Errorf("update user role: %w", err)
	}
	log.Ctx(ctx).Info().Str("user_id", id.String()).Str("role", string(role)).Msg("user role changed")
	return nil
}

func (s *Service) ResetPassword(ctx context.Context, id uuid.UUID, password string) error {
	if err := s.policy.Authorize(ctx, auth.ResourceUser, auth.ActionUpdate); err != nil {
		return err
	}
	if len(password) < minPasswordLength {
		return apperr.Invalid("password", "Password must be at least 6 characters.")
	}
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, id, hash); err != nil {
		return fmt.Errorf("reset password: %w", err)
	}
	return nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.policy.Authorize(ctx, auth.ResourceUser, auth.ActionDelete); err != nil {
		return err
	}
	if auth.UserIDFromContext(ctx) == id {
		return apperr.SelfModification("You cannot delete your own account.")
	}
	if err := s.users.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	log.Ctx(ctx).Info().Str("user_id", id.String()).Msg("user deleted")
	return nil
}

// Login checks the credentials and issues a session token. Unknown emails and
// wrong passwords fail the same way.
func (s *Service) Login(ctx context.Context, in LoginInput) (*Session, error) {
	u, err := s.users.GetByEmail(ctx, normalizeEmail(in.Email))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.Password)); err != nil {
		log.Ctx(ctx).Warn().Str("user_id", u.ID.String()).Msg("login failed")
		return nil, apperr.ErrInvalidCredentials
	}

	token, id, err := s.issuer.Issue(u.ID, u.Name, u.Role)
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).Info().Str("user_id", u.ID.String()).Msg("login")
	return &Session{Token: token, ExpiresAt: id.ExpiresAt, User: u}, nil
}

// Logout revokes the caller's token until it expires. Callers without a
// token, such as the development identity, have nothing to revoke.
func (s *Service) Logout(ctx context.Context) error {
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return apperr.ErrUnauthorized
	}
	if id.TokenID == "" {
		return nil
	}
	if err := s.revoked.Revoke(ctx, id.TokenID, id.ExpiresAt); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}
