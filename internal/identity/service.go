package identity

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/parley-chat/parley/internal/acl"
	"github.com/parley-chat/parley/internal/shared"
)

// Service wraps authentication and principal resolution.
type Service struct {
	repo Repository
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// CreateUser registers an account with a hashed password.
func (s *Service) CreateUser(ctx context.Context, email, name, password string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		IsActive:     true,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Resolve turns an authenticated user ID into an ACL principal and its
// group memberships. An empty user ID resolves to the public principal.
func (s *Service) Resolve(ctx context.Context, userID string) (acl.Principal, []string, error) {
	if userID == "" {
		return acl.PublicPrincipal(), nil, nil
	}
	groups, err := s.repo.GroupsForUser(ctx, userID)
	if err != nil {
		return acl.Principal{}, nil, err
	}
	return acl.UserPrincipal(userID), groups, nil
}

// GroupsForUser implements acl.GroupResolver.
func (s *Service) GroupsForUser(ctx context.Context, userID string) ([]string, error) {
	return s.repo.GroupsForUser(ctx, userID)
}

var _ acl.GroupResolver = (*Service)(nil)
