// Package directory resolves users and organization membership. Alerts
// need an owning user; correlation assigns them to the first user found
// in the asset's organization.
package directory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/c4a/ctiwatch/internal/docstore"
)

// Collection is the docstore collection users are persisted in.
const Collection = "users"

// User is a member of an organization.
type User struct {
	ID             string    `json:"id,omitempty"`
	OrganizationID string    `json:"organizationId"`
	Email          string    `json:"email"`
	Name           string    `json:"name,omitempty"`
	CreatedAt      time.Time `json:"createdAt,omitempty"`
}

// Service reads and writes the user directory.
type Service struct {
	store docstore.Store
}

// NewService creates a directory service over the given store.
func NewService(store docstore.Store) *Service {
	return &Service{store: store}
}

// Save persists a user, assigning an ID when absent.
func (s *Service) Save(ctx context.Context, user *User) error {
	if user == nil {
		return fmt.Errorf("save user: nil user")
	}
	if strings.TrimSpace(user.OrganizationID) == "" {
		return fmt.Errorf("save user: organization id is required")
	}
	if strings.TrimSpace(user.Email) == "" {
		return fmt.Errorf("save user: email is required")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	doc, err := docstore.Encode(user)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	id, err := s.store.Put(ctx, Collection, user.ID, doc)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	user.ID = id
	return nil
}

// GetUser fetches a user by ID.
func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	doc, err := s.store.Get(ctx, Collection, id)
	if err != nil {
		return nil, err
	}
	var user User
	if err := docstore.Decode(doc, &user); err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	if user.ID == "" {
		user.ID = id
	}
	return &user, nil
}

// FirstUserInOrganization returns one user from the organization, or
// ErrNotFound if the organization has no users.
func (s *Service) FirstUserInOrganization(ctx context.Context, orgID string) (*User, error) {
	if strings.TrimSpace(orgID) == "" {
		return nil, fmt.Errorf("first user: organization id is required")
	}

	page, err := s.store.Query(ctx, Collection, docstore.Query{
		Field: "organizationId",
		Op:    docstore.OpEqual,
		Value: orgID,
		Limit: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("first user in %s: %w", orgID, err)
	}
	if len(page.Docs) == 0 {
		return nil, docstore.ErrNotFound
	}

	var user User
	if err := docstore.Decode(page.Docs[0], &user); err != nil {
		return nil, fmt.Errorf("first user in %s: %w", orgID, err)
	}
	return &user, nil
}
