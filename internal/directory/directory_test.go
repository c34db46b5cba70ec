package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c4a/ctiwatch/internal/docstore"
)

func TestSaveAndGetUser(t *testing.T) {
	svc := NewService(docstore.NewMemoryStore())
	ctx := context.Background()

	user := &User{OrganizationID: "org-1", Email: "sec@example.com"}
	require.NoError(t, svc.Save(ctx, user))
	require.NotEmpty(t, user.ID)

	got, err := svc.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "sec@example.com", got.Email)
	assert.Equal(t, "org-1", got.OrganizationID)

	_, err = svc.GetUser(ctx, "no-such-user")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestSaveUserValidation(t *testing.T) {
	svc := NewService(docstore.NewMemoryStore())
	ctx := context.Background()

	assert.Error(t, svc.Save(ctx, &User{Email: "a@b.com"}))
	assert.Error(t, svc.Save(ctx, &User{OrganizationID: "org-1"}))
}

func TestFirstUserInOrganization(t *testing.T) {
	svc := NewService(docstore.NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, svc.Save(ctx, &User{OrganizationID: "org-1", Email: "first@example.com"}))
	require.NoError(t, svc.Save(ctx, &User{OrganizationID: "org-1", Email: "second@example.com"}))

	user, err := svc.FirstUserInOrganization(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, "org-1", user.OrganizationID)

	_, err = svc.FirstUserInOrganization(ctx, "org-empty")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}
