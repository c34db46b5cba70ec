package assets

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c4a/ctiwatch/internal/docstore"
)

func TestSaveValidation(t *testing.T) {
	svc := NewService(docstore.NewMemoryStore())
	ctx := context.Background()

	err := svc.Save(ctx, &Asset{Name: "api-gateway"})
	assert.Error(t, err, "missing org id")

	err = svc.Save(ctx, &Asset{OrganizationID: "org-1"})
	assert.Error(t, err, "missing name")

	asset := &Asset{OrganizationID: "org-1", Name: "api-gateway"}
	require.NoError(t, svc.Save(ctx, asset))
	assert.NotEmpty(t, asset.ID)
	assert.Equal(t, TypeOther, asset.Type)
	assert.Equal(t, CriticalityMedium, asset.Criticality)
}

func TestGetAssetsForOrganizationFilters(t *testing.T) {
	svc := NewService(docstore.NewMemoryStore())
	ctx := context.Background()

	seed := []Asset{
		{OrganizationID: "org-1", Name: "billing-api", Type: TypeAPI, Criticality: CriticalityCritical},
		{OrganizationID: "org-1", Name: "marketing-site", Type: TypeWeb, Criticality: CriticalityLow},
		{OrganizationID: "org-2", Name: "other-api", Type: TypeAPI, Criticality: CriticalityHigh},
	}
	for i := range seed {
		require.NoError(t, svc.Save(ctx, &seed[i]))
	}

	page, err := svc.GetAssetsForOrganization(ctx, "org-1", ListOptions{})
	require.NoError(t, err)
	require.Len(t, page.Assets, 2)
	for _, a := range page.Assets {
		assert.Equal(t, "org-1", a.OrganizationID)
	}

	apis, err := svc.GetAssetsForOrganization(ctx, "org-1", ListOptions{Type: TypeAPI})
	require.NoError(t, err)
	require.Len(t, apis.Assets, 1)
	assert.Equal(t, "billing-api", apis.Assets[0].Name)

	_, err = svc.GetAssetsForOrganization(ctx, "", ListOptions{})
	assert.Error(t, err)
}

func TestGetAssetsForOrganizationPagination(t *testing.T) {
	svc := NewService(docstore.NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		a := Asset{OrganizationID: "org-1", Name: fmt.Sprintf("asset-%02d", i)}
		require.NoError(t, svc.Save(ctx, &a))
	}

	var names []string
	cursor := ""
	for {
		page, err := svc.GetAssetsForOrganization(ctx, "org-1", ListOptions{Limit: 2, StartAfter: cursor})
		require.NoError(t, err)
		for _, a := range page.Assets {
			names = append(names, a.Name)
		}
		if !page.HasMore {
			break
		}
		cursor = page.LastID
	}
	assert.Len(t, names, 5)
}

func TestGetAssetsForOrganizationFilteredPagination(t *testing.T) {
	svc := NewService(docstore.NewMemoryStore())
	ctx := context.Background()

	// Interleave types so every small page contains at most one API asset;
	// pagination by LastID must still surface all of them.
	for i := 0; i < 6; i++ {
		typ := TypeWeb
		if i%3 == 0 {
			typ = TypeAPI
		}
		a := Asset{OrganizationID: "org-1", Name: fmt.Sprintf("asset-%02d", i), Type: typ}
		require.NoError(t, svc.Save(ctx, &a))
	}

	var apiNames []string
	cursor := ""
	pages := 0
	for {
		page, err := svc.GetAssetsForOrganization(ctx, "org-1", ListOptions{
			Type:       TypeAPI,
			Limit:      2,
			StartAfter: cursor,
		})
		require.NoError(t, err)
		assert.LessOrEqual(t, len(page.Assets), 2, "filtered page never exceeds the limit")
		for _, a := range page.Assets {
			apiNames = append(apiNames, a.Name)
		}
		pages++
		if !page.HasMore {
			break
		}
		cursor = page.LastID
	}
	assert.Equal(t, []string{"asset-00", "asset-03"}, apiNames)
	assert.Equal(t, 3, pages, "cursor walks the unfiltered pages")
}

func TestListOrganizationIDs(t *testing.T) {
	svc := NewService(docstore.NewMemoryStore())
	ctx := context.Background()

	for _, org := range []string{"org-1", "org-2", "org-1", "org-3"} {
		a := Asset{OrganizationID: org, Name: "asset-" + org}
		require.NoError(t, svc.Save(ctx, &a))
	}

	orgs, err := svc.ListOrganizationIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"org-1", "org-2", "org-3"}, orgs)
}
