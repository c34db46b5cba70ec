package cmd

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/c4a/ctiwatch/internal/assets"
	"github.com/c4a/ctiwatch/internal/directory"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed sample organizations, users, and assets into the store",
	Long: `Seed a demo tenant landscape: two organizations with users and asset
inventories. This is useful for local testing of correlation when the
store is empty.`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(cmd.OutOrStdout(), "seed")
	if err != nil {
		return err
	}
	defer a.Close()

	logger := log.New(cmd.OutOrStdout(), "[seed] ", log.LstdFlags)
	logger.Println("Seeding sample data...")

	users := []directory.User{
		{OrganizationID: "acme", Email: "secops@acme.example", Name: "Acme SecOps"},
		{OrganizationID: "globex", Email: "blueteam@globex.example", Name: "Globex Blue Team"},
	}
	for i := range users {
		if err := a.directory.Save(ctx, &users[i]); err != nil {
			logger.Printf("Failed to create sample user: %v", err)
		}
	}

	sampleAssets := []assets.Asset{
		{
			OrganizationID: "acme",
			Name:           "nginx-edge-proxy",
			Type:           assets.TypeNetwork,
			Criticality:    assets.CriticalityCritical,
			Tags:           []string{"nginx", "edge", "production"},
		},
		{
			OrganizationID: "acme",
			Name:           "billing-api",
			Type:           assets.TypeAPI,
			Criticality:    assets.CriticalityHigh,
			Tags:           []string{"nodejs", "express"},
			Metadata:       map[string]interface{}{"database": "postgresql"},
		},
		{
			OrganizationID: "acme",
			Name:           "corporate-blog",
			Type:           assets.TypeWeb,
			Criticality:    assets.CriticalityLow,
			Tags:           []string{"wordpress", "php"},
		},
		{
			OrganizationID: "globex",
			Name:           "order-service",
			Type:           assets.TypeApp,
			Criticality:    assets.CriticalityHigh,
			Tags:           []string{"java", "spring"},
			Metadata:       map[string]interface{}{"cache": "redis", "platform": "kubernetes"},
		},
		{
			OrganizationID: "globex",
			Name:           "legacy-fileserver",
			Type:           assets.TypeOther,
			Criticality:    assets.CriticalityMedium,
		},
	}
	created := 0
	for i := range sampleAssets {
		if err := a.assets.Save(ctx, &sampleAssets[i]); err != nil {
			logger.Printf("Failed to create sample asset: %v", err)
			continue
		}
		created++
	}

	logger.Printf("Seeded %d users and %d assets across 2 organizations", len(users), created)
	return nil
}
