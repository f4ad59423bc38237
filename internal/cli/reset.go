package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"skillsim/internal/config"
	"skillsim/internal/models"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the saved session",
	Long:  "Delete the saved session so the next run starts from scratch.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadStorageConfig()
		if err != nil {
			return err
		}
		if err := models.NewStore(cfg.SaveDir).Clear(); err != nil {
			return fmt.Errorf("clearing saved session: %w", err)
		}
		fmt.Println("Saved session cleared.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resetCmd)
}
