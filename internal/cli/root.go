// Package cli defines the Cobra commands for skillsim. The root command
// launches the interactive simulator; subcommands manage the saved
// session from the shell.
package cli

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"skillsim/internal/config"
	"skillsim/internal/engine"
	"skillsim/internal/models"
	"skillsim/internal/session"
	"skillsim/internal/tui"
)

var version = "dev" // set via ldflags at build time

var rootCmd = &cobra.Command{
	Use:   "skillsim",
	Short: "An AI-driven training simulator for any scenario",
	Long: `Skillsim turns a scenario ("Launch a bakery", "Run an incident
bridge") and a duration into a guided simulation: a sequence of tasks,
tracked skills, an inventory of the artifacts you produce, a mentor to
chat with, and a performance review at the end.

Sessions are saved automatically and resume when you come back.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}

		eng, err := engine.NewEngine(ctx, cfg.GeminiAPIKey, cfg.Model)
		if err != nil {
			return fmt.Errorf("creating engine: %w", err)
		}
		defer eng.Close()

		store := models.NewStore(cfg.SaveDir)
		machine := session.NewMachine(store)

		// A broken snapshot means starting over, never crashing.
		saved, err := store.Load()
		if err != nil {
			log.Printf("ignoring saved session: %v", err)
		}
		machine.Restore(saved)

		return tui.Run(eng, machine)
	},
}

// Execute runs the root command. Called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
