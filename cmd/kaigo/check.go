package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/MrWong99/kaigo/internal/config"
)

func newCheckCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Load and validate a configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), cfg)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	return cmd
}

// ── Summary ───────────────────────────────────────────────────────────────────

func printSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║        kaigo: configuration OK        ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(w, "LLM", provider(cfg.Providers.LLM))
	for i, fb := range cfg.Providers.Fallbacks {
		printRow(w, fmt.Sprintf("Fallback %d", i+1), provider(fb))
	}
	printRow(w, "Default plan", cfg.DefaultPlan)
	printRow(w, "Plans", fmt.Sprint(len(cfg.Plans)))
	printRow(w, "Scenes", fmt.Sprint(len(cfg.Scenes)))
	printRow(w, "Personas", fmt.Sprint(len(cfg.Personas)))
	printRow(w, "Guardrails", fmt.Sprint(len(cfg.Guardrails)))
	printRow(w, "Corrections", fmt.Sprint(len(cfg.NormalizeCorrections())))
	printRow(w, "Language", cfg.Translation.Language)
	printRow(w, "Listen addr", cfg.Server.ListenAddr)
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func provider(e config.ProviderEntry) string {
	if e.Model == "" {
		return e.Name
	}
	return e.Name + " / " + e.Model
}

func printRow(w io.Writer, key, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Fprintf(w, "║  %-14s  : %-19s ║\n", key, value)
}
