package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/config"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/permstore"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "check that the core library stack (config, permission store, providers) is reachable",
		RunE:  runDoctorCore,
	}
}

func runDoctorCore(cmd *cobra.Command, args []string) error {
	fmt.Printf("◇ %s doctor v%s\n\n", coreName, coreVersion)

	checks := []struct {
		name  string
		check func() (string, bool)
	}{
		{"config file", checkCoreConfig},
		{"default model configured", checkCoreModel},
		{"permission store (sqlite)", checkCorePermStore},
	}

	allOK := true
	for _, c := range checks {
		val, ok := c.check()
		icon := "\033[92m✓\033[0m"
		if !ok {
			icon = "\033[91m✗\033[0m"
			allOK = false
		}
		fmt.Printf("  %s %s: %s\n", icon, c.name, val)
	}

	fmt.Println()
	if allOK {
		fmt.Println("all checks passed ✓")
		return nil
	}
	fmt.Println("problems found, see above")
	return fmt.Errorf("doctor: one or more checks failed")
}

func checkCoreConfig() (string, bool) {
	cfg, err := config.Load()
	if err != nil {
		return err.Error(), false
	}
	_ = cfg
	return "loaded", true
}

func checkCoreModel() (string, bool) {
	cfg, err := config.Load()
	if err != nil {
		return "config unavailable", false
	}
	if cfg.Agent.DefaultModel == "" {
		return "agent.default_model is empty", false
	}
	return cfg.Agent.DefaultModel, true
}

func checkCorePermStore() (string, bool) {
	dbPath := filepath.Join(os.Getenv("HOME"), ".ngoclaw", "permissions.db")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return err.Error(), false
	}
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	if err != nil {
		return err.Error(), false
	}
	if _, err := permstore.New(db, nil); err != nil {
		return err.Error(), false
	}
	return dbPath, true
}
