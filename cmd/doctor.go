package cmd

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/colonyops/hive/internal/config"
	"github.com/colonyops/hive/internal/store/pg"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and database health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("hive doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("  Config:   load error: %s\n", err)
		return
	}
	fmt.Printf("  Addr:     %s\n", cfg.Addr)

	if cfg.SuperuserToken == "" {
		fmt.Println("  Superuser: not configured (invite-only registration unavailable until one admin exists)")
	} else {
		fmt.Printf("  Superuser: %s\n", cfg.SuperuserName)
	}

	fmt.Print("  Postgres: ")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := pg.OpenDB(cfg.DSN())
	if err != nil {
		fmt.Printf("FAIL (%s)\n", err)
		return
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		fmt.Printf("FAIL (%s)\n", err)
		return
	}
	fmt.Println("OK")

	var n int
	if err := db.QueryRowContext(ctx, "SELECT count(*) FROM users").Scan(&n); err != nil {
		fmt.Printf("  Schema:   missing (run `hive migrate up`): %s\n", err)
		return
	}
	fmt.Printf("  Schema:   OK (%d users)\n", n)
}
