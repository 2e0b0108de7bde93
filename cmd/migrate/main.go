package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"genstudio/internal/infra"
	"genstudio/internal/migrations"
)

func main() {
	var list bool
	flag.BoolVar(&list, "list", false, "print the embedded migrations and exit")
	flag.Parse()

	if list {
		names, err := migrations.Files()
		if err != nil {
			exitWithError(err)
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return
	}

	_ = godotenv.Load()
	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(fmt.Errorf("DATABASE_URL is required"))
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("open database: %w", err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	logger := infra.NewLogger("cli").With().Str("cmd", "migrate").Logger()
	if err := migrations.Apply(ctx, db); err != nil {
		exitWithError(err)
	}
	logger.Info().Msg("migrations applied")
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
