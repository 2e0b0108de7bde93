package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"genstudio/internal/adapter/repo"
	"genstudio/internal/domain"
	"genstudio/internal/infra"
	"genstudio/internal/pause"
)

func main() {
	var (
		idFlag        string
		creditsFlag   int
		roleFlag      string
		planFlag      string
		autoFlag      string
		thresholdFlag int
		packFlag      string
		pauseFlag     string
	)

	flag.StringVar(&idFlag, "id", "", "profile ID to update (UUID)")
	flag.IntVar(&creditsFlag, "credits", -1, "credit balance to set (negative keeps current value)")
	flag.StringVar(&roleFlag, "role", "", "role to assign (user, staff, admin)")
	flag.StringVar(&planFlag, "plan", "", "plan to assign (free, pro)")
	flag.StringVar(&autoFlag, "auto-recharge", "", "enable or disable auto-recharge (true/false)")
	flag.IntVar(&thresholdFlag, "threshold", -1, "auto-recharge threshold (negative keeps current value)")
	flag.StringVar(&packFlag, "pack", "", "auto-recharge pack id")
	flag.StringVar(&pauseFlag, "pause", "", "set the global generation pause (true/false); no profile is updated")
	flag.Parse()

	_ = godotenv.Load()
	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "credits").Logger()
	runner := infra.NewSQLRunner(pool, logger)

	if strings.TrimSpace(pauseFlag) != "" {
		paused, err := strconv.ParseBool(pauseFlag)
		if err != nil {
			exitWithError(fmt.Errorf("invalid -pause value %q", pauseFlag))
		}
		if err := repo.NewConfigRepository(runner).SetFlag(ctx, pause.FlagName, paused); err != nil {
			exitWithError(fmt.Errorf("failed to set %s: %w", pause.FlagName, err))
		}
		fmt.Printf("%s=%t\n", pause.FlagName, paused)
		return
	}

	userID := strings.TrimSpace(idFlag)
	if userID == "" {
		exitWithError(errors.New("-id must be provided"))
	}

	update, err := buildUpdate(creditsFlag, roleFlag, planFlag, autoFlag, thresholdFlag, packFlag)
	if err != nil {
		exitWithError(err)
	}

	p, err := repo.NewProfileRepository(runner).UpdateProfile(ctx, userID, update)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			exitWithError(fmt.Errorf("profile %s not found", userID))
		}
		exitWithError(fmt.Errorf("failed to update profile: %w", err))
	}

	fmt.Printf("Profile %s updated\n", p.ID)
	fmt.Printf("credits=%d role=%s plan=%s\n", p.Credits, p.Role, p.Plan)
	fmt.Printf("auto_recharge=%t threshold=%d pack=%s\n", p.AutoRecharge.Enabled, p.AutoRecharge.Threshold, p.AutoRecharge.PackID)
}

func buildUpdate(credits int, role, plan, auto string, threshold int, pack string) (repo.ProfileUpdate, error) {
	var u repo.ProfileUpdate
	if credits >= 0 {
		u.Credits = &credits
	}
	switch r := domain.UserRole(strings.ToLower(strings.TrimSpace(role))); r {
	case "":
	case domain.UserRoleUser, domain.UserRoleStaff, domain.UserRoleAdmin:
		u.Role = r
	default:
		return u, fmt.Errorf("unsupported role %q", role)
	}
	switch p := domain.UserPlan(strings.ToLower(strings.TrimSpace(plan))); p {
	case "":
	case domain.UserPlanFree, domain.UserPlanPro:
		u.Plan = p
	default:
		return u, fmt.Errorf("unsupported plan %q", plan)
	}
	if strings.TrimSpace(auto) != "" {
		enabled, err := strconv.ParseBool(auto)
		if err != nil {
			return u, fmt.Errorf("invalid -auto-recharge value %q", auto)
		}
		u.AutoRecharge = &enabled
	}
	if threshold >= 0 {
		u.Threshold = &threshold
	}
	u.PackID = strings.TrimSpace(pack)
	return u, nil
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
