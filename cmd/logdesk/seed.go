package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/alecgard/logdesk/internal/auth"
	"github.com/alecgard/logdesk/internal/config"
	"github.com/alecgard/logdesk/internal/usagelog"
)

var seedCount int

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed demo users and usage logs",
	RunE:  runSeed,
}

func init() {
	seedCmd.Flags().IntVar(&seedCount, "logs", 45, "number of demo log records to create")
	rootCmd.AddCommand(seedCmd)
}

var demoModels = []string{"gpt-4o", "gpt-4o-mini", "claude-3-haiku", "gemini-1.5-flash"}

var demoTokens = []string{"default", "ci-runner", "notebook"}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("creating database pool: %w", err)
	}
	defer pool.Close()

	users := auth.NewStore(pool)

	// Check if seed has already run.
	if _, err := users.GetByUsername(ctx, "admin"); err == nil {
		slog.Info("demo data already exists, skipping seed")
		return nil
	} else if !errors.Is(err, auth.ErrUserNotFound) {
		return fmt.Errorf("checking existing users: %w", err)
	}

	admin, adminKey, err := createUser(ctx, users, "admin", auth.RoleAdmin)
	if err != nil {
		return err
	}
	member, memberKey, err := createUser(ctx, users, "alice", auth.RoleMember)
	if err != nil {
		return err
	}

	recs := demoLogs(admin, member, seedCount, time.Now())
	if err := usagelog.NewStore(pool).BatchInsert(ctx, recs); err != nil {
		return fmt.Errorf("inserting demo logs: %w", err)
	}
	slog.Info("created demo logs", "count", len(recs))

	fmt.Printf("\n=== Demo Data Seeded ===\n")
	fmt.Printf("Logs:        %d records\n", len(recs))
	fmt.Printf("Admin key:   %s\n", adminKey)
	fmt.Printf("Member key:  %s\n", memberKey)
	fmt.Printf("\nTry it:\n")
	fmt.Printf("  LOGDESK_TOKEN=%s LOGDESK_ROLE=admin logdesk logs list\n", adminKey)
	fmt.Printf("  LOGDESK_TOKEN=%s logdesk logs stat\n", memberKey)

	return nil
}

func createUser(ctx context.Context, store *auth.Store, username, role string) (*auth.User, string, error) {
	key, plaintext, err := auth.GenerateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("generating api key: %w", err)
	}
	u, err := store.Create(ctx, username, role, key)
	if err != nil {
		return nil, "", fmt.Errorf("creating user %q: %w", username, err)
	}
	slog.Info("created user", "id", u.ID, "username", u.Username, "role", u.Role)
	return u, plaintext, nil
}

// demoLogs builds n records spread over the last week: mostly consumption by
// the member, plus a top-up and an admin management entry.
func demoLogs(admin, member *auth.User, n int, now time.Time) []usagelog.Record {
	recs := make([]usagelog.Record, 0, n+2)
	recs = append(recs,
		usagelog.Record{
			UserID:    member.ID,
			Username:  member.Username,
			CreatedAt: now.Add(-7 * 24 * time.Hour).Unix(),
			Type:      usagelog.TypeTopup,
			Content:   "top-up $20.000000",
			Quota:     20 * 500000,
		},
		usagelog.Record{
			UserID:    admin.ID,
			Username:  admin.Username,
			CreatedAt: now.Add(-6 * 24 * time.Hour).Unix(),
			Type:      usagelog.TypeManage,
			Content:   "granted model access to " + member.Username,
		},
	)

	span := 7 * 24 * time.Hour
	for i := 0; i < n; i++ {
		prompt := int64(50 + rand.IntN(2000))
		completion := int64(20 + rand.IntN(800))
		model := demoModels[rand.IntN(len(demoModels))]
		recs = append(recs, usagelog.Record{
			UserID:           member.ID,
			Username:         member.Username,
			CreatedAt:        now.Add(-time.Duration(rand.Int64N(int64(span)))).Unix(),
			Type:             usagelog.TypeConsume,
			Content:          "model " + model,
			TokenName:        demoTokens[rand.IntN(len(demoTokens))],
			ModelName:        model,
			Quota:            prompt*3 + completion*6,
			PromptTokens:     prompt,
			CompletionTokens: completion,
			Channel:          int64(1 + rand.IntN(3)),
			Duration:         int64(1 + rand.IntN(20)),
		})
	}
	return recs
}
