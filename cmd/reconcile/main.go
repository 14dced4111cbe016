// ==============================================================================
// ORPHANED IDENTITY REPORT - cmd/reconcile/main.go
// ==============================================================================
// Lists identities that were created but never received a profile, i.e.
// registrations whose submission stopped after identity creation and was
// never resubmitted. Report only: nothing is deleted, since the user may
// still come back and finish.
// ==============================================================================
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"skyportal/internal/identity"
	"skyportal/pkg/config"
	"skyportal/pkg/logger"
)

func main() {
	olderThan := flag.Duration("older-than", 24*time.Hour, "only report identities created before now minus this duration")
	limit := flag.Int("limit", 500, "maximum number of identities to list")
	flag.Parse()

	cfg := config.Load()
	log := logger.New("reconcile")

	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL environment variable is required", nil)
	}
	if cfg.Identity.Backend != "postgres" {
		log.Fatal("Reconciliation needs the postgres identity directory; reconcile provider-held identities on the provider side", map[string]interface{}{
			"backend": cfg.Identity.Backend,
		})
	}

	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	orphans, err := identity.NewDirectory(db, nil).FindUnprofiled(ctx, *olderThan, *limit)
	if err != nil {
		log.Fatal("Failed to list identities without profile", map[string]interface{}{"error": err.Error()})
	}

	fmt.Println("=========================================================")
	fmt.Println("REGISTRATION RECONCILIATION REPORT")
	fmt.Printf("Time: %s\n", time.Now().Format(time.RFC3339))
	fmt.Printf("Identities without profile older than %s\n", *olderThan)
	fmt.Println("=========================================================")

	if len(orphans) == 0 {
		fmt.Println("    [PASS] Every identity has a profile.")
		return
	}

	for _, o := range orphans {
		fmt.Printf("    - %s  %-10s  %s  created %s\n", o.ID, o.UserType, o.Email, o.CreatedAt.Format(time.RFC3339))
	}
	fmt.Printf("    [WARN] %d identities have no profile; the users can finish by resubmitting.\n", len(orphans))

	log.Warn("Identities without profile found", map[string]interface{}{"count": len(orphans)})
	cancel()
	db.Close()
	os.Exit(2)
}
