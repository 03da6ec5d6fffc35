// jobcheck is an operational helper for the jobs table: status counts,
// stale job cleanup and terminal row purging. Run it against the same
// DATABASE_URL as the server.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/sushil32/Neura/internal/database"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	ctx := context.Background()

	db, err := database.Connect(ctx, os.Getenv("DATABASE_URL"), log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()
	store := database.NewJobStore(db)

	if len(os.Args) > 1 && os.Args[1] == "fail-stale" {
		olderThan := 30 * time.Minute
		if len(os.Args) > 2 {
			d, err := time.ParseDuration(os.Args[2])
			if err != nil {
				fmt.Fprintf(os.Stderr, "bad duration %q: %v\n", os.Args[2], err)
				os.Exit(1)
			}
			olderThan = d
		}
		n, err := store.FailStale(ctx, olderThan)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fail-stale: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Failed %d stale processing job(s)\n", n)
		return
	}

	if len(os.Args) > 1 && os.Args[1] == "purge" {
		retention := 14 * 24 * time.Hour
		if len(os.Args) > 2 {
			d, err := time.ParseDuration(os.Args[2])
			if err != nil {
				fmt.Fprintf(os.Stderr, "bad duration %q: %v\n", os.Args[2], err)
				os.Exit(1)
			}
			retention = d
		}
		n, err := store.PurgeTerminalJobs(ctx, retention)
		if err != nil {
			fmt.Fprintf(os.Stderr, "purge: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Purged %d terminal job(s) older than %s\n", n, retention)
		return
	}

	// Default: status counts plus the oldest waiting job.
	fmt.Println("Status       Count")
	fmt.Println("──────────────────")
	for _, s := range []string{"pending", "processing", "completed", "failed", "cancelled"} {
		var count int64
		db.Pool.QueryRow(ctx, "SELECT count(*) FROM jobs WHERE status = $1", s).Scan(&count)
		fmt.Printf("%-12s %d\n", s, count)
	}

	var oldest *time.Time
	db.Pool.QueryRow(ctx, "SELECT min(created_at) FROM jobs WHERE status = 'pending'").Scan(&oldest)
	if oldest != nil {
		fmt.Printf("\nOldest pending job queued %s ago\n", time.Since(*oldest).Round(time.Second))
	}
}
