package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/samirrijal/geotrack/internal/pkg/config"
	"github.com/samirrijal/geotrack/migrations"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: migrate <up|down|seed>")
	}

	cfg, err := config.Load("geotrack-migrate")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	printOK := func(name string) { fmt.Printf("OK  %s\n", name) }

	switch os.Args[1] {
	case "up":
		if err := migrations.Apply(ctx, pool, migrations.Schema, printOK); err != nil {
			log.Fatal(err)
		}
		log.Println("all migrations applied")
	case "seed":
		if err := migrations.Apply(ctx, pool, migrations.Seed, printOK); err != nil {
			log.Fatal(err)
		}
		log.Println("development data loaded")
	case "down":
		if err := migrations.Drop(ctx, pool); err != nil {
			log.Fatalf("drop: %v", err)
		}
		log.Println("schema dropped")
	default:
		log.Fatalf("unknown command: %s", os.Args[1])
	}
}
