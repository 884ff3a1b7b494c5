// Command devtoken prints a bearer token for local testing against the API.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/samirrijal/geotrack/internal/adapters/auth"
	"github.com/samirrijal/geotrack/internal/core/domain"
	"github.com/samirrijal/geotrack/internal/pkg/config"
)

func main() {
	userID := flag.Int64("user", 0, "user id (token subject)")
	role := flag.String("role", "driver", "driver or admin")
	ttl := flag.Duration("ttl", 12*time.Hour, "token lifetime")
	flag.Parse()

	cfg, err := config.Load("geotrack-devtoken")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.RequireAuth(); err != nil {
		log.Fatal(err)
	}
	if *userID <= 0 {
		log.Fatal("-user is required")
	}
	r, err := domain.ParseRole(*role)
	if err != nil {
		log.Fatal(err)
	}

	v, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		log.Fatal(err)
	}
	tok, err := v.Issue(*userID, r, *ttl)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(tok)
}
