package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"time"

	"authcore.dev/internal/auth"
	"authcore.dev/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	var (
		dsn     = flag.String("dsn", os.Getenv("AUTHCORE_PG_DSN"), "PostgreSQL DSN")
		name    = flag.String("name", "", "Key name")
		keyType = flag.String("type", string(auth.APIKeyTypeDefault), "Key type: default, system or public")
		start   = flag.String("start", "", "Optional start date (RFC3339)")
		end     = flag.String("end", "", "Optional end date (RFC3339)")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or AUTHCORE_PG_DSN")
	}
	startDate, err := parseDate(*start)
	if err != nil {
		log.Fatalf("start: %v", err)
	}
	endDate, err := parseDate(*end)
	if err != nil {
		log.Fatalf("end: %v", err)
	}

	store, err := pg.Open(*dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	// API key creation never signs tokens; the issuer only satisfies the service.
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		log.Fatalf("random: %v", err)
	}
	tokens, err := auth.NewTokenIssuer(auth.TokenConfig{Algorithm: auth.AlgorithmHS256, HMACSecret: secret})
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}
	svc, err := auth.NewService(store, tokens, auth.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		log.Fatalf("service: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	issued, err := svc.CreateAPIKey(ctx, auth.CreateAPIKeyRequest{
		Name:      *name,
		Type:      auth.APIKeyType(*keyType),
		StartDate: startDate,
		EndDate:   endDate,
	})
	if err != nil {
		log.Fatalf("create api key: %v", err)
	}
	fmt.Printf("id:     %s\n", issued.Record.ID)
	fmt.Printf("header: %s\n", issued.Header())
	fmt.Println("the secret is shown once; store it now")
}

func parseDate(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
