// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"axonflow/governance/authority"
	"axonflow/governance/guard"
	"axonflow/governance/misuse"
	"axonflow/governance/pipeline"
	"axonflow/governance/policy"
	"axonflow/governance/proof"
	"axonflow/governance/shared/logger"
)

// Run wires the governance pipeline from environment configuration and
// serves it until SIGINT or SIGTERM.
func Run() {
	port := getEnv("PORT", "8080")
	slog := logger.New("governance-gateway")

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	sealSecret := os.Getenv("PROOF_BUNDLE_SECRET")
	if sealSecret == "" {
		log.Fatal("PROOF_BUNDLE_SECRET is required")
	}
	sealer, err := proof.NewSealer(sealSecret)
	if err != nil {
		log.Fatalf("Failed to initialize proof sealer: %v", err)
	}

	dbURL := databaseURL()
	if dbURL == "" {
		log.Fatal("DATABASE_URL (or DATABASE_HOST/DATABASE_PASSWORD) is required")
	}
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	if err := pingWithRetry(db, 5); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Println("Connected to database")

	// Injection guard, optionally with an operator-supplied rule file.
	g := guard.New()
	if path := os.Getenv("GOVERNANCE_RULES_FILE"); path != "" {
		rs, err := guard.LoadRuleSet(path)
		if err != nil {
			log.Fatalf("Failed to load injection rules from %s: %v", path, err)
		}
		g = guard.New(guard.WithRuleSet(rs))
		log.Printf("Loaded injection rules from %s", path)
	}

	// Authority validator with optional registry overrides and Redis-backed
	// rate limiting.
	validatorOpts := []authority.ValidatorOption{}
	if path := os.Getenv("TOOL_REGISTRY_FILE"); path != "" {
		reg, err := authority.LoadRegistry(path)
		if err != nil {
			log.Fatalf("Failed to load tool registry from %s: %v", path, err)
		}
		validatorOpts = append(validatorOpts, authority.WithRegistry(reg))
		log.Printf("Loaded tool registry from %s", path)
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Printf("Warning: invalid REDIS_URL, using in-memory rate limiting: %v", err)
		} else {
			client := redis.NewClient(opts)
			if err := client.Ping(context.Background()).Err(); err != nil {
				log.Printf("Warning: Redis unreachable, using in-memory rate limiting: %v", err)
			} else {
				validatorOpts = append(validatorOpts, authority.WithLimiter(authority.NewRedisLimiter(client, slog)))
				defer client.Close()
				log.Println("Redis rate limiting enabled")
			}
		}
	}
	validator := authority.NewValidator(authority.NewPostgresDirectory(db, slog), slog, validatorOpts...)

	pricing, err := policy.LoadPricingFromEnv()
	if err != nil {
		log.Fatalf("Failed to load pricing configuration: %v", err)
	}
	engine := policy.NewEngine(
		policy.NewPostgresStore(db, slog),
		policy.NewPostgresHistory(db),
		slog,
		policy.WithPricing(pricing),
	)

	var sink proof.Sink = proof.NewPostgresSink(db)
	if bucket := os.Getenv("AUDIT_ARCHIVE_BUCKET"); bucket != "" {
		archiver, err := proof.NewS3Archiver(context.Background(), bucket,
			getEnv("AWS_REGION", "us-east-1"), os.Getenv("S3_ENDPOINT"), slog)
		if err != nil {
			log.Fatalf("Failed to initialize S3 archiver: %v", err)
		}
		sink = proof.NewArchivingSink(sink, archiver)
		log.Printf("Archiving audit records to s3://%s", bucket)
	}

	p, err := pipeline.New(pipeline.Config{
		Guard:     g,
		Validator: validator,
		Detector:  misuse.NewDetector(),
		Engine:    engine,
		Sealer:    sealer,
		Sink:      sink,
		Logger:    slog,
	})
	if err != nil {
		log.Fatalf("Failed to build governance pipeline: %v", err)
	}

	server := NewServer(p, []byte(jwtSecret), slog)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(":" + port)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	case sig := <-stop:
		log.Printf("Received %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}
}

// databaseURL builds a connection string from separate env vars, falling
// back to DATABASE_URL.
func databaseURL() string {
	host := os.Getenv("DATABASE_HOST")
	password := os.Getenv("DATABASE_PASSWORD")
	if host == "" || password == "" {
		return os.Getenv("DATABASE_URL")
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		url.QueryEscape(getEnv("DATABASE_USER", "governance_app")),
		url.QueryEscape(password),
		host,
		getEnv("DATABASE_PORT", "5432"),
		getEnv("DATABASE_NAME", "governance"),
		getEnv("DATABASE_SSLMODE", "require"))
}

// pingWithRetry waits out slow DNS during container startup.
func pingWithRetry(db *sql.DB, attempts int) error {
	var err error
	for i := 1; i <= attempts; i++ {
		if err = db.Ping(); err == nil {
			return nil
		}
		if i < attempts {
			time.Sleep(time.Duration(i) * time.Second)
		}
	}
	return err
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
