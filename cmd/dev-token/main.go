package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/medprep/session-engine/internal/config"
	"github.com/medprep/session-engine/internal/service"
)

// dev-token mints a bearer token signed with JWT_SECRET for local testing.
func main() {
	var (
		userFlag       string
		universityFlag string
		ttl            time.Duration
	)
	flag.StringVar(&userFlag, "user", "", "User id (random when empty)")
	flag.StringVar(&universityFlag, "university", "", "University id scope (optional)")
	flag.DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	flag.Parse()

	cfg := config.Load()

	userID := uuid.New()
	if userFlag != "" {
		id, err := uuid.Parse(userFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid -user: %v\n", err)
			os.Exit(1)
		}
		userID = id
	}

	var universityID *uuid.UUID
	if universityFlag != "" {
		id, err := uuid.Parse(universityFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid -university: %v\n", err)
			os.Exit(1)
		}
		universityID = &id
	}

	token, err := service.NewAuthService(cfg.JWTSecret).IssueToken(userID, universityID, ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to issue token: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "user_id=%s expires_in=%s\n", userID, ttl)
	fmt.Println(token)
}
