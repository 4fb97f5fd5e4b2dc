// Command devtoken mints a signed identity token for local testing. Tokens
// carry the role claim the API trusts, so never point it at a production
// secret.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"donation-workflow-api/config"
	"donation-workflow-api/middleware"
	"donation-workflow-api/workflow"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	cfg := config.Load()

	var (
		userID string
		email  string
		role   string
	)
	flag.StringVar(&userID, "user", "", "user id placed in the token (required)")
	flag.StringVar(&email, "email", "", "email claim (optional)")
	flag.StringVar(&role, "role", "donor", "donor, recipient, doctor or admin")
	ttl := flag.Duration("ttl", cfg.JWT.TTL, "token lifetime")
	flag.Parse()

	if cfg.IsProduction() {
		log.Fatal("refusing to mint tokens with ENVIRONMENT=production")
	}
	if cfg.JWT.Secret == "" {
		log.Fatal("JWT_SECRET must be set")
	}
	if userID == "" {
		flag.Usage()
		os.Exit(2)
	}
	parsed, err := workflow.ParseRole(role)
	if err != nil {
		log.Fatal(err)
	}

	token, err := middleware.GenerateToken(cfg.JWT.Secret, userID, email, parsed, *ttl)
	if err != nil {
		log.Fatalf("failed to sign token: %v", err)
	}
	fmt.Println(token)
}
