// Command seed applies the schema migrations and creates or resets one
// account. Run it once after deploying to get an admin login:
//
//	go run ./cmd/seed -username admin -role admin
//
// When -password is omitted a random password is generated and printed.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/amyflash/audio-drama-system/models"
	"github.com/amyflash/audio-drama-system/utils"
)

func main() {
	username := flag.String("username", "admin", "account username")
	password := flag.String("password", "", "account password (generated when empty)")
	role := flag.String("role", models.RoleAdmin, "account role: user or admin")
	flag.Parse()

	// Load environment variables
	if os.Getenv("APP_ENV") != "production" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found, continuing..")
		}
	}

	cfg, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, logCloser, err := utils.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logCloser.Close()

	if err := utils.ValidateUsername(*username); err != nil {
		log.Fatalf("invalid username: %v", err)
	}
	if err := utils.ValidateRole(*role); err != nil {
		log.Fatalf("invalid role: %v", err)
	}

	generated := false
	if *password == "" {
		*password, err = utils.GeneratePassword()
		if err != nil {
			log.Fatal(err)
		}
		generated = true
	} else if err := utils.ValidatePassword(*password); err != nil {
		log.Fatalf("invalid password: %v", err)
	}

	hash, err := utils.HashPassword(*password)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	dbPool, err := utils.OpenDB(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbPool.Close()

	if err := utils.Migrate(ctx, dbPool); err != nil {
		log.Fatalf("Failed to migrate: %v", err)
	}

	user, err := utils.NewUserStore(dbPool).UpsertUser(ctx, *username, hash, *role)
	if err != nil {
		log.Fatalf("Failed to save user: %v", err)
	}
	logger.Info("account saved", "user_id", user.ID, "username", user.Username, "role", user.Role)

	if generated {
		fmt.Printf("Generated password for %s: %s\n", user.Username, *password)
	}
}
