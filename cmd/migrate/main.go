// Schema migration for the donation workflow tables
// cmd/migrate/main.go
package main

import (
	"flag"
	"log"

	"donation-workflow-api/config"
	"donation-workflow-api/models"

	"github.com/joho/godotenv"
)

func main() {
	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	dryRun := flag.Bool("dry-run", false, "print the tables that would be migrated")
	flag.Parse()

	cfg := config.Load()
	if cfg.Database.Driver == "memory" {
		log.Fatal("DB_DRIVER=memory has no schema to migrate")
	}

	if *dryRun {
		for _, m := range models.All() {
			if t, ok := m.(interface{ TableName() string }); ok {
				log.Printf("would migrate %s", t.TableName())
			}
		}
		return
	}

	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}

	if err := db.AutoMigrate(models.All()...); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Printf("Migrated %d tables on %s", len(models.All()), cfg.Database.Driver)
}
