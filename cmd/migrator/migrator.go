package main

import (
	"flag"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	config "github.com/NordCoder/Shipnotify/internal/config/notify-worker"
	"github.com/NordCoder/Shipnotify/migrations"
)

func main() {
	configPath := flag.String("config", "config/notify-worker.yaml", "path to YAML config, used when DB_DSN is unset")
	cmd := flag.String("cmd", "up", "goose command: up, down, status, reset")
	flag.Parse()

	dbURL := os.Getenv("DB_DSN")
	if dbURL == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		dbURL = cfg.DB.DSN
	}
	if dbURL == "" {
		log.Fatal("DB_DSN is empty")
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatalf("set dialect: %v", err)
	}
	db, err := goose.OpenDBWithDriver("pgx", dbURL)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := goose.Run(*cmd, db, "."); err != nil {
		log.Fatalf("migrate %s: %v", *cmd, err)
	}
	log.Printf("migrations: %s OK", *cmd)
}
