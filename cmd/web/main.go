package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"surveydesk/internal/app"
	"surveydesk/internal/db"
)

func main() {
	configFile := flag.String("config", "", "optional config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("load .env: %v", err)
	}

	cfg, err := app.LoadConfig(*configFile)
	if err != nil {
		log.Printf("config error: %v", err)
		os.Exit(1)
	}

	ctx := context.Background()
	dbConn, err := db.Open(ctx, cfg.DBDriver, cfg.DBDSN, cfg.PoolConfig())
	if err != nil {
		log.Printf("database error: %v", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	if err := db.Migrate(ctx, dbConn, cfg.DBDriver); err != nil {
		log.Printf("migrate error: %v", err)
		os.Exit(1)
	}

	r := app.NewRouter(cfg, dbConn)

	log.Printf("surveydesk web listening on %s", cfg.HTTPAddr)
	if err := http.ListenAndServe(cfg.HTTPAddr, r); err != nil {
		log.Printf("server stopped: %v", err)
		os.Exit(1)
	}
}
