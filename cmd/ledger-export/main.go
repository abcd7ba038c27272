package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/brandbridge/brandbridge/app/repository"
	"github.com/brandbridge/brandbridge/internal/pkg/auditexport"
	"github.com/brandbridge/brandbridge/internal/pkg/config"
	"github.com/brandbridge/brandbridge/internal/pkg/database"
	"github.com/brandbridge/brandbridge/internal/pkg/env"
)

func main() {
	env.SetupEnvFile()

	yesterday := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	dateFlag := flag.String("date", yesterday, "UTC day to export (YYYY-MM-DD)")
	overwrite := flag.Bool("overwrite", false, "replace an existing export object")
	flag.Usage = func() {
		fmt.Println("Usage: go run cmd/ledger-export/main.go [-date YYYY-MM-DD] [-overwrite]")
		fmt.Println("Writes the day's token transactions as JSON lines to <AUDIT_S3_PREFIX>/YYYY/MM/DD.jsonl")
	}
	flag.Parse()

	day, err := time.Parse("2006-01-02", *dateFlag)
	if err != nil {
		log.Fatalf("[Audit] Invalid -date %q: %v", *dateFlag, err)
	}

	if err := run(day, *overwrite); err != nil {
		log.Errorf("[Audit] Export failed: %v", err)
		os.Exit(1)
	}
}

func run(day time.Time, overwrite bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	dbCfg := config.DatabaseFromEnv()
	auditCfg := config.AuditFromEnv()

	// Exports only read, so they use the restricted credential.
	readDB, err := database.Open(dbCfg, dbCfg.Restricted)
	if err != nil {
		return err
	}
	reader := repository.NewFactory(readDB, nil).Reader()

	store, err := auditexport.NewS3Client(ctx, auditCfg)
	if err != nil {
		return err
	}

	res, err := auditexport.NewExporter(reader.Ledger, store, auditCfg.Prefix).ExportDay(ctx, day, overwrite)
	if err != nil {
		return err
	}
	log.Infof("[Audit] Wrote %d entries (%d bytes) to %s", res.Count, res.Bytes, res.Key)
	return nil
}
