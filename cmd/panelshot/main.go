package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"dpoc-dashboard/internal/capture"
	"dpoc-dashboard/internal/config"
)

func main() {
	_ = godotenv.Load()

	base := flag.String("url", "http://localhost:8087", "dashboard base URL")
	tab := flag.String("tab", "dpoc", "tab to capture (dpoc, globex, profile, thinking)")
	out := flag.String("out", "./data/panel.png", "output PNG path")
	headful := flag.Bool("headful", false, "show the browser window")
	wait := flag.Duration("wait", time.Minute, "overall timeout")
	verbose := flag.Bool("v", false, "log chromedp output")
	flag.Parse()

	logger := config.NewLogger(os.Getenv("LOG_LEVEL"))

	ctx, cancel := context.WithTimeout(context.Background(), *wait+5*time.Second)
	defer cancel()

	png, err := capture.Panel(ctx, capture.Options{
		BaseURL:    *base,
		Tab:        *tab,
		Passphrase: os.Getenv("DASHBOARD_PASSPHRASE"),
		Headless:   !*headful,
		Wait:       *wait,
		Logger:     logger,
		Quiet:      !*verbose,
	})
	if err != nil {
		log.Fatalf("capture %s: %v", *tab, err)
	}
	if err := os.MkdirAll(filepath.Dir(*out), 0o755); err != nil {
		log.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(*out, png, 0o644); err != nil {
		log.Fatalf("write %s: %v", *out, err)
	}
	fmt.Printf("Wrote %s panel (%d bytes) to %s\n", *tab, len(png), *out)
}
