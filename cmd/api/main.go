// Command api serves the audit pipeline over HTTP: submit runs, poll or
// stream their status, and inspect the active rubric.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"courtroom/internal/archive"
	"courtroom/internal/courtroom"
	"courtroom/internal/detective"
	"courtroom/internal/llm"
	"courtroom/internal/runstore"
)

func main() {
	port := flag.Int("port", 8080, "listen port")
	maxRuns := flag.Int("max-runs", 4, "max concurrent audit runs")
	flag.Parse()

	if err := godotenv.Load(); err == nil {
		log.Printf("api: loaded .env")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli := llm.BuildClient(ctx)
	defer cli.Close()

	pipeline, err := courtroom.New(detective.DefaultRegistry(), cli)
	if err != nil {
		log.Fatalf("api: build pipeline: %v", err)
	}

	store := runstore.NewFromEnv(ctx)
	defer store.Close()

	var archiver runstore.Archiver
	if s3, err := archive.New(archive.FromEnv()); err != nil {
		log.Printf("api: archive disabled: %v", err)
	} else if s3 != nil {
		archiver = s3
	}

	coord := runstore.NewCoordinator(pipeline, store, archiver, *maxRuns)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           h2c.NewHandler(newServer(coord).routes(), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("api: listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("api: %v", err)
	}
}
