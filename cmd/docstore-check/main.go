// Command docstore-check verifies that the document store is reachable and
// reports the collections of the ratings database with their document counts.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Clark-Hu/triage-ratings/internal/docstore"
)

func main() {
	var (
		uri        = flag.String("uri", os.Getenv("MONGODB_URI"), "connection string (defaults to MONGODB_URI)")
		database   = flag.String("db", envOr("MONGODB_DATABASE", "sistema_triage"), "database name")
		collection = flag.String("collection", envOr("MONGODB_COLLECTION", "calificaciones"), "ratings collection")
		timeout    = flag.Duration("timeout", envTimeout("MONGODB_TIMEOUT_MS", 5*time.Second), "connect and ping bound")
		verbose    = flag.Bool("v", false, "log adapter activity")
	)
	flag.Parse()

	if *uri == "" {
		log.Fatal("no connection string: pass -uri or set MONGODB_URI")
	}

	logger := zap.NewNop()
	if *verbose {
		dev, err := zap.NewDevelopment()
		if err != nil {
			log.Fatalf("init logger: %v", err)
		}
		logger = dev
	}
	defer func() { _ = logger.Sync() }()

	st, err := docstore.New(docstore.Options{
		URI:        *uri,
		Database:   *database,
		Collection: *collection,
		Timeout:    *timeout,
		Logger:     logger,
	})
	if err != nil {
		log.Fatalf("init document store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 4*(*timeout))
	defer cancel()

	start := time.Now()
	if err := st.Ping(ctx); err != nil {
		log.Fatalf("ping failed: %v", err)
	}
	fmt.Printf("connected to %s in %s\n", *database, time.Since(start).Round(time.Millisecond))

	infos, err := st.Inspect(ctx)
	if err != nil {
		log.Fatalf("inspect failed: %v", err)
	}
	found := false
	for _, info := range infos {
		marker := " "
		if info.Name == *collection {
			marker = "*"
			found = true
		}
		fmt.Printf("%s %-30s %d\n", marker, info.Name, info.Documents)
	}
	if !found {
		fmt.Printf("collection %q does not exist yet; it is created on first insert\n", *collection)
	}
}

func envOr(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func envTimeout(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if ms, err := strconv.Atoi(val); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return fallback
}
