// marcusctl inspects the persistence store: the read-only surface history
// consumers and operators use without going through the server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/marcusd/internal/persistence"
	"github.com/marcusd/internal/types"
)

func main() {
	configPath := flag.String("config", "configs/marcus.yaml", "Configuration file")
	collection := flag.String("collection", "", "Collection to read (tasks, decisions, artifacts, events, leases, project_snapshots)")
	project := flag.String("project", "", "Filter by project ID")
	limit := flag.Int("limit", 50, "Maximum records")
	offset := flag.Int("offset", 0, "Records to skip")
	clearOlder := flag.Duration("clear-older-than", 0, "Delete records older than this duration instead of reading")
	flag.Parse()

	if *collection == "" {
		fmt.Fprintln(os.Stderr, "Usage: marcusctl -collection <name> [-project id] [-limit n] [-offset n]")
		os.Exit(2)
	}

	cfg, err := types.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(2)
	}

	store, err := persistence.Open(cfg.Persistence, cfg.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open store: %v\n", err)
		os.Exit(3)
	}
	defer store.Close()

	ctx := context.Background()

	if *clearOlder > 0 {
		removed, err := store.ClearOld(ctx, *collection, time.Now().UTC().Add(-*clearOlder))
		if err != nil {
			fmt.Fprintf(os.Stderr, "clear failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Removed %d record(s) from %s\n", removed, *collection)
		return
	}

	var filter persistence.FilterFunc
	if *project != "" {
		prefix := *project + "/"
		filter = func(r persistence.Record) bool {
			return strings.HasPrefix(r.Key, prefix) || r.Key == *project
		}
	}

	records, err := store.Query(ctx, *collection, filter, *limit, *offset)
	if err != nil {
		fmt.Fprintf(os.Stderr, "query failed: %v\n", err)
		os.Exit(1)
	}

	for _, rec := range records {
		var value interface{}
		if err := json.Unmarshal(rec.Data, &value); err != nil {
			value = string(rec.Data)
		}
		line, _ := json.Marshal(map[string]interface{}{
			"key":        rec.Key,
			"_stored_at": rec.StoredAt,
			"value":      value,
		})
		fmt.Println(string(line))
	}
	fmt.Fprintf(os.Stderr, "%d record(s)\n", len(records))
}
