// Command routes prints the agency's route list, one "tag<TAB>title" per line.
package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/muni-locations/poller/internal/config"
	"github.com/muni-locations/poller/internal/nextbus"
)

func main() {
	config.LoadDotEnv()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	client := nextbus.NewClient(cfg.FeedBaseURL, cfg.FeedAgency, cfg.FeedTimeout)
	routes, err := client.FetchRouteList(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, r := range routes {
		fmt.Fprintf(w, "%s\t%s\n", r.Tag, r.Title)
	}
	w.Flush()
}
