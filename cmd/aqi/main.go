package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zzkt/aqi/internal/client"
	"github.com/zzkt/aqi/internal/models"
	"github.com/zzkt/aqi/internal/observability"
	"github.com/zzkt/aqi/internal/report"
	"github.com/zzkt/aqi/internal/service"
	"github.com/zzkt/aqi/internal/store"
)

func main() {
	var (
		kind      = flag.String("type", report.KindBrief, "report kind: brief or full")
		cached    = flag.Bool("cache", false, "reuse entries fetched earlier in this run and mark renders as cached")
		search    = flag.String("search", "", "list stations matching a keyword instead of reporting")
		aqiOnly   = flag.Bool("aqi", false, "print only the air quality index")
		lonlat    = flag.Bool("lonlat", false, "print only the station coordinates")
		timeout   = flag.Duration("timeout", 30*time.Second, "overall run timeout")
		apiURL    = flag.String("api-url", "https://api.waqi.info", "feed API base URL")
		feedLimit = flag.Duration("feed-timeout", 10*time.Second, "per-request upstream timeout")
	)
	flag.Usage = func() {
		out := flag.CommandLine.Output()
		fmt.Fprint(out, "usage: aqi [flags] [place ...]\n\n")
		fmt.Fprint(out, "Reports air quality for each place: a city name, a station id (@1437),\n")
		fmt.Fprint(out, "a \"lat,lon\" pair, or \"here\" for the location inferred from your IP.\n")
		fmt.Fprint(out, "No places means \"here\". The WAQI token comes from AQI_TOKEN (default: demo).\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *kind != report.KindBrief && *kind != report.KindFull {
		fmt.Fprintf(os.Stderr, "aqi: unknown -type %q (want brief or full)\n", *kind)
		os.Exit(2)
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "warn" // keep pipeline chatter off the terminal
	}
	logger, err := observability.NewLoggerWithLevel(logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aqi: logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	token := strings.TrimSpace(os.Getenv("AQI_TOKEN"))
	if token == "" {
		token = client.DemoToken
	}
	feedClient, err := client.NewWAQIClient(token, *apiURL, *feedLimit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aqi: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *search != "" {
		if err := runSearch(ctx, feedClient, *search); err != nil {
			fmt.Fprintf(os.Stderr, "aqi: %v\n", err)
			os.Exit(1)
		}
		return
	}

	pipeline := service.NewPipeline(feedClient, store.NewInMemoryStore(), service.Policy{UseCache: *cached}, logger)

	var render func(ctx context.Context, place string) (string, error)
	switch {
	case *aqiOnly:
		accessor := service.CityAQI(pipeline)
		render = func(ctx context.Context, place string) (string, error) {
			v, err := accessor(ctx, place)
			if err != nil {
				return "", err
			}
			return strconv.Itoa(v), nil
		}
	case *lonlat:
		render = service.CityLonLat(pipeline)
	default:
		formatter := report.NewFormatter(pipeline, logger)
		render = func(ctx context.Context, place string) (string, error) {
			return formatter.Report(ctx, place, *kind)
		}
	}

	places := flag.Args()
	if len(places) == 0 {
		places = []string{models.PlaceHere}
	}

	// Fetch concurrently, print in argument order.
	outputs := make([]string, len(places))
	g, gctx := errgroup.WithContext(ctx)
	for i, place := range places {
		i, place := i, place
		g.Go(func() error {
			text, err := render(gctx, place)
			if err != nil {
				return fmt.Errorf("%s: %w", place, err)
			}
			outputs[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "aqi: %v\n", err)
		os.Exit(1)
	}
	for _, out := range outputs {
		fmt.Println(out)
	}
}

func runSearch(ctx context.Context, c client.FeedClient, keyword string) error {
	stations, err := c.Search(ctx, keyword)
	if err != nil {
		return err
	}
	if len(stations) == 0 {
		return fmt.Errorf("no stations match %q", keyword)
	}
	for _, s := range stations {
		fmt.Printf("%s\t%s\t%s\n", s.PlaceKey(), s.AQI, s.Name)
	}
	return nil
}
