// Command kw is a dev CLI for kolwatch maintenance and debugging tasks.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/k0kubun/pp/v3"
	"github.com/pkg/browser"
	"github.com/pkg/errors"

	"github.com/ibeckermayer/kolwatch/internal/app"
	browseropts "github.com/ibeckermayer/kolwatch/internal/browser"
	"github.com/ibeckermayer/kolwatch/internal/config"
	"github.com/ibeckermayer/kolwatch/internal/digest"
	"github.com/ibeckermayer/kolwatch/internal/errs"
	"github.com/ibeckermayer/kolwatch/internal/logging"
	"github.com/ibeckermayer/kolwatch/internal/normalize"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch os.Args[1] {
	case "login":
		err = runLogin(ctx)
	case "logout":
		err = runLogout()
	case "run":
		err = runOnce(ctx)
	case "fetch":
		if len(os.Args) < 3 {
			fmt.Println("Usage: kw fetch <handle> [limit]")
			os.Exit(1)
		}
		err = runFetch(ctx, os.Args[2], os.Args[3:])
	case "assets":
		err = runAssets(ctx)
	case "digest":
		err = runDigest(ctx)
	case "bot-test":
		runBotTest()
	case "open":
		if len(os.Args) < 3 {
			fmt.Println("Usage: kw open <config|cache>")
			os.Exit(1)
		}
		err = runOpen(os.Args[2])
	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		if errors.Is(err, errs.ErrAuth) {
			log.Fatalf("Authentication failed, try `kw login`: %v", err)
		}
		log.Fatalf("%s failed: %v", os.Args[1], err)
	}
}

func printUsage() {
	fmt.Println("Usage: kw <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  login                 Log in to X and save session cookies")
	fmt.Println("  logout                Clear saved session cookies")
	fmt.Println("  run                   Run the pipeline once for every tracked handle")
	fmt.Println("  fetch <handle> [n]    Print up to n normalized posts without storing them")
	fmt.Println("  assets                List cataloged assets")
	fmt.Println("  digest                Render a digest of the newest assets and open it")
	fmt.Println("  bot-test              Open bot.sannysoft.com to audit browser fingerprint")
	fmt.Println("  open config           Open config file in default editor")
	fmt.Println("  open cache            Open cache directory in file explorer")
}

// setup loads config and builds the app. The caller closes it.
func setup() (*app.App, error) {
	cfg, created, err := app.LoadConfig()
	if err != nil {
		return nil, err
	}
	if created {
		path, _ := config.ConfigPath()
		log.Printf("Created default config at: %s", path)
	}

	logger, err := logging.New(logging.Output(cfg.Logging, os.Stderr), cfg.Logging)
	if err != nil {
		return nil, err
	}
	return app.New(cfg, logger)
}

func runLogin(ctx context.Context) error {
	cfg, _, err := app.LoadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Output(cfg.Logging, os.Stderr), cfg.Logging)
	if err != nil {
		return err
	}

	// Login only needs the source settings, so skip full validation.
	mgr, _, err := app.NewAuth(cfg, nil, logger)
	if err != nil {
		return err
	}
	sess, err := mgr.Login(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Logged in, %d cookies saved\n", len(sess.XCookies()))
	return nil
}

func runLogout() error {
	cfg, _, err := app.LoadConfig()
	if err != nil {
		return err
	}
	mgr, _, err := app.NewAuth(cfg, nil, logging.Discard())
	if err != nil {
		return err
	}
	if err := mgr.Logout(); err != nil {
		return err
	}
	fmt.Println("Session cookies cleared")
	return nil
}

func runOnce(ctx context.Context) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.RunOnce(ctx)
	if err != nil {
		return err
	}
	pp.Println(stats)
	return nil
}

func runFetch(ctx context.Context, handle string, rest []string) error {
	limit := 10
	if len(rest) > 0 {
		n, err := strconv.Atoi(rest[0])
		if err != nil || n <= 0 {
			return errors.Errorf("invalid limit: %s", rest[0])
		}
		limit = n
	}

	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	sess, err := a.Auth().Acquire(ctx)
	if err != nil {
		return err
	}
	stream, err := a.Fetcher().FetchHandle(ctx, sess, handle, limit)
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		raw, err := stream.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		np, err := normalize.Normalize(raw, time.Now())
		if err != nil {
			log.Printf("Skipping post %q: %v", raw.ID, err)
			continue
		}
		pp.Println(np)
	}
}

func runAssets(ctx context.Context) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	assets, err := a.Store().ListAssets(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSYMBOL\tCHAIN\tCONTRACT\tPOSTS\tFIRST SEEN")
	for _, s := range assets {
		fmt.Fprintf(w, "%d\t$%s\t%s\t%s\t%d\t%s\n",
			s.ID, s.Symbol, orDash(s.Chain), orDash(s.ContractAddress), s.PostCount,
			s.CreatedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

// runDigest renders the newest assets the way the report email would and
// opens the HTML in a browser.
func runDigest(ctx context.Context) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	assets, err := a.Store().ListAssets(ctx)
	if err != nil {
		return err
	}
	entries := make([]digest.AssetEntry, 0, len(assets))
	for _, s := range assets {
		e := digest.AssetEntry{Asset: s.Asset}
		if ids, err := a.Store().AssetPostIDs(ctx, s.ID); err == nil && len(ids) > 0 {
			e.PostID = ids[0]
			if p, err := a.Store().GetPost(ctx, ids[0]); err == nil {
				if p.Username != nil {
					e.Handle = *p.Username
				}
				if p.PermanentURL != nil {
					e.PostURL = *p.PermanentURL
				}
			}
		}
		entries = append(entries, e)
	}
	if len(entries) == 0 {
		fmt.Println("No assets cataloged yet")
		return nil
	}

	b, err := digest.New(a.Config().Report.MaxAssets)
	if err != nil {
		return err
	}
	d, err := b.Build(entries, digest.RunSummary{})
	if err != nil {
		return err
	}

	dir, err := config.CacheDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	path := filepath.Join(dir, "digest.html")
	if err := os.WriteFile(path, []byte(d.HTMLBody), 0644); err != nil {
		return err
	}
	fmt.Printf("%s\nDigest written to: %s\n", d.Subject, path)
	return browser.OpenFile(path)
}

func runBotTest() {
	log.Println("Opening bot.sannysoft.com with stealth browser options...")

	// non-headless so you can see it
	ctx, cancel := browseropts.NewContext(context.Background(), false)
	defer cancel()

	err := chromedp.Run(ctx,
		chromedp.Navigate("https://bot.sannysoft.com"),
		chromedp.WaitVisible("body", chromedp.ByQuery),
	)
	if err != nil {
		log.Fatalf("Failed to navigate: %v", err)
	}

	fmt.Println("Press Enter to close the browser...")
	fmt.Scanln()

	log.Println("Done.")
}

func runOpen(target string) error {
	var path string
	var err error

	switch target {
	case "config":
		path, err = config.ConfigPath()
	case "cache":
		path, err = config.CacheDir()
	default:
		return errors.Errorf("unknown target: %s", target)
	}
	if err != nil {
		return errors.Wrap(err, "failed to get path")
	}

	return browser.OpenFile(path)
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}
