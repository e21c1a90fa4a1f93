// Command docstruct parses and merges documents from the command line.
//
// Usage:
//
//	docstruct parse [-json] FILE...
//	docstruct merge [-order preserve|alphabetical|natural] [-dedup] [-threshold 0.9] [-no-separators] [-position] [-json] FILE...
//	docstruct ingest [-json] FILE...
//	docstruct search [-limit 20] QUERY
//	docstruct stats
//	docstruct formats
//
// Every subcommand accepts -config to load a YAML config file; DOCSTRUCT_*
// environment variables override it.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/brunobiangulo/docstruct"
	"github.com/brunobiangulo/docstruct/merger"
	"github.com/brunobiangulo/docstruct/parser"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

const usage = `usage: docstruct <command> [flags] [args]

commands:
  parse     parse files and print their elements
  merge     parse files and print the merged document
  ingest    parse, store and merge files
  search    full-text search over stored elements
  stats     print store statistics
  formats   list supported extensions
`

// run executes one subcommand and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	cmd, args := args[0], args[1:]

	var err error
	switch cmd {
	case "parse":
		err = runParse(ctx, args, stdout, stderr)
	case "merge":
		err = runMerge(ctx, args, stdout, stderr)
	case "ingest":
		err = runIngest(ctx, args, stdout, stderr)
	case "search":
		err = runSearch(ctx, args, stdout, stderr)
	case "stats":
		err = runStats(ctx, args, stdout, stderr)
	case "formats":
		err = runFormats(args, stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}
	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		return 2
	default:
		fmt.Fprintf(stderr, "docstruct %s: %v\n", cmd, err)
		return 1
	}
}

var errUsage = errors.New("usage")

// commonFlags registers -config and -v on fs.
type commonFlags struct {
	config  string
	verbose bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.config, "config", "", "Path to config file (YAML or JSON)")
	fs.BoolVar(&c.verbose, "v", false, "Log at debug level")
}

// engine loads the config and opens an engine. withStore=false skips the
// database entirely.
func (c *commonFlags) engine(stderr io.Writer, withStore bool) (docstruct.Engine, docstruct.Config, error) {
	if c.verbose {
		slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}
	cfg := docstruct.DefaultConfig()
	if c.config != "" {
		var err error
		if cfg, err = docstruct.LoadConfig(c.config); err != nil {
			return nil, cfg, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, cfg, err
	}
	if !withStore {
		cfg.DisableStore = true
	} else if cfg.DisableStore {
		return nil, cfg, docstruct.ErrStoreDisabled
	}
	e, err := docstruct.New(cfg)
	return e, cfg, err
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string, minArgs int) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return errUsage
	}
	if fs.NArg() < minArgs {
		fmt.Fprintf(fs.Output(), "%s: expected at least %d argument(s)\n", fs.Name(), minArgs)
		fs.Usage()
		return errUsage
	}
	return nil
}

// ---------------------------------------------------------------------------
// parse
// ---------------------------------------------------------------------------

func runParse(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var common commonFlags
	fs := newFlagSet("parse", stderr)
	common.register(fs)
	asJSON := fs.Bool("json", false, "Print documents as JSON")
	if err := parseFlags(fs, args, 1); err != nil {
		return err
	}

	e, _, err := common.engine(stderr, false)
	if err != nil {
		return err
	}
	defer e.Close()

	results, err := e.ParseAll(ctx, fs.Args())
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(stderr, "%s: %v\n", r.Path, r.Err)
			continue
		}
		for _, w := range r.Document.Warnings {
			fmt.Fprintf(stderr, "%s: warning: %s\n", r.Path, w)
		}
	}

	if *asJSON {
		out := make([]map[string]any, 0, len(results))
		for _, r := range results {
			if r.Err == nil {
				out = append(out, map[string]any{"path": r.Path, "document": r.Document})
			}
		}
		if err := writeJSON(stdout, out); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			if r.Err != nil {
				continue
			}
			fmt.Fprintf(stdout, "== %s (%s, %d elements)\n", r.Path, r.Document.Metadata.Format, len(r.Document.Elements))
			printElements(stdout, r.Document.Elements)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(results))
	}
	return nil
}

// ---------------------------------------------------------------------------
// merge
// ---------------------------------------------------------------------------

func runMerge(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var common commonFlags
	fs := newFlagSet("merge", stderr)
	common.register(fs)
	order := fs.String("order", "", "File order: preserve, alphabetical or natural (default from config)")
	dedup := fs.Bool("dedup", false, "Drop near-duplicate elements")
	threshold := fs.Float64("threshold", -1, "Similarity threshold for -dedup (default from config)")
	noSep := fs.Bool("no-separators", false, "Do not insert per-file separator headings")
	position := fs.Bool("position", false, "Merge by page and vertical position instead of file order")
	asJSON := fs.Bool("json", false, "Print the merge result as JSON")
	if err := parseFlags(fs, args, 1); err != nil {
		return err
	}

	e, cfg, err := common.engine(stderr, false)
	if err != nil {
		return err
	}
	defer e.Close()

	opts := cfg.Merge
	if *order != "" {
		opts.OrderMode = merger.OrderMode(*order)
	}
	if *dedup {
		opts.DeduplicateContent = true
	}
	if *threshold >= 0 {
		opts.DeduplicationThreshold = *threshold
	}
	if *noSep {
		opts.AddFileSeparators = false
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	results, err := e.ParseAll(ctx, fs.Args())
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(stderr, "%s: skipped: %v\n", r.Path, r.Err)
		}
	}

	var res *merger.MergeResult
	if *position {
		res = e.MergeByPosition(results)
	} else {
		res = e.Merge(results, docstruct.WithMergeOptions(opts))
	}
	if res.Stats.TotalFiles == 0 {
		return docstruct.ErrNoDocuments
	}

	if *asJSON {
		return writeJSON(stdout, res)
	}
	printElements(stdout, res.Elements)
	fmt.Fprintf(stderr, "merged %d files into %d elements (%d duplicates removed)\n",
		res.Stats.TotalFiles, res.Stats.TotalElements, res.Stats.DuplicatesRemoved)
	return nil
}

// ---------------------------------------------------------------------------
// ingest / search / stats
// ---------------------------------------------------------------------------

func runIngest(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var common commonFlags
	fs := newFlagSet("ingest", stderr)
	common.register(fs)
	asJSON := fs.Bool("json", false, "Print the ingest result as JSON")
	if err := parseFlags(fs, args, 1); err != nil {
		return err
	}

	e, _, err := common.engine(stderr, true)
	if err != nil {
		return err
	}
	defer e.Close()

	res, err := e.Ingest(ctx, fs.Args())
	if err != nil {
		return err
	}
	if *asJSON {
		return writeJSON(stdout, res)
	}
	for _, d := range res.Documents {
		status := "parsed"
		if d.Skipped {
			status = "unchanged"
		}
		fmt.Fprintf(stdout, "%d\t%s\t%s\t%d elements\n", d.ID, status, d.Path, d.Elements)
	}
	fmt.Fprintf(stdout, "merge %s\n", res.MergeID)
	return nil
}

func runSearch(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var common commonFlags
	fs := newFlagSet("search", stderr)
	common.register(fs)
	limit := fs.Int("limit", 20, "Maximum number of hits")
	if err := parseFlags(fs, args, 1); err != nil {
		return err
	}

	e, _, err := common.engine(stderr, true)
	if err != nil {
		return err
	}
	defer e.Close()

	hits, err := e.Store().SearchElements(ctx, strings.Join(fs.Args(), " "), *limit)
	if err != nil {
		return err
	}
	for _, h := range hits {
		fmt.Fprintf(stdout, "%s\t%s\t%s\n", h.Filename, h.Element.Type, oneLine(h.Element.Text(), 100))
	}
	return nil
}

func runStats(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var common commonFlags
	fs := newFlagSet("stats", stderr)
	common.register(fs)
	if err := parseFlags(fs, args, 0); err != nil {
		return err
	}

	e, _, err := common.engine(stderr, true)
	if err != nil {
		return err
	}
	defer e.Close()

	st, err := e.Store().Stats(ctx)
	if err != nil {
		return err
	}
	return writeJSON(stdout, st)
}

func runFormats(args []string, stdout, stderr io.Writer) error {
	var common commonFlags
	fs := newFlagSet("formats", stderr)
	common.register(fs)
	if err := parseFlags(fs, args, 0); err != nil {
		return err
	}
	e, _, err := common.engine(stderr, false)
	if err != nil {
		return err
	}
	defer e.Close()
	fmt.Fprintln(stdout, strings.Join(e.SupportedExtensions(), " "))
	return nil
}

// ---------------------------------------------------------------------------
// Output helpers
// ---------------------------------------------------------------------------

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printElements writes one line per element.
func printElements(w io.Writer, els []parser.Element) {
	for _, el := range els {
		label := string(el.Type)
		if el.Type == parser.ElementHeading {
			label = fmt.Sprintf("h%d", el.Level)
		}
		if el.Position != nil {
			label += fmt.Sprintf("@p%d", el.Position.Page)
		}
		fmt.Fprintf(w, "%4d  %-14s %s\n", el.Order, label, oneLine(el.Text(), 100))
	}
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}
