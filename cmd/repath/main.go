package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"repath/internal/config"
	"repath/internal/fetch"
	"repath/internal/prompt"
	"repath/internal/resolver"
	"repath/internal/sandbox"
	"repath/internal/trust"
	"repath/internal/workspace"
)

var (
	// Global flags
	verbose       bool
	workspaceRoot string
	injectedBases []string
	noInput       bool

	// resolve flags
	uriBase    string
	repoURI    string
	revisionID string
	knownURIs  []string
	useStdin   bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "repath",
	Short: "Map artifact paths from analysis reports to local files",
	Long: `repath resolves file paths recorded in static-analysis reports against
the local machine: workspace joins, learned base rules, distinct filenames,
sandboxed downloads from the artifact's version-control origin, and an
interactive picker as the last resort. Confirmed pairs are remembered, so a
path is figured out once per session.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve [artifact-uri...]",
	Short: "Resolve artifact URIs to local files",
	Long: `Resolves each artifact URI and prints "<artifact>\t<local>" per line,
or "(unresolved)" when no strategy succeeds.

With --repo and --revision, missing files may be downloaded from the
repository's raw-content endpoint into the download sandbox, after asking
for consent per host. With --stdin, artifact URIs are read line by line and
prompts are disabled.`,
	RunE: runResolve,
}

var reverseCmd = &cobra.Command{
	Use:   "reverse [local-uri...]",
	Short: "Report which known artifact a local file corresponds to",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runReverse,
}

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Manage hosts trusted for unattended downloads",
}

var trustListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trusted hosts",
	RunE:  runTrustList,
}

var trustAddCmd = &cobra.Command{
	Use:   "add [host]",
	Short: "Trust a host",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrustAdd,
}

var trustRemoveCmd = &cobra.Command{
	Use:   "remove [host]",
	Short: "Stop trusting a host",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrustRemove,
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the download sandbox",
}

var cacheInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show downloaded artifact content",
	RunE:  runCacheInfo,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all downloaded artifact content",
	RunE:  runCacheClear,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspaceRoot, "workspace", "w", "", "Workspace root to resolve against")
	rootCmd.PersistentFlags().StringArrayVar(&injectedBases, "base", nil, "Additional base URI to try (repeatable)")
	rootCmd.PersistentFlags().BoolVar(&noInput, "no-input", false, "Never prompt; unresolvable artifacts stay unresolved")

	resolveCmd.Flags().StringVar(&uriBase, "uri-base", "", "Base URI declared by the report")
	resolveCmd.Flags().StringVar(&repoURI, "repo", "", "Repository URI the report was produced from")
	resolveCmd.Flags().StringVar(&revisionID, "revision", "", "Revision the report was produced at")
	resolveCmd.Flags().StringSliceVar(&knownURIs, "known", nil, "Additional artifact URIs present in the report")
	resolveCmd.Flags().BoolVar(&useStdin, "stdin", false, "Read artifact URIs from stdin (implies --no-input)")
	resolveCmd.MarkFlagsRequiredTogether("repo", "revision")

	reverseCmd.Flags().StringSliceVar(&knownURIs, "known", nil, "Artifact URIs present in the report")

	trustCmd.AddCommand(trustListCmd)
	trustCmd.AddCommand(trustAddCmd)
	trustCmd.AddCommand(trustRemoveCmd)
	cacheCmd.AddCommand(cacheInfoCmd)
	cacheCmd.AddCommand(cacheClearCmd)

	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(reverseCmd)
	rootCmd.AddCommand(trustCmd)
	rootCmd.AddCommand(cacheCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildResolver wires the resolver from configuration and global flags.
// The returned index is nil when no workspace root is set.
func buildResolver(cfg *config.Config, host *resolver.StaticHost, interactive bool) (*resolver.Resolver, *workspace.Index, error) {
	box, err := sandbox.New(cfg.DownloadDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open download sandbox: %w", err)
	}
	store := trust.NewStore(cfg.TrustFile)
	if err := store.Load(); err != nil {
		return nil, nil, err
	}

	mux := fetch.NewMux()
	httpSrc := fetch.NewHTTPSource(fetch.HTTPConfig{
		Timeout:   cfg.HTTPTimeout,
		MaxBytes:  cfg.MaxFetchBytes,
		UserAgent: cfg.UserAgent,
	})
	mux.Register("http", httpSrc)
	mux.Register("https", httpSrc)
	if cfg.Mirror.Enabled {
		objSrc, err := fetch.NewObjectSource(fetch.ObjectConfig{
			Endpoint:  cfg.Mirror.Endpoint,
			Region:    cfg.Mirror.Region,
			AccessKey: cfg.Mirror.AccessKey,
			SecretKey: cfg.Mirror.SecretKey,
			UseSSL:    cfg.Mirror.UseSSL,
		})
		if err != nil {
			return nil, nil, err
		}
		mux.Register("s3", objSrc)
	}

	var idx *workspace.Index
	if workspaceRoot != "" {
		idx, err = workspace.NewIndex(workspace.IndexConfig{
			Root:     workspaceRoot,
			Excludes: cfg.ExcludeGlobs,
		})
		if err != nil {
			return nil, nil, err
		}
		host.SetWorkspaceRoot(idx.Root())
	}
	host.SetInjectedBases(injectedBases...)

	var prompter prompt.Prompter
	if interactive {
		prompter = prompt.NewTerminal(os.Stdin, os.Stderr)
	}

	res := resolver.New(resolver.Config{
		Oracle:   workspace.NewMemoOracle(workspace.FSOracle{}, 4096, 0),
		Index:    idx,
		Host:     host,
		Prompter: prompter,
		Source:   mux,
		Sandbox:  box,
		Trust:    store,
		Logger:   logger,
	})
	return res, idx, nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !useStdin {
		return fmt.Errorf("no artifact URIs given; pass them as arguments or use --stdin")
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	host := resolver.NewStaticHost()
	host.RegisterArtifacts(args...)
	host.RegisterArtifacts(knownURIs...)

	interactive := !noInput && !useStdin
	res, idx, err := buildResolver(cfg, host, interactive)
	if err != nil {
		return err
	}
	ctx := context.Background()

	if useStdin && idx != nil {
		w, err := workspace.NewWatcher(idx, logger)
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
	}

	makeLoc := func(uri string) resolver.Location {
		loc := resolver.Location{ArtifactURI: uri, URIBase: uriBase}
		if repoURI != "" {
			loc.Provenance = []resolver.VersionControlProvenance{
				{RepositoryURI: repoURI, RevisionID: revisionID},
			}
		}
		return loc
	}
	resolveOne := func(uri string) error {
		local, err := res.TranslateArtifactToLocal(ctx, makeLoc(uri))
		if err != nil {
			return err
		}
		if local == "" {
			fmt.Printf("%s\t(unresolved)\n", uri)
		} else {
			fmt.Printf("%s\t%s\n", uri, local)
		}
		return nil
	}

	for _, uri := range args {
		if err := resolveOne(uri); err != nil {
			return err
		}
	}
	if useStdin {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			uri := strings.TrimSpace(sc.Text())
			if uri == "" {
				continue
			}
			host.RegisterArtifacts(uri)
			if err := resolveOne(uri); err != nil {
				return err
			}
		}
		if err := sc.Err(); err != nil {
			return err
		}
	}

	m := res.Metrics()
	logger.Debug("resolution finished",
		zap.Uint64("cache_hits", m.CacheHits),
		zap.Uint64("existence_checks", m.ExistenceChecks),
		zap.Uint64("downloads", m.Downloads),
		zap.Uint64("prompts", m.PromptsShown),
		zap.Uint64("recorded", m.Recorded))
	return nil
}

func runReverse(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	host := resolver.NewStaticHost()
	host.RegisterArtifacts(knownURIs...)

	res, _, err := buildResolver(cfg, host, false)
	if err != nil {
		return err
	}
	ctx := context.Background()
	for _, local := range args {
		fmt.Printf("%s\t%s\n", local, res.TranslateLocalToArtifact(ctx, local))
	}
	return nil
}

func openTrustStore() (*trust.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	store := trust.NewStore(cfg.TrustFile)
	if err := store.Load(); err != nil {
		return nil, err
	}
	return store, nil
}

func runTrustList(cmd *cobra.Command, args []string) error {
	store, err := openTrustStore()
	if err != nil {
		return err
	}
	hosts := store.Hosts()
	if len(hosts) == 0 {
		fmt.Println("(no trusted hosts)")
		return nil
	}
	for _, h := range hosts {
		fmt.Println(h)
	}
	return nil
}

func runTrustAdd(cmd *cobra.Command, args []string) error {
	store, err := openTrustStore()
	if err != nil {
		return err
	}
	if err := store.Add(args[0]); err != nil {
		return err
	}
	fmt.Printf("trusted %s\n", strings.ToLower(strings.TrimSpace(args[0])))
	return nil
}

func runTrustRemove(cmd *cobra.Command, args []string) error {
	store, err := openTrustStore()
	if err != nil {
		return err
	}
	if err := store.Remove(args[0]); err != nil {
		return err
	}
	fmt.Printf("removed %s\n", strings.ToLower(strings.TrimSpace(args[0])))
	return nil
}

func runCacheInfo(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	box, err := sandbox.New(cfg.DownloadDir)
	if err != nil {
		return err
	}
	s := box.Stats()
	fmt.Printf("%s: %d files, %d bytes\n", box.Dir(), s.Files, s.TotalBytes)
	for _, e := range box.Entries() {
		fmt.Printf("%10d  %s  %s\n", e.Size, e.File, e.SourceURL)
	}
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	box, err := sandbox.New(cfg.DownloadDir)
	if err != nil {
		return err
	}
	s := box.Stats()
	if err := box.Clear(); err != nil {
		return err
	}
	fmt.Printf("removed %d files (%d bytes)\n", s.Files, s.TotalBytes)
	return nil
}
