package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/refuturo/refuturo/internal/display"
	"github.com/refuturo/refuturo/internal/imaging"
	"github.com/refuturo/refuturo/internal/keys"
	"github.com/refuturo/refuturo/internal/prefs"
	"github.com/refuturo/refuturo/internal/provider"
	"github.com/refuturo/refuturo/internal/provider/gemini"
	"github.com/refuturo/refuturo/internal/repl"
	"github.com/refuturo/refuturo/internal/scenario"
	"github.com/refuturo/refuturo/internal/session"
)

var (
	version = "dev"
	commit  = "none"
)

const (
	providerName = "gemini"
	envVar       = "GEMINI_API_KEY"
)

var (
	flagAPIKey  string
	flagDev     bool
	flagStorage string
	flagQuota   int64
	flagCount   int
	flagVerbose bool
)

type App struct {
	In          io.Reader
	Out         io.Writer
	Err         io.Writer
	GetEnv      func(string) string
	NewProvider func(apiKey string, logger zerolog.Logger) (provider.Provider, error)
}

func DefaultApp() *App {
	return &App{
		In:     os.Stdin,
		Out:    os.Stdout,
		Err:    os.Stderr,
		GetEnv: os.Getenv,
		NewProvider: func(apiKey string, logger zerolog.Logger) (provider.Provider, error) {
			return gemini.New(&gemini.Config{APIKey: apiKey}, logger)
		},
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env file is fine; it only provides convenience defaults.
	_ = godotenv.Load()

	app := DefaultApp()
	rootCmd := newRootCmd(app)
	rootCmd.AddCommand(newKeysCmd(app))
	return rootCmd.Execute()
}

func newRootCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refuturo [photo]",
		Short: "Re-imagine street photos across time with AI",
		Long: `refuturo is an interactive tool that re-imagines a photo of a city
street decades into the future or past, under optimistic or pessimistic
scenarios. Variants can be refined, undone, and restored from history;
sessions persist per photo, so reopening the same file picks up where
you left off.

Examples:
  refuturo street.jpg
  refuturo --dev street.jpg
  refuturo -n 4 street.jpg`,
		Args:    cobra.MaximumNArgs(1),
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive(cmd, args, app)
		},
	}

	cmd.Flags().StringVar(&flagAPIKey, "api-key", "", "API key (defaults to stored key or "+envVar+")")
	cmd.Flags().BoolVar(&flagDev, "dev", false, "use the offline provider (echoes the input image)")
	cmd.Flags().StringVar(&flagStorage, "storage", "", "path to the session database")
	cmd.Flags().Int64Var(&flagQuota, "quota", session.DefaultQuotaBytes, "session storage budget in bytes")
	cmd.Flags().IntVarP(&flagCount, "count", "n", 0, "variants per generation (1-4)")
	cmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	return cmd
}

func newLogger(app *App) zerolog.Logger {
	level := zerolog.WarnLevel
	if flagVerbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: app.Err}).
		Level(level).
		With().Timestamp().Logger()
}

func runInteractive(_ *cobra.Command, args []string, app *App) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger(app)

	storagePath := flagStorage
	if storagePath == "" {
		var err error
		storagePath, err = session.DefaultStoragePath()
		if err != nil {
			return fmt.Errorf("failed to resolve storage path: %w", err)
		}
	}

	storage, err := session.OpenStorage(storagePath, flagQuota)
	if err != nil {
		return fmt.Errorf("failed to open session storage: %w", err)
	}
	defer storage.Close()

	catalog := scenario.NewCatalog(storage, logger)
	if err := catalog.Load(ctx); err != nil {
		logger.Warn().Err(err).Msg("failed to load scenario catalog")
	}

	prefStore := prefs.NewStore(storage, logger)
	preferences, err := prefStore.Load(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load preferences")
		preferences = prefs.Default()
	}
	if flagCount > 0 {
		preferences.GenerationCount = flagCount
		preferences.Normalize()
	}

	var prov provider.Provider
	if flagDev || preferences.DevMode {
		prov = provider.NewDev()
		fmt.Fprintln(app.Out, "Running with the offline provider (no API calls)")
	} else {
		apiKey, source, err := keys.GetAPIKey(flagAPIKey, providerName, envVar)
		if err != nil {
			return err
		}
		logger.Debug().Str("source", source).Msg("api key resolved")

		prov, err = app.NewProvider(apiKey, logger)
		if err != nil {
			return err
		}
	}

	editor := session.NewEditor(prov, logger)
	saver := session.NewSaver(storage, logger)
	editor.SetOnCommit(func() { saver.Schedule(editor) })

	r := repl.New(&repl.Config{
		In:        app.In,
		Out:       app.Out,
		Err:       app.Err,
		Editor:    editor,
		Saver:     saver,
		Storage:   storage,
		Catalog:   catalog,
		PrefStore: prefStore,
		Prefs:     preferences,
		Displayer: display.New(app.Out),
	})

	// A photo argument opens its session immediately.
	if len(args) > 0 {
		if err := openInitial(ctx, args[0], editor, saver, catalog, app); err != nil {
			return err
		}
	}

	return r.Run(ctx)
}

func openInitial(ctx context.Context, path string, editor *session.Editor, saver *session.Saver, catalog *scenario.Catalog, app *App) error {
	upload, err := imaging.LoadUpload(path)
	if err != nil {
		return err
	}

	key := session.DeriveKey(upload.Name, upload.Size, upload.ModTime)

	sess, err := saver.Load(ctx, key)
	if err != nil {
		fmt.Fprintf(app.Err, "Warning: could not restore previous session (%v), starting fresh\n", err)
		sess = nil
	}
	if sess == nil {
		sourceURL := imaging.EncodeDataURL(upload.Data, upload.MimeType)
		sess = session.NewSession(key, upload.Name, sourceURL, catalog.Default().Value)
		fmt.Fprintf(app.Out, "Opened %s\n", upload.Name)
	} else {
		fmt.Fprintf(app.Out, "Opened %s, restored session with %d history entries\n",
			upload.Name, sess.Log.Len())
	}

	editor.Open(sess)
	return nil
}
