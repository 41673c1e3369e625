// Package main provides the lattice CLI, a thin operational shell
// around the data layer: it loads configuration, opens a storage
// adapter over the built-in demo schema, and exposes find, count and
// mutation verbs that run with the access rules of the session given
// on the command line.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	// Database drivers. sqlite is the default backend; mysql and
	// postgres are selected through store.dialect.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/syssam/lattice"
	"github.com/syssam/lattice/cache/memcache"
	"github.com/syssam/lattice/config"
	"github.com/syssam/lattice/engine"
	"github.com/syssam/lattice/session"
	"github.com/syssam/lattice/store"
	"github.com/syssam/lattice/store/memstore"
	"github.com/syssam/lattice/store/sqlstore"
)

var (
	// Set by persistent flags.
	configFile   string
	sessionUser  string
	sessionRoles string
	sessionTen   string
	asSudo       bool

	// Global application state, initialized on startup.
	cfg *config.Config
	eng *engine.Engine
	db  *sqlstore.Store
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lattice",
	Short: "Lattice is an access-controlled data layer",
	Long: `Lattice resolves find, count and mutation requests against a schema
with three-tier access control. The CLI runs requests against the
built-in demo schema (users, posts) as the session given by --user,
--roles and --tenant; omit them for an anonymous session.`,
	PersistentPreRunE: initApp,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeApp()
	},
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file (yaml; defaults apply when omitted)")
	pf.StringVar(&sessionUser, "user", "", "session user id (empty means anonymous)")
	pf.StringVar(&sessionRoles, "roles", "", "comma-separated session roles")
	pf.StringVar(&sessionTen, "tenant", "", "session tenant id")
	pf.BoolVar(&asSudo, "sudo", false, "bypass access control")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(countCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(statsCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("lattice v0.1.0")
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the storage backend",
	Long:  `Create the backing tables for the demo schema.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("storage initialized")
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print storage operation statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		if db == nil {
			return fmt.Errorf("stats are only recorded for sql backends")
		}
		fmt.Println(db.Stats())
		return nil
	},
}

// initApp loads config, opens the storage adapter and builds the
// engine over the demo schema.
func initApp(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "version" {
		return nil
	}
	var err error
	cfg, err = config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg)

	reg := demoRegistry()
	rec := store.NewRecorder(cfg.Store.SlowThreshold, nil)

	var storage store.Storage
	if cfg.Store.Dialect == "memory" {
		storage = memstore.New(reg,
			memstore.WithWriteLimit(cfg.Store.WriteLimit),
			memstore.WithRecorder(rec),
		)
	} else {
		db, err = sqlstore.Open(cfg.Store.Dialect, cfg.Store.DSN, reg,
			sqlstore.WithWriteLimit(cfg.Store.WriteLimit),
			sqlstore.WithRecorder(rec),
		)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		if err := db.CreateTables(cmd.Context()); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
		storage = db
	}

	opts := []engine.Option{engine.WithLogger(slog.Default())}
	if cfg.Cache.Enabled {
		opts = append(opts, engine.WithCache(memcache.New()))
	}
	eng = engine.New(reg, storage, opts...)
	return nil
}

// closeApp releases the storage connection.
func closeApp() error {
	if db != nil {
		return db.Close()
	}
	return nil
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.SlogLevel())); err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// requestContext builds the per-invocation request context from the
// session flags.
func requestContext() *lattice.RequestContext {
	var sess any
	if sessionUser != "" {
		var roles []string
		if sessionRoles != "" {
			roles = strings.Split(sessionRoles, ",")
		}
		sess = &session.UserSession{UserID: sessionUser, Roles: roles, TenantID: sessionTen}
	}
	rc := lattice.NewRequestContext(sess, cfg.Limits.MaxTotalResults)
	if asSudo {
		rc = rc.Sudo()
	}
	return rc
}

// commandContext attaches the session to the context for rules that
// read it from there.
func commandContext(cmd *cobra.Command, rc *lattice.RequestContext) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if s, ok := rc.Session.(session.Session); ok {
		ctx = session.WithSession(ctx, s)
	}
	return ctx
}
