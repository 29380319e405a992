package cli

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/bastion/pkg/audit"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// Env holds what commands need from the outside world
type Env struct {
	Out    io.Writer
	Logger *logrus.Logger

	// OpenDB connects to the database at url. Defaults to PostgreSQL.
	OpenDB func(url string) (*sql.DB, error)

	// AuditSink builds the sink for entries written by seeding. Defaults
	// to the audit_logs table.
	AuditSink func(db *sql.DB) (audit.Logger, error)

	// NewArchiver builds the archive used by audit-archive. Defaults to S3.
	NewArchiver func(ctx context.Context, cfg audit.S3Config) (audit.Archiver, error)
}

func (e *Env) withDefaults() *Env {
	out := *e
	if out.Out == nil {
		out.Out = os.Stdout
	}
	if out.Logger == nil {
		out.Logger = NewLogger("info")
	}
	if out.OpenDB == nil {
		out.OpenDB = openPostgres
	}
	if out.AuditSink == nil {
		out.AuditSink = func(db *sql.DB) (audit.Logger, error) {
			l, err := audit.NewDBLogger(db)
			if err != nil {
				return nil, err
			}
			return l, nil
		}
	}
	if out.NewArchiver == nil {
		out.NewArchiver = func(ctx context.Context, cfg audit.S3Config) (audit.Archiver, error) {
			a, err := audit.NewS3Archiver(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return a, nil
		}
	}
	return &out
}

// NewLogger returns a text logger at the given level, falling back to info
func NewLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	return logger
}

// NewRootCommand creates the root command
func NewRootCommand(env *Env) *Command {
	if env == nil {
		env = &Env{}
	}
	env = env.withDefaults()

	root := &Command{
		Name:        "bastionctl",
		Description: "Bastion - role and permission administration",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("bastionctl", flag.ContinueOnError),
	}

	root.Subcommands["migrate"] = newMigrateCommand(env)
	root.Subcommands["seed"] = newSeedCommand(env)
	root.Subcommands["roles"] = newRolesCommand(env)
	root.Subcommands["permissions"] = newPermissionsCommand(env)
	root.Subcommands["check"] = newCheckCommand(env)
	root.Subcommands["stats"] = newStatsCommand(env)
	root.Subcommands["audit-archive"] = newAuditArchiveCommand(env)

	root.Run = func(args []string) error {
		return root.dispatch(env.Out, args)
	}

	return root
}

// Execute runs the command with args, excluding the program name
func (c *Command) Execute(args []string) error {
	return c.Run(args)
}

func (c *Command) dispatch(out io.Writer, args []string) error {
	if len(args) == 0 {
		return c.usage(out)
	}

	if isHelp(args[0]) {
		return c.usage(out)
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

func isHelp(arg string) bool {
	switch strings.ToLower(arg) {
	case "-h", "--help", "help":
		return true
	}
	return false
}

// usage prints the command usage
func (c *Command) usage(out io.Writer) error {
	fmt.Fprintf(out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(out, "Commands:\n")

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

// databaseFlag registers the shared --database-url flag
func databaseFlag(fs *flag.FlagSet) *string {
	return fs.String("database-url", os.Getenv("BASTION_DATABASE_URL"), "PostgreSQL connection URL (env BASTION_DATABASE_URL)")
}

func openPostgres(url string) (*sql.DB, error) {
	if url == "" {
		return nil, fmt.Errorf("database URL is required (--database-url or BASTION_DATABASE_URL)")
	}

	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}
