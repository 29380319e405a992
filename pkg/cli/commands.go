package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/bastion/pkg/audit"
	"github.com/platinummonkey/bastion/pkg/rbac"
)

// session is an open database with an RBAC manager on top of it
type session struct {
	db      *sql.DB
	manager *rbac.Manager
	writer  *audit.Writer
}

func (s *session) Close() {
	if s.writer != nil {
		s.writer.Close()
	}
	s.db.Close()
}

// open connects and wires a manager without a permission cache, so every
// check reads the database. Audit entries are only written when withAudit
// is set.
func (e *Env) open(url string, seedDefaults, withAudit bool) (*session, error) {
	db, err := e.OpenDB(url)
	if err != nil {
		return nil, err
	}

	s := &session{db: db}
	if withAudit {
		sink, err := e.AuditSink(db)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to open audit sink: %w", err)
		}
		s.writer = audit.NewWriter(sink, nil)
	}

	s.manager = rbac.NewManager(db, rbac.Config{
		Cache:            rbac.NopCache{},
		SeedDefaultRoles: seedDefaults,
	}, rbac.Deps{Audit: s.writer})

	return s, nil
}

func newFlagSet(env *Env, name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(env.Out)
	return fs
}

func newMigrateCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "migrate",
		Description: "Apply database migrations and seed the built-in roles",
		Flags:       newFlagSet(env, "migrate"),
	}
	dbURL := databaseFlag(cmd.Flags)
	seedDefaults := cmd.Flags.Bool("seed-defaults", true, "Create or update the built-in roles")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		s, err := env.open(*dbURL, *seedDefaults, *seedDefaults)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.manager.Initialize(context.Background()); err != nil {
			return err
		}

		env.Logger.Info("Migrations applied")
		return nil
	}
	return cmd
}

func newSeedCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "seed",
		Description: "Create or update roles from a YAML file",
		Flags:       newFlagSet(env, "seed"),
	}
	dbURL := databaseFlag(cmd.Flags)
	file := cmd.Flags.String("file", "", "Role seed file (YAML)")
	defaults := cmd.Flags.Bool("defaults", false, "Also sync the built-in roles")
	watch := cmd.Flags.Bool("watch", false, "Keep running and re-sync whenever the file changes")
	debounce := cmd.Flags.Duration("debounce", rbac.DefaultSeedDebounce, "Delay after the last change before re-syncing")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *file == "" && !*defaults {
			return fmt.Errorf("nothing to seed: pass --file and/or --defaults")
		}
		if *watch && *file == "" {
			return fmt.Errorf("--watch requires --file")
		}

		s, err := env.open(*dbURL, false, true)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := context.Background()
		service := s.manager.Service()

		if *defaults {
			result, err := service.SeedDefaultRoles(ctx)
			if err != nil {
				return err
			}
			printSync(env.Out, "built-in", result)
		}

		if *watch {
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			env.Logger.WithField("file", *file).Info("Watching role seed file")
			return service.WatchSeedFile(ctx, *file, *debounce, func(result rbac.SyncResult, err error) {
				if err != nil {
					env.Logger.WithError(err).Warn("Seed sync failed")
					return
				}
				env.Logger.WithFields(logrus.Fields{
					"created":   result.Created,
					"updated":   result.Updated,
					"unchanged": result.Unchanged,
				}).Info("Seed synced")
			})
		}

		if *file != "" {
			roles, err := rbac.LoadSeedFile(*file)
			if err != nil {
				return err
			}
			result, err := service.SyncRoles(ctx, roles)
			if err != nil {
				return err
			}
			printSync(env.Out, *file, result)
		}
		return nil
	}
	return cmd
}

func printSync(out io.Writer, source string, r rbac.SyncResult) {
	fmt.Fprintf(out, "%s: created=%d updated=%d unchanged=%d\n", source, r.Created, r.Updated, r.Unchanged)
}

func newRolesCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "roles",
		Description: "List roles, or the roles of a user with --user",
		Flags:       newFlagSet(env, "roles"),
	}
	dbURL := databaseFlag(cmd.Flags)
	userID := cmd.Flags.Int64("user", 0, "Show the roles of this user")
	asJSON := cmd.Flags.Bool("json", false, "Output in JSON format")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		s, err := env.open(*dbURL, false, false)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := context.Background()
		var roles []rbac.Role
		if *userID != 0 {
			user, err := s.manager.Service().GetUserWithRoles(ctx, *userID)
			if err != nil {
				return err
			}
			if *asJSON {
				return writeJSON(env.Out, user)
			}
			if user.IsSuperAdmin {
				fmt.Fprintf(env.Out, "user %d is a super admin\n", user.ID)
			}
			roles = user.Roles
		} else {
			roles, err = s.manager.Service().ListRoles(ctx)
			if err != nil {
				return err
			}
			if *asJSON {
				return writeJSON(env.Out, roles)
			}
		}

		w := tabwriter.NewWriter(env.Out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCODE\tNAME\tPERMISSIONS")
		for _, r := range roles {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", r.ID, r.Code, r.Name, strings.Join(rbac.PermissionCodes(r.Permissions), ","))
		}
		return w.Flush()
	}
	return cmd
}

func newPermissionsCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "permissions",
		Description: "List the permission catalog",
		Flags:       newFlagSet(env, "permissions"),
	}
	asJSON := cmd.Flags.Bool("json", false, "Output in JSON format")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		if *asJSON {
			return writeJSON(env.Out, rbac.PermissionCodes(rbac.AllPermissions()))
		}

		for _, d := range rbac.Domains() {
			fmt.Fprintf(env.Out, "%s\n", d)
			for _, p := range rbac.DomainPermissions(d) {
				fmt.Fprintf(env.Out, "  %s\n", p)
			}
		}
		return nil
	}
	return cmd
}

// ErrDenied is returned by the check command when the user lacks access
var ErrDenied = errors.New("denied")

func newCheckCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "check",
		Description: "Check whether a user holds permissions",
		Flags:       newFlagSet(env, "check"),
	}
	dbURL := databaseFlag(cmd.Flags)
	userID := cmd.Flags.Int64("user", 0, "User ID")
	perms := cmd.Flags.String("permission", "", "Comma-separated permission codes")
	anyOf := cmd.Flags.Bool("any", false, "Pass when any one permission is held")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *userID <= 0 {
			return fmt.Errorf("--user is required")
		}

		codes := strings.Split(*perms, ",")
		for i := range codes {
			codes[i] = strings.TrimSpace(codes[i])
		}
		required, err := rbac.ParsePermissions(codes)
		if err != nil {
			return err
		}

		s, err := env.open(*dbURL, false, false)
		if err != nil {
			return err
		}
		defer s.Close()

		resolver := s.manager.Resolver()
		if *anyOf {
			err = resolver.RequireAny(context.Background(), *userID, required...)
		} else {
			err = resolver.RequireAll(context.Background(), *userID, required...)
		}

		var denied *rbac.PermissionDeniedError
		switch {
		case err == nil:
			fmt.Fprintln(env.Out, "allowed")
			return nil
		case errors.As(err, &denied):
			fmt.Fprintf(env.Out, "denied: missing %s\n", strings.Join(rbac.PermissionCodes(denied.Missing), ", "))
			return ErrDenied
		default:
			return err
		}
	}
	return cmd
}

func newStatsCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "stats",
		Description: "Show role and assignment counts",
		Flags:       newFlagSet(env, "stats"),
	}
	dbURL := databaseFlag(cmd.Flags)

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		s, err := env.open(*dbURL, false, false)
		if err != nil {
			return err
		}
		defer s.Close()

		stats, err := s.manager.GetStats(context.Background())
		if err != nil {
			return err
		}
		return writeJSON(env.Out, stats)
	}
	return cmd
}

func newAuditArchiveCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "audit-archive",
		Description: "Copy one UTC day of audit entries to S3 as NDJSON",
		Flags:       newFlagSet(env, "audit-archive"),
	}
	dbURL := databaseFlag(cmd.Flags)
	day := cmd.Flags.String("day", "", "Day to archive, YYYY-MM-DD (default yesterday)")
	batch := cmd.Flags.Int("batch", audit.DefaultArchiveBatch, "Entries per object")
	bucket := cmd.Flags.String("s3-bucket", os.Getenv("BASTION_AUDIT_ARCHIVE_BUCKET"), "Archive bucket (env BASTION_AUDIT_ARCHIVE_BUCKET)")
	region := cmd.Flags.String("s3-region", "us-east-1", "Archive bucket region")
	endpoint := cmd.Flags.String("s3-endpoint", "", "S3-compatible endpoint, e.g. MinIO")
	prefix := cmd.Flags.String("s3-prefix", "audit/", "Object key prefix")
	pathStyle := cmd.Flags.Bool("s3-path-style", false, "Use path-style bucket addressing")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *bucket == "" {
			return fmt.Errorf("--s3-bucket is required")
		}

		var when time.Time
		if *day != "" {
			parsed, err := time.Parse("2006-01-02", *day)
			if err != nil {
				return fmt.Errorf("invalid --day: %w", err)
			}
			when = parsed
		}

		db, err := env.OpenDB(*dbURL)
		if err != nil {
			return err
		}
		defer db.Close()

		sink, err := env.AuditSink(db)
		if err != nil {
			return fmt.Errorf("failed to open audit sink: %w", err)
		}
		defer sink.Close()

		source, ok := sink.(audit.Searcher)
		if !ok {
			return fmt.Errorf("audit sink is not searchable")
		}

		ctx := context.Background()
		archiver, err := env.NewArchiver(ctx, audit.S3Config{
			Bucket:       *bucket,
			Region:       *region,
			Endpoint:     *endpoint,
			Prefix:       *prefix,
			UsePathStyle: *pathStyle,
			CreateBucket: *endpoint != "",
		})
		if err != nil {
			return err
		}

		job, err := audit.NewArchiveJob(source, archiver, audit.WithArchiveBatchSize(*batch))
		if err != nil {
			return err
		}

		var result audit.ArchiveResult
		if when.IsZero() {
			result, err = job.Run(ctx)
		} else {
			result, err = job.RunDay(ctx, when)
		}
		if err != nil {
			return err
		}

		env.Logger.WithFields(logrus.Fields{
			"day":     result.Day,
			"entries": result.Entries,
			"objects": len(result.Objects),
		}).Info("Audit archive finished")
		return writeJSON(env.Out, result)
	}
	return cmd
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
