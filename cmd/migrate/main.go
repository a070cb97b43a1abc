package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/carousel-backend/pkg/config"
	"github.com/angelmondragon/carousel-backend/pkg/db"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
	"github.com/angelmondragon/carousel-backend/pkg/migrate"
)

type options struct {
	cmd     string
	dir     string
	name    string
	version string
}

func main() {
	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.cmd, "cmd", "up", "up|down|status|version|create|validate")
	flag.StringVar(&opts.dir, "dir", migrate.DefaultDir, "migrations directory; the default reads the embedded copy")
	flag.StringVar(&opts.name, "name", "", "migration name for -cmd=create")
	flag.StringVar(&opts.version, "version", "", "target YYYYMMDDHHMMSS for -cmd=version")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", opts.cmd, err)
		os.Exit(1)
	}
}

func run(opts options) error {
	// create and validate only touch files, so they work without a database
	// or a complete environment.
	switch opts.cmd {
	case "create":
		if opts.name == "" {
			return errors.New("-name is required")
		}
		path, err := migrate.CreateSQLMigration(opts.dir, opts.name)
		if err != nil {
			return err
		}
		fmt.Println("created", path)
		return nil
	case "validate":
		if err := migrate.ValidateDir(opts.dir); err != nil {
			return err
		}
		fmt.Println("migrations valid")
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		FilePath:    cfg.App.LogFile,
		Format:      cfg.App.LogFormat,
	})
	defer logg.Close()
	ctx := logg.WithFields(context.Background(), map[string]any{"env": cfg.App.Env, "cmd": opts.cmd, "dir": opts.dir})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer dbClient.Close()
	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		return err
	}
	m, err := migrate.NewMigrator(sqlDB, opts.dir)
	if err != nil {
		return err
	}
	defer m.Close()

	var applied []migrate.Applied
	switch opts.cmd {
	case "up":
		applied, err = m.Up(ctx)
	case "down":
		applied, err = m.Down(ctx)
	case "status":
		applied, err = m.Status(ctx)
	case "version":
		if opts.version == "" {
			return errors.New("-version is required")
		}
		applied, err = m.To(ctx, opts.version)
	default:
		return fmt.Errorf("unknown command %q", opts.cmd)
	}
	if err != nil {
		return err
	}

	printApplied(applied, opts.cmd == "status")
	logg.Info(logg.WithField(ctx, "migrations", len(applied)), "migrate finished")
	return nil
}

func printApplied(rows []migrate.Applied, status bool) {
	if len(rows) == 0 {
		fmt.Println("nothing to do")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer tw.Flush()
	for _, row := range rows {
		switch {
		case !status:
			fmt.Fprintf(tw, "%d\t%s\t%s\n", row.Version, row.Path, row.Duration)
		case row.Pending:
			fmt.Fprintf(tw, "%d\t%s\tpending\n", row.Version, row.Path)
		default:
			fmt.Fprintf(tw, "%d\t%s\t%s\n", row.Version, row.Path, row.At.Format("2006-01-02 15:04:05"))
		}
	}
}
