// Command gatehouse-keys manages API keys in the PostgreSQL key store.
//
// Usage:
//
//	gatehouse-keys [flags] create --site SITE [--admin] [--user-info JSON]
//	gatehouse-keys [flags] list [--site SITE] [--include-revoked]
//	gatehouse-keys [flags] revoke ID
//
// The database is taken from --dsn, or from storage.postgres in the
// gatehouse config file.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/rhuss/gatehouse/pkg/auth"
	"github.com/rhuss/gatehouse/pkg/auth/keystore"
	"github.com/rhuss/gatehouse/pkg/config"
	"github.com/rhuss/gatehouse/pkg/storage"
	"github.com/rhuss/gatehouse/pkg/storage/postgres"
)

// options are the flags shared by all subcommands.
type options struct {
	site           string
	admin          bool
	userInfo       string
	includeRevoked bool
}

// keyManager is the subset of keystore.Authenticator used here.
type keyManager interface {
	CreateKey(ctx context.Context, ks keystore.KeySpec) (string, *storage.Key, error)
	RevokeKey(ctx context.Context, id string) error
	ListKeys(ctx context.Context, opts storage.ListOptions) ([]*storage.Key, error)
}

var errUsage = errors.New("usage: gatehouse-keys [flags] create|list|revoke [args]")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		slog.Error("gatehouse-keys failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("gatehouse-keys", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "path to the gatehouse config file")
	dsn := fs.String("dsn", "", "PostgreSQL connection string (overrides the config file)")
	migrate := fs.Bool("migrate", false, "apply pending schema migrations first")
	var o options
	fs.StringVar(&o.site, "site", "", "site id of the key (create) or listing filter (list)")
	fs.BoolVar(&o.admin, "admin", false, "grant admin privileges to the new key")
	fs.StringVar(&o.userInfo, "user-info", "", "JSON object stored as the key's user info")
	fs.BoolVar(&o.includeRevoked, "include-revoked", false, "also list revoked keys")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errUsage
	}

	ctx := context.Background()

	pgCfg, err := postgresConfig(*configPath, *dsn)
	if err != nil {
		return err
	}
	store, err := postgres.New(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if *migrate {
		n, err := store.Migrate(ctx)
		if err != nil {
			return fmt.Errorf("migrating: %w", err)
		}
		fmt.Fprintf(out, "applied %d migration(s)\n", n)
	}

	ks := keystore.New(store, keystore.Options{CacheTTL: -1})
	return execute(ctx, ks, fs.Arg(0), fs.Args()[1:], o, out)
}

// postgresConfig resolves the database settings. An explicit DSN skips
// the config file entirely.
func postgresConfig(configPath, dsn string) (postgres.Config, error) {
	if dsn != "" {
		return postgres.Config{DSN: dsn, MaxConns: 2}, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return postgres.Config{}, err
	}
	if cfg.Storage.Type != "postgres" {
		return postgres.Config{}, fmt.Errorf("storage.type is %q, need \"postgres\" or --dsn", cfg.Storage.Type)
	}
	return postgres.Config{DSN: cfg.Storage.Postgres.DSN, MaxConns: 2}, nil
}

func execute(ctx context.Context, m keyManager, cmd string, args []string, o options, out io.Writer) error {
	switch cmd {
	case "create":
		return create(ctx, m, o, out)
	case "list":
		return list(ctx, m, o, out)
	case "revoke":
		if len(args) != 1 {
			return errors.New("usage: gatehouse-keys revoke ID")
		}
		if err := m.RevokeKey(ctx, args[0]); err != nil {
			return fmt.Errorf("revoking %s: %w", args[0], err)
		}
		fmt.Fprintf(out, "revoked %s\n", args[0])
		return nil
	}
	return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
}

func create(ctx context.Context, m keyManager, o options, out io.Writer) error {
	ks := keystore.KeySpec{SiteID: o.site, Admin: o.admin}
	if o.userInfo != "" {
		var info auth.UserInfo
		if err := json.Unmarshal([]byte(o.userInfo), &info); err != nil {
			return fmt.Errorf("parsing --user-info: %w", err)
		}
		ks.UserInfo = info
	}

	raw, k, err := m.CreateKey(ctx, ks)
	if err != nil {
		if errors.Is(err, auth.ErrMissingSiteID) {
			return errors.New("create requires --site")
		}
		return err
	}

	fmt.Fprintf(out, "id:     %s\nsite:   %s\nadmin:  %t\nkey:    %s\n", k.ID, k.SiteID, k.Admin, raw)
	fmt.Fprintln(out, "Store the key now, it cannot be shown again.")
	return nil
}

func list(ctx context.Context, m keyManager, o options, out io.Writer) error {
	keys, err := m.ListKeys(ctx, storage.ListOptions{SiteID: o.site, IncludeRevoked: o.includeRevoked})
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPREFIX\tSITE\tADMIN\tCREATED\tREVOKED")
	for _, k := range keys {
		revoked := "-"
		if k.RevokedAt != nil {
			revoked = k.RevokedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n",
			k.ID, k.Prefix, k.SiteID, k.Admin, k.CreatedAt.Format(time.RFC3339), revoked)
	}
	return tw.Flush()
}
