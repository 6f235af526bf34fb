package authctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/newsroom-auth-service/internal/config"
	"github.com/sandeepkv93/newsroom-auth-service/internal/di"
	"github.com/sandeepkv93/newsroom-auth-service/internal/domain"
	"github.com/sandeepkv93/newsroom-auth-service/internal/observability"
	"github.com/sandeepkv93/newsroom-auth-service/internal/repository"
	"github.com/sandeepkv93/newsroom-auth-service/internal/service"
	"github.com/sandeepkv93/newsroom-auth-service/internal/tools/common"
	"github.com/sandeepkv93/newsroom-auth-service/internal/tools/ui"
)

type options struct {
	envFile string
	ci      bool
	timeout time.Duration

	loadConfig func() (*config.Config, error)
}

func NewRootCommand() *cobra.Command {
	return newRootCommand(&options{loadConfig: config.Load})
}

func newRootCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "authctl",
		Short:         "Operate the newsroom auth service storage and token ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return common.LoadEnvFile(opts.envFile)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file applied before reading configuration")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "overall command timeout")
	cmd.AddCommand(newMigrateCommand(opts), newTokensCommand(opts), newUsersCommand(opts))
	return cmd
}

func newMigrateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "authctl migrate", func(cfg *config.Config) { cfg.DatabaseAutoMigrate = true },
				func(ctx context.Context, admin *di.Admin) ([]string, error) {
					return []string{"schema up to date"}, nil
				})
		},
	}
}

func newTokensCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{Use: "tokens", Short: "Inspect and maintain the token ledger"}

	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Mark lapsed ledger rows expired",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "authctl tokens sweep", nil, func(ctx context.Context, admin *di.Admin) ([]string, error) {
				n, err := admin.Sweeper.SweepOnce(ctx, "manual")
				if err != nil {
					return nil, err
				}
				return []string{fmt.Sprintf("rows expired=%d", n)}, nil
			})
		},
	}

	var userID uint
	revoke := &cobra.Command{
		Use:   "revoke-user",
		Short: "Revoke every session and API token of a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == 0 {
				return errors.New("--user-id is required")
			}
			return execute(opts, "authctl tokens revoke-user", nil, func(ctx context.Context, admin *di.Admin) ([]string, error) {
				n, err := admin.Auth.RevokeUserTokens(ctx, userID)
				if err != nil {
					return nil, err
				}
				return []string{fmt.Sprintf("user_id=%d revoked=%d", userID, n)}, nil
			})
		},
	}
	revoke.Flags().UintVar(&userID, "user-id", 0, "numeric user id")

	cmd.AddCommand(sweep, revoke)
	return cmd
}

func newUsersCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{Use: "users", Short: "Manage accounts"}

	var in struct {
		username, email, password, displayName, accountType string
	}
	create := &cobra.Command{
		Use:   "create",
		Short: "Provision an account with a verified email",
		RunE: func(cmd *cobra.Command, args []string) error {
			password := in.password
			if password == "" {
				password = os.Getenv("AUTHCTL_PASSWORD")
			}
			return execute(opts, "authctl users create", nil, func(ctx context.Context, admin *di.Admin) ([]string, error) {
				user, err := admin.Auth.ProvisionUser(ctx, service.RegisterInput{
					Username:    in.username,
					Email:       in.email,
					Password:    password,
					DisplayName: in.displayName,
					AccountType: domain.AccountType(in.accountType),
				})
				if err != nil {
					return nil, err
				}
				return []string{fmt.Sprintf("id=%d username=%s account_type=%s", user.ID, user.Username, user.AccountType)}, nil
			})
		},
	}
	create.Flags().StringVar(&in.username, "username", "", "account username")
	create.Flags().StringVar(&in.email, "email", "", "account email")
	create.Flags().StringVar(&in.password, "password", "", "initial password (defaults to $AUTHCTL_PASSWORD)")
	create.Flags().StringVar(&in.displayName, "display-name", "", "display name")
	create.Flags().StringVar(&in.accountType, "account-type", string(domain.AccountTypeStandard), "standard, creator, admin or oauth")
	_ = create.MarkFlagRequired("username")
	_ = create.MarkFlagRequired("email")

	var query repository.UserListQuery
	list := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "authctl users list", nil, func(ctx context.Context, admin *di.Admin) ([]string, error) {
				page, err := admin.Auth.ListUsers(ctx, query)
				if err != nil {
					return nil, err
				}
				details := make([]string, 0, len(page.Items)+1)
				for _, u := range page.Items {
					details = append(details, fmt.Sprintf("id=%d username=%s email=%s type=%s status=%s", u.ID, u.Username, u.Email, u.AccountType, u.Status))
				}
				details = append(details, fmt.Sprintf("page=%d/%d total=%d", page.Page, page.TotalPages, page.Total))
				return details, nil
			})
		},
	}
	list.Flags().IntVar(&query.Page, "page", 1, "page number")
	list.Flags().IntVar(&query.PageSize, "page-size", 20, "page size")
	list.Flags().StringVar(&query.Email, "email", "", "filter by email")
	list.Flags().StringVar(&query.Status, "status", "", "filter by status")
	list.Flags().StringVar(&query.AccountType, "account-type", "", "filter by account type")
	list.Flags().StringVar(&query.SortBy, "sort-by", "created_at", "sort column")
	list.Flags().StringVar(&query.SortOrder, "sort-order", "desc", "asc or desc")

	cmd.AddCommand(create, list)
	return cmd
}

// execute builds the admin service graph and runs fn behind a spinner, or
// prints one JSON result line in --ci mode.
func execute(opts *options, command string, adjust func(*config.Config), fn func(context.Context, *di.Admin) ([]string, error)) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		if opts.ci {
			common.PrintCIResult(false, command, nil, err)
		}
		return err
	}
	if adjust != nil {
		adjust(cfg)
	}
	rt := &observability.Runtime{Logger: observability.NewLogger(os.Stderr, cfg.LogLevel)}

	work := func(ctx context.Context) ([]string, error) {
		admin, cleanup, err := di.InitializeAdmin(ctx, cfg, rt)
		if err != nil {
			return nil, err
		}
		defer cleanup()
		defer func() { _ = admin.Events.Close() }()
		return fn(ctx, admin)
	}

	details, err := run(opts, command, work)
	if opts.ci {
		common.PrintCIResult(err == nil, command, details, err)
	}
	return err
}

func run(opts *options, title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
		defer cancel()
		return fn(ctx)
	}
	return ui.Run(title, func(ctx context.Context) ([]string, error) {
		ctx, cancel := context.WithTimeout(ctx, opts.timeout)
		defer cancel()
		return fn(ctx)
	})
}
