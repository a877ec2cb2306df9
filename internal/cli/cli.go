package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/Additional-Code/signups/internal/app"
	"github.com/Additional-Code/signups/internal/dto"
	"github.com/Additional-Code/signups/internal/payload"
	service "github.com/Additional-Code/signups/internal/service/signup"
	"github.com/Additional-Code/signups/internal/structure"
)

// NewRootCommand builds the root signups CLI command.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "signups",
		Short:         "Signup relation proxy",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newWorkerCmd())
	root.AddCommand(newSignupCmd())

	return root
}

// Execute runs the signups CLI until it finishes or the process is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return err
	}
	return nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start", "run"},
		Short:   "Run the HTTP and gRPC services",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUntilDone(cmd.Context(), fx.New(app.Module))
		},
	}
}

func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Manage background workers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run worker engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUntilDone(cmd.Context(), fx.New(app.Worker))
		},
	})
	return cmd
}

func newSignupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Query and manage signups through the relation API",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List every signup",
			Args:  cobra.NoArgs,
			RunE: withService(func(ctx context.Context, svc *service.Service, _ []string) (any, error) {
				return svc.List(ctx)
			}),
		},
		&cobra.Command{
			Use:   "find [id]",
			Short: "Fetch a signup by id",
			Args:  cobra.ExactArgs(1),
			RunE: withService(func(ctx context.Context, svc *service.Service, args []string) (any, error) {
				return svc.View(ctx, args[0])
			}),
		},
		&cobra.Command{
			Use:   "resolve [code]",
			Short: "Fetch a signup by code",
			Args:  cobra.ExactArgs(1),
			RunE: withService(func(ctx context.Context, svc *service.Service, args []string) (any, error) {
				return svc.Resolve(ctx, args[0])
			}),
		},
		&cobra.Command{
			Use:   "query [raw query]",
			Short: "Search signups with a raw query",
			Args:  cobra.MaximumNArgs(1),
			RunE: withService(func(ctx context.Context, svc *service.Service, args []string) (any, error) {
				query := ""
				if len(args) == 1 {
					query = args[0]
				}
				return svc.Search(ctx, query)
			}),
		},
		&cobra.Command{
			Use:   "count [entry id]",
			Short: "Count the signups of an entry",
			Args:  cobra.ExactArgs(1),
			RunE: withService(func(ctx context.Context, svc *service.Service, args []string) (any, error) {
				count, err := svc.CountForEntry(ctx, args[0])
				if err != nil {
					return nil, err
				}
				return dto.CountResponse{EntryID: args[0], Count: count}, nil
			}),
		},
		&cobra.Command{
			Use:   "attr [id] [name]",
			Short: "Read a single signup attribute",
			Args:  cobra.ExactArgs(2),
			RunE: withService(func(ctx context.Context, svc *service.Service, args []string) (any, error) {
				value, err := svc.Attribute(ctx, args[0], args[1])
				if err != nil {
					return nil, err
				}
				return dto.AttributeResponse{Name: args[1], Value: dto.AttributeValue(value)}, nil
			}),
		},
		&cobra.Command{
			Use:   "delete [id]",
			Short: "Delete a signup",
			Args:  cobra.ExactArgs(1),
			RunE: withService(func(ctx context.Context, svc *service.Service, args []string) (any, error) {
				return svc.Delete(ctx, args[0])
			}),
		},
		newCreateCmd(),
	)
	return cmd
}

func newCreateCmd() *cobra.Command {
	var (
		data       string
		entryID    string
		entryModel string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a signup from a JSON object",
		Args:  cobra.NoArgs,
		RunE: withService(func(ctx context.Context, svc *service.Service, _ []string) (any, error) {
			fields, err := payload.Decode([]byte(data))
			if err != nil {
				return nil, fmt.Errorf("--data: %w", err)
			}
			if entryID != "" {
				return svc.CreateForEntry(ctx, structure.Model(entryModel), entryID, fields)
			}
			return svc.Create(ctx, fields)
		}),
	}
	cmd.Flags().StringVar(&data, "data", "{}", "Signup fields as a JSON object")
	cmd.Flags().StringVar(&entryID, "entry", "", "Attach the signup to this entry id")
	cmd.Flags().StringVar(&entryModel, "model", "", "Entry model the entry id refers to")
	return cmd
}

// withService runs fn against a started core application and prints its result as JSON.
func withService(fn func(context.Context, *service.Service, []string) (any, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		var svc *service.Service
		opts := fx.Options(app.Core, fx.Populate(&svc))
		return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
			result, err := fn(ctx, svc, args)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		})
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runUntilDone(ctx context.Context, application *fx.App) error {
	if err := application.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return application.Stop(stopCtx)
}

func runWithApp(ctx context.Context, opts fx.Option, fn func(context.Context) error) error {
	application := fx.New(opts, fx.NopLogger)
	if err := application.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = application.Stop(stopCtx)
	}()
	return fn(ctx)
}
