package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"clubtreasurer/internal/app"
	"clubtreasurer/internal/config"
	"clubtreasurer/internal/db"
	"clubtreasurer/internal/engine"
	"clubtreasurer/internal/logging"
	"clubtreasurer/internal/migrate"
	"clubtreasurer/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "treasurer",
	Short: "Club treasurer finance request assistant",
	Long: `Treasurer turns a member's plain description of a payment, transfer,
reimbursement or refund into a complete, validated finance request.
- Chat: the assistant works out the request type, asks for the missing details and checks them against the club rules.
- Requests: submitted records wait in pending_review until a treasurer approves, rejects or holds them.
- Codes: event codes come from the CSV directory named in treasurer.yml.
- Event log: every request change is recorded, view it with 'treasurer log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TREASURER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("provider", "", "language model provider (overrides llm.provider)")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "log as JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("provider", rootCmd.PersistentFlags().Lookup("provider"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log-json", rootCmd.PersistentFlags().Lookup("log-json"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(requestsCmd())
	rootCmd.AddCommand(codesCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(tokenCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath, jwtSecret string
	var origins []string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if jwtSecret == "" {
					jwtSecret = os.Getenv("TREASURER_JWT_SECRET")
				}
				if jwtSecret == "" {
					a.Logger.Warn("TREASURER_JWT_SECRET is not set, treasurer routes will reject every request")
				}
				handler, err := server.New(server.Config{
					Engine:         a.Engine,
					Sessions:       a.Sessions,
					Codes:          a.Directory,
					BasePath:       basePath,
					Auth:           server.AuthConfig{JWTSecret: jwtSecret},
					AllowedOrigins: origins,
					Logger:         a.Logger.Named("http"),
				})
				if err != nil {
					return err
				}
				if len(a.Config.Webhooks) > 0 {
					dispatcher := server.NewWebhookDispatcher(a.Engine.Repo, a.Config.Webhooks, a.Logger.Named("webhooks"))
					go dispatcher.Run(ctx)
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Treasurer API on http://%s%s (model: %s, OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath, a.LLM)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().StringVar(&jwtSecret, "jwt-secret", "", "HS256 secret for treasurer tokens (default $TREASURER_JWT_SECRET)")
	cmd.Flags().StringSliceVar(&origins, "allowed-origin", nil, "CORS origin allowed to call the API (repeatable)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject, secret string
	var roles []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("TREASURER_JWT_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("TREASURER_JWT_SECRET or --jwt-secret is required")
			}
			if subject == "" {
				subject = viper.GetString("actor-id")
			}
			token, err := server.SignToken(secret, subject, roles, ttl)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"token": token, "subject": subject, "roles": roles})
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject (default actor-id)")
	cmd.Flags().StringSliceVar(&roles, "role", []string{server.RoleTreasurer}, "role claim (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.Flags().StringVar(&secret, "jwt-secret", "", "HS256 secret (default $TREASURER_JWT_SECRET)")
	return cmd
}

// --- helpers ---

func newLogger() (*zap.Logger, error) {
	return logging.New(viper.GetString("log-level"), viper.GetBool("log-json"))
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()
	a, err := app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		Provider:  viper.GetString("provider"),
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// withEngine opens only the request store; it skips the code directory and
// the language model.
func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, logger.Named("engine")))
}

func loadConfig() (*config.Config, error) {
	return config.LoadOptional(viper.GetString("workspace"))
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
