package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"filingkit/internal/app"
	"filingkit/internal/config"
	"filingkit/internal/db"
	"filingkit/internal/engine"
	"filingkit/internal/formspec"
	"filingkit/internal/intake"
	"filingkit/internal/render"
	"filingkit/internal/server"
	"filingkit/internal/storage"
	"filingkit/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "filingkit",
	Short: "Business formation document generator",
	Long: `filingkit turns business intake data into the documents needed to form a company:
- SS-4: the IRS application for an Employer Identification Number.
- Articles: the state filing (Articles of Organization for an LLC, Articles of Incorporation for a corporation).
Each document is produced by the best available method: filling the official PDF form, stamping text onto it,
building a clean PDF from scratch, or as a last resort a plain-text summary.
Workspace: a .filingkit directory holding the audit log and locally stored objects; configuration lives in filingkit.yml.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if err := loadDotEnv(workspace); err != nil {
			return err
		}
		logger.InitWriter(logger.Config{Level: viper.GetString("log-level")}, os.Stderr)
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
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FILINGKIT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/filingkit.yml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(formsCmd())
	rootCmd.AddCommand(storageCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(configCmd())
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				cfg := rt.Config
				logger.Init(cfg.Log)
				if cfg.Auth.SharedSecret == "" {
					return fmt.Errorf("FILINGKIT_SHARED_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{
					Engine:      rt.Engine,
					Events:      rt.Events,
					Store:       rt.Store,
					BasePath:    cfg.Server.BasePath,
					Auth:        server.AuthConfig{SharedSecret: cfg.Auth.SharedSecret},
					CORSOrigins: cfg.Server.CORSOrigins,
				})
				if err != nil {
					return err
				}
				if d := server.NewWebhookDispatcher(rt.Events, cfg.Webhooks); d != nil {
					go d.Run(ctx)
				}
				srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving filingkit API on http://%s%s (OpenAPI at %s, Swagger UI at %s)\n",
					cfg.Server.Addr, cfg.Server.BasePath,
					path.Join(cfg.Server.BasePath, "openapi.json"), path.Join(cfg.Server.BasePath, "docs"))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().String("addr", "", "listen address (default from config)")
	cmd.Flags().String("base-path", "", "API base path (default from config)")
	_ = viper.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("base-path", cmd.Flags().Lookup("base-path"))
	return cmd
}

func generateCmd() *cobra.Command {
	var file, out string
	var store bool
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate documents from an intake JSON file",
		Example: `  filingkit generate --file intake.json --out ./docs
  filingkit generate --file intake.json --offline --store`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(file)
			if err != nil {
				return err
			}
			in, err := intake.FromJSON(data)
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, genErr := rt.Engine.Generate(ctx, in)
				if errors.Is(genErr, engine.ErrIntakeInvalid) {
					return genErr
				}
				if err := os.MkdirAll(out, 0o755); err != nil {
					return err
				}
				batch := uuid.NewString()
				rows := make([]table.Row, 0, len(res.Documents))
				for _, id := range sortedIDs(res.Documents) {
					doc := res.Documents[id]
					body, err := doc.Bytes()
					if err != nil {
						return fmt.Errorf("%s: %w", id, err)
					}
					target := filepath.Join(out, doc.Filename)
					if err := os.WriteFile(target, body, 0o644); err != nil {
						return err
					}
					if store {
						key := path.Join("documents", batch, doc.Filename)
						if _, err := rt.Store.Put(ctx, storage.Object{Key: key, ContentType: doc.MimeType}, body); err != nil {
							return err
						}
					}
					pages := "-"
					if doc.MimeType == render.MimePDF {
						if n, err := render.PageCount(body); err == nil {
							pages = fmt.Sprint(n)
						}
					}
					rows = append(rows, table.Row{id, doc.Variant, doc.Method, doc.MimeType, target, pages})
				}
				if viper.GetBool("json") {
					if err := printJSON(res); err != nil {
						return err
					}
				} else {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"Form", "Variant", "Method", "MIME", "File", "Pages"})
					tw.AppendRows(rows)
					tw.Render()
				}
				return genErr
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "intake JSON file (- for stdin)")
	cmd.Flags().StringVarP(&out, "out", "o", ".", "output directory")
	cmd.Flags().Bool("offline", false, "skip template downloads and synthesize documents")
	cmd.Flags().BoolVar(&store, "store", false, "also keep the documents in object storage")
	_ = cmd.MarkFlagRequired("file")
	_ = viper.BindPFlag("offline", cmd.Flags().Lookup("offline"))
	return cmd
}

func formsCmd() *cobra.Command {
	forms := &cobra.Command{Use: "forms", Short: "Inspect the form catalog"}
	forms.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List form variants",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := formspec.Default()
			if err != nil {
				return err
			}
			specs := catalog.List()
			if viper.GetBool("json") {
				return printJSON(specs)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Variant", "Form", "Title", "States", "Entities", "Template"})
			for _, s := range specs {
				tpl := "no"
				if s.HasTemplate() {
					tpl = "yes"
				}
				tw.AppendRow(table.Row{s.Variant, s.ID, s.Title, strings.Join(s.Jurisdictions, ","), strings.Join(s.EntityTypes, ","), tpl})
			}
			tw.Render()
			return nil
		},
	})
	forms.AddCommand(&cobra.Command{
		Use:   "show <variant>",
		Short: "Show a form variant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := formspec.Default()
			if err != nil {
				return err
			}
			s, ok := catalog.Get(args[0])
			if !ok {
				return fmt.Errorf("unknown form variant %q", args[0])
			}
			if viper.GetBool("json") {
				return printJSON(s)
			}
			fmt.Printf("%s (%s)\nfile: %s\ntemplate: %s\n", s.Title, s.Variant, s.Filename, orDash(s.TemplateURL))
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"#", "Label", "Intake key"})
			for i, l := range s.Labels {
				tw.AppendRow(table.Row{i + 1, l.Label, l.Key})
			}
			tw.Render()
			return nil
		},
	})
	return forms
}

func storageCmd() *cobra.Command {
	st := &cobra.Command{Use: "storage", Short: "Manage stored objects"}

	var prefix string
	ls := &cobra.Command{
		Use:   "ls",
		Short: "List objects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Store.List(ctx, prefix)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Key", "Type", "Size", "Updated"})
				for _, o := range items {
					tw.AppendRow(table.Row{o.Key, o.ContentType, o.Size, o.UpdatedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	ls.Flags().StringVar(&prefix, "prefix", "", "key prefix")

	var key, contentType string
	put := &cobra.Command{
		Use:   "put <file>",
		Short: "Upload a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if key == "" {
				key = filepath.Base(args[0])
			}
			if contentType == "" {
				contentType = mime.TypeByExtension(filepath.Ext(args[0]))
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				obj, err := rt.Store.Put(ctx, storage.Object{Key: key, ContentType: contentType}, data)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(obj)
				}
				fmt.Printf("stored %s (%d bytes)\n", obj.Key, obj.Size)
				return nil
			})
		},
	}
	put.Flags().StringVar(&key, "key", "", "object key (default file name)")
	put.Flags().StringVar(&contentType, "content-type", "", "content type (default from extension)")

	var outPath string
	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Download an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				obj, data, err := rt.Store.Get(ctx, args[0])
				if err != nil {
					return err
				}
				target := outPath
				if target == "" {
					target = path.Base(obj.Key)
				}
				if target == "-" {
					_, err := os.Stdout.Write(data)
					return err
				}
				return os.WriteFile(target, data, 0o644)
			})
		},
	}
	get.Flags().StringVarP(&outPath, "out", "o", "", "output file (- for stdout)")

	rm := &cobra.Command{
		Use:   "rm <key>",
		Short: "Delete an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				return rt.Store.Delete(ctx, args[0])
			})
		},
	}

	st.AddCommand(ls, put, get, rm)
	return st
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Audit log"}
	var n int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest generation events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				evts, err := rt.Events.Latest(ctx, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Request", "Subject", "OK", "Forms"})
				for _, e := range evts {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.RequestID, e.Subject, e.Success, formsSummary(e.Payload["forms"])})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVarP(&n, "n", "n", 20, "number of events")
	log.AddCommand(tail)
	return log
}

func tokenCmd() *cobra.Command {
	tok := &cobra.Command{Use: "token", Short: "API tokens"}
	var subject string
	var ttl time.Duration
	mint := &cobra.Command{
		Use:   "mint",
		Short: "Mint an HS256 token signed with the shared secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ResolveConfig(viper.GetString("workspace"), overrides())
			if err != nil {
				return err
			}
			token, err := server.MintToken(cfg.Auth.SharedSecret, subject, ttl, time.Now())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"token": token, "subject": subject})
			}
			fmt.Println(token)
			return nil
		},
	}
	mint.Flags().StringVar(&subject, "subject", "", "token subject")
	mint.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for no expiry)")
	_ = mint.MarkFlagRequired("subject")
	tok.AddCommand(mint)
	return tok
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage filingkit.yml"}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default filingkit.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			target := config.Path(workspace)
			if _, err := os.Stat(target); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", target)
			}
			if err := os.WriteFile(target, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", target)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and open the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				version, err := rt.SchemaVersion(ctx)
				if err != nil {
					return err
				}
				c := *rt.Config
				if viper.GetBool("json") {
					c.Auth.SharedSecret = redact(c.Auth.SharedSecret)
					c.Storage.Minio.SecretKey = redact(c.Storage.Minio.SecretKey)
					hooks := make([]config.Webhook, len(c.Webhooks))
					for i, h := range c.Webhooks {
						h.Secret = redact(h.Secret)
						hooks[i] = h
					}
					c.Webhooks = hooks
					return printJSON(map[string]any{"config": c, "schema_version": version})
				}
				fmt.Printf("config ok (storage=%s, offline=%t, secret set=%t, schema v%d)\n",
					c.Storage.Backend, c.Fetch.Offline, c.Auth.SharedSecret != "", version)
				return nil
			})
		},
	}
	cfg.AddCommand(initCmd, validate)
	return cfg
}

// --- helpers ---

func overrides() app.Overrides {
	return app.Overrides{
		ConfigPath:     viper.GetString("config"),
		SharedSecret:   viper.GetString("shared-secret"),
		Addr:           viper.GetString("addr"),
		BasePath:       viper.GetString("base-path"),
		StorageBackend: viper.GetString("storage-backend"),
		LogLevel:       viper.GetString("log-level"),
		Offline:        viper.GetBool("offline"),
	}
}

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := app.ResolveConfig(workspace, overrides())
	if err != nil {
		return err
	}
	rt, err := app.Open(ctx, workspace, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func loadDotEnv(workspace string) error {
	if workspace == "" {
		workspace = "."
	}
	err := godotenv.Load(filepath.Join(workspace, ".env"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func readInput(file string) ([]byte, error) {
	if file == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(file)
}

func sortedIDs(docs map[string]engine.Document) []string {
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func formsSummary(v any) string {
	forms, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	parts := make([]string, 0, len(forms))
	for id, meta := range forms {
		method := ""
		if m, ok := meta.(map[string]any); ok {
			method, _ = m["method"].(string)
		}
		parts = append(parts, id+"="+method)
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
