package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"clubtreasurer/internal/app"
	"clubtreasurer/internal/config"
	"clubtreasurer/internal/domain"
	"clubtreasurer/internal/engine"
	"clubtreasurer/internal/repo"
)

func requestsCmd() *cobra.Command {
	req := &cobra.Command{
		Use:     "requests",
		Aliases: []string{"request"},
		Short:   "Review submitted finance requests",
	}
	req.AddCommand(requestListCmd())
	req.AddCommand(requestShowCmd())
	for _, action := range []engine.Action{engine.ActionApprove, engine.ActionReject, engine.ActionHold, engine.ActionReopen} {
		req.AddCommand(requestDecideCmd(action))
	}
	return req
}

func requestListCmd() *cobra.Command {
	var f repo.RequestFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.List(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Form", "Member", "Amount", "Code", "Status", "Created"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.FormType.DisplayName(), r.MemberID, fmt.Sprintf("%.2f", r.Amount), r.EventCode, r.Status, r.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter (pending_review, approved, rejected, on_hold)")
	cmd.Flags().StringVar(&f.FormType, "form", "", "form type filter")
	cmd.Flags().StringVar(&f.MemberID, "member", "", "member filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	return cmd
}

func requestShowCmd() *cobra.Command {
	var withEvents bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if !withEvents {
					return printJSONOrTable(r)
				}
				evts, err := e.RequestEvents(ctx, r.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"request": r, "events": evts})
			})
		},
	}
	cmd.Flags().BoolVar(&withEvents, "events", false, "include the request history")
	return cmd
}

func requestDecideCmd(action engine.Action) *cobra.Command {
	var notes, treasurer string
	cmd := &cobra.Command{
		Use:   string(action) + " <id>",
		Short: strings.ToUpper(string(action[:1])) + string(action[1:]) + " a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if treasurer == "" {
				treasurer = viper.GetString("actor-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.Decide(ctx, engine.DecideOptions{ID: args[0], Action: action, Treasurer: treasurer, Notes: notes})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(r)
				}
				fmt.Printf("%s is now %s\n", r.ID, r.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "decision notes (required to reject)")
	cmd.Flags().StringVar(&treasurer, "treasurer", "", "treasurer recording the decision (default actor-id)")
	return cmd
}

func codesCmd() *cobra.Command {
	codes := &cobra.Command{
		Use:   "codes",
		Short: "Browse the event code directory",
	}
	codes.AddCommand(codesListCmd())
	codes.AddCommand(codesSuggestCmd())
	return codes
}

func codesListCmd() *cobra.Command {
	var club string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List event codes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if !a.Directory.Loaded() {
					return fmt.Errorf("no code directory loaded (set codes.path in %s)", config.FileName)
				}
				var items []domain.CodeEntry
				for _, c := range a.Directory.Entries() {
					if club == "" || strings.EqualFold(c.Club, club) {
						items = append(items, c)
					}
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Code", "Club", "Event", "Category", "Tax"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.Code, c.Club, c.Event, c.Category, c.TaxStatus})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&club, "club", "", "club filter")
	return cmd
}

func codesSuggestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suggest <club> [event]",
		Short: "Suggest an event code for a club and event",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			event := ""
			if len(args) > 1 {
				event = args[1]
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				sug, ok := a.Directory.Suggest(args[0], event)
				if !ok {
					return fmt.Errorf("no code found for club %q", args[0])
				}
				if viper.GetBool("json") {
					return printJSON(sug)
				}
				fmt.Printf("%s  %s / %s  (confidence %.2f)\n", sug.Code, sug.Club, sug.Event, sug.Confidence)
				return nil
			})
		},
	}
	return cmd
}

func validateCmd() *cobra.Command {
	var form, file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a record of fields against the club rules",
		Long:  "Validate reads a YAML or JSON object of field values and runs the same checks as the conversation does before submission.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ft, err := domain.ParseFormType(form)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var fields map[string]any
			if err := yaml.Unmarshal(data, &fields); err != nil {
				return fmt.Errorf("parse %s: %w", file, err)
			}
			normalizeFields(fields)
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res := a.Validator.Validate(fields, ft)
				if viper.GetBool("json") {
					return printJSON(res)
				}
				for _, e := range res.Errors {
					fmt.Println("error:  ", e)
				}
				for _, w := range res.Warnings {
					fmt.Println("warning:", w)
				}
				if !res.CanSubmit {
					return fmt.Errorf("record cannot be submitted (%d errors)", len(res.Errors))
				}
				fmt.Println("record OK")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&form, "form", "", "form type (supplier_payment, internal_transfer, expense_reimbursement, refund_request)")
	cmd.Flags().StringVar(&file, "file", "", "YAML or JSON file of field values")
	_ = cmd.MarkFlagRequired("form")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// normalizeFields turns YAML timestamps back into dates.
func normalizeFields(fields map[string]any) {
	for k, v := range fields {
		if t, ok := v.(time.Time); ok {
			fields[k] = t.Format("2006-01-02")
		}
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config is treasurer.yml in the workspace: organisation defaults, the code directory path, approval rules per form type, the language model and webhooks.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default treasurer.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"path": path})
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate treasurer.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				evts, err := e.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Actor", "Payload"})
				for _, evt := range evts {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}
