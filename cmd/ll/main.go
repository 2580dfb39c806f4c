package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"lockerline/internal/app"
	"lockerline/internal/config"
	"lockerline/internal/db"
	"lockerline/internal/domain"
	"lockerline/internal/engine"
	"lockerline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ll",
	Short: "Lockerline CLI",
	Long: `Lockerline tracks parcel locker lifecycles with event sourcing.
Every state change is a fact in an append-only log; current state is a
projection rebuilt from that log. Submit events with 'll event emit' or the
HTTP API ('ll serve'), inspect state with 'll locker show' and friends, and
check replay consistency with 'll verify'.`,
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
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("LOCKERLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(eventCmd())
	rootCmd.AddCommand(lockerCmd())
	rootCmd.AddCommand(compartmentCmd())
	rootCmd.AddCommand(reservationCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func eventCmd() *cobra.Command {
	evt := &cobra.Command{Use: "event", Short: "Submit domain events"}
	evt.AddCommand(eventEmitCmd())
	evt.AddCommand(eventIngestCmd())
	return evt
}

func eventEmitCmd() *cobra.Command {
	var (
		id, evtType, lockerID        string
		compartmentID, reservationID string
		faultEventID, occurredAt     string
		severity                     int
	)
	cmd := &cobra.Command{
		Use:   "emit",
		Short: "Submit a single event",
		RunE: func(cmd *cobra.Command, args []string) error {
			if lockerID == "" {
				return fmt.Errorf("--locker required")
			}
			t := domain.EventType(evtType)
			if !t.Known() {
				return fmt.Errorf("unknown event type %q", evtType)
			}
			payload := map[string]any{}
			if compartmentID != "" {
				payload["compartment_id"] = compartmentID
			}
			if reservationID != "" {
				payload["reservation_id"] = reservationID
			}
			if faultEventID != "" {
				payload["fault_event_id"] = faultEventID
			}
			if cmd.Flags().Changed("severity") {
				payload["severity"] = severity
			}
			if id == "" {
				id = uuid.NewString()
			}
			if occurredAt == "" {
				occurredAt = time.Now().UTC().Format(time.RFC3339)
			}
			ev := domain.Event{
				EventID:    id,
				OccurredAt: occurredAt,
				LockerID:   lockerID,
				Type:       t,
				Payload:    payload,
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				accepted, err := e.Ingest(ctx, ev)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"event_id": ev.EventID,
					"accepted": accepted,
				})
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "event id (minted if empty)")
	cmd.Flags().StringVar(&evtType, "type", "", "event type")
	cmd.Flags().StringVar(&lockerID, "locker", "", "locker id")
	cmd.Flags().StringVar(&compartmentID, "compartment", "", "compartment id")
	cmd.Flags().StringVar(&reservationID, "reservation", "", "reservation id")
	cmd.Flags().StringVar(&faultEventID, "fault-event", "", "fault event id (FaultCleared)")
	cmd.Flags().IntVar(&severity, "severity", 1, "fault severity (FaultReported)")
	cmd.Flags().StringVar(&occurredAt, "occurred-at", "", "RFC 3339 timestamp (now if empty)")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("locker")
	return cmd
}

func eventIngestCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Submit events from a JSONL file (- for stdin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				var accepted, duplicates int
				for i, line := range strings.Split(string(data), "\n") {
					if strings.TrimSpace(line) == "" {
						continue
					}
					var ev domain.Event
					if err := json.Unmarshal([]byte(line), &ev); err != nil {
						return fmt.Errorf("line %d: %w", i+1, err)
					}
					if ev.EventID == "" || ev.LockerID == "" || !ev.Type.Known() {
						return fmt.Errorf("line %d: event_id, locker_id and a known type are required", i+1)
					}
					ok, err := e.Ingest(ctx, ev)
					if err != nil {
						return fmt.Errorf("line %d: %w", i+1, err)
					}
					if ok {
						accepted++
					} else {
						duplicates++
					}
				}
				return printJSONOrTable(map[string]any{
					"accepted":   accepted,
					"duplicates": duplicates,
				})
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "-", "JSONL file of events")
	return cmd
}

func lockerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "locker", Short: "Locker views"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <locker-id>",
		Short: "Show locker summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				summary, err := e.LockerSummary(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(summary)
			})
		},
	})
	return cmd
}

func compartmentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "compartment", Short: "Compartment views"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <compartment-id>",
		Short: "Show compartment status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				status, err := e.CompartmentStatus(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(status)
			})
		},
	})
	return cmd
}

func reservationCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "reservation", Short: "Reservation views"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <reservation-id>",
		Short: "Show reservation status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				status, err := e.ReservationStatus(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(status)
			})
		},
	})
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The full record of what was submitted, including events that had no effect on the projection.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var lockerID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				events, err := e.RecentEvents(ctx, n, lockerID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Event ID", "Occurred At", "Locker", "Type"})
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.EventID, ev.OccurredAt, ev.LockerID, ev.Type})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&lockerID, "locker", "", "locker id filter")
	return cmd
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify replay consistency",
		Long:  "Rebuilds a projection from the full log and compares every locker's state hash against the live projection.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				report, err := e.VerifyReplay(ctx)
				if err != nil {
					return err
				}
				if err := printJSONOrTable(report); err != nil {
					return err
				}
				if !report.Consistent {
					return fmt.Errorf("replay mismatch for %d locker(s)", len(report.Mismatched))
				}
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace config"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default lockerline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	})
	return cfg
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			e, closeFn, err := app.OpenEngine(cmd.Context(), workspace, cfg)
			if err != nil {
				return err
			}
			defer closeFn()
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Webhooks: cfg.Webhooks})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Lockerline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (config default when empty)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (config default when empty)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	e, closeFn, err := app.OpenEngine(ctx, workspace, cfg)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, e)
}

func readInput(file string) ([]byte, error) {
	if file == "" || file == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(file)
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
