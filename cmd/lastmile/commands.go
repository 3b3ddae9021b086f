package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"text/tabwriter"
	"time"

	"github.com/BearBump/LastMile/config"
	"github.com/BearBump/LastMile/internal/broker/kafka"
	"github.com/BearBump/LastMile/internal/broker/messages"
	"github.com/BearBump/LastMile/internal/services/syncer"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type cli struct {
	f          factories
	configPath string
	cfg        *config.Config
}

func newRootCommand(f factories) *cobra.Command {
	c := &cli{f: f}
	cmd := &cobra.Command{
		Use:   "lastmile",
		Short: "Last-mile field agent",
		Long: `lastmile runs on the driver's or dispatcher's device: it keeps the offline
status update queue, composes delivery routes and syncs with the carrier backend.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := &config.Config{}
			if c.configPath != "" {
				var err error
				if cfg, err = config.LoadConfig(c.configPath); err != nil {
					return err
				}
			}
			applyDefaults(cfg)
			slog.SetDefault(newLogger(cfg.Log))
			c.cfg = cfg
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", os.Getenv("configPath"), "Path to the YAML config")
	cmd.AddCommand(
		c.newServeCmd(),
		c.newDrainCmd(),
		c.newQueueCmd(),
		c.newLoginCmd(),
		c.newLogoutCmd(),
		c.newRoutesCmd(),
		c.newEventsCmd(),
	)
	return cmd
}

func (c *cli) withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := bootstrap(ctx, c.cfg, c.f)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func (c *cli) newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent: loopback API, sync loop and event forwarding",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				c.cfg.Agent.HTTPAddr = addr
			}
			return c.withApp(cmd.Context(), func(a *app) error {
				lis, err := net.Listen("tcp", a.cfg.Agent.HTTPAddr)
				if err != nil {
					return err
				}
				var pub kafka.Publisher
				if a.cfg.Kafka.Enabled() {
					pub = c.f.newPublisher(a.cfg)
				}
				err = runServe(cmd.Context(), a, lis, pub, serveOpts{swaggerPath: a.cfg.Agent.SwaggerPath})
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides agent.http_addr)")
	return cmd
}

func (c *cli) newDrainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Send queued status updates now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				a.carrier.Detect(cmd.Context())
				if a.session.Token() == "" {
					return errors.New("not logged in")
				}
				rep, err := a.syncer.RunOnce(cmd.Context(), syncer.ReasonRefresh)
				printJSON(cmd.OutOrStdout(), rep)
				return err
			})
		},
	}
}

func (c *cli) newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the offline update queue",
	}
	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List queued updates, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				entries := a.queue.List()
				if asJSON {
					printJSON(cmd.OutOrStdout(), entries)
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tAWB\tEVENT\tSTATUS\tATTEMPTS\tTIME\tERROR")
				for _, e := range entries {
					msg := ""
					if e.ErrorMessage != nil {
						msg = *e.ErrorMessage
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
						e.ID, e.AWB, e.EventID, e.Status, e.Attempts, e.Timestamp.Local().Format(time.DateTime), msg)
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "Print JSON")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every queued update",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				n, err := a.queue.Clear(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d\n", n)
				return nil
			})
		},
	}
	cmd.AddCommand(list, clearCmd)
	return cmd
}

func (c *cli) newLoginCmd() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in against the carrier backend and store the token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("LASTMILE_PASSWORD")
			}
			return c.withApp(cmd.Context(), func(a *app) error {
				a.carrier.Detect(cmd.Context())
				s, err := a.session.Login(cmd.Context(), username, password)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s (%s)\n", s.User.Username, s.User.Role)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (or LASTMILE_PASSWORD)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func (c *cli) newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				return a.session.Logout(cmd.Context())
			})
		},
	}
}

func (c *cli) newRoutesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Inspect locally composed routes",
	}
	var date, driver string
	list := &cobra.Command{
		Use:   "list",
		Short: "List routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				printJSON(cmd.OutOrStdout(), a.routes.ListRoutes(date, driver))
				return nil
			})
		},
	}
	list.Flags().StringVar(&date, "date", "", "YYYY-MM-DD")
	list.Flags().StringVar(&driver, "driver", "", "Driver id")
	cmd.AddCommand(list)
	return cmd
}

type eventConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
	Close() error
}

func (c *cli) newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Forwarded agent events",
	}
	var group string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print agent events from kafka",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !c.cfg.Kafka.Enabled() {
				return errors.New("kafka is not configured")
			}
			cons := kafka.NewConsumer(c.cfg.Kafka.Brokers(), c.cfg.Kafka.EventsTopic, group)
			err := tailEvents(cmd.Context(), cons, cmd.OutOrStdout())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	tail.Flags().StringVar(&group, "group", "", "Consumer group (empty reads the topic without committing offsets)")
	cmd.AddCommand(tail)
	return cmd
}

func tailEvents(ctx context.Context, cons eventConsumer, w io.Writer) error {
	defer cons.Close()
	return cons.Consume(ctx, func(key, value []byte) error {
		var ev messages.AgentEvent
		if err := json.Unmarshal(value, &ev); err != nil {
			slog.Warn("events tail: skipping malformed message", "key", string(key), "error", err.Error())
			return nil
		}
		_, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ev.At.Local().Format(time.DateTime), ev.DeviceID, ev.Type, string(ev.Payload))
		return err
	})
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
