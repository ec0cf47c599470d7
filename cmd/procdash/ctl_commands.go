package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/procdash/pkg/client"
)

func createCtlCommand(rootFlags *RootFlags, flags *CtlFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ctl",
		Short: "Control a running procdash through its HTTP API",
		Long: `Query and control the processes of a procdash instance started with
[api].listen or --api-listen.

Examples:
  procdash ctl list
  procdash ctl restart web
  procdash ctl logs web --tail=50
  procdash ctl list --api-url=https://127.0.0.1:9090/api --ca-cert=certs/tls_ca.crt`,
	}
	cmd.PersistentFlags().StringVar(&flags.APIUrl, "api-url", client.DefaultBaseURL, "procdash API base URL")
	cmd.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", client.DefaultTimeout, "request timeout")
	cmd.PersistentFlags().StringVar(&flags.CACert, "ca-cert", "", "CA certificate to trust for https")
	cmd.PersistentFlags().BoolVar(&flags.Insecure, "insecure", false, "skip TLS certificate verification")

	logs := &cobra.Command{
		Use:   "logs NAME",
		Short: "Print captured output of a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, rootFlags, flags, func(ctx context.Context, c *client.Client) error {
				l, err := c.Logs(ctx, args[0], flags.Tail)
				if err != nil {
					return err
				}
				for _, line := range l.Lines {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), line)
				}
				return nil
			})
		},
	}
	logs.Flags().IntVar(&flags.Tail, "tail", 0, "only the last N lines")

	hist := &cobra.Command{
		Use:   "history NAME",
		Short: "Print recorded lifecycle events of a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, rootFlags, flags, func(ctx context.Context, c *client.Client) error {
				events, err := c.History(ctx, args[0], flags.Limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), events)
			})
		},
	}
	hist.Flags().IntVar(&flags.Limit, "limit", 20, "maximum number of events")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List processes and their status",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withClient(cmd, rootFlags, flags, func(ctx context.Context, c *client.Client) error {
					list, err := c.List(ctx)
					if err != nil {
						return err
					}
					return printStatusTable(cmd.OutOrStdout(), list)
				})
			},
		},
		createCtlActionCommand(rootFlags, flags, "start", (*client.Client).Start),
		createCtlActionCommand(rootFlags, flags, "stop", (*client.Client).Stop),
		createCtlActionCommand(rootFlags, flags, "restart", (*client.Client).Restart),
		logs,
		hist,
	)
	return cmd
}

type ctlAction func(*client.Client, context.Context, string) (client.ProcessStatus, error)

func createCtlActionCommand(rootFlags *RootFlags, flags *CtlFlags, verb string, fn ctlAction) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " NAME",
		Short: fmt.Sprintf("%s a process", verb),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, rootFlags, flags, func(ctx context.Context, c *client.Client) error {
				st, err := fn(c, ctx, args[0])
				if err != nil {
					return err
				}
				return printStatusTable(cmd.OutOrStdout(), []client.ProcessStatus{st})
			})
		},
	}
}

func withClient(cmd *cobra.Command, rootFlags *RootFlags, flags *CtlFlags, fn func(context.Context, *client.Client) error) error {
	cmd.SilenceUsage = true
	c, err := client.New(client.Config{
		BaseURL:  flags.APIUrl,
		Timeout:  flags.APITimeout,
		Logger:   cliLogger(cmd.ErrOrStderr(), rootFlags.Debug),
		CACert:   flags.CACert,
		Insecure: flags.Insecure,
	})
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, c)
}

func printStatusTable(w io.Writer, list []client.ProcessStatus) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tSTATUS\tPID\tPORT\tUPTIME\tEXIT")
	for _, st := range list {
		pid, port, exit := "-", "-", "-"
		if st.PID != 0 {
			pid = fmt.Sprint(st.PID)
		}
		if st.Port != 0 {
			port = fmt.Sprint(st.Port)
		}
		if st.Exit != nil {
			if st.Exit.Signal != "" {
				exit = "signal " + st.Exit.Signal
			} else {
				exit = fmt.Sprint(st.Exit.Code)
			}
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", st.Name, st.Status, pid, port, st.Uptime.Truncate(time.Second), exit)
	}
	return tw.Flush()
}
