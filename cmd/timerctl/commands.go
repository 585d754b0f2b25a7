package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"timersync/backend/internal/controls"
	"timersync/backend/internal/model"
	"timersync/backend/internal/reconciler"
	"timersync/backend/internal/syncclient"
)

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a new session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			mode, _ := cmd.Flags().GetString("mode")
			duration, _ := cmd.Flags().GetDuration("duration")
			label, _ := cmd.Flags().GetString("label")

			r := newReconciler(e, nil)
			session, err := r.StartSession(cmd.Context(), reconciler.StartRequest{
				ActivityID:      activityFlag(cmd),
				TimerType:       timerTypeFlag(cmd),
				Mode:            model.SessionMode(mode),
				Label:           label,
				PlannedDuration: duration,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "started %s (%s, %s)\n", session.SessionID, session.Mode, session.Label)
			return nil
		},
	}

	cmd.Flags().StringP("mode", "m", string(model.ModeOpenEnded), "Session mode (countdown, open_ended)")
	cmd.Flags().DurationP("duration", "d", 0, "Planned duration for countdown sessions")
	cmd.Flags().StringP("label", "l", "", "Session label")

	return cmd
}

func controlCmd(name, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			h := controls.NewHandler(e.store, e.relay, controls.WithLogger(e.logger))
			req := controlRequest(cmd)
			var outcome controls.Outcome
			if name == "pause" {
				outcome = h.Pause(cmd.Context(), req)
			} else {
				outcome = h.Resume(cmd.Context(), req)
			}
			return reportOutcome(cmd, name, outcome)
		},
	}
	cmd.Flags().String("session", "", "Session id the action targets")
	return cmd
}

func stopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the session and leave a completion summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			policy := controls.Policy{ForegroundOnStop: e.cfg.Local.ForegroundOnStop}
			if cmd.Flags().Changed("open-app") {
				policy.ForegroundOnStop, _ = cmd.Flags().GetBool("open-app")
			}
			h := controls.NewHandler(e.store, e.relay,
				controls.WithPolicy(policy),
				controls.WithHost(relayHost{relay: e.relay}),
				controls.WithLogger(e.logger),
			)
			return reportOutcome(cmd, "stop", h.Stop(cmd.Context(), controlRequest(cmd)))
		},
	}
	cmd.Flags().String("session", "", "Session id the action targets")
	cmd.Flags().Bool("open-app", false, "Ask a running watch to show the completion summary")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the session as every process sees it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			format, _ := cmd.Flags().GetString("output")
			view := newReconciler(e, nil).View(cmd.Context())
			return renderStatus(cmd.OutOrStdout(), newStatusOutput(view), format)
		},
	}
	cmd.Flags().StringP("output", "o", "text", "Output format (text, json, yaml)")
	return cmd
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Apply control actions as they arrive and print the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				select {
				case <-sigCh:
					cancel()
				case <-ctx.Done():
				}
			}()

			out := cmd.OutOrStdout()
			r := newReconciler(e, &printSurface{w: out})
			show := func() {
				if _, err := showCompletion(ctx, r, out); err != nil {
					e.logger.Warn("show completion summary", "error", err)
				}
			}
			show()
			if err := e.relay.Listen(ctx, navigationTopic, show); err != nil {
				return fmt.Errorf("listen for navigation: %w", err)
			}

			fmt.Fprintln(cmd.ErrOrStderr(), "watching for control actions, ctrl-c to exit")
			return r.Run(ctx)
		},
	}
}

func completeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete",
		Short: "Show and consume the summary of the last stopped session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			snapshot, err := newReconciler(e, nil).TakeCompletion(cmd.Context())
			if err != nil {
				return err
			}
			if snapshot == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no completed session")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatCompletion(*snapshot))
			return nil
		},
	}
}

func newReconciler(e *env, surface reconciler.StatusSurface) *reconciler.Reconciler {
	opts := []reconciler.Option{reconciler.WithLogger(e.logger)}
	if surface != nil {
		opts = append(opts, reconciler.WithSurface(surface))
	}
	if e.cfg.Local.ServerURL != "" {
		opts = append(opts, reconciler.WithReporter(syncclient.New(e.cfg.Local.ServerURL, e.cfg.Local.ServerToken, 10*time.Second)))
	}
	return reconciler.New(e.store, e.relay, reconciler.Config{PollInterval: e.cfg.Local.PollInterval}, opts...)
}

func controlRequest(cmd *cobra.Command) controls.Request {
	sessionID, _ := cmd.Flags().GetString("session")
	return controls.Request{
		ActivityID: activityFlag(cmd),
		TimerType:  timerTypeFlag(cmd),
		SessionID:  sessionID,
	}
}

func reportOutcome(cmd *cobra.Command, action string, outcome controls.Outcome) error {
	switch outcome {
	case controls.OutcomeRecorded:
		fmt.Fprintf(cmd.OutOrStdout(), "%s recorded\n", action)
		return nil
	case controls.OutcomeSuperseded:
		fmt.Fprintf(cmd.OutOrStdout(), "%s ignored: a stop is already pending\n", action)
		return nil
	default:
		return errors.New(action + " could not be recorded")
	}
}
