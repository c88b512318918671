package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"concierge/internal/config"
	"concierge/internal/orchestrator"
	"concierge/internal/recency"
	"concierge/internal/threads"
	"concierge/internal/trace"
)

func newRootCmd() *cobra.Command {
	v := config.New()
	var cfgFile string

	load := func() (*app, error) {
		cfg, err := config.Load(v, cfgFile)
		if err != nil {
			return nil, err
		}
		return openApp(cfg)
	}

	root := &cobra.Command{
		Use:   "concierge",
		Short: "Compliance concierge chat client",
		Long: `concierge is a terminal client for the compliance concierge workflow.

Questions are sent with your email and role; the workflow checks them against
access policy before answering. Every conversation is kept as a thread.

Run without arguments to start the interactive chat interface.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfgFile, _ = cmd.Flags().GetString("config")
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()
			return runTUI(a)
		},
	}
	if err := config.RegisterFlags(root, v); err != nil {
		panic(err)
	}

	root.AddCommand(newAskCmd(load), newThreadsCmd(load))
	return root
}

func runTUI(a *app) error {
	opts := []tea.ProgramOption{tea.WithMouseCellMotion()}
	if a.cfg.UI.AltScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	p := tea.NewProgram(newModel(a), opts...)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("concierge fatal error: %w", err)
	}
	return nil
}

func newAskCmd(load func() (*app, error)) *cobra.Command {
	var threadID string
	var showTrace bool
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()
			return runAsk(cmd.Context(), a, cmd.OutOrStdout(), threadID, strings.Join(args, " "), showTrace)
		},
	}
	cmd.Flags().StringVar(&threadID, "thread", "", "Append to an existing thread instead of starting one")
	cmd.Flags().BoolVar(&showTrace, "trace", true, "Print the execution trace after the answer")
	return cmd
}

func runAsk(ctx context.Context, a *app, out io.Writer, threadID, question string, showTrace bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	identity := a.identity()
	if threadID == "" {
		thread, err := a.repo.CreateThread(threads.Defaults{UserEmail: identity.Email, UserRole: identity.Role})
		if err != nil {
			return err
		}
		threadID = thread.ID
	} else if _, ok := a.repo.Get(threadID); !ok {
		return fmt.Errorf("thread %s: %w", threadID, threads.ErrThreadNotFound)
	}

	a.orch.Bind(threadID)
	result, err := a.orch.Submit(ctx, threadID, question, identity)
	if err != nil {
		return err
	}
	if result.Err != nil {
		fmt.Fprintf(out, "%s\n", result.Message.Content)
		return result.Err
	}

	fmt.Fprintln(out, renderMarkdown(a.cfg.UI.Markdown, result.Message.Content, 100))
	if showTrace && result.Trace != nil {
		fmt.Fprintln(out, traceSummary(*result.Trace, time.Now()))
	}
	fmt.Fprintf(out, "thread %s\n", threadID)
	return nil
}

func newThreadsCmd(load func() (*app, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "List and manage saved threads",
	}

	list := &cobra.Command{
		Use:   "list [filter]",
		Short: "List threads grouped by recency",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()
			query := ""
			if len(args) > 0 {
				query = args[0]
			}
			writeThreadList(cmd.OutOrStdout(), threads.Filter(a.repo.ListThreads(), query), time.Now())
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show <thread-id>",
		Short: "Print a thread's messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()
			thread, ok := a.repo.Get(args[0])
			if !ok {
				return fmt.Errorf("thread %s: %w", args[0], threads.ErrThreadNotFound)
			}
			writeThread(cmd.OutOrStdout(), thread, a.repo.LoadMessages(thread.ID))
			return nil
		},
	}

	rename := &cobra.Command{
		Use:   "rename <thread-id> <title>",
		Short: "Rename a thread",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()
			thread, err := a.repo.RenameThread(args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "renamed %s: %s\n", thread.ID, thread.Title)
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <thread-id>",
		Short: "Delete a thread and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()
			result, err := a.repo.DeleteThread(args[0], "")
			if err != nil {
				return err
			}
			if !result.Removed {
				return fmt.Errorf("thread %s: %w", args[0], threads.ErrThreadNotFound)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, show, rename, del)
	return cmd
}

func writeThreadList(out io.Writer, list []threads.Thread, now time.Time) {
	if len(list) == 0 {
		fmt.Fprintln(out, "no threads")
		return
	}
	for _, group := range recency.GroupThreads(list, now) {
		fmt.Fprintln(out, group.Label)
		for _, thread := range group.Threads {
			fmt.Fprintf(out, "  %s  %s  (%d msgs, %s)\n",
				thread.ID, compactSingleLine(thread.Title, 60), thread.MessageCount, nullCoalesce(thread.UserRole, "n/a"))
		}
	}
}

func writeThread(out io.Writer, thread threads.Thread, log []threads.Message) {
	fmt.Fprintf(out, "%s\n%s · %s\n\n", thread.Title, thread.UserEmail, thread.UserRole)
	for _, msg := range log {
		fmt.Fprintf(out, "%s [%s]\n%s\n", msg.Timestamp.Local().Format("2006-01-02 15:04:05"), speakerLabel(msg.Type), msg.Content)
		if msg.Trace != nil {
			fmt.Fprintf(out, "  %s\n", traceBadgeLine(*msg.Trace))
		}
		fmt.Fprintln(out)
	}
}

func traceSummary(tr trace.Trace, now time.Time) string {
	var b strings.Builder
	b.WriteString(traceBadgeLine(tr))
	for _, line := range traceDetailLines(tr, now) {
		b.WriteString("\n  ")
		b.WriteString(line)
	}
	return b.String()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if errors.Is(err, threads.ErrThreadNotFound) || errors.Is(err, orchestrator.ErrEmptyQuery) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
