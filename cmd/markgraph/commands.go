package main

import (
	"github.com/spf13/cobra"
)

// buildChatCmd creates the "chat" command.
func buildChatCmd(configPath func() string) *cobra.Command {
	var (
		threadID string
		message  string
		quiet    bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the supervisor",
		Long: `Start an interactive session on a thread, or send a single message with --message.

Inside the interactive session:
  /approve [comment]   approve the pending action
  /reject [comment]    reject the pending action
  /state               print the thread state
  /quit                leave`,
		Example: `  markgraph chat --thread t1
  markgraph chat --thread t1 --message "List active campaigns of act_1001"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), cmd.OutOrStdout(), cmd.InOrStdin(), configPath(), threadID, message, quiet)
		},
	}

	cmd.Flags().StringVarP(&threadID, "thread", "t", "default", "Thread id")
	cmd.Flags().StringVarP(&message, "message", "m", "", "Send one message and exit")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Hide tool and routing events")

	return cmd
}

// buildResumeCmd creates the "resume" command answering a pending approval.
func buildResumeCmd(configPath func() string) *cobra.Command {
	var (
		threadID string
		approve  bool
		reject   bool
		comment  string
	)

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Approve or reject the pending action of a thread",
		Example: `  markgraph resume --thread t1 --approve
  markgraph resume --thread t1 --reject --comment "not during the sale"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResume(cmd.Context(), cmd.OutOrStdout(), configPath(), threadID, approve, comment)
		},
	}

	cmd.Flags().StringVarP(&threadID, "thread", "t", "default", "Thread id")
	cmd.Flags().BoolVar(&approve, "approve", false, "Approve the pending action")
	cmd.Flags().BoolVar(&reject, "reject", false, "Reject the pending action")
	cmd.Flags().StringVar(&comment, "comment", "", "Optional comment recorded with the decision")
	cmd.MarkFlagsMutuallyExclusive("approve", "reject")
	cmd.MarkFlagsOneRequired("approve", "reject")

	return cmd
}

// buildStateCmd creates the "state" command.
func buildStateCmd(configPath func() string) *cobra.Command {
	var threadID string

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Print the committed state of a thread as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runState(cmd.Context(), cmd.OutOrStdout(), configPath(), threadID)
		},
	}

	cmd.Flags().StringVarP(&threadID, "thread", "t", "default", "Thread id")
	return cmd
}

// buildForgetCmd creates the "forget" command.
func buildForgetCmd(configPath func() string) *cobra.Command {
	var threadID string

	cmd := &cobra.Command{
		Use:   "forget",
		Short: "Delete the checkpoint and stored results of a thread",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForget(cmd.Context(), cmd.OutOrStdout(), configPath(), threadID)
		},
	}

	cmd.Flags().StringVarP(&threadID, "thread", "t", "", "Thread id")
	_ = cmd.MarkFlagRequired("thread")
	return cmd
}

// buildConfigCmd creates the "config" command.
func buildConfigCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(cmd.OutOrStdout(), configPath())
		},
	}
}
