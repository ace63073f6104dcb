// Package cli implements the aistream command line tool.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

type app struct {
	configPath string
	stdout     io.Writer
	stderr     io.Writer
}

func NewRootCommand() *cobra.Command {
	return newRootCommand(os.Stdout, os.Stderr)
}

func newRootCommand(out, errOut io.Writer) *cobra.Command {
	a := &app{stdout: out, stderr: errOut}

	cmd := &cobra.Command{
		Use:           "aistream",
		Short:         "Stream AI API responses from the command line",
		Long:          "aistream opens a streaming or single-shot lifecycle against an AI API and prints every accepted message as a JSON line.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a YAML config file")

	cmd.AddCommand(
		newChatCmd(a),
		newVersionCmd(),
	)
	cmd.SetVersionTemplate(fmt.Sprintf("aistream {{.Version}} (commit %s, built %s)\n", Commit, BuildDate))
	return cmd
}
