package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/onvotar-bot/internal/config"
)

var checkJSON bool

var checkCmd = &cobra.Command{
	Use:   "check [DNI DATA_NAIXEMENT CODI_POSTAL]",
	Short: "Print the replies a message would get",
	Long: `Runs validation and the configured lookup backend for a message text and
prints the replies, without any chat transport.`,
	Example: `  onvotar check 00001714N 01/10/2017 01234`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runCheck,
}

func init() {
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "output outcome and replies as JSON")
	rootCmd.AddCommand(checkCmd)
}

type checkOutput struct {
	Outcome string   `json:"outcome"`
	Replies []string `json:"replies"`
	Error   string   `json:"error,omitempty"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	a, err := bootstrap(config.ModeCheck, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	rep := a.responder.Respond(cmd.Context(), strings.Join(args, " "))

	if checkJSON {
		out := checkOutput{Outcome: rep.Outcome, Replies: rep.Messages}
		if out.Replies == nil {
			out.Replies = []string{}
		}
		if rep.Err != nil {
			out.Error = rep.Err.Error()
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	out := cmd.OutOrStdout()
	for i, msg := range rep.Messages {
		if i > 0 {
			fmt.Fprintln(out, "---")
		}
		fmt.Fprintln(out, msg)
	}
	if rep.Err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "lookup failed: %v\n", rep.Err)
	}
	return nil
}
