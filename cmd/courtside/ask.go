package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"courtside/internal/client"
	"courtside/internal/types"

	"github.com/spf13/cobra"
)

var (
	askSession string
	askForget  bool
	askMatch   matchFlags
)

// matchFlags describe an explicit game context for the question.
type matchFlags struct {
	id       string
	sport    string
	home     string
	away     string
	homeID   string
	awayID   string
	homeAbbr string
	awayAbbr string
}

func (m matchFlags) context() *types.GameContext {
	if m == (matchFlags{}) {
		return nil
	}
	return &types.GameContext{
		MatchID:    m.id,
		SportKey:   m.sport,
		HomeTeam:   m.home,
		AwayTeam:   m.away,
		HomeTeamID: m.homeID,
		AwayTeamID: m.awayID,
		HomeAbbr:   strings.ToUpper(m.homeAbbr),
		AwayAbbr:   strings.ToUpper(m.awayAbbr),
	}
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question against a running server",
	Long: `Streams an answer from the chat API. The conversation id is kept in the
local state file per --session, so follow-up questions continue the thread.

Without a question argument, questions are read line by line from stdin.`,
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askSession, "session", "cli", "Session whose conversation to continue")
	askCmd.Flags().BoolVar(&askForget, "new", false, "Start a fresh conversation for the session")
	askCmd.Flags().StringVar(&askMatch.id, "match", "", "Match id to analyze")
	askCmd.Flags().StringVar(&askMatch.sport, "sport", "", "Sport key, e.g. basketball_nba")
	askCmd.Flags().StringVar(&askMatch.home, "home", "", "Home team name")
	askCmd.Flags().StringVar(&askMatch.away, "away", "", "Away team name")
	askCmd.Flags().StringVar(&askMatch.homeID, "home-id", "", "Home team provider id")
	askCmd.Flags().StringVar(&askMatch.awayID, "away-id", "", "Away team provider id")
	askCmd.Flags().StringVar(&askMatch.homeAbbr, "home-abbr", "", "Home team abbreviation")
	askCmd.Flags().StringVar(&askMatch.awayAbbr, "away-abbr", "", "Away team abbreviation")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	state, err := client.OpenState(cfg.Client.StatePath)
	if err != nil {
		return err
	}
	defer state.Close()
	if askForget {
		if err := state.Forget(askSession); err != nil {
			return err
		}
	}

	timeouts := cfg.GetClientTimeouts()
	c := client.New(client.Options{BaseURL: cfg.Client.BaseURL, Timeouts: timeouts})
	defer c.Close()

	sess, err := client.NewSession(c, client.SessionOptions{
		SessionID:      askSession,
		State:          state,
		Hydrator:       client.NewCitationHydrator(cfg.Client.CitationCacheSize),
		RedrawInterval: timeouts.RedrawInterval,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(args) > 0 {
		return printReply(out, sess.Send(ctx, strings.Join(args, " "), askMatch.context()))
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		q := strings.TrimSpace(scanner.Text())
		if q == "" {
			continue
		}
		if err := printReply(out, sess.Send(ctx, q, askMatch.context())); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	return scanner.Err()
}

func printReply(w io.Writer, r client.Reply) error {
	if r.Turn.ThoughtTrace != "" {
		fmt.Fprintf(w, "(thinking) %s\n\n", r.Turn.ThoughtTrace)
	}
	fmt.Fprintln(w, r.Turn.Content)
	for i, src := range r.Turn.GroundingSources {
		fmt.Fprintf(w, "  [%d] %s\n", i+1, src.URI)
	}
	fmt.Fprintf(w, "-- %s (attempt %d, %d picks)\n", r.Reason, r.Attempt, r.Picks)
	return r.Err
}
