package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dshills/lspmux/internal/lsp"
)

var flagMatchesOnly bool

var rankCmd = &cobra.Command{
	Use:   "rank <typed> <label>...",
	Short: "Rank completion labels against typed text",
	Long:  "Orders labels the way completion proposals are ordered: exact, then prefix, then subsequence matches, each case-sensitive before case-insensitive.",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		proposals := rankLabels(args[0], args[1:])
		return formatProposals(cmd.OutOrStdout(), proposals, flagMatchesOnly)
	},
}

func init() {
	rankCmd.Flags().BoolVar(&flagMatchesOnly, "matches", false, "omit labels that do not match")
}

// rankLabels builds a proposal per label and sorts them.
func rankLabels(typed string, labels []string) []*lsp.Proposal {
	filter := func() (string, error) { return typed, nil }
	proposals := make([]*lsp.Proposal, 0, len(labels))
	for _, label := range labels {
		proposals = append(proposals, lsp.NewProposal(lsp.CompletionItem{Label: label}, filter))
	}
	lsp.SortProposals(proposals)
	return proposals
}

func formatProposals(w io.Writer, proposals []*lsp.Proposal, matchesOnly bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tCATEGORY\tSCORE")
	for _, p := range proposals {
		if matchesOnly && !p.Category.Matched() {
			continue
		}
		score := "-"
		if p.Score != lsp.Unscored {
			score = fmt.Sprintf("%g", p.Score)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Item.Label, p.Category, score)
	}
	return tw.Flush()
}
