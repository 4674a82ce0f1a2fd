package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-gpt2/internal/tokenizer"
)

func newTokenizeCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tokenize TEXT...",
		Short: "Show the token ids a vocabulary assigns to text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := tokenizeVocab(cmd.Context(), g)
			if err != nil {
				return err
			}
			text := strings.Join(args, " ")
			ids, err := tok.Encode(text)
			if err != nil {
				return err
			}

			var data [][]string
			for i, id := range ids {
				piece, _ := tok.Vocabulary().Token(id)
				data = append(data, []string{strconv.Itoa(i), strconv.Itoa(id), strconv.Quote(piece)})
			}
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"POS", "ID", "TOKEN"})
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetHeaderLine(false)
			table.SetBorder(false)
			table.SetNoWhiteSpace(true)
			table.SetTablePadding("    ")
			table.AppendBulk(data)
			table.Render()

			back, err := tok.Decode(ids)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d tokens, round trip %s\n", len(ids), strconv.Quote(back))
			return nil
		},
	}
}

// tokenizeVocab needs only a vocabulary, so weights are opened only when
// --vocab is absent.
func tokenizeVocab(ctx context.Context, g *globalOptions) (*tokenizer.Tokenizer, error) {
	if g.vocab != "" {
		return tokenizer.New(g.vocab)
	}
	if g.weights == "" {
		return nil, errors.New("one of --vocab or --weights is required")
	}
	if g.weights == randomWeights {
		return g.tokenizer(&loaded{label: randomWeights})
	}
	l, err := g.open(ctx)
	if err != nil {
		return nil, err
	}
	defer l.Close()
	return g.tokenizer(l)
}
