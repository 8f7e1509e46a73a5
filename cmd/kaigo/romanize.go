package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/kaigo/internal/romaji"
)

func newRomanizeCmd() *cobra.Command {
	var kanaOnly bool
	cmd := &cobra.Command{
		Use:   "romanize [text...]",
		Short: "Print the deterministic romanization of Japanese text",
		Long: `Romanize prints the Hepburn romanization kaigo falls back to when the
generator does not supply a usable one. Each argument is one line of output;
without arguments, lines are read from standard input.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var reader *romaji.Reader
			if !kanaOnly {
				r, err := romaji.NewReader()
				if err != nil {
					return err
				}
				reader = r
			}
			return romanize(cmd.OutOrStdout(), cmd.InOrStdin(), romaji.NewTransliterator(reader), args)
		},
	}
	cmd.Flags().BoolVar(&kanaOnly, "kana-only", false, "skip the dictionary kanji reading pass")
	return cmd
}

func romanize(w io.Writer, in io.Reader, t *romaji.Transliterator, args []string) error {
	if len(args) > 0 {
		for _, a := range args {
			if _, err := fmt.Fprintln(w, t.Romanize(a)); err != nil {
				return err
			}
		}
		return nil
	}

	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if _, err := fmt.Fprintln(w, t.Romanize(line)); err != nil {
			return err
		}
	}
	return sc.Err()
}
