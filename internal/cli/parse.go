package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/storytrim/server/internal/config"
	"github.com/storytrim/server/internal/parsers"
)

func newParseCommand() *cobra.Command {
	var rulesPath string

	cmd := &cobra.Command{
		Use:   "parse <file.txt>",
		Short: "Split a TXT novel into chapters and print the result",
		Long: `Runs the chapter parser the reader apps use on a local TXT file and prints
the rule that won and every chapter found. Rules default to the built-in set;
--rules points at a YAML or JSON file with a "parser" section or a top level
"rules" list.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			text, err := parsers.DecodeText(raw)
			if err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}

			var rules []parsers.Rule
			if rulesPath != "" {
				rules, err = loadRulesFile(rulesPath)
				if err != nil {
					return err
				}
			}

			result := parsers.ParseBook(text, rules)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Rule: %s\n", result.RuleName)
			fmt.Fprintf(out, "Book MD5: %s\n", result.BookMD5)
			fmt.Fprintf(out, "Chapters: %d\n\n", len(result.Chapters))
			for _, ch := range result.Chapters {
				fmt.Fprintf(out, "%4d  %-40s %7d words  %s\n", ch.Index, ch.Title, ch.WordsCount, ch.MD5)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&rulesPath, "rules", "", "YAML or JSON file with chapter title rules")
	return cmd
}

func loadRulesFile(path string) ([]parsers.Rule, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}

	var p config.Parser
	var err error
	if v.IsSet("parser") {
		err = v.UnmarshalKey("parser", &p)
	} else {
		err = v.Unmarshal(&p)
	}
	if err != nil {
		return nil, fmt.Errorf("decode rules %s: %w", path, err)
	}
	if len(p.Rules) == 0 {
		return nil, fmt.Errorf("no rules found in %s", path)
	}
	return config.NewParserRulesStore(p).Rules(), nil
}
