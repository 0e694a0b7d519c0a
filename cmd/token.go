package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/randimg/internal/picker"
	"github.com/JakeFAU/randimg/internal/token"
)

func newTokenCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Encode or decode link tokens offline",
	}
	cmd.AddCommand(newTokenEncodeCmd(root), newTokenDecodeCmd(root))
	return cmd
}

func newTokenEncodeCmd(root *rootOptions) *cobra.Command {
	var (
		exclude        string
		requirePerson  bool
		smartFallback  bool
		disableFilters bool
		minWidth       int
		minHeight      int
		minBytes       int
		maxAspect      float64
	)
	cmd := &cobra.Command{
		Use:   "encode <page-url>",
		Short: "Print the token for a page URL and options",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			in := picker.ConfigInput{
				PageURL:        args[0],
				Exclude:        picker.SplitKeywords(exclude),
				DisableFilters: disableFilters,
			}
			flags := cmd.Flags()
			if flags.Changed("require-person") {
				in.RequirePerson = &requirePerson
			}
			if flags.Changed("smart-fallback") {
				in.SmartFallback = &smartFallback
			}
			if flags.Changed("min-w") {
				in.MinWidth = &minWidth
			}
			if flags.Changed("min-h") {
				in.MinHeight = &minHeight
			}
			if flags.Changed("min-bytes") {
				in.MinBytes = &minBytes
			}
			if flags.Changed("max-ar") {
				in.MaxAspect = &maxAspect
			}

			defaults := cfg.Defaults()
			sel, err := defaults.NewConfig(in)
			if err != nil {
				return err
			}
			tok, err := token.NewCodec(defaults).Encode(sel)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&exclude, "exclude", "", "comma-separated extra exclusion keywords")
	f.BoolVar(&requirePerson, "require-person", true, "require a visible person")
	f.BoolVar(&smartFallback, "smart-fallback", true, "relax thresholds tier by tier")
	f.BoolVar(&disableFilters, "disable-filters", false, "accept any decodable image of at least 120px")
	f.IntVar(&minWidth, "min-w", 0, "minimum width in pixels")
	f.IntVar(&minHeight, "min-h", 0, "minimum height in pixels")
	f.IntVar(&minBytes, "min-bytes", 0, "minimum image size in bytes")
	f.Float64Var(&maxAspect, "max-ar", 0, "maximum aspect ratio")
	return cmd
}

func newTokenDecodeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "decode <token>",
		Short: "Print the selection options carried by a token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			sel, err := token.NewCodec(cfg.Defaults()).Decode(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(sel); err != nil {
				return fmt.Errorf("encode options: %w", err)
			}
			return nil
		},
	}
}
