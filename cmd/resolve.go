package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/randimg/internal/picker"
)

type resolveOptions struct {
	exclude        string
	requirePerson  bool
	smartFallback  bool
	disableFilters bool
	trace          bool
	timeout        time.Duration
}

func newResolveCmd() *cobra.Command {
	opts := &resolveOptions{}
	cmd := &cobra.Command{
		Use:         "resolve <page-url>",
		Short:       "Pick one image from a page and print its URL",
		Annotations: map[string]string{"app": "true"},
		Args:        cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd, args[0], opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.exclude, "exclude", "", "comma-separated extra exclusion keywords")
	f.BoolVar(&opts.requirePerson, "require-person", true, "require a visible person")
	f.BoolVar(&opts.smartFallback, "smart-fallback", true, "relax thresholds tier by tier")
	f.BoolVar(&opts.disableFilters, "disable-filters", false, "accept any decodable image of at least 120px")
	f.BoolVar(&opts.trace, "trace", false, "print the selection report as JSON")
	f.DurationVar(&opts.timeout, "timeout", 60*time.Second, "overall deadline")
	return cmd
}

func runResolve(cmd *cobra.Command, pageURL string, opts *resolveOptions) error {
	a, err := appFrom(cmd.Context())
	if err != nil {
		return err
	}
	in := picker.ConfigInput{
		PageURL:        pageURL,
		Exclude:        picker.SplitKeywords(opts.exclude),
		DisableFilters: opts.disableFilters,
	}
	// Only explicit flags override configured defaults.
	if cmd.Flags().Changed("require-person") {
		in.RequirePerson = &opts.requirePerson
	}
	if cmd.Flags().Changed("smart-fallback") {
		in.SmartFallback = &opts.smartFallback
	}
	cfg, err := a.Config().Defaults().NewConfig(in)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	out := cmd.OutOrStdout()
	if opts.trace {
		res, err := a.Resolver().Diagnose(ctx, cfg)
		if err != nil {
			return err
		}
		return writeTrace(out, res, a.Config().Debug.TraceLimit)
	}

	res, err := a.Resolver().Resolve(ctx, cfg)
	if errors.Is(err, picker.ErrNoSuitableImage) {
		return fmt.Errorf("no suitable image on %s: %w", pageURL, err)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s\t%dx%d\ttier %s\n", res.ImageURL, res.Width, res.Height, picker.TierLabel(res.Tier))
	return nil
}

func writeTrace(w io.Writer, res picker.Result, limit int) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	report := map[string]any{
		"id":            res.ID,
		"source_url":    res.Config.PageURL,
		"candidates":    len(res.Candidates),
		"accepted":      res.ImageURL,
		"used_headless": res.UsedHeadless,
		"tiers":         res.Report.Tiers,
		"trace":         res.Report.Trace(limit),
	}
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode trace: %w", err)
	}
	return nil
}
