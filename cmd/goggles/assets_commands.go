package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/whiskeygoggles/goggles/internal/apperr"
	"github.com/whiskeygoggles/goggles/internal/assets"
	"github.com/whiskeygoggles/goggles/internal/config"
)

func newAssetsCommand(ctx *commandContext) *cobra.Command {
	assetsCmd := &cobra.Command{
		Use:   "assets",
		Short: "Inspect, download or clear the cached model assets",
	}

	assetsCmd.AddCommand(newAssetsStatusCommand(ctx))
	assetsCmd.AddCommand(newAssetsFetchCommand(ctx))
	assetsCmd.AddCommand(newAssetsClearCommand(ctx))

	return assetsCmd
}

type assetStatusJSON struct {
	Asset    string     `json:"asset"`
	File     string     `json:"file"`
	Cached   bool       `json:"cached"`
	Size     int64      `json:"size,omitempty"`
	Digest   string     `json:"digest,omitempty"`
	StoredAt *time.Time `json:"stored_at,omitempty"`
}

func newAssetsStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show which model assets are cached",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCache(cmd, func(_ *config.Config, cache *assets.Cache, _ zerolog.Logger) error {
				statuses, err := cache.Status(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, statusJSON(statuses))
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderAssetStatus(statuses))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func statusJSON(statuses []assets.Status) []assetStatusJSON {
	out := make([]assetStatusJSON, 0, len(statuses))
	for _, s := range statuses {
		row := assetStatusJSON{Asset: string(s.Asset.Key), File: s.Asset.FileName, Cached: s.Cached}
		if s.Cached {
			stored := s.Meta.StoredAt
			row.Size = s.Meta.Size
			row.Digest = s.Meta.Digest
			row.StoredAt = &stored
		}
		out = append(out, row)
	}
	return out
}

func renderAssetStatus(statuses []assets.Status) string {
	rows := make([][]string, 0, len(statuses))
	for _, s := range statuses {
		if !s.Cached {
			rows = append(rows, []string{s.Asset.FileName, yesNo(false), "-", "-", "-"})
			continue
		}
		rows = append(rows, []string{
			s.Asset.FileName,
			yesNo(true),
			humanize.IBytes(uint64(s.Meta.Size)),
			shortDigest(s.Meta.Digest),
			humanize.Time(s.Meta.StoredAt),
		})
	}
	return renderTable(
		[]string{"Asset", "Cached", "Size", "Digest", "Stored"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	)
}

func shortDigest(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}

func newAssetsFetchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Download every model asset that is not cached yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCache(cmd, func(cfg *config.Config, cache *assets.Cache, _ zerolog.Logger) error {
				missing, err := cache.Missing(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(missing) == 0 {
					fmt.Fprintln(out, "All model assets are already cached")
					return nil
				}
				fmt.Fprintf(out, "Downloading %d asset(s) from %s\n", len(missing), cfg.Assets.BaseURL)

				bars := newDownloadBars(cmd.ErrOrStderr())
				err = cache.EnsureCached(cmd.Context(), bars.update)
				bars.finish()
				if err != nil {
					return withRemedy(err)
				}

				statuses, err := cache.Status(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(out, renderAssetStatus(statuses))
				return nil
			})
		},
	}
}

func newAssetsClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear [ASSET...]",
		Short: "Remove cached assets (all of them when none are named)",
		Long: "Remove cached assets so the next fetch downloads them again.\n" +
			"Assets may be named by key (model, labels, mean_std) or file name (model.onnx).",
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := make([]assets.Key, 0, len(args))
			for _, arg := range args {
				key, err := parseAssetKey(arg)
				if err != nil {
					return err
				}
				keys = append(keys, key)
			}
			return ctx.withCache(cmd, func(_ *config.Config, cache *assets.Cache, _ zerolog.Logger) error {
				if err := cache.Clear(cmd.Context(), keys...); err != nil {
					return err
				}
				if len(keys) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Cleared all cached assets")
					return nil
				}
				names := make([]string, len(keys))
				for i, k := range keys {
					names[i] = string(k)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", strings.Join(names, ", "))
				return nil
			})
		},
	}
}

func parseAssetKey(arg string) (assets.Key, error) {
	arg = strings.TrimSpace(arg)
	if a, ok := assets.Lookup(assets.Key(arg)); ok {
		return a.Key, nil
	}
	if a, ok := assets.LookupFile(arg); ok {
		return a.Key, nil
	}
	return "", fmt.Errorf("unknown asset %q (want model, labels or mean_std)", arg)
}

// downloadBars renders one progress bar per asset on a terminal and one
// line per finished asset otherwise. Updates arrive serialized from the cache.
type downloadBars struct {
	out  io.Writer
	tty  bool
	bars map[assets.Key]*progressbar.ProgressBar
}

func newDownloadBars(out io.Writer) *downloadBars {
	tty := false
	if f, ok := out.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &downloadBars{out: out, tty: tty, bars: make(map[assets.Key]*progressbar.ProgressBar)}
}

func (d *downloadBars) update(p assets.DownloadProgress) {
	if !d.tty {
		if p.Done {
			fmt.Fprintf(d.out, "%s: %s\n", p.Asset, humanize.IBytes(uint64(p.Loaded)))
		}
		return
	}
	bar, ok := d.bars[p.Asset]
	if !ok {
		total := int64(-1)
		if p.TotalKnown {
			total = p.Total
		}
		bar = progressbar.NewOptions64(total,
			progressbar.OptionSetWriter(d.out),
			progressbar.OptionSetDescription(string(p.Asset)),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(d.out) }),
		)
		d.bars[p.Asset] = bar
	}
	_ = bar.Set64(p.Loaded)
	if p.Done {
		_ = bar.Finish()
	}
}

func (d *downloadBars) finish() {
	for _, bar := range d.bars {
		if !bar.IsFinished() {
			_ = bar.Exit()
		}
	}
}

// withRemedy appends the user-facing next step to a classified failure.
func withRemedy(err error) error {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		return err
	}
	return fmt.Errorf("%w\n%s", err, apperr.Remedy(kind))
}
