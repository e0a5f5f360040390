package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/whiskeygoggles/goggles/internal/assets"
	"github.com/whiskeygoggles/goggles/internal/catalog"
	"github.com/whiskeygoggles/goggles/internal/config"
	"github.com/whiskeygoggles/goggles/internal/handoff"
	"github.com/whiskeygoggles/goggles/internal/logging"
	"github.com/whiskeygoggles/goggles/internal/model"
	"github.com/whiskeygoggles/goggles/internal/pipeline"
	"github.com/whiskeygoggles/goggles/internal/ranking"
)

type classifyOptions struct {
	search     string
	top        int
	fetch      bool
	selectName string
	asJSON     bool
}

type classifyJSON struct {
	RunID          string          `json:"run_id"`
	ModelDigest    string          `json:"model_digest"`
	ElapsedMS      int64           `json:"elapsed_ms"`
	Total          int             `json:"total"`
	HighConfidence int             `json:"high_confidence"`
	Query          string          `json:"query,omitempty"`
	Candidates     []candidateJSON `json:"candidates"`
	Selected       string          `json:"selected,omitempty"`
}

type candidateJSON struct {
	ranking.Candidate
	Size string `json:"size,omitempty"`
}

func newClassifyCommand(ctx *commandContext) *cobra.Command {
	var opts classifyOptions

	cmd := &cobra.Command{
		Use:   "classify IMAGE",
		Short: "Rank catalog whiskeys against a bottle photo",
		Long: "Run the classifier on a photo and list the most likely whiskeys from the catalog.\n" +
			"Assets must be cached first (see `goggles assets fetch`) unless --fetch is given.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClassify(cmd, ctx, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.search, "search", "s", "", "Show only candidates whose name contains TERM")
	cmd.Flags().IntVarP(&opts.top, "top", "n", 0, "Number of candidates to show (overrides ranking.top_k)")
	cmd.Flags().BoolVar(&opts.fetch, "fetch", false, "Download missing assets before classifying")
	cmd.Flags().StringVar(&opts.selectName, "select", "", "Confirm UNIQUE_NAME and submit it with the photo")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Output as JSON")
	return cmd
}

func runClassify(cmd *cobra.Command, ctx *commandContext, imagePath string, opts classifyOptions) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := ctx.logger(cmd)
	if err != nil {
		return err
	}
	if opts.top < 0 {
		return fmt.Errorf("--top must be positive")
	}

	// A missing file is reported by the pipeline as NoImage.
	image, err := os.ReadFile(imagePath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read image: %w", err)
	}

	source, err := catalog.Open(cfg.Catalog)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	if closer, ok := source.(io.Closer); ok {
		defer closer.Close()
	}
	cat, err := source.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	if dups := cat.Duplicates(); len(dups) > 0 {
		logger.Warn().Strs("unique_names", dups).Msg("catalog has duplicate entries; first occurrence kept")
	}

	return ctx.withCache(cmd, func(_ *config.Config, cache *assets.Cache, _ zerolog.Logger) error {
		runtime := ctx.newRuntime(cfg)
		if closer, ok := runtime.(io.Closer); ok {
			defer closer.Close()
		}
		engine := model.NewEngine(runtime, logging.WithComponent(logger, "engine"))
		defer engine.Close()

		topK := cfg.Ranking.TopK
		if opts.top > 0 {
			topK = opts.top
		}
		orchestrator, err := pipeline.New(pipeline.Options{
			Assets:   cache,
			Engine:   engine,
			Ranking:  ranking.Options{TopK: topK, HighConfidence: cfg.Ranking.HighConfidence},
			Estimate: cfg.EstimatedRunTime(),
			Logger:   logger,
		})
		if err != nil {
			return err
		}

		var bars *downloadBars
		req := pipeline.Request{Image: image, Catalog: cat, Fetch: opts.fetch}
		if opts.fetch {
			bars = newDownloadBars(cmd.ErrOrStderr())
			req.OnDownload = bars.update
		}
		res, err := orchestrator.Run(cmd.Context(), req)
		if bars != nil {
			bars.finish()
		}
		if err != nil {
			return withRemedy(err)
		}

		view := res.Ranking.View(opts.search)
		selected := ""
		if name := strings.TrimSpace(opts.selectName); name != "" {
			if err := submitSelection(cmd, cfg, res, name); err != nil {
				return err
			}
			selected = name
		}

		if opts.asJSON {
			out := classifyJSON{
				RunID:          res.RunID,
				ModelDigest:    res.ModelDigest,
				ElapsedMS:      res.Elapsed.Milliseconds(),
				Total:          res.Ranking.Len(),
				HighConfidence: res.Ranking.HighConfidence(),
				Query:          strings.TrimSpace(opts.search),
				Candidates:     make([]candidateJSON, 0, len(view)),
				Selected:       selected,
			}
			for _, c := range view {
				out.Candidates = append(out.Candidates, candidateJSON{Candidate: c, Size: c.Size()})
			}
			return writeJSON(cmd, out)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintln(w, renderCandidates(view))
		fmt.Fprintf(w, "%d of %d candidates shown, %d high confidence (%s)\n",
			len(view), res.Ranking.Len(), res.Ranking.HighConfidence(), res.Elapsed.Round(time.Millisecond))
		if selected != "" {
			fmt.Fprintf(w, "Submitted %s\n", selected)
		}
		return nil
	})
}

func submitSelection(cmd *cobra.Command, cfg *config.Config, res *pipeline.Result, name string) error {
	sel, err := res.Select(name)
	if err != nil {
		return err
	}
	var sink handoff.Sink = handoff.Discard
	if cfg.Handoff.URL != "" {
		sink = handoff.NewHTTPSink(cfg.Handoff.URL, nil, cfg.HandoffTimeout())
	}
	if err := sink.Submit(cmd.Context(), sel); err != nil {
		return fmt.Errorf("submit selection: %w", err)
	}
	return nil
}

func renderCandidates(candidates []ranking.Candidate) string {
	rows := make([][]string, 0, len(candidates))
	for i, c := range candidates {
		name := c.Name
		if name == "" {
			name = c.UniqueName
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			name,
			c.Size(),
			strconv.Itoa(c.Stock),
			fmt.Sprintf("%.1f%%", c.Probability*100),
		})
	}
	return renderTable(
		[]string{"#", "Whiskey", "Size", "Stock", "Confidence"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight},
	)
}
