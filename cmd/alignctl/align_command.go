package main

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cisco7507/align-audio/internal/artifacts"
	"github.com/cisco7507/align-audio/internal/confidence"
	"github.com/cisco7507/align-audio/internal/correction"
	"github.com/cisco7507/align-audio/internal/estimate"
	"github.com/cisco7507/align-audio/internal/models"
	"github.com/cisco7507/align-audio/internal/render"
)

// commandFile holds the rendered ffmpeg line when --out-dir is set.
const commandFile = "aligned_cmd.txt"

type plot struct {
	name string
	img  func() image.Image
}

// Older spellings accepted for --mode and --anchor-mode.
var (
	modeAliases = map[string]models.AlignMode{
		"external_to_inhouse": models.ModeExternalToReference,
		"inhouse_to_external": models.ModeReferenceToExternal,
	}
	anchorAliases = map[string]models.AnchorMode{
		"xcorr": models.AnchorCorrelation,
	}
)

func newAlignCommand(ctx *commandContext) *cobra.Command {
	var (
		refPath, extPath string
		outDir, output   string
		mode, anchor     string
		gateDB           float64
		apply            bool
	)
	p := models.DefaultParameters()

	cmd := &cobra.Command{
		Use:   "align",
		Short: "Estimate the offset between two local files and emit the ffmpeg fix",
		Long: "Runs the same estimation as the service on two local files without a\n" +
			"database or queue. Prints the offset, confidence and correction command,\n" +
			"optionally writes diagnostic PNGs to --out-dir and runs the command with --apply.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p.Mode = models.AlignMode(mode)
			if m, ok := modeAliases[mode]; ok {
				p.Mode = m
			}
			p.AnchorMode = models.AnchorMode(anchor)
			if a, ok := anchorAliases[anchor]; ok {
				p.AnchorMode = a
			}
			if cmd.Flags().Changed("gate-db") {
				p.GateThresholdDB = &gateDB
			}
			p.Apply = apply
			if err := p.Validate(); err != nil {
				return err
			}

			c := cmd.Context()
			ref, err := ctx.decoder.Decode(c, refPath, p.SampleRate)
			if err != nil {
				return fmt.Errorf("decode reference: %w", err)
			}
			ext, err := ctx.decoder.Decode(c, extPath, p.SampleRate)
			if err != nil {
				return fmt.Errorf("decode external: %w", err)
			}
			ctx.logger.Debug("decoded inputs", "reference_samples", len(ref), "external_samples", len(ext), "sample_rate", p.SampleRate)

			est, err := estimate.Run(c, ref, ext, p)
			if err != nil {
				return fmt.Errorf("estimate: %w", err)
			}
			score := confidence.Score(est, p)

			if output == "" && outDir != "" {
				output = filepath.Join(outDir, artifacts.FileAligned)
			}
			fix := correction.Build(est.OffsetSec, p, correction.Options{
				ReferencePath: refPath,
				ExternalPath:  extPath,
				OutputPath:    output,
				FFmpegPath:    ctx.cfg.FFmpegPath,
			})

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "offset      %.6f s (positive = external lags reference)\n", est.OffsetSec)
			if est.Strategy == models.AnchorContent {
				fmt.Fprintf(out, "anchor      %.3f s in external, similarity %.4f over %d windows\n",
					est.AnchorTimeSec(p), est.PeakScore, len(est.Candidates))
			}
			fmt.Fprintf(out, "confidence  %.3f (%s)\n", score.Value, score.Label)
			fmt.Fprintf(out, "correction  %s %.6f s on %s\n", fix.Action, fix.DurationSec, fix.Target)
			fmt.Fprintf(out, "command     %s\n", fix.Command)

			if outDir != "" {
				written, err := writeDiagnostics(outDir, ref, ext, est, fix, p)
				if err != nil {
					return err
				}
				for _, name := range written {
					fmt.Fprintf(out, "wrote       %s\n", filepath.Join(outDir, name))
				}
			}

			if !apply {
				return nil
			}
			if err := correction.Apply(c, ctx.runner, ctx.cfg.FFmpegPath, fix); err != nil {
				return fmt.Errorf("apply: %w", err)
			}
			fmt.Fprintf(out, "aligned     %s\n", fix.OutputPath)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&refPath, "reference", "", "Reference (in-house) audio file")
	flags.StringVar(&extPath, "external", "", "External audio file")
	flags.IntVar(&p.SampleRate, "sr", p.SampleRate, "Analysis and output sample rate in Hz")
	flags.StringVar(&mode, "mode", string(p.Mode), "external_to_reference or reference_to_external")
	flags.StringVar(&anchor, "anchor-mode", string(p.AnchorMode), "correlation or content")
	flags.BoolVar(&p.PreferTrim, "prefer-trim", false, "Trim the other file instead of padding the target")
	flags.Float64Var(&gateDB, "gate-db", 0, "Zero analysis samples quieter than this dBFS level")
	flags.Float64Var(&p.MaxSearchSec, "max-search", p.MaxSearchSec, "Largest |lag| searched in seconds (0 = unbounded)")
	flags.Float64Var(&p.RefStartSec, "ref-start", p.RefStartSec, "Reference analysis start in seconds")
	flags.Float64Var(&p.SearchStartSec, "search-start", p.SearchStartSec, "External search start in seconds")
	flags.Float64Var(&p.AnalysisSec, "analysis", p.AnalysisSec, "Reference analysis length in seconds")
	flags.Float64Var(&p.TemplateSec, "template", p.TemplateSec, "Content template length in seconds")
	flags.Float64Var(&p.HopSec, "hop", p.HopSec, "Content window hop in seconds")
	flags.Float64Var(&p.MinSimilarity, "min-similarity", p.MinSimilarity, "Content acceptance threshold")
	flags.StringVar(&outDir, "out-dir", "", "Write diagnostic PNGs and the command here")
	flags.StringVar(&output, "output", "", "Aligned WAV path (default <out-dir>/aligned.wav or <target>_aligned.wav)")
	flags.BoolVar(&apply, "apply", false, "Run the correction command")
	flags.SetNormalizeFunc(normalizeAlignFlag)
	_ = cmd.MarkFlagRequired("reference")
	_ = cmd.MarkFlagRequired("external")
	return cmd
}

// normalizeAlignFlag accepts snake_case spellings and the old names of renamed flags.
func normalizeAlignFlag(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	name = strings.ReplaceAll(name, "_", "-")
	switch name {
	case "inhouse":
		name = "reference"
	case "min-sim":
		name = "min-similarity"
	case "threshold-db", "vad-db":
		name = "gate-db"
	case "search-max-sec":
		name = "max-search"
	case "template-sec":
		name = "template"
	case "hop-sec":
		name = "hop"
	case "analysis-sec":
		name = "analysis"
	case "ref-start-sec":
		name = "ref-start"
	case "search-start-sec":
		name = "search-start"
	}
	return pflag.NormalizedName(name)
}

// writeDiagnostics renders the plots the service keeps per job and the command file.
func writeDiagnostics(dir string, ref, ext []float32, est estimate.Estimate, fix models.CorrectionCommand, p models.AlignmentParameters) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create out dir: %w", err)
	}
	sr := p.SampleRate
	alignedRef, alignedExt := correction.Aligned(ref, ext, fix, sr)

	plots := []plot{
		{artifacts.FileWaveform, func() image.Image { return render.WaveformOverlay(ref, ext, sr) }},
		{artifacts.FileSimilarity, func() image.Image {
			if est.Curve != nil {
				return render.SimilarityCurve(*est.Curve, est.OffsetSec)
			}
			return render.CandidateCurve(est.Candidates, p.MinSimilarity)
		}},
		{artifacts.FileResidual, func() image.Image { return render.ResidualEnergy(alignedRef, alignedExt, sr) }},
	}
	if est.Strategy == models.AnchorContent {
		plots = append(plots, plot{artifacts.FileCandidates, func() image.Image {
			return render.CandidateMap(est.Candidates, p.MinSimilarity)
		}})
	}

	var written []string
	for _, pl := range plots {
		if err := render.SavePNG(filepath.Join(dir, pl.name), pl.img()); err != nil {
			return written, fmt.Errorf("render %s: %w", pl.name, err)
		}
		written = append(written, pl.name)
	}
	if err := os.WriteFile(filepath.Join(dir, commandFile), []byte(fix.Command+"\n"), 0o644); err != nil {
		return written, fmt.Errorf("write command: %w", err)
	}
	return append(written, commandFile), nil
}
