// Command xfusion evaluates a spatio-temporal fusion super-resolution model
// over an X-ray frame sequence and reports reconstruction quality.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/decarlof/XFusion/internal/config"
	"github.com/decarlof/XFusion/internal/dataset"
	"github.com/decarlof/XFusion/internal/engine/onnx"
	"github.com/decarlof/XFusion/internal/fsutil"
	"github.com/decarlof/XFusion/internal/fusion"
	"github.com/decarlof/XFusion/internal/fusion/monitor"
	storesqlite "github.com/decarlof/XFusion/internal/fusion/storage/sqlite"
	"github.com/decarlof/XFusion/internal/version"
)

var (
	configPath   = flag.String("config", "", "Path to the JSON run configuration (required)")
	loFrameSep   = flag.Int("lo-frame-sep", 0, "Override low-resolution frame separation")
	hiFrameSep   = flag.Int("hi-frame-sep", 0, "Override high-resolution frame separation")
	b0           = flag.Int("b0", -1, "Override the b0 data variant (0 or 1)")
	rank         = flag.Int("rank", 0, "This worker's rank")
	worldSize    = flag.Int("world-size", 1, "Total number of independent workers")
	dbPath       = flag.String("db", "", "Optional sqlite database for run persistence")
	plots        = flag.Bool("plots", false, "Write PNG metric curves into the run directory")
	htmlReport   = flag.Bool("html", false, "Write an interactive HTML report into the run directory")
	skipFailures = flag.Bool("skip-failures", false, "Log and skip failed frames instead of aborting")
	showVersion  = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Printf("xfusion %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "usage: xfusion -config <run.json> [flags]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[Main] load config: %v", err)
	}
	if *loFrameSep > 0 {
		cfg.LoFrameSep = *loFrameSep
	}
	if *hiFrameSep > 0 {
		cfg.HiFrameSep = *hiFrameSep
	}
	if *b0 >= 0 {
		cfg.B0 = *b0
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[Main] invalid configuration: %v", err)
	}

	log.Printf("[Main] inference under stf mode")
	log.Printf("[Main] LR frame separation is %d", cfg.LoFrameSep)
	log.Printf("[Main] HR frame separation is %d", cfg.HiFrameSep)
	log.Printf("[Main] data roots: %s (LR), %s (HR)", cfg.LQRoot(), cfg.GTRoot())

	src, err := dataset.New(dataset.Options{
		LQDir:          cfg.LQRoot(),
		GTDir:          cfg.GTRoot(),
		ImageDir:       cfg.ImageDir,
		AuxHQPath:      cfg.AuxHQPath,
		TemporalRank:   cfg.TemporalRank,
		CenterFrameIdx: cfg.CenterFrameIdx,
	})
	if err != nil {
		log.Fatalf("[Main] open dataset: %v", err)
	}
	log.Printf("[Main] sequence length is %d", src.Len())

	builder, err := fusion.NewWindowBuilder(src, cfg.LoFrameSep, cfg.HiFrameSep,
		cfg.CenterFrameIdx, cfg.TemporalRank, cfg.MaxHiIndex)
	if err != nil {
		log.Fatalf("[Main] window builder: %v", err)
	}

	engine, err := onnx.NewEngine(onnx.Options{
		ModelPath:   cfg.ModelPath,
		LibraryPath: cfg.OrtLibraryPath,
	})
	if err != nil {
		log.Fatalf("[Main] inference engine: %v", err)
	}
	defer engine.Close()

	runDir := cfg.RunDir()
	fs := fsutil.OSFileSystem{}
	artifacts, err := fusion.NewArtifactWriter(fs, runDir)
	if err != nil {
		log.Fatalf("[Main] artifact writer: %v", err)
	}

	agg := fusion.NewAggregator()
	runner := &fusion.Runner{
		Builder:      builder,
		Engine:       engine,
		Aggregator:   agg,
		Artifacts:    artifacts,
		Rank:         *rank,
		WorldSize:    *worldSize,
		Codec:        fusion.ImageOptions{MinVal: cfg.RangeMin, MaxVal: cfg.RangeMax, RGBToBGR: true},
		SkipFailures: *skipFailures,
	}
	if err := runner.Run(); err != nil {
		log.Fatalf("[Main] run failed: %v", err)
	}

	reportPath := filepath.Join(runDir, cfg.ReportFileName())
	f, err := fs.Create(reportPath)
	if err != nil {
		log.Fatalf("[Main] create report: %v", err)
	}
	if err := agg.WriteCSV(f); err != nil {
		log.Fatalf("[Main] write report: %v", err)
	}
	if err := f.Close(); err != nil {
		log.Fatalf("[Main] close report: %v", err)
	}
	log.Printf("[Main] wrote %s (%d rows)", reportPath, agg.Len())

	summary := agg.Summarize()
	log.Printf("[Main] summary: frames=%d perfect=%d psnr=%.4f±%.4f aad=%.4f ssim=%.4f",
		summary.Frames, summary.PerfectFrames,
		summary.PSNRMean, summary.PSNRStdDev, summary.AADMean, summary.SSIMMean)

	if *dbPath != "" {
		persistRun(cfg, agg, summary)
	}
	if *plots {
		mp := monitor.MetricPlotter{OutDir: runDir}
		if err := mp.GeneratePlots(agg.Records()); err != nil {
			log.Fatalf("[Main] plots: %v", err)
		}
		log.Printf("[Main] wrote metric plots to %s", runDir)
	}
	if *htmlReport {
		htmlPath := filepath.Join(runDir, "report.html")
		hf, err := fs.Create(htmlPath)
		if err != nil {
			log.Fatalf("[Main] create html report: %v", err)
		}
		if err := monitor.RenderHTMLReport(hf, cfg.RunName(), agg.Records()); err != nil {
			log.Fatalf("[Main] render html report: %v", err)
		}
		if err := hf.Close(); err != nil {
			log.Fatalf("[Main] close html report: %v", err)
		}
		log.Printf("[Main] wrote %s", htmlPath)
	}
	log.Printf("[Main] done")
}

func persistRun(cfg *config.Config, agg *fusion.Aggregator, summary fusion.Summary) {
	store, err := storesqlite.Open(*dbPath)
	if err != nil {
		log.Fatalf("[Main] open metrics db: %v", err)
	}
	defer store.Close()

	run := &storesqlite.Run{
		TestSet:       cfg.TestSetName,
		LoFrameSep:    cfg.LoFrameSep,
		HiFrameSep:    cfg.HiFrameSep,
		B0:            cfg.B0,
		Rank:          *rank,
		WorldSize:     *worldSize,
		Seed:          cfg.Seed,
		Frames:        summary.Frames,
		PerfectFrames: summary.PerfectFrames,
		PSNRMean:      summary.PSNRMean,
		PSNRStdDev:    summary.PSNRStdDev,
		AADMean:       summary.AADMean,
		AADStdDev:     summary.AADStdDev,
		SSIMMean:      summary.SSIMMean,
		SSIMStdDev:    summary.SSIMStdDev,
	}
	if err := store.InsertRun(run); err != nil {
		log.Fatalf("[Main] persist run: %v", err)
	}
	for _, rec := range agg.Records() {
		if err := store.InsertFrameMetric(run.RunID, rec); err != nil {
			log.Fatalf("[Main] persist frame %d: %v", rec.Index, err)
		}
	}
	log.Printf("[Main] persisted run %s (%d frames)", run.RunID, summary.Frames)
}
