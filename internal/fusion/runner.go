package fusion

import (
	"fmt"
	"log"
)

// Runner drives the per-worker evaluation loop: window assembly, inference,
// rasterisation, metric computation and artifact emission, strictly in
// sequence for each owned index.
//
// Workers partition the sequence by residue class: worker rank owns indices
// rank+1, rank+1+worldSize, ... with no coordination. Each worker writes its
// own report and artifact set.
type Runner struct {
	Builder    *WindowBuilder
	Engine     InferenceEngine
	Aggregator *Aggregator
	Artifacts  *ArtifactWriter

	Rank      int
	WorldSize int

	// Codec holds the clamp range for rasterisation; EightBit is forced on
	// for the metric path.
	Codec ImageOptions

	// SkipFailures makes the loop log and continue past a failed index
	// instead of aborting the worker. Off by default: a failed index is
	// fatal and the partial report is considered invalid.
	SkipFailures bool
}

// Run processes every index owned by this worker. On return without error
// the aggregator holds one record per owned index.
func (r *Runner) Run() error {
	if r.WorldSize < 1 {
		return fmt.Errorf("world size must be >= 1, got %d", r.WorldSize)
	}
	if r.Rank < 0 || r.Rank >= r.WorldSize {
		return fmt.Errorf("rank %d outside world of %d", r.Rank, r.WorldSize)
	}

	n := r.Builder.Source.Len()
	for idx := r.Rank + 1; idx < n; idx += r.WorldSize {
		if err := r.processIndex(idx); err != nil {
			if r.SkipFailures {
				log.Printf("[Runner] skipping frame %d: %v", idx, err)
				continue
			}
			return err
		}
	}
	return nil
}

func (r *Runner) processIndex(idx int) error {
	w, err := r.Builder.Build(idx)
	if err != nil {
		return fmt.Errorf("build window %d: %w", idx, err)
	}

	res, err := r.Engine.Infer(w)
	if err != nil {
		return &EngineError{Index: idx, Err: err}
	}

	opts := r.Codec
	opts.EightBit = true

	recon, err := TensorToImage(res.Out, opts)
	if err != nil {
		return fmt.Errorf("rasterise reconstruction %d: %w", idx, err)
	}
	ref, err := TensorToImage(w.Ref, opts)
	if err != nil {
		return fmt.Errorf("rasterise reference %d: %w", idx, err)
	}
	if recon.C == 3 {
		recon = recon.Channel(0)
	}
	if ref.C == 3 {
		ref = ref.Channel(0)
	}
	if recon.H != ref.H || recon.W != ref.W || recon.C != ref.C {
		return fmt.Errorf("frame %d: reconstruction %dx%dx%d does not match reference %dx%dx%d",
			idx, recon.H, recon.W, recon.C, ref.H, ref.W, ref.C)
	}

	mse := MSE(recon, ref)
	rec := MetricRecord{
		Index:      idx,
		PSNR:       PSNRFromMSE(mse),
		AAD:        AAD(recon, ref),
		SSIM:       SSIM(recon, ref, 255),
		Attention:  res.CorrScore,
		Boundary:   w.Boundary,
		SourcePath: w.SourcePath,
	}
	if err := r.Aggregator.Add(rec); err != nil {
		return fmt.Errorf("frame %d: %w", idx, err)
	}

	if r.Artifacts != nil {
		if _, err := r.Artifacts.WriteFrame(w.SourcePath, rec.PSNR, recon); err != nil {
			return err
		}
	}

	attHi := 0.0
	if len(res.CorrScore) > 0 {
		attHi = res.CorrScore[len(res.CorrScore)-1]
	}
	log.Printf("[Runner] frame %d: psnr=%.4f dB aad=%.4f ssim=%.4f att_hi=%.4f mask=%d",
		idx, rec.PSNR, rec.AAD, rec.SSIM, attHi, rec.Boundary)
	return nil
}
