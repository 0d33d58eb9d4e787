package estimate

import (
	"context"
	"runtime"
	"sync"

	"github.com/cisco7507/align-audio/internal/audio"
	"github.com/cisco7507/align-audio/internal/dsp"
	"github.com/cisco7507/align-audio/internal/models"
)

// Content slides a reference template across the external and picks the
// first window whose mean-MFCC cosine similarity reaches MinSimilarity.
type Content struct {
	// Workers bounds the goroutines scoring windows; zero uses GOMAXPROCS.
	Workers int
}

func (c Content) Estimate(ctx context.Context, ref, ext []float32, p models.AlignmentParameters) (Estimate, error) {
	sr := p.SampleRate
	tmplLen := audio.SecondsToSamples(p.TemplateSec, sr)
	template := audio.Window(ref, audio.SecondsToSamples(p.RefStartSec, sr), tmplLen)
	if len(template) == 0 || len(template) < tmplLen {
		return Estimate{}, &models.InsufficientDataError{Signal: "reference", Need: tmplLen, Have: len(template)}
	}
	search := audio.Window(ext, audio.SecondsToSamples(p.SearchStartSec, sr), 0)
	if len(search) == 0 {
		return Estimate{}, &models.InsufficientDataError{Signal: "external", Need: 1, Have: 0}
	}
	template = gate(template, p)
	search = gate(search, p)
	if err := audible("reference", template); err != nil {
		return Estimate{}, err
	}
	if err := audible("external", search); err != nil {
		return Estimate{}, err
	}

	hop := max(1, audio.SecondsToSamples(p.HopSec, sr))
	lastStart := max(0, len(search)-tmplLen)
	if p.MaxSearchSec > 0 {
		lastStart = min(lastStart, audio.SecondsToSamples(p.MaxSearchSec, sr))
	}
	starts := make([]int, 0, lastStart/hop+1)
	for s := 0; s <= lastStart; s += hop {
		starts = append(starts, s)
	}

	want := dsp.MeanMFCC(template, sr)
	sims, err := c.score(ctx, want, search, starts, tmplLen, sr)
	if err != nil {
		return Estimate{}, err
	}

	candidates := make([]Candidate, len(starts))
	selected, best := -1, 0
	for i, s := range starts {
		candidates[i] = Candidate{TimeSec: p.SearchStartSec + float64(s)/float64(sr), Similarity: sims[i]}
		if sims[i] > sims[best] {
			best = i
		}
		if selected < 0 && sims[i] >= p.MinSimilarity {
			selected = i
		}
	}
	if selected < 0 {
		return Estimate{}, &models.NoAnchorFoundError{
			BestSimilarity: sims[best],
			BestTimeSec:    candidates[best].TimeSec,
			MinSimilarity:  p.MinSimilarity,
			Evaluated:      len(candidates),
		}
	}
	candidates[selected].Selected = true

	return Estimate{
		Strategy:         models.AnchorContent,
		OffsetSec:        candidates[selected].TimeSec - p.RefStartSec,
		PeakScore:        sims[selected],
		Candidates:       candidates,
		Selected:         selected,
		ReferenceSamples: len(template),
		ExternalSamples:  len(search),
	}, nil
}

// score evaluates every window on a bounded set of goroutines.
func (c Content) score(ctx context.Context, want []float64, search []float32, starts []int, length, sr int) ([]float64, error) {
	workers := c.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	sims := make([]float64, len(starts))
	next := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < min(workers, len(starts)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				win := audio.Window(search, starts[i], length)
				sims[i] = dsp.CosineSimilarity(want, dsp.MeanMFCC(win, sr))
			}
		}()
	}
	var err error
feed:
	for i := range starts {
		if err = ctx.Err(); err != nil {
			break
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break feed
		case next <- i:
		}
	}
	close(next)
	wg.Wait()
	return sims, err
}
