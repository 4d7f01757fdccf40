package estimate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/raine/telegram-nutrition-bot/internal/nutrition"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// InferenceClient sends one prompt and image to the vision model and returns
// its raw text answer. Failures wrap nutrition.ErrAuth, ErrTransport or
// ErrService.
type InferenceClient interface {
	Invoke(ctx context.Context, prompt string, image nutrition.Image) (string, error)
}

// Outcome is the result of one sample attempt.
type Outcome struct {
	Sample *nutrition.Sample
	Err    error
}

// Aggregator runs the sampling loop of one estimation and reduces the
// samples to a single result.
type Aggregator struct {
	client InferenceClient
	now    func() time.Time
	newID  func() string
}

func NewAggregator(client InferenceClient) *Aggregator {
	return &Aggregator{
		client: client,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Run estimates the nutrition of image. Calls are issued one after another
// with the same prompt. A cancelled ctx abandons the run and discards
// whatever samples were already collected.
func (a *Aggregator) Run(ctx context.Context, image nutrition.Image, cfg nutrition.AnalysisConfig) (*nutrition.Result, error) {
	if cfg.SampleCount < 1 {
		return nil, fmt.Errorf("invalid sample count %d", cfg.SampleCount)
	}
	if len(image.Data) == 0 {
		return nil, fmt.Errorf("empty image payload")
	}

	prompt := RenderPrompt(cfg.ReferenceObject)
	outcomes, err := a.collect(ctx, prompt, image, cfg.SampleCount)
	if err != nil {
		return nil, err
	}

	result, err := Reduce(outcomes)
	if err != nil {
		log.Warn().
			Int("requested", cfg.SampleCount).
			Str("kind", nutrition.Classify(err).String()).
			Err(err).
			Msg("estimation run produced no valid samples")
		return nil, err
	}

	result.ID = a.newID()
	result.RequestedSamples = cfg.SampleCount
	result.ReferenceObject = cfg.ReferenceObject
	result.Timestamp = a.now()
	result.Image = nutrition.ImageRef{
		Ref:      image.Ref,
		MIMEType: image.MIMEType,
		Digest:   digest(image.Data),
	}

	log.Info().
		Str("food", result.FoodName).
		Int("requested", cfg.SampleCount).
		Int("valid", result.SampleCount).
		Int("calories", result.Calories).
		Int("confidence", result.Confidence).
		Float64("calorieCV", result.CalorieCV).
		Msg("estimation run complete")

	return result, nil
}

func (a *Aggregator) collect(ctx context.Context, prompt string, image nutrition.Image, n int) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, n)
	for attempt := 1; attempt <= n; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("estimation abandoned: %w", err)
		}

		o := a.attempt(ctx, prompt, image)
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("estimation abandoned: %w", err)
		}

		if o.Err != nil {
			log.Info().
				Int("attempt", attempt).
				Int("of", n).
				Str("kind", nutrition.Classify(o.Err).String()).
				Err(o.Err).
				Msg("sample dropped")
		} else {
			log.Debug().
				Int("attempt", attempt).
				Int("of", n).
				Str("food", o.Sample.FoodName).
				Int("calories", o.Sample.Calories).
				Msg("sample accepted")
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}

func (a *Aggregator) attempt(ctx context.Context, prompt string, image nutrition.Image) Outcome {
	raw, err := a.client.Invoke(ctx, prompt, image)
	if err != nil {
		return Outcome{Err: err}
	}
	sample, err := ParseSample(raw)
	if err != nil {
		return Outcome{Err: err}
	}
	return Outcome{Sample: sample}
}

// Reduce folds attempt outcomes into one result. Failed attempts are
// dropped. With no valid sample left it returns a *NoValidSamplesError that
// carries every failure.
//
// Names come from the first valid sample; numeric fields are means.
func Reduce(outcomes []Outcome) (*nutrition.Result, error) {
	var valid []*nutrition.Sample
	var failures []error
	for _, o := range outcomes {
		if o.Err != nil || o.Sample == nil {
			if o.Err != nil {
				failures = append(failures, o.Err)
			}
			continue
		}
		valid = append(valid, o.Sample)
	}
	if len(valid) == 0 {
		return nil, &nutrition.NoValidSamplesError{Requested: len(outcomes), Failures: failures}
	}

	field := func(get func(*nutrition.Sample) float64) decimal.Decimal {
		values := make([]float64, len(valid))
		for i, s := range valid {
			values[i] = get(s)
		}
		return nutrition.Mean(values)
	}
	macro := func(get func(*nutrition.Sample) float64) float64 {
		f, _ := field(get).Round(1).Float64()
		return f
	}

	calories := field(func(s *nutrition.Sample) float64 { return float64(s.Calories) })
	confidence := field(func(s *nutrition.Sample) float64 { return float64(s.Confidence) }).Round(1)

	first := valid[0]
	return &nutrition.Result{
		FoodName:           first.FoodName,
		PortionDescription: first.PortionDescription,
		Calories:           int(calories.Round(0).IntPart()),
		Protein:            macro(func(s *nutrition.Sample) float64 { return s.Protein }),
		Carbs:              macro(func(s *nutrition.Sample) float64 { return s.Carbs }),
		Fat:                macro(func(s *nutrition.Sample) float64 { return s.Fat }),
		Fiber:              macro(func(s *nutrition.Sample) float64 { return s.Fiber }),
		Sugar:              macro(func(s *nutrition.Sample) float64 { return s.Sugar }),
		Confidence:         int(confidence.Round(0).IntPart()),
		SampleCount:        len(valid),
		CalorieCV:          calorieCV(valid),
	}, nil
}

// calorieCV is the population coefficient of variation of the calorie
// estimates, in percent with one decimal.
func calorieCV(samples []*nutrition.Sample) float64 {
	if len(samples) < 2 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s.Calories)
	}
	mean := sum / float64(len(samples))
	if mean == 0 {
		return 0
	}
	var sq float64
	for _, s := range samples {
		d := float64(s.Calories) - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(len(samples)))
	return nutrition.Round1(std / mean * 100)
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
