package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/raine/telegram-nutrition-bot/config"
	"github.com/raine/telegram-nutrition-bot/internal/bot"
	"github.com/raine/telegram-nutrition-bot/internal/estimate"
	"github.com/raine/telegram-nutrition-bot/internal/llm"
	"github.com/raine/telegram-nutrition-bot/internal/nutrition"
)

func main() {
	var backendName, model, refName string
	var multi bool
	var portion int

	flag.StringVar(&backendName, "backend", "", "gemini or claude (default from VISION_BACKEND)")
	flag.StringVar(&model, "model", "", "model name (default per backend)")
	flag.StringVar(&refName, "ref", "none", "reference object: none, coin, phone, hand, chopsticks")
	flag.BoolVar(&multi, "multi", false, "average three samples")
	flag.IntVar(&portion, "portion", 100, "also print the result scaled to this percentage")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: estimate [-backend gemini|claude] [-multi] [-ref coin] [-portion 150] <image-path>\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment variables:\n")
		fmt.Fprintf(os.Stderr, "  GEMINI_API_KEY    - Required for Gemini\n")
		fmt.Fprintf(os.Stderr, "  ANTHROPIC_API_KEY - Required for Claude\n")
		os.Exit(1)
	}

	config.LoadEnvFile()

	if backendName == "" {
		backendName = os.Getenv("VISION_BACKEND")
	}
	backend, err := llm.ParseBackend(backendName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	ref, err := nutrition.ParseReferenceObject(refName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	scaleTo := nutrition.Portion(portion)
	if err := scaleTo.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	imagePath := flag.Arg(0)
	imageData, err := os.ReadFile(imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read image: %v\n", err)
		os.Exit(1)
	}
	mimeType, err := bot.DetectImageMIME(imageData)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", imagePath, err)
		os.Exit(1)
	}

	key := os.Getenv("GEMINI_API_KEY")
	if backend == llm.BackendClaude {
		key = os.Getenv("ANTHROPIC_API_KEY")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	client, err := llm.NewClient(ctx, backend, llm.Config{APIKey: key, Model: model})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating %s client: %v\n", backend, err)
		os.Exit(1)
	}

	settings := nutrition.Settings{MultiSampleMode: multi, ReferenceObject: ref}
	image := nutrition.Image{Data: imageData, MIMEType: mimeType, Ref: filepath.Base(imagePath)}

	result, err := estimate.NewAggregator(client).Run(ctx, image, settings.AnalysisConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Estimation failed (%s): %v\n", nutrition.Classify(err), err)
		os.Exit(1)
	}

	printResult(result)
	if scaleTo != nutrition.DefaultPortion {
		view, err := nutrition.Scale(result, scaleTo)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		fmt.Println("\n" + strings.Repeat("-", 50) + "\n")
		printView(view)
	}
}

func printResult(r *nutrition.Result) {
	fmt.Printf("Food:        %s\n", r.FoodName)
	fmt.Printf("Portion:     %s\n", r.PortionDescription)
	fmt.Printf("Calories:    %d kcal\n", r.Calories)
	fmt.Printf("Protein:     %.1f g\n", r.Protein)
	fmt.Printf("Carbs:       %.1f g\n", r.Carbs)
	fmt.Printf("Fat:         %.1f g\n", r.Fat)
	fmt.Printf("Fiber:       %.1f g\n", r.Fiber)
	fmt.Printf("Sugar:       %.1f g\n", r.Sugar)
	fmt.Println()
	fmt.Printf("Confidence:  %d%%\n", r.Confidence)
	fmt.Printf("Samples:     %d/%d valid\n", r.SampleCount, r.RequestedSamples)
	if r.RequestedSamples > 1 {
		fmt.Printf("Calorie CV:  %.3f\n", r.CalorieCV)
	}
	if r.ReferenceObject != nutrition.ReferenceNone {
		fmt.Printf("Reference:   %s\n", r.ReferenceObject)
	}
}

func printView(v nutrition.ScaledView) {
	fmt.Printf("At %d%%:\n", v.Portion)
	fmt.Printf("Calories:    %d kcal\n", v.Calories)
	fmt.Printf("Protein:     %.1f g\n", v.Protein)
	fmt.Printf("Carbs:       %.1f g\n", v.Carbs)
	fmt.Printf("Fat:         %.1f g\n", v.Fat)
	fmt.Printf("Fiber:       %.1f g\n", v.Fiber)
	fmt.Printf("Sugar:       %.1f g\n", v.Sugar)
}
