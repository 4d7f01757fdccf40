package nutrition

import "time"

const (
	SingleSampleCount = 1
	MultiSampleCount  = 3
)

// AnalysisConfig is the immutable input of one estimation run.
type AnalysisConfig struct {
	SampleCount     int
	ReferenceObject ReferenceObject
}

// Settings is the per-user configuration surface. The bot builds a fresh
// AnalysisConfig from it for every run.
type Settings struct {
	APICredential   string
	MultiSampleMode bool
	ReferenceObject ReferenceObject
}

// AnalysisConfig derives the run configuration from the settings.
func (s Settings) AnalysisConfig() AnalysisConfig {
	cfg := AnalysisConfig{
		SampleCount:     SingleSampleCount,
		ReferenceObject: s.ReferenceObject,
	}
	if s.MultiSampleMode {
		cfg.SampleCount = MultiSampleCount
	}
	if !cfg.ReferenceObject.Valid() {
		cfg.ReferenceObject = ReferenceNone
	}
	return cfg
}

// Image is the transferable image payload handed to the inference service.
type Image struct {
	Data     []byte
	MIMEType string
	// Ref is an opaque reference to where the payload came from, e.g. a
	// Telegram file ID or a local path.
	Ref string
}

// ImageRef is what a Result keeps of its input image.
type ImageRef struct {
	Ref      string `json:"ref"`
	MIMEType string `json:"mimeType"`
	Digest   string `json:"digest,omitempty"`
}

// Sample is one decoded estimate. Values describe the whole portion.
type Sample struct {
	FoodName           string
	PortionDescription string
	Calories           int
	Protein            float64
	Carbs              float64
	Fat                float64
	Fiber              float64
	Sugar              float64
	Confidence         int
}

// Result is the aggregated estimate of one run and the unit stored in
// history.
type Result struct {
	ID                 string          `json:"id"`
	FoodName           string          `json:"foodName"`
	PortionDescription string          `json:"portionDescription"`
	Calories           int             `json:"calories"`
	Protein            float64         `json:"protein"`
	Carbs              float64         `json:"carbs"`
	Fat                float64         `json:"fat"`
	Fiber              float64         `json:"fiber"`
	Sugar              float64         `json:"sugar"`
	Confidence         int             `json:"confidence"`
	SampleCount        int             `json:"sampleCount"`
	RequestedSamples   int             `json:"requestedSamples,omitempty"`
	ReferenceObject    ReferenceObject `json:"referenceObject,omitempty"`
	// CalorieCV is the coefficient of variation of the calorie estimates in
	// percent. Informational only, zero for a single sample.
	CalorieCV float64   `json:"calorieCv,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Image     ImageRef  `json:"image"`
}
