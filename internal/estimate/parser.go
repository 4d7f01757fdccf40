package estimate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/raine/telegram-nutrition-bot/internal/nutrition"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

const sampleSchemaJSON = `{
	"type": "object",
	"required": ["foodName", "portionSize", "calories", "protein", "carbs", "fat", "fiber", "sugar", "confidence"],
	"additionalProperties": false,
	"properties": {
		"foodName": {"type": "string", "minLength": 1},
		"portionSize": {"type": "string"},
		"calories": {"type": "number", "minimum": 0, "maximum": 100000},
		"protein": {"type": "number", "minimum": 0, "maximum": 10000},
		"carbs": {"type": "number", "minimum": 0, "maximum": 10000},
		"fat": {"type": "number", "minimum": 0, "maximum": 10000},
		"fiber": {"type": "number", "minimum": 0, "maximum": 10000},
		"sugar": {"type": "number", "minimum": 0, "maximum": 10000},
		"confidence": {"type": "number", "minimum": 0, "maximum": 100}
	}
}`

var sampleSchema = mustCompileSchema("sample.json", sampleSchemaJSON)

func mustCompileSchema(name, schema string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("add schema %s: %v", name, err))
	}
	compiled, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", name, err))
	}
	return compiled
}

type samplePayload struct {
	FoodName    string  `json:"foodName"`
	PortionSize string  `json:"portionSize"`
	Calories    float64 `json:"calories"`
	Protein     float64 `json:"protein"`
	Carbs       float64 `json:"carbs"`
	Fat         float64 `json:"fat"`
	Fiber       float64 `json:"fiber"`
	Sugar       float64 `json:"sugar"`
	Confidence  float64 `json:"confidence"`
}

// ParseSample decodes one model response. It returns nutrition.ErrNotFood for
// the not-food sentinel and an error wrapping nutrition.ErrMalformed for
// anything that does not match the sample schema exactly.
func ParseSample(raw string) (*nutrition.Sample, error) {
	body, ok := extractJSONObject(raw)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object in response", nutrition.ErrMalformed)
	}
	if !gjson.Valid(body) {
		return nil, fmt.Errorf("%w: invalid JSON", nutrition.ErrMalformed)
	}
	if isNotFoodSentinel(gjson.Parse(body)) {
		return nil, nutrition.ErrNotFood
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", nutrition.ErrMalformed, err)
	}
	if err := sampleSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", nutrition.ErrMalformed, err)
	}

	var p samplePayload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", nutrition.ErrMalformed, err)
	}
	name := strings.TrimSpace(p.FoodName)
	if name == "" {
		return nil, fmt.Errorf("%w: empty foodName", nutrition.ErrMalformed)
	}

	return &nutrition.Sample{
		FoodName:           name,
		PortionDescription: strings.TrimSpace(p.PortionSize),
		Calories:           nutrition.RoundInt(p.Calories),
		Protein:            nutrition.Round1(p.Protein),
		Carbs:              nutrition.Round1(p.Carbs),
		Fat:                nutrition.Round1(p.Fat),
		Fiber:              nutrition.Round1(p.Fiber),
		Sugar:              nutrition.Round1(p.Sugar),
		Confidence:         nutrition.RoundInt(p.Confidence),
	}, nil
}

// isNotFoodSentinel reports whether obj is exactly {"error": "Not food detected"}.
func isNotFoodSentinel(obj gjson.Result) bool {
	if !obj.IsObject() {
		return false
	}
	keys := 0
	obj.ForEach(func(_, _ gjson.Result) bool {
		keys++
		return keys <= 1
	})
	if keys != 1 {
		return false
	}
	v := obj.Get("error")
	return v.Exists() && v.Type == gjson.String && v.Str == NotFoodMessage
}
