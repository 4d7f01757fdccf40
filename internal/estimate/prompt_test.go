package estimate

import (
	"strings"
	"testing"

	"github.com/raine/telegram-nutrition-bot/internal/nutrition"
	"github.com/stretchr/testify/assert"
)

func TestRenderPrompt_Deterministic(t *testing.T) {
	for _, ref := range nutrition.ReferenceObjects {
		assert.Equal(t, RenderPrompt(ref), RenderPrompt(ref), string(ref))
	}
}

func TestRenderPrompt_Schema(t *testing.T) {
	p := RenderPrompt(nutrition.ReferenceNone)
	for _, key := range []string{"foodName", "portionSize", "calories", "protein", "carbs", "fat", "fiber", "sugar", "confidence"} {
		assert.Contains(t, p, `"`+key+`"`)
	}
	assert.Contains(t, p, `{"error": "Not food detected"}`)
	assert.Contains(t, p, "Portion size reference")
}

func TestRenderPrompt_Calibration(t *testing.T) {
	none := RenderPrompt(nutrition.ReferenceNone)
	assert.NotContains(t, none, "Scale reference")

	for _, ref := range nutrition.ReferenceObjects[1:] {
		p := RenderPrompt(ref)
		object, dimension, ok := ref.Calibration()
		assert.True(t, ok)
		assert.True(t, strings.HasPrefix(p, none), "calibration is appended to the base prompt")
		assert.Contains(t, p, "Scale reference")
		assert.Contains(t, p, object)
		assert.Contains(t, p, dimension)
	}

	assert.NotEqual(t, RenderPrompt(nutrition.ReferenceCoin), RenderPrompt(nutrition.ReferencePhone))
}

func TestRenderPrompt_UnknownReferenceFallsBackToBase(t *testing.T) {
	assert.Equal(t, RenderPrompt(nutrition.ReferenceNone), RenderPrompt("spoon"))
}
