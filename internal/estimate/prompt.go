package estimate

import (
	"fmt"
	"strings"

	"github.com/raine/telegram-nutrition-bot/internal/nutrition"
)

// NotFoodMessage is the value of the "error" key the model returns for
// images that do not show food.
const NotFoodMessage = "Not food detected"

const basePrompt = `Analyze this image of food. Identify the food and estimate its nutritional content for the whole portion shown in the photo.

Estimation guidelines:
- Identify every component of the dish (main item, sauces, toppings, sides) and include all of them.
- Estimate the visible portion size first, then derive the nutrients from that portion.
- All values describe the entire portion in the image, not 100 g and not a single piece.
- When the cooking method is unclear, assume a typical home-style or restaurant preparation.
- Include oil and sauces used in cooking when they are visible or typical for the dish.

Portion size reference:
- 1 bowl of cooked rice: about 200 g, about 280 kcal
- 1 bowl of noodle soup: about 500 g including broth
- 1 palm-sized piece of meat or fish: about 100 g
- 1 egg: about 50 g
- 1 cup of cooked vegetables: about 150 g
- 1 slice of bread: about 30 g
- 1 medium fruit (apple, orange): about 150 g
- 1 tablespoon of cooking oil: about 14 g fat, about 120 kcal

Return ONLY a valid JSON object with no markdown formatting or backticks.
The JSON object must have exactly these keys:
- "foodName": string (short name of the food identified, in Traditional Chinese)
- "portionSize": string (estimated portion, e.g. "1 碗 (約 300 g)")
- "calories": number (estimated total calories in kcal)
- "protein": number (grams)
- "carbs": number (grams)
- "fat": number (grams)
- "fiber": number (grams)
- "sugar": number (grams)
- "confidence": integer from 0 to 100 (how confident you are in this estimate)

If the image is not food, return {"error": "` + NotFoodMessage + `"}`

const calibrationClause = `

Scale reference: the photo also contains %s, which is %s. Use it to judge the real size of the food and the portion.`

// RenderPrompt returns the instruction text for one run. The same reference
// object always yields the same text.
func RenderPrompt(ref nutrition.ReferenceObject) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	if object, dimension, ok := ref.Calibration(); ok {
		fmt.Fprintf(&b, calibrationClause, object, dimension)
	}
	return b.String()
}
