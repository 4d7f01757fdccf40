package bot

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/raine/telegram-nutrition-bot/internal/nutrition"
)

// Callback data prefixes
const (
	cbPortion = "portion:"
	cbHistory = "hist:"
	cbMode    = "mode:"
	cbRef     = "ref:"
)

// portionSteps are the deltas of the portion buttons. Zero resets to 100%.
var portionSteps = []int{-25, -5, 0, 5, 25}

// formatResult renders a result at the given portion.
func formatResult(r nutrition.Result, view nutrition.ScaledView) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "🍽 *%s*\n", escapeMarkdown(r.FoodName))
	if r.PortionDescription != "" {
		fmt.Fprintf(&sb, "份量：%s\n", escapeMarkdown(r.PortionDescription))
	}
	if view.Portion != nutrition.DefaultPortion {
		fmt.Fprintf(&sb, "調整後份量：*%d%%*\n", view.Portion)
	}

	sb.WriteString("\n")
	fmt.Fprintf(&sb, "🔥 總熱量：*%d kcal*\n", view.Calories)
	fmt.Fprintf(&sb, "💪 蛋白質：%sg\n", formatGrams(view.Protein))
	fmt.Fprintf(&sb, "🌾 碳水化合物：%sg\n", formatGrams(view.Carbs))
	fmt.Fprintf(&sb, "💧 脂肪：%sg\n", formatGrams(view.Fat))
	fmt.Fprintf(&sb, "🥬 纖維：%sg\n", formatGrams(view.Fiber))
	fmt.Fprintf(&sb, "🍬 糖分：%sg\n", formatGrams(view.Sugar))

	sb.WriteString("\n")
	fmt.Fprintf(&sb, "信心度：%d%%", r.Confidence)
	if r.RequestedSamples > 1 {
		fmt.Fprintf(&sb, "（%d/%d 次取樣平均）", r.SampleCount, r.RequestedSamples)
	}
	sb.WriteString("\n")
	if r.ReferenceObject != "" && r.ReferenceObject != nutrition.ReferenceNone {
		fmt.Fprintf(&sb, "參考物：%s\n", r.ReferenceObject.Label())
	}
	fmt.Fprintf(&sb, "_%s_", r.Timestamp.Local().Format("2006-01-02 15:04"))

	return sb.String()
}

// formatGrams prints one decimal place, dropping a trailing ".0".
func formatGrams(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// portionKeyboard builds the portion buttons for a result shown at current.
// Each button carries the portion it switches to.
func portionKeyboard(resultID string, current nutrition.Portion) tgbotapi.InlineKeyboardMarkup {
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(portionSteps))
	for _, step := range portionSteps {
		var label string
		target := nutrition.DefaultPortion
		switch {
		case step == 0:
			label = fmt.Sprintf("%d%%", current)
		case step > 0:
			label = fmt.Sprintf("+%d", step)
			target = current.Add(step)
		default:
			label = fmt.Sprintf("%d", step)
			target = current.Add(step)
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, portionCallbackData(resultID, target)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}

func portionCallbackData(resultID string, p nutrition.Portion) string {
	return fmt.Sprintf("%s%s:%d", cbPortion, resultID, p)
}

// parsePortionCallback parses "portion:<result id>:<percent>".
func parsePortionCallback(data string) (string, nutrition.Portion, error) {
	rest, ok := strings.CutPrefix(data, cbPortion)
	if !ok {
		return "", 0, fmt.Errorf("not a portion callback: %q", data)
	}
	i := strings.LastIndexByte(rest, ':')
	if i <= 0 {
		return "", 0, fmt.Errorf("malformed portion callback: %q", data)
	}
	p, err := nutrition.ParsePortion(rest[i+1:])
	if err != nil {
		return "", 0, err
	}
	return rest[:i], p, nil
}

// historyKeyboard has one button per entry, most recent first.
func historyKeyboard(entries []nutrition.Result) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(entries))
	for _, e := range entries {
		label := fmt.Sprintf("%s %s · %d kcal", e.Timestamp.Local().Format("01/02 15:04"), e.FoodName, e.Calories)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, cbHistory+e.ID),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func modeKeyboard(multi bool) tgbotapi.InlineKeyboardMarkup {
	single, multiple := BtnSingleSample, BtnMultiSample
	if multi {
		multiple = fmt.Sprintf(BtnSelected, multiple)
	} else {
		single = fmt.Sprintf(BtnSelected, single)
	}
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(single, cbMode+"single"),
		tgbotapi.NewInlineKeyboardButtonData(multiple, cbMode+"multi"),
	))
}

func referenceKeyboard(selected nutrition.ReferenceObject) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, ref := range nutrition.ReferenceObjects {
		label := ref.Label()
		if ref == selected {
			label = fmt.Sprintf(BtnSelected, label)
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, cbRef+string(ref)))
		if len(row) == 3 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
