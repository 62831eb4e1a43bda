package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"movieflix-tg-bot/internal/flow"
)

// choiceKeyboard renders a choice list as an inline keyboard, one option
// per row, with the store handle as the callback payload.
func choiceKeyboard(list *flow.ChoiceList) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(list.Choices))
	for _, c := range list.Choices {
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(truncateLabel(c.Label), c.Handle),
		})
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// Telegram clips long button text client-side; cut it ourselves with an
// ellipsis so the clipping is at least predictable.
const maxLabelLen = 56

func truncateLabel(s string) string {
	if len(s) <= maxLabelLen {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLabelLen {
		return s
	}
	return string(runes[:maxLabelLen-1]) + "…"
}
