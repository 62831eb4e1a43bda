// Package bot wires the selection flow to Telegram: inbound messages
// and button taps come in over long polling, typed flow outcomes go
// back out as messages, inline keyboards, or a document upload.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"movieflix-tg-bot/internal/flow"
	"movieflix-tg-bot/internal/store"
	"movieflix-tg-bot/internal/userlog"
	"movieflix-tg-bot/internal/yts"
)

const (
	msgWelcome = "Hey %s, welcome to MovieFlix!\n\nSend me a movie title and I'll find torrents for it."
	msgHelp    = "Send a movie title to search.\nTap a result, pick a quality, and I'll send you the .torrent file."

	msgNoResults       = "Nothing found for that title. Try a different search term."
	msgSearchAgain     = "That selection has expired. Please search again."
	msgProviderDown    = "The movie catalog is not responding right now. Please try again later."
	msgNoQualities     = "No downloadable files are available for this title."
	msgFileUnavailable = "Couldn't fetch the torrent file."
)

// updateTimeout bounds all external calls made on behalf of one update.
const updateTimeout = 45 * time.Second

type Bot struct {
	api   *tgbotapi.BotAPI
	ctrl  *flow.Controller
	audit *userlog.Logger
	log   zerolog.Logger
}

func New(api *tgbotapi.BotAPI, ctrl *flow.Controller, audit *userlog.Logger, log zerolog.Logger) *Bot {
	return &Bot{api: api, ctrl: ctrl, audit: audit, log: log}
}

// Run consumes updates until ctx is done. Each update is handled on its
// own goroutine; all shared state lives in the result store, which is
// safe for concurrent sessions.
func (b *Bot) Run(ctx context.Context) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	cfg.AllowedUpdates = []string{"message", "callback_query"}
	updates := b.api.GetUpdatesChan(cfg)

	b.log.Info().Str("account", b.api.Self.UserName).Msg("polling started")
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			go b.handleUpdate(ctx, upd)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, upd tgbotapi.Update) {
	ctx, cancel := context.WithTimeout(ctx, updateTimeout)
	defer cancel()

	switch {
	case upd.Message != nil:
		b.handleMessage(ctx, upd.Message)
	case upd.CallbackQuery != nil:
		b.handleCallback(ctx, upd.CallbackQuery)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil || msg.From == nil {
		return
	}
	chatID := msg.Chat.ID

	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			b.send(tgbotapi.NewMessage(chatID, welcomeText(msg.From)))
			b.audit.LogStart(ctx, userlog.User{
				ID:        msg.From.ID,
				FirstName: msg.From.FirstName,
				LastName:  msg.From.LastName,
				Username:  msg.From.UserName,
			})
		case "help":
			b.send(tgbotapi.NewMessage(chatID, msgHelp))
		default:
			b.send(tgbotapi.NewMessage(chatID, msgHelp))
		}
		return
	}

	query := strings.TrimSpace(msg.Text)
	if query == "" {
		return
	}
	b.handleQuery(ctx, chatID, query)
}

func (b *Bot) handleQuery(ctx context.Context, chatID int64, query string) {
	b.chatAction(chatID, tgbotapi.ChatTyping)

	list, err := b.ctrl.OnQuery(ctx, chatID, query)
	switch {
	case errors.Is(err, flow.ErrNoResults):
		b.send(tgbotapi.NewMessage(chatID, msgNoResults))
	case err != nil:
		b.log.Error().Err(err).Int64("chat", chatID).Str("query", query).Msg("search failed")
		b.send(tgbotapi.NewMessage(chatID, msgProviderDown))
	default:
		out := tgbotapi.NewMessage(chatID, "Results for \""+list.Title+"\":")
		out.ReplyMarkup = choiceKeyboard(list)
		b.send(out)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	chatID := cb.From.ID
	messageID := 0
	if cb.Message != nil && cb.Message.Chat != nil {
		chatID = cb.Message.Chat.ID
		messageID = cb.Message.MessageID
	}

	switch store.ParseHandle(cb.Data) {
	case store.KindMovie:
		b.answerCallback(cb.ID, "")
		b.handleMovieChoice(ctx, chatID, messageID, cb.Data)
	case store.KindQuality:
		b.answerCallback(cb.ID, "Fetching…")
		b.handleQualityChoice(ctx, chatID, cb.Data)
	default:
		b.answerCallback(cb.ID, msgSearchAgain)
	}
}

func (b *Bot) handleMovieChoice(ctx context.Context, chatID int64, messageID int, handle string) {
	list, err := b.ctrl.OnMovieChoice(ctx, chatID, handle)
	switch {
	case errors.Is(err, flow.ErrNotFound):
		b.send(tgbotapi.NewMessage(chatID, msgSearchAgain))
	case errors.Is(err, flow.ErrNoQualities):
		b.send(tgbotapi.NewMessage(chatID, msgNoQualities))
	case err != nil:
		b.log.Error().Err(err).Int64("chat", chatID).Msg("detail fetch failed")
		b.send(tgbotapi.NewMessage(chatID, msgProviderDown))
	default:
		text := "Pick a quality for " + list.Title + ":"
		if messageID != 0 {
			edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
			kb := choiceKeyboard(list)
			edit.ReplyMarkup = &kb
			b.send(edit)
			return
		}
		out := tgbotapi.NewMessage(chatID, text)
		out.ReplyMarkup = choiceKeyboard(list)
		b.send(out)
	}
}

func (b *Bot) handleQualityChoice(ctx context.Context, chatID int64, handle string) {
	b.chatAction(chatID, tgbotapi.ChatUploadDocument)

	del, err := b.ctrl.OnQualityChoice(ctx, chatID, handle)
	if err != nil {
		b.deliverFallback(chatID, err)
		return
	}
	defer del.Artifact.Release()

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(del.Artifact.Path))
	doc.Caption = strings.TrimSuffix(del.Quality.Filename, ".torrent")
	if _, err := b.api.Send(doc); err != nil {
		b.log.Error().Err(err).Int64("chat", chatID).Msg("document upload failed")
		b.sendMagnet(chatID, del.Quality)
	}
}

// deliverFallback turns a failed quality selection into the best message
// we can still give the user: a magnet link when we know the info hash,
// a retry prompt otherwise.
func (b *Bot) deliverFallback(chatID int64, err error) {
	if errors.Is(err, flow.ErrNotFound) {
		b.send(tgbotapi.NewMessage(chatID, msgSearchAgain))
		return
	}
	var ff *flow.FetchFailedError
	if errors.As(err, &ff) {
		b.log.Warn().Err(err).Int64("chat", chatID).Msg("descriptor fetch failed")
		b.sendMagnet(chatID, ff.Quality)
		return
	}
	b.log.Error().Err(err).Int64("chat", chatID).Msg("quality selection failed")
	b.send(tgbotapi.NewMessage(chatID, msgFileUnavailable))
}

func (b *Bot) sendMagnet(chatID int64, q store.Quality) {
	if q.InfoHash == "" {
		b.send(tgbotapi.NewMessage(chatID, msgFileUnavailable))
		return
	}
	name := strings.TrimSuffix(q.Filename, ".torrent")
	text := msgFileUnavailable + " Here is a magnet link instead:\n\n" + yts.MagnetLink(q.InfoHash, name)
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		b.log.Warn().Err(err).Msg("telegram send failed")
	}
}

func (b *Bot) answerCallback(id, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		b.log.Warn().Err(err).Msg("answerCallbackQuery failed")
	}
}

func (b *Bot) chatAction(chatID int64, action string) {
	if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, action)); err != nil {
		b.log.Debug().Err(err).Msg("chat action failed")
	}
}

func welcomeText(u *tgbotapi.User) string {
	name := u.FirstName
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf(msgWelcome, name)
}
