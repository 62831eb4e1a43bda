// Package userlog records first-time bot users and announces them to a
// Telegram log channel. Both the Mongo store and the channel are
// optional; a nil store or zero channel turns the corresponding half
// into a no-op so the bot runs fine without them.
package userlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// User is the slice of a Telegram account the audit log keeps.
type User struct {
	ID        int64
	FirstName string
	LastName  string
	Username  string
}

func (u User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

type Mongo struct {
	client *mongo.Client
	col    *mongo.Collection
}

func NewMongo(ctx context.Context, uri string) (*Mongo, error) {
	if uri == "" {
		return nil, errors.New("MONGODB_URI is empty")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	col := client.Database("movieflix").Collection("users")
	_, _ = col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{bson.E{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return &Mongo{client: client, col: col}, nil
}

func (m *Mongo) Close(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.client.Disconnect(ctx)
}

// FirstSeen upserts the user and reports whether this is their first
// appearance.
func (m *Mongo) FirstSeen(ctx context.Context, u User) (bool, error) {
	if m == nil {
		return false, errors.New("mongo not configured")
	}
	now := time.Now()
	res, err := m.col.UpdateOne(ctx,
		bson.M{"user_id": u.ID},
		bson.M{
			"$setOnInsert": bson.M{"user_id": u.ID, "first_seen": now},
			"$set": bson.M{
				"name":      u.FullName(),
				"username":  u.Username,
				"last_seen": now,
			},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, err
	}
	return res.UpsertedCount > 0, nil
}

// Logger ties the store and the announcement channel together.
type Logger struct {
	db        *Mongo
	api       *tgbotapi.BotAPI
	channelID int64
	log       zerolog.Logger
}

func New(db *Mongo, api *tgbotapi.BotAPI, channelID int64, log zerolog.Logger) *Logger {
	return &Logger{db: db, api: api, channelID: channelID, log: log}
}

// LogStart records a /start and, for users seen for the first time,
// posts an announcement to the log channel. Failures here are logged
// and swallowed; the audit trail must never break the user's flow.
func (l *Logger) LogStart(ctx context.Context, u User) {
	first := true
	if l.db != nil {
		var err error
		first, err = l.db.FirstSeen(ctx, u)
		if err != nil {
			l.log.Warn().Err(err).Int64("user", u.ID).Msg("user audit upsert failed")
			return
		}
	}
	if !first || l.channelID == 0 || l.api == nil {
		return
	}

	if _, err := l.api.Send(tgbotapi.NewMessage(l.channelID, announcement(u))); err != nil {
		l.log.Warn().Err(err).Int64("user", u.ID).Msg("user audit announce failed")
	}
}

func announcement(u User) string {
	text := fmt.Sprintf("New user started bot:\n\nName: %s\nID: %d", u.FullName(), u.ID)
	if u.Username != "" {
		text += "\nUsername: @" + strings.TrimPrefix(u.Username, "@")
	}
	return text
}
