package storage

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"relaychat/internal/models"
	"relaychat/internal/store"
)

const DefaultRedisPrefix = "relaychat"

var _ store.Persister = (*Redis)(nil)

// raiseLastID sets KEYS[1] to ARGV[1] unless it already holds a larger value.
var raiseLastID = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local candidate = tonumber(ARGV[1])
if candidate > current then
	redis.call("SET", KEYS[1], ARGV[1])
	return candidate
end
return current
`)

// Redis keeps conversations in Redis: one hash per conversation, a set of
// live ids and a monotonic id counter.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to addr and checks the server answers.
func NewRedis(ctx context.Context, addr, prefix string) (*Redis, error) {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "connecting to redis at %s", addr)
	}
	return &Redis{client: client, prefix: prefix}, nil
}

func (r *Redis) idsKey() string    { return r.prefix + ":conversations" }
func (r *Redis) lastIDKey() string { return r.prefix + ":last_id" }
func (r *Redis) convKey(id int64) string {
	return r.prefix + ":conversation:" + strconv.FormatInt(id, 10)
}

func (r *Redis) SaveConversation(ctx context.Context, conv models.Conversation) error {
	messages := conv.Messages
	if messages == nil {
		messages = []models.Message{}
	}
	payload, err := json.Marshal(messages)
	if err != nil {
		return errors.Wrap(err, "encoding messages")
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.convKey(conv.ID),
			"title", conv.Title,
			"created", conv.Created.UTC().Format(time.RFC3339Nano),
			"messages", string(payload),
		)
		pipe.SAdd(ctx, r.idsKey(), conv.ID)
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "saving conversation %d", conv.ID)
	}

	if err := raiseLastID.Run(ctx, r.client, []string{r.lastIDKey()}, conv.ID).Err(); err != nil {
		return errors.Wrap(err, "raising id counter")
	}
	return nil
}

func (r *Redis) Load(ctx context.Context) ([]models.Conversation, int64, error) {
	members, err := r.client.SMembers(ctx, r.idsKey()).Result()
	if err != nil {
		return nil, 0, errors.Wrap(err, "listing conversations")
	}

	conversations := make([]models.Conversation, 0, len(members))
	for _, member := range members {
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			return nil, 0, errors.Wrapf(err, "parsing conversation id %q", member)
		}
		fields, err := r.client.HGetAll(ctx, r.convKey(id)).Result()
		if err != nil {
			return nil, 0, errors.Wrapf(err, "reading conversation %d", id)
		}
		if len(fields) == 0 {
			// Set entry without a hash: a delete raced a save.
			continue
		}
		conv, err := decodeConversation(id, fields)
		if err != nil {
			return nil, 0, err
		}
		conversations = append(conversations, conv)
	}

	lastID, err := r.client.Get(ctx, r.lastIDKey()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, errors.Wrap(err, "reading id counter")
	}

	return conversations, lastID, nil
}

func decodeConversation(id int64, fields map[string]string) (models.Conversation, error) {
	created, err := time.Parse(time.RFC3339Nano, fields["created"])
	if err != nil {
		return models.Conversation{}, errors.Wrapf(err, "parsing creation time of conversation %d", id)
	}
	var messages []models.Message
	if err := json.Unmarshal([]byte(fields["messages"]), &messages); err != nil {
		return models.Conversation{}, errors.Wrapf(err, "decoding messages of conversation %d", id)
	}
	for _, m := range messages {
		if _, err := models.ParseRole(string(m.Role)); err != nil {
			return models.Conversation{}, errors.Wrapf(err, "conversation %d", id)
		}
	}
	return models.Conversation{
		ID:       id,
		Title:    fields["title"],
		Created:  created,
		Messages: messages,
	}, nil
}

func (r *Redis) DeleteConversation(ctx context.Context, id int64) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.convKey(id))
		pipe.SRem(ctx, r.idsKey(), id)
		return nil
	})
	return errors.Wrapf(err, "deleting conversation %d", id)
}

func (r *Redis) Close() error {
	return r.client.Close()
}
