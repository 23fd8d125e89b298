package notify

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
)

// Redis publishes owner notifications onto the stream the bot process
// consumes. The engine never talks to the messenger directly: the triggering
// session may be long gone by the time a job finishes.
type Redis struct {
	rdb    *r.Client
	stream string
}

func NewRedis(rdb *r.Client, stream string) *Redis { return &Redis{rdb, stream} }

// Send queues a message for the owner. A non-empty link is rendered as an
// inline URL button by the consumer.
func (n *Redis) Send(ctx context.Context, ownerID int64, text, link string) error {
	values := map[string]interface{}{
		"tg_id": ownerID,
		"text":  text,
	}
	if link != "" {
		kb, err := json.Marshal(map[string]interface{}{
			"inline_keyboard": [][]map[string]string{
				{{"text": "🔗 Відкрити таблицю", "url": link}},
			},
		})
		if err != nil {
			return errors.Wrap(err, "notify: encode keyboard")
		}
		values["kb"] = string(kb)
	}
	err := n.rdb.XAdd(ctx, &r.XAddArgs{
		Stream: n.stream,
		MaxLen: 1000,
		Approx: true,
		Values: values,
	}).Err()
	return errors.Wrap(err, "notify: xadd")
}
