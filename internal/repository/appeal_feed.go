package repository

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-incident-api/internal/models"
)

// AppealFeed broadcasts committed appeal snapshots over Redis pub/sub so
// reviewer dashboards can follow workflow progress live.
type AppealFeed struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewAppealFeed constructs the feed on the given channel.
func NewAppealFeed(client *redis.Client, channel string, logger *zap.Logger) *AppealFeed {
	if channel == "" {
		channel = "appeals:feed"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AppealFeed{client: client, channel: channel, logger: logger}
}

// Publish pushes an appeal snapshot onto the feed. Best-effort: failures are
// logged and never surfaced, the state write has already committed.
func (f *AppealFeed) Publish(ctx context.Context, appeal *models.Appeal) {
	if f == nil || f.client == nil || appeal == nil {
		return
	}
	payload, err := json.Marshal(appeal)
	if err != nil {
		f.logger.Warn("failed to encode appeal for feed", zap.Error(err))
		return
	}
	if err := f.client.Publish(ctx, f.channel, payload).Err(); err != nil {
		f.logger.Warn("failed to publish appeal to feed", zap.String("appeal_id", appeal.ID), zap.Error(err))
	}
}

// Subscribe returns a channel of appeal snapshots matching the status
// filter (empty filter matches everything) and a cancel function. Transport
// errors close the channel; consumers observe an empty feed rather than an
// error.
func (f *AppealFeed) Subscribe(ctx context.Context, statuses []models.AppealStatus) (<-chan models.Appeal, func()) {
	out := make(chan models.Appeal)
	if f == nil || f.client == nil {
		close(out)
		return out, func() {}
	}

	wanted := make(map[models.AppealStatus]struct{}, len(statuses))
	for _, s := range statuses {
		wanted[s] = struct{}{}
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := f.client.Subscribe(subCtx, f.channel)

	go func() {
		defer close(out)
		defer sub.Close() //nolint:errcheck
		ch := sub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var appeal models.Appeal
				if err := json.Unmarshal([]byte(msg.Payload), &appeal); err != nil {
					f.logger.Warn("failed to decode appeal feed message", zap.Error(err))
					continue
				}
				if len(wanted) > 0 {
					if _, ok := wanted[appeal.Status]; !ok {
						continue
					}
				}
				select {
				case <-subCtx.Done():
					return
				case out <- appeal:
				}
			}
		}
	}()

	return out, cancel
}
