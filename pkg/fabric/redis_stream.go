// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package fabric

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStream implements Stream on Redis streams. Mailboxes map to
// stream keys, entry ids are native Redis stream ids and blocking tail
// reads use XREAD BLOCK.
type RedisStream struct {
	rdb *redis.Client
}

// NewRedisStream connects to Redis and verifies the connection.
func NewRedisStream(ctx context.Context, addr string, db int) (*RedisStream, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return &RedisStream{rdb: rdb}, nil
}

// NewRedisStreamFromClient wraps an existing client.
func NewRedisStreamFromClient(rdb *redis.Client) *RedisStream {
	return &RedisStream{rdb: rdb}
}

// Append implements Stream.Append.
func (r *RedisStream) Append(ctx context.Context, mailbox string, fields map[string]string) (string, error) {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	id, err := r.rdb.XAdd(ctx, &redis.XAddArgs{Stream: mailbox, Values: values}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", mailbox, err)
	}
	return id, nil
}

// TailRead implements Stream.TailRead.
func (r *RedisStream) TailRead(ctx context.Context, cursors map[string]string, maxCount int, block time.Duration) ([]MailboxEntries, error) {
	if len(cursors) == 0 {
		return nil, nil
	}
	streams := make([]string, 0, 2*len(cursors))
	ids := make([]string, 0, len(cursors))
	for mailbox, cursor := range cursors {
		if cursor == "" {
			cursor = CursorStart
		}
		streams = append(streams, mailbox)
		ids = append(ids, cursor)
	}
	streams = append(streams, ids...)

	res, err := r.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: streams,
		Count:   int64(maxCount),
		Block:   block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xread: %w", err)
	}

	out := make([]MailboxEntries, 0, len(res))
	for _, xs := range res {
		me := MailboxEntries{Mailbox: xs.Stream}
		for _, msg := range xs.Messages {
			me.Entries = append(me.Entries, xMessageToEntry(msg))
		}
		out = append(out, me)
	}
	return out, nil
}

// Range implements Stream.Range.
func (r *RedisStream) Range(ctx context.Context, mailbox, from, to string, count int) ([]Entry, error) {
	if from == "" {
		from = "-"
	}
	if to == "" {
		to = "+"
	}
	msgs, err := r.rdb.XRangeN(ctx, mailbox, from, to, int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("xrange %s: %w", mailbox, err)
	}
	out := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, xMessageToEntry(msg))
	}
	return out, nil
}

// RevRange implements Stream.RevRange.
func (r *RedisStream) RevRange(ctx context.Context, mailbox string, count int) ([]Entry, error) {
	msgs, err := r.rdb.XRevRangeN(ctx, mailbox, "+", "-", int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange %s: %w", mailbox, err)
	}
	out := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, xMessageToEntry(msg))
	}
	return out, nil
}

// Scan implements Stream.Scan.
func (r *RedisStream) Scan(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	iter := r.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		names = append(names, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s*: %w", prefix, err)
	}
	return names, nil
}

// Close implements Stream.Close.
func (r *RedisStream) Close() error {
	return r.rdb.Close()
}

func xMessageToEntry(msg redis.XMessage) Entry {
	fields := make(map[string]string, len(msg.Values))
	for k, v := range msg.Values {
		if s, ok := v.(string); ok {
			fields[k] = s
		} else {
			fields[k] = fmt.Sprintf("%v", v)
		}
	}
	return Entry{ID: msg.ID, Fields: fields}
}
