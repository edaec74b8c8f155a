package transport

import (
	"context"
	"sort"
	"strings"

	logx "emberon/pkg/logx"
)

// Log is a Transport that only writes the push to the logger. It is used when
// no real push transport is configured.
type Log struct {
	log logx.Logger
}

func NewLog(log logx.Logger) *Log {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Log{log: log}
}

func (l *Log) Name() string { return "log" }

func (l *Log) Send(ctx context.Context, d Delivery) (MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return MessageRef{}, err
	}
	if d.ChatID == 0 {
		return MessageRef{}, ErrNoAddress
	}
	l.log.Info("push",
		logx.Int64("chat_id", d.ChatID),
		logx.String("title", d.Title),
		logx.String("body", d.Body),
		logx.String("data", formatData(d.Data)),
	)
	return MessageRef{ChatID: d.ChatID}, nil
}

func formatData(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(m[k])
	}
	return b.String()
}
