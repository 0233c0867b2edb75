package mq

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// InProc 未启用 Kafka 时的进程内队列，同时实现 Publisher 与 Consumer。
// 只保证单进程内按发布顺序投递，Handler 失败的消息直接丢弃，条目停留在 queued 由 RetrySweeper 按超时捞回。
type InProc struct {
	ch     chan Message
	offset atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

func NewInProc(buffer int) *InProc {
	if buffer <= 0 {
		buffer = 256
	}
	return &InProc{ch: make(chan Message, buffer), done: make(chan struct{})}
}

var (
	_ Publisher = (*InProc)(nil)
	_ Consumer  = (*InProc)(nil)
)

var ErrClosed = errors.New("mq closed")

func (q *InProc) Publish(ctx context.Context, msg Message) (PublishResult, error) {
	select {
	case <-q.done:
		return PublishResult{}, ErrClosed
	default:
	}
	select {
	case q.ch <- msg:
		return PublishResult{Offset: q.offset.Add(1) - 1}, nil
	case <-q.done:
		return PublishResult{}, ErrClosed
	case <-ctx.Done():
		return PublishResult{}, ctx.Err()
	}
}

func (q *InProc) Run(ctx context.Context, handler Handler) error {
	if handler == nil {
		return errors.New("handler is nil")
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.done:
			return nil
		case m := <-q.ch:
			_ = handler.Handle(ctx, m)
		}
	}
}

func (q *InProc) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
