package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	logx "kosha/pkg/logx"
)

// ErrDenied is returned for chats outside the allow list.
var ErrDenied = errors.New("router: chat not allowed")

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					l := log
					if req != nil && !req.Log.IsZero() {
						l = req.Log
					}
					l.Error("panic recovered", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			l := log
			if !req.Log.IsZero() {
				l = req.Log
			}
			err := next(ctx, req)
			fields := []logx.Field{
				logx.String("kind", string(req.Update.Kind)),
				logx.Duration("dur", time.Since(start)),
			}
			switch {
			case errors.Is(err, ErrDenied):
				l.Warn("request denied", fields...)
			case err != nil:
				l.Warn("request failed", append(fields, logx.Err(err))...)
			default:
				l.Info("request ok", fields...)
			}
			return err
		}
	}
}

// MWRestrict rejects chats for which allowed returns false.
func MWRestrict(allowed func(chatID int64) bool) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if !allowed(req.Chat.ChatID) {
				return ErrDenied
			}
			return next(ctx, req)
		}
	}
}
