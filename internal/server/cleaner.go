package server

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/samer-khoury/mizan/internal/chat"
	"github.com/samer-khoury/mizan/internal/telemetry"
)

// Cleaner periodically removes consultation sessions older than MaxAge. A
// Redis lock keeps replicas from sweeping concurrently.
type Cleaner struct {
	Store   *chat.RedisStore
	Index   *chat.SearchIndex
	Cron    string
	MaxAge  time.Duration
	Stop    chan struct{}
	Logger  *log.Logger
	Metrics *telemetry.Metrics

	lastRun time.Time
}

func (cl *Cleaner) Start() {
	if cl.Logger == nil {
		cl.Logger = log.New(log.Writer(), "[SWEEP] ", log.LstdFlags)
	}
	if cl.Metrics == nil {
		cl.Metrics = telemetry.Nop()
	}
	ticker := time.NewTicker(time.Minute)
	go func() {
		for {
			select {
			case <-cl.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				if cl.due() {
					cl.sweep()
				}
			}
		}
	}()
}

func (cl *Cleaner) due() bool {
	now := time.Now()
	if cl.lastRun.IsZero() {
		cl.lastRun = now
		return false
	}
	switch cl.Cron {
	case "@hourly":
		return now.Sub(cl.lastRun) >= time.Hour
	case "@daily":
		return now.Sub(cl.lastRun) >= 24*time.Hour
	default:
		expr, err := cronexpr.Parse(cl.Cron)
		if err != nil {
			return now.Sub(cl.lastRun) >= 24*time.Hour
		}
		return !expr.Next(cl.lastRun).After(now)
	}
}

func (cl *Cleaner) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	cl.lastRun = time.Now()

	rdb := cl.Store.Client()
	// one sweeper across replicas
	ok, err := rdb.SetNX(ctx, "sweep:lock", "1", 10*time.Minute).Result()
	if err != nil || !ok {
		return
	}
	defer rdb.Del(ctx, "sweep:lock")

	cutoff := time.Now().Add(-cl.MaxAge)
	var swept int
	iter := rdb.Scan(ctx, 0, "chat:sessions:*", 100).Iterator()
	for iter.Next(ctx) {
		uid := strings.TrimPrefix(iter.Val(), "chat:sessions:")
		n, err := cl.sweepUser(ctx, uid, cutoff)
		if err != nil {
			cl.Logger.Printf("sweep user %s: %v", uid, err)
			continue
		}
		swept += n
	}
	if err := iter.Err(); err != nil {
		cl.Logger.Printf("scan sessions: %v", err)
	}
	if swept > 0 {
		cl.Metrics.SessionsSwept.Add(float64(swept))
		cl.Logger.Printf("swept %d expired sessions", swept)
	}
}

func (cl *Cleaner) sweepUser(ctx context.Context, uid string, cutoff time.Time) (int, error) {
	sessions, err := cl.Store.List(ctx, uid)
	if err != nil {
		return 0, err
	}
	var swept int
	for id, sess := range sessions {
		if sess.CreatedAt.After(cutoff) {
			continue
		}
		if err := cl.Store.Delete(ctx, uid, id); err != nil {
			cl.Logger.Printf("delete session %s: %v", id, err)
			continue
		}
		if cl.Index != nil {
			cl.Index.RemoveSession(id)
		}
		swept++
	}
	return swept, nil
}
