package server

import (
	"time"

	"github.com/circl-chat/circl-server/internal/stats"
)

// IdleReaper periodically sweeps the session registry and force-disconnects
// sessions that have gone quiet, running the same cascade a real disconnect
// would.
type IdleReaper struct {
	cs       *ChatServer
	interval time.Duration
	timeout  time.Duration
	stop     chan struct{}
	done     chan struct{}
}

func newIdleReaper(cs *ChatServer, interval, timeout time.Duration) *IdleReaper {
	return &IdleReaper{
		cs:       cs,
		interval: interval,
		timeout:  timeout,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (r *IdleReaper) Run() {
	ticker := time.NewTicker(r.interval)
	defer func() {
		ticker.Stop()
		close(r.done)
	}()

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stop:
			return
		}
	}
}

func (r *IdleReaper) Stop() {
	close(r.stop)
	<-r.done
}

func (r *IdleReaper) sweep() {
	for _, candidate := range r.cs.registry.IdleCandidates(r.timeout) {
		// re-check under the registry lock so a ping that arrived after the
		// candidate scan keeps the session alive
		sess, ok := r.cs.registry.UnregisterIfIdle(candidate.ConnId, r.timeout)
		if !ok {
			continue
		}

		r.cs.log.Printf("reaping idle session %q (user %q)", sess.ConnId, sess.User.Username)
		r.cs.cascade(sess, "idle_timeout")
		r.cs.stats.Incr(stats.SessionsReaped)
		r.cs.stats.Decr(stats.ActiveSessions)

		if sess.client != nil {
			sess.client.stopClient()
		}
	}
}
