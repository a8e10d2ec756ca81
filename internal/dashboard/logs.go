// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.

package dashboard

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stagehand-ops/stagehand/internal/jobs"
	"github.com/stagehand-ops/stagehand/internal/logging"
	"github.com/stagehand-ops/stagehand/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongDelay  = 90 * time.Second
	pingPeriod = (pongDelay * 8) / 10

	// subscriberBuffer is how many lines a slow client may lag behind
	// before lines are dropped for it.
	subscriberBuffer = 256
)

var websocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// subscriber is one WebSocket client of the output topic.
type subscriber struct {
	job     string
	after   int
	events  chan jobs.Event
	dropped int
}

// offer queues ev without blocking. The hub calls it from its own
// goroutine, one call at a time per subscriber.
func (sub *subscriber) offer(_ string, data interface{}) {
	ev, ok := data.(jobs.Event)
	if !ok {
		return
	}
	if sub.job != "" && ev.Job != sub.job {
		return
	}
	select {
	case sub.events <- ev:
	default:
		sub.dropped++
		if sub.dropped == 1 || sub.dropped%100 == 0 {
			logging.Warnf("log stream: client lagging, %d lines dropped", sub.dropped)
		}
	}
}

// streamLogs relays job output to a WebSocket client. With ?job=ID only
// that job is streamed, starting with the lines it already produced; a job
// that has finished is replayed from the store and the socket is closed.
func (s *Server) streamLogs(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job")
	var stored *model.Job
	if jobID != "" {
		j, err := s.store.GetJob(r.Context(), jobID)
		if err != nil {
			fail(w, err)
			return
		}
		stored = j
	}

	socket, err := websocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Errorf("problem initiating websocket: %v", err)
		return
	}
	defer func() { _ = socket.Close() }()

	sub := &subscriber{job: jobID, events: make(chan jobs.Event, subscriberBuffer)}
	unsubscribe := s.hub.Subscribe(jobs.TopicOutput, sub.offer)
	defer unsubscribe()

	if stored != nil {
		lines, last, live := s.jobs.Tail(jobID)
		if !live {
			// Finished before or while we subscribed.
			if fresh, err := s.store.GetJob(r.Context(), jobID); err == nil {
				stored = fresh
			}
			s.replay(socket, stored)
			return
		}
		first := last - len(lines) + 1
		for i, line := range lines {
			if !s.send(socket, jobs.Event{Job: jobID, Instance: stored.Instance, Seq: first + i, Line: line}) {
				return
			}
		}
		sub.after = last
	}

	socket.SetReadDeadline(time.Now().Add(pongDelay))
	socket.SetPongHandler(func(string) error {
		socket.SetReadDeadline(time.Now().Add(pongDelay))
		return nil
	})
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			// Clients do not send anything; reading keeps the pong handler
			// running and notices a close.
			if _, _, err := socket.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopped:
			_ = socket.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "dashboard stopping"), time.Now().Add(writeWait))
			return
		case <-gone:
			return
		case <-ticker.C:
			if err := socket.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				logging.Debugf("failed to write ping: %s", err)
				return
			}
		case ev := <-sub.events:
			if sub.job != "" && ev.Seq <= sub.after {
				continue
			}
			if !s.send(socket, ev) {
				return
			}
			if sub.job != "" && ev.Done {
				_ = socket.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ev.Status), time.Now().Add(writeWait))
				return
			}
		}
	}
}

func (s *Server) send(socket *websocket.Conn, ev jobs.Event) bool {
	_ = socket.SetWriteDeadline(time.Now().Add(writeWait))
	if err := socket.WriteJSON(ev); err != nil {
		logging.Debugf("log stream write: %v", err)
		return false
	}
	return true
}

// replay sends the stored output of a finished job followed by its final
// event.
func (s *Server) replay(socket *websocket.Conn, j *model.Job) {
	seq := 0
	if j.Output != "" {
		for _, line := range strings.Split(j.Output, "\n") {
			seq++
			if !s.send(socket, jobs.Event{Job: j.ID, Instance: j.Instance, Seq: seq, Line: line}) {
				return
			}
		}
	}
	if j.Done() {
		s.send(socket, jobs.Event{Job: j.ID, Instance: j.Instance, Seq: seq + 1, Done: true, Status: j.Status, ExitCode: j.ExitCode})
	}
	_ = socket.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, j.Status), time.Now().Add(writeWait))
}

func joinLines(lines []string) string { return strings.Join(lines, "\n") }
