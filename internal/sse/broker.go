// Package sse implements a Server-Sent Events broker for real-time updates.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/starford/rollcall/internal/models"
)

// Event types.
const (
	TypePipelineState       = "pipeline.state"
	TypeAttendanceRecorded  = "attendance.recorded"
	TypeEnrollmentCompleted = "enrollment.completed"
	TypeFacesDetected       = "faces.detected"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// StateData is the payload of pipeline.state.
type StateData struct {
	State     string `json:"state"`
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// AttendanceData is the payload of attendance.recorded.
type AttendanceData struct {
	Label     string    `json:"label"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id,omitempty"`
}

// FacesData is the payload of faces.detected.
type FacesData struct {
	Faces []models.FaceResult `json:"faces"`
}

// Broker manages SSE client connections and broadcasts events.
//
// Concurrency model: a single internal event loop (goroutine) owns mutable state
// (clients + faces throttle timestamp). Public methods communicate with this loop
// through channels, so no mutexes are required.
type Broker struct {
	facesMin time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	facesCh       chan []models.FaceResult
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a new SSE broker. faces.detected is sent at most once
// per facesThrottle.
func NewBroker(facesThrottle time.Duration) *Broker {
	if facesThrottle <= 0 {
		facesThrottle = time.Second
	}

	b := &Broker{
		facesMin:      facesThrottle,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		facesCh:       make(chan []models.FaceResult, 16),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var lastFaces time.Time

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		msg := fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload)
		raw := []byte(msg)

		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Client buffer full; skip to avoid blocking broker loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case faces := <-b.facesCh:
			now := time.Now()
			if now.Sub(lastFaces) >= b.facesMin {
				lastFaces = now
				broadcast(Event{Type: TypeFacesDetected, Data: FacesData{Faces: faces}})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PipelineState publishes a pipeline.state event.
func (b *Broker) PipelineState(state, sessionID, reason string) {
	b.Publish(Event{Type: TypePipelineState, Data: StateData{State: state, SessionID: sessionID, Reason: reason}})
}

// AttendanceRecorded publishes an attendance.recorded event.
func (b *Broker) AttendanceRecorded(label string, ts time.Time, sessionID string) {
	b.Publish(Event{Type: TypeAttendanceRecorded, Data: AttendanceData{Label: label, Timestamp: ts, SessionID: sessionID}})
}

// EnrollmentCompleted publishes an enrollment.completed event.
func (b *Broker) EnrollmentCompleted(rec models.PersonRecord) {
	b.Publish(Event{Type: TypeEnrollmentCompleted, Data: rec})
}

// FacesDetected offers a frame's results to the throttled faces.detected
// stream. It never blocks the caller: when the loop is busy the frame is
// dropped, as it would most likely have been throttled anyway.
func (b *Broker) FacesDetected(results []models.FaceResult) {
	if b.closed.Load() {
		return
	}
	select {
	case b.facesCh <- results:
	default:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
