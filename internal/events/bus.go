// Package events provides a publish/subscribe bus for session state
// changes. The session publishes an event after every transition
// (file selected, upload finished, results replaced, backend ready) and
// the web layer's WebSocket hub forwards them so open pages refresh.
// The bus is nil-safe: calling Publish on a nil *Bus is a no-op.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceMonitor identifies events from the availability monitor.
	SourceMonitor = "monitor"
	// SourceSession identifies file selection and lifecycle events.
	SourceSession = "session"
	// SourceUpload identifies events from the upload controller.
	SourceUpload = "upload"
	// SourceSearch identifies events from the search controller.
	SourceSearch = "search"
	// SourcePlayback identifies seek requests.
	SourcePlayback = "playback"
	// SourceExport identifies subtitle export events.
	SourceExport = "export"
)

// Kind constants describe the type of event within a source.
const (
	// KindReady signals the first successful liveness probe.
	KindReady = "ready"
	// KindAvailability signals a change in the last probe result.
	// Data: available.
	KindAvailability = "availability"
	// KindFileSelected signals a new local file replaced the old one.
	// Data: name, bytes, generation.
	KindFileSelected = "file_selected"
	// KindCatalogLoaded signals the video catalog fetch finished.
	// Data: videos.
	KindCatalogLoaded = "catalog_loaded"
	// KindStarted signals a request was issued.
	// Data: name and generation, or video_id.
	KindStarted = "started"
	// KindSucceeded signals a request completed and state was updated.
	// Data: video_id, plus total_chunks, results, or cues.
	KindSucceeded = "succeeded"
	// KindFailed signals a request failed. Data: message or video_id.
	KindFailed = "failed"
	// KindDiscarded signals a completion arrived for a superseded file
	// and was dropped. Data: generation.
	KindDiscarded = "discarded"
	// KindRejected signals a local precondition failure; no request was
	// sent. Data: reason.
	KindRejected = "rejected"
	// KindSeek signals playback was moved. Data: seconds.
	KindSeek = "seek"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Emit stamps an event with the current time and publishes it.
// Safe to call on a nil receiver (no-op).
func (b *Bus) Emit(source, kind string, data map[string]any) {
	if b == nil {
		return
	}
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full; drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 16 is plenty for a WebSocket
// connection that only needs to know "something changed".
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
