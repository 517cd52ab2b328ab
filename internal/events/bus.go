// Package events publishes pipeline state to observers without binding the
// core to any UI. Subscribers receive a bounded event stream; a slow consumer
// loses the oldest events rather than stalling the pipeline.
package events

import (
	"sync"
	"time"
)

// Type classifies an event.
type Type string

const (
	// TypeState: the turn controller changed state. State carries the new
	// state name.
	TypeState Type = "state"

	// TypeSpeechStart: the voice activity detector confirmed speech.
	TypeSpeechStart Type = "speech_start"

	// TypeSpeechEnd: the voice activity detector detected end of speech.
	TypeSpeechEnd Type = "speech_end"

	// TypeTranscript: a transcript was accepted. Text carries the words.
	TypeTranscript Type = "transcript"

	// TypeChunk: a sentence chunk was handed to the speech sink.
	TypeChunk Type = "chunk"

	// TypeBargeIn: the user interrupted in-progress speech.
	TypeBargeIn Type = "barge_in"

	// TypeModel: model lifecycle (loaded, unloaded, crashed). Detail carries
	// the specifics.
	TypeModel Type = "model"

	// TypeError: a recoverable pipeline failure. Detail carries the cause.
	TypeError Type = "error"

	// TypeLevel: a periodic audio-level sample. Value carries the RMS level
	// of the most recent frame.
	TypeLevel Type = "level"
)

// Event is one pipeline occurrence.
type Event struct {
	Type   Type      `json:"type"`
	At     time.Time `json:"at"`
	State  string    `json:"state,omitempty"`
	Text   string    `json:"text,omitempty"`
	Detail string    `json:"detail,omitempty"`

	// Value carries the numeric payload for level and model-load-progress
	// events; zero otherwise.
	Value float64 `json:"value,omitempty"`
}

// defaultSubscriberBuf is the per-subscriber channel depth.
const defaultSubscriberBuf = 64

// Bus fans events out to subscribers. Publish never blocks: when a
// subscriber's buffer is full the oldest buffered event is dropped to make
// room. Safe for concurrent use.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber and returns its event channel plus a
// cancel function. The channel is closed by cancel or by Close.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	ch := make(chan Event, defaultSubscriberBuf)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber without blocking. Stamps ev.At if
// unset.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		for {
			select {
			case ch <- ev:
			default:
				// Full buffer: drop the oldest event and retry so the
				// subscriber ends up with the freshest window.
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Close closes all subscriber channels. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
