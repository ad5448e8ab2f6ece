package realtime

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"

	"github.com/harrylevesque/rtdevice/internal/utils"
)

// Inbound event types handled by Dispatcher.
const (
	TypeAudioDelta            = "response.audio.delta"
	TypeAudioTranscriptDone   = "response.audio_transcript.done"
	TypeAudioTranscriptDelta  = "response.audio_transcript.delta"
	TypeAudioTranslationDelta = "response.audio_translation.delta"
	TypeResponseDone          = "response.done"
	TypeError                 = "error"
)

const maxPendingInbound = 4 * maxMessageSize

// Handlers receives decoded gateway events. Nil handlers are skipped.
type Handlers struct {
	Audio            func(pcm []byte)
	Transcript       func(text string)
	TranscriptDelta  func(text string)
	TranslationDelta func(text string)
	ResponseDone     func()
	Error            func(code, message string)
}

type inbound struct {
	Type       string           `json:"type"`
	EventID    *json.RawMessage `json:"event_id"`
	Delta      *string          `json:"delta"`
	Transcript *string          `json:"transcript"`
	Error      *struct {
		Code    *string `json:"code"`
		Message *string `json:"message"`
	} `json:"error"`
}

// Dispatcher decodes the inbound byte stream into events. A frame may hold
// part of a document or several documents; incomplete data is kept until
// the rest arrives. Feed is meant to be the client's OnMessage callback and
// is not safe for concurrent use.
type Dispatcher struct {
	h       Handlers
	logger  *utils.Logger
	pending []byte
}

func NewDispatcher(h Handlers, logger *utils.Logger) *Dispatcher {
	return &Dispatcher{h: h, logger: logger.With("events")}
}

func (d *Dispatcher) Feed(data []byte) {
	d.pending = append(d.pending, data...)
	for len(d.pending) > 0 {
		dec := json.NewDecoder(bytes.NewReader(d.pending))
		var raw json.RawMessage
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			d.pending = d.pending[:0]
			return
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			if len(d.pending) > maxPendingInbound {
				d.logger.Warnf("dropping %d bytes of incomplete inbound data", len(d.pending))
				d.pending = nil
			}
			return
		}
		if err != nil {
			d.logger.Warnf("discarding malformed inbound data: %v", err)
			d.pending = nil
			return
		}
		d.pending = d.pending[dec.InputOffset():]
		d.dispatch(raw)
	}
}

func (d *Dispatcher) dispatch(raw json.RawMessage) {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		d.logger.Debugf("ignoring non-object message: %v", err)
		return
	}
	if msg.Type == "" || msg.EventID == nil {
		return
	}
	switch msg.Type {
	case TypeAudioDelta:
		if msg.Delta == nil || d.h.Audio == nil {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(*msg.Delta)
		if err != nil {
			d.logger.Warnf("audio delta is not base64: %v", err)
			return
		}
		d.h.Audio(pcm)
	case TypeAudioTranscriptDone:
		if msg.Transcript != nil && d.h.Transcript != nil {
			d.h.Transcript(*msg.Transcript)
		}
	case TypeAudioTranscriptDelta:
		if msg.Delta != nil && d.h.TranscriptDelta != nil {
			d.h.TranscriptDelta(*msg.Delta)
		}
	case TypeAudioTranslationDelta:
		if msg.Delta != nil && d.h.TranslationDelta != nil {
			d.h.TranslationDelta(*msg.Delta)
		}
	case TypeResponseDone:
		if d.h.ResponseDone != nil {
			d.h.ResponseDone()
		}
	case TypeError:
		if msg.Error == nil || msg.Error.Code == nil || msg.Error.Message == nil {
			d.logger.Warn("error event without code or message")
			return
		}
		d.logger.Warnf("gateway error %s: %s", *msg.Error.Code, *msg.Error.Message)
		if d.h.Error != nil {
			d.h.Error(*msg.Error.Code, *msg.Error.Message)
		}
	default:
		d.logger.Debugf("unhandled event %s", msg.Type)
	}
}
