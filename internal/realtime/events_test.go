package realtime

import (
	"encoding/base64"
	"reflect"
	"testing"
)

type recorder struct {
	audio       [][]byte
	transcripts []string
	deltas      []string
	translated  []string
	done        int
	errs        []string
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		Audio:            func(b []byte) { r.audio = append(r.audio, b) },
		Transcript:       func(s string) { r.transcripts = append(r.transcripts, s) },
		TranscriptDelta:  func(s string) { r.deltas = append(r.deltas, s) },
		TranslationDelta: func(s string) { r.translated = append(r.translated, s) },
		ResponseDone:     func() { r.done++ },
		Error:            func(code, msg string) { r.errs = append(r.errs, code+":"+msg) },
	}
}

func TestDispatcherRoutesEvents(t *testing.T) {
	var r recorder
	d := NewDispatcher(r.handlers(), nil)
	pcm := []byte{1, 2, 3, 4}
	d.Feed([]byte(`{"type":"response.audio.delta","event_id":"e1","delta":"` + base64.StdEncoding.EncodeToString(pcm) + `"}`))
	d.Feed([]byte(`{"type":"response.audio_transcript.delta","event_id":"e2","delta":"hel"}` +
		`{"type":"response.audio_transcript.done","event_id":"e3","transcript":"hello"}`))
	d.Feed([]byte(`{"type":"response.audio_translation.delta","event_id":"e4","delta":"bonjour"}`))
	d.Feed([]byte(`{"type":"error","event_id":"e5","error":{"code":"rate_limited","message":"slow down"}}`))
	d.Feed([]byte(`{"type":"response.done","event_id":"e6"}`))

	if len(r.audio) != 1 || !reflect.DeepEqual(r.audio[0], pcm) {
		t.Fatalf("audio = %v", r.audio)
	}
	if !reflect.DeepEqual(r.deltas, []string{"hel"}) || !reflect.DeepEqual(r.transcripts, []string{"hello"}) {
		t.Fatalf("transcripts = %v %v", r.deltas, r.transcripts)
	}
	if !reflect.DeepEqual(r.translated, []string{"bonjour"}) {
		t.Fatalf("translated = %v", r.translated)
	}
	if !reflect.DeepEqual(r.errs, []string{"rate_limited:slow down"}) || r.done != 1 {
		t.Fatalf("errs = %v done = %d", r.errs, r.done)
	}
}

func TestDispatcherReassemblesSplitFrames(t *testing.T) {
	var r recorder
	d := NewDispatcher(r.handlers(), nil)
	doc := `{"type":"response.audio_transcript.done","event_id":"e1","transcript":"split across frames"}`
	d.Feed([]byte(doc[:17]))
	d.Feed([]byte(doc[17:40]))
	if len(r.transcripts) != 0 {
		t.Fatalf("dispatched before document was complete")
	}
	d.Feed([]byte(doc[40:] + "\n"))
	if !reflect.DeepEqual(r.transcripts, []string{"split across frames"}) {
		t.Fatalf("transcripts = %v", r.transcripts)
	}
	if len(d.pending) != 0 {
		t.Fatalf("pending = %q", d.pending)
	}
}

func TestDispatcherIgnoresIncompleteEnvelopes(t *testing.T) {
	var r recorder
	d := NewDispatcher(r.handlers(), nil)
	d.Feed([]byte(`{"type":"response.done"}`))
	d.Feed([]byte(`{"event_id":"e1"}`))
	d.Feed([]byte(`{"type":"error","event_id":"e2","error":{"code":"x"}}`))
	d.Feed([]byte(`{"type":"response.audio.delta","event_id":"e3","delta":"%%%"}`))
	d.Feed([]byte(`[1,2,3]`))
	if r.done != 0 || len(r.errs) != 0 || len(r.audio) != 0 {
		t.Fatalf("incomplete envelopes dispatched: %+v", r)
	}
}

func TestDispatcherRecoversFromGarbage(t *testing.T) {
	var r recorder
	d := NewDispatcher(r.handlers(), nil)
	d.Feed([]byte(`{"type":}`))
	if len(d.pending) != 0 {
		t.Fatalf("malformed data kept")
	}
	d.Feed([]byte(`{"type":"response.done","event_id":"e1"}`))
	if r.done != 1 {
		t.Fatalf("dispatcher stuck after malformed data")
	}
}

func TestDispatcherAsClientCallback(t *testing.T) {
	var r recorder
	c, f := newTestClient(t, ConnectionConfig{})
	c.OnMessage(NewDispatcher(r.handlers(), nil).Feed)
	establish(t, c, f)
	f.push(Event{Kind: EventReceive, Data: []byte(`{"type":"response.done",`)},
		Event{Kind: EventReceive, Data: []byte(`"event_id":"e1"}`)})
	serviceOnce(t, c)
	if r.done != 1 {
		t.Fatalf("done = %d", r.done)
	}
}
