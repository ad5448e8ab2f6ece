package realtime

import (
	"encoding/base64"
	"encoding/json"

	"github.com/harrylevesque/rtdevice/internal/utils"
)

// Session protocol message types.
const (
	TypeSessionUpdate          = "session.update"
	TypeInputAudioBufferAppend = "input_audio_buffer.append"
	TypeInputAudioBufferCommit = "input_audio_buffer.commit"
	TypeInputAudioDone         = "input_audio.done"
	TypeConversationItemCreate = "conversation_item.create"
	TypeResponseCreate         = "response.create"
	TypeResponseCancel         = "response.cancel"
)

const sessionTemperature = 0.8

// Tool describes one function the model may call. Parameters is a JSON
// schema document and must be valid JSON.
type Tool struct {
	Type        string
	Name        string
	Description string
	Parameters  string
}

// Session configures a conversational session. At least one of Audio and
// Text should be set.
type Session struct {
	Audio             bool
	Text              bool
	Instructions      string
	Voice             string
	InputAudioFormat  string
	OutputAudioFormat string
	Tool              *Tool
}

// GlossaryEntry pins the translation of one transcribed term.
type GlossaryEntry struct {
	Transcription string
	Translation   string
}

// TranslationSession configures a speech translation session.
type TranslationSession struct {
	InputAudioFormat string
	Modalities       []string
	SourceLanguage   string
	TargetLanguage   string
	HotWords         []string
	Glossary         []GlossaryEntry
}

type toolJSON struct {
	Type        string          `json:"type,omitempty"`
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

type transcriptionJSON struct {
	Model string `json:"model"`
}

type sessionJSON struct {
	Modalities              []string          `json:"modalities"`
	Instructions            string            `json:"instructions,omitempty"`
	Voice                   string            `json:"voice,omitempty"`
	InputAudioFormat        string            `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string            `json:"output_audio_format,omitempty"`
	ToolChoice              string            `json:"tool_choice"`
	TurnDetection           *struct{}         `json:"turn_detection"`
	InputAudioTranscription transcriptionJSON `json:"input_audio_transcription"`
	Tools                   []toolJSON        `json:"tools"`
	Temperature             float64           `json:"temperature"`
}

type glossaryJSON struct {
	Transcription string `json:"input_audio_transcription,omitempty"`
	Translation   string `json:"input_audio_translation,omitempty"`
}

type vocabJSON struct {
	HotWords []string       `json:"hot_word_list"`
	Glossary []glossaryJSON `json:"glossary_list"`
}

type translationJSON struct {
	SourceLanguage string    `json:"source_language,omitempty"`
	TargetLanguage string    `json:"target_language,omitempty"`
	AddVocab       vocabJSON `json:"add_vocab"`
}

type translationSessionJSON struct {
	InputAudioFormat      string          `json:"input_audio_format,omitempty"`
	Modalities            []string        `json:"modalities"`
	InputAudioTranslation translationJSON `json:"input_audio_translation"`
}

type envelope struct {
	Type     string `json:"type"`
	Session  any    `json:"session,omitempty"`
	Audio    string `json:"audio,omitempty"`
	Item     any    `json:"item,omitempty"`
	Response any    `json:"response,omitempty"`
}

// BuildSessionUpdate renders a session.update message.
func BuildSessionUpdate(s Session) ([]byte, error) {
	body := sessionJSON{
		Modalities:              []string{},
		Instructions:            s.Instructions,
		Voice:                   s.Voice,
		InputAudioFormat:        s.InputAudioFormat,
		OutputAudioFormat:       s.OutputAudioFormat,
		ToolChoice:              "auto",
		InputAudioTranscription: transcriptionJSON{Model: "any"},
		Tools:                   []toolJSON{},
		Temperature:             sessionTemperature,
	}
	if s.Audio {
		body.Modalities = append(body.Modalities, "audio")
	}
	if s.Text {
		body.Modalities = append(body.Modalities, "text")
	}
	if s.Tool != nil {
		if !json.Valid([]byte(s.Tool.Parameters)) {
			return nil, utils.New(utils.InvalidParam, "tool "+s.Tool.Name+": parameters is not valid JSON")
		}
		body.Tools = append(body.Tools, toolJSON{
			Type:        s.Tool.Type,
			Name:        s.Tool.Name,
			Description: s.Tool.Description,
			Parameters:  json.RawMessage(s.Tool.Parameters),
		})
	}
	return marshal(envelope{Type: TypeSessionUpdate, Session: body})
}

// BuildTranslationSessionUpdate renders the translation flavour of
// session.update. Empty optional fields are left out.
func BuildTranslationSessionUpdate(s TranslationSession) ([]byte, error) {
	body := translationSessionJSON{
		InputAudioFormat: s.InputAudioFormat,
		Modalities:       []string{},
		InputAudioTranslation: translationJSON{
			SourceLanguage: s.SourceLanguage,
			TargetLanguage: s.TargetLanguage,
			AddVocab: vocabJSON{
				HotWords: []string{},
				Glossary: []glossaryJSON{},
			},
		},
	}
	for _, m := range s.Modalities {
		if m != "" {
			body.Modalities = append(body.Modalities, m)
		}
	}
	vocab := &body.InputAudioTranslation.AddVocab
	for _, w := range s.HotWords {
		if w != "" {
			vocab.HotWords = append(vocab.HotWords, w)
		}
	}
	for _, g := range s.Glossary {
		vocab.Glossary = append(vocab.Glossary, glossaryJSON(g))
	}
	return marshal(envelope{Type: TypeSessionUpdate, Session: body})
}

// BuildInputAudioBufferAppend wraps raw audio bytes, base64 encoded.
func BuildInputAudioBufferAppend(audio []byte) ([]byte, error) {
	return marshal(envelope{
		Type:  TypeInputAudioBufferAppend,
		Audio: base64.StdEncoding.EncodeToString(audio),
	})
}

// BuildConversationItemCreate reports the result of a function call.
func BuildConversationItemCreate(callID, result string) ([]byte, error) {
	if callID == "" {
		return nil, utils.New(utils.InvalidParam, "empty call id")
	}
	item := map[string]any{
		"call_id": callID,
		"type":    "function_call_output",
		"output":  map[string]string{"result": result},
	}
	return marshal(envelope{Type: TypeConversationItemCreate, Item: item})
}

// BuildResponseCreate asks for a text and audio response.
func BuildResponseCreate() ([]byte, error) {
	return marshal(envelope{
		Type:     TypeResponseCreate,
		Response: map[string][]string{"modalities": {"text", "audio"}},
	})
}

func buildTyped(msgType string) ([]byte, error) {
	return marshal(envelope{Type: msgType})
}

func marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, utils.Wrap(utils.AllocFailed, "encode message", err)
	}
	return b, nil
}

func (c *Client) sendBuilt(b []byte, err error) error {
	if err != nil {
		return err
	}
	return c.SendRequest(string(b))
}

// SessionUpdate configures the conversational session.
func (c *Client) SessionUpdate(s Session) error {
	return c.sendBuilt(BuildSessionUpdate(s))
}

// TranslationSessionUpdate configures a translation session.
func (c *Client) TranslationSessionUpdate(s TranslationSession) error {
	return c.sendBuilt(BuildTranslationSessionUpdate(s))
}

// InputAudioBufferAppend streams a chunk of audio. An empty chunk is
// ignored.
func (c *Client) InputAudioBufferAppend(audio []byte) error {
	if len(audio) == 0 {
		return nil
	}
	return c.sendBuilt(BuildInputAudioBufferAppend(audio))
}

func (c *Client) InputAudioBufferCommit() error {
	return c.sendBuilt(buildTyped(TypeInputAudioBufferCommit))
}

func (c *Client) InputAudioDone() error {
	return c.sendBuilt(buildTyped(TypeInputAudioDone))
}

// ConversationItemCreate returns result as the output of function call callID.
func (c *Client) ConversationItemCreate(callID, result string) error {
	return c.sendBuilt(BuildConversationItemCreate(callID, result))
}

func (c *Client) ResponseCreate() error {
	return c.sendBuilt(BuildResponseCreate())
}

// ResponseCancel asks the gateway to stop the response in flight. The
// gateway decides how much of it is still delivered.
func (c *Client) ResponseCancel() error {
	return c.sendBuilt(buildTyped(TypeResponseCancel))
}
