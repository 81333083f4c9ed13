package dialogue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/niama/aiko/internal/model"
	"github.com/niama/aiko/internal/session"
)

// Recorder receives transcribed host speech. Satisfied by ingest.Admitter.
type Recorder interface {
	Offer(ctx context.Context, source string, eventType model.EventType, question string)
}

// RealtimeConfig configures the realtime dialogue connection.
type RealtimeConfig struct {
	URL          string
	APIKey       string
	Voice        string
	Language     string
	HostIdentity string
	// MicInterval paces the capture pump. Zero means 10ms.
	MicInterval time.Duration
	// RedialWait is the pause before a reconnect attempt. Zero means 2s.
	RedialWait time.Duration
}

// Realtime is a Channel backed by a duplex realtime WebSocket. It also acts
// as a producer: server-VAD events drive the capture signals and completed
// input transcriptions are offered to the backlog directly.
type Realtime struct {
	cfg    RealtimeConfig
	state  *session.State
	rec    Recorder
	sink   AudioSink
	source AudioSource

	events chan Event

	writeMu sync.Mutex
	conn    *websocket.Conn

	inputMu sync.Mutex
	input   []wireMessage
}

// NewRealtime builds a realtime channel. source may be nil when no capture
// device is attached; sink may be nil to discard audio.
func NewRealtime(cfg RealtimeConfig, state *session.State, rec Recorder, sink AudioSink, source AudioSource) *Realtime {
	if cfg.MicInterval <= 0 {
		cfg.MicInterval = 10 * time.Millisecond
	}
	if cfg.RedialWait <= 0 {
		cfg.RedialWait = 2 * time.Second
	}
	if sink == nil {
		sink = NopSink{}
	}
	return &Realtime{
		cfg:    cfg,
		state:  state,
		rec:    rec,
		sink:   sink,
		source: source,
		events: make(chan Event, 32),
	}
}

func (r *Realtime) Events() <-chan Event { return r.events }

// Run dials the endpoint and keeps the connection alive, redialing after
// any drop until ctx is cancelled. Each drop is surfaced to the consumer as
// EventDisconnected.
func (r *Realtime) Run(ctx context.Context) error {
	for {
		err := r.connectAndServe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			log.Warn().Err(err).Str("component", "dialogue").Msg("realtime connection dropped, redialing")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.RedialWait):
		}
	}
}

func (r *Realtime) connectAndServe(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, r.cfg.URL, header)
	if err != nil {
		log.Warn().Err(err).Str("component", "dialogue").Msg("realtime dial failed")
		return err
	}
	defer conn.Close()

	r.writeMu.Lock()
	r.conn = conn
	r.writeMu.Unlock()
	defer func() {
		r.writeMu.Lock()
		r.conn = nil
		r.writeMu.Unlock()
		r.emit(ctx, Event{Kind: EventDisconnected})
	}()

	if err := r.configureSession(); err != nil {
		log.Error().Err(err).Str("component", "dialogue").Msg("session configuration failed")
		return err
	}
	log.Info().Str("component", "dialogue").Str("url", r.cfg.URL).Msg("realtime channel connected")

	pumpCtx, cancelPump := context.WithCancel(ctx)
	defer cancelPump()
	if r.source != nil {
		go r.micPump(pumpCtx)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Str("component", "dialogue").Msg("realtime read failed")
			return err
		}
		r.handleMessage(ctx, data)
	}
}

// configureSession mirrors the engine-side setup: voice, input
// transcription, server VAD without auto-responses (turn creation stays
// with the controller), and the emotion classification tool.
func (r *Realtime) configureSession() error {
	update := map[string]interface{}{
		"type": "session.update",
		"session": map[string]interface{}{
			"voice": r.cfg.Voice,
			"input_audio_transcription": map[string]interface{}{
				"model":    "whisper-1",
				"language": r.cfg.Language,
			},
			"turn_detection": map[string]interface{}{
				"type":                "server_vad",
				"create_response":     false,
				"silence_duration_ms": 100,
			},
			"tools": []map[string]interface{}{{
				"type":        "function",
				"name":        "analyze_conversation",
				"description": "Identify the dominant emotion of the conversation and one line that carries it.",
				"parameters": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"emotion": map[string]interface{}{
							"type":        "string",
							"description": "the detected emotion",
							"enum":        EmotionLabels,
						},
						"text": map[string]interface{}{
							"type":        "string",
							"description": "the line matching the detected emotion",
						},
					},
					"required": []string{"emotion", "text"},
				},
			}},
		},
	}
	return r.writeJSON(update)
}

func (r *Realtime) handleMessage(ctx context.Context, data []byte) {
	var msg struct {
		Type       string `json:"type"`
		Transcript string `json:"transcript"`
		Delta      string `json:"delta"`
		Arguments  string `json:"arguments"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn().Err(err).Str("component", "dialogue").Msg("malformed realtime message")
		return
	}

	switch msg.Type {
	case "input_audio_buffer.speech_started":
		r.state.SetCaptureActive(true)

	case "input_audio_buffer.speech_stopped":
		r.state.SetMicEnabled(false)

	case "conversation.item.input_audio_transcription.completed":
		if r.rec != nil {
			r.rec.Offer(ctx, r.cfg.HostIdentity, model.EventSpeech, msg.Transcript)
		}
		r.state.SetCaptureActive(false)

	case "response.audio.delta":
		pcm, err := base64.StdEncoding.DecodeString(msg.Delta)
		if err != nil {
			log.Warn().Err(err).Str("component", "dialogue").Msg("bad audio delta")
			return
		}
		r.sink.Enqueue(pcm)

	case "response.audio_transcript.delta":
		r.emit(ctx, Event{Kind: EventReplyDelta, Text: msg.Delta})

	case "response.audio_transcript.done":
		r.appendInput(wireMessage{
			Type:    "message",
			Role:    "assistant",
			Content: []wireContent{{Type: "text", Text: msg.Transcript}},
		})
		r.emit(ctx, Event{Kind: EventReplyFinal, Text: msg.Transcript})

	case "response.function_call_arguments.done":
		var args struct {
			Emotion string `json:"emotion"`
			Text    string `json:"text"`
		}
		if err := json.Unmarshal([]byte(msg.Arguments), &args); err != nil {
			log.Warn().Err(err).Str("component", "dialogue").Msg("bad classification arguments")
			args.Emotion = "none"
		}
		r.clearInput()
		r.emit(ctx, Event{Kind: EventClassificationFinal, Label: args.Emotion, Text: args.Text})

	case "error":
		log.Warn().RawJSON("payload", data).Str("component", "dialogue").Msg("realtime error event")
	}
}

func (r *Realtime) SendTurn(ctx context.Context, entries []model.PayloadEntry) error {
	input := make([]wireMessage, 0, len(entries))
	for _, e := range entries {
		input = append(input, toWire(e))
	}
	r.inputMu.Lock()
	r.input = input
	r.inputMu.Unlock()

	return r.writeJSON(responseCreate{
		Type: "response.create",
		Response: responseBody{
			Modalities:   []string{"audio", "text"},
			Instructions: "Reason over the context and reply concisely in character.",
			Conversation: "none",
			Input:        input,
		},
	})
}

func (r *Realtime) SendClassification(ctx context.Context) error {
	r.inputMu.Lock()
	input := append(append([]wireMessage(nil), r.input...), wireMessage{
		Type:    "message",
		Role:    "user",
		Content: []wireContent{{Type: "input_text", Text: "Classify the emotional tone of the conversation above."}},
	})
	r.inputMu.Unlock()

	return r.writeJSON(responseCreate{
		Type: "response.create",
		Response: responseBody{
			Modalities:   []string{"text"},
			Conversation: "none",
			Input:        input,
		},
	})
}

// micPump feeds captured PCM frames into the input audio buffer whenever
// the mic is enabled and nothing is playing back.
func (r *Realtime) micPump(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.MicInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !r.state.MicEnabled() || r.state.PlaybackActive() {
			continue
		}
		frame, err := r.source.ReadFrame()
		if err != nil {
			log.Warn().Err(err).Str("component", "dialogue").Msg("capture read failed")
			return
		}
		if len(frame) == 0 {
			continue
		}
		err = r.writeJSON(map[string]string{
			"type":  "input_audio_buffer.append",
			"audio": base64.StdEncoding.EncodeToString(frame),
		})
		if err != nil {
			log.Warn().Err(err).Str("component", "dialogue").Msg("audio append failed")
			return
		}
	}
}

func (r *Realtime) emit(ctx context.Context, ev Event) {
	select {
	case r.events <- ev:
	case <-ctx.Done():
	}
}

func (r *Realtime) appendInput(m wireMessage) {
	r.inputMu.Lock()
	r.input = append(r.input, m)
	r.inputMu.Unlock()
}

func (r *Realtime) clearInput() {
	r.inputMu.Lock()
	r.input = nil
	r.inputMu.Unlock()
}

func (r *Realtime) writeJSON(v interface{}) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if r.conn == nil {
		return fmt.Errorf("realtime channel not connected")
	}
	return r.conn.WriteJSON(v)
}

type wireContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type wireMessage struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []wireContent `json:"content"`
}

type responseBody struct {
	Modalities   []string      `json:"modalities"`
	Instructions string        `json:"instructions,omitempty"`
	Conversation interface{}   `json:"conversation,omitempty"`
	Input        []wireMessage `json:"input"`
}

type responseCreate struct {
	Type     string       `json:"type"`
	Response responseBody `json:"response"`
}

func toWire(e model.PayloadEntry) wireMessage {
	contentType := "input_text"
	if e.Role == model.RoleAssistant {
		contentType = "text"
	}
	return wireMessage{
		Type:    "message",
		Role:    string(e.Role),
		Content: []wireContent{{Type: contentType, Text: e.Text}},
	}
}
