package gemini

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dreamit/concierge/pkg/audio"
	"github.com/dreamit/concierge/pkg/provider/s2s"
)

// clientFrame is one message to the server. Exactly one field is set.
type clientFrame struct {
	Setup         *setup         `json:"setup,omitempty"`
	RealtimeInput *realtimeInput `json:"realtimeInput,omitempty"`
	ToolResponse  *toolResponse  `json:"toolResponse,omitempty"`
}

type setup struct {
	Model             string     `json:"model"`
	GenerationConfig  generation `json:"generationConfig"`
	SystemInstruction *content   `json:"systemInstruction,omitempty"`
	Tools             []tool     `json:"tools,omitempty"`

	// Present-but-empty objects switch transcription on.
	InputAudioTranscription  *struct{} `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{} `json:"outputAudioTranscription,omitempty"`
}

type generation struct {
	ResponseModalities []string `json:"responseModalities"`
	SpeechConfig       *speech  `json:"speechConfig,omitempty"`
}

type speech struct {
	VoiceConfig struct {
		PrebuiltVoiceConfig struct {
			VoiceName string `json:"voiceName"`
		} `json:"prebuiltVoiceConfig"`
	} `json:"voiceConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

// blob is base64 media; the data is passed through untouched in both
// directions.
type blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type tool struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations"`
}

type functionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type realtimeInput struct {
	Audio *blob `json:"audio,omitempty"`
}

type toolResponse struct {
	FunctionResponses []functionResponse `json:"functionResponses"`
}

type functionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// newSetup builds the opening frame for a session.
func newSetup(model string, cfg s2s.SessionConfig) *setup {
	s := &setup{
		Model:            "models/" + model,
		GenerationConfig: generation{ResponseModalities: []string{"AUDIO"}},
	}
	if cfg.Instructions != "" {
		s.SystemInstruction = &content{Parts: []part{{Text: cfg.Instructions}}}
	}
	if cfg.Voice != "" {
		sp := &speech{}
		sp.VoiceConfig.PrebuiltVoiceConfig.VoiceName = cfg.Voice
		s.GenerationConfig.SpeechConfig = sp
	}
	if len(cfg.Tools) > 0 {
		decls := make([]functionDeclaration, 0, len(cfg.Tools))
		for _, t := range cfg.Tools {
			decls = append(decls, functionDeclaration{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
		}
		s.Tools = []tool{{FunctionDeclarations: decls}}
	}
	if cfg.Transcribe {
		s.InputAudioTranscription = &struct{}{}
		s.OutputAudioTranscription = &struct{}{}
	}
	return s
}

func newToolResponse(responses []s2s.ToolResponse) *toolResponse {
	tr := &toolResponse{FunctionResponses: make([]functionResponse, len(responses))}
	for i, r := range responses {
		body := r.Response
		if body == nil {
			body = map[string]any{}
		}
		tr.FunctionResponses[i] = functionResponse{ID: r.ID, Name: r.Name, Response: body}
	}
	return tr
}

// serverFrame is one message from the server. Several fields may be set at
// once; [serverFrame.events] defines the order they are surfaced in.
type serverFrame struct {
	SetupComplete        *struct{}      `json:"setupComplete,omitempty"`
	ServerContent        *serverContent `json:"serverContent,omitempty"`
	ToolCall             *toolCall      `json:"toolCall,omitempty"`
	ToolCallCancellation *cancellation  `json:"toolCallCancellation,omitempty"`
	GoAway               *goAway        `json:"goAway,omitempty"`
	Error                *apiError      `json:"error,omitempty"`
}

type serverContent struct {
	ModelTurn           *content `json:"modelTurn,omitempty"`
	InputTranscription  *text    `json:"inputTranscription,omitempty"`
	OutputTranscription *text    `json:"outputTranscription,omitempty"`
	Interrupted         bool     `json:"interrupted,omitempty"`
	TurnComplete        bool     `json:"turnComplete,omitempty"`
}

type text struct {
	Text string `json:"text"`
}

type toolCall struct {
	FunctionCalls []struct {
		ID   string         `json:"id"`
		Name string         `json:"name"`
		Args map[string]any `json:"args"`
	} `json:"functionCalls"`
}

type cancellation struct {
	IDs []string `json:"ids"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

// events translates f into session events: setup acknowledgement, then
// agent audio in part order, transcripts, turn control and finally tool
// calls. An error frame yields a single terminal event.
func (f *serverFrame) events() (evs []s2s.Event, terminal bool) {
	if f.Error != nil {
		return []s2s.Event{{Kind: s2s.EventError, Err: f.Error.err()}}, true
	}
	if f.SetupComplete != nil {
		evs = append(evs, s2s.Event{Kind: s2s.EventOpen})
	}
	if sc := f.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData == nil || p.InlineData.Data == "" {
					continue
				}
				evs = append(evs, s2s.Event{
					Kind:  s2s.EventAudio,
					Audio: audio.Packet{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data},
				})
			}
		}
		if t := sc.InputTranscription; t != nil && t.Text != "" {
			evs = append(evs, s2s.Event{Kind: s2s.EventInputTranscript, Text: t.Text})
		}
		if t := sc.OutputTranscription; t != nil && t.Text != "" {
			evs = append(evs, s2s.Event{Kind: s2s.EventOutputTranscript, Text: t.Text})
		}
		if sc.Interrupted {
			evs = append(evs, s2s.Event{Kind: s2s.EventInterrupted})
		}
		if sc.TurnComplete {
			evs = append(evs, s2s.Event{Kind: s2s.EventTurnComplete})
		}
	}
	if f.ToolCall != nil && len(f.ToolCall.FunctionCalls) > 0 {
		calls := make([]s2s.ToolCall, len(f.ToolCall.FunctionCalls))
		for i, fc := range f.ToolCall.FunctionCalls {
			calls[i] = s2s.ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args}
		}
		evs = append(evs, s2s.Event{Kind: s2s.EventToolCall, ToolCalls: calls})
	}
	if f.ToolCallCancellation != nil {
		slog.Debug("gemini: tool calls cancelled by server", "ids", f.ToolCallCancellation.IDs)
	}
	if f.GoAway != nil {
		slog.Info("gemini: server will disconnect soon", "time_left", f.GoAway.TimeLeft)
	}
	return evs, false
}

// err classifies a server error. Authentication, permission and unknown
// model errors all mean the key cannot open this session.
func (e *apiError) err() error {
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	switch {
	case e.Status == "UNAUTHENTICATED", e.Status == "PERMISSION_DENIED", e.Status == "NOT_FOUND",
		e.Code == http.StatusUnauthorized, e.Code == http.StatusForbidden, e.Code == http.StatusNotFound:
		return fmt.Errorf("gemini: %w: %s", s2s.ErrInvalidCredential, msg)
	}
	return fmt.Errorf("gemini: server error %d: %s", e.Code, msg)
}

// isCredentialStatus reports whether a handshake status means the key or
// model was rejected. The endpoint answers a malformed key with 400.
func isCredentialStatus(code int) bool {
	switch code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

// isCredentialReason matches the close reasons the endpoint uses for a bad
// key or an unknown model.
func isCredentialReason(reason string) bool {
	r := strings.ToLower(reason)
	for _, marker := range []string{"api key", "permission", "requested entity was not found"} {
		if strings.Contains(r, marker) {
			return true
		}
	}
	return false
}
