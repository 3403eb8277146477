// Package genailive implements the s2s.Provider interface on top of the
// official Google Gen AI SDK (google.golang.org/genai) Live API.
//
// It speaks the same BidiGenerateContent protocol as package gemini but lets
// the SDK own the transport, which also makes the Vertex AI backend reachable
// through configuration alone. Audio arrives from the SDK as raw bytes and is
// re-encoded to base64 so consumers see the same [s2s.Event] stream either way.
package genailive

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	gws "github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/dreamit/concierge/pkg/audio"
	"github.com/dreamit/concierge/pkg/provider/s2s"
)

// Compile-time assertions that Provider and session satisfy the s2s interfaces.
var _ s2s.Provider = (*Provider)(nil)
var _ s2s.SessionHandle = (*session)(nil)

const (
	// DefaultModel is the native-audio model used when none is configured.
	DefaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"

	eventBuffer = 256
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL overrides the SDK's API endpoint.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithKeyFunc resolves the API key through fn on every Connect.
func WithKeyFunc(fn s2s.KeyFunc) Option {
	return func(p *Provider) {
		if fn != nil {
			p.key = fn
		}
	}
}

// Provider implements s2s.Provider using genai.Client.Live.
type Provider struct {
	key     s2s.KeyFunc
	model   string
	baseURL string
}

// New creates a Provider for the Gemini API backend.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{key: s2s.StaticKey(apiKey), model: DefaultModel}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities returns static metadata about the provider.
func (p *Provider) Capabilities() s2s.Capabilities {
	return s2s.Capabilities{
		InputSampleRate:  audio.InputSampleRate,
		OutputSampleRate: audio.OutputSampleRate,
		Voices:           []string{"Zephyr", "Puck", "Charon", "Kore", "Fenrir", "Aoede"},
	}
}

// Connect opens a Live session through the SDK.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	key := p.key()
	if key == "" {
		return nil, fmt.Errorf("genailive: connect: %w", s2s.ErrMissingCredential)
	}

	cc := &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	}
	if p.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: p.baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("genailive: client: %w", err)
	}

	model := p.model
	if cfg.Model != "" {
		model = cfg.Model
	}

	live, err := client.Live.Connect(ctx, model, connectConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("genailive: connect: %w", classify(err))
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		live:   live,
		events: make(chan s2s.Event, eventBuffer),
		ctx:    sessCtx,
		cancel: cancel,
	}
	go s.receiveLoop()
	return s, nil
}

// connectConfig translates the session configuration into the SDK's form.
func connectConfig(cfg s2s.SessionConfig) *genai.LiveConnectConfig {
	lc := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	}
	if cfg.Voice != "" {
		lc.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.Instructions != "" {
		lc.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: cfg.Instructions}}}
	}
	if len(cfg.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, len(cfg.Tools))
		for i, t := range cfg.Tools {
			decls[i] = &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  convSchema(t.Parameters),
			}
		}
		lc.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	if cfg.Transcribe {
		lc.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
		lc.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return lc
}

// convSchema converts a JSON Schema object into a genai.Schema. Unknown
// keywords are ignored.
func convSchema(m map[string]any) *genai.Schema {
	if m == nil {
		return nil
	}
	s := &genai.Schema{}
	if v, ok := m["description"].(string); ok {
		s.Description = v
	}
	if v, ok := m["format"].(string); ok {
		s.Format = v
	}
	switch m["type"] {
	case "object":
		s.Type = genai.TypeObject
	case "array":
		s.Type = genai.TypeArray
	case "string":
		s.Type = genai.TypeString
	case "number":
		s.Type = genai.TypeNumber
	case "integer":
		s.Type = genai.TypeInteger
	case "boolean":
		s.Type = genai.TypeBoolean
	}
	if props, ok := m["properties"].(map[string]any); ok && len(props) > 0 {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for k, v := range props {
			if pm, ok := v.(map[string]any); ok {
				s.Properties[k] = convSchema(pm)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = convSchema(items)
	}
	s.Required = stringSlice(m["required"])
	s.Enum = stringSlice(m["enum"])
	return s
}

func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			out = append(out, fmt.Sprint(e))
		}
		return out
	}
	return nil
}

// classify marks errors that reject the key or model as credential
// problems. Only structured values are inspected: the SDK's APIError, the
// error frame a session reports, and the websocket close frame.
func classify(err error) error {
	if isCredential(err) {
		return fmt.Errorf("%w: %w", s2s.ErrInvalidCredential, err)
	}
	return err
}

func isCredential(err error) bool {
	if ae, ok := apiErrorOf(err); ok {
		switch {
		case ae.Status == "UNAUTHENTICATED", ae.Status == "PERMISSION_DENIED", ae.Status == "NOT_FOUND",
			ae.Code == http.StatusUnauthorized, ae.Code == http.StatusForbidden, ae.Code == http.StatusNotFound:
			return true
		}
		return false
	}
	var ce *gws.CloseError
	if errors.As(err, &ce) {
		return isCredentialReason(ce.Text)
	}
	return false
}

// errorFramePrefix precedes the raw JSON error frame in errors returned by
// [genai.Session.Receive].
const errorFramePrefix = "received error in response: "

// apiErrorOf extracts the API error carried by err, either as a typed value
// or as the error frame embedded by the session.
func apiErrorOf(err error) (genai.APIError, bool) {
	var ae genai.APIError
	if errors.As(err, &ae) {
		return ae, true
	}
	var pae *genai.APIError
	if errors.As(err, &pae) && pae != nil {
		return *pae, true
	}
	msg := err.Error()
	i := strings.Index(msg, errorFramePrefix)
	if i < 0 {
		return genai.APIError{}, false
	}
	var frame struct {
		Error *genai.APIError `json:"error"`
	}
	if json.Unmarshal([]byte(msg[i+len(errorFramePrefix):]), &frame) != nil || frame.Error == nil {
		return genai.APIError{}, false
	}
	return *frame.Error, true
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

// isNormalClose reports whether a receive error is a clean websocket close.
func isNormalClose(err error) bool {
	var ce *gws.CloseError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == gws.CloseNormalClosure || ce.Code == gws.CloseGoingAway
}

// translate maps one SDK message to events in wire order: open, audio parts,
// transcripts, tool calls, then turn-control signals.
func translate(msg *genai.LiveServerMessage) []s2s.Event {
	if msg == nil {
		return nil
	}
	var evs []s2s.Event
	if msg.SetupComplete != nil {
		evs = append(evs, s2s.Event{Kind: s2s.EventOpen})
	}
	if sc := msg.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p == nil || p.InlineData == nil || len(p.InlineData.Data) == 0 {
					continue
				}
				evs = append(evs, s2s.Event{
					Kind: s2s.EventAudio,
					Audio: audio.Packet{
						MIMEType: p.InlineData.MIMEType,
						Data:     base64.StdEncoding.EncodeToString(p.InlineData.Data),
					},
				})
			}
		}
		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			evs = append(evs, s2s.Event{Kind: s2s.EventInputTranscript, Text: sc.InputTranscription.Text})
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			evs = append(evs, s2s.Event{Kind: s2s.EventOutputTranscript, Text: sc.OutputTranscription.Text})
		}
		if sc.Interrupted {
			evs = append(evs, s2s.Event{Kind: s2s.EventInterrupted})
		}
		if sc.TurnComplete {
			evs = append(evs, s2s.Event{Kind: s2s.EventTurnComplete})
		}
	}
	if tc := msg.ToolCall; tc != nil && len(tc.FunctionCalls) > 0 {
		calls := make([]s2s.ToolCall, 0, len(tc.FunctionCalls))
		for _, fc := range tc.FunctionCalls {
			if fc == nil {
				continue
			}
			calls = append(calls, s2s.ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
		evs = append(evs, s2s.Event{Kind: s2s.EventToolCall, ToolCalls: calls})
	}
	return evs
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	live   *genai.Session
	events chan s2s.Event

	mu     sync.Mutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

func (s *session) emit(ev s2s.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// receiveLoop owns the events channel and closes it when it exits.
func (s *session) receiveLoop() {
	defer close(s.events)
	for {
		msg, err := s.live.Receive()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if isNormalClose(err) {
				s.emit(s2s.Event{Kind: s2s.EventClose})
				return
			}
			s.emit(s2s.Event{Kind: s2s.EventError, Err: fmt.Errorf("genailive: receive: %w", classify(err))})
			return
		}
		if msg.GoAway != nil {
			slog.Debug("genailive: server announced disconnect")
		}
		for _, ev := range translate(msg) {
			if !s.emit(ev) {
				return
			}
		}
	}
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SendRealtimeInput decodes the packet and hands the raw PCM to the SDK.
func (s *session) SendRealtimeInput(p audio.Packet) error {
	if s.isClosed() {
		return s2s.ErrSessionClosed
	}
	raw, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		return fmt.Errorf("genailive: decode packet: %w", err)
	}
	err = s.live.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{MIMEType: p.MIMEType, Data: raw},
	})
	if err != nil {
		return fmt.Errorf("genailive: send audio: %w", err)
	}
	return nil
}

// SendToolResponse acknowledges tool calls in one message.
func (s *session) SendToolResponse(responses ...s2s.ToolResponse) error {
	if s.isClosed() {
		return s2s.ErrSessionClosed
	}
	if len(responses) == 0 {
		return nil
	}
	frs := make([]*genai.FunctionResponse, len(responses))
	for i, r := range responses {
		resp := r.Response
		if resp == nil {
			resp = map[string]any{}
		}
		frs[i] = &genai.FunctionResponse{ID: r.ID, Name: r.Name, Response: resp}
	}
	if err := s.live.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: frs}); err != nil {
		return fmt.Errorf("genailive: send tool response: %w", err)
	}
	return nil
}

func (s *session) Events() <-chan s2s.Event { return s.events }

// Close terminates the session. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	if err := s.live.Close(); err != nil {
		return fmt.Errorf("genailive: close: %w", err)
	}
	return nil
}
