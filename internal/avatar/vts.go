// Package avatar triggers model hotkeys on a VTube Studio endpoint in
// response to emotion labels. Rendering itself stays outside the engine;
// this adapter only fires hotkeys.
package avatar

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

// VTSConfig configures the VTube Studio connection.
type VTSConfig struct {
	URL        string
	PluginName string
	Developer  string
	// TokenPath persists the authentication token across sessions.
	TokenPath string
	// Hotkeys maps emotion labels to VTube Studio hotkey ids.
	Hotkeys map[string]string
	// RedialWait is the pause between reconnect attempts. Zero means 5s.
	RedialWait time.Duration
}

// VTS implements turn.Emoter against the VTube Studio public API.
type VTS struct {
	cfg VTSConfig

	writeMu sync.Mutex
	conn    *websocket.Conn
}

// NewVTS returns an unconnected adapter; call Run to maintain the session.
func NewVTS(cfg VTSConfig) *VTS {
	if cfg.RedialWait <= 0 {
		cfg.RedialWait = 5 * time.Second
	}
	return &VTS{cfg: cfg}
}

type apiMessage struct {
	APIName    string          `json:"apiName"`
	APIVersion string          `json:"apiVersion"`
	RequestID  string          `json:"requestID"`
	Type       string          `json:"messageType"`
	Data       json.RawMessage `json:"data,omitempty"`
}

func request(msgType string, data interface{}) apiMessage {
	var raw json.RawMessage
	if data != nil {
		raw, _ = json.Marshal(data)
	}
	return apiMessage{
		APIName:    "VTubeStudioPublicAPI",
		APIVersion: "1.0",
		RequestID:  ulid.Make().String(),
		Type:       msgType,
		Data:       raw,
	}
}

// Emote fires the hotkey mapped to label. Unknown labels and a missing
// connection are absorbed: an avatar hiccup never fails a turn.
func (v *VTS) Emote(label string) {
	hotkey, ok := v.cfg.Hotkeys[label]
	if !ok {
		return
	}
	err := v.write(request("HotkeyTriggerRequest", map[string]string{"hotkeyID": hotkey}))
	if err != nil {
		log.Warn().Err(err).Str("component", "avatar").Str("label", label).Msg("hotkey trigger failed")
		return
	}
	log.Debug().Str("component", "avatar").Str("label", label).Msg("hotkey triggered")
}

// Run maintains the authenticated session until ctx is cancelled.
func (v *VTS) Run(ctx context.Context) error {
	for {
		if err := v.connectAndServe(ctx); err != nil {
			log.Warn().Err(err).Str("component", "avatar").Msg("vts connection dropped")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(v.cfg.RedialWait):
		}
	}
}

func (v *VTS) connectAndServe(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, v.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial vts: %w", err)
	}
	defer conn.Close()

	v.writeMu.Lock()
	v.conn = conn
	v.writeMu.Unlock()
	defer func() {
		v.writeMu.Lock()
		v.conn = nil
		v.writeMu.Unlock()
	}()

	if err := v.authenticate(conn); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	log.Info().Str("component", "avatar").Str("url", v.cfg.URL).Msg("vts session authenticated")

	for {
		var msg apiMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if msg.Type == "APIError" {
			log.Warn().RawJSON("data", msg.Data).Str("component", "avatar").Msg("vts api error")
		}
	}
}

func (v *VTS) authenticate(conn *websocket.Conn) error {
	token := v.loadToken()
	if token == "" {
		var err error
		if token, err = v.requestToken(conn); err != nil {
			return err
		}
		v.saveToken(token)
	}

	err := conn.WriteJSON(request("AuthenticationRequest", map[string]string{
		"pluginName":          v.cfg.PluginName,
		"pluginDeveloper":     v.cfg.Developer,
		"authenticationToken": token,
	}))
	if err != nil {
		return err
	}

	var resp apiMessage
	if err := conn.ReadJSON(&resp); err != nil {
		return err
	}
	var data struct {
		Authenticated bool `json:"authenticated"`
	}
	json.Unmarshal(resp.Data, &data)
	if !data.Authenticated {
		// Stale token: drop it so the next attempt requests a fresh one.
		os.Remove(v.cfg.TokenPath)
		return fmt.Errorf("vts rejected token")
	}
	return nil
}

func (v *VTS) requestToken(conn *websocket.Conn) (string, error) {
	err := conn.WriteJSON(request("AuthenticationTokenRequest", map[string]string{
		"pluginName":      v.cfg.PluginName,
		"pluginDeveloper": v.cfg.Developer,
	}))
	if err != nil {
		return "", err
	}

	var resp apiMessage
	if err := conn.ReadJSON(&resp); err != nil {
		return "", err
	}
	var data struct {
		AuthenticationToken string `json:"authenticationToken"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return "", err
	}
	if data.AuthenticationToken == "" {
		return "", fmt.Errorf("vts returned empty token")
	}
	return data.AuthenticationToken, nil
}

func (v *VTS) loadToken() string {
	b, err := os.ReadFile(v.cfg.TokenPath)
	if err != nil {
		return ""
	}
	var stored struct {
		AuthenticationToken string `json:"authenticationToken"`
	}
	if err := json.Unmarshal(b, &stored); err != nil {
		return ""
	}
	return stored.AuthenticationToken
}

func (v *VTS) saveToken(token string) {
	b, _ := json.Marshal(map[string]string{"authenticationToken": token})
	if err := os.WriteFile(v.cfg.TokenPath, b, 0o600); err != nil {
		log.Warn().Err(err).Str("component", "avatar").Msg("token persist failed")
	}
}

func (v *VTS) write(msg apiMessage) error {
	v.writeMu.Lock()
	defer v.writeMu.Unlock()
	if v.conn == nil {
		return fmt.Errorf("vts not connected")
	}
	return v.conn.WriteJSON(msg)
}
