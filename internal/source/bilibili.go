// Package source connects live-chat platforms to the ingestion admission
// filter. Every source normalizes its events into Offer calls and absorbs
// its own failures.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/niama/aiko/internal/model"
)

// Sink receives normalized chat events. Satisfied by ingest.Admitter.
type Sink interface {
	Offer(ctx context.Context, source string, eventType model.EventType, question string)
}

// BilibiliConfig configures the danmaku crawler.
type BilibiliConfig struct {
	RoomID   string
	SessData string
	// RedialWait is the pause between reconnect attempts. Zero means 5s.
	RedialWait time.Duration
}

// Bilibili ingests danmaku and gift events from a live room.
type Bilibili struct {
	cfg    BilibiliConfig
	sink   Sink
	client *http.Client
}

// NewBilibili returns a crawler feeding sink.
func NewBilibili(cfg BilibiliConfig, sink Sink) *Bilibili {
	if cfg.RedialWait <= 0 {
		cfg.RedialWait = 5 * time.Second
	}
	return &Bilibili{
		cfg:    cfg,
		sink:   sink,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Run keeps a danmaku connection alive until ctx is cancelled.
func (b *Bilibili) Run(ctx context.Context) error {
	for {
		if err := b.connectAndServe(ctx); err != nil {
			log.Warn().Err(err).Str("component", "source.bilibili").Msg("danmaku connection dropped")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.cfg.RedialWait):
		}
	}
}

func (b *Bilibili) connectAndServe(ctx context.Context) error {
	token, wsURL, err := b.danmuInfo(ctx)
	if err != nil {
		return fmt.Errorf("resolve danmaku host: %w", err)
	}
	uid, err := b.selfUID(ctx)
	if err != nil {
		return fmt.Errorf("resolve uid: %w", err)
	}
	roomID, err := strconv.Atoi(b.cfg.RoomID)
	if err != nil {
		return fmt.Errorf("parse room id %q: %w", b.cfg.RoomID, err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial danmaku: %w", err)
	}
	defer conn.Close()

	auth, _ := json.Marshal(map[string]interface{}{
		"uid":      uid,
		"roomid":   roomID,
		"protover": 2,
		"platform": "web",
		"type":     2,
		"key":      token,
	})
	if err := conn.WriteMessage(websocket.BinaryMessage, encodePacket(opAuth, auth)); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}
	log.Info().Str("component", "source.bilibili").Str("room", b.cfg.RoomID).Msg("danmaku connected")

	hbCtx, cancelHB := context.WithCancel(ctx)
	defer cancelHB()
	go b.heartbeat(hbCtx, conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		frames, err := decodeFrames(data)
		if err != nil {
			log.Warn().Err(err).Str("component", "source.bilibili").Msg("frame decode failed")
		}
		for _, frame := range frames {
			b.handleFrame(ctx, frame)
		}
	}
}

func (b *Bilibili) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	hb := encodePacket(opHeartbeat, nil)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.BinaryMessage, hb); err != nil {
				log.Warn().Err(err).Str("component", "source.bilibili").Msg("heartbeat failed")
				return
			}
		}
	}
}

func (b *Bilibili) handleFrame(ctx context.Context, frame json.RawMessage) {
	var head struct {
		Cmd string `json:"cmd"`
	}
	if err := json.Unmarshal(frame, &head); err != nil {
		return
	}

	switch head.Cmd {
	case "DANMU_MSG":
		user, text, err := parseDanmu(frame)
		if err != nil {
			log.Warn().Err(err).Str("component", "source.bilibili").Msg("bad danmu payload")
			return
		}
		b.sink.Offer(ctx, user, model.EventLiveChat, text)

	case "SEND_GIFT":
		var msg struct {
			Data struct {
				Uname    string `json:"uname"`
				GiftName string `json:"giftName"`
				Num      int    `json:"num"`
			} `json:"data"`
		}
		if err := json.Unmarshal(frame, &msg); err != nil {
			return
		}
		text := fmt.Sprintf("送出 %d 个 %s", msg.Data.Num, msg.Data.GiftName)
		b.sink.Offer(ctx, msg.Data.Uname, model.EventLiveChat, text)
	}
}

// parseDanmu digs the sender name and message text out of the positional
// info array: info[1] is the text, info[2][1] the user name.
func parseDanmu(frame json.RawMessage) (user, text string, err error) {
	var msg struct {
		Info []json.RawMessage `json:"info"`
	}
	if err = json.Unmarshal(frame, &msg); err != nil {
		return
	}
	if len(msg.Info) < 3 {
		err = fmt.Errorf("info array too short: %d", len(msg.Info))
		return
	}
	if err = json.Unmarshal(msg.Info[1], &text); err != nil {
		return
	}
	var sender []json.RawMessage
	if err = json.Unmarshal(msg.Info[2], &sender); err != nil {
		return
	}
	if len(sender) < 2 {
		err = fmt.Errorf("sender array too short: %d", len(sender))
		return
	}
	err = json.Unmarshal(sender[1], &user)
	return
}

func (b *Bilibili) danmuInfo(ctx context.Context) (token, wsURL string, err error) {
	var resp struct {
		Data struct {
			Token    string `json:"token"`
			HostList []struct {
				Host    string `json:"host"`
				WssPort int    `json:"wss_port"`
			} `json:"host_list"`
		} `json:"data"`
	}
	url := "https://api.live.bilibili.com/xlive/web-room/v1/index/getDanmuInfo?id=" + b.cfg.RoomID
	if err = b.getJSON(ctx, url, &resp); err != nil {
		return
	}
	if len(resp.Data.HostList) == 0 {
		err = fmt.Errorf("empty danmaku host list")
		return
	}
	host := resp.Data.HostList[0]
	return resp.Data.Token, fmt.Sprintf("wss://%s:%d/sub", host.Host, host.WssPort), nil
}

func (b *Bilibili) selfUID(ctx context.Context) (int64, error) {
	var resp struct {
		Data struct {
			Mid int64 `json:"mid"`
		} `json:"data"`
	}
	if err := b.getJSON(ctx, "https://api.bilibili.com/x/web-interface/nav", &resp); err != nil {
		return 0, err
	}
	return resp.Data.Mid, nil
}

func (b *Bilibili) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Cookie", "SESSDATA="+b.cfg.SessData)
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; WOW64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.5756.197 Safari/537.36")

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
