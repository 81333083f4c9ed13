package cli

import (
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/niama/aiko/internal/arbiter"
	"github.com/niama/aiko/internal/avatar"
	"github.com/niama/aiko/internal/dialogue"
	"github.com/niama/aiko/internal/display"
	"github.com/niama/aiko/internal/ingest"
	"github.com/niama/aiko/internal/session"
	"github.com/niama/aiko/internal/source"
	"github.com/niama/aiko/internal/turn"
)

func init() {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the live conversation engine",
		Long: "Connects the dialogue channel and any configured chat sources, then " +
			"answers pending questions one cluster at a time until interrupted.\n\n" +
			"Runs headless: no audio device is attached, so the microphone pump " +
			"stays off and reply audio is discarded. Device adapters plug in as " +
			"an AudioSource/AudioSink pair and drive the capture and playback " +
			"signals themselves.",
		Run: runRun,
	}
	RootCmd.AddCommand(cmd)
}

func runRun(cmd *cobra.Command, args []string) {
	s, cfg, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	state := session.New()
	admitter := ingest.New(s)
	arb := arbiter.New(s, cfg.Persona())

	channel := dialogue.NewRealtime(dialogue.RealtimeConfig{
		URL:          cfg.Dialogue.URL,
		APIKey:       cfg.Dialogue.APIKey,
		Voice:        cfg.Dialogue.Voice,
		Language:     cfg.Dialogue.Language,
		HostIdentity: cfg.HostIdentity,
	}, state, admitter, nil, nil)
	go channel.Run(ctx)

	var publishers display.Fanout
	if cfg.Display.Addr != "" {
		hub := display.NewHub(s)
		publishers = append(publishers, hub)
		go func() {
			if err := hub.Serve(ctx, cfg.Display.Addr); err != nil {
				log.Error().Err(err).Msg("observer surface failed")
			}
		}()
	}
	if cfg.TranscriptFile != "" {
		transcript := display.NewTranscript(cfg.TranscriptFile)
		publishers = append(publishers, transcript)
		go transcript.Run(ctx)
	}

	var emoter turn.Emoter = turn.NopEmoter{}
	if cfg.VTS.URL != "" {
		vts := avatar.NewVTS(avatar.VTSConfig{
			URL:        cfg.VTS.URL,
			PluginName: "aiko",
			Developer:  "niama",
			TokenPath:  cfg.VTS.TokenPath,
			Hotkeys:    cfg.VTS.Hotkeys,
		})
		go vts.Run(ctx)
		emoter = vts
	}

	if cfg.Bilibili.RoomID != "" {
		crawler := source.NewBilibili(source.BilibiliConfig{
			RoomID:   cfg.Bilibili.RoomID,
			SessData: cfg.Bilibili.SessData,
		}, admitter)
		go crawler.Run(ctx)
	}
	if cfg.YouTube.VideoID != "" {
		poller := source.NewYouTube(source.YouTubeConfig{
			APIKey:   cfg.YouTube.APIKey,
			VideoID:  cfg.YouTube.VideoID,
			Interval: cfg.YouTube.PollInterval.Std(),
		}, admitter)
		go poller.Run(ctx)
	}

	opts := []turn.Option{turn.WithEmoter(emoter)}
	if len(publishers) > 0 {
		opts = append(opts, turn.WithPublisher(publishers))
	}
	controller := turn.New(arb, s, state, channel, opts...)

	log.Info().Str("db", cfg.DB).Msg("engine started")
	if err := controller.Run(ctx); err != nil && ctx.Err() == nil {
		exitErr("run", err)
	}
}
