// Package main runs a headless softphone: it places one call through the provider
// chain and prints call state until the call ends or the process is interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v3"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/peerline/backend/config"
	"github.com/peerline/backend/internal/call"
	"github.com/peerline/backend/internal/callstatus"
	"github.com/peerline/backend/internal/models"
	"github.com/peerline/backend/internal/provider"
	"github.com/peerline/backend/internal/rtc"
	"github.com/peerline/backend/internal/signaling"
)

func main() {
	var (
		sessionID = flag.StringP("session", "s", "", "call session id (required)")
		role      = flag.StringP("role", "r", string(models.RoleInitiator), "initiator or responder")
		label     = flag.StringP("label", "l", "", "partner display name")
		recipient = flag.String("recipient", "", "partner user id")
		name      = flag.String("name", "", "own display name")
		verbose   = flag.BoolP("verbose", "v", false, "debug logging")
	)
	flag.Parse()
	if *sessionID == "" || !models.Role(*role).Valid() {
		flag.Usage()
		os.Exit(2)
	}

	logger := newLogger(*verbose)
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reporter := callstatus.NewReporter(cfg.Client.ServerURL, cfg.Client.AuthToken, nil, logger)
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = reporter.Close(flushCtx)
	}()

	tokens := provider.NewTokenSource(cfg.Client.ServerURL, cfg.Client.AuthToken, nil)
	transport := signaling.NewClient(cfg.Client.ServerURL, cfg.Client.AuthToken, nil)
	mic := &rtc.FileMicrophone{Path: cfg.Client.MicrophoneFile, Loop: true, Logger: logger}
	audio := rtc.DefaultAudioConstraints()

	fallback := provider.NewWebRTC(provider.WebRTCDeps{
		Transport:  transport,
		Factory:    rtc.NewPeerConnectionFactory(audio),
		Microphone: mic,
		ICE:        tokens,
		Controller: rtc.Config{ICEServers: iceServers(cfg.WebRTC), Audio: audio},
		Call: call.Options{
			PollInterval:    cfg.Call.PollInterval,
			MaxPollFailures: cfg.Call.MaxPollFailures,
			QualityInterval: cfg.Call.QualityInterval,
			ConnectTimeout:  cfg.Call.ConnectTimeout,
			Thresholds: call.QualityThresholds{
				FairPacketLoss: int64(cfg.Call.FairPacketLoss),
				PoorPacketLoss: int64(cfg.Call.PoorPacketLoss),
			},
		},
		Reporter:    reporter,
		Diagnostics: reporter,
		Observer:    printSnapshot,
		Logger:      logger,
	})
	available := map[string]provider.Provider{
		// ZEGOCLOUD ships no Go client SDK; without an engine the chain skips it.
		provider.NameZego:    provider.NewZego(nil, tokens, reporter, logger),
		provider.NameLiveKit: provider.NewLiveKit(provider.SDKConnector{}, tokens, mic, audio, reporter, logger),
	}
	chain := provider.NewChain(provider.Order(cfg.Client.Providers, available, fallback), reporter, logger)

	p, err := chain.MakeCall(ctx, provider.Config{SessionID: *sessionID, UserID: *name, DisplayName: *name}, *recipient,
		provider.CallOptions{Role: models.Role(*role), PartnerLabel: *label})
	if err != nil {
		fmt.Fprintln(os.Stderr, call.ReasonFor(err).Message())
		logger.Error("call failed", zap.Error(err), zap.Strings("attempts", chain.Attempts()))
		os.Exit(1)
	}
	fmt.Printf("calling %s via %s (ctrl-c to hang up)\n", displayLabel(*label, *recipient), p.Name())

	var done <-chan struct{}
	if p.Name() == provider.NameWebRTC {
		done = fallback.Session().Done()
	}
	select {
	case <-ctx.Done():
	case <-done:
	}

	endCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := chain.EndCall(endCtx); err != nil {
		logger.Warn("end call", zap.Error(err))
	}
	if s := fallback.Session(); s != nil && p.Name() == provider.NameWebRTC {
		snap := s.Snapshot()
		if snap.State == models.CallStateFailed {
			fmt.Fprintln(os.Stderr, snap.FailureMessage)
			os.Exit(1)
		}
		fmt.Printf("call ended after %s\n", snap.Duration.Round(time.Second))
	}
}

func printSnapshot(s call.Snapshot) {
	line := fmt.Sprintf("[%s] %s", s.State, s.Duration.Round(time.Second))
	if s.State == models.CallStateConnected {
		line += fmt.Sprintf(" quality=%s muted=%t", s.ConnectionQuality, s.Muted)
	}
	if s.FailureMessage != "" {
		line += " " + s.FailureMessage
	}
	fmt.Println(line)
}

func displayLabel(label, recipient string) string {
	if label != "" {
		return label
	}
	if recipient != "" {
		return recipient
	}
	return "partner"
}

func iceServers(c config.WebRTCConfig) []webrtc.ICEServer {
	var out []webrtc.ICEServer
	for _, s := range c.Servers() {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
			srv.CredentialType = webrtc.ICECredentialTypePassword
		}
		out = append(out, srv)
	}
	return out
}

func newLogger(verbose bool) *zap.Logger {
	config := zap.NewProductionConfig()
	config.Encoding = "console"
	config.OutputPaths = []string{"stderr"}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if !verbose {
		config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	logger, _ := config.Build()
	return logger
}
