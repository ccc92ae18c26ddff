// Command chatsync runs the client sync engine against a remote chat
// service: it opens the local store, connects the realtime channel, renders
// incoming operations to stdout, and sends stdin lines as messages.
//
// Commands: /img <path> sends a file as an attachment, /del <id> deletes,
// /flush clears everything, /quit exits.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatsync/internal/retention"
	"chatsync/pkg/banner"
	"chatsync/pkg/blobcache"
	"chatsync/pkg/chat"
	"chatsync/pkg/config"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/progress"
	"chatsync/pkg/realtime"
	"chatsync/pkg/remote"
	"chatsync/pkg/shutdown"
	"chatsync/pkg/state"
	"chatsync/pkg/store"
	"chatsync/pkg/syncer"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	_ = godotenv.Load(".env")
	dbVal, remoteVal, cfgVal, setFlags := config.ParseCommandFlags()

	cfgPath := config.ResolveConfigPath(cfgVal, setFlags["config"])
	cfg, envUsed := config.LoadEffective(cfgPath)

	dataDir := cfg.Storage.DBPath
	if setFlags["db"] || dataDir == "" {
		dataDir = dbVal
	}
	remoteURL := cfg.Remote.BaseURL
	if setFlags["remote"] || remoteURL == "" {
		remoteURL = remoteVal
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()
	logger.Info("starting", "data_dir", dataDir, "remote", remoteURL, "env_overrides", envUsed)

	paths, err := state.EnsureDirs(dataDir)
	if err != nil {
		shutdown.Abort("data directory layout", err, dataDir)
	}

	records, err := store.Open(paths.Store)
	if err != nil {
		shutdown.Abort("open record store", err, dataDir)
	}
	defer records.Close()

	blobDir := cfg.Storage.BlobDir
	if blobDir == "" {
		blobDir = paths.Blobs
	}
	blobs, err := blobcache.New(blobDir)
	if err != nil {
		shutdown.Abort("open blob cache", err, dataDir)
	}

	msgStore := chat.New(records)
	defer msgStore.Close()

	api := remote.New(remote.Options{
		BaseURL:        remoteURL,
		APIKey:         cfg.Remote.APIKey,
		Timeout:        cfg.Remote.Timeout.Duration(),
		RateRPS:        cfg.Remote.RateRPS,
		RateBurst:      cfg.Remote.RateBurst,
		MaxUploadBytes: cfg.Upload.MaxBytes.Int64(),
	})
	defer api.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracker := progress.NewTracker()
	coord := syncer.New(msgStore, api, blobs, tracker, func(err error) {
		fmt.Fprintf(os.Stderr, "! %v\n", err)
	})

	// renderer: apply the operation stream to stdout
	ops, cancelOps := msgStore.Operations()
	defer cancelOps()
	go renderLoop(ops)

	rtURL := cfg.Realtime.URL
	if rtURL == "" {
		rtURL = deriveRealtimeURL(remoteURL)
	}
	channel, err := realtime.Dial(ctx, rtURL, cfg.Realtime.HandshakeTimeout.Duration())
	if err != nil {
		shutdown.Abort("connect realtime channel", err, dataDir)
	}
	defer channel.Close()
	go coord.Run(ctx, channel.Events())

	cancelRetention, err := retention.Start(ctx, msgStore, cfg.Retention)
	if err != nil {
		shutdown.Abort("start retention scheduler", err, dataDir)
	}
	defer cancelRetention()

	if cfg.Metrics.Addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				logger.Warn("metrics_listener_failed", "addr", cfg.Metrics.Addr, "error", err)
			}
		}()
	}

	banner.Print(dataDir, remoteURL, rtURL, version)

	// print what's already cached before taking input
	if view, err := msgStore.Read(); err == nil {
		for _, m := range view {
			fmt.Println(renderMessage(m))
		}
	}

	author := os.Getenv("CHATSYNC_AUTHOR")
	if author == "" {
		author = "me"
	}
	inputLoop(ctx, coord, author)
	logger.Info("exiting")
}

func inputLoop(ctx context.Context, coord *syncer.Coordinator, author string) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return
		case line == "/flush":
			if err := coord.Flush(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "! flush: %v\n", err)
			}
		case strings.HasPrefix(line, "/del "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/del "))
			if err := coord.Delete(ctx, models.Message{ID: id}); err != nil {
				fmt.Fprintf(os.Stderr, "! delete %s: %v\n", id, err)
			}
		case strings.HasPrefix(line, "/img "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "/img "))
			data, err := os.ReadFile(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "! read %s: %v\n", path, err)
				continue
			}
			if _, err := coord.SendImage(ctx, author, path, data); err != nil {
				fmt.Fprintf(os.Stderr, "! send image: %v\n", err)
			}
		default:
			if _, err := coord.SendText(ctx, author, line); err != nil {
				fmt.Fprintf(os.Stderr, "! send: %v\n", err)
			}
		}
	}
}

func renderLoop(ops <-chan chat.Operation) {
	for op := range ops {
		switch op.Kind {
		case chat.OpInsert:
			fmt.Printf("+ %s\n", renderMessage(op.Message))
		case chat.OpRemove:
			fmt.Printf("- %s\n", renderMessage(op.Message))
		case chat.OpUpdate:
			fmt.Printf("~ %s\n", renderMessage(op.New))
		case chat.OpSet:
			fmt.Printf("= %d messages\n", len(op.Messages))
		case chat.OpInsertAll:
			fmt.Printf("+ %d messages\n", len(op.Messages))
		}
	}
}

func renderMessage(m models.Message) string {
	var body string
	switch c := m.Content.(type) {
	case models.TextContent:
		body = c.Text
	case models.ImageContent:
		body = "[image " + c.Source + "]"
	default:
		body = "[unknown]"
	}
	flag := ""
	if m.Meta[models.MetaSending] == "true" {
		flag = " (sending)"
	}
	return fmt.Sprintf("[%s] %s: %s%s", m.ID, m.Author, body, flag)
}

// deriveRealtimeURL maps an http(s) base URL to its ws(s) /realtime
// endpoint.
func deriveRealtimeURL(base string) string {
	ws := base
	if strings.HasPrefix(base, "https://") {
		ws = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		ws = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return strings.TrimRight(ws, "/") + "/realtime"
}
