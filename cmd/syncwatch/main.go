// syncwatch is a terminal viewer for one recipient's notification feed.
// It runs the same sync loop the web client embeds: poll plus SSE push,
// merged into one live view with unread counts, countdowns and toasts.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/obialo/tutornotify/internal/clientsync"
	"go.uber.org/zap"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "notification service base URL")
	token := flag.String("token", "", "bearer token for the signed-in recipient")
	interval := flag.Duration("interval", 30*time.Second, "poll interval")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := clientsync.NewHTTPFeedAPI(*baseURL, *token, &http.Client{Timeout: 10 * time.Second})

	stream := clientsync.NewStreamClient(*baseURL, *token, logger)
	pushFeed, err := stream.Listen(ctx)
	if err != nil {
		logger.Warn("push stream unavailable, continuing with polling only", zap.Error(err))
		pushFeed = nil
	}

	syncer := clientsync.NewSyncer(api, pushFeed, clientsync.Config{
		PollInterval: *interval,
	}, logger)
	go syncer.Run()
	defer syncer.Close()

	go func() {
		for toast := range syncer.Toasts() {
			fmt.Fprintf(os.Stderr, "\n*** [%s] %s\n", toast.Level, toast.Title)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-syncer.Updates():
			printSnapshot(snap)
		}
	}
}

func printSnapshot(snap clientsync.Snapshot) {
	fmt.Printf("\n=== %d notifications, %d unread", len(snap.Items), snap.UnreadCount)
	if snap.Stale {
		fmt.Print(" (may be stale)")
	}
	fmt.Println(" ===")
	for _, item := range snap.Items {
		marker := " "
		if !item.Read() {
			marker = "*"
		}
		fmt.Printf("%s [%s] %s: %s\n", marker, item.Level, item.Title, item.Message)
		if gate, ok := snap.Gates[item.ID]; ok {
			if gate.Enabled {
				fmt.Printf("    link open: %s\n", item.ActionURL)
			} else {
				fmt.Printf("    link opens in %s\n", gate.Remaining.Round(time.Second))
			}
		}
	}
}
