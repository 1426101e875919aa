// arena-check is a smoke test against a running server: it probes /healthz, then opens a
// websocket, optionally joins a session and prints whatever events arrive for a short window.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/chess-arena/internal/auth"
	"github.com/park285/chess-arena/pkg/arenadto"
)

func main() {
	baseURL := strings.TrimRight(os.Getenv("ARENA_URL"), "/")
	secret := os.Getenv("JWT_SECRET")
	subject := os.Getenv("ARENA_SUBJECT")
	sessionID := os.Getenv("ARENA_SESSION")

	if baseURL == "" {
		log.Fatal("ARENA_URL is required")
	}
	if subject == "" {
		subject = "arena-check"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/healthz", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Printf("/healthz error: %v", err)
	} else {
		_ = resp.Body.Close()
		log.Printf("/healthz status=%d", resp.StatusCode)
	}

	if secret == "" {
		log.Println("JWT_SECRET not set; skipping websocket check")
		return
	}
	tok, err := auth.NewVerifier(secret).Issue(subject, subject, time.Hour)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws?token=" + tok
	dctx, dcancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dcancel()
	conn, _, err := websocket.Dial(dctx, wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		log.Printf("WS connect error: %v", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()
	log.Printf("WS connected as %s", subject)

	if sessionID != "" {
		if err := wsjson.Write(dctx, conn, arenadto.ClientMessage{Type: arenadto.MsgJoin, SessionID: sessionID, As: "spectator"}); err != nil {
			log.Printf("join error: %v", err)
			return
		}
	}

	// Observe for a short window
	rctx, rcancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer rcancel()
	for {
		var ev struct {
			Type string `json:"type"`
			Data any    `json:"data"`
		}
		if err := wsjson.Read(rctx, conn, &ev); err != nil {
			return
		}
		fmt.Printf("WS event type=%s data=%v\n", ev.Type, ev.Data)
	}
}
