package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"docportal/models"
	"docportal/pkg/notes"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is enforced at the outer layer
	},
}

// notesPanelHandler hosts one document's note thread over a websocket. The
// connection is the panel: opening it opens the note channel
// (catch-up-then-follow), closing it closes the channel exactly once,
// which in turn refreshes the document's note count in the caller's
// session.
func notesPanelHandler(c *gin.Context) {
	doc, ok := documentForNoteAccess(c)
	if !ok {
		return
	}
	user, _ := getUserFromContext(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}

	send := make(chan []byte, 64)
	channel := notes.NewChannel(notes.Config{
		Source: noteSource,
		Subscribe: func(docID string, onInsert func(models.Note)) func() {
			sub := hub.Subscribe(docID, onInsert)
			return sub.Unsubscribe
		},
		Actor: func(ctx context.Context) (string, bool) {
			return user.ID, user.ID != ""
		},
		OnChange: func(list []models.Note) {
			payload, _ := json.Marshal(gin.H{"type": "notes", "notes": list})
			select {
			case send <- payload:
			default:
				// drop on slow client
			}
		},
		OnClose: func(docID string) {
			sessions.get(user.ID).RefreshCountFor(context.Background(), docID)
		},
	})

	go panelWritePump(conn, send)

	if err := channel.Open(c.Request.Context(), doc.ID); err != nil {
		log.Printf("note channel open failed for %s: %v", doc.ID, err)
		// Leave the panel connected; sends still re-fetch.
	}

	panelReadPump(conn, channel, send)
}

// panelReadPump consumes panel messages until the socket drops, then
// closes the channel. All replies are funneled through send so the write
// pump stays the only writer.
func panelReadPump(conn *websocket.Conn, channel *notes.Channel, send chan []byte) {
	defer func() {
		channel.Close()
		conn.Close()
	}()

	conn.SetReadLimit(8192)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket unexpected close: %v", err)
			}
			return
		}
		var msg struct {
			Type    string `json:"type"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("error parsing panel message: %v", err)
			continue
		}
		switch msg.Type {
		case "send":
			sent, err := channel.Send(context.Background(), msg.Content)
			if err != nil {
				// Surfaced so the panel keeps the unsent text in its input.
				payload, _ := json.Marshal(gin.H{"type": "send_error", "error": "errore invio nota"})
				enqueue(send, payload)
				continue
			}
			if sent {
				// The panel clears its input only on this ack.
				payload, _ := json.Marshal(gin.H{"type": "sent"})
				enqueue(send, payload)
			}
		case "ping":
			enqueue(send, []byte(`{"type":"pong"}`))
		default:
			log.Printf("unknown panel message type: %q", msg.Type)
		}
	}
}

func enqueue(send chan []byte, payload []byte) {
	select {
	case send <- payload:
	default:
	}
}

// panelWritePump serializes all writes for a panel connection.
func panelWritePump(conn *websocket.Conn, send chan []byte) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case message, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("websocket write error: %v", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
