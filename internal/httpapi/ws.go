package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"nhooyr.io/websocket"

	"github.com/pantrylab/pantryd/internal/pantry"
)

type wsSession struct {
	conn *websocket.Conn
}

func (s *wsSession) WriteText(ctx context.Context, data []byte) error {
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// handleWebsocket authenticates once at upgrade time, then keeps the
// connection registered in the hub until it closes. The socket is receive-only
// for the client; incoming frames are drained and ignored.
//
// Registration happens before the state snapshot is taken, so a mutation that
// commits while the connection is being set up lands in the snapshot, the
// event stream, or both. Events arriving ahead of the snapshot are harmless:
// clients apply the state message as a full replacement.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	workspaceID, clientToken := clientCredentials(r)
	if workspaceID == "" || clientToken == "" {
		writeError(w, http.StatusUnauthorized, "missing workspace id or client token")
		return
	}
	if err := s.store.Authorize(workspaceID, clientToken); err != nil {
		s.writeStoreError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return
	}
	sess := &wsSession{conn: conn}

	s.hub.Register(workspaceID, sess)
	defer s.hub.Unregister(workspaceID, sess)

	snapshot, err := s.store.State(workspaceID, clientToken)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "state load failed")
		return
	}
	stateMsg, err := json.Marshal(pantry.Event{Type: pantry.EventState, Data: snapshot})
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "snapshot encoding failed")
		return
	}
	if err := sess.WriteText(r.Context(), stateMsg); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "snapshot write failed")
		return
	}

	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}
