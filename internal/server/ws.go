package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	wsReadWait  = 60 * time.Second
	wsWriteWait = 10 * time.Second
)

// handleScoreStream scores one request per text frame and answers each with
// a Response or an ErrorResponse. A failed frame does not close the stream.
func (s *Server) handleScoreStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}
	defer conn.Close()

	log.Debug().Str("request_id", RequestID(r.Context())).Msg("Score stream opened")
	for {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("Score stream closed unexpectedly")
			}
			return
		}

		reply := s.scoreFrame(r, data)
		if s.metrics != nil {
			s.metrics.WSMessagesInc()
		}

		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(reply); err != nil {
			log.Warn().Err(err).Msg("Failed to write score frame")
			return
		}
	}
}

func (s *Server) scoreFrame(r *http.Request, data []byte) interface{} {
	id := uuid.NewString()
	req, err := decodeRequest(data)
	if err != nil {
		return ErrorResponse{Error: err.Error(), Kind: KindRequest, RequestID: id}
	}
	resp, errResp := s.score(r.Context(), req, id)
	if errResp != nil {
		return errResp
	}
	return resp
}
