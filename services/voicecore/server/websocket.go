// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/HearthCore/services/voicecore/pipeline"
)

// maxUtteranceBytes bounds buffered audio per turn (~30s of 16kHz
// 16-bit mono).
const maxUtteranceBytes = 1 << 20

var upgrader = websocket.Upgrader{
	// Loopback/LAN companion app only; no browser origins to defend.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// wsControl is a client text frame on the audio stream.
type wsControl struct {
	Type   string `json:"type"`
	UserID string `json:"user_id,omitempty"`
}

// wsResponse is the server's text frame after a processed turn.
type wsResponse struct {
	Type         string `json:"type"`
	TurnID       string `json:"turn_id,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	Text         string `json:"text,omitempty"`
	UsedFallback bool   `json:"used_fallback,omitempty"`
	TextOnly     bool   `json:"text_only,omitempty"`
	Code         string `json:"code,omitempty"`
	Message      string `json:"message,omitempty"`
}

// handleAudioStream ingests utterance audio over a websocket.
//
// Binary frames append to the utterance buffer. A text frame
// {"type":"end_of_utterance","user_id":"..."} closes the utterance and
// runs a voice turn; the response text frame is followed by one binary
// frame of synthesized audio when available.
func (s *Server) handleAudioStream(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer ws.Close()
	s.logger.Info("audio stream connected", slog.String("remote", ws.RemoteAddr().String()))

	var utterance bytes.Buffer
	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			s.logger.Info("audio stream disconnected", slog.String("reason", err.Error()))
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if utterance.Len()+len(data) > maxUtteranceBytes {
				s.writeJSON(ws, wsResponse{Type: "error", Code: "utterance_too_long",
					Message: "utterance exceeds the buffer limit"})
				utterance.Reset()
				continue
			}
			utterance.Write(data)

		case websocket.TextMessage:
			var ctl wsControl
			if err := json.Unmarshal(data, &ctl); err != nil {
				s.writeJSON(ws, wsResponse{Type: "error", Code: "bad_control_frame", Message: err.Error()})
				continue
			}

			switch ctl.Type {
			case "end_of_utterance":
				s.processUtterance(c, ws, utterance.Bytes(), ctl.UserID)
				utterance.Reset()
			case "cancel":
				utterance.Reset()
			default:
				s.writeJSON(ws, wsResponse{Type: "error", Code: "unknown_control",
					Message: "unknown control type " + ctl.Type})
			}
		}
	}
}

// processUtterance runs one turn and writes the result frames.
func (s *Server) processUtterance(c *gin.Context, ws *websocket.Conn, audio []byte, userID string) {
	result, err := s.pipeline.ProcessVoiceInput(c.Request.Context(), audio, userID)
	if err != nil {
		resp := wsResponse{Type: "error"}
		if pe, ok := pipeline.AsError(err); ok {
			resp.Code = string(pe.Code)
			resp.Message = pe.UserMessage
		} else {
			resp.Code = "internal"
		}
		s.writeJSON(ws, resp)
		return
	}

	s.writeJSON(ws, wsResponse{
		Type:         "response",
		TurnID:       result.TurnID,
		SessionID:    result.SessionID,
		Text:         result.ResponseText,
		UsedFallback: result.UsedFallback,
		TextOnly:     result.TextOnly,
	})
	if len(result.Audio) > 0 {
		if err := ws.WriteMessage(websocket.BinaryMessage, result.Audio); err != nil {
			s.logger.Warn("failed to write audio frame", slog.Any("error", err))
		}
	}
}

func (s *Server) writeJSON(ws *websocket.Conn, v any) {
	if err := ws.WriteJSON(v); err != nil {
		s.logger.Warn("failed to write websocket JSON", slog.Any("error", err))
	}
}
