package httpapi

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voiceform/internal/observe"
	"github.com/MrWong99/voiceform/internal/turn"
	"github.com/MrWong99/voiceform/pkg/audio"
)

type turnResponse struct {
	Transcript string `json:"transcript,omitempty"`
	Text       string `json:"text"`
	AudioB64   string `json:"audio_b64,omitempty"`
}

func newTurnResponse(r turn.Reply) turnResponse {
	resp := turnResponse{Transcript: r.Transcript, Text: r.Text}
	if len(r.Audio) > 0 {
		resp.AudioB64 = base64.StdEncoding.EncodeToString(r.Audio)
	}
	return resp
}

// handleUploadAudio answers one recorded utterance. The multipart field
// "audio" holds a WAV document, or raw PCM16 mono at the rate given by the
// "rate" form value.
func (s *Server) handleUploadAudio(w http.ResponseWriter, r *http.Request) {
	if s.turns == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "turn-based replies are not enabled")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, _, err := r.FormFile("audio")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing_audio", "multipart field \"audio\" is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_audio", err.Error())
		return
	}

	pcm, rate, err := audio.DecodeWAV(data)
	switch {
	case errors.Is(err, audio.ErrNotWAV):
		pcm, rate = data, s.inputRate
		if v := r.FormValue("rate"); v != "" {
			n, convErr := strconv.Atoi(v)
			if convErr != nil || n <= 0 {
				respondError(w, http.StatusBadRequest, "invalid_rate", "rate must be a positive integer")
				return
			}
			rate = n
		}
	case err != nil:
		respondError(w, http.StatusUnsupportedMediaType, "invalid_audio", err.Error())
		return
	}

	reply, err := s.turns.Reply(r.Context(), pcm, rate)
	switch {
	case errors.Is(err, turn.ErrNoSpeech):
		respondError(w, http.StatusUnprocessableEntity, "no_speech", err.Error())
		return
	case errors.Is(err, turn.ErrSynthesis):
		// The text reply is still useful without audio.
		observe.Logger(r.Context()).Warn("reply synthesis failed", "err", err)
	case err != nil:
		observe.Logger(r.Context()).Error("turn failed", "err", err)
		respondError(w, http.StatusBadGateway, "turn_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, newTurnResponse(reply))
}

// handleTranscribeStream runs the turn-based assistant over a WebSocket. The
// client streams PCM16 mono as binary frames; every answered window is sent
// back as a JSON text frame.
func (s *Server) handleTranscribeStream(w http.ResponseWriter, r *http.Request) {
	if s.turns == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "turn-based replies are not enabled")
		return
	}
	rate := s.inputRate
	if v := r.URL.Query().Get("rate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_rate", "rate must be a positive integer")
			return
		}
		rate = n
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(readLimit)

	ctx := r.Context()
	log := observe.Logger(ctx)
	stream := s.turns.NewStream(rate)
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			log.Debug("transcribe stream closed", "err", err)
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}
		reply, ok, err := stream.Feed(ctx, data)
		if err != nil {
			return
		}
		if !ok {
			continue
		}
		if err := wsjson.Write(ctx, conn, newTurnResponse(reply)); err != nil {
			log.Debug("failed to send reply", "err", err)
			return
		}
	}
}
