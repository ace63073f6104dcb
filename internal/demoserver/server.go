// Package demoserver serves a scripted AI chat API for examples and manual
// testing. Replies stream as Server-Sent Events or come back as one JSON
// document.
package demoserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/chancetop/aistream-go/pkg/logging"
)

// Routes served by Server.
const (
	StreamPath = "/agent/chat/stream"
	ChatPath   = "/agent/chat"
	ErrorPath  = "/sse/stream"
)

// Values of the errorType query parameter on ErrorPath.
const (
	ErrorTypeConnection = "connection_error"
	ErrorTypeAPI        = "api_error"
	ErrorTypeHTTP       = "http_error"
)

// DefaultReply is split on spaces into stream chunks.
const DefaultReply = "Fast casual restaurants usually turn tables in under thirty minutes."

// Config configures a Server.
type Config struct {
	// Reply is the canned answer. Defaults to DefaultReply.
	Reply string
	// Interval is the pause between chunks.
	Interval time.Duration
	// ExtraTypes are emitted once before the reply, e.g. "thinking", to show
	// client-side filtering.
	ExtraTypes []string
	Logger     logging.Logger
}

// Server is an http.Handler for the demo routes.
type Server struct {
	config Config
	logger logging.Logger
	mux    *http.ServeMux
	events atomic.Int64
}

// chatRequest is the body clients post.
type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
}

// Chunk is one streamed piece of the reply.
type Chunk struct {
	Type           string    `json:"type"`
	Timestamp      time.Time `json:"timestamp"`
	ConversationID string    `json:"conversation_id"`
	Content        string    `json:"content"`
	ChunkIndex     int       `json:"chunk_index"`
	IsFinalChunk   bool      `json:"is_final_chunk"`
}

// New creates a Server.
func New(config Config) *Server {
	if config.Reply == "" {
		config.Reply = DefaultReply
	}
	if config.Logger == nil {
		config.Logger = logging.Nop()
	}

	s := &Server{
		config: config,
		logger: config.Logger.WithFields(logging.String("component", "demoserver")),
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc(StreamPath, s.handleStream)
	s.mux.HandleFunc(ChatPath, s.handleChat)
	s.mux.HandleFunc(ErrorPath, s.handleError)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("request", logging.String("method", r.Method), logging.String("path", r.URL.Path))
	s.mux.ServeHTTP(w, r)
}

// Events returns how many events have been written across all streams.
func (s *Server) Events() int64 {
	return s.events.Load()
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	stream, ok := newEventWriter(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "streaming not supported")
		return
	}

	for _, t := range s.config.ExtraTypes {
		if err := s.send(stream, "", map[string]string{"type": t}); err != nil {
			return
		}
	}

	chunks := s.chunks(req.ConversationID)
	for _, chunk := range chunks {
		if chunk.ChunkIndex > 0 && s.config.Interval > 0 {
			timer := time.NewTimer(s.config.Interval)
			select {
			case <-r.Context().Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		if err := s.send(stream, "", chunk); err != nil {
			return
		}
	}
	if err := s.send(stream, "", map[string]string{"type": "end"}); err != nil {
		return
	}

	// The client closes the connection once it has read the end frame.
	<-r.Context().Done()
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	chunks := s.chunks(req.ConversationID)
	reply := chunks[len(chunks)-1]
	reply.Content = s.config.Reply
	reply.ChunkIndex = 0

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(reply)
}

func (s *Server) handleError(w http.ResponseWriter, r *http.Request) {
	switch errorType := r.URL.Query().Get("errorType"); errorType {
	case ErrorTypeConnection:
		// Drop the connection before any response is written.
		hijacker, ok := w.(http.Hijacker)
		if !ok {
			writeError(w, http.StatusInternalServerError, "HIJACK_UNSUPPORTED", "cannot drop connection")
			return
		}
		conn, _, err := hijacker.Hijack()
		if err != nil {
			s.logger.Warn("failed to hijack connection", logging.ErrorField(err))
			return
		}
		_ = conn.Close()
	case ErrorTypeAPI:
		stream, ok := newEventWriter(w)
		if !ok {
			return
		}
		_ = s.send(stream, "error", map[string]string{
			"error_code":    "QUOTA_EXCEEDED",
			"error_message": "Monthly token quota exceeded",
			"id":            uuid.NewString(),
		})
		<-r.Context().Done()
	case ErrorTypeHTTP:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "The agent is unavailable")
	default:
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("unknown errorType %q", errorType))
	}
}

// chunks splits the reply into stream chunks for one conversation.
func (s *Server) chunks(conversationID string) []Chunk {
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	words := strings.Fields(s.config.Reply)
	out := make([]Chunk, len(words))
	for i, word := range words {
		if i < len(words)-1 {
			word += " "
		}
		out[i] = Chunk{
			Type:           "agent_response",
			Timestamp:      time.Now().UTC(),
			ConversationID: conversationID,
			Content:        word,
			ChunkIndex:     i,
			IsFinalChunk:   i == len(words)-1,
		}
	}
	return out
}

func (s *Server) send(stream *eventWriter, event string, data interface{}) error {
	id := fmt.Sprintf("evt-%d", s.events.Add(1))
	if err := stream.write(id, event, data); err != nil {
		s.logger.Warn("failed to write event", logging.String("id", id), logging.ErrorField(err))
		return err
	}
	return nil
}

func decodeChatRequest(r *http.Request) (chatRequest, error) {
	var req chatRequest
	if r.Body == nil {
		return req, nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		return req, fmt.Errorf("invalid request body: %w", err)
	}
	return req, nil
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error_code":    code,
		"error_message": message,
	})
}
