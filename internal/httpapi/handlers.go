package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"ragcore/internal/convstore"
	"ragcore/internal/kst"
	"ragcore/internal/llmclient"
	"ragcore/internal/logging"
	"ragcore/internal/logpipeline"
	"ragcore/internal/rag"
	"ragcore/internal/util"
)

// handleChat implements POST chat (spec §6, §4.9.1).
func (s *Server) handleChat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.Message == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "message is required"})
	}

	conversationID := newConversationID(req.ConversationID)
	params := req.toParams(s.Defaults)
	start := time.Now()

	ctx, cancel := withTimeout(c.Request().Context(), 0)
	defer cancel()

	answer, err := s.Orchestrator.Chat(ctx, params)
	elapsed := time.Since(start)
	s.logTurn(conversationID, params, answer, err, elapsed)

	if err != nil {
		logging.Log.WithError(err).Error("httpapi: chat")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "chat request failed"})
	}

	return c.JSON(http.StatusOK, chatResponse{
		ConversationID:   conversationID,
		Answer:           answer.Content,
		RetrievedDocs:    toDocResponses(answer.RetrievedDocs),
		ReasoningContent: answer.ReasoningContent,
		Usage: usageResponse{
			PromptTokens:     answer.Usage.PromptTokens,
			CompletionTokens: answer.Usage.CompletionTokens,
			TotalTokens:      answer.Usage.TotalTokens,
		},
	})
}

// handleChatStream implements POST chat/stream: an SSE response following
// the teacher's completions.go flush-per-line pattern, generalized to C9's
// ChatStream event sequence (spec §4.9.2, §6).
func (s *Server) handleChatStream(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.Message == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "message is required"})
	}

	conversationID := newConversationID(req.ConversationID)
	params := req.toParams(s.Defaults)

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.Header().Set("X-Accel-Buffering", "no")
	resp.WriteHeader(http.StatusOK)

	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return fmt.Errorf("httpapi: streaming not supported")
	}

	ctx, cancel := withTimeout(c.Request().Context(), 0)
	defer cancel()

	start := time.Now()
	out := make(chan string, 16)
	go s.Orchestrator.ChatStream(ctx, params, out)

	var answer []byte
	for line := range out {
		if _, err := resp.Write([]byte(line + "\n\n")); err != nil {
			return err
		}
		flusher.Flush()
		answer = append(answer, extractAnswerText(line)...)
	}

	elapsed := time.Since(start)
	// Streamed responses never carry a provider-reported usage object (spec
	// §4.9.2 emits raw token deltas only), so the completion count logged for
	// this turn is an estimate rather than the provider's own figure.
	answerText := string(answer)
	streamedAnswer := rag.Answer{
		Content: answerText,
		Usage:   llmclient.Usage{CompletionTokens: util.CountTokens(answerText)},
	}
	s.logTurn(conversationID, params, streamedAnswer, nil, elapsed)
	return nil
}

func extractAnswerText(line string) string {
	const prefix = "data: "
	if len(line) <= len(prefix) {
		return ""
	}
	payload := line[len(prefix):]
	if payload == "[DONE]" {
		return ""
	}
	var parsed struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil || len(parsed.Choices) == 0 {
		return ""
	}
	return parsed.Choices[0].Delta.Content
}

type regenerateRequest struct {
	ConversationID   string           `json:"conversation_id"`
	Query            string           `json:"query"`
	CollectionName   string           `json:"collection_name"`
	Model            string           `json:"model"`
	Temperature      float64          `json:"temperature"`
	MaxTokens        int              `json:"max_tokens"`
	TopP             float64          `json:"top_p"`
	FrequencyPenalty float64          `json:"frequency_penalty"`
	PresencePenalty  float64          `json:"presence_penalty"`
	ReasoningLevel   string           `json:"reasoning_level"`
	RetrievedDocs    []docResponse    `json:"retrieved_docs"`
	ChatHistory      []historyMessage `json:"chat_history"`
}

// handleRegenerate implements POST regenerate (spec §4.9.3): retrieval and
// reranking are skipped entirely in favor of the client-supplied docs.
func (s *Server) handleRegenerate(c echo.Context) error {
	var req regenerateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.Query == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "query is required"})
	}

	docs := make([]rag.Doc, 0, len(req.RetrievedDocs))
	for _, d := range req.RetrievedDocs {
		docs = append(docs, rag.Doc{
			ID: d.ID, Score: d.Score, SourceCollection: d.SourceCollection,
			Payload: map[string]any{"text": d.Text},
		})
	}

	params := chatRequest{
		CollectionName: req.CollectionName, Message: req.Query, Model: req.Model,
		ReasoningLevel: req.ReasoningLevel, Temperature: req.Temperature, MaxTokens: req.MaxTokens,
		TopP: req.TopP, FrequencyPenalty: req.FrequencyPenalty, PresencePenalty: req.PresencePenalty,
		ChatHistory: req.ChatHistory,
	}.toParams(s.Defaults)

	ctx, cancel := withTimeout(c.Request().Context(), 0)
	defer cancel()

	start := time.Now()
	answer, err := s.Orchestrator.Regenerate(ctx, params, docs)
	elapsed := time.Since(start)
	conversationID := newConversationID(req.ConversationID)
	s.logTurn(conversationID, params, answer, err, elapsed)

	if err != nil {
		logging.Log.WithError(err).Error("httpapi: regenerate")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "regenerate request failed"})
	}

	return c.JSON(http.StatusOK, chatResponse{
		Answer:        answer.Content,
		RetrievedDocs: toDocResponses(answer.RetrievedDocs),
		Usage: usageResponse{
			PromptTokens:     answer.Usage.PromptTokens,
			CompletionTokens: answer.Usage.CompletionTokens,
			TotalTokens:      answer.Usage.TotalTokens,
		},
	})
}

type endConversationRequest struct {
	ConversationID string `json:"conversation_id"`
}

// handleEndConversation finalizes a conversation (spec §4.13/§3 "Conversation
// lifecycle"). The four endpoints spec.md enumerates never mention ending a
// conversation explicitly; this supplements that gap so C13's sampling
// policy has a real external trigger instead of running unreachable.
func (s *Server) handleEndConversation(c echo.Context) error {
	var req endConversationRequest
	if err := c.Bind(&req); err != nil || req.ConversationID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "conversation_id is required"})
	}
	persisted, rec, err := s.Conversations.EndConversation(req.ConversationID, kst.Now())
	if err != nil {
		logging.Log.WithError(err).Error("httpapi: end conversation")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to finalize conversation"})
	}
	return c.JSON(http.StatusOK, echo.Map{"persisted": persisted, "conversation": rec})
}

// logTurn performs the non-blocking logging hand-off (spec §7 propagation
// policy) and feeds the turn into the in-memory conversation accumulator.
func (s *Server) logTurn(conversationID string, params rag.Params, answer rag.Answer, turnErr error, elapsed time.Duration) {
	now := kst.Now()
	var topScores []float64
	for _, d := range answer.RetrievedDocs {
		topScores = append(topScores, d.Score)
	}

	var errInfo map[string]any
	if turnErr != nil {
		errInfo = map[string]any{"error_type": "UpstreamUnavailable", "error_message": turnErr.Error()}
	}

	if s.Logs != nil {
		elapsedMs := elapsed.Milliseconds()
		s.Orchestrator.LogTurn(s.Logs,
			logpipeline.InteractionRecord{
				SessionID: conversationID, CollectionName: params.CollectionName,
				MessageType: "user", MessageContent: params.Query,
				ReasoningLevel: params.ReasoningLevel, LLMModel: params.ModelKey,
				CreatedAt: kst.FormatNaive(now),
			},
			logpipeline.InteractionRecord{
				SessionID: conversationID, CollectionName: params.CollectionName,
				MessageType: "assistant", MessageContent: answer.Content,
				ReasoningLevel: params.ReasoningLevel, LLMModel: params.ModelKey,
				RetrievalInfo: &logpipeline.RetrievalInfo{RetrievedCount: len(answer.RetrievedDocs), TopScores: topScores},
				Performance:   &logpipeline.Performance{ResponseTimeMs: elapsedMs, TokenCount: answer.Usage.CompletionTokens},
				ErrorInfo:     errInfo,
				CreatedAt:     kst.FormatNaive(now),
			},
			logpipeline.SessionUpdate{
				SessionID: conversationID, CollectionName: params.CollectionName,
				DeltaMessages: 2, ResponseTimeMs: elapsed.Milliseconds(),
				TopScores: topScores, HasError: turnErr != nil,
				LLMModel: params.ModelKey, ReasoningLevel: params.ReasoningLevel,
			},
		)
	}

	if s.Conversations != nil {
		var score *float64
		if len(topScores) > 0 {
			min := topScores[0]
			for _, v := range topScores {
				if v < min {
					min = v
				}
			}
			score = &min
		}
		s.Conversations.AddMessage(conversationID, convstore.Message{Role: "user", Content: params.Query, Timestamp: now})
		s.Conversations.AddMessage(conversationID, convstore.Message{
			Role: "assistant", Content: answer.Content, Timestamp: now, HasError: turnErr != nil, Score: score,
		})
	}
}
