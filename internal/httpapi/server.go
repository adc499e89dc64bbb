// Package httpapi implements spec §6's external HTTP surface over the echo
// router, following the teacher's routes.go/completions.go handler shapes:
// thin handlers that decode the request, call into the core (C9), and
// either write a JSON body or proxy an SSE stream.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"ragcore/internal/config"
	"ragcore/internal/convstore"
	"ragcore/internal/llmclient"
	"ragcore/internal/logging"
	"ragcore/internal/logpipeline"
	"ragcore/internal/rag"
	"ragcore/internal/vectorstore"
)

// Server wires C9 (the orchestrator) to the transport layer, plus the
// logging and conversation-archival hand-offs every turn triggers.
type Server struct {
	Orchestrator *rag.Orchestrator
	Vectors      *vectorstore.Store
	Logs         *logpipeline.Pipeline
	Conversations *convstore.Store
	Defaults     config.RAGDefaults
}

// Register mounts every spec §6 endpoint under api.
func (s *Server) Register(api *echo.Group) {
	api.POST("/chat", s.handleChat)
	api.POST("/chat/stream", s.handleChatStream)
	api.POST("/regenerate", s.handleRegenerate)
	api.GET("/collections", s.handleCollections)
	api.POST("/conversation/end", s.handleEndConversation)
}

type chatRequest struct {
	CollectionName     string               `json:"collection_name"`
	TempCollectionName string               `json:"temp_collection_name"`
	Message            string               `json:"message"`
	Model              string               `json:"model"`
	ReasoningLevel     string               `json:"reasoning_level"`
	Temperature        float64              `json:"temperature"`
	MaxTokens          int                  `json:"max_tokens"`
	TopP               float64              `json:"top_p"`
	FrequencyPenalty   float64              `json:"frequency_penalty"`
	PresencePenalty    float64              `json:"presence_penalty"`
	TopK               int                  `json:"top_k"`
	ScoreThreshold     *float64             `json:"score_threshold"`
	ChatHistory        []historyMessage     `json:"chat_history"`
	UseReranking       *bool                `json:"use_reranking"`
	UseHybrid          *bool                `json:"use_hybrid"`
	ConversationID     string               `json:"conversation_id"`
}

type historyMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type docResponse struct {
	ID               string   `json:"id"`
	Score            float64  `json:"score"`
	Text             string   `json:"text,omitempty"`
	SourceCollection string   `json:"source_collection,omitempty"`
	VectorScore      float64  `json:"vector_score,omitempty"`
	BM25Score        float64  `json:"bm25_score,omitempty"`
	Keywords         []string `json:"keywords,omitempty"`
	CitedPhrases     []string `json:"cited_phrases,omitempty"`
}

func toDocResponses(docs []rag.Doc) []docResponse {
	out := make([]docResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, docResponse{
			ID: d.ID, Score: d.Score, Text: docText(d), SourceCollection: d.SourceCollection,
			VectorScore: d.VectorScore, BM25Score: d.BM25Score,
			Keywords: d.Keywords, CitedPhrases: d.CitedPhrases,
		})
	}
	return out
}

func docText(d rag.Doc) string {
	if t, ok := d.Payload["text"].(string); ok {
		return t
	}
	return ""
}

type chatResponse struct {
	ConversationID   string        `json:"conversation_id"`
	Answer           string        `json:"answer"`
	RetrievedDocs    []docResponse `json:"retrieved_docs"`
	Usage            usageResponse `json:"usage"`
	ReasoningContent string        `json:"reasoning_content,omitempty"`
}

type usageResponse struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (r chatRequest) toParams(defaults config.RAGDefaults) rag.Params {
	topK := r.TopK
	if topK <= 0 {
		topK = defaults.TopK
	}
	scoreThreshold := defaults.ScoreThreshold
	if r.ScoreThreshold != nil {
		scoreThreshold = *r.ScoreThreshold
	}
	reasoningLevel := r.ReasoningLevel
	if reasoningLevel == "" {
		reasoningLevel = defaults.ReasoningLevel
	}
	useReranking := true
	if r.UseReranking != nil {
		useReranking = *r.UseReranking
	}
	useHybrid := true
	if r.UseHybrid != nil {
		useHybrid = *r.UseHybrid
	}
	history := make([]llmclient.Message, 0, len(r.ChatHistory))
	for _, m := range r.ChatHistory {
		history = append(history, llmclient.Message{Role: m.Role, Content: m.Content})
	}
	return rag.Params{
		CollectionName:     r.CollectionName,
		TempCollectionName: r.TempCollectionName,
		Query:              r.Message,
		ModelKey:           r.Model,
		ReasoningLevel:     reasoningLevel,
		SamplingParams: llmclient.Params{
			Temperature:      r.Temperature,
			TopP:             r.TopP,
			MaxTokens:        r.MaxTokens,
			FrequencyPenalty: r.FrequencyPenalty,
			PresencePenalty:  r.PresencePenalty,
		},
		TopK:           topK,
		ScoreThreshold: scoreThreshold,
		ChatHistory:    history,
		UseReranking:   useReranking,
		UseHybrid:      useHybrid,
	}
}

func newConversationID(requested string) string {
	if requested != "" {
		return requested
	}
	return uuid.NewString()
}

func (s *Server) handleCollections(c echo.Context) error {
	infos, err := s.Vectors.ListCollections(c.Request().Context())
	if err != nil {
		logging.Log.WithError(err).Error("httpapi: list collections")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list collections"})
	}
	out := make([]echo.Map, 0, len(infos))
	for _, info := range infos {
		out = append(out, echo.Map{
			"name":            info.Name,
			"points_count":    info.PointCount,
			"vector_size":     info.Dimension,
			"distance":        info.Distance,
			"is_owner":        true,
		})
	}
	return c.JSON(http.StatusOK, out)
}

// withTimeout bounds the request's server-side processing time so a hung
// upstream cannot pin an HTTP handler goroutine indefinitely.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 120 * time.Second
	}
	return context.WithTimeout(ctx, d)
}
