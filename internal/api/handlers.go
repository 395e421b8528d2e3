package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"Feelan-Chain/internal/auth"
	"Feelan-Chain/internal/conversation"
	"Feelan-Chain/internal/dispatch"
)

// loginRequest 对应 POST /api/login 的请求体。userId 即钱包地址。
type loginRequest struct {
	UserID    string `json:"userId"`
	Signature string `json:"signature"`
	Message   string `json:"message"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "Invalid request body."})
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"msg": "Missing userId"})
		return
	}

	pair, err := s.auth.Login(r.Context(), auth.LoginRequest{
		Address:   req.UserID,
		Message:   req.Message,
		Signature: req.Signature,
	})
	if err != nil {
		if errors.Is(err, auth.ErrInvalidSignature) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"success": false,
				"message": "Signature verification failed.",
			})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"message": "An error occurred during signature verification.",
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"access_token": pair.AccessToken})
}

// sendMessageRequest 对应 POST /api/send-message 的请求体。
type sendMessageRequest struct {
	UserID         string `json:"userId"`
	AccountAddress string `json:"accountAddress"`
	AccountName    string `json:"accountName"`
	ConversationID string `json:"conversationId"`
	Timestamp      int64  `json:"timestamp"`
	UserMessage    string `json:"user_message"`
	Command        string `json:"command"`
	Name           string `json:"name"`
	IsNFT          bool   `json:"isNFT"`
	Shelved        bool   `json:"shelved"`
	TokenURI       string `json:"tokenURI"`
	Type           string `json:"type"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "Invalid request body."})
		return
	}
	if !s.subjectMatches(r, req.UserID) {
		writeJSON(w, http.StatusForbidden, map[string]any{"success": false, "message": "Token subject does not match userId."})
		return
	}

	response, err := s.dispatcher.Handle(r.Context(), dispatch.TurnRequest{
		UserID:         req.UserID,
		AccountAddress: req.AccountAddress,
		AccountName:    req.AccountName,
		ConversationID: req.ConversationID,
		Timestamp:      req.Timestamp,
		Message:        req.UserMessage,
		Command:        dispatch.Command(req.Command),
		Name:           req.Name,
		IsNFT:          req.IsNFT,
		Shelved:        req.Shelved,
		TokenURI:       req.TokenURI,
		Type:           req.Type,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"response": response})
}

// metaUpdateRequest 对应 POST /api/meta-update 的请求体。
type metaUpdateRequest struct {
	ID       string `json:"id"`
	UserID   string `json:"userId"`
	Name     string `json:"name"`
	IsNFT    bool   `json:"isNFT"`
	Shelved  bool   `json:"shelved"`
	TokenURI string `json:"tokenURI"`
}

func (s *Server) handleMetaUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	var req metaUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "Invalid request body."})
		return
	}
	if !s.subjectMatches(r, req.UserID) {
		writeJSON(w, http.StatusForbidden, map[string]any{"success": false, "message": "Token subject does not match userId."})
		return
	}

	_, err := conversation.Apply(r.Context(), s.store, req.UserID, func(doc *conversation.UserDocument) error {
		return doc.UpdateMeta(req.ID, conversation.MetaUpdate{
			Name:     &req.Name,
			IsNFT:    &req.IsNFT,
			Shelved:  &req.Shelved,
			TokenURI: &req.TokenURI,
		})
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"response": "updated metadata"})
}

// retrieveAllRequest 对应 POST /api/retrieveAll 的请求体。
type retrieveAllRequest struct {
	UserID string `json:"userId"`
}

func (s *Server) handleRetrieveAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	var req retrieveAllRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "Invalid request body."})
		return
	}
	if !s.subjectMatches(r, req.UserID) {
		writeJSON(w, http.StatusForbidden, map[string]any{"success": false, "message": "Token subject does not match userId."})
		return
	}

	doc, err := s.store.Load(r.Context(), req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"response": doc.Conversations})
}

// convSummaryRequest 对应 POST /api/conv-summary 的请求体。
type convSummaryRequest struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
}

func (s *Server) handleConvSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	var req convSummaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "Invalid request body."})
		return
	}
	if !s.subjectMatches(r, req.UserID) {
		writeJSON(w, http.StatusForbidden, map[string]any{"success": false, "message": "Token subject does not match userId."})
		return
	}

	conv, err := s.dispatcher.Summarize(r.Context(), req.UserID, req.ConversationID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"response": conv})
}

// subjectMatches 校验令牌主体与请求声明的 userId 一致。认证关闭时
// 直接放行。
func (s *Server) subjectMatches(r *http.Request, userID string) bool {
	if s.auth == nil || s.auth.Mode() == auth.ModeDisabled {
		return true
	}
	subject := auth.SubjectFromContext(r.Context())
	return subject != nil && strings.EqualFold(subject.Address, userID)
}
