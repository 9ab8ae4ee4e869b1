// ABOUTME: HTTP JSON API handlers over the conversation engine
// ABOUTME: The UI is a thin client of these endpoints; all state lives in the engine

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zapflow/zapflow/internal/auth"
	"github.com/zapflow/zapflow/internal/conversation"
	"github.com/zapflow/zapflow/internal/identity"
	"github.com/zapflow/zapflow/internal/store"
	"github.com/zapflow/zapflow/internal/webhook"
)

// maxBodySize caps request bodies; webhook payloads and messages are small.
const maxBodySize = 1 << 20

type ctxKey int

const sessionKey ctxKey = 0

// errorResponse is the JSON error body shape.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// LoginRequest is the JSON body for POST /api/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the session token and the authenticated user.
type LoginResponse struct {
	Token string      `json:"token"`
	User  *store.User `json:"user"`
}

// RegisterRequest is the JSON body for POST /api/register: a new tenant and
// its company admin in one step.
type RegisterRequest struct {
	CompanyName string `json:"companyName"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	Phone       string `json:"phone,omitempty"`
	BirthDate   string `json:"birthDate,omitempty"`
	Age         int    `json:"age,omitempty"`
	Profession  string `json:"profession,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// RegisterResponse carries the new session plus the created records.
type RegisterResponse struct {
	Token   string         `json:"token"`
	User    *store.User    `json:"user"`
	Company *store.Company `json:"company"`
}

// SendMessageRequest is the JSON body for POST /api/chats/{id}/messages.
type SendMessageRequest struct {
	Text           string `json:"text"`
	AttachmentURL  string `json:"attachmentUrl,omitempty"`
	AttachmentType string `json:"attachmentType,omitempty"`
}

// SetStatusRequest is the JSON body for POST /api/chats/{id}/status.
type SetStatusRequest struct {
	Status string `json:"status"`
}

// UpdateCRMRequest is the JSON body for PATCH /api/chats/{id}/crm.
// Absent fields are left untouched.
type UpdateCRMRequest struct {
	CustomerName      *string  `json:"customerName,omitempty"`
	CustomerPhone     *string  `json:"customerPhone,omitempty"`
	CustomerEmail     *string  `json:"customerEmail,omitempty"`
	CustomerCompany   *string  `json:"customerCompany,omitempty"`
	CustomerWebsite   *string  `json:"customerWebsite,omitempty"`
	CustomerInstagram *string  `json:"customerInstagram,omitempty"`
	CustomerValue     *float64 `json:"customerValue,omitempty"`
}

// ScheduleRequest is the JSON body for POST /api/scheduled.
type ScheduleRequest struct {
	CustomerName  string    `json:"customerName"`
	CustomerPhone string    `json:"customerPhone"`
	Text          string    `json:"text"`
	ScheduledDate time.Time `json:"scheduledDate"`
}

// AddAgentRequest is the JSON body for POST /api/users.
type AddAgentRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// ChangePasswordRequest is the JSON body for POST /api/users/{id}/password.
type ChangePasswordRequest struct {
	Password string `json:"password"`
}

// AddCompanyRequest is the JSON body for POST /api/companies.
type AddCompanyRequest struct {
	Name string `json:"name"`
}

// WebhookResponse reports where an inbound message landed.
type WebhookResponse struct {
	ChatID  string `json:"chatId"`
	Created bool   `json:"created"`
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !g.decode(w, r, &req) {
		return
	}

	user, err := g.identity.Authenticate(req.Email, req.Password)
	if err != nil {
		g.writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
		return
	}

	token, err := g.tokens.Issue(user.ID, user.Role)
	if err != nil {
		g.logger.Error("failed to issue token", "error", err)
		g.writeError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}

	user.Password = ""
	g.writeJSON(w, http.StatusOK, LoginResponse{Token: token, User: user})
}

func (g *Gateway) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !g.decode(w, r, &req) {
		return
	}
	if req.CompanyName == "" || req.Name == "" || req.Email == "" || req.Password == "" {
		g.writeError(w, http.StatusBadRequest, "bad_request", "companyName, name, email and password are required")
		return
	}

	user, company, err := g.identity.RegisterTenant(identity.TenantRegistration{
		CompanyName: req.CompanyName,
		Name:        req.Name,
		Email:       req.Email,
		Password:    req.Password,
		Phone:       req.Phone,
		BirthDate:   req.BirthDate,
		Age:         req.Age,
		Profession:  req.Profession,
		AvatarURL:   req.AvatarURL,
	})
	if errors.Is(err, identity.ErrEmailTaken) {
		g.writeError(w, http.StatusConflict, "email_taken", "email already registered")
		return
	}
	if err != nil {
		g.logger.Error("registration failed", "error", err)
		g.writeError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}

	token, err := g.tokens.Issue(user.ID, user.Role)
	if err != nil {
		g.logger.Error("failed to issue token", "error", err)
		g.writeError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}

	user.Password = ""
	g.writeJSON(w, http.StatusCreated, RegisterResponse{Token: token, User: user, Company: company})
}

func (g *Gateway) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		g.writeError(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}

	result, err := g.normalizer.Deliver(body)
	if errors.Is(err, webhook.ErrMalformedPayload) {
		g.writeError(w, http.StatusBadRequest, "malformed_payload", err.Error())
		return
	}
	if err != nil {
		g.logger.Error("webhook delivery failed", "error", err)
		g.writeError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}

	g.writeJSON(w, http.StatusOK, WebhookResponse{ChatID: result.ChatID, Created: result.Created})
}

func (g *Gateway) handleListChats(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, g.chats.Chats())
}

func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if !g.decode(w, r, &req) {
		return
	}

	sess := sessionFrom(r.Context())
	chatID := r.PathValue("id")

	var att *conversation.Attachment
	if req.AttachmentURL != "" {
		att = &conversation.Attachment{URL: req.AttachmentURL, Type: req.AttachmentType}
	}

	msg, err := g.chats.SendOperatorMessage(chatID, sess.UserID, req.Text, att)
	switch {
	case errors.Is(err, conversation.ErrChatNotFound):
		g.writeError(w, http.StatusNotFound, "chat_not_found", err.Error())
		return
	case errors.Is(err, conversation.ErrChatResolved):
		g.writeError(w, http.StatusConflict, "invalid_transition", err.Error())
		return
	case errors.Is(err, conversation.ErrEmptyMessage):
		g.writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	case err != nil:
		g.logger.Error("send failed", "error", err)
		g.writeError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}

	// Every operator send schedules exactly one simulated counter-reply.
	if g.cfg.Simulator.Enabled {
		g.simulator.Trigger(chatID)
	}

	g.writeJSON(w, http.StatusCreated, msg)
}

func (g *Gateway) handleSelectChat(w http.ResponseWriter, r *http.Request) {
	if err := g.chats.SelectChat(r.PathValue("id")); err != nil {
		g.writeError(w, http.StatusNotFound, "chat_not_found", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req SetStatusRequest
	if !g.decode(w, r, &req) {
		return
	}

	err := g.chats.SetStatus(r.PathValue("id"), req.Status)
	switch {
	case errors.Is(err, conversation.ErrInvalidStatus):
		g.writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, conversation.ErrChatNotFound):
		g.writeError(w, http.StatusNotFound, "chat_not_found", err.Error())
	case err != nil:
		g.writeError(w, http.StatusInternalServerError, "internal", "internal server error")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (g *Gateway) handleUpdateCRM(w http.ResponseWriter, r *http.Request) {
	var req UpdateCRMRequest
	if !g.decode(w, r, &req) {
		return
	}

	chat, err := g.chats.UpdateCRMFields(r.PathValue("id"), conversation.CRMFields{
		CustomerName:      req.CustomerName,
		CustomerPhone:     req.CustomerPhone,
		CustomerEmail:     req.CustomerEmail,
		CustomerCompany:   req.CustomerCompany,
		CustomerWebsite:   req.CustomerWebsite,
		CustomerInstagram: req.CustomerInstagram,
		CustomerValue:     req.CustomerValue,
	})
	if err != nil {
		g.writeError(w, http.StatusNotFound, "chat_not_found", err.Error())
		return
	}
	g.writeJSON(w, http.StatusOK, chat)
}

func (g *Gateway) handleListScheduled(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, g.scheduler.List())
}

func (g *Gateway) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if !g.decode(w, r, &req) {
		return
	}
	if req.Text == "" || req.ScheduledDate.IsZero() {
		g.writeError(w, http.StatusBadRequest, "bad_request", "text and scheduledDate are required")
		return
	}

	sess := sessionFrom(r.Context())
	msg := g.scheduler.Schedule(req.CustomerName, req.CustomerPhone, req.Text, req.ScheduledDate, sess.UserID)
	g.writeJSON(w, http.StatusCreated, msg)
}

func (g *Gateway) handleCancelScheduled(w http.ResponseWriter, r *http.Request) {
	if err := g.scheduler.Cancel(r.PathValue("id")); err != nil {
		g.writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users := g.identity.Users()
	for _, u := range users {
		u.Password = ""
	}
	g.writeJSON(w, http.StatusOK, users)
}

func (g *Gateway) handleAddAgent(w http.ResponseWriter, r *http.Request) {
	var req AddAgentRequest
	if !g.decode(w, r, &req) {
		return
	}

	sess := sessionFrom(r.Context())
	admin, err := g.identity.User(sess.UserID)
	if err != nil {
		g.writeError(w, http.StatusUnauthorized, "unauthorized", "unknown user")
		return
	}

	user, err := g.identity.AddAgent(admin.CompanyID, req.Name, req.Email, req.Phone, req.AvatarURL)
	switch {
	case errors.Is(err, identity.ErrCompanyFull):
		g.writeError(w, http.StatusConflict, "company_full", err.Error())
		return
	case errors.Is(err, identity.ErrEmailTaken):
		g.writeError(w, http.StatusConflict, "email_taken", err.Error())
		return
	case err != nil:
		g.writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	user.Password = ""
	g.writeJSON(w, http.StatusCreated, user)
}

func (g *Gateway) handleRemoveUser(w http.ResponseWriter, r *http.Request) {
	if err := g.identity.RemoveUser(r.PathValue("id")); err != nil {
		g.writeError(w, http.StatusNotFound, "user_not_found", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if !g.decode(w, r, &req) {
		return
	}
	if req.Password == "" {
		g.writeError(w, http.StatusBadRequest, "bad_request", "password is required")
		return
	}

	if err := g.identity.ChangePassword(r.PathValue("id"), req.Password); err != nil {
		g.writeError(w, http.StatusNotFound, "user_not_found", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleListCompanies(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, g.identity.Companies())
}

func (g *Gateway) handleAddCompany(w http.ResponseWriter, r *http.Request) {
	var req AddCompanyRequest
	if !g.decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		g.writeError(w, http.StatusBadRequest, "bad_request", "name is required")
		return
	}
	g.writeJSON(w, http.StatusCreated, g.identity.AddCompany(req.Name))
}

func (g *Gateway) handleDeleteCompany(w http.ResponseWriter, r *http.Request) {
	if err := g.identity.DeleteCompany(r.PathValue("id")); err != nil {
		g.writeError(w, http.StatusNotFound, "company_not_found", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleUpdateMeta(w http.ResponseWriter, r *http.Request) {
	var req store.MetaConfig
	if !g.decode(w, r, &req) {
		return
	}

	sess := sessionFrom(r.Context())
	admin, err := g.identity.User(sess.UserID)
	if err != nil || admin.CompanyID == "" {
		g.writeError(w, http.StatusUnauthorized, "unauthorized", "no company for user")
		return
	}

	if err := g.identity.UpdateMetaConfig(admin.CompanyID, req); err != nil {
		g.writeError(w, http.StatusNotFound, "company_not_found", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEvents streams engine events as SSE until the client disconnects.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.writeError(w, http.StatusInternalServerError, "internal", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	events, _ := g.bcast.Subscribe(r.Context())
	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("event: " + event.Type + "\ndata: " + string(data) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// requireAuth wraps a handler with bearer-token verification and stores the
// session in the request context.
func (g *Gateway) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			g.writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}

		sess, err := g.tokens.Verify(token)
		if err != nil {
			g.writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, sess)))
	})
}

// requireRole additionally restricts the handler to the given roles.
func (g *Gateway) requireRole(next http.HandlerFunc, roles ...string) http.Handler {
	return g.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFrom(r.Context())
		for _, role := range roles {
			if sess.Role == role {
				next.ServeHTTP(w, r)
				return
			}
		}
		g.writeError(w, http.StatusForbidden, "forbidden", "insufficient role")
	})
}

func sessionFrom(ctx context.Context) *auth.Session {
	if sess, ok := ctx.Value(sessionKey).(*auth.Session); ok {
		return sess
	}
	return &auth.Session{}
}

func (g *Gateway) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(v); err != nil {
		g.writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return false
	}
	return true
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

func (g *Gateway) writeError(w http.ResponseWriter, status int, code, message string) {
	g.writeJSON(w, status, errorResponse{Error: code, Message: message})
}
