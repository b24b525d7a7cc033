// SPDX-License-Identifier: GPL-3.0-or-later
package api

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/CrawX/go-imap-phishguard/broadcaster"
	"github.com/CrawX/go-imap-phishguard/classifier/rules"
	"github.com/CrawX/go-imap-phishguard/domain"
	"github.com/CrawX/go-imap-phishguard/imapsync"
	"github.com/CrawX/go-imap-phishguard/log"
	"github.com/CrawX/go-imap-phishguard/orchestrator"

	"github.com/sirupsen/logrus"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	snippetLength    = 120
	PingInterval     = 20 * time.Second
)

type Store interface {
	domain.SettingsStore
	Message(ctx context.Context, id int64) (*domain.Message, error)
	ListMessages(ctx context.Context, filter domain.MessageFilter) iter.Seq2[*domain.Message, error]
	Stats(ctx context.Context, userId int64) (domain.Stats, error)
	Account(ctx context.Context, id int64) (*domain.Account, error)
	DeleteAccount(ctx context.Context, id int64) error
	WhitelistRules(ctx context.Context) ([]domain.WhitelistRule, error)
	AddWhitelistRule(ctx context.Context, rule domain.WhitelistRule) error
}

type Detector interface {
	Redetect(ctx context.Context, messageId int64) error
	RedetectAll(ctx context.Context) (int, error)
	Stats() orchestrator.Stats
}

type Syncer interface {
	Trigger(ctx context.Context, accountId int64) error
	States() []imapsync.AccountState
}

type Credentials interface {
	RemovePassword(account *domain.Account) error
}

type Subscriber interface {
	Subscribe(userId int64) (*broadcaster.Subscription, error)
}

type Server struct {
	store    Store
	detector Detector
	scorer   domain.Scorer
	syncer   Syncer
	events   Subscriber
	auth     Authenticator
	secrets  Credentials

	pingInterval time.Duration
	mux          *http.ServeMux

	l *logrus.Logger
}

func NewServer(store Store, detector Detector, scorer domain.Scorer, syncer Syncer, events Subscriber, auth Authenticator, secrets Credentials, metrics http.Handler) *Server {
	s := &Server{
		store:        store,
		detector:     detector,
		scorer:       scorer,
		syncer:       syncer,
		events:       events,
		auth:         auth,
		secrets:      secrets,
		pingInterval: PingInterval,
		l:            log.Logger(log.LOG_API),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /emails", s.authenticated(s.handleEmails))
	mux.HandleFunc("GET /emails/{id}", s.authenticated(s.handleEmail))
	mux.HandleFunc("POST /emails/{id}/redetect", s.authenticated(s.handleRedetect))
	mux.HandleFunc("POST /phishing/verify-link", s.authenticated(s.handleVerifyLink))
	mux.HandleFunc("GET /phishing/stats", s.authenticated(s.handleStats))
	mux.HandleFunc("GET /phishing/model", s.authenticated(s.handleModel))
	mux.HandleFunc("POST /phishing/reload-model", s.admin(s.handleReloadModel))
	mux.HandleFunc("POST /accounts/{id}/sync", s.authenticated(s.handleSync))
	mux.HandleFunc("POST /admin/redetect", s.admin(s.handleRedetectAll))
	mux.HandleFunc("GET /admin/settings", s.admin(s.handleSettings))
	mux.HandleFunc("PUT /admin/settings", s.admin(s.handleSaveSettings))
	mux.HandleFunc("GET /admin/sync", s.admin(s.handleSyncStates))
	mux.HandleFunc("GET /admin/whitelist", s.admin(s.handleWhitelist))
	mux.HandleFunc("POST /admin/whitelist", s.admin(s.handleAddWhitelist))
	mux.HandleFunc("DELETE /admin/accounts/{id}", s.admin(s.handleDeleteAccount))
	mux.HandleFunc("GET /events", s.authenticated(s.handleStream))
	mux.HandleFunc("GET /health", s.handleHealth)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	s.mux = mux

	return s
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)
	s.l.WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path, "status": rec.status, "duration": time.Since(start)}).Debug("Handled request")
}

type emailItem struct {
	Id             int64     `json:"id"`
	EmailAccountId int64     `json:"email_account_id"`
	MailboxId      int64     `json:"mailbox_id"`
	Subject        string    `json:"subject"`
	Sender         string    `json:"sender"`
	Snippet        string    `json:"snippet"`
	ReceivedAt     time.Time `json:"received_at"`
	IsRead         bool      `json:"is_read"`
	PhishingLevel  string    `json:"phishing_level"`
	PhishingScore  float64   `json:"phishing_score"`
	PhishingStatus string    `json:"phishing_status"`
}

type emailDetail struct {
	emailItem
	MessageId      string   `json:"message_id"`
	Recipients     []string `json:"recipients"`
	ContentText    string   `json:"content_text"`
	ContentHtml    string   `json:"content_html"`
	PhishingReason string   `json:"phishing_reason"`
}

func toItem(m *domain.Message) emailItem {
	return emailItem{
		Id:             m.Id,
		EmailAccountId: m.AccountId,
		MailboxId:      m.MailboxId,
		Subject:        m.Subject,
		Sender:         m.Sender,
		Snippet:        snippet(m.TextBody),
		ReceivedAt:     m.ReceivedAt,
		IsRead:         m.Flags.Seen,
		PhishingLevel:  string(m.Classification.Level),
		PhishingScore:  m.Classification.Score,
		PhishingStatus: string(m.Classification.Status),
	}
}

func snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) > snippetLength {
		return string(runes[:snippetLength]) + "..."
	}
	return text
}

func (s *Server) handleEmails(w http.ResponseWriter, r *http.Request, identity *Identity) {
	query := r.URL.Query()
	filter := domain.MessageFilter{UserId: identity.UserId, Limit: defaultListLimit}

	if raw := query.Get("status"); raw != "" {
		status, err := domain.ParseStatus(raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Status = status
	}
	if raw := query.Get("level"); raw != "" {
		level, err := domain.ParseLevel(raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Level = level
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = min(limit, maxListLimit)
	}
	if raw := query.Get("after"); raw != "" {
		after, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || after < 0 {
			s.respondError(w, http.StatusBadRequest, "invalid after")
			return
		}
		filter.AfterId = after
	}

	emails := []emailItem{}
	for m, err := range s.store.ListMessages(r.Context(), filter) {
		if err != nil {
			s.l.WithFields(logrus.Fields{"user": identity.UserId, "error": err}).Error("Could not list emails")
			s.respondError(w, http.StatusInternalServerError, "unable to list emails")
			return
		}
		emails = append(emails, toItem(m))
	}

	s.respondJSON(w, http.StatusOK, struct {
		Success bool        `json:"success"`
		Emails  []emailItem `json:"emails"`
		Total   int         `json:"total"`
	}{true, emails, len(emails)})
}

// ownMessage loads a message of the caller, other users' messages are
// reported as not found.
func (s *Server) ownMessage(w http.ResponseWriter, r *http.Request, identity *Identity) (*domain.Message, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid email id")
		return nil, false
	}
	return s.ownMessageById(w, r, identity, id)
}

func (s *Server) ownMessageById(w http.ResponseWriter, r *http.Request, identity *Identity, id int64) (*domain.Message, bool) {
	m, err := s.store.Message(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && m.UserId != identity.UserId && !identity.Admin) {
		s.respondError(w, http.StatusNotFound, "email not found")
		return nil, false
	}
	if err != nil {
		s.l.WithFields(logrus.Fields{"email": id, "error": err}).Error("Could not load email")
		s.respondError(w, http.StatusInternalServerError, "unable to load email")
		return nil, false
	}
	return m, true
}

func (s *Server) handleEmail(w http.ResponseWriter, r *http.Request, identity *Identity) {
	m, ok := s.ownMessage(w, r, identity)
	if !ok {
		return
	}

	s.respondJSON(w, http.StatusOK, struct {
		Success bool        `json:"success"`
		Email   emailDetail `json:"email"`
	}{true, emailDetail{
		emailItem:      toItem(m),
		MessageId:      m.MessageId,
		Recipients:     m.Recipients,
		ContentText:    m.TextBody,
		ContentHtml:    m.HtmlBody,
		PhishingReason: m.Classification.Reason,
	}})
}

func (s *Server) handleRedetect(w http.ResponseWriter, r *http.Request, identity *Identity) {
	m, ok := s.ownMessage(w, r, identity)
	if !ok {
		return
	}

	err := s.detector.Redetect(r.Context(), m.Id)
	if err != nil {
		s.l.WithFields(logrus.Fields{"email": m.Id, "error": err}).Error("Could not redetect email")
		s.respondError(w, http.StatusInternalServerError, "unable to redetect email")
		return
	}

	s.respondJSON(w, http.StatusAccepted, response{Success: true, Message: "email queued for detection"})
}

type verifyLinkRequest struct {
	EmailId   int64  `json:"email_id"`
	LinkUrl   string `json:"link_url"`
	StudentId string `json:"student_id"`
}

type verifyLinkResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	LinkUrl string `json:"link_url,omitempty"`
}

// handleVerifyLink reveals a link of a flagged email once the caller confirmed
// their student id.
func (s *Server) handleVerifyLink(w http.ResponseWriter, r *http.Request, identity *Identity) {
	request := verifyLinkRequest{}
	err := json.NewDecoder(r.Body).Decode(&request)
	if err != nil || request.LinkUrl == "" {
		s.respondError(w, http.StatusBadRequest, "invalid request")
		return
	}

	m, ok := s.ownMessageById(w, r, identity, request.EmailId)
	if !ok {
		return
	}

	contained := false
	for _, link := range rules.ExtractLinks(m.TextBody, m.HtmlBody) {
		if link.Url == request.LinkUrl {
			contained = true
			break
		}
	}
	if !contained {
		s.respondError(w, http.StatusNotFound, "link not found in email")
		return
	}

	if identity.StudentId == "" || !subtleEqual(request.StudentId, identity.StudentId) {
		s.l.WithFields(logrus.Fields{"user": identity.UserId, "email": m.Id}).Info("Rejected link verification")
		s.respondJSON(w, http.StatusOK, verifyLinkResponse{Success: false, Message: "student id verification failed"})
		return
	}

	s.l.WithFields(logrus.Fields{"user": identity.UserId, "email": m.Id, "level": m.Classification.Level}).Info("Revealed link")
	s.respondJSON(w, http.StatusOK, verifyLinkResponse{Success: true, Message: "verified, visit the link with care", LinkUrl: request.LinkUrl})
}

type statsResponse struct {
	Success         bool                `json:"success"`
	TotalEmails     int                 `json:"total_emails"`
	NormalCount     int                 `json:"normal_count"`
	SuspiciousCount int                 `json:"suspicious_count"`
	HighRiskCount   int                 `json:"high_risk_count"`
	PendingCount    *int                `json:"pending_count,omitempty"`
	CompletedCount  *int                `json:"completed_count,omitempty"`
	FailedCount     *int                `json:"failed_count,omitempty"`
	Detection       *orchestrator.Stats `json:"detection,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, identity *Identity) {
	userId := identity.UserId
	if identity.Admin {
		userId = 0
	}

	stats, err := s.store.Stats(r.Context(), userId)
	if err != nil {
		s.l.WithFields(logrus.Fields{"user": identity.UserId, "error": err}).Error("Could not load stats")
		s.respondError(w, http.StatusInternalServerError, "unable to load stats")
		return
	}

	resp := statsResponse{
		Success:         true,
		TotalEmails:     stats.Total,
		NormalCount:     stats.Normal,
		SuspiciousCount: stats.Suspicious,
		HighRiskCount:   stats.HighRisk,
	}
	if identity.Admin {
		detection := s.detector.Stats()
		resp.PendingCount = &stats.Pending
		resp.CompletedCount = &stats.Completed
		resp.FailedCount = &stats.Failed
		resp.Detection = &detection
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleModel(w http.ResponseWriter, _ *http.Request, _ *Identity) {
	s.respondJSON(w, http.StatusOK, s.scorer.ModelInfo())
}

func (s *Server) handleReloadModel(w http.ResponseWriter, r *http.Request, _ *Identity) {
	err := s.scorer.Reload(r.Context())
	info := s.scorer.ModelInfo()
	if err != nil {
		s.l.WithFields(logrus.Fields{"version": info.Version, "error": err}).Error("Could not reload model")
		s.respondJSON(w, http.StatusInternalServerError, struct {
			Success bool             `json:"success"`
			Message string           `json:"message"`
			Model   domain.ModelInfo `json:"model"`
		}{false, err.Error(), info})
		return
	}

	s.respondJSON(w, http.StatusOK, struct {
		Success bool             `json:"success"`
		Model   domain.ModelInfo `json:"model"`
	}{true, info})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request, identity *Identity) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	account, err := s.store.Account(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && account.UserId != identity.UserId && !identity.Admin) {
		s.respondError(w, http.StatusNotFound, "account not found")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "unable to load account")
		return
	}

	err = s.syncer.Trigger(r.Context(), account.Id)
	switch {
	case errors.Is(err, imapsync.ErrAlreadyRunning):
		s.respondError(w, http.StatusConflict, "sync already running")
	case errors.Is(err, imapsync.ErrNotRunning):
		s.respondError(w, http.StatusServiceUnavailable, "sync is not available")
	case err != nil:
		s.l.WithFields(logrus.Fields{"account": account.Id, "error": err}).Error("Could not trigger sync")
		s.respondError(w, http.StatusInternalServerError, "unable to trigger sync")
	default:
		s.respondJSON(w, http.StatusAccepted, response{Success: true, Message: "sync started"})
	}
}

func (s *Server) handleRedetectAll(w http.ResponseWriter, r *http.Request, identity *Identity) {
	enqueued, err := s.detector.RedetectAll(r.Context())
	if err != nil {
		s.l.WithFields(logrus.Fields{"error": err}).Error("Could not redetect all emails")
		s.respondError(w, http.StatusInternalServerError, "unable to redetect emails")
		return
	}

	s.l.WithFields(logrus.Fields{"user": identity.UserId, "enqueued": enqueued}).Info("Started redetection of all emails")
	s.respondJSON(w, http.StatusAccepted, struct {
		Success  bool `json:"success"`
		Enqueued int  `json:"enqueued"`
	}{true, enqueued})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request, _ *Identity) {
	settings, err := s.store.Settings(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "unable to load settings")
		return
	}
	s.respondJSON(w, http.StatusOK, settings)
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request, identity *Identity) {
	body := struct {
		LongUrlDetection *bool `json:"long_url_detection"`
	}{}
	err := json.NewDecoder(r.Body).Decode(&body)
	if err != nil || body.LongUrlDetection == nil {
		s.respondError(w, http.StatusBadRequest, "long_url_detection must be a boolean")
		return
	}

	settings := domain.Settings{LongUrlDetection: *body.LongUrlDetection}
	err = s.store.SaveSettings(r.Context(), settings)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "unable to save settings")
		return
	}

	s.l.WithFields(logrus.Fields{"user": identity.UserId, "long_url_detection": settings.LongUrlDetection}).Info("Changed settings")
	s.respondJSON(w, http.StatusOK, settings)
}

func (s *Server) handleSyncStates(w http.ResponseWriter, _ *http.Request, _ *Identity) {
	s.respondJSON(w, http.StatusOK, s.syncer.States())
}

type whitelistRule struct {
	Scope string `json:"scope"`
	Match string `json:"match_type"`
	Value string `json:"value"`
}

func (s *Server) handleWhitelist(w http.ResponseWriter, r *http.Request, _ *Identity) {
	stored, err := s.store.WhitelistRules(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "unable to load whitelist")
		return
	}

	rules := make([]whitelistRule, 0, len(stored))
	for _, rule := range stored {
		rules = append(rules, whitelistRule{Scope: string(rule.Scope), Match: string(rule.Match), Value: rule.Value})
	}
	s.respondJSON(w, http.StatusOK, struct {
		Success bool            `json:"success"`
		Rules   []whitelistRule `json:"rules"`
	}{true, rules})
}

// handleAddWhitelist stores a rule. It applies to messages classified after
// the change; POST /admin/redetect reclassifies the existing ones.
func (s *Server) handleAddWhitelist(w http.ResponseWriter, r *http.Request, identity *Identity) {
	body := whitelistRule{}
	err := json.NewDecoder(r.Body).Decode(&body)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid whitelist rule")
		return
	}

	scope, err := domain.ParseScope(body.Scope)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	match, err := domain.ParseMatchType(body.Match)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	value := strings.ToLower(strings.TrimSpace(body.Value))
	if value == "" {
		s.respondError(w, http.StatusBadRequest, "value must not be empty")
		return
	}

	rule := domain.WhitelistRule{Scope: scope, Match: match, Value: value}
	err = s.store.AddWhitelistRule(r.Context(), rule)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "unable to save whitelist rule")
		return
	}

	s.l.WithFields(logrus.Fields{"user": identity.UserId, "scope": scope, "match": match, "value": value}).Info("Added whitelist rule")
	s.respondJSON(w, http.StatusCreated, whitelistRule{Scope: string(scope), Match: string(match), Value: value})
}

// handleDeleteAccount removes an account with its mailboxes and messages and
// forgets its stored password. Accounts listed in the configuration are
// registered again on the next start.
func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request, identity *Identity) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	account, err := s.store.Account(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "account not found")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "unable to load account")
		return
	}

	err = s.store.DeleteAccount(r.Context(), account.Id)
	if err != nil {
		s.l.WithFields(logrus.Fields{"account": account.Id, "error": err}).Error("Could not delete account")
		s.respondError(w, http.StatusInternalServerError, "unable to delete account")
		return
	}

	err = s.secrets.RemovePassword(account)
	if err != nil {
		s.l.WithFields(logrus.Fields{"account": account.Id, "error": err}).Warn("Could not remove credential of deleted account")
	}

	s.l.WithFields(logrus.Fields{"user": identity.UserId, "account": account.Id, "address": account.Address}).Info("Deleted account")
	s.respondJSON(w, http.StatusOK, response{Success: true, Message: "account deleted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, response{Success: false, Message: message})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
