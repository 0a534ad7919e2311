// Package admin serves the HTTP API used to settle deposits and withdrawals
// outside of chat.
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"checkin-bot/internal/config"
	"checkin-bot/internal/ledger"
	"checkin-bot/internal/metrics"
	"checkin-bot/internal/models"
	"checkin-bot/internal/utils"
)

type Deposits interface {
	ApproveDeposit(ctx context.Context, actorID int64, recordID uint) (*models.TransactionRecord, error)
	RejectDeposit(ctx context.Context, actorID int64, recordID uint) (*models.TransactionRecord, error)
}

type Withdrawals interface {
	ApproveWithdrawal(ctx context.Context, actorID int64, recordID uint) (*models.TransactionRecord, error)
	RejectWithdrawal(ctx context.Context, actorID int64, recordID uint) (*models.TransactionRecord, error)
}

type DailyResetter interface {
	ResetDailyFlags(ctx context.Context) (int64, error)
}

type Server struct {
	store       ledger.Store
	deposits    Deposits
	withdrawals Withdrawals
	daily       DailyResetter
	admins      config.AdminSet
	token       string
	allow       *utils.AllowList
	metrics     *metrics.Collector
	log         *logrus.Entry
}

type Options struct {
	Admins  config.AdminSet
	Token   string
	Allow   *utils.AllowList
	Metrics *metrics.Collector
}

func NewServer(store ledger.Store, deposits Deposits, withdrawals Withdrawals, daily DailyResetter, opts Options, log *logrus.Entry) *Server {
	return &Server{
		store:       store,
		deposits:    deposits,
		withdrawals: withdrawals,
		daily:       daily,
		admins:      opts.Admins,
		token:       opts.Token,
		allow:       opts.Allow,
		metrics:     opts.Metrics,
		log:         log,
	}
}

type ctxKey struct{}

func actorFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(ctxKey{}).(int64)
	return id
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.allowIP)
		if s.metrics != nil {
			r.Handle("/metrics", s.metrics.Handler())
		}

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireToken)
			r.Use(s.requireAdmin)

			r.Get("/transactions", s.listTransactions)
			r.Post("/deposits/{id}/approve", s.resolve(s.deposits.ApproveDeposit))
			r.Post("/deposits/{id}/reject", s.resolve(s.deposits.RejectDeposit))
			r.Post("/withdrawals/{id}/approve", s.resolve(s.withdrawals.ApproveWithdrawal))
			r.Post("/withdrawals/{id}/reject", s.resolve(s.withdrawals.RejectWithdrawal))
			r.Post("/daily-reset", s.dailyReset)
			r.Get("/referrals/partial", s.partialReferrals)
		})
	})
	return r
}

// NewHTTPServer wraps the routes with the timeouts used in production.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"remote":     utils.RemoteIP(r),
			"request_id": middleware.GetReqID(r.Context()),
			"duration":   time.Since(start).String(),
		}).Info("admin request")
	})
}

func (s *Server) allowIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.allow == nil || !s.allow.Contains(utils.RemoteIP(r)) {
			writeError(w, http.StatusForbidden, "address not allowed")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if s.token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.Header.Get("X-Admin-ID"), 10, 64)
		if err != nil || !s.admins.Contains(id) {
			writeError(w, http.StatusForbidden, ledger.ErrForbidden.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

type transactionView struct {
	ID          uint       `json:"id"`
	UserID      int64      `json:"user_id"`
	Reference   string     `json:"reference"`
	Amount      string     `json:"amount"`
	Kind        string     `json:"kind"`
	Status      string     `json:"status"`
	Wallet      string     `json:"wallet,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy  *int64     `json:"resolved_by,omitempty"`
}

func viewOf(rec *models.TransactionRecord) transactionView {
	return transactionView{
		ID:          rec.ID,
		UserID:      rec.UserID,
		Reference:   rec.Reference,
		Amount:      rec.Amount.String(),
		Kind:        string(rec.Kind),
		Status:      string(rec.Status),
		Wallet:      rec.Wallet,
		SubmittedAt: rec.SubmittedAt,
		ResolvedAt:  rec.ResolvedAt,
		ResolvedBy:  rec.ResolvedBy,
	}
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	list, err := s.store.ListTransactions(r.Context(), ledger.TransactionFilter{
		Kind:   models.TransactionKind(strings.ToUpper(q.Get("kind"))),
		Status: models.TransactionStatus(strings.ToUpper(q.Get("status"))),
		Limit:  limit,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]transactionView, 0, len(list))
	for _, rec := range list {
		out = append(out, viewOf(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

type resolveFunc func(ctx context.Context, actorID int64, recordID uint) (*models.TransactionRecord, error)

func (s *Server) resolve(fn resolveFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid id")
			return
		}
		rec, err := fn(r.Context(), actorFrom(r.Context()), uint(id))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(rec))
	}
}

func (s *Server) dailyReset(w http.ResponseWriter, r *http.Request) {
	n, err := s.daily.ResetDailyFlags(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"reset": n})
}

type referralView struct {
	ID            uint      `json:"id"`
	ReferrerID    int64     `json:"referrer_id"`
	InvitedUserID int64     `json:"invited_user_id"`
	Status        string    `json:"status"`
	Error         string    `json:"error"`
	CreatedAt     time.Time `json:"created_at"`
}

func (s *Server) partialReferrals(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	out := []referralView{}
	for _, status := range []models.ReferralStatus{models.ReferralPartial, models.ReferralFailed} {
		list, err := s.store.ListReferrals(r.Context(), status, limit)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		for _, ev := range list {
			out = append(out, referralView{
				ID:            ev.ID,
				ReferrerID:    ev.ReferrerID,
				InvitedUserID: ev.InvitedUserID,
				Status:        string(ev.Status),
				Error:         ev.Error,
				CreatedAt:     ev.CreatedAt,
			})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrAlreadyResolved), errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInvalidFormat):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		s.log.WithContext(r.Context()).WithError(err).WithField("path", r.URL.Path).Error("admin request failed")
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
