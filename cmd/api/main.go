package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/rentledger/pkg/cache"
	"github.com/mcclellann/rentledger/pkg/clock"
	"github.com/mcclellann/rentledger/pkg/config"
	"github.com/mcclellann/rentledger/pkg/ledger"
	"github.com/mcclellann/rentledger/pkg/models"
	"github.com/mcclellann/rentledger/pkg/news"
	"github.com/mcclellann/rentledger/pkg/store"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Server holds the ledger and news services.
type Server struct {
	ledger  *ledger.Ledger
	news    *news.Service
	storage store.Storage // Keep a reference to the storage to close it
}

func NewServer(s store.Storage, l *ledger.Ledger) *Server {
	return &Server{
		ledger:  l,
		news:    news.NewService(s, l),
		storage: s,
	}
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	router.HandleFunc("/loans", s.createLoanHandler).Methods("POST")
	router.HandleFunc("/loans/status", s.listLoanStatusesHandler).Methods("GET")
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	router.HandleFunc("/loans/{id}", s.updateLoanHandler).Methods("PUT")
	router.HandleFunc("/loans/{id}", s.deleteLoanHandler).Methods("DELETE")
	router.HandleFunc("/loans/{id}/status", s.loanStatusHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/default", s.markDefaultedHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/installments", s.listInstallmentsHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/installments", s.postInstallmentHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/news", s.listLoanNewsHandler).Methods("GET")
	router.HandleFunc("/installments/{id}", s.getInstallmentHandler).Methods("GET")
	router.HandleFunc("/installments/{id}", s.removeInstallmentHandler).Methods("DELETE")

	router.HandleFunc("/news", s.listNewsHandler).Methods("GET")
	router.HandleFunc("/news", s.createNewsHandler).Methods("POST")
	router.HandleFunc("/news/{id}", s.getNewsHandler).Methods("GET")
	router.HandleFunc("/news/{id}", s.updateNewsHandler).Methods("PUT")
	router.HandleFunc("/news/{id}", s.deleteNewsHandler).Methods("DELETE")
	router.HandleFunc("/news/{id}/deactivate", s.deactivateNewsHandler).Methods("POST")
	router.HandleFunc("/news/{id}/reapply", s.reapplyNewsHandler).Methods("POST")
	router.HandleFunc("/news/{id}/traces", s.listTracesHandler).Methods("GET")

	return router
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps ledger error kinds to status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrConcurrencyConflict), errors.Is(err, ledger.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrExceedsDebt):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrInvalidScope),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidInstallment),
		errors.Is(err, ledger.ErrInvalidLoan),
		errors.Is(err, ledger.ErrInvalidDates),
		errors.Is(err, ledger.ErrInvalidAdjustment):
		status = http.StatusBadRequest
	default:
		log.Printf("[api] unexpected error: %v", err)
	}
	http.Error(w, err.Error(), status)
}

func pathID(w http.ResponseWriter, r *http.Request, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid %s ID", what), http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func queryID(r *http.Request, key string) (uuid.UUID, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s", key)
	}
	return id, nil
}

// asOf reads the as_of query parameter as a civil date in the business zone.
func (s *Server) asOf(r *http.Request) (*time.Time, error) {
	v := r.URL.Query().Get("as_of")
	if v == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, v, s.ledger.Clock().Location())
	if err != nil {
		return nil, fmt.Errorf("invalid as_of, want YYYY-MM-DD")
	}
	return &t, nil
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StoreID                  uuid.UUID               `json:"store_id"`
		ClientID                 uuid.UUID               `json:"client_id"`
		VehicleID                uuid.UUID               `json:"vehicle_id"`
		VehicleType              string                  `json:"vehicle_type"`
		TotalAmount              decimal.Decimal         `json:"total_amount"`
		DownPayment              decimal.Decimal         `json:"down_payment"`
		Installments             int                     `json:"installments"`
		InterestRate             decimal.Decimal         `json:"interest_rate"`
		InterestType             models.InterestType     `json:"interest_type"`
		PaymentFrequency         models.PaymentFrequency `json:"payment_frequency"`
		InstallmentPaymentAmount decimal.Decimal         `json:"installment_payment_amount"`
		GPSInstallmentPayment    decimal.Decimal         `json:"gps_installment_payment"`
		StartDate                time.Time               `json:"start_date"`
		EndDate                  *time.Time              `json:"end_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	loan, err := s.ledger.CreateLoan(r.Context(), ledger.CreateLoanInput{
		StoreID:                  req.StoreID,
		ClientID:                 req.ClientID,
		VehicleID:                req.VehicleID,
		VehicleType:              req.VehicleType,
		TotalAmount:              req.TotalAmount,
		DownPayment:              req.DownPayment,
		Installments:             req.Installments,
		InterestRate:             req.InterestRate,
		InterestType:             req.InterestType,
		PaymentFrequency:         req.PaymentFrequency,
		InstallmentPaymentAmount: req.InstallmentPaymentAmount,
		GPSInstallmentPayment:    req.GPSInstallmentPayment,
		StartDate:                req.StartDate,
		EndDate:                  req.EndDate,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(w, r, "loan")
	if !ok {
		return
	}
	loan, err := s.ledger.GetLoan(r.Context(), loanID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func loanFilter(r *http.Request) (store.LoanFilter, error) {
	q := r.URL.Query()
	storeID, err := queryID(r, "store_id")
	if err != nil {
		return store.LoanFilter{}, err
	}
	filter := store.LoanFilter{
		StoreID:         storeID,
		VehicleType:     q.Get("vehicle_type"),
		IncludeArchived: q.Get("include_archived") == "true",
	}
	for _, v := range q["status"] {
		st := models.LoanStatus(v)
		if !st.Valid() {
			return store.LoanFilter{}, fmt.Errorf("invalid status %q", v)
		}
		filter.Statuses = append(filter.Statuses, st)
	}
	for key, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if v := q.Get(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return store.LoanFilter{}, fmt.Errorf("invalid %s", key)
			}
			*dst = n
		}
	}
	return filter, nil
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	filter, err := loanFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	loans, err := s.ledger.ListLoans(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) updateLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(w, r, "loan")
	if !ok {
		return
	}
	var req struct {
		InstallmentPaymentAmount *decimal.Decimal     `json:"installment_payment_amount"`
		GPSInstallmentPayment    *decimal.Decimal     `json:"gps_installment_payment"`
		InterestRate             *decimal.Decimal     `json:"interest_rate"`
		InterestType             *models.InterestType `json:"interest_type"`
		EndDate                  *time.Time           `json:"end_date"`
		VehicleType              *string              `json:"vehicle_type"`
		Archived                 *bool                `json:"archived"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	loan, err := s.ledger.UpdateLoanTerms(r.Context(), loanID, ledger.UpdateTermsInput{
		InstallmentPaymentAmount: req.InstallmentPaymentAmount,
		GPSInstallmentPayment:    req.GPSInstallmentPayment,
		InterestRate:             req.InterestRate,
		InterestType:             req.InterestType,
		EndDate:                  req.EndDate,
		VehicleType:              req.VehicleType,
		Archived:                 req.Archived,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) deleteLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(w, r, "loan")
	if !ok {
		return
	}
	if err := s.ledger.DeleteLoan(r.Context(), loanID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) markDefaultedHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(w, r, "loan")
	if !ok {
		return
	}
	loan, err := s.ledger.MarkDefaulted(r.Context(), loanID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) loanStatusHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(w, r, "loan")
	if !ok {
		return
	}
	at, err := s.asOf(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	st, err := s.ledger.GetLoanStatus(r.Context(), loanID, at)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) listLoanStatusesHandler(w http.ResponseWriter, r *http.Request) {
	filter, err := loanFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	at, err := s.asOf(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	list, err := s.ledger.ListLoanStatuses(r.Context(), filter, at)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) postInstallmentHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(w, r, "loan")
	if !ok {
		return
	}
	var req struct {
		StoreID            uuid.UUID            `json:"store_id"`
		Amount             decimal.Decimal      `json:"amount"`
		GPS                decimal.Decimal      `json:"gps"`
		PaymentMethod      models.PaymentMethod `json:"payment_method"`
		PaymentDate        *time.Time           `json:"payment_date"`
		IsLate             bool                 `json:"is_late"`
		LatePaymentDate    *time.Time           `json:"late_payment_date"`
		IsAdvance          bool                 `json:"is_advance"`
		AdvancePaymentDate *time.Time           `json:"advance_payment_date"`
		ClosingID          *uuid.UUID           `json:"closing_id"`
		Notes              string               `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	in := ledger.PostInstallmentInput{
		LoanID:             loanID,
		StoreID:            req.StoreID,
		Amount:             req.Amount,
		GPS:                req.GPS,
		PaymentMethod:      req.PaymentMethod,
		IsLate:             req.IsLate,
		LatePaymentDate:    req.LatePaymentDate,
		IsAdvance:          req.IsAdvance,
		AdvancePaymentDate: req.AdvancePaymentDate,
		ClosingID:          req.ClosingID,
		Notes:              req.Notes,
	}
	if req.PaymentDate != nil {
		in.PaymentDate = *req.PaymentDate
	}
	loan, inst, err := s.ledger.PostInstallment(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"loan": loan, "installment": inst})
}

func (s *Server) listInstallmentsHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(w, r, "loan")
	if !ok {
		return
	}
	list, err := s.ledger.ListInstallments(r.Context(), loanID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getInstallmentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "installment")
	if !ok {
		return
	}
	inst, err := s.ledger.GetInstallment(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) removeInstallmentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "installment")
	if !ok {
		return
	}
	loan, err := s.ledger.RemoveInstallment(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func openStorage(cfg *config.Config) (store.Storage, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		return store.NewPostgresStore(cfg.DatabaseDSN)
	case config.DriverMemory:
		return store.NewMemoryStore(), nil
	}
	return store.NewSQLiteStore(cfg.SQLitePath)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	clk, err := clock.New(cfg.Timezone)
	if err != nil {
		log.Fatalf("Failed to load business timezone: %v", err)
	}

	storage, err := openStorage(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize %s store: %v", cfg.StoreDriver, err)
	}
	defer storage.Close()

	opts := []ledger.Option{ledger.WithMaxRetries(cfg.MaxRetries)}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: 0})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis: %v", err)
		}
		cancel()
		defer rdb.Close()
		opts = append(opts, ledger.WithStatusCache(cache.NewRedisStatusCache(rdb, cfg.StatusCacheTTL)))
	}

	server := NewServer(storage, ledger.NewLedger(storage, clk, opts...))
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("Server starting on %s (%s store, zone %s)", cfg.HTTPAddr, cfg.StoreDriver, cfg.Timezone)
	log.Fatal(srv.ListenAndServe())
}
