package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/rentledger/pkg/models"
	"github.com/mcclellann/rentledger/pkg/news"
	"github.com/mcclellann/rentledger/pkg/store"
	"github.com/shopspring/decimal"
)

func (s *Server) createNewsHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StoreID                uuid.UUID                 `json:"store_id"`
		Scope                  models.AdjustmentScope    `json:"scope"`
		LoanID                 *uuid.UUID                `json:"loan_id"`
		VehicleType            string                    `json:"vehicle_type"`
		Category               models.AdjustmentCategory `json:"category"`
		Description            string                    `json:"description"`
		StartDate              time.Time                 `json:"start_date"`
		EndDate                *time.Time                `json:"end_date"`
		DaysUnavailable        int                       `json:"days_unavailable"`
		AutoCalculate          *bool                     `json:"auto_calculate"`
		InstallmentsSubtracted decimal.Decimal           `json:"installments_subtracted"`
		AmountSubtracted       decimal.Decimal           `json:"amount_subtracted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	adj, err := s.news.Create(r.Context(), news.CreateInput{
		StoreID:                req.StoreID,
		Scope:                  req.Scope,
		LoanID:                 req.LoanID,
		VehicleType:            req.VehicleType,
		Category:               req.Category,
		Description:            req.Description,
		StartDate:              req.StartDate,
		EndDate:                req.EndDate,
		DaysUnavailable:        req.DaysUnavailable,
		Manual:                 req.AutoCalculate != nil && !*req.AutoCalculate,
		InstallmentsSubtracted: req.InstallmentsSubtracted,
		AmountSubtracted:       req.AmountSubtracted,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, adj)
}

func (s *Server) getNewsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "news")
	if !ok {
		return
	}
	adj, err := s.news.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, adj)
}

func (s *Server) listNewsHandler(w http.ResponseWriter, r *http.Request) {
	storeID, err := queryID(r, "store_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	loanID, err := queryID(r, "loan_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	list, err := s.news.List(r.Context(), store.AdjustmentFilter{
		StoreID:    storeID,
		LoanID:     loanID,
		ActiveOnly: r.URL.Query().Get("active") == "true",
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) listLoanNewsHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(w, r, "loan")
	if !ok {
		return
	}
	list, err := s.news.ListActiveForLoan(r.Context(), loanID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) updateNewsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "news")
	if !ok {
		return
	}
	var req struct {
		Category               *models.AdjustmentCategory `json:"category"`
		Description            *string                    `json:"description"`
		StartDate              *time.Time                 `json:"start_date"`
		EndDate                *time.Time                 `json:"end_date"`
		DaysUnavailable        *int                       `json:"days_unavailable"`
		InstallmentsSubtracted *decimal.Decimal           `json:"installments_subtracted"`
		AmountSubtracted       *decimal.Decimal           `json:"amount_subtracted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	adj, err := s.news.Update(r.Context(), id, news.UpdateInput{
		Category:               req.Category,
		Description:            req.Description,
		StartDate:              req.StartDate,
		EndDate:                req.EndDate,
		DaysUnavailable:        req.DaysUnavailable,
		InstallmentsSubtracted: req.InstallmentsSubtracted,
		AmountSubtracted:       req.AmountSubtracted,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, adj)
}

func (s *Server) deleteNewsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "news")
	if !ok {
		return
	}
	if err := s.news.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deactivateNewsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "news")
	if !ok {
		return
	}
	adj, err := s.news.Deactivate(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, adj)
}

func (s *Server) reapplyNewsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "news")
	if !ok {
		return
	}
	adj, err := s.news.Reapply(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, adj)
}

func (s *Server) listTracesHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "news")
	if !ok {
		return
	}
	list, err := s.news.ListTraces(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
