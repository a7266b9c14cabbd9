package httpapi

import (
	"net/http"
)

type userRequest struct {
	User string `json:"user"`
}

type setTargetRequest struct {
	User   string  `json:"user"`
	Target *string `json:"target"`
}

type offerRequest struct {
	User string `json:"user"`
	Item string `json:"item"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

type offerResponse struct {
	OK    bool     `json:"ok"`
	Offer []string `json:"offer"`
}

func (s *Server) setTarget(w http.ResponseWriter, r *http.Request) {
	var req setTargetRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid JSON body")
		return
	}
	if req.Target == nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "target is required")
		return
	}
	if err := s.tradeSvc.SetTarget(r.Context(), req.User, *req.Target); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) addOffer(w http.ResponseWriter, r *http.Request) {
	var req offerRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid JSON body")
		return
	}
	offer, err := s.tradeSvc.AddOfferItem(r.Context(), req.User, req.Item)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, offerResponse{OK: true, Offer: nonNil(offer)})
}

func (s *Server) removeOffer(w http.ResponseWriter, r *http.Request) {
	var req offerRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid JSON body")
		return
	}
	offer, err := s.tradeSvc.RemoveOfferItem(r.Context(), req.User, req.Item)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, offerResponse{OK: true, Offer: nonNil(offer)})
}

func (s *Server) accept(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid JSON body")
		return
	}
	if err := s.tradeSvc.Accept(r.Context(), req.User); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid JSON body")
		return
	}
	if err := s.tradeSvc.Reset(r.Context(), req.User); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	st, err := s.tradeSvc.Status(r.Context(), r.URL.Query().Get("user"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
