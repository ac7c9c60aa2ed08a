package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	gwerrors "github.com/pushchain/interaction-gateway/gateway/errors"
	"github.com/pushchain/interaction-gateway/gateway/sequencer"
)

const (
	maxBodyBytes     = 1 << 20
	defaultPeerLimit = 50
)

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// handleAcceptInteraction handles POST /api/v1/interactions
func (s *Server) handleAcceptInteraction(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, gwerrors.NewValidationError("request body too large or unreadable"))
		return
	}

	var in sequencer.IncomingTransaction
	if err := json.Unmarshal(body, &in); err != nil {
		s.writeError(w, gwerrors.NewValidationError("request body is not a valid transaction"))
		return
	}
	in.Raw = body

	created, err := s.gateway.AcceptIncoming(r.Context(), in)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, InteractionResponse{
		ID:              created.InteractionID,
		ContractID:      created.ContractID,
		SortKey:         created.SortKey,
		PreviousSortKey: created.PreviousSortKey,
		BlockHeight:     created.BlockHeight,
		BlockID:         created.BlockID,
	})
}

// handlePeers handles GET /api/v1/peers?limit=<n>
func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	limit := defaultPeerLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, gwerrors.NewValidationError("limit must be a positive integer"))
			return
		}
		limit = n
	}

	ranked, err := s.gateway.RankedPeers(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var lastUpdate time.Time
	for _, p := range ranked {
		if p.UpdatedAt.After(lastUpdate) {
			lastUpdate = p.UpdatedAt
		}
	}
	writeJSON(w, http.StatusOK, QueryResponse{Data: ranked, LastFetched: lastUpdate})
}

// handleChainHead handles GET /api/v1/chain-head
func (s *Server) handleChainHead(w http.ResponseWriter, r *http.Request) {
	head, ok := s.gateway.ChainHead()
	if !ok {
		s.writeError(w, gwerrors.New(gwerrors.ErrCodeNotFound, "chain head not known yet", nil))
		return
	}
	writeJSON(w, http.StatusOK, ChainHeadResponse{
		Height:         head.Height,
		BlockID:        head.BlockID,
		BlockTimestamp: head.BlockTimestamp,
		UpdatedAt:      head.UpdatedAt,
	})
}

// handleLastSortKey handles GET /api/v1/contracts/{id}/last-sort-key
func (s *Server) handleLastSortKey(w http.ResponseWriter, r *http.Request) {
	contractID := mux.Vars(r)["id"]
	key, err := s.gateway.LastSortKey(r.Context(), contractID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LastSortKeyResponse{ContractID: contractID, LastSortKey: key})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := gwerrors.StatusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Int("status", status).Msg("request failed")
	} else {
		s.logger.Debug().Err(err).Int("status", status).Msg("request rejected")
	}

	msg := err.Error()
	var gwErr *gwerrors.GatewayError
	if gwerrors.As(err, &gwErr) {
		msg = gwErr.Message
	}
	writeJSON(w, status, ErrorResponse{Error: msg, Code: string(gwerrors.CodeOf(err))})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
