package rpc

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"zkusd/crypto"
	"zkusd/native/oracle"
	"zkusd/state"
)

type submitPriceRequest struct {
	Submitter string   `json:"submitter"`
	Price     uint64   `json:"price"`
	Nonce     uint64   `json:"nonce"`
	Signature string   `json:"signature"`
	Whitelist []string `json:"whitelist"`
}

func decodeWhitelist(entries []string) (oracle.Whitelist, error) {
	members := make([][20]byte, 0, len(entries))
	for _, entry := range entries {
		addr, err := crypto.DecodeAddress(entry)
		if err != nil {
			return oracle.Whitelist{}, err
		}
		members = append(members, addr.Array())
	}
	return oracle.NewWhitelist(members...)
}

func (s *Server) handleSubmitPrice(w http.ResponseWriter, r *http.Request) {
	var req submitPriceRequest
	if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20)).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request"})
		return
	}
	submitter, err := crypto.DecodeAddress(req.Submitter)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(req.Signature), "0x"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed signature"})
		return
	}
	wl, err := decodeWhitelist(req.Whitelist)
	if err != nil {
		s.writeError(w, err)
		return
	}
	proof := &oracle.SubmissionProof{
		Submitter: submitter.Array(),
		Price:     req.Price,
		Nonce:     req.Nonce,
		Signature: sig,
	}
	if err := proof.Verify(); err != nil {
		s.metrics.RecordPriceSubmission(err)
		s.writeError(w, err)
		return
	}

	var recorder *recorderRef
	err = s.store.Update(func(txn *state.Txn) error {
		mods := s.modules(txn)
		recorder = &recorderRef{mods.recorder}
		account, err := txn.GetAccount(proof.Submitter)
		if err != nil {
			return err
		}
		if proof.Nonce != account.Nonce+1 {
			return ErrNonceMismatch
		}
		account.Nonce = proof.Nonce
		if err := txn.PutAccount(proof.Submitter, account); err != nil {
			return err
		}
		return mods.oracle.SubmitPrice(proof.Submitter, proof.Price, wl)
	})
	s.metrics.RecordPriceSubmission(err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	recorder.flush(s)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	height := s.heights.Current()
	var median uint64
	var recorder *recorderRef
	err := s.store.Update(func(txn *state.Txn) error {
		mods := s.modules(txn)
		recorder = &recorderRef{mods.recorder}
		var err error
		median, err = mods.oracle.SettlePriceUpdate(height)
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.RecordSettlement(median)
	recorder.flush(s)
	s.writeJSON(w, http.StatusOK, map[string]uint64{
		"price":  median,
		"height": height,
	})
}

func (s *Server) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	height := s.heights.Current()
	var price uint64
	err := s.store.View(func(txn *state.Txn) error {
		mods := s.modules(txn)
		var err error
		price, err = mods.oracle.GetPrice(height)
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]uint64{
		"price":  price,
		"height": height,
	})
}

func (s *Server) handleSupply(w http.ResponseWriter, r *http.Request) {
	var supply uint64
	err := s.store.View(func(txn *state.Txn) error {
		mods := s.modules(txn)
		var err error
		supply, err = mods.token.Circulating()
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.SetCirculatingSupply(supply)
	s.writeJSON(w, http.StatusOK, map[string]uint64{"supply": supply})
}

func (s *Server) handleProtocolStatus(w http.ResponseWriter, r *http.Request) {
	type statusResponse struct {
		Admin           string `json:"admin"`
		AdminNonce      uint64 `json:"adminNonce"`
		EmergencyStop   bool   `json:"emergencyStop"`
		OracleFlatFee   uint64 `json:"oracleFlatFee"`
		OracleFunds     uint64 `json:"oracleFunds"`
		TotalCollateral uint64 `json:"totalCollateral"`
	}
	var resp statusResponse
	err := s.store.View(func(txn *state.Txn) error {
		mods := s.modules(txn)
		record, err := mods.engine.Protocol()
		if err != nil {
			return err
		}
		resp = statusResponse{
			Admin:           crypto.NewAddress(crypto.ZKPrefix, record.Admin[:]).String(),
			AdminNonce:      record.AdminNonce,
			EmergencyStop:   record.EmergencyStop,
			OracleFlatFee:   record.OracleFlatFee,
			OracleFunds:     record.OracleFunds,
			TotalCollateral: record.TotalCollateral,
		}
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.SetTotalCollateral(resp.TotalCollateral)
	s.writeJSON(w, http.StatusOK, resp)
}
