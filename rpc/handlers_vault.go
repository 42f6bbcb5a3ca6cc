package rpc

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"zkusd/crypto"
	"zkusd/native/engine"
	"zkusd/state"
)

type amountPayload struct {
	Amount uint64 `json:"amount"`
}

type ownerPayload struct {
	NewOwner string `json:"newOwner"`
}

type vaultResponse struct {
	Address          string `json:"address"`
	Owner            string `json:"owner"`
	CollateralAmount uint64 `json:"collateralAmount"`
	DebtAmount       uint64 `json:"debtAmount"`
	HealthFactor     uint64 `json:"healthFactor"`
}

func (s *Server) decodeSigned(r *http.Request, req *SignedRequest) error {
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20)).Decode(req)
}

func vaultParam(r *http.Request) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(chi.URLParam(r, "address"))
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Array(), nil
}

func (s *Server) handleGetVault(w http.ResponseWriter, r *http.Request) {
	vaultAddr, err := vaultParam(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	var resp vaultResponse
	err = s.store.View(func(txn *state.Txn) error {
		mods := s.modules(txn)
		v, found, err := mods.engine.Vault(vaultAddr)
		if err != nil {
			return err
		}
		if !found {
			return engine.ErrVaultNotFound
		}
		price, err := mods.oracle.GetPrice(s.heights.Current())
		if err != nil {
			return err
		}
		health, err := v.HealthFactor(price)
		if err != nil {
			return err
		}
		resp = vaultResponse{
			Address:          crypto.NewAddress(crypto.VaultPrefix, vaultAddr[:]).String(),
			Owner:            crypto.NewAddress(crypto.ZKPrefix, v.Owner[:]).String(),
			CollateralAmount: v.CollateralAmount,
			DebtAmount:       v.DebtAmount,
			HealthFactor:     health,
		}
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateVault(w http.ResponseWriter, r *http.Request) {
	var req SignedRequest
	if err := s.decodeSigned(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request"})
		return
	}
	var vaultAddr [20]byte
	var recorder *recorderRef
	err := s.store.Update(func(txn *state.Txn) error {
		mods := s.modules(txn)
		recorder = &recorderRef{mods.recorder}
		caller, err := s.authenticate(txn, &req)
		if err != nil {
			return err
		}
		vaultAddr, err = mods.engine.CreateVault(caller)
		return err
	})
	s.metrics.RecordVaultOp("createVault", err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	recorder.flush(s)
	s.writeJSON(w, http.StatusCreated, map[string]string{
		"vault": crypto.NewAddress(crypto.VaultPrefix, vaultAddr[:]).String(),
	})
}

// vaultOp factors the shared shape of deposit/redeem/mint/burn.
func (s *Server) vaultOp(w http.ResponseWriter, r *http.Request, method string,
	op func(mods *modules, caller, vaultAddr [20]byte, amount uint64) error) {
	vaultAddr, err := vaultParam(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	var req SignedRequest
	if err := s.decodeSigned(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request"})
		return
	}
	var payload amountPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed payload"})
		return
	}
	var recorder *recorderRef
	err = s.store.Update(func(txn *state.Txn) error {
		mods := s.modules(txn)
		recorder = &recorderRef{mods.recorder}
		caller, err := s.authenticate(txn, &req)
		if err != nil {
			return err
		}
		return op(mods, caller, vaultAddr, payload.Amount)
	})
	s.metrics.RecordVaultOp(method, err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	recorder.flush(s)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.vaultOp(w, r, "depositCollateral", func(mods *modules, caller, vaultAddr [20]byte, amount uint64) error {
		return mods.engine.DepositCollateral(caller, vaultAddr, amount)
	})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	s.vaultOp(w, r, "redeemCollateral", func(mods *modules, caller, vaultAddr [20]byte, amount uint64) error {
		return mods.engine.RedeemCollateral(caller, vaultAddr, amount)
	})
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	s.vaultOp(w, r, "mintZkUsd", func(mods *modules, caller, vaultAddr [20]byte, amount uint64) error {
		return mods.engine.MintZkUsd(caller, vaultAddr, amount)
	})
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	s.vaultOp(w, r, "burnZkUsd", func(mods *modules, caller, vaultAddr [20]byte, amount uint64) error {
		return mods.engine.BurnZkUsd(caller, vaultAddr, amount)
	})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	vaultAddr, err := vaultParam(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	var req SignedRequest
	if err := s.decodeSigned(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request"})
		return
	}
	var recorder *recorderRef
	err = s.store.Update(func(txn *state.Txn) error {
		mods := s.modules(txn)
		recorder = &recorderRef{mods.recorder}
		caller, err := s.authenticate(txn, &req)
		if err != nil {
			return err
		}
		return mods.engine.Liquidate(caller, vaultAddr)
	})
	s.metrics.RecordVaultOp("liquidate", err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.RecordLiquidation()
	recorder.flush(s)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpdateOwner(w http.ResponseWriter, r *http.Request) {
	vaultAddr, err := vaultParam(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	var req SignedRequest
	if err := s.decodeSigned(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request"})
		return
	}
	var payload ownerPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed payload"})
		return
	}
	newOwner, err := crypto.DecodeAddress(payload.NewOwner)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	var recorder *recorderRef
	err = s.store.Update(func(txn *state.Txn) error {
		mods := s.modules(txn)
		recorder = &recorderRef{mods.recorder}
		caller, err := s.authenticate(txn, &req)
		if err != nil {
			return err
		}
		return mods.engine.UpdateVaultOwner(caller, vaultAddr, newOwner.Array())
	})
	s.metrics.RecordVaultOp("updateVaultOwner", err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	recorder.flush(s)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
