package rpc

import (
	"encoding/json"
	"net/http"

	"zkusd/crypto"
	"zkusd/native/admin"
	"zkusd/state"
)

func (s *Server) decodeAuthorization(r *http.Request) (*admin.Authorization, error) {
	auth := &admin.Authorization{}
	if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20)).Decode(auth); err != nil {
		return nil, err
	}
	return auth, nil
}

// adminOp runs an admin-authorized engine operation inside a transaction and
// reports the outcome.
func (s *Server) adminOp(w http.ResponseWriter, r *http.Request,
	op func(mods *modules, auth *admin.Authorization) error) {
	auth, err := s.decodeAuthorization(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request"})
		return
	}
	var recorder *recorderRef
	err = s.store.Update(func(txn *state.Txn) error {
		mods := s.modules(txn)
		recorder = &recorderRef{mods.recorder}
		return op(mods, auth)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	recorder.flush(s)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleToggleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	auth, err := s.decodeAuthorization(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request"})
		return
	}
	var halted bool
	var recorder *recorderRef
	err = s.store.Update(func(txn *state.Txn) error {
		mods := s.modules(txn)
		recorder = &recorderRef{mods.recorder}
		var err error
		halted, err = mods.engine.ToggleEmergencyStop(auth)
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	recorder.flush(s)
	s.writeJSON(w, http.StatusOK, map[string]bool{"emergencyStop": halted})
}

func (s *Server) handleUpdateAdmin(w http.ResponseWriter, r *http.Request) {
	s.adminOp(w, r, func(mods *modules, auth *admin.Authorization) error {
		var params struct {
			NewAdmin string `json:"newAdmin"`
		}
		if err := json.Unmarshal([]byte(auth.Action.Payload), &params); err != nil {
			return err
		}
		newAdmin, err := crypto.DecodeAddress(params.NewAdmin)
		if err != nil {
			return err
		}
		return mods.engine.UpdateAdmin(auth, newAdmin.Array())
	})
}

func (s *Server) handleUpdateOracleFee(w http.ResponseWriter, r *http.Request) {
	s.adminOp(w, r, func(mods *modules, auth *admin.Authorization) error {
		var params struct {
			Fee uint64 `json:"fee"`
		}
		if err := json.Unmarshal([]byte(auth.Action.Payload), &params); err != nil {
			return err
		}
		return mods.engine.UpdateOracleFee(auth, params.Fee)
	})
}

func (s *Server) handleDepositOracleFunds(w http.ResponseWriter, r *http.Request) {
	s.adminOp(w, r, func(mods *modules, auth *admin.Authorization) error {
		var params struct {
			Amount uint64 `json:"amount"`
		}
		if err := json.Unmarshal([]byte(auth.Action.Payload), &params); err != nil {
			return err
		}
		return mods.engine.DepositOracleFunds(auth, params.Amount)
	})
}

func (s *Server) handleUpdateWhitelist(w http.ResponseWriter, r *http.Request) {
	s.adminOp(w, r, func(mods *modules, auth *admin.Authorization) error {
		var params struct {
			Members []string `json:"members"`
		}
		if err := json.Unmarshal([]byte(auth.Action.Payload), &params); err != nil {
			return err
		}
		wl, err := decodeWhitelist(params.Members)
		if err != nil {
			return err
		}
		return mods.engine.UpdateOracleWhitelist(auth, wl)
	})
}

func (s *Server) handleUpdateFallbackPrice(w http.ResponseWriter, r *http.Request) {
	s.adminOp(w, r, func(mods *modules, auth *admin.Authorization) error {
		var params struct {
			Price uint64 `json:"price"`
		}
		if err := json.Unmarshal([]byte(auth.Action.Payload), &params); err != nil {
			return err
		}
		return mods.engine.UpdateFallbackPrice(auth, params.Price)
	})
}
