package api

import (
	"fmt"
	"net/http"
)

const defaultValidationCount = 100

type addMinerRequest struct {
	Name      string `json:"name"`
	HashPower int    `json:"hash_power"`
}

type addValidatorRequest struct {
	Name  string `json:"name"`
	Stake int    `json:"stake"`
}

type validateMultipleRequest struct {
	Count *int `json:"count"`
}

func (s *Server) handlePoWMine(w http.ResponseWriter, r *http.Request) {
	res, err := s.engines.PoW.Mine(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, res, fmt.Sprintf("Block %d mined by %s", res.Block.Index, res.Winner))
}

func (s *Server) handlePoWBlockchain(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.engines.PoW.Blockchain())
}

func (s *Server) handlePoWMiners(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.engines.PoW.Miners())
}

func (s *Server) handlePoWAddMiner(w http.ResponseWriter, r *http.Request) {
	var req addMinerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	miner, err := s.engines.PoW.AddMiner(req.Name, req.HashPower)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, miner)
}

func (s *Server) handlePoWReset(w http.ResponseWriter, r *http.Request) {
	s.engines.PoW.Reset()
	writeMessage(w, nil, "PoW simulator has been reset")
}

func (s *Server) handlePoSValidate(w http.ResponseWriter, r *http.Request) {
	res, err := s.engines.PoS.Validate()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, res)
}

func (s *Server) handlePoSValidateMultiple(w http.ResponseWriter, r *http.Request) {
	var req validateMultipleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	count := defaultValidationCount
	if req.Count != nil {
		count = *req.Count
	}

	summary, err := s.engines.PoS.ValidateMany(count)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, summary)
}

func (s *Server) handlePoSValidators(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engines.PoS.Stats()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, stats)
}

func (s *Server) handlePoSAddValidator(w http.ResponseWriter, r *http.Request) {
	var req addValidatorRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	v, err := s.engines.PoS.AddValidator(req.Name, req.Stake)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, v)
}

func (s *Server) handlePoSReset(w http.ResponseWriter, r *http.Request) {
	s.engines.PoS.Reset()
	writeMessage(w, nil, "PoS simulator has been reset")
}

func (s *Server) handleForkCreate(w http.ResponseWriter, r *http.Request) {
	event, err := s.engines.Fork.SimulateFork()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, event)
}

func (s *Server) handleForkResolve(w http.ResponseWriter, r *http.Request) {
	res, err := s.engines.Fork.Resolve()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, res, fmt.Sprintf("%s wins with %d blocks", res.Winner, res.WinnerLength))
}

func (s *Server) handleForkChains(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.engines.Fork.Chains())
}

func (s *Server) handleForkHistory(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.engines.Fork.History())
}

func (s *Server) handleForkTree(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprintln(w, s.engines.Fork.PlainTree())
}

func (s *Server) handleForkReset(w http.ResponseWriter, r *http.Request) {
	s.engines.Fork.Reset()
	writeMessage(w, nil, "Fork simulator has been reset")
}
