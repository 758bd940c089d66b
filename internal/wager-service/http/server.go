package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/radieske/lucky-wager-poc/internal/ledger"
	"github.com/radieske/lucky-wager-poc/internal/wager-service/dto"
	"github.com/radieske/lucky-wager-poc/internal/wager-service/replay"
	"github.com/radieske/lucky-wager-poc/internal/wager-service/submit"
	"github.com/radieske/lucky-wager-poc/internal/wager/instruction"
	"github.com/radieske/lucky-wager-poc/internal/wager/state"
)

type Submitter interface {
	Submit(ctx context.Context, st ledger.SignedTransaction) (*submit.Receipt, error)
}

type AccountReader interface {
	Get(ctx context.Context, key ledger.Pubkey) (*ledger.Account, error)
}

// WagerCache é versionado: SetWager só grava se a versão lida antes da
// consulta ao ledger ainda for a atual
type WagerCache interface {
	GetWager(ctx context.Context, pubkey string, dst any) (bool, error)
	Version(ctx context.Context, pubkey string) (int64, error)
	SetWager(ctx context.Context, pubkey string, version int64, v any) error
}

// Committer é implementado por fontes de entropia com compromisso publicado
type Committer interface {
	Commitment() string
}

// Faucet credita lamports em contas locais (só em ENV=local)
type Faucet func(ctx context.Context, key ledger.Pubkey, lamports uint64) (*ledger.Account, error)

// API expõe o ledger e o programa de apostas via REST
type API struct {
	Log       *zap.Logger
	Submit    Submitter
	Accounts  AccountReader
	Cache     WagerCache // opcional
	ProgramID ledger.Pubkey
	Funds     []ledger.Pubkey
	Committer Committer    // nil quando a entropia vem do relógio
	WS        http.Handler // opcional
	Faucet    Faucet       // nil desativa /v1/airdrop
}

func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/transactions", a.postTransaction)
	r.Get("/v1/accounts/{pubkey}", a.getAccount)
	r.Get("/v1/wagers/{pubkey}", a.getWager)
	r.Get("/v1/funds", a.getFunds)
	r.Get("/v1/entropy/commitment", a.getCommitment)
	if a.Faucet != nil {
		r.Post("/v1/airdrop", a.airdrop)
	}
	if a.WS != nil {
		r.Handle("/ws", a.WS)
	}
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, dto.ErrorResponse{Error: msg})
}

func (a *API) postTransaction(w http.ResponseWriter, r *http.Request) {
	var req dto.SubmitTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	st, err := req.ToSigned()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rcpt, err := a.Submit.Submit(r.Context(), st)
	if err != nil {
		a.writeSubmitError(w, err)
		return
	}

	resp := dto.TxResponse{
		Signature:   rcpt.Signature,
		ExecutionID: rcpt.Result.ID,
		Slot:        rcpt.Result.Clock.Slot,
		Logs:        rcpt.Result.Logs,
		Changes:     make([]dto.BalanceChange, 0, len(rcpt.Result.Changes)),
	}
	if rcpt.Instruction != nil {
		resp.Instruction = rcpt.Instruction.Tag().String()
	}
	for _, c := range rcpt.Result.Changes {
		resp.Changes = append(resp.Changes, dto.NewBalanceChange(c))
	}
	if rcpt.Record != nil {
		var key ledger.Pubkey
		var lamports uint64
		if idx := recordIndex(rcpt); idx >= 0 && idx < len(st.Accounts) {
			key = st.Accounts[idx].Pubkey
			for _, c := range rcpt.Result.Changes {
				if c.Key == key {
					lamports = c.Post
				}
			}
		}
		view := dto.NewWagerResponse(key, lamports, *rcpt.Record)
		if rcpt.Instruction.Tag() == instruction.TagPlayerWithdraw {
			view.Status = dto.WagerSettled
		}
		resp.Record = &view
	}
	writeJSON(w, http.StatusOK, resp)
}

// recordIndex devolve a posição do registro na lista de contas da instrução
func recordIndex(rcpt *submit.Receipt) int {
	if rcpt.Instruction == nil {
		return -1
	}
	switch rcpt.Instruction.Tag() {
	case instruction.TagPlay:
		return 2
	case instruction.TagPlayerWithdraw:
		return 1
	}
	return -1
}

func (a *API) writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrSignatureVerification):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, ledger.ErrDuplicateSignature):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrUnknownProgram):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, replay.ErrGuardFull):
		a.Log.Warn("replay guard full", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "busy, retry later")
	default:
		if pe, ok := ledger.AsProgramError(err); ok {
			code := pe.Code()
			writeJSON(w, http.StatusUnprocessableEntity, dto.ErrorResponse{Error: pe.Error(), Code: &code})
			return
		}
		if submit.IsClientError(err) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		a.Log.Error("submit failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (a *API) pubkeyParam(w http.ResponseWriter, r *http.Request) (ledger.Pubkey, bool) {
	k, err := ledger.ParsePubkey(chi.URLParam(r, "pubkey"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pubkey")
		return ledger.Pubkey{}, false
	}
	return k, true
}

func (a *API) getAccount(w http.ResponseWriter, r *http.Request) {
	key, ok := a.pubkeyParam(w, r)
	if !ok {
		return
	}
	acc, err := a.Accounts.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, dto.NewAccountResponse(acc))
}

// getWager devolve a visão decodificada do registro, preferencialmente do cache
func (a *API) getWager(w http.ResponseWriter, r *http.Request) {
	key, ok := a.pubkeyParam(w, r)
	if !ok {
		return
	}
	id := key.String()

	cacheable := false
	var version int64
	if a.Cache != nil {
		var cached dto.WagerResponse
		if hit, _ := a.Cache.GetWager(r.Context(), id, &cached); hit {
			writeJSON(w, http.StatusOK, cached)
			return
		}
		v, err := a.Cache.Version(r.Context(), id)
		if err != nil {
			a.Log.Warn("record cache version failed", zap.String("record", id), zap.Error(err))
		} else {
			cacheable, version = true, v
		}
	}

	acc, err := a.Accounts.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if acc.Owner != a.ProgramID {
		writeError(w, http.StatusUnprocessableEntity, "account not owned by wager program")
		return
	}
	rec, err := state.UnpackUnchecked(acc.Data)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "not a wager record")
		return
	}

	view := dto.NewWagerResponse(key, acc.Lamports, rec)
	if cacheable {
		if err := a.Cache.SetWager(r.Context(), id, version, view); err != nil {
			a.Log.Warn("record cache set failed", zap.String("record", id), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) getFunds(w http.ResponseWriter, r *http.Request) {
	out := make([]dto.FundsResponse, 0, len(a.Funds))
	for _, k := range a.Funds {
		var lamports uint64
		acc, err := a.Accounts.Get(r.Context(), k)
		switch {
		case err == nil:
			lamports = acc.Lamports
		case errors.Is(err, ledger.ErrAccountNotFound):
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out = append(out, dto.FundsResponse{Pubkey: k.String(), Lamports: lamports, SOL: dto.SOL(lamports).String()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) getCommitment(w http.ResponseWriter, _ *http.Request) {
	if a.Committer == nil {
		writeJSON(w, http.StatusOK, dto.CommitmentResponse{Source: "clock"})
		return
	}
	writeJSON(w, http.StatusOK, dto.CommitmentResponse{Source: "seeded", Commitment: a.Committer.Commitment()})
}

func (a *API) airdrop(w http.ResponseWriter, r *http.Request) {
	var req dto.AirdropRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	key, err := ledger.ParsePubkey(req.Pubkey)
	if err != nil || req.Lamports == 0 {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	acc, err := a.Faucet(r.Context(), key, req.Lamports)
	if err != nil {
		if errors.Is(err, ledger.ErrLamportOverflow) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, dto.NewAccountResponse(acc))
}
