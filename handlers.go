package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"outpost/pkg/core"
	"outpost/pkg/game"
)

var errUnauthorized = errors.New("unauthorized")

func newRouter() *mux.Router {
	r := mux.NewRouter()

	// Player API
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/register", handleRegister).Methods("POST")
	api.HandleFunc("/status", handleStatus).Methods("GET")
	api.HandleFunc("/state", authed(handleState)).Methods("GET")
	api.HandleFunc("/upgrade", authed(handleUpgrade)).Methods("POST")
	api.HandleFunc("/train", authed(handleTrain)).Methods("POST")
	api.HandleFunc("/army/move", authed(handleMoveArmy)).Methods("POST")
	api.HandleFunc("/targets", authed(handleTargets)).Methods("GET")
	api.HandleFunc("/attack", authed(handleAttack)).Methods("POST")
	api.HandleFunc("/bonus", authed(handleBonus)).Methods("POST")
	api.HandleFunc("/reports/{id:[0-9]+}", authed(handleReport)).Methods("GET")

	// Push channel
	r.HandleFunc("/ws", authed(handleSocket)).Methods("GET")

	// Operator API
	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(middlewareAdmin)
	admin.HandleFunc("/grant", handleGrant).Methods("POST")
	admin.HandleFunc("/broadcast", handleBroadcast).Methods("POST")
	admin.HandleFunc("/players/{id:[0-9]+}", handleInspect).Methods("GET")
	admin.HandleFunc("/snapshot", handleSnapshot).Methods("POST")
	admin.HandleFunc("/verify", handleVerify).Methods("GET")

	return r
}

// --- Helpers ---

type authedHandler func(w http.ResponseWriter, r *http.Request, player int64)

// authed resolves the bearer token (or ?token= for sockets) to a player id.
func authed(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		// browsers cannot set headers on a socket handshake
		if tok == "" && websocket.IsWebSocketUpgrade(r) {
			tok = r.URL.Query().Get("token")
		}
		if tok == "" {
			writeError(w, errUnauthorized)
			return
		}
		p, err := db.FindPlayerByToken(r.Context(), core.HashToken(tok))
		if errors.Is(err, game.ErrNotFound) {
			writeError(w, errUnauthorized)
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r, p.ID)
	}
}

func middlewareAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if Config.AdminToken == "" || r.Header.Get("X-Admin-Token") != Config.AdminToken {
			writeError(w, errUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errBadRequest marks client payload problems.
type errBadRequest struct{ msg string }

func (e errBadRequest) Error() string { return e.msg }

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errBadRequest{msg: "invalid JSON: " + err.Error()}
	}
	return nil
}

// writeError maps engine errors onto status codes. Internal faults never leak their text.
func writeError(w http.ResponseWriter, err error) {
	var bad errBadRequest
	var pe *game.PreconditionError
	switch {
	case errors.As(err, &bad):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: bad.msg})
	case errors.Is(err, errUnauthorized):
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	case errors.Is(err, game.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not found"})
	case errors.As(err, &pe) && pe.Reason == game.ReasonOnCooldown:
		w.Header().Set("Retry-After", strconv.FormatInt(int64(pe.Remaining.Seconds()+0.999), 10))
		writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
			Error: pe.Error(), Reason: string(pe.Reason), RetryIn: int64(pe.Remaining.Seconds() + 0.999),
		})
	case errors.As(err, &pe):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: pe.Error(), Reason: string(pe.Reason)})
	case errors.Is(err, game.ErrPrecondition):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error()})
	default:
		Log.Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

// --- Player Handlers ---

func handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Name) > 32 {
		writeError(w, errBadRequest{msg: "name must be 1-32 characters"})
		return
	}
	token := uuid.NewString()
	p, err := engine.Register(r.Context(), req.Name, core.HashToken(token))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, RegisterResponse{PlayerID: p.ID, Token: token})
}

func handleStatus(w http.ResponseWriter, r *http.Request) {
	players, err := db.ListPlayers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	genesis, err := db.GenesisHash(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Players: len(players), CommandControl: Config.CommandControl, Genesis: genesis, Time: engine.Now(),
	})
}

func handleState(w http.ResponseWriter, r *http.Request, player int64) {
	defer db.Locks.Lock(player)()
	st, err := engine.State(r.Context(), player)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func handleUpgrade(w http.ResponseWriter, r *http.Request, player int64) {
	var req UpgradeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	defer db.Locks.Lock(player)()
	job, err := engine.StartUpgrade(r.Context(), player, req.Building)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func handleTrain(w http.ResponseWriter, r *http.Request, player int64) {
	var req TrainRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	defer db.Locks.Lock(player)()
	job, err := engine.StartTraining(r.Context(), player, req.Unit, req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func handleMoveArmy(w http.ResponseWriter, r *http.Request, player int64) {
	var req MoveRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var toActive bool
	switch req.To {
	case "active":
		toActive = true
	case "reserve":
	default:
		writeError(w, errBadRequest{msg: fmt.Sprintf("to must be active or reserve, got %q", req.To)})
		return
	}
	defer db.Locks.Lock(player)()
	p, err := engine.MoveArmy(r.Context(), player, req.Unit, req.Quantity, toActive)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p.Army)
}

func handleTargets(w http.ResponseWriter, r *http.Request, player int64) {
	list, err := engine.Targets(r.Context(), player)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]TargetView, 0, len(list))
	for _, p := range list {
		out = append(out, TargetView{ID: p.ID, Name: p.Name, AttackWins: p.AttackWins, DefenseWins: p.DefenseWins})
	}
	writeJSON(w, http.StatusOK, out)
}

func handleAttack(w http.ResponseWriter, r *http.Request, player int64) {
	var req AttackRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	defer db.Locks.Lock(player, req.TargetID)()
	out, err := engine.Attack(r.Context(), player, req.TargetID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func handleBonus(w http.ResponseWriter, r *http.Request, player int64) {
	defer db.Locks.Lock(player)()
	res, err := engine.ClaimBonus(r.Context(), player)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func handleReport(w http.ResponseWriter, r *http.Request, player int64) {
	rep, err := engine.Report(r.Context(), player, pathID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func handleSocket(w http.ResponseWriter, r *http.Request, player int64) {
	hub.Serve(w, r, player)
}

// --- Operator Handlers ---

func handleGrant(w http.ResponseWriter, r *http.Request) {
	var req GrantRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	defer db.Locks.Lock(req.PlayerID)()
	p, err := engine.GrantResources(r.Context(), req.PlayerID, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	Log.Info().Int64("player", req.PlayerID).Float64("amount", req.Amount).Msg("admin grant")
	writeJSON(w, http.StatusOK, p)
}

func handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" || len(msg) > maxBroadcastLen {
		writeError(w, errBadRequest{msg: fmt.Sprintf("message must be 1-%d bytes", maxBroadcastLen)})
		return
	}
	delivered, failed, err := broadcast(r.Context(), msg)
	if err != nil {
		writeError(w, err)
		return
	}
	Log.Info().Int("delivered", delivered).Int("failed", failed).Msg("admin broadcast")
	writeJSON(w, http.StatusOK, BroadcastResponse{Recipients: delivered + failed, Delivered: delivered, Failed: failed})
}

func handleInspect(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	defer db.Locks.Lock(id)()
	st, err := engine.State(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := db.SnapshotWorld(r.Context(), engine.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func handleVerify(w http.ResponseWriter, r *http.Request) {
	bad, ok, err := db.VerifyChain(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, VerifyResponse{OK: ok, BadDay: bad})
}

