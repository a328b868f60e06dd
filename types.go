package main

import "time"

// --- API Payloads ---

type RegisterRequest struct {
	Name string `json:"name"`
}

type RegisterResponse struct {
	PlayerID int64  `json:"player_id"`
	Token    string `json:"token"`
}

type UpgradeRequest struct {
	Building string `json:"building"`
}

type TrainRequest struct {
	Unit     string `json:"unit"`
	Quantity int    `json:"quantity"`
}

// MoveRequest shifts units between reserve and the active army. To is "active" or "reserve".
type MoveRequest struct {
	Unit     string `json:"unit"`
	Quantity int    `json:"quantity"`
	To       string `json:"to"`
}

type AttackRequest struct {
	TargetID int64 `json:"target_id"`
}

type GrantRequest struct {
	PlayerID int64   `json:"player_id"`
	Amount   float64 `json:"amount"`
}

type TargetView struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	AttackWins  int    `json:"attack_wins"`
	DefenseWins int    `json:"defense_wins"`
}

type StatusResponse struct {
	Players        int       `json:"players"`
	CommandControl bool      `json:"command_control"`
	Genesis        string    `json:"genesis"`
	Time           time.Time `json:"time"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Reason  string `json:"reason,omitempty"`
	RetryIn int64  `json:"retry_in_seconds,omitempty"`
}

type VerifyResponse struct {
	OK     bool  `json:"ok"`
	BadDay int64 `json:"bad_day,omitempty"`
}

type BroadcastRequest struct {
	Message string `json:"message"`
}

type BroadcastResponse struct {
	Recipients int `json:"recipients"`
	Delivered  int `json:"delivered"`
	Failed     int `json:"failed"`
}
