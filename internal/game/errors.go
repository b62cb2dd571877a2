package game

import "errors"

var (
	// ErrUnknownGame rejects bets on game kinds with no registered resolver.
	ErrUnknownGame = errors.New("game: unknown game")

	// ErrBetOutOfRange rejects stakes outside the configured min/max.
	ErrBetOutOfRange = errors.New("game: bet out of range")

	// ErrInvalidParams rejects malformed per-game parameters.
	ErrInvalidParams = errors.New("game: invalid params")

	// ErrRoundNotFound is returned for unknown round ids.
	ErrRoundNotFound = errors.New("game: round not found")

	// ErrMatchNotFound is returned for unknown tic-tac-toe matches.
	ErrMatchNotFound = errors.New("game: match not found")

	// ErrNotYourTurn rejects a tic-tac-toe move out of turn.
	ErrNotYourTurn = errors.New("game: not your turn")

	// ErrBadMove rejects an occupied or out-of-bounds cell.
	ErrBadMove = errors.New("game: bad move")

	// ErrMatchOver rejects moves on finished matches.
	ErrMatchOver = errors.New("game: match over")
)
