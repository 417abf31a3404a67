package mq

import "errors"

var (
	// ErrNoChannel — соединение ещё не открыло канал (идёт reconnect).
	ErrNoChannel = errors.New("no channel available")

	// ErrDiscard — handler отказался от сообщения: повтор не поможет,
	// сообщение уходит в DLQ вместо requeue.
	ErrDiscard = errors.New("message discarded")
)
