/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"log"
	"strings"
	"time"
)

// Machine-readable reasons for rejected player actions. All of these are
// recoverable: they are sent privately to the offending connection and never
// broadcast, never fatal to the room.
const (
	reasonRoomNotFound   = "room_not_found"
	reasonRoomStarted    = "room_started"
	reasonAlreadyStarted = "already_started"
	reasonWrongLetter    = "wrong_letter"
	reasonNotFound       = "not_found"
	reasonAlreadyGuessed = "already_guessed"
	reasonNotYourTurn    = "not_your_turn"
	reasonInvalidConfig  = "invalid_config"
)

var reasonText = map[string]string{
	reasonRoomNotFound:   "That game no longer exists.",
	reasonRoomStarted:    "That game has already started, so new players can't join.",
	reasonAlreadyStarted: "The game has already started.",
	reasonWrongLetter:    "Your answer starts with the wrong letter.",
	reasonNotFound:       "That place isn't in our atlas.",
	reasonAlreadyGuessed: "That place has already been named.",
	reasonNotYourTurn:    "It's not your turn.",
	reasonInvalidConfig:  "Some of your game settings were out of range and have been adjusted.",
}

func errorMessage(reason string) ErrorMessage {
	return ErrorMessage{
		Type:    msgError,
		Reason:  reason,
		Message: reasonText[reason],
	}
}

func locationError(reason, message string) ErrorMessage {
	if message == "" {
		message = reasonText[reason]
	}

	return ErrorMessage{
		Type:    msgLocationError,
		Reason:  reason,
		Message: message,
	}
}

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

func newPage(title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(getFavicon())
	htmlBody.WriteString(`<style>`)
	htmlBody.WriteString(`html,body,a{display:block;height:100%;width:100%;text-decoration:none;color:inherit;cursor:auto;}</style>`)
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", title))
	htmlBody.WriteString(fmt.Sprintf("<body><a href=\"/\">%s</a></body></html>", body))

	return htmlBody.String()
}
